package h264

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/icza/bitio"
)

func readGolombUnsigned(br *bitio.Reader) (uint32, error) {
	leadingZeroBits := uint32(0)

	for {
		b, err := br.ReadBits(1)
		if err != nil {
			return 0, err
		}

		if b != 0 {
			break
		}

		leadingZeroBits++
		if leadingZeroBits > 31 {
			return 0, ErrSPSBufferTooShort
		}
	}

	codeNum := uint32(0)

	for n := leadingZeroBits; n > 0; n-- {
		b, err := br.ReadBits(1)
		if err != nil {
			return 0, err
		}

		codeNum |= uint32(b) << (n - 1)
	}

	codeNum = (1 << leadingZeroBits) - 1 + codeNum

	return codeNum, nil
}

func readGolombSigned(br *bitio.Reader) (int32, error) {
	v, err := readGolombUnsigned(br)
	if err != nil {
		return 0, err
	}
	vi := int32(v)

	if (vi & 0x01) != 0 {
		return (vi + 1) / 2, nil
	}

	return -vi / 2, nil
}

func readFlag(br *bitio.Reader) (bool, error) {
	tmp, err := br.ReadBits(1)
	if err != nil {
		return false, err
	}

	return (tmp == 1), nil
}

func skipScalingList(br *bitio.Reader, size int) error {
	lastScale := int32(8)
	nextScale := int32(8)

	for j := 0; j < size; j++ {
		if nextScale != 0 {
			deltaScale, err := readGolombSigned(br)
			if err != nil {
				return err
			}

			nextScale = (lastScale + deltaScale + 256) % 256
		}

		if nextScale != 0 {
			lastScale = nextScale
		}
	}

	return nil
}

// SpsFramecropping is the frame cropping part of a SPS.
type SpsFramecropping struct {
	LeftOffset   uint32
	RightOffset  uint32
	TopOffset    uint32
	BottomOffset uint32
}

func (c *SpsFramecropping) unmarshal(br *bitio.Reader) error {
	var err error
	c.LeftOffset, err = readGolombUnsigned(br)
	if err != nil {
		return err
	}

	c.RightOffset, err = readGolombUnsigned(br)
	if err != nil {
		return err
	}

	c.TopOffset, err = readGolombUnsigned(br)
	if err != nil {
		return err
	}

	c.BottomOffset, err = readGolombUnsigned(br)
	if err != nil {
		return err
	}

	return nil
}

// SPS holds the fields of an H264 sequence parameter set needed to
// derive frame dimensions and build configuration records.
type SPS struct {
	ProfileIdc        uint8
	ConstraintFlags   uint8 // constraint_setX flags plus reserved bits.
	LevelIdc          uint8
	ID                uint32
	ChromaFormatIdc   uint32
	PicWidthInMbs     uint32
	PicHeightInMbs    uint32
	FrameMbsOnlyFlag  bool
	FrameCropping     *SpsFramecropping
}

// SPS errors.
var (
	ErrSPSBufferTooShort = errors.New("buffer too short")
	ErrSPSWrongType      = errors.New("not a SPS")
	ErrSPSCroppingRange  = errors.New("cropping larger than frame")
)

// Unmarshal decodes the dimension-relevant prefix of a SPS NAL unit.
func (s *SPS) Unmarshal(buf []byte) error { //nolint:funlen
	buf = RemoveEmulationPrevention(buf)

	if len(buf) < 4 {
		return ErrSPSBufferTooShort
	}

	if TypeOf(buf) != NALUTypeSPS {
		return ErrSPSWrongType
	}

	s.ProfileIdc = buf[1]
	s.ConstraintFlags = buf[2]
	s.LevelIdc = buf[3]

	r := bytes.NewReader(buf[4:])
	br := bitio.NewReader(r)

	var err error
	s.ID, err = readGolombUnsigned(br)
	if err != nil {
		return err
	}

	s.ChromaFormatIdc = 1 // 4:2:0 unless stated.
	switch s.ProfileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		err = s.unmarshalHighProfile(br)
		if err != nil {
			return err
		}
	}

	// log2_max_frame_num_minus4.
	if _, err := readGolombUnsigned(br); err != nil {
		return err
	}

	picOrderCntType, err := readGolombUnsigned(br)
	if err != nil {
		return err
	}

	err = skipPicOrderCnt(br, picOrderCntType)
	if err != nil {
		return err
	}

	// max_num_ref_frames.
	if _, err := readGolombUnsigned(br); err != nil {
		return err
	}

	// gaps_in_frame_num_value_allowed_flag.
	if _, err := readFlag(br); err != nil {
		return err
	}

	picWidthInMbsMinus1, err := readGolombUnsigned(br)
	if err != nil {
		return err
	}
	s.PicWidthInMbs = picWidthInMbsMinus1 + 1

	picHeightInMbsMinus1, err := readGolombUnsigned(br)
	if err != nil {
		return err
	}
	s.PicHeightInMbs = picHeightInMbsMinus1 + 1

	s.FrameMbsOnlyFlag, err = readFlag(br)
	if err != nil {
		return err
	}

	if !s.FrameMbsOnlyFlag {
		// mb_adaptive_frame_field_flag.
		if _, err := readFlag(br); err != nil {
			return err
		}
	}

	// direct_8x8_inference_flag.
	if _, err := readFlag(br); err != nil {
		return err
	}

	frameCroppingFlag, err := readFlag(br)
	if err != nil {
		return err
	}

	s.FrameCropping = nil
	if frameCroppingFlag {
		s.FrameCropping = &SpsFramecropping{}
		err := s.FrameCropping.unmarshal(br)
		if err != nil {
			return err
		}
	}

	_, _, err = s.Dimensions()
	return err
}

func (s *SPS) unmarshalHighProfile(br *bitio.Reader) error {
	var err error
	s.ChromaFormatIdc, err = readGolombUnsigned(br)
	if err != nil {
		return err
	}

	if s.ChromaFormatIdc == 3 {
		// separate_colour_plane_flag.
		if _, err := readFlag(br); err != nil {
			return err
		}
	}

	// bit_depth_luma_minus8, bit_depth_chroma_minus8.
	if _, err := readGolombUnsigned(br); err != nil {
		return err
	}
	if _, err := readGolombUnsigned(br); err != nil {
		return err
	}

	// qpprime_y_zero_transform_bypass_flag.
	if _, err := readFlag(br); err != nil {
		return err
	}

	seqScalingMatrixPresentFlag, err := readFlag(br)
	if err != nil {
		return err
	}

	if seqScalingMatrixPresentFlag {
		lim := 8
		if s.ChromaFormatIdc == 3 {
			lim = 12
		}

		for i := 0; i < lim; i++ {
			seqScalingListPresentFlag, err := readFlag(br)
			if err != nil {
				return err
			}

			if seqScalingListPresentFlag {
				size := 16
				if i >= 6 {
					size = 64
				}
				if err := skipScalingList(br, size); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func skipPicOrderCnt(br *bitio.Reader, picOrderCntType uint32) error {
	switch picOrderCntType {
	case 0:
		// log2_max_pic_order_cnt_lsb_minus4.
		_, err := readGolombUnsigned(br)
		return err

	case 1:
		// delta_pic_order_always_zero_flag.
		if _, err := readFlag(br); err != nil {
			return err
		}

		// offset_for_non_ref_pic, offset_for_top_to_bottom_field.
		if _, err := readGolombSigned(br); err != nil {
			return err
		}
		if _, err := readGolombSigned(br); err != nil {
			return err
		}

		numRefFramesInPicOrderCntCycle, err := readGolombUnsigned(br)
		if err != nil {
			return err
		}

		for i := uint32(0); i < numRefFramesInPicOrderCntCycle; i++ {
			if _, err := readGolombSigned(br); err != nil {
				return err
			}
		}
	}
	return nil
}

// Dimensions returns the cropped pixel width and height.
func (s *SPS) Dimensions() (int, int, error) {
	width := s.PicWidthInMbs * 16
	height := s.PicHeightInMbs * 16
	if !s.FrameMbsOnlyFlag {
		height *= 2
	}

	if s.FrameCropping == nil {
		return int(width), int(height), nil
	}

	// Crop offsets are in chroma samples except for monochrome.
	cropUnitX := uint32(1)
	cropUnitY := uint32(1)
	switch s.ChromaFormatIdc {
	case 0:
	case 1:
		cropUnitX, cropUnitY = 2, 2
	case 2:
		cropUnitX, cropUnitY = 2, 1
	case 3:
		cropUnitX, cropUnitY = 1, 1
	}
	if !s.FrameMbsOnlyFlag {
		cropUnitY *= 2
	}

	cropX := (s.FrameCropping.LeftOffset + s.FrameCropping.RightOffset) * cropUnitX
	cropY := (s.FrameCropping.TopOffset + s.FrameCropping.BottomOffset) * cropUnitY
	if cropX >= width || cropY >= height {
		return 0, 0, fmt.Errorf("%w: %dx%d from %dx%d", ErrSPSCroppingRange, cropX, cropY, width, height)
	}

	return int(width - cropX), int(height - cropY), nil
}
