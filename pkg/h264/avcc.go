package h264

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// AVCC errors.
var (
	ErrAVCCNoSPSPPS = errors.New("no SPS/PPS found")
)

// AVCCNaluSizeTooBigError .
type AVCCNaluSizeTooBigError struct {
	NALUSize int
}

func (e AVCCNaluSizeTooBigError) Error() string {
	return fmt.Sprintf("NALU size (%d) is too big (maximum is %d)", e.NALUSize, MaxNALUSize)
}

// AVCConfig is a synthesized AVCDecoderConfigurationRecord plus the
// frame dimensions parsed from its SPS.
type AVCConfig struct {
	Record []byte
	Width  int
	Height int
}

// MakeAVCConfig scans an Annex-B buffer for SPS and PPS NAL units and
// packs them into an AVCDecoderConfigurationRecord with a 2-byte NAL
// length size.
func MakeAVCConfig(data []byte) (*AVCConfig, error) {
	var sps, pps []byte

	pos := 0
	for {
		nalu, ok := NextNALU(data, &pos)
		if !ok {
			break
		}
		if len(nalu) > MaxNALUSize {
			return nil, AVCCNaluSizeTooBigError{NALUSize: len(nalu)}
		}

		switch TypeOf(nalu) {
		case NALUTypeSPS:
			if sps == nil {
				sps = nalu
			}
		case NALUTypePPS:
			if pps == nil {
				pps = nalu
			}
		}

		if sps != nil && pps != nil {
			break
		}
	}

	if sps == nil || pps == nil {
		return nil, ErrAVCCNoSPSPPS
	}

	var parsed SPS
	if err := parsed.Unmarshal(sps); err != nil {
		return nil, fmt.Errorf("unmarshal sps: %w", err)
	}
	width, height, err := parsed.Dimensions()
	if err != nil {
		return nil, err
	}

	record := make([]byte, 0, 11+len(sps)+len(pps))
	record = append(record,
		1,                     // configurationVersion.
		parsed.ProfileIdc,     // AVCProfileIndication.
		parsed.ConstraintFlags, // profile_compatibility.
		parsed.LevelIdc,       // AVCLevelIndication.
		0xfc|1,                // lengthSizeMinusOne: 2-byte NAL lengths.
		0xe0|1,                // numOfSequenceParameterSets.
	)
	record = binary.BigEndian.AppendUint16(record, uint16(len(sps)))
	record = append(record, sps...)
	record = append(record, 1) // numOfPictureParameterSets.
	record = binary.BigEndian.AppendUint16(record, uint16(len(pps)))
	record = append(record, pps...)

	return &AVCConfig{Record: record, Width: width, Height: height}, nil
}
