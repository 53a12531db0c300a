package esqueue

import (
	"errors"
	"fmt"

	"demux/pkg/bits"
	"demux/pkg/h264"
	"demux/pkg/media"
)

// MPEG-4 visual start codes.
const (
	mpeg4VOSStartCode   = 0xb0 // visual_object_sequence.
	mpeg4VisualObjStart = 0xb5
	mpeg4GOVStartCode   = 0xb3 // group_of_vop.
	mpeg4VOPStartCode   = 0xb6
)

// VOL parse errors.
var (
	ErrBadVOLHeader   = errors.New("esqueue: malformed VOL header")
	ErrNotRectangular = errors.New("esqueue: non-rectangular video object layer")
)

// dequeueMPEG4Video walks the visual bitstream hierarchy once to find
// the decoder config (everything before the first VOP), then flushes
// one access unit per VOP. The first access unit keeps the config bytes
// in front of it.
func (q *Queue) dequeueMPEG4Video() (*AccessUnit, error) {
	if q.format != nil {
		return q.dequeueVOP()
	}

	const (
		phaseSeekVOS = iota
		phaseExpectVisualObject
		phaseExpectVideoObject
		phaseExpectVOL
		phaseWaitVOP
	)
	phase := phaseSeekVOS
	var width, height int

	pos := 0
	for {
		i := nextStartCode(q.buf, pos)
		if i < 0 {
			return nil, nil
		}
		code := q.buf[i+3]

		switch phase {
		case phaseSeekVOS:
			if code == mpeg4VOSStartCode {
				if i > 0 {
					// Garbage before the stream start is dropped.
					if _, err := q.consume(i); err != nil {
						return nil, err
					}
					i = 0
				}
				phase = phaseExpectVisualObject
			}

		case phaseExpectVisualObject:
			if code != mpeg4VisualObjStart {
				return nil, fmt.Errorf(
					"expected visual_object, got %#02x: %w", code, media.ErrMalformed)
			}
			phase = phaseExpectVideoObject

		case phaseExpectVideoObject:
			if code > 0x1f {
				return nil, fmt.Errorf(
					"expected video_object, got %#02x: %w", code, media.ErrMalformed)
			}
			phase = phaseExpectVOL

		case phaseExpectVOL:
			if code < 0x20 || code > 0x2f {
				return nil, fmt.Errorf(
					"expected video_object_layer, got %#02x: %w", code, media.ErrMalformed)
			}
			var err error
			width, height, err = parseVOLDimensions(q.buf[i+4:])
			if err != nil {
				return nil, err
			}
			phase = phaseWaitVOP

		case phaseWaitVOP:
			if code == mpeg4VOPStartCode || code == mpeg4GOVStartCode {
				q.deriveMPEG4Format(q.buf[:i], width, height)
				return q.dequeueVOP()
			}
		}

		pos = i + 4
	}
}

// dequeueVOP flushes everything up to the second VOP or group boundary.
func (q *Queue) dequeueVOP() (*AccessUnit, error) {
	first := -1

	pos := 0
	for {
		i := nextStartCode(q.buf, pos)
		if i < 0 {
			return nil, nil
		}
		code := q.buf[i+3]

		if code == mpeg4VOPStartCode || code == mpeg4GOVStartCode {
			if first >= 0 {
				return q.flushVOP(first, i)
			}
			first = i
		}
		pos = i + 4
	}
}

func (q *Queue) flushVOP(vopStart, end int) (*AccessUnit, error) {
	au := &AccessUnit{Data: make([]byte, end)}
	copy(au.Data, q.buf[:end])

	// vop_coding_type zero is an intra VOP.
	if q.buf[vopStart+3] == mpeg4VOPStartCode && vopStart+4 < end {
		au.SyncFrame = q.buf[vopStart+4]>>6 == 0
	}

	timeUs, err := q.consume(end)
	if err != nil {
		return nil, err
	}
	au.TimeUs = timeUs
	return au, nil
}

func (q *Queue) deriveMPEG4Format(config []byte, width, height int) {
	meta := media.NewMetaData()
	meta.SetStr(media.KeyMIMEType, media.MIMEVideoMPEG4)
	meta.SetInt(media.KeyWidth, width)
	meta.SetInt(media.KeyHeight, height)

	blob := make([]byte, len(config))
	copy(blob, config)
	meta.SetBytes(media.KeyCodecConfig, blob)
	meta.SetBytes(media.KeyESDS, h264.MakeESDS(blob))

	q.format = meta
}

// parseVOLDimensions reads the video_object_layer header fields up to
// the 13-bit width and height, starting right after the start code.
func parseVOLDimensions(data []byte) (int, int, error) {
	pos := 0

	fail := func() (int, int, error) {
		return 0, 0, fmt.Errorf("%w: %w", ErrBadVOLHeader, media.ErrMalformed)
	}

	if _, err := bits.ReadBits(data, &pos, 1); err != nil { // random_accessible_vol.
		return fail()
	}
	if _, err := bits.ReadBits(data, &pos, 8); err != nil { // video_object_type_indication.
		return fail()
	}

	isIdentifier, err := bits.ReadFlag(data, &pos)
	if err != nil {
		return fail()
	}
	if isIdentifier {
		if _, err := bits.ReadBits(data, &pos, 7); err != nil { // verid + priority.
			return fail()
		}
	}

	aspectRatio, err := bits.ReadBits(data, &pos, 4)
	if err != nil {
		return fail()
	}
	if aspectRatio == 0x0f { // extended_PAR.
		if _, err := bits.ReadBits(data, &pos, 16); err != nil {
			return fail()
		}
	}

	volControl, err := bits.ReadFlag(data, &pos)
	if err != nil {
		return fail()
	}
	if volControl {
		if _, err := bits.ReadBits(data, &pos, 3); err != nil { // chroma_format + low_delay.
			return fail()
		}
		vbvParameters, err := bits.ReadFlag(data, &pos)
		if err != nil {
			return fail()
		}
		if vbvParameters {
			if _, err := bits.ReadBits(data, &pos, 79); err != nil {
				return fail()
			}
		}
	}

	shape, err := bits.ReadBits(data, &pos, 2)
	if err != nil {
		return fail()
	}
	if shape != 0 {
		return 0, 0, fmt.Errorf("%w: %w", ErrNotRectangular, media.ErrUnsupported)
	}

	if err := readMarkerBit(data, &pos); err != nil {
		return fail()
	}
	timeResolution, err := bits.ReadBits(data, &pos, 16)
	if err != nil {
		return fail()
	}
	if err := readMarkerBit(data, &pos); err != nil {
		return fail()
	}

	fixedVOPRate, err := bits.ReadFlag(data, &pos)
	if err != nil {
		return fail()
	}
	if fixedVOPRate {
		incrementBits := 0
		for r := int(timeResolution) - 1; r > 0; r >>= 1 {
			incrementBits++
		}
		if _, err := bits.ReadBits(data, &pos, incrementBits); err != nil {
			return fail()
		}
	}

	if err := readMarkerBit(data, &pos); err != nil {
		return fail()
	}
	width, err := bits.ReadBits(data, &pos, 13)
	if err != nil {
		return fail()
	}
	if err := readMarkerBit(data, &pos); err != nil {
		return fail()
	}
	height, err := bits.ReadBits(data, &pos, 13)
	if err != nil {
		return fail()
	}
	if err := readMarkerBit(data, &pos); err != nil {
		return fail()
	}

	return int(width), int(height), nil
}

func readMarkerBit(data []byte, pos *int) error {
	marker, err := bits.ReadFlag(data, pos)
	if err != nil {
		return err
	}
	if !marker {
		return fmt.Errorf("%w: %w", ErrBadVOLHeader, media.ErrMalformed)
	}
	return nil
}
