package esqueue

import (
	"errors"
	"fmt"

	"demux/pkg/bits"
	"demux/pkg/h264"
	"demux/pkg/media"
)

var errSliceHeader = errors.New("esqueue: truncated slice header")

var naluStartCode = []byte{0x00, 0x00, 0x00, 0x01}

type nalPosition struct {
	start int
	end   int
}

// dequeueH264 collects NAL units until one that opens a new access
// unit arrives, then flushes everything before it. A slice NAL with
// first_mb_in_slice zero following a prior slice opens a new unit, as
// does an access unit delimiter or SPS following a prior slice.
func (q *Queue) dequeueH264() (*AccessUnit, error) {
	var nals []nalPosition
	totalSize := 0
	foundSlice := false

	pos := 0
	for {
		start, end, terminated, ok := h264.NextNALURange(q.buf, &pos)
		if !ok || !terminated {
			// A tail NAL with no following start code may still be
			// growing across PES packets. Leave it buffered.
			return nil, nil
		}
		nalu := q.buf[start:end]

		flush := false
		switch h264.TypeOf(nalu) {
		case h264.NALUTypeNonIDR, h264.NALUTypeIDR:
			if foundSlice {
				firstMB, err := parseFirstMBInSlice(nalu)
				if err != nil {
					return nil, err
				}
				flush = firstMB == 0
			}
			foundSlice = true

		case h264.NALUTypeAccessUnitDelimiter, h264.NALUTypeSPS:
			flush = foundSlice
		}

		if flush {
			return q.flushH264(nals, totalSize)
		}

		nals = append(nals, nalPosition{start: start, end: end})
		totalSize += end - start
	}
}

// flushH264 emits the collected NAL units as one start-code delimited
// access unit and consumes their bytes, leaving the opening NAL of the
// next unit buffered.
func (q *Queue) flushH264(nals []nalPosition, totalSize int) (*AccessUnit, error) {
	if len(nals) == 0 {
		return nil, fmt.Errorf("h264 access unit boundary before any NAL: %w", media.ErrMalformed)
	}

	au := &AccessUnit{Data: make([]byte, 0, len(nals)*len(naluStartCode)+totalSize)}
	for _, nal := range nals {
		au.Data = append(au.Data, naluStartCode...)
		au.Data = append(au.Data, q.buf[nal.start:nal.end]...)

		if h264.TypeOf(q.buf[nal.start:nal.end]) == h264.NALUTypeIDR {
			au.SyncFrame = true
		}
	}

	timeUs, err := q.consume(nals[len(nals)-1].end)
	if err != nil {
		return nil, err
	}
	au.TimeUs = timeUs

	if q.format == nil {
		q.deriveH264Format(au.Data)
	}
	return au, nil
}

// deriveH264Format builds the track format from the SPS/PPS of the
// first flushed access unit. Units before the parameter sets leave the
// format unset.
func (q *Queue) deriveH264Format(au []byte) {
	config, err := h264.MakeAVCConfig(au)
	if err != nil {
		return
	}

	meta := media.NewMetaData()
	meta.SetStr(media.KeyMIMEType, media.MIMEVideoAVC)
	meta.SetInt(media.KeyWidth, config.Width)
	meta.SetInt(media.KeyHeight, config.Height)
	meta.SetBytes(media.KeyAVCC, config.Record)
	q.format = meta
}

// parseFirstMBInSlice reads the leading Exp-Golomb field of a slice
// header.
func parseFirstMBInSlice(nalu []byte) (uint32, error) {
	header := nalu
	if len(header) > 8 {
		header = header[:8]
	}
	payload := h264.RemoveEmulationPrevention(header[1:])

	pos := 0
	leadingZeros := 0
	for {
		bit, err := bits.ReadFlag(payload, &pos)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", errSliceHeader, media.ErrMalformed)
		}
		if bit {
			break
		}
		leadingZeros++
		if leadingZeros > 31 {
			return 0, fmt.Errorf("%w: %w", errSliceHeader, media.ErrMalformed)
		}
	}

	value, err := bits.ReadBits(payload, &pos, leadingZeros)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errSliceHeader, media.ErrMalformed)
	}
	return uint32((1 << leadingZeros) - 1 + value), nil
}
