package esqueue

import (
	"encoding/binary"
	"errors"
	"fmt"

	"demux/pkg/media"
)

var ErrBadAudioHeader = errors.New("esqueue: invalid mpeg audio frame header")

// Bitrates in kbit/s by version group, layer and 4-bit index.
var mpegAudioBitrates = map[[2]int][15]int{
	{1, 1}: {0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448},
	{1, 2}: {0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384},
	{1, 3}: {0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320},
	{2, 1}: {0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256},
	{2, 2}: {0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160},
	{2, 3}: {0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160},
}

var mpegAudioSampleRates = [3]int{44100, 48000, 32000}

type mpegAudioHeader struct {
	frameSize       int
	sampleRate      int
	channels        int
	samplesPerFrame int
}

// parseMPEGAudioHeader decodes a 4-byte MPEG audio (layer I-III) frame
// header and derives the full frame size.
func parseMPEGAudioHeader(raw uint32) (*mpegAudioHeader, error) {
	if raw&0xffe00000 != 0xffe00000 {
		return nil, fmt.Errorf("%w: %w", ErrBadAudioHeader, media.ErrMalformed)
	}

	versionBits := (raw >> 19) & 0x03
	if versionBits == 1 {
		return nil, fmt.Errorf("%w: %w", ErrBadAudioHeader, media.ErrMalformed)
	}
	mpeg1 := versionBits == 3

	layer := int(4 - (raw>>17)&0x03)
	if layer == 4 {
		return nil, fmt.Errorf("%w: %w", ErrBadAudioHeader, media.ErrMalformed)
	}

	bitrateIndex := (raw >> 12) & 0x0f
	if bitrateIndex == 0 || bitrateIndex == 0x0f {
		// Free-format and the reserved index are not supported.
		return nil, fmt.Errorf("%w: %w", ErrBadAudioHeader, media.ErrUnsupported)
	}

	srIndex := (raw >> 10) & 0x03
	if srIndex == 3 {
		return nil, fmt.Errorf("%w: %w", ErrBadAudioHeader, media.ErrMalformed)
	}

	h := &mpegAudioHeader{sampleRate: mpegAudioSampleRates[srIndex]}
	versionGroup := 1
	if !mpeg1 {
		versionGroup = 2
		h.sampleRate /= 2
		if versionBits == 0 { // MPEG-2.5.
			h.sampleRate /= 2
		}
	}

	bitrate := mpegAudioBitrates[[2]int{versionGroup, layer}][bitrateIndex] * 1000
	padding := int((raw >> 9) & 0x01)

	switch layer {
	case 1:
		h.frameSize = (12*bitrate/h.sampleRate + padding) * 4
		h.samplesPerFrame = 384
	case 2:
		h.frameSize = 144*bitrate/h.sampleRate + padding
		h.samplesPerFrame = 1152
	default: // Layer III.
		h.samplesPerFrame = 1152
		coefficient := 144
		if !mpeg1 {
			h.samplesPerFrame = 576
			coefficient = 72
		}
		h.frameSize = coefficient*bitrate/h.sampleRate + padding
	}

	h.channels = 2
	if (raw>>6)&0x03 == 3 {
		h.channels = 1
	}
	return h, nil
}

// dequeueMPEGAudio emits one whole frame, header included, per call.
func (q *Queue) dequeueMPEGAudio() (*AccessUnit, error) {
	if len(q.buf) < 4 {
		return nil, nil
	}

	header, err := parseMPEGAudioHeader(binary.BigEndian.Uint32(q.buf))
	if err != nil {
		return nil, err
	}
	if len(q.buf) < header.frameSize {
		return nil, nil
	}

	if q.format == nil {
		meta := media.NewMetaData()
		meta.SetStr(media.KeyMIMEType, media.MIMEAudioMPEG)
		meta.SetInt(media.KeySampleRate, header.sampleRate)
		meta.SetInt(media.KeyChannelCount, header.channels)
		q.format = meta
	}

	au := &AccessUnit{
		Data:      make([]byte, header.frameSize),
		SyncFrame: true,
	}
	copy(au.Data, q.buf)

	timeUs, err := q.consume(header.frameSize)
	if err != nil {
		return nil, err
	}
	au.TimeUs = timeUs
	return au, nil
}
