package esqueue

import (
	"errors"

	"demux/pkg/aac"
	"demux/pkg/media"
)

// dequeueAAC strips the headers of every complete ADTS frame currently
// buffered and concatenates the payloads into one access unit. The
// stream format is captured from the first frame header.
func (q *Queue) dequeueAAC() (*AccessUnit, error) {
	offset := 0
	var payload []byte
	var first *aac.FrameHeader

	for offset+7 <= len(q.buf) {
		header, err := aac.ParseFrameHeader(q.buf[offset:])
		if err != nil {
			if errors.Is(err, media.ErrUnsupported) || offset == 0 {
				return nil, err
			}
			// Trailing junk after at least one good frame; flush what
			// we have and fail on the next call.
			break
		}
		if offset+header.FrameLength > len(q.buf) {
			break
		}

		payload = append(payload, q.buf[offset+header.HeaderSize:offset+header.FrameLength]...)
		if first == nil {
			first = header
		}
		offset += header.FrameLength
	}

	if first == nil {
		return nil, nil
	}

	if q.format == nil {
		meta := media.NewMetaData()
		meta.SetStr(media.KeyMIMEType, media.MIMEAudioAAC)
		meta.SetInt(media.KeySampleRate, first.SampleRate)
		meta.SetInt(media.KeyChannelCount, first.ChannelCount)
		meta.SetBytes(media.KeyESDS,
			aac.MakeCodecConfig(first.Profile, first.SampleRateIndex, first.ChannelConfig))
		q.format = meta
	}

	timeUs, err := q.consume(offset)
	if err != nil {
		return nil, err
	}
	return &AccessUnit{Data: payload, TimeUs: timeUs, SyncFrame: true}, nil
}
