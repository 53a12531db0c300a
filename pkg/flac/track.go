package flac

import (
	"errors"
	"fmt"
	"io"

	mewkiz "github.com/mewkiz/flac"

	"demux/pkg/media"
)

// track drives the decoder one frame per Read call.
type track struct {
	extractor *Extractor

	stream    *mewkiz.Stream
	samplePos int64
}

func (t *track) Format() *media.MetaData { return t.extractor.meta }

func (t *track) Start() error {
	if t.stream != nil {
		return media.ErrAlreadyStarted
	}

	reader := io.NewSectionReader(sourceReader{t.extractor.src}, 0, t.extractor.size)
	stream, err := mewkiz.NewSeek(reader)
	if err != nil {
		return fmt.Errorf("open decoder: %w: %w", err, media.ErrMalformed)
	}

	t.stream = stream
	t.samplePos = 0
	return nil
}

func (t *track) Stop() error {
	if t.stream == nil {
		return nil
	}
	err := t.stream.Close()
	t.stream = nil
	return err
}

// Read decodes exactly one FLAC frame into 16-bit PCM.
func (t *track) Read(opts *media.ReadOptions) (*media.Buffer, error) {
	if t.stream == nil {
		return nil, media.ErrNotStarted
	}

	if opts != nil {
		if seekTimeUs, _, ok := opts.SeekTo(); ok {
			if err := t.seekTo(seekTimeUs); err != nil {
				return nil, err
			}
		}
	}

	frame, err := t.stream.ParseNext()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, media.ErrEndOfStream
		}
		return nil, fmt.Errorf("decode frame: %w: %w", err, media.ErrMalformed)
	}

	channels := make([][]int32, len(frame.Subframes))
	for i, subframe := range frame.Subframes {
		channels[i] = subframe.Samples
	}
	pcm := pcm16FromSamples(channels, int(t.extractor.info.BitsPerSample))

	sampleRate := int64(t.extractor.info.SampleRate)
	buf := &media.Buffer{
		Data:      pcm,
		TimeUs:    t.samplePos * 1000000 / sampleRate,
		SyncFrame: true,
	}
	if len(channels) > 0 {
		t.samplePos += int64(len(channels[0]))
	}
	return buf, nil
}

// seekTo positions the decoder at the frame containing the requested
// time. The decoder reports the first sample of that frame back.
func (t *track) seekTo(timeUs int64) error {
	sample := timeUs * int64(t.extractor.info.SampleRate) / 1000000
	if sample < 0 {
		sample = 0
	}

	actual, err := t.stream.Seek(uint64(sample))
	if err != nil {
		return fmt.Errorf("seek to sample %d: %w: %w", sample, err, media.ErrMalformed)
	}
	t.samplePos = int64(actual)
	return nil
}
