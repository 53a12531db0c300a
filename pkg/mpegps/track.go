package mpegps

import (
	"errors"

	"demux/pkg/media"
)

// TrackCount reports the number of streams whose format was derived
// during the construction scan.
func (e *Extractor) TrackCount() int {
	return len(e.exposed)
}

// Track returns track i. Sibling tracks share the demux cursor and
// must be read from one goroutine.
func (e *Extractor) Track(i int) media.Track {
	if i < 0 || i >= len(e.exposed) {
		return nil
	}
	return &track{extractor: e, stream: e.exposed[i]}
}

// TrackMetaData returns the format of track i.
func (e *Extractor) TrackMetaData(i int) *media.MetaData {
	if i < 0 || i >= len(e.exposed) {
		return nil
	}
	return e.exposed[i].queue.Format()
}

// MetaData returns container level metadata.
func (e *Extractor) MetaData() *media.MetaData {
	meta := media.NewMetaData()
	meta.SetStr(media.KeyMIMEType, media.MIMEContainerMPEG2PS)
	return meta
}

// track reads the access units of one elementary stream, driving the
// shared demux forward when its own queue runs dry. Seeking is not
// supported; reads are sequential only.
type track struct {
	extractor *Extractor
	stream    *stream

	started bool
}

func (t *track) Format() *media.MetaData {
	return t.stream.queue.Format()
}

func (t *track) Start() error {
	if t.started {
		return media.ErrAlreadyStarted
	}
	t.started = true
	return nil
}

func (t *track) Stop() error {
	t.started = false
	return nil
}

func (t *track) Read(opts *media.ReadOptions) (*media.Buffer, error) {
	if !t.started {
		return nil, media.ErrNotStarted
	}
	if opts != nil {
		if _, _, ok := opts.SeekTo(); ok {
			return nil, media.ErrUnsupported
		}
	}

	for len(t.stream.pending) == 0 {
		if t.stream.err != nil {
			return nil, t.stream.err
		}
		if err := t.extractor.feedMore(); err != nil {
			if errors.Is(err, media.ErrEndOfStream) {
				return nil, media.ErrEndOfStream
			}
			return nil, err
		}
	}

	au := t.stream.pending[0]
	t.stream.pending = t.stream.pending[1:]

	return &media.Buffer{
		Data:      au.Data,
		TimeUs:    au.TimeUs,
		SyncFrame: au.SyncFrame,
	}, nil
}
