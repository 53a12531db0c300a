package avi

import (
	"bytes"
	"errors"
	"fmt"

	"demux/pkg/h264"
	"demux/pkg/media"
)

// Codec config errors.
var (
	ErrNoVOPStart = errors.New("avi: no VOP start code in first sample")
	ErrNoSyncByte = errors.New("avi: first sample is empty")
)

// TrackCount reports the number of streams with a recognized codec.
func (e *Extractor) TrackCount() int {
	return len(e.exposed)
}

// Track returns a reader over stream i.
func (e *Extractor) Track(i int) media.Track {
	if i < 0 || i >= len(e.exposed) {
		return nil
	}
	return &trackReader{extractor: e, track: e.exposed[i]}
}

// TrackMetaData returns the per-stream format. Codec specific data is
// synthesized from the stream on first use.
func (e *Extractor) TrackMetaData(i int) *media.MetaData {
	if i < 0 || i >= len(e.exposed) {
		return nil
	}
	track := e.exposed[i]
	e.ensureCodecConfig(track)
	return track.meta
}

// MetaData returns container level metadata.
func (e *Extractor) MetaData() *media.MetaData {
	meta := media.NewMetaData()
	meta.SetStr(media.KeyMIMEType, media.MIMEContainerAVI)
	return meta
}

// buildTrackMeta fills the format fields known from the headers alone.
func (t *aviTrack) buildTrackMeta() {
	meta := media.NewMetaData()
	meta.SetStr(media.KeyMIMEType, t.mime)
	meta.SetInt64(media.KeyDurationUs, t.durationUs())

	switch t.kind {
	case trackVideo:
		meta.SetInt(media.KeyWidth, t.width)
		meta.SetInt(media.KeyHeight, t.height)
	case trackAudio:
		meta.SetInt(media.KeyChannelCount, t.channels)
		meta.SetInt(media.KeySampleRate, t.audioRate)
	}
	t.meta = meta
}

// ensureCodecConfig extracts codec specific data from the first media
// sample for formats that need it. Runs at most once per track; a
// track whose config cannot be synthesized keeps its header-only
// format.
func (e *Extractor) ensureCodecConfig(track *aviTrack) {
	if track.configDone {
		return
	}
	track.configDone = true

	switch track.mime {
	case media.MIMEVideoMPEG4:
		track.configErr = e.addMPEG4CodecConfig(track)
	case media.MIMEVideoAVC:
		track.configErr = e.addAVCCodecConfig(track)
	}
}

// addMPEG4CodecConfig takes everything before the first VOP start code
// of the first sample as the decoder config.
func (e *Extractor) addMPEG4CodecConfig(track *aviTrack) error {
	sample, err := e.readFirstSample(track)
	if err != nil {
		return err
	}

	vopStart := []byte{0x00, 0x00, 0x01, 0xb6}
	end := bytes.Index(sample, vopStart)
	if end < 0 {
		return fmt.Errorf("%w: %w", ErrNoVOPStart, media.ErrMalformed)
	}

	config := make([]byte, end)
	copy(config, sample[:end])
	track.meta.SetBytes(media.KeyCodecConfig, config)
	track.meta.SetBytes(media.KeyESDS, h264.MakeESDS(config))
	return nil
}

// addAVCCodecConfig finds SPS and PPS in the first sample and packs
// them into an AVC decoder configuration record.
func (e *Extractor) addAVCCodecConfig(track *aviTrack) error {
	sample, err := e.readFirstSample(track)
	if err != nil {
		return err
	}

	avcc, err := h264.MakeAVCConfig(sample)
	if err != nil {
		return err
	}
	track.meta.SetBytes(media.KeyAVCC, avcc.Record)

	// The SPS dimensions are authoritative over BITMAPINFOHEADER.
	track.meta.SetInt(media.KeyWidth, avcc.Width)
	track.meta.SetInt(media.KeyHeight, avcc.Height)
	return nil
}

// readFirstSample returns the payload of the first non-empty sample.
func (e *Extractor) readFirstSample(track *aviTrack) ([]byte, error) {
	for _, sample := range track.samples {
		if sample.size == 0 {
			continue
		}
		data := make([]byte, sample.size)
		if err := media.ReadFullAt(e.src, data, sample.offset+8); err != nil {
			return nil, err
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrNoSyncByte, media.ErrMalformed)
}

// trackReader iterates the samples of one stream.
type trackReader struct {
	extractor *Extractor
	track     *aviTrack

	started bool
	index   int
	pool    *media.BufferPool
}

func (r *trackReader) Format() *media.MetaData {
	r.extractor.ensureCodecConfig(r.track)
	return r.track.meta
}

func (r *trackReader) Start() error {
	if r.started {
		return media.ErrAlreadyStarted
	}
	r.extractor.ensureCodecConfig(r.track)
	if r.track.configErr != nil {
		return r.track.configErr
	}
	r.started = true
	r.index = 0
	r.pool = media.NewBufferPool(2)
	return nil
}

func (r *trackReader) Stop() error {
	if !r.started {
		return media.ErrNotStarted
	}
	r.started = false
	r.pool = nil
	return nil
}

func (r *trackReader) Read(opts *media.ReadOptions) (*media.Buffer, error) {
	if !r.started {
		return nil, media.ErrNotStarted
	}

	if opts != nil {
		if seekTimeUs, mode, ok := opts.SeekTo(); ok {
			r.index = r.track.seekIndex(seekTimeUs, mode)
		}
	}

	if r.index >= len(r.track.samples) {
		return nil, media.ErrEndOfStream
	}
	sample := r.track.samples[r.index]

	buf := r.pool.Get(int(sample.size))
	if err := media.ReadFullAt(r.extractor.src, buf.Data, sample.offset+8); err != nil {
		buf.Release()
		return nil, err
	}

	buf.TimeUs = r.track.sampleTimeUs(r.index)
	buf.SyncFrame = sample.isKey
	r.index++
	return buf, nil
}

// seekIndex maps a seek request to a sample index, honoring the sync
// mode for video streams.
func (t *aviTrack) seekIndex(timeUs int64, mode media.SeekMode) int {
	index := t.sampleIndexForTime(timeUs)
	if index >= len(t.samples) {
		index = len(t.samples) - 1
	}
	if index < 0 {
		index = 0
	}
	if t.kind != trackVideo || mode == media.SeekClosest {
		return index
	}

	prev := index
	for prev > 0 && !t.samples[prev].isKey {
		prev--
	}

	next := index
	for next < len(t.samples)-1 && !t.samples[next].isKey {
		next++
	}
	if !t.samples[next].isKey {
		next = prev
	}

	switch mode {
	case media.SeekPreviousSync:
		return prev
	case media.SeekNextSync:
		return next
	default: // SeekClosestSync
		if index-prev <= next-index {
			return prev
		}
		return next
	}
}
