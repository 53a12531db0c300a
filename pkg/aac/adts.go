// Package aac extracts AAC audio from raw ADTS streams.
package aac

import (
	"errors"
	"fmt"

	"demux/pkg/h264"
	"demux/pkg/media"
)

// Package errors.
var (
	ErrNoSyncword        = errors.New("adts: missing syncword")
	ErrBadHeader         = errors.New("adts: truncated header")
	ErrBadSampleRate     = errors.New("adts: invalid sample rate index")
	ErrMultipleRawBlocks = errors.New("adts: multiple raw data blocks per frame")
	ErrBadFrameLength    = errors.New("adts: invalid frame length")
)

var sampleRates = [13]int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// FrameHeader is one parsed ADTS frame header.
type FrameHeader struct {
	Profile         uint8 // 2-bit MPEG-4 audio object type minus one.
	SampleRateIndex uint8
	SampleRate      int
	ChannelConfig   uint8
	ChannelCount    int

	// HeaderSize is 7, or 9 when a CRC is present.
	HeaderSize int

	// FrameLength is the full frame size including the header.
	FrameLength int
}

// ParseFrameHeader decodes the ADTS header at the start of data.
func ParseFrameHeader(data []byte) (*FrameHeader, error) {
	if len(data) < 7 {
		return nil, fmt.Errorf("%w: %w", ErrBadHeader, media.ErrMalformed)
	}

	if data[0] != 0xff || data[1]&0xf6 != 0xf0 {
		return nil, fmt.Errorf("%w: %w", ErrNoSyncword, media.ErrMalformed)
	}

	h := &FrameHeader{}

	protectionAbsent := data[1]&0x01 != 0
	h.HeaderSize = 7
	if !protectionAbsent {
		h.HeaderSize = 9
	}

	h.Profile = data[2] >> 6
	h.SampleRateIndex = (data[2] >> 2) & 0x0f
	if h.SampleRateIndex >= uint8(len(sampleRates)) {
		return nil, fmt.Errorf("%w: %d: %w", ErrBadSampleRate, h.SampleRateIndex, media.ErrMalformed)
	}
	h.SampleRate = sampleRates[h.SampleRateIndex]

	h.ChannelConfig = ((data[2] & 0x01) << 2) | (data[3] >> 6)
	h.ChannelCount = int(h.ChannelConfig)
	if h.ChannelConfig == 7 {
		h.ChannelCount = 8
	}

	h.FrameLength = int(uint32(data[3]&0x03)<<11 | uint32(data[4])<<3 | uint32(data[5])>>5)
	if h.FrameLength < h.HeaderSize {
		return nil, fmt.Errorf("%w: %d: %w", ErrBadFrameLength, h.FrameLength, media.ErrMalformed)
	}

	if data[6]&0x03 != 0 {
		return nil, fmt.Errorf("%w: %w", ErrMultipleRawBlocks, media.ErrUnsupported)
	}

	return h, nil
}

// MakeCodecConfig synthesizes the two-byte AudioSpecificConfig and wraps
// it into an ES_Descriptor payload.
func MakeCodecConfig(profile, sampleRateIndex, channelConfig uint8) []byte {
	csd := []byte{
		(profile+1)<<3 | sampleRateIndex>>1,
		sampleRateIndex<<7 | channelConfig<<3,
	}
	return h264.MakeESDS(csd)
}

// Sniff matches an ADTS frame header at the start of the stream.
func Sniff(src media.DataSource) (string, float32, bool) {
	header := make([]byte, 7)
	if err := media.ReadFullAt(src, header, 0); err != nil {
		return "", 0, false
	}
	if _, err := ParseFrameHeader(header); err != nil {
		return "", 0, false
	}
	return media.MIMEContainerAACADTS, 0.2, true
}

// Extractor reads one AAC track from an ADTS stream.
type Extractor struct {
	src  media.DataSource
	meta *media.MetaData

	first        FrameHeader
	frameOffsets []int64
	durationUs   int64
}

// NewExtractor parses the stream and builds the frame offset table.
func NewExtractor(src media.DataSource) (*Extractor, error) {
	size, err := src.Size()
	if err != nil {
		return nil, err
	}

	e := &Extractor{src: src}

	header := make([]byte, 7)
	offset := int64(0)
	for offset+7 <= size {
		if err := media.ReadFullAt(src, header, offset); err != nil {
			return nil, err
		}
		h, err := ParseFrameHeader(header)
		if err != nil {
			return nil, err
		}
		if e.frameOffsets == nil {
			e.first = *h
		}
		if offset+int64(h.FrameLength) > size {
			break // Truncated final frame.
		}
		e.frameOffsets = append(e.frameOffsets, offset)
		offset += int64(h.FrameLength)
	}

	if len(e.frameOffsets) == 0 {
		return nil, fmt.Errorf("adts: no frames: %w", media.ErrMalformed)
	}

	sr := int64(e.first.SampleRate)
	e.durationUs = (int64(len(e.frameOffsets))*1024*1000000 + sr - 1) / sr

	meta := media.NewMetaData()
	meta.SetStr(media.KeyMIMEType, media.MIMEAudioAAC)
	meta.SetInt(media.KeySampleRate, e.first.SampleRate)
	meta.SetInt(media.KeyChannelCount, e.first.ChannelCount)
	meta.SetInt64(media.KeyDurationUs, e.durationUs)
	meta.SetBytes(media.KeyESDS,
		MakeCodecConfig(e.first.Profile, e.first.SampleRateIndex, e.first.ChannelConfig))
	e.meta = meta

	return e, nil
}

// TrackCount implements media.Extractor.
func (e *Extractor) TrackCount() int { return 1 }

// TrackMetaData implements media.Extractor.
func (e *Extractor) TrackMetaData(i int) *media.MetaData {
	if i != 0 {
		return nil
	}
	return e.meta
}

// MetaData implements media.Extractor.
func (e *Extractor) MetaData() *media.MetaData {
	meta := media.NewMetaData()
	meta.SetStr(media.KeyMIMEType, media.MIMEContainerAACADTS)
	return meta
}

// Track implements media.Extractor.
func (e *Extractor) Track(i int) media.Track {
	if i != 0 {
		return nil
	}
	return &track{extractor: e}
}

type track struct {
	extractor *Extractor
	started   bool
	pool      *media.BufferPool

	frameIndex int
}

func (t *track) Format() *media.MetaData { return t.extractor.meta }

func (t *track) Start() error {
	if t.started {
		return media.ErrAlreadyStarted
	}
	t.started = true
	t.pool = media.NewBufferPool(1)
	t.frameIndex = 0
	return nil
}

func (t *track) Stop() error {
	if !t.started {
		return media.ErrNotStarted
	}
	t.started = false
	t.pool = nil
	return nil
}

func (t *track) Read(opts *media.ReadOptions) (*media.Buffer, error) {
	if !t.started {
		return nil, media.ErrNotStarted
	}

	e := t.extractor

	if opts != nil {
		if timeUs, _, ok := opts.SeekTo(); ok {
			frameDurationUs := 1024 * 1000000 / int64(e.first.SampleRate)
			frameIndex := timeUs / frameDurationUs
			if frameIndex > int64(len(e.frameOffsets)) {
				frameIndex = int64(len(e.frameOffsets))
			}
			t.frameIndex = int(frameIndex)
		}
	}

	if t.frameIndex >= len(e.frameOffsets) {
		return nil, media.ErrEndOfStream
	}

	offset := e.frameOffsets[t.frameIndex]
	header := make([]byte, 7)
	if err := media.ReadFullAt(e.src, header, offset); err != nil {
		return nil, err
	}
	h, err := ParseFrameHeader(header)
	if err != nil {
		return nil, err
	}

	buf := t.pool.Get(h.FrameLength - h.HeaderSize)
	if err := media.ReadFullAt(e.src, buf.Data, offset+int64(h.HeaderSize)); err != nil {
		buf.Release()
		return nil, err
	}
	buf.TimeUs = int64(t.frameIndex) * 1024 * 1000000 / int64(e.first.SampleRate)
	buf.SyncFrame = true

	t.frameIndex++
	return buf, nil
}
