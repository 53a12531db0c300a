// Package wav extracts PCM, A-law and µ-law audio from RIFF/WAVE files.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"demux/pkg/media"
)

// Package errors.
var (
	ErrNotRIFF        = errors.New("wav: not a RIFF/WAVE file")
	ErrNoFormatChunk  = errors.New("wav: missing fmt chunk")
	ErrNoDataChunk    = errors.New("wav: missing data chunk")
	ErrBadFormatChunk = errors.New("wav: fmt chunk too short")
	ErrBadChannels    = errors.New("wav: invalid channel count")
	ErrBadSampleRate  = errors.New("wav: invalid sample rate")
)

// UnsupportedFormatError .
type UnsupportedFormatError struct {
	FormatTag uint16
}

func (e UnsupportedFormatError) Error() string {
	return fmt.Sprintf("wav: unsupported format tag 0x%04x", e.FormatTag)
}

func (e UnsupportedFormatError) Unwrap() error { return media.ErrUnsupported }

// UnsupportedBitDepthError .
type UnsupportedBitDepthError struct {
	Bits uint16
}

func (e UnsupportedBitDepthError) Error() string {
	return fmt.Sprintf("wav: unsupported bit depth %d", e.Bits)
}

func (e UnsupportedBitDepthError) Unwrap() error { return media.ErrUnsupported }

// Wave format tags.
const (
	formatPCM        = 0x0001
	formatALaw       = 0x0006
	formatMuLaw      = 0x0007
	formatExtensible = 0xfffe
)

// Sniff matches the RIFF/WAVE signature.
func Sniff(src media.DataSource) (string, float32, bool) {
	header := make([]byte, 12)
	if err := media.ReadFullAt(src, header, 0); err != nil {
		return "", 0, false
	}
	if !bytes.Equal(header[0:4], []byte("RIFF")) || !bytes.Equal(header[8:12], []byte("WAVE")) {
		return "", 0, false
	}
	return media.MIMEContainerWAV, 0.3, true
}

// Extractor reads one audio track from a WAVE file.
type Extractor struct {
	src  media.DataSource
	meta *media.MetaData

	formatTag     uint16
	channels      int
	sampleRate    int
	bitsPerSample int

	dataOffset int64
	dataSize   int64
}

// NewExtractor walks the RIFF chunks and validates the format.
func NewExtractor(src media.DataSource) (*Extractor, error) { //nolint:funlen
	header := make([]byte, 12)
	if err := media.ReadFullAt(src, header, 0); err != nil {
		return nil, err
	}
	if !bytes.Equal(header[0:4], []byte("RIFF")) || !bytes.Equal(header[8:12], []byte("WAVE")) {
		return nil, ErrNotRIFF
	}

	size, err := src.Size()
	if err != nil {
		return nil, err
	}

	e := &Extractor{src: src}

	haveFormat := false
	offset := int64(12)
	chunkHeader := make([]byte, 8)
	for offset+8 <= size {
		if err := media.ReadFullAt(src, chunkHeader, offset); err != nil {
			return nil, err
		}
		chunkSize := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		switch string(chunkHeader[0:4]) {
		case "fmt ":
			if err := e.parseFormat(offset+8, chunkSize); err != nil {
				return nil, err
			}
			haveFormat = true

		case "data":
			if !haveFormat {
				return nil, ErrNoFormatChunk
			}
			e.dataOffset = offset + 8
			e.dataSize = chunkSize
			if e.dataOffset+e.dataSize > size {
				e.dataSize = size - e.dataOffset
			}
			e.buildMetaData()
			return e, nil
		}

		// Chunks are word aligned.
		offset += 8 + chunkSize + (chunkSize & 1)
	}

	if !haveFormat {
		return nil, ErrNoFormatChunk
	}
	return nil, ErrNoDataChunk
}

func (e *Extractor) parseFormat(offset int64, size int64) error {
	if size < 16 {
		return fmt.Errorf("%w: %w", ErrBadFormatChunk, media.ErrMalformed)
	}

	raw := make([]byte, 16)
	if err := media.ReadFullAt(e.src, raw, offset); err != nil {
		return err
	}

	e.formatTag = binary.LittleEndian.Uint16(raw[0:2])
	e.channels = int(binary.LittleEndian.Uint16(raw[2:4]))
	e.sampleRate = int(binary.LittleEndian.Uint32(raw[4:8]))
	e.bitsPerSample = int(binary.LittleEndian.Uint16(raw[14:16]))

	if e.formatTag == formatExtensible {
		// Resolve the real format from the sub-format GUID.
		if size < 40 {
			return fmt.Errorf("%w: %w", ErrBadFormatChunk, media.ErrMalformed)
		}
		guid := make([]byte, 2)
		if err := media.ReadFullAt(e.src, guid, offset+24); err != nil {
			return err
		}
		e.formatTag = binary.LittleEndian.Uint16(guid)
	}

	switch e.formatTag {
	case formatPCM:
		switch e.bitsPerSample {
		case 8, 16, 24:
		default:
			return UnsupportedBitDepthError{Bits: uint16(e.bitsPerSample)}
		}
	case formatALaw, formatMuLaw:
		if e.bitsPerSample != 8 {
			return UnsupportedBitDepthError{Bits: uint16(e.bitsPerSample)}
		}
	default:
		return UnsupportedFormatError{FormatTag: e.formatTag}
	}

	if e.channels < 1 || e.channels > 2 {
		return fmt.Errorf("%w: %d: %w", ErrBadChannels, e.channels, media.ErrUnsupported)
	}
	if e.sampleRate <= 0 {
		return fmt.Errorf("%w: %d: %w", ErrBadSampleRate, e.sampleRate, media.ErrMalformed)
	}
	return nil
}

func (e *Extractor) bytesPerSample() int {
	return e.bitsPerSample / 8
}

func (e *Extractor) frameBytes() int {
	return e.channels * e.bytesPerSample()
}

func (e *Extractor) mime() string {
	switch e.formatTag {
	case formatALaw:
		return media.MIMEAudioALaw
	case formatMuLaw:
		return media.MIMEAudioMLaw
	default:
		return media.MIMEAudioRaw
	}
}

func (e *Extractor) buildMetaData() {
	durationUs := e.dataSize * 1000000 / int64(e.frameBytes()) / int64(e.sampleRate)

	meta := media.NewMetaData()
	meta.SetStr(media.KeyMIMEType, e.mime())
	meta.SetInt(media.KeySampleRate, e.sampleRate)
	meta.SetInt(media.KeyChannelCount, e.channels)
	meta.SetInt(media.KeyBitsPerSample, 16) // Output is always 16-bit.
	meta.SetInt64(media.KeyDurationUs, durationUs)
	e.meta = meta
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
	meta.SetStr(media.KeyMIMEType, media.MIMEContainerWAV)
	return meta
}

// Track implements media.Extractor.
func (e *Extractor) Track(i int) media.Track {
	if i != 0 {
		return nil
	}
	return &track{extractor: e}
}

// maxReadBytes is the input chunk size of one sequential read.
const maxReadBytes = 32768

type track struct {
	extractor *Extractor
	started   bool
	pool      *media.BufferPool

	offset int64 // Relative to the data chunk.
}

func (t *track) Format() *media.MetaData { return t.extractor.meta }

func (t *track) Start() error {
	if t.started {
		return media.ErrAlreadyStarted
	}
	t.started = true
	t.pool = media.NewBufferPool(2)
	t.offset = 0
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

func (t *track) Read(opts *media.ReadOptions) (*media.Buffer, error) { //nolint:funlen
	if !t.started {
		return nil, media.ErrNotStarted
	}

	e := t.extractor
	frameBytes := int64(e.frameBytes())

	if opts != nil {
		if timeUs, _, ok := opts.SeekTo(); ok {
			offset := timeUs * int64(e.sampleRate) / 1000000 * frameBytes
			if offset > e.dataSize {
				offset = e.dataSize
			}
			t.offset = offset - offset%frameBytes
		}
	}

	remaining := e.dataSize - t.offset
	if remaining <= 0 {
		return nil, media.ErrEndOfStream
	}

	n := int64(maxReadBytes)
	if n > remaining {
		n = remaining
	}
	n -= n % frameBytes
	if n == 0 {
		// A trailing partial frame is dropped.
		return nil, media.ErrEndOfStream
	}

	raw := make([]byte, n)
	if err := media.ReadFullAt(e.src, raw, e.dataOffset+t.offset); err != nil {
		return nil, err
	}

	var buf *media.Buffer
	switch {
	case e.formatTag == formatPCM && e.bitsPerSample == 8:
		buf = t.pool.Get(len(raw) * 2)
		Expand8to16(buf.Data, raw)

	case e.formatTag == formatPCM && e.bitsPerSample == 24:
		buf = t.pool.Get(len(raw) / 3 * 2)
		Truncate24to16(buf.Data, raw)

	case e.formatTag == formatALaw:
		buf = t.pool.Get(len(raw) * 2)
		DecodeALaw(buf.Data, raw)

	case e.formatTag == formatMuLaw:
		buf = t.pool.Get(len(raw) * 2)
		DecodeMuLaw(buf.Data, raw)

	default:
		// 16-bit PCM passes through.
		buf = t.pool.Get(len(raw))
		copy(buf.Data, raw)
	}

	buf.TimeUs = t.offset / frameBytes * 1000000 / int64(e.sampleRate)
	buf.SyncFrame = true
	buf.ValidSamples = int(n / frameBytes)

	t.offset += n
	return buf, nil
}

// Expand8to16 converts unsigned 8-bit samples to signed 16-bit.
func Expand8to16(dst []byte, src []byte) {
	for i, s := range src {
		v := int16(int(s)-128) << 8
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(v))
	}
}

// DecodeMuLaw expands G.711 µ-law samples to signed 16-bit.
func DecodeMuLaw(dst []byte, src []byte) {
	for i, s := range src {
		u := ^s
		t := (int(u&0x0f) << 3) + 0x84
		t <<= (u & 0x70) >> 4
		if u&0x80 != 0 {
			t = 0x84 - t
		} else {
			t -= 0x84
		}
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(t)))
	}
}

// DecodeALaw expands G.711 A-law samples to signed 16-bit.
func DecodeALaw(dst []byte, src []byte) {
	for i, s := range src {
		a := s ^ 0x55
		t := int(a&0x0f) << 4
		switch seg := (a & 0x70) >> 4; seg {
		case 0:
			t += 8
		case 1:
			t += 0x108
		default:
			t += 0x108
			t <<= seg - 1
		}
		if a&0x80 == 0 {
			t = -t
		}
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(t)))
	}
}

// Truncate24to16 drops the low byte of little-endian 24-bit samples.
func Truncate24to16(dst []byte, src []byte) {
	samples := len(src) / 3
	for i := 0; i < samples; i++ {
		dst[i*2] = src[i*3+1]
		dst[i*2+1] = src[i*3+2]
	}
}
