// Package amr extracts AMR-NB and AMR-WB audio from raw .amr files.
package amr

import (
	"bytes"
	"errors"
	"fmt"

	"demux/pkg/media"
)

var (
	magicNB = []byte("#!AMR\n")
	magicWB = []byte("#!AMR-WB\n")
)

// Package errors.
var (
	ErrBadMagic     = errors.New("amr: bad magic")
	ErrBadFrameType = errors.New("amr: frame type out of range")
)

// Frame sizes in bits per frame type.
var (
	frameBitsNB = [8]int{95, 103, 118, 134, 148, 159, 204, 244}
	frameBitsWB = [9]int{132, 177, 253, 285, 317, 365, 397, 461, 477}
)

const frameDurationUs = 20000

// FrameSize returns the byte size of a frame with the given frame-type
// nibble, including the one-byte frame header.
func FrameSize(wide bool, frameType uint8) (int, error) {
	if wide {
		if frameType > 8 {
			return 0, fmt.Errorf("%w: %d: %w", ErrBadFrameType, frameType, media.ErrMalformed)
		}
		return (frameBitsWB[frameType]+7)/8 + 1, nil
	}
	if frameType > 7 {
		return 0, fmt.Errorf("%w: %d: %w", ErrBadFrameType, frameType, media.ErrMalformed)
	}
	return (frameBitsNB[frameType]+7)/8 + 1, nil
}

// Sniff matches the AMR magic.
func Sniff(src media.DataSource) (string, float32, bool) {
	header := make([]byte, len(magicWB))
	n, _ := src.ReadAt(header, 0)
	if n >= len(magicNB) && bytes.Equal(header[:len(magicNB)], magicNB) {
		return media.MIMEAudioAMRNB, 0.5, true
	}
	if n >= len(magicWB) && bytes.Equal(header[:len(magicWB)], magicWB) {
		return media.MIMEAudioAMRWB, 0.5, true
	}
	return "", 0, false
}

// offsetTableStride is the frame interval between stored offsets.
const offsetTableStride = 50

// Extractor reads one AMR audio track.
type Extractor struct {
	src  media.DataSource
	wide bool
	meta *media.MetaData

	headerSize  int64
	frameCount  int
	durationUs  int64
	offsetTable []int64 // Offset of every offsetTableStride'th frame.
}

// NewExtractor parses the file header and scans the frame table.
func NewExtractor(src media.DataSource) (*Extractor, error) {
	header := make([]byte, len(magicWB))
	n, _ := src.ReadAt(header, 0)

	e := &Extractor{src: src}
	switch {
	case n >= len(magicNB) && bytes.Equal(header[:len(magicNB)], magicNB):
		e.wide = false
		e.headerSize = int64(len(magicNB))
	case n >= len(magicWB) && bytes.Equal(header[:len(magicWB)], magicWB):
		e.wide = true
		e.headerSize = int64(len(magicWB))
	default:
		return nil, ErrBadMagic
	}

	size, err := src.Size()
	if err != nil {
		return nil, err
	}

	offset := e.headerSize
	for offset < size {
		frameSize, err := e.frameSizeAt(offset)
		if err != nil {
			// Trailing garbage ends the stream, a bad first frame
			// rejects the file.
			if e.frameCount == 0 {
				return nil, err
			}
			break
		}
		if e.frameCount%offsetTableStride == 0 {
			e.offsetTable = append(e.offsetTable, offset)
		}
		offset += int64(frameSize)
		e.frameCount++
	}
	e.durationUs = int64(e.frameCount) * frameDurationUs

	mime := media.MIMEAudioAMRNB
	sampleRate := 8000
	if e.wide {
		mime = media.MIMEAudioAMRWB
		sampleRate = 16000
	}

	meta := media.NewMetaData()
	meta.SetStr(media.KeyMIMEType, mime)
	meta.SetInt(media.KeySampleRate, sampleRate)
	meta.SetInt(media.KeyChannelCount, 1)
	meta.SetInt64(media.KeyDurationUs, e.durationUs)
	meta.SetInt(media.KeyMaxInputSize, maxFrameSize(e.wide))
	e.meta = meta

	return e, nil
}

func maxFrameSize(wide bool) int {
	if wide {
		return (frameBitsWB[len(frameBitsWB)-1]+7)/8 + 1
	}
	return (frameBitsNB[len(frameBitsNB)-1]+7)/8 + 1
}

func (e *Extractor) frameSizeAt(offset int64) (int, error) {
	var header [1]byte
	if err := media.ReadFullAt(e.src, header[:], offset); err != nil {
		return 0, err
	}
	frameType := (header[0] >> 3) & 0x0f
	return FrameSize(e.wide, frameType)
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
	if e.wide {
		meta.SetStr(media.KeyMIMEType, media.MIMEAudioAMRWB)
	} else {
		meta.SetStr(media.KeyMIMEType, media.MIMEAudioAMRNB)
	}
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

	offset     int64
	frameIndex int
}

func (t *track) Format() *media.MetaData { return t.extractor.meta }

func (t *track) Start() error {
	if t.started {
		return media.ErrAlreadyStarted
	}
	t.started = true
	t.pool = media.NewBufferPool(1)
	t.offset = t.extractor.headerSize
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

	if opts != nil {
		if timeUs, _, ok := opts.SeekTo(); ok {
			// Every frame is a sync frame, the mode is irrelevant.
			if err := t.seekTo(timeUs); err != nil {
				return nil, err
			}
		}
	}

	if t.frameIndex >= t.extractor.frameCount {
		return nil, media.ErrEndOfStream
	}

	frameSize, err := t.extractor.frameSizeAt(t.offset)
	if err != nil {
		return nil, err
	}

	buf := t.pool.Get(frameSize)
	if err := media.ReadFullAt(t.extractor.src, buf.Data, t.offset); err != nil {
		buf.Release()
		return nil, err
	}
	buf.TimeUs = int64(t.frameIndex) * frameDurationUs
	buf.SyncFrame = true

	t.offset += int64(frameSize)
	t.frameIndex++
	return buf, nil
}

// seekTo positions the cursor on the frame boundary containing timeUs.
func (t *track) seekTo(timeUs int64) error {
	frameIndex := int(timeUs / frameDurationUs)
	if frameIndex > t.extractor.frameCount {
		frameIndex = t.extractor.frameCount
	}

	tableIndex := frameIndex / offsetTableStride
	if tableIndex >= len(t.extractor.offsetTable) {
		tableIndex = len(t.extractor.offsetTable) - 1
	}
	if tableIndex < 0 {
		t.offset = t.extractor.headerSize
		t.frameIndex = 0
		return nil
	}

	offset := t.extractor.offsetTable[tableIndex]
	index := tableIndex * offsetTableStride
	for index < frameIndex {
		frameSize, err := t.extractor.frameSizeAt(offset)
		if err != nil {
			return err
		}
		offset += int64(frameSize)
		index++
	}

	t.offset = offset
	t.frameIndex = frameIndex
	return nil
}
