// Package mp3seek parses the XING and VBRI side headers of MPEG audio
// streams into advisory time-to-offset seek tables. A parse failure is
// not fatal: callers fall back to linear byte-rate estimation.
package mp3seek

import (
	"encoding/binary"
	"errors"

	"demux/pkg/media"
)

// Package errors.
var (
	ErrNoHeader     = errors.New("mp3seek: side header not found")
	ErrBadFrameSync = errors.New("mp3seek: invalid frame header")
	ErrEmptyTable   = errors.New("mp3seek: empty seek table")
)

// Seeker maps a requested time to a byte offset. Both implementations
// report approximate values only.
type Seeker interface {
	// DurationUs returns the stream duration, if known.
	DurationUs() (int64, bool)

	// OffsetForTime returns the byte offset for timeUs along with the
	// time actually represented by that offset.
	OffsetForTime(timeUs int64) (offset int64, actualTimeUs int64, ok bool)
}

type mpegVersion int

const (
	mpeg1 mpegVersion = iota
	mpeg2
	mpeg25
)

type frameHeader struct {
	version         mpegVersion
	sampleRate      int
	mono            bool
	samplesPerFrame int
}

var sampleRatesMPEG1 = [3]int{44100, 48000, 32000}

// parseFrameHeader decodes the fields of a layer III frame header
// needed to locate and scale the side headers.
func parseFrameHeader(raw uint32) (*frameHeader, error) {
	if raw&0xffe00000 != 0xffe00000 {
		return nil, ErrBadFrameSync
	}

	h := &frameHeader{}

	switch (raw >> 19) & 0x03 {
	case 3:
		h.version = mpeg1
	case 2:
		h.version = mpeg2
	case 0:
		h.version = mpeg25
	default:
		return nil, ErrBadFrameSync
	}

	layer := (raw >> 17) & 0x03
	if layer != 1 { // Layer III.
		return nil, ErrBadFrameSync
	}

	srIndex := (raw >> 10) & 0x03
	if srIndex == 3 {
		return nil, ErrBadFrameSync
	}
	h.sampleRate = sampleRatesMPEG1[srIndex]
	switch h.version {
	case mpeg2:
		h.sampleRate /= 2
	case mpeg25:
		h.sampleRate /= 4
	}

	h.mono = (raw>>6)&0x03 == 3

	h.samplesPerFrame = 1152
	if h.version != mpeg1 {
		h.samplesPerFrame = 576
	}
	return h, nil
}

func (h *frameHeader) sideInfoSize() int {
	if h.version == mpeg1 {
		if h.mono {
			return 17
		}
		return 32
	}
	if h.mono {
		return 9
	}
	return 17
}

// XING is a parsed XING/Info header: a 100-entry percentage table of
// byte-position fractions in 1/256ths of the file size.
type XING struct {
	firstFramePos int64
	durationUs    int64
	totalBytes    int64

	haveTOC bool
	toc     [100]uint8
}

// NewXING looks for a XING header inside the frame at firstFramePos.
func NewXING(src media.DataSource, firstFramePos int64) (*XING, error) {
	raw, err := media.ReadU32BE(src, firstFramePos)
	if err != nil {
		return nil, err
	}
	header, err := parseFrameHeader(raw)
	if err != nil {
		return nil, err
	}

	offset := firstFramePos + 4 + int64(header.sideInfoSize())

	tag := make([]byte, 4)
	if err := media.ReadFullAt(src, tag, offset); err != nil {
		return nil, err
	}
	if string(tag) != "Xing" && string(tag) != "Info" {
		return nil, ErrNoHeader
	}
	offset += 4

	flags, err := media.ReadU32BE(src, offset)
	if err != nil {
		return nil, err
	}
	offset += 4

	x := &XING{firstFramePos: firstFramePos}

	if flags&0x0001 != 0 { // Frame count.
		frames, err := media.ReadU32BE(src, offset)
		if err != nil {
			return nil, err
		}
		offset += 4
		x.durationUs = int64(frames) * int64(header.samplesPerFrame) * 1000000 / int64(header.sampleRate)
	}

	if flags&0x0002 != 0 { // Byte count.
		bytes, err := media.ReadU32BE(src, offset)
		if err != nil {
			return nil, err
		}
		offset += 4
		x.totalBytes = int64(bytes)
	}

	if flags&0x0004 != 0 { // TOC.
		if err := media.ReadFullAt(src, x.toc[:], offset); err != nil {
			return nil, err
		}
		x.haveTOC = true
	}

	return x, nil
}

// DurationUs implements Seeker.
func (x *XING) DurationUs() (int64, bool) {
	return x.durationUs, x.durationUs > 0
}

// OffsetForTime implements Seeker. Fractional percentages interpolate
// linearly between adjacent table entries.
func (x *XING) OffsetForTime(timeUs int64) (int64, int64, bool) {
	if x.durationUs == 0 || !x.haveTOC || x.totalBytes == 0 {
		return 0, 0, false
	}

	percent := float64(timeUs) * 100 / float64(x.durationUs)

	var fx float64
	switch {
	case percent <= 0:
		fx = 0
	case percent >= 100:
		fx = 256
	default:
		a := int(percent)
		fa := float64(x.toc[a])
		fb := float64(256)
		if a < 99 {
			fb = float64(x.toc[a+1])
		}
		fx = fa + (fb-fa)*(percent-float64(a))
	}

	offset := x.firstFramePos + int64(fx/256*float64(x.totalBytes))
	return offset, timeUs, true
}

// VBRI is a parsed VBRI header: N equal-duration segments, each with an
// explicit byte length.
type VBRI struct {
	firstFramePos int64
	durationUs    int64
	segments      []int64
}

// NewVBRI looks for a VBRI header 32 bytes into the frame at
// firstFramePos.
func NewVBRI(src media.DataSource, firstFramePos int64) (*VBRI, error) { //nolint:funlen
	raw, err := media.ReadU32BE(src, firstFramePos)
	if err != nil {
		return nil, err
	}
	header, err := parseFrameHeader(raw)
	if err != nil {
		return nil, err
	}

	fixed := make([]byte, 26)
	if err := media.ReadFullAt(src, fixed, firstFramePos+4+32); err != nil {
		return nil, err
	}
	if string(fixed[0:4]) != "VBRI" {
		return nil, ErrNoHeader
	}

	totalFrames := binary.BigEndian.Uint32(fixed[14:18])
	entryCount := int(binary.BigEndian.Uint16(fixed[18:20]))
	scale := int64(binary.BigEndian.Uint16(fixed[20:22]))
	entrySize := int(binary.BigEndian.Uint16(fixed[22:24]))

	if entryCount == 0 {
		return nil, ErrEmptyTable
	}
	if entrySize < 1 || entrySize > 4 {
		return nil, media.ErrMalformed
	}

	table := make([]byte, entryCount*entrySize)
	if err := media.ReadFullAt(src, table, firstFramePos+4+32+26); err != nil {
		return nil, err
	}

	v := &VBRI{
		firstFramePos: firstFramePos,
		durationUs: int64(totalFrames) * int64(header.samplesPerFrame) *
			1000000 / int64(header.sampleRate),
		segments: make([]int64, entryCount),
	}

	for i := 0; i < entryCount; i++ {
		var value int64
		for j := 0; j < entrySize; j++ {
			value = value<<8 | int64(table[i*entrySize+j])
		}
		v.segments[i] = value * scale
	}

	return v, nil
}

// DurationUs implements Seeker.
func (v *VBRI) DurationUs() (int64, bool) {
	return v.durationUs, v.durationUs > 0
}

// OffsetForTime implements Seeker. Segments are scanned additively
// until the requested time falls inside one.
func (v *VBRI) OffsetForTime(timeUs int64) (int64, int64, bool) {
	if v.durationUs == 0 {
		return 0, 0, false
	}

	segmentDurationUs := v.durationUs / int64(len(v.segments))
	offset := v.firstFramePos
	nowUs := int64(0)

	for _, segment := range v.segments {
		if nowUs+segmentDurationUs > timeUs {
			break
		}
		nowUs += segmentDurationUs
		offset += segment
	}

	return offset, nowUs, true
}
