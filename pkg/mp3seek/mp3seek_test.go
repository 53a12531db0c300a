package mp3seek

import (
	"encoding/binary"
	"testing"

	"demux/pkg/media"

	"github.com/stretchr/testify/require"
)

// mpeg1StereoHeader is a 44.1kHz MPEG-1 layer III stereo frame header.
var mpeg1StereoHeader = []byte{0xff, 0xfb, 0x90, 0x00}

func xingFile(frames, totalBytes uint32) []byte {
	out := append([]byte{}, mpeg1StereoHeader...)
	out = append(out, make([]byte, 32)...) // Side info.
	out = append(out, "Xing"...)
	out = binary.BigEndian.AppendUint32(out, 0x07) // Frames, bytes, TOC.
	out = binary.BigEndian.AppendUint32(out, frames)
	out = binary.BigEndian.AppendUint32(out, totalBytes)
	for i := 0; i < 100; i++ {
		out = append(out, uint8(i*256/100))
	}
	return out
}

func TestXING(t *testing.T) {
	src := media.NewBufferSource(xingFile(1000, 100000))

	x, err := NewXING(src, 0)
	require.NoError(t, err)

	durationUs, ok := x.DurationUs()
	require.True(t, ok)
	require.Equal(t, int64(1000)*1152*1000000/44100, durationUs)

	// Midpoint of a linear TOC lands mid-file.
	offset, actualUs, ok := x.OffsetForTime(durationUs / 2)
	require.True(t, ok)
	require.Equal(t, int64(50000), offset)
	require.Equal(t, durationUs/2, actualUs)

	offset, _, ok = x.OffsetForTime(0)
	require.True(t, ok)
	require.Equal(t, int64(0), offset)

	offset, _, ok = x.OffsetForTime(durationUs * 2)
	require.True(t, ok)
	require.Equal(t, int64(100000), offset)
}

func TestXINGMissing(t *testing.T) {
	out := append([]byte{}, mpeg1StereoHeader...)
	out = append(out, make([]byte, 64)...)

	_, err := NewXING(media.NewBufferSource(out), 0)
	require.ErrorIs(t, err, ErrNoHeader)

	_, err = NewXING(media.NewBufferSource([]byte{0x12, 0x34, 0x56, 0x78}), 0)
	require.ErrorIs(t, err, ErrBadFrameSync)
}

func vbriFile(totalFrames uint32, segments []uint16) []byte {
	out := append([]byte{}, mpeg1StereoHeader...)
	out = append(out, make([]byte, 32)...) // Skip region.
	out = append(out, "VBRI"...)
	out = binary.BigEndian.AppendUint16(out, 1) // Version.
	out = binary.BigEndian.AppendUint16(out, 0) // Delay.
	out = binary.BigEndian.AppendUint16(out, 0) // Quality.
	out = binary.BigEndian.AppendUint32(out, 0) // Total bytes.
	out = binary.BigEndian.AppendUint32(out, totalFrames)
	out = binary.BigEndian.AppendUint16(out, uint16(len(segments)))
	out = binary.BigEndian.AppendUint16(out, 1) // Scale.
	out = binary.BigEndian.AppendUint16(out, 2) // Entry size.
	out = binary.BigEndian.AppendUint16(out, 1) // Frames per entry.
	for _, s := range segments {
		out = binary.BigEndian.AppendUint16(out, s)
	}
	return out
}

func TestVBRI(t *testing.T) {
	segments := make([]uint16, 10)
	for i := range segments {
		segments[i] = 1000
	}
	src := media.NewBufferSource(vbriFile(100, segments))

	v, err := NewVBRI(src, 0)
	require.NoError(t, err)

	durationUs, ok := v.DurationUs()
	require.True(t, ok)
	require.Equal(t, int64(100)*1152*1000000/44100, durationUs)

	segmentUs := durationUs / 10

	// 2.5 segments in: lands at the start of segment 2.
	offset, actualUs, ok := v.OffsetForTime(segmentUs*2 + segmentUs/2)
	require.True(t, ok)
	require.Equal(t, int64(2000), offset)
	require.Equal(t, 2*segmentUs, actualUs)

	offset, actualUs, ok = v.OffsetForTime(0)
	require.True(t, ok)
	require.Equal(t, int64(0), offset)
	require.Equal(t, int64(0), actualUs)
}

func TestVBRIMissing(t *testing.T) {
	out := append([]byte{}, mpeg1StereoHeader...)
	out = append(out, make([]byte, 64)...)

	_, err := NewVBRI(media.NewBufferSource(out), 0)
	require.ErrorIs(t, err, ErrNoHeader)
}

func TestParseFrameHeader(t *testing.T) {
	h, err := parseFrameHeader(0xfffb9000)
	require.NoError(t, err)
	require.Equal(t, mpeg1, h.version)
	require.Equal(t, 44100, h.sampleRate)
	require.False(t, h.mono)
	require.Equal(t, 1152, h.samplesPerFrame)
	require.Equal(t, 32, h.sideInfoSize())

	// MPEG-2 mono.
	h, err = parseFrameHeader(0xfff390c0)
	require.NoError(t, err)
	require.Equal(t, mpeg2, h.version)
	require.Equal(t, 22050, h.sampleRate)
	require.True(t, h.mono)
	require.Equal(t, 576, h.samplesPerFrame)
	require.Equal(t, 9, h.sideInfoSize())
}
