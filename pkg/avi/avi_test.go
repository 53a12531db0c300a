package avi

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"demux/pkg/media"
)

type fakeStream struct {
	strh     []byte
	strf     []byte
	chunkID  string
	payloads [][]byte
	keys     []bool
}

func videoStreamHeader(handler string, scale, rate uint32) []byte {
	raw := make([]byte, 56)
	copy(raw[0:4], "vids")
	copy(raw[4:8], handler)
	binary.LittleEndian.PutUint32(raw[20:24], scale)
	binary.LittleEndian.PutUint32(raw[24:28], rate)
	return raw
}

func audioStreamHeader(scale, rate, sampleSize uint32) []byte {
	raw := make([]byte, 56)
	copy(raw[0:4], "auds")
	binary.LittleEndian.PutUint32(raw[20:24], scale)
	binary.LittleEndian.PutUint32(raw[24:28], rate)
	binary.LittleEndian.PutUint32(raw[44:48], sampleSize)
	return raw
}

func bitmapInfo(width, height uint32, compression string) []byte {
	raw := make([]byte, 40)
	binary.LittleEndian.PutUint32(raw[0:4], 40)
	binary.LittleEndian.PutUint32(raw[4:8], width)
	binary.LittleEndian.PutUint32(raw[8:12], height)
	copy(raw[16:20], compression)
	return raw
}

func waveFormat(tag uint16, channels uint16, rate uint32) []byte {
	raw := make([]byte, 18)
	binary.LittleEndian.PutUint16(raw[0:2], tag)
	binary.LittleEndian.PutUint16(raw[2:4], channels)
	binary.LittleEndian.PutUint32(raw[4:8], rate)
	return raw
}

func appendChunk(buf *bytes.Buffer, fourCC string, body []byte) {
	buf.WriteString(fourCC)
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(body)))
	buf.Write(size[:])
	buf.Write(body)
	if len(body)%2 == 1 {
		buf.WriteByte(0)
	}
}

func appendList(buf *bytes.Buffer, listType string, body []byte) {
	buf.WriteString("LIST")
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(4+len(body)))
	buf.Write(size[:])
	buf.WriteString(listType)
	buf.Write(body)
}

// buildAVI assembles a complete file from the stream definitions. With
// relativeIndex the idx1 offsets count from the movi list type fourCC
// instead of the file start.
func buildAVI(t *testing.T, streams []fakeStream, relativeIndex bool) []byte {
	t.Helper()

	var hdrl bytes.Buffer
	appendChunk(&hdrl, "avih", make([]byte, 56))
	for _, s := range streams {
		var strl bytes.Buffer
		appendChunk(&strl, "strh", s.strh)
		appendChunk(&strl, "strf", s.strf)
		appendList(&hdrl, "strl", strl.Bytes())
	}

	type indexEntry struct {
		id     string
		flags  uint32
		offset int64 // Absolute chunk header offset.
		size   uint32
	}
	var entries []indexEntry

	moviOffset := int64(12 + 12 + hdrl.Len())
	var movi bytes.Buffer
	for _, s := range streams {
		for i, payload := range s.payloads {
			var flags uint32
			if s.keys[i] {
				flags = aviKeyFrameFlag
			}
			entries = append(entries, indexEntry{
				id:     s.chunkID,
				flags:  flags,
				offset: moviOffset + 12 + int64(movi.Len()),
				size:   uint32(len(payload)),
			})
			appendChunk(&movi, s.chunkID, payload)
		}
	}

	var idx1 bytes.Buffer
	for _, entry := range entries {
		offset := entry.offset
		if relativeIndex {
			offset -= moviOffset + 8
		}
		idx1.WriteString(entry.id)
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], entry.flags)
		idx1.Write(word[:])
		binary.LittleEndian.PutUint32(word[:], uint32(offset))
		idx1.Write(word[:])
		binary.LittleEndian.PutUint32(word[:], entry.size)
		idx1.Write(word[:])
	}

	var file bytes.Buffer
	file.WriteString("RIFF")
	file.Write([]byte{0, 0, 0, 0}) // Patched below.
	file.WriteString("AVI ")
	appendList(&file, "hdrl", hdrl.Bytes())
	appendList(&file, "movi", movi.Bytes())
	appendChunk(&file, "idx1", idx1.Bytes())

	out := file.Bytes()
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))
	return out
}

var volConfig = []byte{
	0x00, 0x00, 0x01, 0xb0, 0xf5, // Visual object sequence, profile.
	0x00, 0x00, 0x01, 0xb5, 0x09, // Visual object.
}

func mpeg4Stream(frameCount int) fakeStream {
	s := fakeStream{
		strh:    videoStreamHeader("mp4v", 1, 25),
		strf:    bitmapInfo(320, 240, "mp4v"),
		chunkID: "00dc",
	}
	for i := 0; i < frameCount; i++ {
		frame := []byte{0x00, 0x00, 0x01, 0xb6, byte(0x30 + i), 0x7f}
		if i == 0 {
			frame = append(append([]byte{}, volConfig...), frame...)
		}
		s.payloads = append(s.payloads, frame)
		s.keys = append(s.keys, i%5 == 0)
	}
	return s
}

func TestSniff(t *testing.T) {
	file := buildAVI(t, []fakeStream{mpeg4Stream(2)}, false)
	mime, confidence, ok := Sniff(media.NewBufferSource(file))
	require.True(t, ok)
	require.Equal(t, media.MIMEContainerAVI, mime)
	require.Equal(t, float32(0.21), confidence)

	_, _, ok = Sniff(media.NewBufferSource([]byte("RIFX____AVI _______")))
	require.False(t, ok)
}

func TestVideoTrack(t *testing.T) {
	file := buildAVI(t, []fakeStream{mpeg4Stream(10)}, false)
	extractor, err := NewExtractor(media.NewBufferSource(file))
	require.NoError(t, err)
	require.Equal(t, 1, extractor.TrackCount())

	meta := extractor.TrackMetaData(0)
	mime, _ := meta.Str(media.KeyMIMEType)
	require.Equal(t, media.MIMEVideoMPEG4, mime)

	width, _ := meta.Int(media.KeyWidth)
	height, _ := meta.Int(media.KeyHeight)
	require.Equal(t, 320, width)
	require.Equal(t, 240, height)

	duration, _ := meta.Int64(media.KeyDurationUs)
	require.Equal(t, int64(400000), duration) // 10 frames at 25 fps.

	config, ok := meta.Bytes(media.KeyCodecConfig)
	require.True(t, ok)
	require.Equal(t, volConfig, config)
	require.True(t, meta.Has(media.KeyESDS))

	track := extractor.Track(0)
	require.NoError(t, track.Start())

	for i := 0; i < 10; i++ {
		buf, err := track.Read(nil)
		require.NoError(t, err)
		require.Equal(t, int64(i)*40000, buf.TimeUs)
		require.Equal(t, i%5 == 0, buf.SyncFrame)
		buf.Release()
	}

	_, err = track.Read(nil)
	require.ErrorIs(t, err, media.ErrEndOfStream)
	require.NoError(t, track.Stop())
}

// The same stream must parse identically whether idx1 offsets are
// absolute or movi-relative.
func TestIndexOffsetModes(t *testing.T) {
	for _, relative := range []bool{false, true} {
		file := buildAVI(t, []fakeStream{mpeg4Stream(3)}, relative)
		extractor, err := NewExtractor(media.NewBufferSource(file))
		require.NoError(t, err)
		require.Equal(t, 1, extractor.TrackCount())

		track := extractor.Track(0)
		require.NoError(t, track.Start())

		buf, err := track.Read(nil)
		require.NoError(t, err)
		require.Equal(t, append(append([]byte{}, volConfig...),
			0x00, 0x00, 0x01, 0xb6, 0x30, 0x7f), buf.Data)
		buf.Release()
		require.NoError(t, track.Stop())
	}
}

func TestIndexOffsetMismatch(t *testing.T) {
	file := buildAVI(t, []fakeStream{mpeg4Stream(3)}, false)

	// Corrupt every index offset so neither addressing mode lands on a
	// chunk header.
	idx1 := bytes.Index(file, []byte("idx1"))
	require.Greater(t, idx1, 0)
	binary.LittleEndian.PutUint32(file[idx1+16:idx1+20], 1)

	_, err := NewExtractor(media.NewBufferSource(file))
	require.ErrorIs(t, err, ErrBadIndex)
	require.ErrorIs(t, err, media.ErrMalformed)
}

func TestSeekModes(t *testing.T) {
	file := buildAVI(t, []fakeStream{mpeg4Stream(10)}, false)
	extractor, err := NewExtractor(media.NewBufferSource(file))
	require.NoError(t, err)

	track := extractor.Track(0)
	require.NoError(t, track.Start())
	defer track.Stop()

	// 120ms is frame 3; the surrounding sync frames are 0 and 5.
	cases := []struct {
		mode media.SeekMode
		want int64
	}{
		{media.SeekPreviousSync, 0},
		{media.SeekNextSync, 200000},
		{media.SeekClosestSync, 200000},
		{media.SeekClosest, 120000},
	}
	for _, c := range cases {
		var opts media.ReadOptions
		opts.SetSeekTo(120000, c.mode)

		buf, err := track.Read(&opts)
		require.NoError(t, err)
		require.Equal(t, c.want, buf.TimeUs)
		buf.Release()
	}
}

func TestAudioTrack(t *testing.T) {
	audio := fakeStream{
		strh:    audioStreamHeader(1, 25, 0),
		strf:    waveFormat(0x0055, 2, 44100),
		chunkID: "01wb",
	}
	for i := 0; i < 4; i++ {
		audio.payloads = append(audio.payloads, []byte{0xff, 0xfb, byte(i)})
		audio.keys = append(audio.keys, false) // Audio is key regardless.
	}

	file := buildAVI(t, []fakeStream{mpeg4Stream(2), audio}, false)
	extractor, err := NewExtractor(media.NewBufferSource(file))
	require.NoError(t, err)
	require.Equal(t, 2, extractor.TrackCount())

	meta := extractor.TrackMetaData(1)
	mime, _ := meta.Str(media.KeyMIMEType)
	require.Equal(t, media.MIMEAudioMPEG, mime)

	channels, _ := meta.Int(media.KeyChannelCount)
	rate, _ := meta.Int(media.KeySampleRate)
	require.Equal(t, 2, channels)
	require.Equal(t, 44100, rate)

	track := extractor.Track(1)
	require.NoError(t, track.Start())
	defer track.Stop()

	for i := 0; i < 4; i++ {
		buf, err := track.Read(nil)
		require.NoError(t, err)
		require.Equal(t, int64(i)*40000, buf.TimeUs)
		require.True(t, buf.SyncFrame)
		require.Equal(t, []byte{0xff, 0xfb, byte(i)}, buf.Data)
		buf.Release()
	}
}

// Streams with an unrecognized codec stay out of the track list but do
// not fail the parse.
func TestUnknownCodecHidden(t *testing.T) {
	mjpeg := fakeStream{
		strh:     videoStreamHeader("MJPG", 1, 25),
		strf:     bitmapInfo(640, 480, "MJPG"),
		chunkID:  "00dc",
		payloads: [][]byte{{0xff, 0xd8, 0xff, 0xd9}},
		keys:     []bool{true},
	}
	mp4v := mpeg4Stream(2)
	mp4v.chunkID = "01dc"

	file := buildAVI(t, []fakeStream{mjpeg, mp4v}, false)
	extractor, err := NewExtractor(media.NewBufferSource(file))
	require.NoError(t, err)
	require.Equal(t, 1, extractor.TrackCount())

	mime, _ := extractor.TrackMetaData(0).Str(media.KeyMIMEType)
	require.Equal(t, media.MIMEVideoMPEG4, mime)
}

func TestMissingIndex(t *testing.T) {
	file := buildAVI(t, []fakeStream{mpeg4Stream(2)}, false)
	idx1 := bytes.Index(file, []byte("idx1"))
	file = file[:idx1]
	binary.LittleEndian.PutUint32(file[4:8], uint32(len(file)-8))

	_, err := NewExtractor(media.NewBufferSource(file))
	require.ErrorIs(t, err, ErrNoIndex)
}
