package media

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadFullAt(t *testing.T) {
	src := NewBufferSource([]byte{1, 2, 3, 4})

	buf := make([]byte, 2)
	require.NoError(t, ReadFullAt(src, buf, 1))
	require.Equal(t, []byte{2, 3}, buf)

	// Past the end.
	err := ReadFullAt(src, make([]byte, 4), 2)
	require.ErrorIs(t, err, ErrShortRead)

	err = ReadFullAt(src, make([]byte, 1), 100)
	require.ErrorIs(t, err, ErrShortRead)
}

func TestReadIntegers(t *testing.T) {
	src := NewBufferSource([]byte{0x12, 0x34, 0x56, 0x78})

	u16, err := ReadU16BE(src, 0)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), u16)

	u32, err := ReadU32BE(src, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(0x12345678), u32)

	u32, err = ReadU32LE(src, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(0x78563412), u32)
}

func TestSniffBestMatch(t *testing.T) {
	elementary := func(DataSource) (string, float32, bool) {
		return MIMEAudioMPEG, 0.2, true
	}
	container := func(DataSource) (string, float32, bool) {
		return MIMEContainerAVI, 0.21, true
	}
	never := func(DataSource) (string, float32, bool) {
		return "", 0, false
	}

	// A container outranks the bare frame sync of its embedded audio.
	mime, confidence, ok := Sniff(NewBufferSource(nil), never, elementary, container)
	require.True(t, ok)
	require.Equal(t, MIMEContainerAVI, mime)
	require.Equal(t, float32(0.21), confidence)

	_, _, ok = Sniff(NewBufferSource(nil), never)
	require.False(t, ok)
}

func TestBufferPoolReuse(t *testing.T) {
	pool := NewBufferPool(1)

	first := pool.Get(16)
	first.TimeUs = 42
	first.SyncFrame = true
	first.Release()

	// A fitting request reuses the freed buffer with its state reset.
	second := pool.Get(8)
	require.Same(t, first, second)
	require.Len(t, second.Data, 8)
	require.Zero(t, second.TimeUs)
	require.False(t, second.SyncFrame)

	// Too large for the freed buffer, allocate.
	third := pool.Get(64)
	require.NotSame(t, second, third)
}

func TestBufferPoolBounded(t *testing.T) {
	pool := NewBufferPool(1)

	a := pool.Get(4)
	b := pool.Get(4)
	a.Release()
	b.Release() // Dropped, pool already full.

	require.Len(t, pool.free, 1)
}

func TestMetaDataClone(t *testing.T) {
	m := NewMetaData()
	m.SetStr(KeyMIMEType, MIMEAudioVorbis)
	m.SetInt(KeySampleRate, 44100)
	m.SetBytes(KeyCodecConfig, []byte{1, 2, 3})

	c := m.Clone()
	blob, _ := c.Bytes(KeyCodecConfig)
	blob[0] = 9

	original, _ := m.Bytes(KeyCodecConfig)
	require.Equal(t, byte(1), original[0])

	rate, ok := c.Int(KeySampleRate)
	require.True(t, ok)
	require.Equal(t, 44100, rate)
}

func TestMetaDataKeys(t *testing.T) {
	m := NewMetaData()
	m.SetStr(KeyTitle, "a")
	m.SetInt(KeySampleRate, 8000)
	m.SetStr(KeyMIMEType, MIMEAudioRaw)

	require.Equal(t, []Key{KeyMIMEType, KeySampleRate, KeyTitle}, m.Keys())
}

func TestReadOptionsSeek(t *testing.T) {
	var opts ReadOptions

	_, _, ok := opts.SeekTo()
	require.False(t, ok)

	opts.SetSeekTo(5000, SeekNextSync)
	timeUs, mode, ok := opts.SeekTo()
	require.True(t, ok)
	require.Equal(t, int64(5000), timeUs)
	require.Equal(t, SeekNextSync, mode)

	opts.ClearSeekTo()
	_, _, ok = opts.SeekTo()
	require.False(t, ok)
}

func TestVorbisCommentMapping(t *testing.T) {
	cases := []struct {
		comment  string
		key      Key
		expected string
	}{
		{"TITLE=Song", KeyTitle, "Song"},
		{"artist=Band", KeyArtist, "Band"},
		{"ALBUM ARTIST=Various", KeyAlbumArtist, "Various"},
		{"TRACKNUMBER=7", KeyTrackNumber, "7"},
	}
	for _, tc := range cases {
		m := NewMetaData()
		SetVorbisComment(m, tc.comment)
		value, ok := m.Str(tc.key)
		require.True(t, ok, tc.comment)
		require.Equal(t, tc.expected, value)
	}

	m := NewMetaData()
	SetVorbisComment(m, "UNKNOWNFIELD=x")
	SetVorbisComment(m, "TITLE=")
	SetVorbisComment(m, "no separator")
	require.Empty(t, m.Keys())
}
