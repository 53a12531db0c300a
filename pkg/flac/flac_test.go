package flac

import (
	"testing"

	"github.com/mewkiz/flac/meta"
	"github.com/stretchr/testify/require"

	"demux/pkg/media"
)

func TestValidateStreamInfo(t *testing.T) {
	cases := []struct {
		name     string
		channels uint8
		bits     uint8
		rate     uint32
		wantErr  error
	}{
		{"mono 16-bit 44.1kHz", 1, 16, 44100, nil},
		{"stereo 24-bit 48kHz", 2, 24, 48000, nil},
		{"stereo 8-bit 8kHz", 2, 8, 8000, nil},
		{"5.1 surround", 6, 16, 44100, ErrBadChannelCount},
		{"20-bit depth", 2, 20, 44100, ErrBadBitDepth},
		{"96kHz", 2, 16, 96000, ErrBadSampleRate},
		{"88.2kHz", 2, 16, 88200, ErrBadSampleRate},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := validateStreamInfo(&meta.StreamInfo{
				NChannels:     c.channels,
				BitsPerSample: c.bits,
				SampleRate:    c.rate,
			})
			if c.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, c.wantErr)
			require.ErrorIs(t, err, media.ErrUnsupported)
		})
	}
}

func TestPCM16Conversion(t *testing.T) {
	// 16-bit stereo passes through interleaved.
	out := pcm16FromSamples([][]int32{
		{0x1234, -2},
		{0x0001, 0x7fff},
	}, 16)
	require.Equal(t, []byte{
		0x34, 0x12, 0x01, 0x00,
		0xfe, 0xff, 0xff, 0x7f,
	}, out)

	// 8-bit widens into the high byte.
	out = pcm16FromSamples([][]int32{{1, -1}}, 8)
	require.Equal(t, []byte{0x00, 0x01, 0x00, 0xff}, out)

	// 24-bit truncates the low byte.
	out = pcm16FromSamples([][]int32{{0x123456, -0x123456}}, 24)
	require.Equal(t, []byte{0x34, 0x12, 0xcb, 0xed}, out)
}

func TestPCM16SilenceRoundTrip(t *testing.T) {
	silence := make([]int32, 100)

	for _, bits := range []int{8, 24} {
		out := pcm16FromSamples([][]int32{silence}, bits)
		require.Len(t, out, 200)
		for _, b := range out {
			require.Zero(t, b)
		}
	}
}

func TestApplyVorbisComments(t *testing.T) {
	m := media.NewMetaData()
	applyVorbisComments(m, [][2]string{
		{"TITLE", "Ritt der Toten"},
		{"artist", "Nachtmahr"},
		{"UNKNOWNFIELD", "dropped"},
	})

	title, _ := m.Str(media.KeyTitle)
	require.Equal(t, "Ritt der Toten", title)
	artist, _ := m.Str(media.KeyArtist)
	require.Equal(t, "Nachtmahr", artist)
	require.False(t, m.Has(media.KeyGenre))
}

func TestApplyPicture(t *testing.T) {
	m := media.NewMetaData()

	// Back cover is dropped.
	applyPicture(m, 4, "image/png", []byte{1, 2, 3})
	require.False(t, m.Has(media.KeyAlbumArt))

	// URL reference is dropped.
	applyPicture(m, pictureTypeFrontCover, "-->", []byte("http://x"))
	require.False(t, m.Has(media.KeyAlbumArt))

	applyPicture(m, pictureTypeFrontCover, "image/jpeg", []byte{0xff, 0xd8})
	art, ok := m.Bytes(media.KeyAlbumArt)
	require.True(t, ok)
	require.Equal(t, []byte{0xff, 0xd8}, art)
	mime, _ := m.Str(media.KeyAlbumArtMIME)
	require.Equal(t, "image/jpeg", mime)
}

func TestSniff(t *testing.T) {
	mime, confidence, ok := Sniff(media.NewBufferSource([]byte("fLaC\x00\x00\x00\x22")))
	require.True(t, ok)
	require.Equal(t, media.MIMEAudioFLAC, mime)
	require.Equal(t, float32(0.5), confidence)

	_, _, ok = Sniff(media.NewBufferSource([]byte("OggS")))
	require.False(t, ok)
}
