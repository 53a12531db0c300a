package amr

import (
	"testing"

	"demux/pkg/media"

	"github.com/stretchr/testify/require"
)

// nbFrame returns one AMR-NB frame with the given frame type, padded
// with zero speech bits.
func nbFrame(frameType uint8) []byte {
	size, _ := FrameSize(false, frameType)
	frame := make([]byte, size)
	frame[0] = frameType << 3
	return frame
}

func nbStream(frameTypes ...uint8) []byte {
	out := []byte("#!AMR\n")
	for _, ft := range frameTypes {
		out = append(out, nbFrame(ft)...)
	}
	return out
}

func TestFrameSize(t *testing.T) {
	expectedNB := []int{13, 14, 16, 18, 19, 21, 26, 31}
	for ft := uint8(0); ft <= 7; ft++ {
		size, err := FrameSize(false, ft)
		require.NoError(t, err)
		require.Equal(t, expectedNB[ft], size)
	}

	expectedWB := []int{18, 24, 33, 37, 41, 47, 51, 59, 61}
	for ft := uint8(0); ft <= 8; ft++ {
		size, err := FrameSize(true, ft)
		require.NoError(t, err)
		require.Equal(t, expectedWB[ft], size)
	}

	_, err := FrameSize(false, 8)
	require.ErrorIs(t, err, media.ErrMalformed)
	_, err = FrameSize(true, 9)
	require.ErrorIs(t, err, media.ErrMalformed)
}

func TestSniff(t *testing.T) {
	mime, confidence, ok := Sniff(media.NewBufferSource(nbStream(0)))
	require.True(t, ok)
	require.Equal(t, media.MIMEAudioAMRNB, mime)
	require.Equal(t, float32(0.5), confidence)

	wb := append([]byte("#!AMR-WB\n"), 0)
	mime, _, ok = Sniff(media.NewBufferSource(wb))
	require.True(t, ok)
	require.Equal(t, media.MIMEAudioAMRWB, mime)

	_, _, ok = Sniff(media.NewBufferSource([]byte("RIFF")))
	require.False(t, ok)
}

func TestExtractor(t *testing.T) {
	src := media.NewBufferSource(nbStream(0, 1, 7, 3))
	e, err := NewExtractor(src)
	require.NoError(t, err)
	require.Equal(t, 1, e.TrackCount())

	meta := e.TrackMetaData(0)
	mime, _ := meta.Str(media.KeyMIMEType)
	require.Equal(t, media.MIMEAudioAMRNB, mime)
	durationUs, _ := meta.Int64(media.KeyDurationUs)
	require.Equal(t, int64(4*20000), durationUs)

	track := e.Track(0)
	require.NoError(t, track.Start())

	expectedSizes := []int{13, 14, 31, 18}
	for i, size := range expectedSizes {
		buf, err := track.Read(nil)
		require.NoError(t, err)
		require.Equal(t, size, len(buf.Data))
		require.Equal(t, int64(i*20000), buf.TimeUs)
		require.True(t, buf.SyncFrame)
		buf.Release()
	}

	_, err = track.Read(nil)
	require.ErrorIs(t, err, media.ErrEndOfStream)
	require.NoError(t, track.Stop())
}

func TestSeekLandsOnFrameBoundary(t *testing.T) {
	frameTypes := make([]uint8, 120)
	for i := range frameTypes {
		frameTypes[i] = uint8(i % 8)
	}
	src := media.NewBufferSource(nbStream(frameTypes...))

	e, err := NewExtractor(src)
	require.NoError(t, err)

	track := e.Track(0)
	require.NoError(t, track.Start())
	defer track.Stop()

	for _, timeUs := range []int64{0, 19999, 20000, 1130000, 2390000} {
		var opts media.ReadOptions
		opts.SetSeekTo(timeUs, media.SeekClosestSync)

		buf, err := track.Read(&opts)
		require.NoError(t, err)
		require.Equal(t, (timeUs/20000)*20000, buf.TimeUs)

		expectedSize, _ := FrameSize(false, frameTypes[timeUs/20000])
		require.Equal(t, expectedSize, len(buf.Data))
		buf.Release()
	}
}

func TestStopStartRewinds(t *testing.T) {
	src := media.NewBufferSource(nbStream(0, 1, 2))
	e, err := NewExtractor(src)
	require.NoError(t, err)

	track := e.Track(0)
	require.NoError(t, track.Start())
	require.Error(t, track.Start())

	buf, err := track.Read(nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), buf.TimeUs)
	buf.Release()

	require.NoError(t, track.Stop())
	require.NoError(t, track.Start())

	buf, err = track.Read(nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), buf.TimeUs)
	buf.Release()
}

func TestBadFirstFrameRejected(t *testing.T) {
	bad := append([]byte("#!AMR\n"), 0x48) // Frame type 9.
	_, err := NewExtractor(media.NewBufferSource(bad))
	require.Error(t, err)

	_, err = NewExtractor(media.NewBufferSource([]byte("#!XYZ\n")))
	require.ErrorIs(t, err, ErrBadMagic)
}
