package mpegps

import (
	"testing"

	"github.com/stretchr/testify/require"

	"demux/pkg/media"
)

func packHeader() []byte {
	return []byte{
		0x00, 0x00, 0x01, 0xba,
		0x44, 0x00, 0x04, 0x00, 0x04, 0x01, // SCR.
		0x00, 0x00, 0x03, // Program mux rate.
		0xf8, // Reserved, no stuffing.
	}
}

func ptsBytes(prefix uint8, pts int64) []byte {
	return []byte{
		prefix<<4 | uint8(pts>>30&0x07)<<1 | 1,
		uint8(pts >> 22),
		uint8(pts>>15&0x7f)<<1 | 1,
		uint8(pts >> 7),
		uint8(pts&0x7f)<<1 | 1,
	}
}

func pesPacket(id uint8, pts int64, payload []byte) []byte {
	var header []byte
	flags := byte(0x00)
	if pts >= 0 {
		flags = 0x80
		header = ptsBytes(2, pts)
	}

	length := 3 + len(header) + len(payload)
	packet := []byte{
		0x00, 0x00, 0x01, id,
		byte(length >> 8), byte(length),
		0x80, flags, byte(len(header)),
	}
	packet = append(packet, header...)
	return append(packet, payload...)
}

// programStreamMap builds a PSM mapping one elementary stream id to a
// stream_type.
func programStreamMap(esID, streamType uint8) []byte {
	body := []byte{
		0xe0, 0xff, // current_next + version, marker.
		0x00, 0x00, // program_stream_info_length.
		0x00, 0x04, // elementary_stream_map_length.
		streamType, esID, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, // CRC32.
	}
	packet := []byte{
		0x00, 0x00, 0x01, 0xbc,
		byte(len(body) >> 8), byte(len(body)),
	}
	return append(packet, body...)
}

func TestParseTimestamp(t *testing.T) {
	// '0011' 100 1 | 8 bits | 15 bits 1 | 15 bits 1 reconstructs the
	// 33-bit value with the top bits restored.
	pts, err := parseTimestamp([]byte{0x39, 0x00, 0x01, 0x00, 0x03}, 3)
	require.NoError(t, err)
	require.Equal(t, int64(4<<30|1), pts)

	pts, err = parseTimestamp(ptsBytes(2, 4294967296), 2) // Bit 32 set.
	require.NoError(t, err)
	require.Equal(t, int64(4294967296), pts)

	pts, err = parseTimestamp(ptsBytes(1, 900000), 1)
	require.NoError(t, err)
	require.Equal(t, int64(900000), pts)

	// Wrong prefix tag.
	_, err = parseTimestamp(ptsBytes(2, 900000), 3)
	require.ErrorIs(t, err, ErrBadMarkerBits)

	// Corrupted middle marker bit.
	bad := ptsBytes(2, 900000)
	bad[2] &^= 0x01
	_, err = parseTimestamp(bad, 2)
	require.ErrorIs(t, err, ErrBadMarkerBits)
	require.ErrorIs(t, err, media.ErrMalformed)
}

func TestSniff(t *testing.T) {
	stream := append(packHeader(), pesPacket(0xc0, 0, []byte{0x01})...)
	mime, confidence, ok := Sniff(media.NewBufferSource(stream))
	require.True(t, ok)
	require.Equal(t, media.MIMEContainerMPEG2PS, mime)
	require.Equal(t, float32(0.25), confidence)

	_, _, ok = Sniff(media.NewBufferSource([]byte{0x00, 0x00, 0x01, 0xe0, 0x00}))
	require.False(t, ok)
}

// MPEG-1 layer III, 128 kbit/s, 44.1 kHz, stereo: 417 byte frames.
func mp3Frame(fill byte) []byte {
	frame := make([]byte, 417)
	copy(frame, []byte{0xff, 0xfb, 0x90, 0x00})
	for i := 4; i < len(frame); i++ {
		frame[i] = fill
	}
	return frame
}

func TestAudioStream(t *testing.T) {
	var file []byte
	file = append(file, packHeader()...)
	file = append(file, pesPacket(0xc0, 0, mp3Frame(0x11))...)
	file = append(file, pesPacket(0xc0, 2351, mp3Frame(0x22))...)

	extractor, err := NewExtractor(media.NewBufferSource(file))
	require.NoError(t, err)
	require.Equal(t, 1, extractor.TrackCount())

	meta := extractor.TrackMetaData(0)
	mime, _ := meta.Str(media.KeyMIMEType)
	require.Equal(t, media.MIMEAudioMPEG, mime)
	rate, _ := meta.Int(media.KeySampleRate)
	require.Equal(t, 44100, rate)

	track := extractor.Track(0)
	require.NoError(t, track.Start())

	buf, err := track.Read(nil)
	require.NoError(t, err)
	require.Equal(t, mp3Frame(0x11), buf.Data)
	require.Equal(t, int64(0), buf.TimeUs)

	buf, err = track.Read(nil)
	require.NoError(t, err)
	require.Equal(t, mp3Frame(0x22), buf.Data)
	require.Equal(t, int64(2351)*100/9, buf.TimeUs)

	_, err = track.Read(nil)
	require.ErrorIs(t, err, media.ErrEndOfStream)
	require.NoError(t, track.Stop())
}

var (
	testSPS = []byte{0x67, 0x42, 0xc0, 0x1e, 0xf4, 0x0a, 0x0f, 0xc8}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, nalu := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, nalu...)
	}
	return out
}

func TestH264StreamViaProgramStreamMap(t *testing.T) {
	idrSlice := []byte{0x65, 0x88, 0x84, 0x21}
	delimiter := []byte{0x09, 0x10}

	var file []byte
	file = append(file, packHeader()...)
	file = append(file, programStreamMap(0xe0, 0x1b)...)
	file = append(file, pesPacket(0xe0, 3003, annexB(testSPS, testPPS, idrSlice))...)
	file = append(file, pesPacket(0xe0, 6006, annexB(delimiter, idrSlice))...)

	extractor, err := NewExtractor(media.NewBufferSource(file))
	require.NoError(t, err)
	require.Equal(t, 1, extractor.TrackCount())

	meta := extractor.TrackMetaData(0)
	mime, _ := meta.Str(media.KeyMIMEType)
	require.Equal(t, media.MIMEVideoAVC, mime)
	width, _ := meta.Int(media.KeyWidth)
	require.Equal(t, 320, width)
	require.True(t, meta.Has(media.KeyAVCC))

	track := extractor.Track(0)
	require.NoError(t, track.Start())

	buf, err := track.Read(nil)
	require.NoError(t, err)
	require.Equal(t, annexB(testSPS, testPPS, idrSlice), buf.Data)
	require.Equal(t, int64(3003)*100/9, buf.TimeUs)
	require.True(t, buf.SyncFrame)
}

func TestVideoStreamInferredFromRange(t *testing.T) {
	sequence := []byte{0x00, 0x00, 0x01, 0xb3, 0x14, 0x00, 0xf0, 0x00} // 320x240.
	picture := []byte{0x00, 0x00, 0x01, 0x00, 0x0a, 0x0b}

	var file []byte
	file = append(file, packHeader()...)
	file = append(file, pesPacket(0xe3, 0, append(sequence, picture...))...)
	file = append(file, pesPacket(0xe3, 3600, picture)...)
	file = append(file, pesPacket(0xe3, 7200, picture)...)

	extractor, err := NewExtractor(media.NewBufferSource(file))
	require.NoError(t, err)
	require.Equal(t, 1, extractor.TrackCount())

	meta := extractor.TrackMetaData(0)
	mime, _ := meta.Str(media.KeyMIMEType)
	require.Equal(t, media.MIMEVideoMPEG2, mime)
	width, _ := meta.Int(media.KeyWidth)
	height, _ := meta.Int(media.KeyHeight)
	require.Equal(t, 320, width)
	require.Equal(t, 240, height)
}

// A corrupted PTS marker poisons construction before any format is
// known, leaving an empty extractor rather than an error.
func TestCorruptMarkerLeavesNoTracks(t *testing.T) {
	packet := pesPacket(0xc0, 2351, mp3Frame(0x11))
	packet[9] &^= 0x01 // First PTS marker bit.

	file := append(packHeader(), packet...)

	extractor, err := NewExtractor(media.NewBufferSource(file))
	require.NoError(t, err)
	require.Equal(t, 0, extractor.TrackCount())
}

func TestSeekUnsupported(t *testing.T) {
	var file []byte
	file = append(file, packHeader()...)
	file = append(file, pesPacket(0xc0, 0, mp3Frame(0x11))...)

	extractor, err := NewExtractor(media.NewBufferSource(file))
	require.NoError(t, err)
	require.Equal(t, 1, extractor.TrackCount())

	track := extractor.Track(0)
	require.NoError(t, track.Start())

	var opts media.ReadOptions
	opts.SetSeekTo(0, media.SeekClosestSync)
	_, err = track.Read(&opts)
	require.ErrorIs(t, err, media.ErrUnsupported)
}

func TestReadBeforeStart(t *testing.T) {
	var file []byte
	file = append(file, packHeader()...)
	file = append(file, pesPacket(0xc0, 0, mp3Frame(0x11))...)

	extractor, err := NewExtractor(media.NewBufferSource(file))
	require.NoError(t, err)

	track := extractor.Track(0)
	_, err = track.Read(nil)
	require.ErrorIs(t, err, media.ErrNotStarted)
}
