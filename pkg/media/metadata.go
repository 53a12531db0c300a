package media

import (
	"fmt"
	"sort"
)

// Key identifies one typed metadata field.
type Key uint8

// Metadata keys.
const (
	KeyMIMEType Key = iota
	KeySampleRate
	KeyChannelCount
	KeyBitsPerSample
	KeyWidth
	KeyHeight
	KeyDurationUs
	KeyBitRate
	KeyFrameRate
	KeyMaxInputSize

	// Codec configuration blobs.
	KeyAVCC        // AVCDecoderConfigurationRecord.
	KeyESDS        // MPEG-4 ES_Descriptor payload.
	KeyCodecConfig // Raw codec setup data (Vorbis headers, VOL header).

	// File-level tags.
	KeyTitle
	KeyArtist
	KeyAlbumArtist
	KeyAlbum
	KeyComposer
	KeyGenre
	KeyYear
	KeyTrackNumber
	KeyDiscNumber
	KeyDate
	KeyLyricist
	KeyAlbumArt
	KeyAlbumArtMIME
)

var keyNames = map[Key]string{
	KeyMIMEType:      "mime",
	KeySampleRate:    "sampleRate",
	KeyChannelCount:  "channels",
	KeyBitsPerSample: "bitsPerSample",
	KeyWidth:         "width",
	KeyHeight:        "height",
	KeyDurationUs:    "durationUs",
	KeyBitRate:       "bitRate",
	KeyFrameRate:     "frameRate",
	KeyMaxInputSize:  "maxInputSize",
	KeyAVCC:          "avcC",
	KeyESDS:          "esds",
	KeyCodecConfig:   "codecConfig",
	KeyTitle:         "title",
	KeyArtist:        "artist",
	KeyAlbumArtist:   "albumArtist",
	KeyAlbum:         "album",
	KeyComposer:      "composer",
	KeyGenre:         "genre",
	KeyYear:          "year",
	KeyTrackNumber:   "trackNumber",
	KeyDiscNumber:    "discNumber",
	KeyDate:          "date",
	KeyLyricist:      "lyricist",
	KeyAlbumArt:      "albumArt",
	KeyAlbumArtMIME:  "albumArtMime",
}

func (k Key) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("key(%d)", int(k))
}

// MIME types produced by the extractors.
const (
	MIMEAudioAMRNB  = "audio/3gpp"
	MIMEAudioAMRWB  = "audio/amr-wb"
	MIMEAudioAAC    = "audio/mp4a-latm"
	MIMEAudioMPEG   = "audio/mpeg"
	MIMEAudioRaw    = "audio/raw"
	MIMEAudioALaw   = "audio/g711-alaw"
	MIMEAudioMLaw   = "audio/g711-mlaw"
	MIMEAudioVorbis = "audio/vorbis"
	MIMEAudioFLAC   = "audio/flac"

	MIMEVideoAVC   = "video/avc"
	MIMEVideoMPEG2 = "video/mpeg2"
	MIMEVideoMPEG4 = "video/mp4v-es"

	MIMEContainerWAV     = "audio/x-wav"
	MIMEContainerAACADTS = "audio/aac-adts"
	MIMEContainerOgg     = "application/ogg"
	MIMEContainerAVI     = "video/avi"
	MIMEContainerMPEG2PS = "video/mp2p"
)

// MetaData is a typed key/value map describing a container or track.
// It is built once by the owning extractor; tracks hold it read-only.
type MetaData struct {
	values map[Key]interface{}
}

// NewMetaData creates an empty MetaData.
func NewMetaData() *MetaData {
	return &MetaData{values: make(map[Key]interface{})}
}

// SetStr sets a string value.
func (m *MetaData) SetStr(key Key, v string) { m.values[key] = v }

// SetInt sets an integer value.
func (m *MetaData) SetInt(key Key, v int) { m.values[key] = v }

// SetInt64 sets a 64-bit integer value.
func (m *MetaData) SetInt64(key Key, v int64) { m.values[key] = v }

// SetBytes sets an opaque byte value. The slice is stored as-is.
func (m *MetaData) SetBytes(key Key, v []byte) { m.values[key] = v }

// Str returns a string value.
func (m *MetaData) Str(key Key) (string, bool) {
	v, ok := m.values[key].(string)
	return v, ok
}

// Int returns an integer value.
func (m *MetaData) Int(key Key) (int, bool) {
	v, ok := m.values[key].(int)
	return v, ok
}

// Int64 returns a 64-bit integer value.
func (m *MetaData) Int64(key Key) (int64, bool) {
	v, ok := m.values[key].(int64)
	return v, ok
}

// Bytes returns an opaque byte value.
func (m *MetaData) Bytes(key Key) ([]byte, bool) {
	v, ok := m.values[key].([]byte)
	return v, ok
}

// Has reports whether key is set.
func (m *MetaData) Has(key Key) bool {
	_, ok := m.values[key]
	return ok
}

// Keys returns the set keys in ascending order.
func (m *MetaData) Keys() []Key {
	keys := make([]Key, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Value returns the raw value for key.
func (m *MetaData) Value(key Key) (interface{}, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Clone returns a deep copy.
func (m *MetaData) Clone() *MetaData {
	c := NewMetaData()
	for k, v := range m.values {
		if b, ok := v.([]byte); ok {
			dup := make([]byte, len(b))
			copy(dup, b)
			c.values[k] = dup
			continue
		}
		c.values[k] = v
	}
	return c
}
