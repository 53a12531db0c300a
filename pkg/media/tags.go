package media

import "strings"

var vorbisCommentKeys = map[string]Key{
	"TITLE":        KeyTitle,
	"ARTIST":       KeyArtist,
	"ALBUMARTIST":  KeyAlbumArtist,
	"ALBUM ARTIST": KeyAlbumArtist,
	"ALBUM":        KeyAlbum,
	"COMPOSER":     KeyComposer,
	"GENRE":        KeyGenre,
	"YEAR":         KeyYear,
	"DATE":         KeyDate,
	"TRACKNUMBER":  KeyTrackNumber,
	"DISCNUMBER":   KeyDiscNumber,
	"LYRICIST":     KeyLyricist,
}

// SetVorbisComment maps one "NAME=value" Vorbis comment field onto m.
// Unknown names are ignored.
func SetVorbisComment(m *MetaData, comment string) {
	name, value, found := strings.Cut(comment, "=")
	if !found || value == "" {
		return
	}
	key, ok := vorbisCommentKeys[strings.ToUpper(name)]
	if !ok {
		return
	}
	m.SetStr(key, value)
}
