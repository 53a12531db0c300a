package ogg

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"demux/pkg/media"
)

// Vorbis header packet types.
const (
	packetTypeInfo    = 0x01
	packetTypeComment = 0x03
	packetTypeSetup   = 0x05
)

var vorbisSignature = []byte("vorbis")

// Vorbis errors.
var (
	ErrNotVorbisHeader = errors.New("ogg: not a vorbis header packet")
	ErrBadInfoHeader   = errors.New("ogg: malformed vorbis info header")
	ErrBadComments     = errors.New("ogg: malformed vorbis comment header")
)

// verifyVorbisHeader checks the packet-type byte and the "vorbis"
// signature.
func verifyVorbisHeader(packet []byte, packetType uint8) error {
	if len(packet) < 7 || packet[0] != packetType || !bytes.Equal(packet[1:7], vorbisSignature) {
		return fmt.Errorf("%w: want type %d: %w", ErrNotVorbisHeader, packetType, media.ErrMalformed)
	}
	return nil
}

// vorbisInfo is the identification header of a Vorbis stream.
type vorbisInfo struct {
	channels       int
	sampleRate     int
	bitrateMax     int
	bitrateNominal int
	bitrateMin     int
}

func parseVorbisInfo(packet []byte) (*vorbisInfo, error) {
	if err := verifyVorbisHeader(packet, packetTypeInfo); err != nil {
		return nil, err
	}
	if len(packet) < 30 {
		return nil, fmt.Errorf("%w: %d bytes: %w", ErrBadInfoHeader, len(packet), media.ErrMalformed)
	}

	if version := binary.LittleEndian.Uint32(packet[7:11]); version != 0 {
		return nil, fmt.Errorf("%w: version %d: %w", ErrBadInfoHeader, version, media.ErrUnsupported)
	}

	info := &vorbisInfo{
		channels:       int(packet[11]),
		sampleRate:     int(binary.LittleEndian.Uint32(packet[12:16])),
		bitrateMax:     int(int32(binary.LittleEndian.Uint32(packet[16:20]))),
		bitrateNominal: int(int32(binary.LittleEndian.Uint32(packet[20:24]))),
		bitrateMin:     int(int32(binary.LittleEndian.Uint32(packet[24:28]))),
	}

	if info.channels == 0 || info.sampleRate == 0 {
		return nil, fmt.Errorf("%w: %w", ErrBadInfoHeader, media.ErrMalformed)
	}
	return info, nil
}

// approxBitrate estimates the stream bitrate for duration fallback.
func (i *vorbisInfo) approxBitrate() int {
	if i.bitrateNominal > 0 {
		return i.bitrateNominal
	}
	if i.bitrateMax > 0 && i.bitrateMin > 0 {
		return (i.bitrateMax + i.bitrateMin) / 2
	}
	return 0
}

// parseVorbisComments maps the comment header's fields onto meta.
func parseVorbisComments(packet []byte, meta *media.MetaData) error {
	if err := verifyVorbisHeader(packet, packetTypeComment); err != nil {
		return err
	}

	pos := 7
	readU32 := func() (int, bool) {
		if pos+4 > len(packet) {
			return 0, false
		}
		v := int(binary.LittleEndian.Uint32(packet[pos : pos+4]))
		pos += 4
		return v, true
	}

	vendorLen, ok := readU32()
	if !ok || pos+vendorLen > len(packet) {
		return fmt.Errorf("%w: %w", ErrBadComments, media.ErrMalformed)
	}
	pos += vendorLen

	count, ok := readU32()
	if !ok {
		return fmt.Errorf("%w: %w", ErrBadComments, media.ErrMalformed)
	}

	for i := 0; i < count; i++ {
		length, ok := readU32()
		if !ok || pos+length > len(packet) {
			return fmt.Errorf("%w: %w", ErrBadComments, media.ErrMalformed)
		}
		comment := string(packet[pos : pos+length])
		pos += length

		if name, value, found := strings.Cut(comment, "="); found &&
			strings.EqualFold(name, "METADATA_BLOCK_PICTURE") {
			setPictureComment(meta, value)
			continue
		}
		media.SetVorbisComment(meta, comment)
	}
	return nil
}

// Picture types from the FLAC PICTURE block.
const pictureTypeFrontCover = 3

// setPictureComment decodes a base64 METADATA_BLOCK_PICTURE comment and
// keeps inline front-cover images only.
func setPictureComment(meta *media.MetaData, value string) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return
	}

	mime, image, ok := parsePictureBlock(raw)
	if !ok {
		return
	}
	meta.SetBytes(media.KeyAlbumArt, image)
	meta.SetStr(media.KeyAlbumArtMIME, mime)
}

// parsePictureBlock decodes a FLAC PICTURE structure. Pictures that are
// not front covers, or whose MIME type is the "-->" URL marker, are
// dropped.
func parsePictureBlock(raw []byte) (string, []byte, bool) {
	pos := 0
	readU32 := func() (int, bool) {
		if pos+4 > len(raw) {
			return 0, false
		}
		v := int(binary.BigEndian.Uint32(raw[pos : pos+4]))
		pos += 4
		return v, true
	}

	pictureType, ok := readU32()
	if !ok || pictureType != pictureTypeFrontCover {
		return "", nil, false
	}

	mimeLen, ok := readU32()
	if !ok || pos+mimeLen > len(raw) {
		return "", nil, false
	}
	mime := string(raw[pos : pos+mimeLen])
	pos += mimeLen
	if mime == "-->" {
		return "", nil, false
	}

	descLen, ok := readU32()
	if !ok || pos+descLen > len(raw) {
		return "", nil, false
	}
	pos += descLen

	// Width, height, depth, colors.
	pos += 16

	dataLen, ok := readU32()
	if !ok || pos+dataLen > len(raw) {
		return "", nil, false
	}
	return mime, raw[pos : pos+dataLen], true
}
