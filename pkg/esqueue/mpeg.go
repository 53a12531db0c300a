package esqueue

import (
	"bytes"
	"fmt"

	"demux/pkg/media"
)

// MPEG video start codes (the byte following the 0x000001 prefix).
const (
	mpegPictureStartCode   = 0x00
	mpegSequenceStartCode  = 0xb3
	mpegExtensionStartCode = 0xb5
	mpegGroupStartCode     = 0xb8
)

var startCodePrefix = []byte{0x00, 0x00, 0x01}

// nextStartCode returns the offset of the next 0x000001 prefix at or
// after pos with its code byte present, or -1.
func nextStartCode(buf []byte, pos int) int {
	for {
		i := bytes.Index(buf[pos:], startCodePrefix)
		if i < 0 {
			return -1
		}
		pos += i
		if pos+4 > len(buf) {
			return -1
		}
		return pos
	}
}

// dequeueMPEGVideo derives the stream format from the sequence header
// (plus any extensions) and flushes one access unit per coded picture.
// The first access unit keeps the sequence header bytes in front of it.
func (q *Queue) dequeueMPEGVideo() (*AccessUnit, error) {
	sawPicture := false
	seqStart := -1

	pos := 0
	for {
		i := nextStartCode(q.buf, pos)
		if i < 0 {
			return nil, nil
		}
		code := q.buf[i+3]

		if q.format == nil {
			switch {
			case seqStart < 0:
				if code != mpegSequenceStartCode {
					return nil, fmt.Errorf(
						"mpeg video stream starts with code %#02x: %w", code, media.ErrMalformed)
				}
				seqStart = i

			case code != mpegExtensionStartCode:
				// Sequence header and extensions are complete.
				if err := q.deriveMPEGFormat(q.buf[seqStart:i]); err != nil {
					return nil, err
				}
			}
		}

		if q.format != nil {
			switch {
			case code == mpegPictureStartCode:
				if sawPicture {
					return q.flushMPEG(i)
				}
				sawPicture = true

			case sawPicture &&
				(code == mpegSequenceStartCode || code == mpegGroupStartCode):
				return q.flushMPEG(i)
			}
		}

		pos = i + 4
	}
}

func (q *Queue) flushMPEG(end int) (*AccessUnit, error) {
	au := &AccessUnit{Data: make([]byte, end)}
	copy(au.Data, q.buf[:end])
	au.SyncFrame = bytes.Contains(au.Data,
		[]byte{0x00, 0x00, 0x01, mpegSequenceStartCode})

	timeUs, err := q.consume(end)
	if err != nil {
		return nil, err
	}
	au.TimeUs = timeUs
	return au, nil
}

// deriveMPEGFormat decodes the fixed-layout dimension fields of a
// sequence header and stores the header bytes as codec config.
func (q *Queue) deriveMPEGFormat(config []byte) error {
	if len(config) < 8 {
		return fmt.Errorf("sequence header too short: %w", media.ErrMalformed)
	}

	width := int(config[4])<<4 | int(config[5])>>4
	height := int(config[5]&0x0f)<<8 | int(config[6])

	meta := media.NewMetaData()
	meta.SetStr(media.KeyMIMEType, media.MIMEVideoMPEG2)
	meta.SetInt(media.KeyWidth, width)
	meta.SetInt(media.KeyHeight, height)

	blob := make([]byte, len(config))
	copy(blob, config)
	meta.SetBytes(media.KeyCodecConfig, blob)

	q.format = meta
	return nil
}
