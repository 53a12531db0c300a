// Package flac bridges a pull-style track interface onto the mewkiz
// FLAC decoder. All output is 16-bit interleaved PCM.
package flac

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	mewkiz "github.com/mewkiz/flac"
	"github.com/mewkiz/flac/meta"

	"demux/pkg/media"
)

// Package errors.
var (
	ErrBadChannelCount = errors.New("flac: unsupported channel count")
	ErrBadBitDepth     = errors.New("flac: unsupported bit depth")
	ErrBadSampleRate   = errors.New("flac: unsupported sample rate")
)

// Sample rates the downstream pipeline can play without resampling.
// Notably absent: 88.2 and 96 kHz.
var supportedSampleRates = map[int]bool{
	8000:  true,
	11025: true,
	12000: true,
	16000: true,
	22050: true,
	24000: true,
	32000: true,
	44100: true,
	48000: true,
}

const pictureTypeFrontCover = 3

// Sniff matches the fLaC stream marker.
func Sniff(src media.DataSource) (string, float32, bool) {
	marker := make([]byte, 4)
	if err := media.ReadFullAt(src, marker, 0); err != nil {
		return "", 0, false
	}
	if !bytes.Equal(marker, []byte("fLaC")) {
		return "", 0, false
	}
	return media.MIMEAudioFLAC, 0.5, true
}

// sourceReader adapts a DataSource to io.ReaderAt for SectionReader.
type sourceReader struct {
	src media.DataSource
}

func (r sourceReader) ReadAt(p []byte, off int64) (int, error) {
	return r.src.ReadAt(p, off)
}

// Extractor decodes one FLAC stream.
type Extractor struct {
	src  media.DataSource
	size int64

	info     *meta.StreamInfo
	meta     *media.MetaData
	fileMeta *media.MetaData
}

// NewExtractor parses the metadata blocks and validates STREAMINFO
// against what the output side supports.
func NewExtractor(src media.DataSource) (*Extractor, error) {
	size, err := src.Size()
	if err != nil {
		return nil, err
	}

	stream, err := mewkiz.Parse(io.NewSectionReader(sourceReader{src}, 0, size))
	if err != nil {
		return nil, fmt.Errorf("parse metadata: %w: %w", err, media.ErrMalformed)
	}
	defer stream.Close()

	info := stream.Info
	if err := validateStreamInfo(info); err != nil {
		return nil, err
	}

	e := &Extractor{src: src, size: size, info: info}
	e.buildMetaData(stream.Blocks)
	return e, nil
}

func validateStreamInfo(info *meta.StreamInfo) error {
	if info.NChannels < 1 || info.NChannels > 2 {
		return fmt.Errorf("%w: %d: %w", ErrBadChannelCount, info.NChannels, media.ErrUnsupported)
	}
	switch info.BitsPerSample {
	case 8, 16, 24:
	default:
		return fmt.Errorf("%w: %d: %w", ErrBadBitDepth, info.BitsPerSample, media.ErrUnsupported)
	}
	if !supportedSampleRates[int(info.SampleRate)] {
		return fmt.Errorf("%w: %d: %w", ErrBadSampleRate, info.SampleRate, media.ErrUnsupported)
	}
	return nil
}

func (e *Extractor) buildMetaData(blocks []*meta.Block) {
	trackMeta := media.NewMetaData()
	trackMeta.SetStr(media.KeyMIMEType, media.MIMEAudioRaw)
	trackMeta.SetInt(media.KeySampleRate, int(e.info.SampleRate))
	trackMeta.SetInt(media.KeyChannelCount, int(e.info.NChannels))
	trackMeta.SetInt(media.KeyBitsPerSample, 16)
	if e.info.NSamples > 0 {
		trackMeta.SetInt64(media.KeyDurationUs,
			int64(e.info.NSamples)*1000000/int64(e.info.SampleRate))
	}
	e.meta = trackMeta

	fileMeta := media.NewMetaData()
	fileMeta.SetStr(media.KeyMIMEType, media.MIMEAudioFLAC)
	for _, block := range blocks {
		switch body := block.Body.(type) {
		case *meta.VorbisComment:
			applyVorbisComments(fileMeta, body.Tags)
		case *meta.Picture:
			applyPicture(fileMeta, body.Type, body.MIME, body.Data)
		}
	}
	e.fileMeta = fileMeta
}

// applyVorbisComments maps decoder tag pairs onto file metadata.
func applyVorbisComments(m *media.MetaData, tags [][2]string) {
	for _, tag := range tags {
		media.SetVorbisComment(m, tag[0]+"="+tag[1])
	}
}

// applyPicture keeps inline front cover art only. Pictures whose MIME
// is the "-->" URL marker have no inline bytes and are dropped.
func applyPicture(m *media.MetaData, pictureType uint32, mime string, data []byte) {
	if pictureType != pictureTypeFrontCover || mime == "-->" || len(data) == 0 {
		return
	}
	art := make([]byte, len(data))
	copy(art, data)
	m.SetBytes(media.KeyAlbumArt, art)
	m.SetStr(media.KeyAlbumArtMIME, mime)
}

// TrackCount is 1 for any stream that survived construction.
func (e *Extractor) TrackCount() int { return 1 }

// TrackMetaData returns the PCM output format.
func (e *Extractor) TrackMetaData(i int) *media.MetaData {
	if i != 0 {
		return nil
	}
	return e.meta
}

// MetaData returns the file tags.
func (e *Extractor) MetaData() *media.MetaData { return e.fileMeta }

// Track returns the decoded PCM track.
func (e *Extractor) Track(i int) media.Track {
	if i != 0 {
		return nil
	}
	return &track{extractor: e}
}

// pcm16FromSamples interleaves per-channel samples into little-endian
// 16-bit PCM. 8-bit input is widened, 24-bit truncated; no dithering.
func pcm16FromSamples(channels [][]int32, bitsPerSample int) []byte {
	if len(channels) == 0 {
		return nil
	}
	sampleCount := len(channels[0])
	out := make([]byte, 0, sampleCount*len(channels)*2)

	for i := 0; i < sampleCount; i++ {
		for _, channel := range channels {
			sample := channel[i]
			switch bitsPerSample {
			case 8:
				sample <<= 8
			case 24:
				sample >>= 8
			}
			out = append(out, byte(sample), byte(sample>>8))
		}
	}
	return out
}
