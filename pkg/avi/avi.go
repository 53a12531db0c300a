// Package avi extracts audio and video tracks from AVI (RIFF) files.
package avi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"demux/pkg/media"
)

// Package errors.
var (
	ErrNotAVI       = errors.New("avi: not a RIFF/AVI file")
	ErrNoMovi       = errors.New("avi: missing movi list")
	ErrNoIndex      = errors.New("avi: missing idx1 chunk")
	ErrBadIndex     = errors.New("avi: index offsets match neither addressing mode")
	ErrBadStreamHdr = errors.New("avi: malformed stream header")
	ErrDepth        = errors.New("avi: list nesting too deep")
)

// Sniff matches the RIFF/AVI signature.
func Sniff(src media.DataSource) (string, float32, bool) {
	header := make([]byte, 12)
	if err := media.ReadFullAt(src, header, 0); err != nil {
		return "", 0, false
	}
	if !bytes.Equal(header[0:4], []byte("RIFF")) || !bytes.Equal(header[8:12], []byte("AVI ")) {
		return "", 0, false
	}
	// Scores above a bare MP3/ADTS frame sync so files with embedded
	// MPEG audio resolve to the container.
	return media.MIMEContainerAVI, 0.21, true
}

type trackKind int

const (
	trackVideo trackKind = iota
	trackAudio
	trackOther // Unrecognized codec, never surfaced.
)

// sampleInfo is one idx1-derived sample.
type sampleInfo struct {
	offset int64 // Absolute offset of the chunk header.
	size   uint32
	isKey  bool
}

// aviTrack is the per-stream state built from strh/strf/idx1.
type aviTrack struct {
	kind       trackKind
	mime       string
	scale      uint32
	rate       uint32
	sampleSize uint32 // Bytes per sample; 0 means one sample per chunk.

	// Video.
	width  int
	height int

	// Audio.
	channels      int
	audioRate     int
	bitsPerSample int

	samples      []sampleInfo
	avgChunkSize int64 // For byte-rate tracks.

	meta       *media.MetaData
	configDone bool
	configErr  error
}

const aviKeyFrameFlag = 0x10

const maxNestingDepth = 16

// Extractor reads the tracks of an AVI file.
type Extractor struct {
	src  media.DataSource
	size int64

	moviOffset int64 // Offset of the movi LIST header.
	idx1Offset int64
	idx1Size   int64

	tracks  []*aviTrack // All streams, in strl order.
	exposed []*aviTrack // Streams with a known codec.
}

// NewExtractor performs the structural parse: header lists, stream
// headers and the idx1 sample index.
func NewExtractor(src media.DataSource) (*Extractor, error) {
	header := make([]byte, 12)
	if err := media.ReadFullAt(src, header, 0); err != nil {
		return nil, err
	}
	if !bytes.Equal(header[0:4], []byte("RIFF")) || !bytes.Equal(header[8:12], []byte("AVI ")) {
		return nil, ErrNotAVI
	}

	size, err := src.Size()
	if err != nil {
		return nil, err
	}

	e := &Extractor{src: src, size: size}

	riffSize := int64(binary.LittleEndian.Uint32(header[4:8]))
	end := 8 + riffSize
	if end > size {
		end = size
	}

	if err := e.parseChunks(12, end, 0); err != nil {
		return nil, err
	}
	if e.moviOffset == 0 {
		return nil, ErrNoMovi
	}
	if e.idx1Offset == 0 {
		return nil, ErrNoIndex
	}

	if err := e.parseIndex(); err != nil {
		return nil, err
	}

	for _, track := range e.tracks {
		if track.kind == trackOther || track.mime == "" {
			continue
		}
		track.estimateAvgChunkSize()
		track.buildTrackMeta()
		e.exposed = append(e.exposed, track)
	}
	return e, nil
}

// parseChunks is the recursive descent over RIFF/LIST containers.
func (e *Extractor) parseChunks(offset, end int64, depth int) error {
	if depth > maxNestingDepth {
		return fmt.Errorf("%w: %w", ErrDepth, media.ErrMalformed)
	}

	header := make([]byte, 8)
	for offset+8 <= end {
		if err := media.ReadFullAt(e.src, header, offset); err != nil {
			return err
		}
		fourCC := string(header[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(header[4:8]))

		if fourCC == "LIST" {
			listType := make([]byte, 4)
			if err := media.ReadFullAt(e.src, listType, offset+8); err != nil {
				return err
			}

			switch string(listType) {
			case "movi":
				// Only the location is recorded; chunks are reached
				// through idx1.
				e.moviOffset = offset

			case "hdrl", "strl":
				innerEnd := offset + 8 + chunkSize
				if innerEnd > end {
					innerEnd = end
				}
				if string(listType) == "strl" {
					e.tracks = append(e.tracks, &aviTrack{kind: trackOther})
				}
				if err := e.parseChunks(offset+12, innerEnd, depth+1); err != nil {
					return err
				}
			}
		} else {
			switch fourCC {
			case "strh":
				if err := e.parseStreamHeader(offset+8, chunkSize); err != nil {
					return err
				}
			case "strf":
				if err := e.parseStreamFormat(offset+8, chunkSize); err != nil {
					return err
				}
			case "idx1":
				e.idx1Offset = offset + 8
				e.idx1Size = chunkSize
			}
		}

		offset += 8 + chunkSize + (chunkSize & 1)
	}
	return nil
}

func (e *Extractor) currentTrack() *aviTrack {
	if len(e.tracks) == 0 {
		return nil
	}
	return e.tracks[len(e.tracks)-1]
}

var videoHandlerMIME = map[string]string{
	"mp4v": media.MIMEVideoMPEG4,
	"MP4V": media.MIMEVideoMPEG4,
	"xvid": media.MIMEVideoMPEG4,
	"XVID": media.MIMEVideoMPEG4,
	"divx": media.MIMEVideoMPEG4,
	"DIVX": media.MIMEVideoMPEG4,
	"DX50": media.MIMEVideoMPEG4,
	"FMP4": media.MIMEVideoMPEG4,
	"avc1": media.MIMEVideoAVC,
	"AVC1": media.MIMEVideoAVC,
	"h264": media.MIMEVideoAVC,
	"H264": media.MIMEVideoAVC,
	"x264": media.MIMEVideoAVC,
	"X264": media.MIMEVideoAVC,
}

var audioFormatMIME = map[uint16]string{
	0x0055: media.MIMEAudioMPEG,
	0x00ff: media.MIMEAudioAAC,
}

func (e *Extractor) parseStreamHeader(offset, size int64) error {
	track := e.currentTrack()
	if track == nil {
		return fmt.Errorf("%w: strh outside strl: %w", ErrBadStreamHdr, media.ErrMalformed)
	}
	if size < 56 {
		return fmt.Errorf("%w: %d bytes: %w", ErrBadStreamHdr, size, media.ErrMalformed)
	}

	raw := make([]byte, 56)
	if err := media.ReadFullAt(e.src, raw, offset); err != nil {
		return err
	}

	fccType := string(raw[0:4])
	handler := string(raw[4:8])
	track.scale = binary.LittleEndian.Uint32(raw[20:24])
	track.rate = binary.LittleEndian.Uint32(raw[24:28])
	track.sampleSize = binary.LittleEndian.Uint32(raw[44:48])

	if track.scale == 0 || track.rate == 0 {
		return fmt.Errorf("%w: zero timescale: %w", ErrBadStreamHdr, media.ErrMalformed)
	}

	switch fccType {
	case "vids":
		// The codec may be named by the handler here or by
		// biCompression in strf; either is accepted.
		track.kind = trackVideo
		track.mime = videoHandlerMIME[handler]
	case "auds":
		track.kind = trackAudio // MIME resolved from strf.
	default:
		track.kind = trackOther
	}
	return nil
}

func (e *Extractor) parseStreamFormat(offset, size int64) error {
	track := e.currentTrack()
	if track == nil {
		return fmt.Errorf("%w: strf outside strl: %w", ErrBadStreamHdr, media.ErrMalformed)
	}

	switch track.kind {
	case trackVideo:
		// BITMAPINFOHEADER.
		if size < 24 {
			return fmt.Errorf("%w: short BITMAPINFO: %w", ErrBadStreamHdr, media.ErrMalformed)
		}
		raw := make([]byte, 24)
		if err := media.ReadFullAt(e.src, raw, offset); err != nil {
			return err
		}
		track.width = int(int32(binary.LittleEndian.Uint32(raw[4:8])))
		track.height = int(int32(binary.LittleEndian.Uint32(raw[8:12])))
		if track.height < 0 {
			track.height = -track.height
		}

		// Some encoders identify the codec only in biCompression.
		compression := string(raw[16:20])
		if mime, ok := videoHandlerMIME[compression]; ok {
			track.mime = mime
		}

	case trackAudio:
		// WAVEFORMATEX.
		if size < 16 {
			return fmt.Errorf("%w: short WAVEFORMAT: %w", ErrBadStreamHdr, media.ErrMalformed)
		}
		raw := make([]byte, 16)
		if err := media.ReadFullAt(e.src, raw, offset); err != nil {
			return err
		}
		formatTag := binary.LittleEndian.Uint16(raw[0:2])
		track.channels = int(binary.LittleEndian.Uint16(raw[2:4]))
		track.audioRate = int(binary.LittleEndian.Uint32(raw[4:8]))
		track.bitsPerSample = int(binary.LittleEndian.Uint16(raw[14:16]))

		if mime, ok := audioFormatMIME[formatTag]; ok {
			track.mime = mime
		} else {
			track.kind = trackOther
		}
	}
	return nil
}

// parseIndex decodes idx1 and distributes samples to their tracks.
// Offsets may be absolute or relative to the movi list; the mode is
// auto-detected against the first entry.
func (e *Extractor) parseIndex() error {
	entryCount := e.idx1Size / 16
	if entryCount == 0 {
		return fmt.Errorf("%w: empty: %w", ErrNoIndex, media.ErrMalformed)
	}

	raw := make([]byte, e.idx1Size)
	if err := media.ReadFullAt(e.src, raw, e.idx1Offset); err != nil {
		return err
	}

	base, err := e.detectIndexBase(raw)
	if err != nil {
		return err
	}

	for i := int64(0); i < entryCount; i++ {
		entry := raw[i*16 : i*16+16]

		trackNo, kind, ok := parseChunkID(entry[0:4])
		if !ok || trackNo >= len(e.tracks) {
			continue
		}
		track := e.tracks[trackNo]
		if track.kind == trackOther {
			continue
		}

		flags := binary.LittleEndian.Uint32(entry[4:8])
		offset := base + int64(binary.LittleEndian.Uint32(entry[8:12]))
		size := binary.LittleEndian.Uint32(entry[12:16])

		isKey := flags&aviKeyFrameFlag != 0
		if kind == trackAudio {
			isKey = true
		}
		if kind != track.kind {
			continue
		}

		track.samples = append(track.samples, sampleInfo{
			offset: offset,
			size:   size,
			isKey:  isKey,
		})
	}
	return nil
}

// parseChunkID splits a ##dc/##db/##wb chunk id into stream number and
// kind.
func parseChunkID(id []byte) (int, trackKind, bool) {
	d0, d1 := id[0]-'0', id[1]-'0'
	if d0 > 9 || d1 > 9 {
		return 0, 0, false
	}
	trackNo := int(d0)*10 + int(d1)

	switch string(id[2:4]) {
	case "dc", "db":
		return trackNo, trackVideo, true
	case "wb":
		return trackNo, trackAudio, true
	}
	return 0, 0, false
}

// detectIndexBase tries the first index entry as an absolute offset and
// as movi-relative, accepting whichever lands on a chunk header with
// the entry's own fourCC.
func (e *Extractor) detectIndexBase(raw []byte) (int64, error) {
	entry := raw[0:16]
	offset := int64(binary.LittleEndian.Uint32(entry[8:12]))

	validate := func(base int64) bool {
		header := make([]byte, 4)
		if err := media.ReadFullAt(e.src, header, base+offset); err != nil {
			return false
		}
		return bytes.Equal(header, entry[0:4])
	}

	if validate(0) {
		return 0, nil
	}
	// Relative offsets count from the 'movi' list type fourCC.
	relativeBase := e.moviOffset + 8
	if validate(relativeBase) {
		return relativeBase, nil
	}
	return 0, fmt.Errorf("%w: %w", ErrBadIndex, media.ErrMalformed)
}

// avgChunkSampleLimit bounds the byte-rate estimation scan.
const avgChunkSampleLimit = 256

// estimateAvgChunkSize averages the first samples of a byte-rate track.
// The very first chunk often carries priming data and is excluded.
func (t *aviTrack) estimateAvgChunkSize() {
	if t.sampleSize == 0 || len(t.samples) < 2 {
		return
	}

	count := len(t.samples)
	if count > avgChunkSampleLimit {
		count = avgChunkSampleLimit
	}

	var total int64
	for i := 1; i < count; i++ {
		total += int64(t.samples[i].size)
	}
	t.avgChunkSize = total / int64(count-1)
}

// bytesPerSecond is the data rate of a byte-rate track.
func (t *aviTrack) bytesPerSecond() int64 {
	return int64(t.rate) * int64(t.sampleSize) / int64(t.scale)
}

// sampleTimeUs returns the presentation time of sample i.
func (t *aviTrack) sampleTimeUs(i int) int64 {
	if t.sampleSize > 0 && t.avgChunkSize > 0 {
		return int64(i) * t.avgChunkSize * 1000000 / t.bytesPerSecond()
	}
	return int64(i) * 1000000 * int64(t.scale) / int64(t.rate)
}

// sampleIndexForTime inverts sampleTimeUs.
func (t *aviTrack) sampleIndexForTime(timeUs int64) int {
	var index int64
	if t.sampleSize > 0 && t.avgChunkSize > 0 {
		index = timeUs * t.bytesPerSecond() / 1000000 / t.avgChunkSize
	} else {
		index = timeUs * int64(t.rate) / int64(t.scale) / 1000000
	}

	if index < 0 {
		index = 0
	}
	if index > int64(len(t.samples)) {
		index = int64(len(t.samples))
	}
	return int(index)
}

func (t *aviTrack) durationUs() int64 {
	return t.sampleTimeUs(len(t.samples))
}
