package ogg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"demux/pkg/media"
)

// Sniff matches the OggS capture pattern.
func Sniff(src media.DataSource) (string, float32, bool) {
	header := make([]byte, 4)
	if err := media.ReadFullAt(src, header, 0); err != nil {
		return "", 0, false
	}
	if !bytes.Equal(header, []byte("OggS")) {
		return "", 0, false
	}
	return media.MIMEContainerOgg, 0.2, true
}

// TOC size bound: entries are thinned once the table would exceed 8KB.
const (
	tocEntrySize  = 16
	maxTOCEntries = 8192 / tocEntrySize
)

// tocEntry is one table-of-contents sample: a page boundary and the
// stream time of its first fresh packet.
type tocEntry struct {
	timeUs  int64
	granule int64 // Granule position of the preceding page.
	offset  int64
}

// Extractor reads one Vorbis track from an Ogg container. In a
// multiplexed file only the logical stream that opens the file is
// followed; pages with other serial numbers are skipped.
type Extractor struct {
	src    media.DataSource
	size   int64
	serial uint32

	info       *vorbisInfo
	meta       *media.MetaData
	fileMeta   *media.MetaData
	durationUs int64

	dataCursor packetCursor // Cursor snapshot past the three headers.
	toc        []tocEntry
}

// NewExtractor consumes the mandatory Vorbis headers and builds the
// table of contents.
func NewExtractor(src media.DataSource) (*Extractor, error) {
	return newExtractor(src, nil)
}

// NewExtractorWithSeekTable is NewExtractor with the page scan replaced
// by a previously saved table from SeekTable. Page granules are
// re-derived from the stored times, so the first timestamp after a seek
// can be off by up to one sample.
func NewExtractorWithSeekTable(src media.DataSource, table [][2]int64) (*Extractor, error) {
	if len(table) == 0 {
		return newExtractor(src, nil)
	}
	return newExtractor(src, table)
}

func newExtractor(src media.DataSource, table [][2]int64) (*Extractor, error) { //nolint:funlen
	size, err := src.Size()
	if err != nil {
		return nil, err
	}

	e := &Extractor{src: src, size: size}
	e.fileMeta = media.NewMetaData()
	e.fileMeta.SetStr(media.KeyMIMEType, media.MIMEContainerOgg)

	cursor := newPacketCursor(src, size, 0)

	// The first three packets must be the info, comment and setup
	// headers, in order.
	infoPacket, _, err := cursor.next(nil)
	if err != nil {
		return nil, err
	}
	e.info, err = parseVorbisInfo(infoPacket)
	if err != nil {
		return nil, err
	}

	commentPacket, _, err := cursor.next(nil)
	if err != nil {
		return nil, err
	}
	if err := parseVorbisComments(commentPacket, e.fileMeta); err != nil {
		return nil, err
	}

	setupPacket, _, err := cursor.next(nil)
	if err != nil {
		return nil, err
	}
	if err := verifyVorbisHeader(setupPacket, packetTypeSetup); err != nil {
		return nil, err
	}

	e.dataCursor = *cursor
	e.serial = cursor.serial

	e.durationUs = e.findDuration()
	if table != nil {
		e.restoreTOC(table)
	} else if err := e.buildTOC(); err != nil {
		return nil, err
	}

	meta := media.NewMetaData()
	meta.SetStr(media.KeyMIMEType, media.MIMEAudioVorbis)
	meta.SetInt(media.KeySampleRate, e.info.sampleRate)
	meta.SetInt(media.KeyChannelCount, e.info.channels)
	if e.durationUs > 0 {
		meta.SetInt64(media.KeyDurationUs, e.durationUs)
	}
	if bitrate := e.info.approxBitrate(); bitrate > 0 {
		meta.SetInt(media.KeyBitRate, bitrate)
	}
	meta.SetBytes(media.KeyCodecConfig,
		packCodecConfig(infoPacket, commentPacket, setupPacket))
	e.meta = meta

	return e, nil
}

// packCodecConfig concatenates the three header packets with 16-bit
// big-endian length prefixes.
func packCodecConfig(packets ...[]byte) []byte {
	var out []byte
	for _, packet := range packets {
		out = binary.BigEndian.AppendUint16(out, uint16(len(packet)))
		out = append(out, packet...)
	}
	return out
}

func (e *Extractor) granuleToUs(granule int64) int64 {
	return granule * 1000000 / int64(e.info.sampleRate)
}

// findDuration reads the final page's granule position, falling back to
// a bitrate estimate.
func (e *Extractor) findDuration() int64 {
	const tailChunk = 65536

	chunkSize := int64(tailChunk)
	if chunkSize > e.size {
		chunkSize = e.size
	}
	chunkStart := e.size - chunkSize

	chunk := make([]byte, chunkSize)
	if err := media.ReadFullAt(e.src, chunk, chunkStart); err == nil {
		for at := int64(len(chunk)) - 27; at >= 0; at-- {
			if !bytes.Equal(chunk[at:at+4], []byte("OggS")) {
				continue
			}
			page, err := parsePage(e.src, chunkStart+at)
			if err != nil || chunkStart+at+page.pageLen() > e.size {
				continue
			}
			if page.serial != e.serial {
				continue
			}
			return e.granuleToUs(page.granule)
		}
	}

	if bitrate := e.info.approxBitrate(); bitrate > 0 {
		return e.size * 8 * 1000000 / int64(bitrate)
	}
	return 0
}

// buildTOC scans every page once and records (time, offset) samples,
// then thins the table to its size bound while preserving order.
func (e *Extractor) buildTOC() error {
	offset := e.dataCursor.pageOffset
	prevGranule := e.dataCursor.prevGranule

	for offset < e.size {
		page, err := parsePage(e.src, offset)
		if err != nil {
			return err
		}
		if page.serial != e.serial {
			offset += page.pageLen()
			continue
		}

		granule := int64(0)
		if prevGranule >= 0 {
			granule = prevGranule
		}
		e.toc = append(e.toc, tocEntry{
			timeUs:  e.granuleToUs(granule),
			granule: granule,
			offset:  offset,
		})

		prevGranule = page.granule
		offset += page.pageLen()
	}

	for len(e.toc) > maxTOCEntries {
		kept := e.toc[:0]
		for i := 0; i < len(e.toc); i += 2 {
			kept = append(kept, e.toc[i])
		}
		e.toc = kept
	}
	return nil
}

// SeekTable returns the table of contents as (timeUs, byteOffset)
// pairs, suitable for saving and feeding back through
// NewExtractorWithSeekTable.
func (e *Extractor) SeekTable() [][2]int64 {
	table := make([][2]int64, len(e.toc))
	for i, entry := range e.toc {
		table[i] = [2]int64{entry.timeUs, entry.offset}
	}
	return table
}

func (e *Extractor) restoreTOC(table [][2]int64) {
	e.toc = make([]tocEntry, len(table))
	for i, pair := range table {
		e.toc[i] = tocEntry{
			timeUs:  pair[0],
			granule: pair[0] * int64(e.info.sampleRate) / 1000000,
			offset:  pair[1],
		}
	}
}

// TrackCount implements media.Extractor.
func (e *Extractor) TrackCount() int { return 1 }

// TrackMetaData implements media.Extractor.
func (e *Extractor) TrackMetaData(i int) *media.MetaData {
	if i != 0 {
		return nil
	}
	return e.meta
}

// MetaData implements media.Extractor.
func (e *Extractor) MetaData() *media.MetaData { return e.fileMeta }

// Track implements media.Extractor.
func (e *Extractor) Track(i int) media.Track {
	if i != 0 {
		return nil
	}
	return &track{extractor: e}
}

type track struct {
	extractor *Extractor
	started   bool
	pool      *media.BufferPool
	cursor    packetCursor
}

func (t *track) Format() *media.MetaData { return t.extractor.meta }

func (t *track) Start() error {
	if t.started {
		return media.ErrAlreadyStarted
	}
	t.started = true
	t.pool = media.NewBufferPool(2)
	t.cursor = t.extractor.dataCursor
	return nil
}

func (t *track) Stop() error {
	if !t.started {
		return media.ErrNotStarted
	}
	t.started = false
	t.pool = nil
	return nil
}

func (t *track) Read(opts *media.ReadOptions) (*media.Buffer, error) {
	if !t.started {
		return nil, media.ErrNotStarted
	}

	if opts != nil {
		if timeUs, _, ok := opts.SeekTo(); ok {
			if err := t.seekTo(timeUs); err != nil {
				return nil, err
			}
		}
	}

	packet, timeUs, err := t.cursor.next(t.extractor.granuleToUs)
	if err != nil {
		return nil, err
	}

	buf := t.pool.Get(len(packet))
	copy(buf.Data, packet)
	buf.TimeUs = timeUs
	buf.SyncFrame = true
	return buf, nil
}

// seekTo repositions the cursor on the last page boundary at or before
// timeUs. Every Vorbis packet is independently decodable, so all seek
// modes resolve the same way.
func (t *track) seekTo(timeUs int64) error {
	e := t.extractor

	if len(e.toc) == 0 || timeUs <= 0 {
		t.cursor = e.dataCursor
		return nil
	}

	entry := e.toc[0]
	for _, candidate := range e.toc {
		if candidate.timeUs > timeUs {
			break
		}
		entry = candidate
	}

	t.cursor = packetCursor{
		src:         e.src,
		size:        e.size,
		pageOffset:  entry.offset,
		serial:      e.serial,
		serialSet:   true,
		prevGranule: entry.granule,
	}
	if err := t.cursor.skipContinuation(); err != nil {
		if errors.Is(err, media.ErrEndOfStream) {
			return nil // The next read reports it.
		}
		return fmt.Errorf("ogg: seek: %w", err)
	}
	return nil
}
