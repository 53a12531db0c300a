// Package mpegps demultiplexes MPEG-2 program streams into their
// elementary stream tracks.
package mpegps

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"demux/pkg/esqueue"
	"demux/pkg/log"
	"demux/pkg/media"
)

// Package errors.
var (
	ErrNoStartCode   = errors.New("mpegps: missing start code prefix")
	ErrBadPESHeader  = errors.New("mpegps: malformed PES header")
	ErrBadMarkerBits = errors.New("mpegps: invalid timestamp marker bits")
	ErrZeroLength    = errors.New("mpegps: zero-length PES packet")
)

// errNeedMoreData signals an incomplete unit at the buffer head.
var errNeedMoreData = errors.New("need more data")

// feedChunkSize is how much the rolling buffer grows per fetch.
const feedChunkSize = 8192

// initFeedLimit bounds the number of fetches spent discovering streams
// at construction.
const initFeedLimit = 500

// Start codes dequeueChunk dispatches on.
const (
	packStartCode      = 0xba
	systemHeaderStart  = 0xbb
	programStreamMapID = 0xbc
	paddingStreamID    = 0xbe
	privateStream2ID   = 0xbf
)

// Sniff matches the pack header start code at offset zero.
func Sniff(src media.DataSource) (string, float32, bool) {
	header := make([]byte, 5)
	if err := media.ReadFullAt(src, header, 0); err != nil {
		return "", 0, false
	}
	if !bytes.Equal(header[0:4], []byte{0x00, 0x00, 0x01, packStartCode}) {
		return "", 0, false
	}
	return media.MIMEContainerMPEG2PS, 0.25, true
}

// stream is one demultiplexed elementary stream.
type stream struct {
	id    uint8
	queue *esqueue.Queue

	// pending holds reassembled access units not yet read by the track.
	pending []*esqueue.AccessUnit

	// err poisons this stream only; siblings keep working.
	err error
}

// Extractor owns the shared read cursor of one program stream. Sibling
// tracks drive it forward through feedMore and must not be read
// concurrently.
type Extractor struct {
	src media.DataSource

	offset   int64
	buf      []byte
	finalErr error

	streams map[uint8]*stream
	order   []uint8

	// stream_type by elementary stream id, from the program stream map.
	streamTypes map[uint8]uint8

	exposed []*stream
	logger  *log.Logger
}

// NewExtractor scans the leading part of the stream until the track
// set and formats are known. Streams whose format never materialized
// are dropped.
func NewExtractor(src media.DataSource) (*Extractor, error) {
	return NewExtractorWithLogger(src, nil)
}

// NewExtractorWithLogger is NewExtractor reporting stream discovery and
// per-stream failures through logger.
func NewExtractorWithLogger(src media.DataSource, logger *log.Logger) (*Extractor, error) {
	e := &Extractor{
		src:         src,
		streams:     make(map[uint8]*stream),
		streamTypes: make(map[uint8]uint8),
		logger:      logger,
	}

	for i := 0; i < initFeedLimit; i++ {
		if err := e.feedMore(); err != nil {
			break
		}
	}

	for _, id := range e.order {
		s := e.streams[id]
		if s.err == nil && s.queue.Format() != nil {
			e.exposed = append(e.exposed, s)
			continue
		}
		e.logf("stream 0x%02x dropped during scan", id)
	}
	return e, nil
}

func (e *Extractor) logf(format string, v ...interface{}) {
	if e.logger == nil {
		return
	}
	e.logger.Debug().Src("mpegps").Msgf(format, v...)
}

// feedMore reads one chunk at the cursor and dequeues every complete
// unit it completes.
func (e *Extractor) feedMore() error {
	if e.finalErr != nil {
		return e.finalErr
	}

	chunk := make([]byte, feedChunkSize)
	n, err := e.src.ReadAt(chunk, e.offset)
	if n == 0 {
		if err == nil || err == io.EOF {
			err = media.ErrEndOfStream
		}
		e.finalErr = err
		return err
	}
	e.buf = append(e.buf, chunk[:n]...)
	e.offset += int64(n)

	for {
		err := e.dequeueChunk()
		if errors.Is(err, errNeedMoreData) {
			return nil
		}
		if err != nil {
			e.finalErr = err
			return err
		}
	}
}

// dequeueChunk classifies and consumes the unit at the buffer head.
func (e *Extractor) dequeueChunk() error {
	if len(e.buf) < 4 {
		return errNeedMoreData
	}
	if !bytes.Equal(e.buf[0:3], []byte{0x00, 0x00, 0x01}) {
		return fmt.Errorf("%w: %w", ErrNoStartCode, media.ErrMalformed)
	}

	switch e.buf[3] {
	case packStartCode:
		return e.skipPackHeader()

	case systemHeaderStart:
		return e.skipLengthPrefixed()

	default:
		if len(e.buf) < 6 {
			return errNeedMoreData
		}
		length := int(e.buf[4])<<8 | int(e.buf[5])
		if length == 0 {
			return fmt.Errorf("%w: %w", ErrZeroLength, media.ErrMalformed)
		}
		total := 6 + length
		if len(e.buf) < total {
			return errNeedMoreData
		}

		if err := e.handlePES(e.buf[:total]); err != nil {
			return err
		}
		e.consume(total)
		return nil
	}
}

// skipPackHeader discards an MPEG-2 pack header including its stuffing
// bytes.
func (e *Extractor) skipPackHeader() error {
	if len(e.buf) < 14 {
		return errNeedMoreData
	}
	if e.buf[4]&0xc0 != 0x40 {
		return fmt.Errorf("mpegps: not an mpeg2 pack header: %w", media.ErrUnsupported)
	}

	total := 14 + int(e.buf[13]&0x07)
	if len(e.buf) < total {
		return errNeedMoreData
	}
	e.consume(total)
	return nil
}

// skipLengthPrefixed discards a system header via its 16-bit length.
func (e *Extractor) skipLengthPrefixed() error {
	if len(e.buf) < 6 {
		return errNeedMoreData
	}
	total := 6 + int(e.buf[4])<<8 + int(e.buf[5])
	if len(e.buf) < total {
		return errNeedMoreData
	}
	e.consume(total)
	return nil
}

func (e *Extractor) consume(n int) {
	e.buf = append(e.buf[:0], e.buf[n:]...)
}

// handlePES routes one complete PES packet.
func (e *Extractor) handlePES(packet []byte) error {
	id := packet[3]

	switch {
	case id == programStreamMapID:
		return e.parseProgramStreamMap(packet)

	case id == paddingStreamID || id == privateStream2ID:
		return nil

	case id >= 0xc0 && id <= 0xef:
		return e.parsePESPayload(packet)
	}
	return nil
}

// parseProgramStreamMap records the elementary_stream_id → stream_type
// table.
func (e *Extractor) parseProgramStreamMap(packet []byte) error {
	if len(packet) < 12 {
		return fmt.Errorf("%w: short program_stream_map: %w", ErrBadPESHeader, media.ErrMalformed)
	}

	infoLength := int(packet[8])<<8 | int(packet[9])
	pos := 10 + infoLength
	if pos+2 > len(packet) {
		return fmt.Errorf("%w: program_stream_map overflow: %w", ErrBadPESHeader, media.ErrMalformed)
	}

	mapLength := int(packet[pos])<<8 | int(packet[pos+1])
	pos += 2
	end := pos + mapLength
	if end > len(packet) {
		return fmt.Errorf("%w: program_stream_map overflow: %w", ErrBadPESHeader, media.ErrMalformed)
	}

	for pos+4 <= end {
		streamType := packet[pos]
		esID := packet[pos+1]
		esInfoLength := int(packet[pos+2])<<8 | int(packet[pos+3])
		pos += 4 + esInfoLength

		e.streamTypes[esID] = streamType
	}
	return nil
}

// parsePESPayload decodes the PES header of an audio or video packet
// and appends the payload to the owning stream's queue.
func (e *Extractor) parsePESPayload(packet []byte) error {
	if len(packet) < 9 {
		return fmt.Errorf("%w: %w", ErrBadPESHeader, media.ErrMalformed)
	}
	if packet[6]&0xc0 != 0x80 {
		return fmt.Errorf("%w: not an mpeg2 PES header: %w", ErrBadPESHeader, media.ErrMalformed)
	}

	ptsDTSFlags := packet[7] >> 6
	headerDataLength := int(packet[8])
	payloadStart := 9 + headerDataLength
	if payloadStart > len(packet) {
		return fmt.Errorf("%w: header_data_length overflow: %w", ErrBadPESHeader, media.ErrMalformed)
	}

	timeUs := int64(-1)
	if ptsDTSFlags == 2 || ptsDTSFlags == 3 {
		if len(packet) < 14 {
			return fmt.Errorf("%w: %w", ErrBadPESHeader, media.ErrMalformed)
		}
		pts, err := parseTimestamp(packet[9:14], ptsDTSFlags)
		if err != nil {
			return err
		}
		timeUs = pts * 100 / 9

		if ptsDTSFlags == 3 {
			if len(packet) < 19 {
				return fmt.Errorf("%w: %w", ErrBadPESHeader, media.ErrMalformed)
			}
			// DTS is validated but unused; presentation order drives
			// the queues.
			if _, err := parseTimestamp(packet[14:19], 1); err != nil {
				return err
			}
		}
	}

	s := e.streamByID(packet[3])
	if s == nil || s.err != nil {
		return nil
	}

	s.queue.Append(packet[payloadStart:], timeUs)
	for {
		au, err := s.queue.Dequeue()
		if err != nil {
			s.err = err
			e.logf("stream 0x%02x poisoned: %v", s.id, err)
			break
		}
		if au == nil {
			break
		}
		s.pending = append(s.pending, au)
	}
	return nil
}

// parseTimestamp reconstructs a 33-bit PTS or DTS from its three
// marker-delimited groups. prefix is the expected leading 4-bit tag.
func parseTimestamp(b []byte, prefix uint8) (int64, error) {
	if b[0]>>4 != prefix {
		return 0, fmt.Errorf("%w: %w", ErrBadMarkerBits, media.ErrMalformed)
	}
	if b[0]&0x01 != 1 || b[2]&0x01 != 1 || b[4]&0x01 != 1 {
		return 0, fmt.Errorf("%w: %w", ErrBadMarkerBits, media.ErrMalformed)
	}

	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1), nil
}

// streamByID returns the stream for a PES stream_id, creating it on
// first sight. Unknown stream types map to nil.
func (e *Extractor) streamByID(id uint8) *stream {
	if s, ok := e.streams[id]; ok {
		return s
	}

	var mode esqueue.Mode
	if streamType, ok := e.streamTypes[id]; ok {
		switch streamType {
		case 0x01, 0x02:
			mode = esqueue.ModeMPEGVideo
		case 0x03, 0x04:
			mode = esqueue.ModeMPEGAudio
		case 0x0f:
			mode = esqueue.ModeAAC
		case 0x10:
			mode = esqueue.ModeMPEG4Video
		case 0x1b:
			mode = esqueue.ModeH264
		default:
			e.streams[id] = nil
			return nil
		}
	} else {
		// No program stream map: infer from the stream_id range.
		switch {
		case id >= 0xc0 && id <= 0xdf:
			mode = esqueue.ModeMPEGAudio
		case id >= 0xe0 && id <= 0xef:
			mode = esqueue.ModeMPEGVideo
		default:
			e.streams[id] = nil
			return nil
		}
	}

	s := &stream{id: id, queue: esqueue.New(mode)}
	e.streams[id] = s
	e.order = append(e.order, id)
	e.logf("discovered stream 0x%02x", id)
	return s
}
