// Package esqueue reassembles access units from the elementary stream
// payload of a transport demultiplexer. PES payload bytes go in with
// their timestamp; whole decodable units come out.
package esqueue

import (
	"errors"
	"fmt"

	"demux/pkg/media"
)

// Package errors.
var (
	ErrUnknownMode    = errors.New("esqueue: unknown stream mode")
	ErrRangeUnderflow = errors.New("esqueue: consumed past range records")
)

// Mode selects the per-codec access unit scanner.
type Mode int

// Stream modes.
const (
	ModeH264 Mode = iota
	ModeAAC
	ModeMPEGAudio
	ModeMPEGVideo
	ModeMPEG4Video
)

// rangeInfo attributes a run of buffered bytes to one timestamp.
type rangeInfo struct {
	length int
	timeUs int64
}

// AccessUnit is one reassembled decodable unit.
type AccessUnit struct {
	Data   []byte
	TimeUs int64

	// SyncFrame marks a unit decodable without prior units.
	SyncFrame bool
}

// Queue buffers elementary stream bytes for one stream and carves
// access units out of them. Not safe for concurrent use.
type Queue struct {
	mode Mode

	buf    []byte
	ranges []rangeInfo

	format *media.MetaData
}

// New creates a queue for one stream mode.
func New(mode Mode) *Queue {
	return &Queue{mode: mode}
}

// Append adds payload bytes attributed to timeUs. The bytes stay
// buffered until a full access unit spans them.
func (q *Queue) Append(data []byte, timeUs int64) {
	if len(data) == 0 {
		return
	}
	q.buf = append(q.buf, data...)
	q.ranges = append(q.ranges, rangeInfo{length: len(data), timeUs: timeUs})
}

// Format returns the stream format once the scanner has derived it from
// the bitstream, nil before that.
func (q *Queue) Format() *media.MetaData {
	return q.format
}

// Clear drops all buffered bytes. The derived format is kept unless
// clearFormat is set.
func (q *Queue) Clear(clearFormat bool) {
	q.buf = q.buf[:0]
	q.ranges = q.ranges[:0]
	if clearFormat {
		q.format = nil
	}
}

// Dequeue returns the next complete access unit, or nil when more input
// is needed. Errors are fatal for this stream only.
func (q *Queue) Dequeue() (*AccessUnit, error) {
	switch q.mode {
	case ModeH264:
		return q.dequeueH264()
	case ModeAAC:
		return q.dequeueAAC()
	case ModeMPEGAudio:
		return q.dequeueMPEGAudio()
	case ModeMPEGVideo:
		return q.dequeueMPEGVideo()
	case ModeMPEG4Video:
		return q.dequeueMPEG4Video()
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownMode, q.mode)
}

// fetchTimestamp consumes n bytes' worth of range records and returns
// the timestamp of the first consumed byte. Later bytes covered by the
// same flush keep no timestamp of their own; a partially consumed
// record retains its timestamp for the next flush.
func (q *Queue) fetchTimestamp(n int) (int64, error) {
	timeUs := int64(-1)
	first := true

	for n > 0 {
		if len(q.ranges) == 0 {
			return -1, fmt.Errorf("%w: %d bytes unaccounted", ErrRangeUnderflow, n)
		}
		info := &q.ranges[0]
		if first {
			timeUs = info.timeUs
			first = false
		}

		if info.length > n {
			info.length -= n
			n = 0
		} else {
			n -= info.length
			q.ranges = q.ranges[1:]
		}
	}
	return timeUs, nil
}

// consume removes n leading bytes from the buffer and their range
// records, returning the first byte's timestamp.
func (q *Queue) consume(n int) (int64, error) {
	timeUs, err := q.fetchTimestamp(n)
	if err != nil {
		return -1, err
	}
	q.buf = append(q.buf[:0], q.buf[n:]...)
	return timeUs, nil
}
