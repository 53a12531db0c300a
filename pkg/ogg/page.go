// Package ogg extracts Vorbis audio from Ogg containers.
package ogg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"demux/pkg/media"
)

// Page flags.
const (
	flagContinuation = 0x01
	flagFirstPage    = 0x02
	flagLastPage     = 0x04
)

// Page errors.
var (
	ErrBadCapture = errors.New("ogg: missing OggS capture pattern")
	ErrBadVersion = errors.New("ogg: unsupported page version")
)

// pageHeader is one parsed Ogg page header. The 27 fixed bytes plus the
// lacing table.
type pageHeader struct {
	flags     uint8
	granule   int64
	serial    uint32
	pageNo    uint32
	laces     []uint8
	headerLen int
	bodyLen   int
}

// parsePage reads and validates the page header at offset. The CRC
// field is read but not verified.
func parsePage(src media.DataSource, offset int64) (*pageHeader, error) {
	fixed := make([]byte, 27)
	if err := media.ReadFullAt(src, fixed, offset); err != nil {
		return nil, err
	}

	if !bytes.Equal(fixed[0:4], []byte("OggS")) {
		return nil, fmt.Errorf("%w at offset %d: %w", ErrBadCapture, offset, media.ErrMalformed)
	}
	if fixed[4] != 0 {
		return nil, fmt.Errorf("%w: %d: %w", ErrBadVersion, fixed[4], media.ErrMalformed)
	}

	h := &pageHeader{
		flags:   fixed[5],
		granule: int64(binary.LittleEndian.Uint64(fixed[6:14])),
		serial:  binary.LittleEndian.Uint32(fixed[14:18]),
		pageNo:  binary.LittleEndian.Uint32(fixed[18:22]),
	}

	laceCount := int(fixed[26])
	h.laces = make([]uint8, laceCount)
	if err := media.ReadFullAt(src, h.laces, offset+27); err != nil {
		return nil, err
	}

	h.headerLen = 27 + laceCount
	for _, lace := range h.laces {
		h.bodyLen += int(lace)
	}
	return h, nil
}

func (h *pageHeader) pageLen() int64 {
	return int64(h.headerLen + h.bodyLen)
}

// packetCursor walks packets across pages. A lace value of 255 means
// the packet continues in the next segment or page.
type packetCursor struct {
	src  media.DataSource
	size int64

	pageOffset int64
	page       *pageHeader
	lace       int   // Next lacing table index.
	bodyPos    int64 // Absolute offset of the next payload byte.

	// Serial number of the followed logical stream, latched from the
	// first page seen. Pages with other serials are skipped.
	serial    uint32
	serialSet bool

	// Granule position of the previous page: sample count completed
	// before the current page's first fresh packet.
	prevGranule int64
}

func newPacketCursor(src media.DataSource, size int64, offset int64) *packetCursor {
	return &packetCursor{src: src, size: size, pageOffset: offset, prevGranule: -1}
}

func (c *packetCursor) loadPage() error {
	for {
		page, err := parsePage(c.src, c.pageOffset)
		if err != nil {
			return err
		}
		if !c.serialSet {
			c.serial = page.serial
			c.serialSet = true
		} else if page.serial != c.serial {
			// Page from a different multiplexed stream.
			c.pageOffset += page.pageLen()
			if c.pageOffset >= c.size {
				return media.ErrEndOfStream
			}
			continue
		}
		c.page = page
		c.lace = 0
		c.bodyPos = c.pageOffset + int64(page.headerLen)
		return nil
	}
}

func (c *packetCursor) advancePage() error {
	c.prevGranule = c.page.granule
	c.pageOffset += c.page.pageLen()
	c.page = nil
	if c.pageOffset >= c.size {
		return media.ErrEndOfStream
	}
	return c.loadPage()
}

// skipContinuation drops a packet fragment continued from an unseen
// previous page. Used after a seek landed on a page boundary.
func (c *packetCursor) skipContinuation() error {
	if c.page == nil {
		if err := c.loadPage(); err != nil {
			return err
		}
	}
	if c.page.flags&flagContinuation == 0 || c.lace != 0 {
		return nil
	}
	for c.lace < len(c.page.laces) {
		lace := c.page.laces[c.lace]
		c.bodyPos += int64(lace)
		c.lace++
		if lace < 255 {
			return nil
		}
	}
	// The fragment fills the whole page, keep skipping.
	if err := c.advancePage(); err != nil {
		return err
	}
	return c.skipContinuation()
}

// next reassembles the next packet. startTimeUs is the stream time of
// the page the packet starts on, computed from the previous page's
// granule position; granuleToUs converts granules, or is nil before the
// sample rate is known.
func (c *packetCursor) next(granuleToUs func(int64) int64) ([]byte, int64, error) {
	if c.page == nil {
		if err := c.loadPage(); err != nil {
			return nil, 0, err
		}
	}

	for c.lace >= len(c.page.laces) {
		if err := c.advancePage(); err != nil {
			return nil, 0, err
		}
	}

	startTimeUs := int64(0)
	if granuleToUs != nil && c.prevGranule >= 0 {
		startTimeUs = granuleToUs(c.prevGranule)
	}

	var packet []byte
	for {
		lace := c.page.laces[c.lace]
		if lace > 0 {
			segment := make([]byte, lace)
			if err := media.ReadFullAt(c.src, segment, c.bodyPos); err != nil {
				return nil, 0, err
			}
			packet = append(packet, segment...)
			c.bodyPos += int64(lace)
		}
		c.lace++

		if lace < 255 {
			return packet, startTimeUs, nil
		}

		if c.lace >= len(c.page.laces) {
			// Continues on the next page.
			if err := c.advancePage(); err != nil {
				if errors.Is(err, media.ErrEndOfStream) {
					return nil, 0, fmt.Errorf("ogg: truncated packet: %w", media.ErrMalformed)
				}
				return nil, 0, err
			}
			if c.page.flags&flagContinuation == 0 {
				return nil, 0, fmt.Errorf("ogg: expected continuation page: %w", media.ErrMalformed)
			}
		}
	}
}
