// Package h264 contains the H.264 bitstream utilities shared by the
// container extractors: Annex-B NAL unit scanning, SPS parsing and
// synthesis of AVCC and ESDS configuration records.
package h264

// NALUType is the type of a NAL unit.
type NALUType uint8

// NALU types.
const (
	NALUTypeNonIDR              NALUType = 1
	NALUTypeIDR                 NALUType = 5
	NALUTypeSEI                 NALUType = 6
	NALUTypeSPS                 NALUType = 7
	NALUTypePPS                 NALUType = 8
	NALUTypeAccessUnitDelimiter NALUType = 9
)

// MaxNALUSize is the maximum size of a NALU.
// with a 250 Mbps H264 video, the maximum NALU size is 2.2MB.
const MaxNALUSize = 3 * 1024 * 1024

// TypeOf returns the type of a NAL unit.
func TypeOf(nalu []byte) NALUType {
	if len(nalu) == 0 {
		return 0
	}
	return NALUType(nalu[0] & 0x1F)
}

// NextNALU scans data from *pos for the next Annex-B NAL unit. Start
// codes are a 0x000001 prefix with any number of stuffing zero bytes
// before them. The returned slice excludes the start code and has
// trailing zero bytes trimmed. pos is left after the consumed unit so
// repeated calls iterate the stream.
func NextNALU(data []byte, pos *int) ([]byte, bool) {
	start, end, _, ok := NextNALURange(data, pos)
	if !ok {
		return nil, false
	}
	return data[start:end], true
}

// NextNALURange is NextNALU returning byte offsets instead of a slice,
// for callers that track consumed input. terminated reports whether a
// following start code delimits the unit; when false the unit runs to
// the end of data and more bytes may still be on the way.
func NextNALURange(data []byte, pos *int) (start, end int, terminated, ok bool) {
	offset := *pos

	// Skip to the first start code.
	start = findStartCode(data, offset)
	if start < 0 {
		*pos = len(data)
		return 0, 0, false, false
	}
	start += 3

	end = findStartCode(data, start)
	terminated = end >= 0
	if end < 0 {
		end = len(data)
	}
	*pos = end

	// Trim the stuffing zeros that belong to the next start code.
	for end > start && data[end-1] == 0x00 {
		end--
	}
	if end == start {
		return 0, 0, false, false
	}
	return start, end, terminated, true
}

func findStartCode(data []byte, pos int) int {
	for i := pos; i+3 <= len(data); i++ {
		if data[i] == 0x00 && data[i+1] == 0x00 && data[i+2] == 0x01 {
			return i
		}
	}
	return -1
}

// RemoveEmulationPrevention strips 0x03 emulation prevention bytes from
// a raw NAL unit payload.
func RemoveEmulationPrevention(nalu []byte) []byte {
	out := make([]byte, 0, len(nalu))
	zeros := 0
	for _, b := range nalu {
		if zeros == 2 && b == 0x03 {
			zeros = 0
			continue
		}
		if b == 0x00 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}
