// Package bits contains bit-level field accessors over byte slices.
package bits

import "errors"

// ErrNotEnoughBits not enough bits in buffer.
var ErrNotEnoughBits = errors.New("not enough bits")

// HasSpace checks whether buf has space for n bits after *pos.
func HasSpace(buf []byte, pos int, n int) error {
	if n > (len(buf)*8 - pos) {
		return ErrNotEnoughBits
	}
	return nil
}

// ReadBits reads n bits at the bit cursor *pos, advancing it.
func ReadBits(buf []byte, pos *int, n int) (uint64, error) {
	if err := HasSpace(buf, *pos, n); err != nil {
		return 0, err
	}

	v := uint64(0)
	for n > 0 {
		byteIdx := *pos >> 3
		bitIdx := 7 - (*pos & 7)
		v = (v << 1) | uint64((buf[byteIdx]>>bitIdx)&0x01)
		*pos++
		n--
	}
	return v, nil
}

// ReadFlag reads a single bit as a bool.
func ReadFlag(buf []byte, pos *int) (bool, error) {
	v, err := ReadBits(buf, pos, 1)
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// WriteBits writes the low n bits of v at the bit cursor *pos,
// advancing it. The buffer must be zero-initialized and large enough.
func WriteBits(buf []byte, pos *int, v uint64, n int) {
	for n > 0 {
		byteIdx := *pos >> 3
		bitIdx := 7 - (*pos & 7)
		if (v>>(n-1))&0x01 != 0 {
			buf[byteIdx] |= 1 << bitIdx
		}
		*pos++
		n--
	}
}
