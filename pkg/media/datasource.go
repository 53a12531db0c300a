package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// DataSource is a byte-addressable input. Implementations may be backed
// by a file, a memory buffer or a cache; random access is assumed unless
// a format documents otherwise.
type DataSource interface {
	// ReadAt reads len(p) bytes starting at off. It returns the number of
	// bytes read. A read past the end returns the available bytes and
	// io.EOF, matching io.ReaderAt.
	ReadAt(p []byte, off int64) (int, error)

	// Size returns the total length, or ErrSizeUnknown.
	Size() (int64, error)
}

// ReadFullAt fills p from off or fails with ErrShortRead.
func ReadFullAt(src DataSource, p []byte, off int64) error {
	n, err := src.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		return fmt.Errorf("%w: %d of %d bytes at offset %d", ErrShortRead, n, len(p), off)
	}
	return err
}

// ReadU16BE reads a big-endian uint16 at off.
func ReadU16BE(src DataSource, off int64) (uint16, error) {
	var buf [2]byte
	if err := ReadFullAt(src, buf[:], off); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// ReadU32BE reads a big-endian uint32 at off.
func ReadU32BE(src DataSource, off int64) (uint32, error) {
	var buf [4]byte
	if err := ReadFullAt(src, buf[:], off); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// ReadU32LE reads a little-endian uint32 at off.
func ReadU32LE(src DataSource, off int64) (uint32, error) {
	var buf [4]byte
	if err := ReadFullAt(src, buf[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// BufferSource is an in-memory DataSource.
type BufferSource struct {
	buf []byte
}

// NewBufferSource creates a BufferSource over buf.
func NewBufferSource(buf []byte) *BufferSource {
	return &BufferSource{buf: buf}
}

// ReadAt implements DataSource.
func (s *BufferSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrMalformed, off)
	}
	if off >= int64(len(s.buf)) {
		return 0, io.EOF
	}
	n := copy(p, s.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size implements DataSource.
func (s *BufferSource) Size() (int64, error) {
	return int64(len(s.buf)), nil
}

// FileSource is a file-backed DataSource.
type FileSource struct {
	file *os.File
	size int64
}

// OpenFileSource opens path for random-access reading.
func OpenFileSource(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &FileSource{file: file, size: info.Size()}, nil
}

// ReadAt implements DataSource.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Size implements DataSource.
func (s *FileSource) Size() (int64, error) {
	return s.size, nil
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.file.Close()
}
