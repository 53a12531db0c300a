package media

// Buffer is one decodable sample: a byte range plus its presentation
// timestamp. The caller owns a returned buffer exclusively until Release.
type Buffer struct {
	Data   []byte
	TimeUs int64

	// SyncFrame marks a frame decodable without prior frames.
	SyncFrame bool

	// ValidSamples is the decodable sample count of a partial final audio
	// frame, zero otherwise.
	ValidSamples int

	pool *BufferPool
}

// Release returns the buffer to its pool, if any.
func (b *Buffer) Release() {
	if b.pool != nil {
		b.pool.put(b)
	}
}

// BufferPool recycles a small bounded set of buffers for one started
// track. Access is serialized by the track's single-reader contract.
type BufferPool struct {
	free []*Buffer
	max  int
}

// NewBufferPool creates a pool holding at most max free buffers.
func NewBufferPool(max int) *BufferPool {
	return &BufferPool{max: max}
}

// Get returns a buffer with capacity for size bytes.
func (p *BufferPool) Get(size int) *Buffer {
	for i, b := range p.free {
		if cap(b.Data) >= size {
			p.free = append(p.free[:i], p.free[i+1:]...)
			b.Data = b.Data[:size]
			b.TimeUs = 0
			b.SyncFrame = false
			b.ValidSamples = 0
			return b
		}
	}
	return &Buffer{Data: make([]byte, size), pool: p}
}

func (p *BufferPool) put(b *Buffer) {
	if len(p.free) < p.max {
		p.free = append(p.free, b)
	}
}
