// Package pool provides buffer reuse for part bodies. Every part of an
// upload needs a part-size scratch buffer; pooling them keeps a saturated
// client from churning the allocator at multi-gigabit rates.
package pool

import (
	"sync"
)

// PartBufferPool hands out part-size byte slices for request bodies and
// response accumulation.
type PartBufferPool struct {
	partSize int64
	pool     *sync.Pool
}

// NewPartBufferPool creates a pool of buffers with capacity partSize.
func NewPartBufferPool(partSize int64) *PartBufferPool {
	return &PartBufferPool{
		partSize: partSize,
		pool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 0, partSize)
				return &buf
			},
		},
	}
}

// Get returns a zero-length buffer with at least size capacity. Buffers
// larger than the pool's part size are allocated outside the pool.
func (p *PartBufferPool) Get(size int64) []byte {
	if size > p.partSize {
		return make([]byte, 0, size)
	}
	bufPtr := p.pool.Get().(*[]byte)
	return (*bufPtr)[:0]
}

// Put returns a buffer to the pool. Oversized buffers are dropped so the
// pool's footprint stays bounded by partSize per entry.
func (p *PartBufferPool) Put(buf []byte) {
	if buf == nil || int64(cap(buf)) != p.partSize {
		return
	}
	buf = buf[:0]
	p.pool.Put(&buf)
}

// PartSize reports the pooled buffer capacity.
func (p *PartBufferPool) PartSize() int64 {
	return p.partSize
}
