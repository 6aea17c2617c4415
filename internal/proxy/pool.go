package proxy

import "sync"

const (
	// DefaultBufferSize is the relay buffer size used when none is configured.
	DefaultBufferSize = 32 * 1024
	// MinBufferSize is the smallest relay buffer handed out.
	MinBufferSize = 1024
)

// BufferPool hands out fixed-size byte slices. Each relay direction takes its
// own buffer, so no slice is ever shared between concurrent copies.
type BufferPool struct {
	size int
	pool sync.Pool
}

func NewBufferPool(size int) *BufferPool {
	if size == 0 {
		size = DefaultBufferSize
	}
	size = max(size, MinBufferSize)

	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}

	return bp
}

// Size returns the length of buffers returned by Get.
func (p *BufferPool) Size() int {
	return p.size
}

// Get returns a buffer of Size bytes. Its contents are unspecified.
func (p *BufferPool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

// Put returns b to the pool. Slices shorter than Size are dropped.
func (p *BufferPool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	// Storing a slice header in an interface allocates; the pointer keeps it small.
	p.pool.Put(&b)
}
