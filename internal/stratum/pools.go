package stratum

import "sync"

const readBufferSize = 4096

// readBufferPool reuses socket read buffers between the reader goroutine
// and the consumer that frames them.
var readBufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, readBufferSize)
		return &b
	},
}

func getReadBuffer() *[]byte {
	b := readBufferPool.Get().(*[]byte)
	*b = (*b)[:cap(*b)]
	return b
}

func putReadBuffer(b *[]byte) {
	if b != nil {
		readBufferPool.Put(b)
	}
}
