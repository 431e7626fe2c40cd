package pool

import (
	"bytes"
	"sync"
)

// Буферы больше этого размера в пул не возвращаются
const maxPooledBuffer = 1 << 20

// ObjectPools содержит пулы объектов для переиспользования на горячем пути
type ObjectPools struct {
	bufferPool sync.Pool
}

// Global пулы объектов
var Global = &ObjectPools{
	bufferPool: sync.Pool{
		New: func() interface{} {
			return bytes.NewBuffer(make([]byte, 0, 4096))
		},
	},
}

// GetBuffer получает очищенный буфер из пула
func (p *ObjectPools) GetBuffer() *bytes.Buffer {
	buf := p.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer возвращает буфер в пул
func (p *ObjectPools) PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBuffer {
		return
	}
	p.bufferPool.Put(buf)
}
