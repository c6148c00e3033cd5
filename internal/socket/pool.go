package socket

import (
	"bytes"
	"sync"
)

var bufpool sync.Pool

// get gets a buffer from the pool, reused across reads to avoid
// allocating a fresh one per message.
func get() *bytes.Buffer {
	if b := bufpool.Get(); b != nil {
		return b.(*bytes.Buffer) //nolint:forcetypeassert
	}

	return new(bytes.Buffer)
}

// put resets and returns a buffer to the pool.
func put(b *bytes.Buffer) {
	b.Reset()
	bufpool.Put(b)
}
