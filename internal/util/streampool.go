package util

import "sync"

// streamBuffers recycles the fixed-size chunks that archive staging,
// extraction, and envelope streaming read into. Plaintext file contents pass
// through these buffers, so each one is scrubbed before it goes back into
// circulation.
var streamBuffers = sync.Pool{
	New: func() any {
		b := make([]byte, IOBufferSize)
		return &b
	},
}

// GetStreamBuffer hands out an IOBufferSize chunk buffer. Its contents are
// undefined; overwrite before reading.
func GetStreamBuffer() []byte {
	return *streamBuffers.Get().(*[]byte)
}

// PutStreamBuffer scrubs a buffer and makes it available for reuse. Buffers
// of any other size are discarded rather than recycled, so a sliced or
// hand-made buffer can never poison the pool.
func PutStreamBuffer(b []byte) {
	if len(b) != IOBufferSize {
		return
	}
	for i := range b {
		b[i] = 0
	}
	streamBuffers.Put(&b)
}
