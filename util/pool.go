package util

import "sync"

// DefaultBufSize is the per-session I/O chunk size.  It is not a
// framing unit: a read returns at most this many bytes.
const DefaultBufSize = 512

// BufPool hands out session buffers.  A buffer belongs to exactly one
// session between [GetBuf] and [PutBuf].
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf retrieves a zeroed buffer from the pool.  Callers must return
// it with [PutBuf] when finished.
func GetBuf() *[]byte {
	buf := BufPool.Get().(*[]byte)
	clear(*buf)
	return buf
}

// PutBuf returns a buffer to the pool for reuse.  Buffers of the wrong
// size are dropped.
func PutBuf(buf *[]byte) {
	if buf == nil || len(*buf) != DefaultBufSize {
		return
	}
	BufPool.Put(buf)
}
