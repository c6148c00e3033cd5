// Package inflate decompresses zlib-stream Gateway payloads.
//
// Discord transport-compresses Gateway messages as a single, never-ending
// zlib stream for the lifetime of a connection: each logical message is
// flushed with Z_SYNC_FLUSH, and its compressed bytes end in the four byte
// suffix 00 00 FF FF. A message may arrive split across multiple WebSocket
// frames, so chunks accumulate in a per-message buffer until the suffix
// appears. The zlib decompressor itself, however, must persist across
// messages: later messages' compressed bytes can back-reference data
// produced by earlier ones.
package inflate

import (
	"bytes"
	"compress/zlib"
	"errors"
	"io"
	"time"
	"unicode/utf8"

	"github.com/ravenbound/shardwire"
)

// errNotUTF8 is wrapped into a shardwire.Error with kind ErrDeserializing
// when a decompressed message is not valid UTF-8.
var errNotUTF8 = errors.New("inflate: decompressed message is not valid utf-8")

// zlibSuffix is the magic suffix documented by Discord that marks the end
// of a logical zlib-stream message.
var zlibSuffix = [4]byte{0x00, 0x00, 0xff, 0xff}

// bufferSize is the size of the reusable scratch buffer used to drain the
// zlib reader.
const bufferSize = 32 * 1024

// shrinkAfter is the interval after which an idle, non-empty compressed
// buffer is shrunk to fit, to reclaim memory held by an unusually large
// payload (e.g. a large GUILD_CREATE).
const shrinkAfter = 60 * time.Second

// Inflater decompresses a single shard connection's zlib-stream.
//
// Inflater is not safe for concurrent use; a shard's processor goroutine is
// expected to own it exclusively.
type Inflater struct {
	// compressed is both the per-message accumulator (spec's "internal
	// compressed buffer") AND the persistent source the zlib reader reads
	// from: it is drained, not replaced, so the decompressor's sliding
	// window survives across messages.
	compressed *bytes.Buffer
	reader     io.ReadCloser
	scratch    [bufferSize]byte
	lastShrink time.Time
	shrinkable bool
}

// New creates an Inflater ready to receive the first chunk of a connection.
func New() *Inflater {
	return &Inflater{
		compressed: new(bytes.Buffer),
		lastShrink: time.Now(),
	}
}

// Push appends chunk to the internal compressed buffer. If the buffer does
// not yet end in the zlib-stream suffix, Push returns (nil, nil): the
// message is incomplete and more chunks are expected. Otherwise, Push
// decompresses the accumulated message, clears the compressed buffer, and
// returns the decompressed text.
func (in *Inflater) Push(chunk []byte) ([]byte, error) {
	in.reclaim()

	if _, err := in.compressed.Write(chunk); err != nil {
		return nil, shardwire.NewError(shardwire.ErrDecompressing, err)
	}

	if !hasSuffix(in.compressed.Bytes()) {
		in.shrinkable = true

		return nil, nil
	}

	if in.reader == nil {
		r, err := zlib.NewReader(in.compressed)
		if err != nil {
			return nil, shardwire.NewError(shardwire.ErrDecompressing, err)
		}

		in.reader = r
	}

	out := make([]byte, 0, in.compressed.Len()*3)

	for {
		n, err := in.reader.Read(in.scratch[:])
		out = append(out, in.scratch[:n]...)

		if err == io.EOF {
			// Reached at a sync-flush boundary: "no more output available
			// right now", not a corrupt stream. The same reader keeps its
			// dictionary and resumes correctly once the next message is
			// written into in.compressed.
			break
		}

		if err != nil {
			return nil, shardwire.NewError(shardwire.ErrDecompressing, err)
		}

		if n == 0 {
			break
		}
	}

	in.clear()

	if !utf8.Valid(out) {
		return nil, shardwire.NewError(shardwire.ErrDeserializing, errNotUTF8)
	}

	return out, nil
}

// Reset wipes the compressed buffer and reinitializes the zlib decompressor
// state. Used when reconnecting, since a new connection starts a fresh
// zlib-stream with no shared history with the old one.
func (in *Inflater) Reset() {
	if in.reader != nil {
		_ = in.reader.Close()
	}

	in.reader = nil
	in.compressed = new(bytes.Buffer)
	in.shrinkable = false
}

// clear empties the compressed buffer now that its contents have been fully
// consumed by the zlib reader.
func (in *Inflater) clear() {
	in.compressed.Reset()
	in.shrinkable = false
}

// reclaim shrinks the compressed buffer's capacity if it has sat non-empty
// (an in-progress, split message) and unshrunk for more than shrinkAfter.
func (in *Inflater) reclaim() {
	if !in.shrinkable || in.compressed.Len() == 0 {
		return
	}

	if time.Since(in.lastShrink) <= shrinkAfter {
		return
	}

	shrunk := make([]byte, in.compressed.Len())
	copy(shrunk, in.compressed.Bytes())
	*in.compressed = *bytes.NewBuffer(shrunk)
	in.lastShrink = time.Now()
}

func hasSuffix(b []byte) bool {
	if len(b) < 4 {
		return false
	}

	var tail [4]byte
	copy(tail[:], b[len(b)-4:])

	return tail == zlibSuffix
}
