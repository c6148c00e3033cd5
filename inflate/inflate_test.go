package inflate_test

import (
	"bytes"
	"compress/zlib"
	"testing"

	"github.com/ravenbound/shardwire/inflate"
)

// compress builds a single zlib-stream payload out of one or more
// messages, each terminated with a Z_SYNC_FLUSH matching Discord's wire
// format. The returned slices are the compressed bytes for each message in
// order, still sharing one continuing zlib stream.
func compress(t *testing.T, messages ...string) [][]byte {
	t.Helper()

	var (
		buf      bytes.Buffer
		segments [][]byte
		prev     int
	)

	w := zlib.NewWriter(&buf)

	for _, m := range messages {
		if _, err := w.Write([]byte(m)); err != nil {
			t.Fatalf("write: %v", err)
		}

		if err := w.Flush(); err != nil {
			t.Fatalf("flush: %v", err)
		}

		segments = append(segments, append([]byte(nil), buf.Bytes()[prev:]...))
		prev = buf.Len()
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	return segments
}

func TestPushSingleMessage(t *testing.T) {
	segments := compress(t, `{"op":10,"d":{"heartbeat_interval":41250}}`)

	in := inflate.New()

	out, err := in.Push(segments[0])
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	if string(out) != `{"op":10,"d":{"heartbeat_interval":41250}}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestPushSplitAcrossChunks(t *testing.T) {
	segments := compress(t, `{"op":11}`)
	payload := segments[0]

	in := inflate.New()

	mid := len(payload) / 2

	out, err := in.Push(payload[:mid])
	if err != nil {
		t.Fatalf("push first half: %v", err)
	}

	if out != nil {
		t.Fatalf("expected incomplete message to return nil, got %q", out)
	}

	out, err = in.Push(payload[mid:])
	if err != nil {
		t.Fatalf("push second half: %v", err)
	}

	if string(out) != `{"op":11}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

// TestPushArbitraryByteBoundaries exercises the spec's round-trip property:
// splitting one compressed message at any byte boundary must decompress to
// the same text as pushing it whole.
func TestPushArbitraryByteBoundaries(t *testing.T) {
	segments := compress(t, `{"op":0,"t":"READY","s":1,"d":{"session_id":"abc"}}`)
	payload := segments[0]

	for split := 1; split < len(payload); split++ {
		in := inflate.New()

		var got []byte

		for _, chunk := range [][]byte{payload[:split], payload[split:]} {
			out, err := in.Push(chunk)
			if err != nil {
				t.Fatalf("split %d: push: %v", split, err)
			}

			if out != nil {
				got = out
			}
		}

		if string(got) != `{"op":0,"t":"READY","s":1,"d":{"session_id":"abc"}}` {
			t.Fatalf("split %d: unexpected output: %s", split, got)
		}
	}
}

// TestPushMultipleMessagesShareDictionary ensures an Inflater's zlib
// decompressor carries its sliding window across messages: Discord's
// zlib-stream is one continuing stream for the life of a connection, so
// later messages may back-reference bytes produced by earlier ones.
func TestPushMultipleMessagesShareDictionary(t *testing.T) {
	first := `{"op":0,"t":"READY","s":1,"d":{"session_id":"abcdefghijklmnop"}}`
	second := `{"op":0,"t":"GUILD_CREATE","s":2,"d":{"session_id":"abcdefghijklmnop"}}`

	segments := compress(t, first, second)

	in := inflate.New()

	out1, err := in.Push(segments[0])
	if err != nil {
		t.Fatalf("push first: %v", err)
	}

	if string(out1) != first {
		t.Fatalf("first message mismatch: %s", out1)
	}

	out2, err := in.Push(segments[1])
	if err != nil {
		t.Fatalf("push second: %v", err)
	}

	if string(out2) != second {
		t.Fatalf("second message mismatch: %s", out2)
	}
}

func TestResetAllowsFreshStream(t *testing.T) {
	in := inflate.New()

	segments := compress(t, `{"op":9,"d":false}`)
	payload := segments[0]

	if _, err := in.Push(payload[:len(payload)-2]); err != nil {
		t.Fatalf("push partial: %v", err)
	}

	in.Reset()

	fresh := compress(t, `{"op":9,"d":false}`)

	out, err := in.Push(fresh[0])
	if err != nil {
		t.Fatalf("push after reset: %v", err)
	}

	if string(out) != `{"op":9,"d":false}` {
		t.Fatalf("unexpected output after reset: %s", out)
	}
}

func TestPushIncompleteIsNil(t *testing.T) {
	in := inflate.New()

	out, err := in.Push(nil)
	if err != nil {
		t.Fatalf("push empty: %v", err)
	}

	if out != nil {
		t.Fatalf("expected nil for empty push, got %q", out)
	}
}
