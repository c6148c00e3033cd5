// Package socket reads and writes Gateway messages on a websocket
// connection, feeding binary frames through a per-connection zlib-stream
// Inflater before JSON-decoding them.
package socket

import (
	"context"
	"fmt"

	"github.com/switchupcb/websocket"

	"github.com/ravenbound/shardwire"
	"github.com/ravenbound/shardwire/frame"
	"github.com/ravenbound/shardwire/inflate"
)

// Read reads one Gateway message off conn and classifies it.
//
// Binary messages are fed through in, Discord's zlib-stream decompressor
// for this connection; a single binary frame may only carry part of a
// logical message, in which case Read returns (nil, nil) and the caller
// should read again. Text messages (transport compression disabled) are
// decoded directly.
func Read(ctx context.Context, conn *websocket.Conn, in *inflate.Inflater) (*frame.GatewayEvent, error) {
	messageType, reader, err := conn.Reader(ctx)
	if err != nil {
		return nil, err
	}

	b := get()
	defer put(b)

	if _, err := b.ReadFrom(reader); err != nil {
		return nil, err
	}

	switch messageType {
	case websocket.MessageBinary:
		text, err := in.Push(b.Bytes())
		if err != nil {
			return nil, err
		}

		if text == nil {
			return nil, nil
		}

		return frame.Decode(text)

	case websocket.MessageText:
		return frame.Decode(b.Bytes())

	default:
		return nil, fmt.Errorf("socket: received unknown message type from connection: %v", messageType)
	}
}

// Write encodes an outbound command and sends it as a text frame, matching
// Discord's uncompressed command wire format.
func Write(ctx context.Context, conn *websocket.Conn, op shardwire.GatewayOp, data any) error {
	payload, err := frame.Encode(op, data)
	if err != nil {
		return err
	}

	writer, err := conn.Writer(ctx, websocket.MessageText)
	if err != nil {
		return err
	}

	if _, err := writer.Write(payload); err != nil {
		return err
	}

	return writer.Close()
}
