// Package frame classifies an inbound Gateway text message into a typed
// GatewayEvent.
package frame

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/ravenbound/shardwire"
)

// envelope is the wire shape of every Gateway message.
//
// https://discord.com/developers/docs/topics/gateway-events#payload-structure
type envelope struct {
	Op   shardwire.GatewayOp `json:"op"`
	Data json.RawMessage     `json:"d"`
	Seq  *int64              `json:"s,omitempty"`
	Name *string             `json:"t,omitempty"`
}

// Kind discriminates a decoded GatewayEvent.
type Kind int

const (
	KindDispatch Kind = iota
	KindHeartbeat
	KindReconnect
	KindInvalidSession
	KindHello
	KindHeartbeatACK
)

// GatewayEvent is the decoded form of one inbound Gateway message.
type GatewayEvent struct {
	Kind Kind

	// Dispatch fields (Kind == KindDispatch).
	Seq     int64
	Name    string
	Payload json.RawMessage

	// Heartbeat fields (Kind == KindHeartbeat).
	HeartbeatSeq int64

	// InvalidSession fields (Kind == KindInvalidSession).
	Resumable bool

	// Hello fields (Kind == KindHello).
	HeartbeatIntervalMS int64
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// Decode classifies a raw Gateway text message into a GatewayEvent.
//
// Decode fails with a shardwire.Error of kind ErrDeserializing on malformed
// JSON, a missing required field for the observed opcode, an unknown
// opcode, or an outbound-only opcode observed inbound.
func Decode(text []byte) (*GatewayEvent, error) {
	var env envelope
	if err := json.Unmarshal(text, &env); err != nil {
		return nil, shardwire.NewError(shardwire.ErrDeserializing, err)
	}

	if shardwire.IsOutboundOnly(env.Op) {
		return nil, shardwire.NewError(shardwire.ErrDeserializing,
			fmt.Errorf("frame: opcode %d is outbound-only and must not be received", env.Op))
	}

	switch env.Op {
	case shardwire.OpDispatch:
		if env.Seq == nil || env.Name == nil {
			return nil, shardwire.NewError(shardwire.ErrDeserializing,
				fmt.Errorf("frame: dispatch event missing required field s or t"))
		}

		return &GatewayEvent{
			Kind:    KindDispatch,
			Seq:     *env.Seq,
			Name:    *env.Name,
			Payload: env.Data,
		}, nil

	case shardwire.OpHeartbeat:
		var seq int64
		if len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, &seq); err != nil {
				return nil, shardwire.NewError(shardwire.ErrDeserializing, err)
			}
		}

		return &GatewayEvent{Kind: KindHeartbeat, HeartbeatSeq: seq}, nil

	case shardwire.OpReconnect:
		return &GatewayEvent{Kind: KindReconnect}, nil

	case shardwire.OpInvalidSession:
		var resumable bool
		if err := json.Unmarshal(env.Data, &resumable); err != nil {
			return nil, shardwire.NewError(shardwire.ErrDeserializing,
				fmt.Errorf("frame: invalid session payload is not a bool: %w", err))
		}

		return &GatewayEvent{Kind: KindInvalidSession, Resumable: resumable}, nil

	case shardwire.OpHello:
		var hello helloData
		if err := json.Unmarshal(env.Data, &hello); err != nil {
			return nil, shardwire.NewError(shardwire.ErrDeserializing, err)
		}

		return &GatewayEvent{Kind: KindHello, HeartbeatIntervalMS: hello.HeartbeatInterval}, nil

	case shardwire.OpHeartbeatACK:
		return &GatewayEvent{Kind: KindHeartbeatACK}, nil

	default:
		return nil, shardwire.NewError(shardwire.ErrDeserializing,
			fmt.Errorf("frame: unknown opcode %d", env.Op))
	}
}

// Encode serializes an outbound command, matching the op/d envelope all
// Gateway commands share.
func Encode(op shardwire.GatewayOp, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, shardwire.NewError(shardwire.ErrSerializing, err)
	}

	return json.Marshal(envelope{Op: op, Data: payload})
}
