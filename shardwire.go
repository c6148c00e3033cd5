// Package shardwire contains the wire-level vocabulary shared by every
// component of the gateway core: opcodes, close event codes, shard
// identifiers, and the closed error-kind shape used across the module.
//
// Concrete Discord entity types, REST request builders, and the entity
// cache are not part of this package; they are external collaborators.
package shardwire

import "fmt"

// GatewayOp is a Discord Gateway opcode.
//
// https://discord.com/developers/docs/topics/opcodes-and-status-codes#gateway-opcodes
type GatewayOp int

// Gateway opcodes.
const (
	OpDispatch            GatewayOp = 0
	OpHeartbeat           GatewayOp = 1
	OpIdentify            GatewayOp = 2
	OpPresenceUpdate      GatewayOp = 3
	OpVoiceStateUpdate    GatewayOp = 4
	OpResume              GatewayOp = 6
	OpReconnect           GatewayOp = 7
	OpRequestGuildMembers GatewayOp = 8
	OpInvalidSession      GatewayOp = 9
	OpHello               GatewayOp = 10
	OpHeartbeatACK        GatewayOp = 11
)

// outboundOps are opcodes that the client sends and must never accept as
// inbound traffic.
var outboundOps = map[GatewayOp]bool{
	OpIdentify:            true,
	OpResume:              true,
	OpPresenceUpdate:      true,
	OpVoiceStateUpdate:    true,
	OpRequestGuildMembers: true,
}

// IsOutboundOnly reports whether op is only ever sent by the client.
func IsOutboundOnly(op GatewayOp) bool {
	return outboundOps[op]
}

// ShardID identifies a single shard within a bot's total shard count.
type ShardID struct {
	Index uint32
	Total uint32
}

// NewShardID builds a ShardID, validating index < total.
func NewShardID(index, total uint32) (ShardID, error) {
	if total == 0 || index >= total {
		return ShardID{}, fmt.Errorf("shardwire: shard index %d is out of range for %d total shards", index, total)
	}

	return ShardID{Index: index, Total: total}, nil
}

func (s ShardID) String() string {
	return fmt.Sprintf("[%d/%d]", s.Index, s.Total)
}

// Bucket returns the identify-queue bucket this shard admits through, given
// a gateway max_concurrency value.
func (s ShardID) Bucket(maxConcurrency uint32) uint32 {
	if maxConcurrency == 0 {
		return 0
	}

	return s.Index % maxConcurrency
}
