package cluster

import (
	"github.com/ravenbound/shardwire/queue"
	"github.com/ravenbound/shardwire/shard"
)

// PresenceFunc overrides a shard's initial presence based on its index.
type PresenceFunc func(shardIndex uint32) *shard.Presence

// Config holds the options recognized by a cluster, in addition to every
// option shard.Config recognizes per-shard.
type Config struct {
	// Shard carries the options shared by every shard the cluster manages:
	// token, intents, large_threshold, gateway URL override, identify
	// properties override, ratelimit_payloads flag. Its Shard/MaxConcurrency
	// fields are overwritten per-shard by the cluster.
	Shard shard.Config

	// Scheme selects which shard indices to manage. If nil, New resolves a
	// Range scheme automatically from the resolver's recommended shard
	// count.
	Scheme *ShardScheme

	// Resolver is shared by every shard for gateway URL resolution, and by
	// the cluster itself to determine a recommended shard count / max
	// concurrency when Scheme is nil.
	Resolver GatewayBotResolver

	// ResumeSessions seeds specific shard indices with a prior session
	// instead of a fresh identify.
	ResumeSessions map[uint32]shard.ResumeRecord

	// Presence, if set, overrides Shard.Presence per shard index.
	Presence PresenceFunc

	// Queue is shared across every shard so identify admission is
	// coordinated cluster-wide. Defaults to an in-process queue.Queue.
	Queue queue.IdentifyQueue
}

// GatewayBotResolver resolves both the gateway URL and the session-start
// limit (recommended shard count, max concurrency) from Discord's
// bot-gateway REST endpoint — an external collaborator the cluster depends
// on only through this narrow interface.
type GatewayBotResolver interface {
	shard.GatewayResolver

	SessionStartLimit() (recommendedShards, maxConcurrency uint32, err error)
}
