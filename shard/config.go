package shard

import (
	"fmt"
	"runtime"

	"github.com/ravenbound/shardwire"
	"github.com/ravenbound/shardwire/queue"
)

const (
	MinLargeThreshold     = 50
	MaxLargeThreshold     = 250
	DefaultLargeThreshold = 250

	apiVersion = "10"
)

// IdentifyProperties is sent as part of Identify, describing the client.
//
// https://discord.com/developers/docs/topics/gateway#identify-identify-connection-properties
type IdentifyProperties struct {
	OS      string `json:"$os,omitempty" schema:"-"`
	Browser string `json:"$browser,omitempty" schema:"-"`
	Device  string `json:"$device,omitempty" schema:"-"`
}

// DefaultIdentifyProperties mirrors the teacher's IdentifyConnectionProperties
// defaulting pattern.
func DefaultIdentifyProperties() IdentifyProperties {
	return IdentifyProperties{OS: runtime.GOOS, Browser: "shardwire", Device: "shardwire"}
}

// Presence is an optional initial presence sent with Identify.
//
// https://discord.com/developers/docs/topics/gateway#update-presence-gateway-presence-update-structure
type Presence struct {
	Since  int    `json:"since,omitempty"`
	Status string `json:"status,omitempty"`
	AFK    bool   `json:"afk,omitempty"`
}

// Config holds the options recognized by a single shard.
type Config struct {
	// Token is the bot token. A "Bot " prefix is added automatically if
	// absent.
	Token string

	Intents uint64

	// LargeThreshold must be within [MinLargeThreshold, MaxLargeThreshold].
	LargeThreshold int

	Presence *Presence

	Shard shardwire.ShardID

	// MaxConcurrency is the gateway session-start concurrency this shard's
	// identify bucket is computed against (shard_index mod MaxConcurrency).
	// Left at 0, it defaults to 1 (no sharing across an identify bucket).
	// A Cluster sets this from the scheme it resolves.
	MaxConcurrency uint32

	// GatewayURL overrides the REST-resolved gateway endpoint.
	GatewayURL string

	IdentifyProperties IdentifyProperties

	// RatelimitPayloads gates outbound commands (other than heartbeats)
	// through the outbound token bucket. Default true.
	RatelimitPayloads bool

	Queue queue.IdentifyQueue
}

// DefaultConfig returns a Config for shard (0, 1) with library defaults.
func DefaultConfig(token string) Config {
	shard, _ := shardwire.NewShardID(0, 1)

	return Config{
		Token:              token,
		LargeThreshold:     DefaultLargeThreshold,
		Shard:              shard,
		IdentifyProperties: DefaultIdentifyProperties(),
		RatelimitPayloads:  true,
		Queue:              queue.New(),
	}
}

// Validate checks the boundary conditions a shard enforces before connecting.
func (c Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("shard: token is required")
	}

	if c.LargeThreshold < MinLargeThreshold || c.LargeThreshold > MaxLargeThreshold {
		return fmt.Errorf("shard: large_threshold %d outside [%d, %d]", c.LargeThreshold, MinLargeThreshold, MaxLargeThreshold)
	}

	if c.Shard.Total == 0 {
		return fmt.Errorf("shard: shard total must be nonzero")
	}

	return nil
}

// bearerToken returns Token, adding the "Bot " prefix if missing.
func (c Config) bearerToken() string {
	const prefix = "Bot "

	if len(c.Token) >= len(prefix) && c.Token[:len(prefix)] == prefix {
		return c.Token
	}

	return prefix + c.Token
}
