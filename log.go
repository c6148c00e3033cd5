package shardwire

import (
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Logger is the package-level logger used throughout the gateway core,
// following the same single-global-zerolog.Logger idiom as the teacher
// module's wrapper.Logger.
var Logger = zerolog.New(os.Stdout) //nolint:gochecknoglobals

// Log context keys, ported and extended from the teacher's log.go.
const (
	LogCtxShard      = "shard"
	LogCtxSession     = "session"
	LogCtxSeq         = "seq"
	LogCtxStage       = "stage"
	LogCtxPayload     = "payload"
	LogCtxOpcode      = "opcode"
	LogCtxData        = "data"
	LogCtxEvent       = "event"
	LogCtxCommand     = "command"
	LogCtxBucket      = "bucket"
	LogCtxRoute       = "route"
	LogCtxReset       = "reset"
	LogCtxTicket      = "ticket"
	LogCtxCorrelation = "xid"
	LogCtxScheme      = "scheme"
	LogCtxCluster     = "cluster"
)

// LogSession logs a shard session event.
func LogSession(log *zerolog.Event, shard ShardID, sessionID string) *zerolog.Event {
	return log.Timestamp().
		Str(LogCtxShard, shard.String()).
		Str(LogCtxSession, sessionID)
}

// LogPayload logs a raw Gateway Payload (typically chained off LogSession).
func LogPayload(log *zerolog.Event, op GatewayOp, data json.RawMessage) *zerolog.Event {
	return log.Dict(LogCtxPayload, zerolog.Dict().
		Int(LogCtxOpcode, int(op)).
		Bytes(LogCtxData, data),
	)
}

// LogCommand logs an outbound Gateway command.
func LogCommand(log *zerolog.Event, shard ShardID, op GatewayOp, name string) *zerolog.Event {
	return log.Str(LogCtxShard, shard.String()).
		Dict(LogCtxCommand, zerolog.Dict().
			Int(LogCtxOpcode, int(op)).
			Str(LogCtxEvent, name),
		)
}

// LogBucket logs a rate-limit bucket's state transition.
func LogBucket(log *zerolog.Event, route string, limit, remaining int64) *zerolog.Event {
	return log.Timestamp().
		Str(LogCtxRoute, route).
		Dict(LogCtxBucket, zerolog.Dict().
			Int64("limit", limit).
			Int64("remaining", remaining),
		)
}

// LogTicket logs a rate-limit ticket's admission using a correlation ID so a
// single ticket's lifecycle can be traced across the coordinator's worker
// goroutine and the caller.
func LogTicket(log *zerolog.Event, route, correlation string) *zerolog.Event {
	return log.Timestamp().
		Str(LogCtxRoute, route).
		Str(LogCtxCorrelation, correlation)
}

// LogScheme logs a cluster's shard scheme resolution.
func LogScheme(log *zerolog.Event, kind string, from, to, total uint32) *zerolog.Event {
	return log.Timestamp().
		Dict(LogCtxScheme, zerolog.Dict().
			Str("kind", kind).
			Uint32("from", from).
			Uint32("to", to).
			Uint32("total", total),
		)
}
