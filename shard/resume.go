package shard

// ResumeRecord is produced by a graceful, resumable shutdown and consumed by
// a fresh shard to skip identify in favor of resume.
type ResumeRecord struct {
	ShardIndex       uint32
	SessionID        string
	Seq              int64
	ResumeGatewayURL string
}

// Info is a point-in-time snapshot of a shard's session state.
type Info struct {
	ShardIndex      uint32
	Stage           State
	Seq             int64
	LatencySamples  []int64 // milliseconds, most recent last, at most 5
	AverageLatency  int64   // milliseconds
}
