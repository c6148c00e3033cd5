package cluster

import "fmt"

// ShardScheme selects which shard indices a Cluster manages. It is a closed
// variant: exactly one of the two constructors below produces a valid
// value.
type ShardScheme struct {
	kind schemeKind

	// Range fields.
	from, to uint32

	// Bucket fields.
	bucketID, concurrency uint32

	total uint32
}

type schemeKind int

const (
	schemeRange schemeKind = iota
	schemeBucket
)

// NewRangeScheme manages shards [from, to] inclusive out of total.
func NewRangeScheme(from, to, total uint32) (ShardScheme, error) {
	if from > to || to >= total {
		return ShardScheme{}, &SchemeError{Kind: ErrIDTooLarge, From: from, To: to, Total: total}
	}

	return ShardScheme{kind: schemeRange, from: from, to: to, total: total}, nil
}

// NewBucketScheme manages the shard indices bucketID, bucketID+concurrency,
// bucketID+2*concurrency, … < total. Used by bots in Discord's Sharding for
// Very Large Bots program, where multiple processes each own one bucket of
// a shared total.
func NewBucketScheme(bucketID, concurrency, total uint32) (ShardScheme, error) {
	if concurrency == 0 || bucketID >= total/concurrency {
		return ShardScheme{}, &SchemeError{Kind: ErrBucketTooLarge, BucketID: bucketID, Concurrency: concurrency, Total: total}
	}

	return ShardScheme{kind: schemeBucket, bucketID: bucketID, concurrency: concurrency, total: total}, nil
}

// Total is the scheme's total shard count.
func (s ShardScheme) Total() uint32 { return s.total }

// Iter enumerates exactly the indices this scheme manages, in ascending
// order.
func (s ShardScheme) Iter() []uint32 {
	var indices []uint32

	switch s.kind {
	case schemeRange:
		for i := s.from; i <= s.to; i++ {
			indices = append(indices, i)
		}

	case schemeBucket:
		for i := s.bucketID; i < s.total; i += s.concurrency {
			indices = append(indices, i)
		}
	}

	return indices
}

// SchemeErrorKind is a closed set of scheme validation failures.
type SchemeErrorKind string

const (
	ErrIDTooLarge     SchemeErrorKind = "IdTooLarge"
	ErrBucketTooLarge SchemeErrorKind = "BucketTooLarge"
)

// SchemeError is returned by NewRangeScheme/NewBucketScheme when the
// supplied bounds can't describe a valid scheme.
type SchemeError struct {
	Kind SchemeErrorKind

	From, To, Total       uint32
	BucketID, Concurrency uint32
}

func (e *SchemeError) Error() string {
	switch e.Kind {
	case ErrIDTooLarge:
		return fmt.Sprintf("cluster: shard ID range %d-%d/%d is out of order or not below the total", e.From, e.To, e.Total)
	case ErrBucketTooLarge:
		return fmt.Sprintf("cluster: bucket ID %d is out of range for concurrency %d and total %d", e.BucketID, e.Concurrency, e.Total)
	default:
		return "cluster: invalid shard scheme"
	}
}
