package shardwire

import "fmt"

// ErrorKind is a closed enumeration of the error kinds a gateway core
// operation can fail with. Callers match on Kind rather than the
// underlying error chain.
type ErrorKind string

// Shard initialize error kinds.
const (
	ErrAuthorizationInvalid ErrorKind = "AuthorizationInvalid"
	ErrEstablishing         ErrorKind = "Establishing"
	ErrIntentsDisallowed    ErrorKind = "IntentsDisallowed"
	ErrIntentsInvalid       ErrorKind = "IntentsInvalid"
	ErrParsingGatewayURL    ErrorKind = "ParsingGatewayUrl"
	ErrRetrievingGatewayURL ErrorKind = "RetrievingGatewayUrl"
)

// Receive error kinds.
const (
	ErrClient         ErrorKind = "Client"
	ErrDecompressing  ErrorKind = "Decompressing"
	ErrDeserializing  ErrorKind = "Deserializing"
	ErrProcess        ErrorKind = "Process"
	ErrReconnect      ErrorKind = "Reconnect"
	ErrSendingMessage ErrorKind = "SendingMessage"
)

// Send error kinds.
const (
	ErrSending     ErrorKind = "Sending"
	ErrSerializing ErrorKind = "Serializing"
)

// Scheme validation error kinds.
const (
	ErrIDTooLarge     ErrorKind = "IdTooLarge"
	ErrBucketTooLarge ErrorKind = "BucketTooLarge"
)

// Rate-limit error kinds.
const (
	ErrRequestError     ErrorKind = "RequestError"
	ErrRequestTimedOut  ErrorKind = "RequestTimedOut"
	ErrRequestCanceled  ErrorKind = "RequestCanceled"
	ErrResponse         ErrorKind = "Response"
	ErrServiceUnavail   ErrorKind = "ServiceUnavailable"
	ErrChunkingResponse ErrorKind = "ChunkingResponse"

	// ErrStopped is returned by Shard.Info for a shard that was never
	// started. A shard that has been shut down is not reported as stopped:
	// Info still returns its last snapshot.
	ErrStopped ErrorKind = "Stopped"
)

// Error is the error type returned by every fallible public operation in the
// gateway core. Its Kind is a closed set (see the Err* constants); its
// wrapped error preserves the underlying cause for inspection via errors.Is
// / errors.As / errors.Unwrap.
type Error struct {
	Kind ErrorKind
	Err  error

	// Status and Body are populated only for ErrResponse.
	Status int
	Body   []byte
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}

	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err under the given kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
