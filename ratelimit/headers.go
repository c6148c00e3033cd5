package ratelimit

import (
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
)

// HTTP rate-limit header names, ported from the teacher's peekRateLimitHeader
// byte-slice constants (wrapper/ratelimit.go).
var (
	headerLimit      = []byte("X-RateLimit-Limit")
	headerRemaining  = []byte("X-RateLimit-Remaining")
	headerResetAfter = []byte("X-RateLimit-Reset-After")
	headerGlobal     = []byte("X-RateLimit-Global")
	headerRetryAfter = []byte("Retry-After")
	headerDate       = []byte("Date")
)

// Headers is the subset of a REST response's rate-limit headers the
// coordinator needs to update a bucket or lock the global gate.
type Headers struct {
	Global     bool
	RetryAfter time.Duration

	Limit      int64
	Remaining  int64
	ResetAfter time.Duration

	// Date is parsed from the HTTP Date response header. It is not
	// consulted by the in-core coordinator (which uses Retry-After
	// directly), but is retained for collaborators that align bucket
	// timing against Discord's clock instead of the local one, matching
	// the teacher's peekDate/ConfirmDate extension point.
	Date time.Time
}

// ParseHeaders extracts rate-limit headers from an HTTP response, grounded
// in the teacher's peekHeaderRateLimit/peekHeader429/peekDate
// (wrapper/request.go). Returns (nil, nil) if the response carries no
// rate-limit headers at all (a request with nothing to report).
func ParseHeaders(h *fasthttp.ResponseHeader) (*Headers, error) {
	if h.StatusCode() == fasthttp.StatusTooManyRequests && peekBool(h, headerGlobal) {
		retryAfter, err := peekSeconds(h, headerRetryAfter)
		if err != nil {
			return nil, err
		}

		return &Headers{Global: true, RetryAfter: retryAfter, Date: peekDate(h)}, nil
	}

	limitRaw := h.PeekBytes(headerLimit)
	if len(limitRaw) == 0 {
		return nil, nil
	}

	limit, err := strconv.ParseInt(string(limitRaw), 10, 64)
	if err != nil {
		return nil, err
	}

	remaining, err := strconv.ParseInt(string(h.PeekBytes(headerRemaining)), 10, 64)
	if err != nil {
		return nil, err
	}

	resetAfter, err := peekSeconds(h, headerResetAfter)
	if err != nil {
		return nil, err
	}

	return &Headers{
		Limit:      limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		Date:       peekDate(h),
	}, nil
}

func peekSeconds(h *fasthttp.ResponseHeader, key []byte) (time.Duration, error) {
	raw := h.PeekBytes(key)
	if len(raw) == 0 {
		return 0, nil
	}

	seconds, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, err
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

func peekBool(h *fasthttp.ResponseHeader, key []byte) bool {
	v, err := strconv.ParseBool(string(h.PeekBytes(key)))

	return err == nil && v
}

func peekDate(h *fasthttp.ResponseHeader) time.Time {
	raw := string(h.PeekBytes(headerDate))
	if raw == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC1123, raw)
	if err != nil {
		return time.Time{}
	}

	return t
}
