// Package cdcerrors defines the four-way error taxonomy every
// component reports against: configuration, connection, consistency,
// and protocol. Connection errors are the only class retried; the
// other three always propagate as a failed split.
package cdcerrors

import "github.com/pingcap/errors"

var (
	// ErrConfiguration covers a malformed or contradictory Config —
	// mostly caught at Preflight time; dbconn.Open also reports an
	// unparsable DSN with it, and a snapshot read reports a configured
	// key column missing from the chunk's result set.
	ErrConfiguration = errors.New("cdc: configuration error")

	// ErrConnection covers a failure to reach MySQL: dial failures,
	// auth failures, and connections dropped mid-query. Bounded
	// exponential backoff applies to this class only.
	ErrConnection = errors.New("cdc: connection error")

	// ErrConsistency covers a detected violation of a merge invariant:
	// the snapshot reader wraps every normalizer failure (a DELETE of
	// an unknown key, a READ among the log events) with it. Events
	// outside a chunk's key range are filtered, not reported. Never retried — it means
	// the algorithm's assumptions were violated, not that a query
	// failed transiently.
	ErrConsistency = errors.New("cdc: consistency error")

	// ErrProtocol covers an event from the binary log the reader
	// cannot classify, such as an unknown row action. Faults between
	// the enumerator and a worker (an unknown split ID) are reported by
	// the assigner with plain errors, not with this sentinel.
	ErrProtocol = errors.New("cdc: protocol error")
)

// Is reports whether err's root cause is target, unwrapping
// pingcap/errors' trace wrapping first via errors.Cause.
func Is(err, target error) bool {
	return errors.Cause(err) == target
}
