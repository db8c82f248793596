package results

import "errors"

// Error taxonomy. Callers classify with errors.Is.
var (
	// ErrNotFound means the identifier has no published record.
	ErrNotFound = errors.New("result not found")
	// ErrFetchFailed means the portal could not be reached; the identifier's status is unknown.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrParseIncomplete means a response arrived but required fields were missing.
	// It also matches ErrNotFound.
	ErrParseIncomplete error = parseIncompleteError{}
	// ErrPersistence wraps transactional failures while saving a record.
	ErrPersistence = errors.New("persist result")
	// ErrStoreUnavailable means the durable store cannot be reached at all.
	ErrStoreUnavailable = errors.New("result store unavailable")
	// ErrConfiguration marks missing or invalid setup; fatal at startup.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrInvalidIdentifier rejects identifiers outside every known format grammar.
	ErrInvalidIdentifier = errors.New("invalid hall ticket")
	// ErrUnavailable is the lookup-facing "temporarily unavailable" signal.
	ErrUnavailable = errors.New("result temporarily unavailable")
	// ErrQueueClosed is returned by Dequeue after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)

type parseIncompleteError struct{}

func (parseIncompleteError) Error() string { return "result page incomplete" }

func (parseIncompleteError) Is(target error) bool {
	return target == ErrNotFound
}
