package upload

import (
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/measurekeeper/internal/common"
)

// State names one position in the upload session state machine.
type State int

const (
	// StateNew: no session record exists yet for the identifier.
	StateNew State = iota
	// StateReceiving: at least one chunk has been appended.
	StateReceiving
	// StateComplete: terminal success, metadata written and descriptor
	// handed off.
	StateComplete
	// StateExpired: terminal, removed by the cleanup sweep.
	StateExpired
	// StateFailed: terminal, non-retryable protocol violation.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateReceiving:
		return "RECEIVING"
	case StateComplete:
		return "COMPLETE"
	case StateExpired:
		return "EXPIRED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session tracks one in-progress upload. All fields except ID and Total are
// guarded by the session mutex; chunk handling for one identifier is
// serialized by holding it for the duration of the chunk.
type Session struct {
	mu sync.Mutex

	// ID is the opaque upload identifier, stable across resumed chunks.
	ID string
	// Total is the declared total length, fixed by the first chunk.
	Total int64

	BytesStored  int64
	State        State
	LastActivity time.Time

	// objectName remembers the completed storage object across a failed
	// finalization, so a retry does not re-complete the staged bytes.
	objectName string

	// removed marks a session deleted from the store while another
	// goroutine was waiting on its mutex.
	removed bool
}

func (s *Session) lock()   { s.mu.Lock() }
func (s *Session) unlock() { s.mu.Unlock() }

// advance increments BytesStored by n and refreshes LastActivity. The caller
// must hold the session lock. It fails without mutating when the resulting
// count would exceed the declared total.
func (s *Session) advance(n int64, now time.Time) error {
	if n < 0 {
		return fmt.Errorf("%w: negative advance %d", common.ErrContentRangeMismatch, n)
	}
	if s.BytesStored+n > s.Total {
		return fmt.Errorf("%w: %d+%d exceeds declared total %d",
			common.ErrContentRangeMismatch, s.BytesStored, n, s.Total)
	}
	s.BytesStored += n
	s.State = StateReceiving
	s.LastActivity = now
	return nil
}

// Remaining returns the number of bytes still needed. The caller must hold
// the session lock.
func (s *Session) Remaining() int64 {
	return s.Total - s.BytesStored
}
