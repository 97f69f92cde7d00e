package models

import (
	"fmt"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mrand.New(mrand.NewSource(time.Now().UnixNano())), 0)
)

// NewMessageID returns a ULID-based identifier like "msg_01J...". A shared
// monotonic entropy source keeps IDs unique even when several are generated
// within the same millisecond.
func NewMessageID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id := ulid.MustNew(ulid.Now(), entropy)
	return fmt.Sprintf("msg_%s", id.String())
}
