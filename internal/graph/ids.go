package graph

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// LocalIDPrefix is reserved for ids minted by the console. Backend ids never carry it.
const LocalIDPrefix = "local-"

// IDGenerator mints ids for nodes and edges created in edit mode.
type IDGenerator interface {
	NextID() string
}

// CounterIDs yields local-1, local-2, ... and is deterministic for tests.
type CounterIDs struct {
	n atomic.Uint64
}

func (c *CounterIDs) NextID() string {
	return LocalIDPrefix + strconv.FormatUint(c.n.Add(1), 10)
}

// UUIDIDs yields prefixed random UUIDs.
type UUIDIDs struct{}

func (UUIDIDs) NextID() string {
	return LocalIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id was minted by the console.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}
