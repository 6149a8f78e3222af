package segment

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out insertion sequence numbers and segment IDs.
// A single counter is shared by both so sequences stay globally ordered.
type Generator struct {
	counter uint64
}

func New() *Generator {
	return &Generator{}
}

// Sequence returns the next insertion sequence number (starting at 1).
func (g *Generator) Sequence() uint64 {
	return atomic.AddUint64(&g.counter, 1)
}

// Next returns a new segment ID scoped to the given prefix.
func (g *Generator) Next(prefix string) string {
	return fmt.Sprintf("%s-seg-%d", prefix, g.Sequence())
}
