package bridge

import (
	"strconv"
	"sync/atomic"
	"time"
)

const defaultIDPrefix = "req"

// IDGenerator produces request ids of the form prefix_<unixMillis>_<n>.
//
// n starts at 1 and increases on every call, so ids minted within the same
// millisecond stay distinct. Safe for concurrent use.
type IDGenerator struct {
	prefix string
	seq    atomic.Uint64
	now    func() time.Time
}

func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = defaultIDPrefix
	}
	return &IDGenerator{prefix: prefix, now: time.Now}
}

func (g *IDGenerator) Next() string {
	n := g.seq.Add(1)
	return g.prefix + "_" + strconv.FormatInt(g.now().UnixMilli(), 10) + "_" + strconv.FormatUint(n, 10)
}
