package testutil

import (
	"fmt"
	"sync"
)

// SequentialGenerator issues predictable identifiers: "0001", "0002", ...
// behind an optional prefix. It satisfies engine.IDGenerator, so wsIds and
// job ids come out identical across runs and golden files stay stable.
type SequentialGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialGenerator creates a generator; prefix may be empty.
func NewSequentialGenerator(prefix string) *SequentialGenerator {
	return &SequentialGenerator{prefix: prefix}
}

// Generate returns the next identifier.
func (g *SequentialGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%04d", g.prefix, g.n)
}

// IDs combines a SequentialGenerator and a DeterministicClock into a
// snapshot.IDSource for calling the pure record functions directly.
type IDs struct {
	Gen   *SequentialGenerator
	Clock *DeterministicClock
}

// NewIDs returns an IDSource issuing "ws_0001", "ws_0002", ... with seqs
// counting from start+1.
func NewIDs(start int64) *IDs {
	return &IDs{
		Gen:   NewSequentialGenerator("ws_"),
		Clock: NewDeterministicClockAt(start),
	}
}

// NextWsID implements snapshot.IDSource.
func (i *IDs) NextWsID() string {
	return i.Gen.Generate()
}

// NextSeq implements snapshot.IDSource.
func (i *IDs) NextSeq() int64 {
	return i.Clock.Next()
}
