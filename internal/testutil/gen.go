// Package testutil holds helpers shared by package tests.
package testutil

import "sync"

// IDGenerator produces record and client ids.
// Production code uses UUIDv7 (see internal/cli); tests use FixedGenerator
// for deterministic output.
type IDGenerator interface {
	Generate() string
}

// FixedGenerator returns predetermined ids in order.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics when all ids are consumed: a fail-fast guard against a test
// creating more records than it declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("testutil: FixedGenerator ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
