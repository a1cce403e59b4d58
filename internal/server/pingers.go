package server

import (
	"context"
	"fmt"
)

// funcPinger adapts a plain probe function to the Pinger interface.
type funcPinger struct {
	name string
	fn   func(ctx context.Context) error
}

// NewPinger wraps fn as a Pinger labelled name. The store and the embedder
// both expose a Ping method that fits fn directly.
func NewPinger(name string, fn func(ctx context.Context) error) Pinger {
	return &funcPinger{name: name, fn: fn}
}

// Name returns the dependency label used in readiness responses.
func (p *funcPinger) Name() string { return p.name }

// Ping runs the probe. Returns nil if the dependency is reachable.
func (p *funcPinger) Ping(ctx context.Context) error {
	if err := p.fn(ctx); err != nil {
		return fmt.Errorf("%s check failed: %w", p.name, err)
	}
	return nil
}
