package sinkhole

import (
	"context"

	"github.com/haukened/focusflow/internal/focus/domain"
)

// Decider answers whether a hostname is blocked right now.
type Decider interface {
	Decide(name string) domain.RuleDecision
}

// Upstream relays a raw DNS query and returns the raw reply.
type Upstream interface {
	Forward(ctx context.Context, query []byte) ([]byte, error)
}
