package ai

import (
	"context"
	"fmt"
)

// unavailable stands in for a configured provider that could not be built,
// typically for a missing API key, so status output can say why.
type unavailable struct {
	name   string
	reason error
}

func (u unavailable) Name() string { return u.name }

func (u unavailable) StreamChat(context.Context, []Message, StreamOptions) (<-chan StreamResponse, error) {
	return nil, fmt.Errorf("provider %s is not available: %w", u.name, u.reason)
}

func (u unavailable) Ping(context.Context) error { return u.reason }

func (u unavailable) DefaultModel() string { return "" }
