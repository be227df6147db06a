package session

import (
	"context"

	"github.com/nerrad567/atv-bridge/internal/atvremote"
)

// Dialer abstracts the remote-control transport so sessions can be tested
// without a device.
type Dialer interface {
	Dial(ctx context.Context, cfg atvremote.Config) (atvremote.Transport, error)
	StartPairing(ctx context.Context, cfg atvremote.Config) (Pairer, error)
}

// Pairer is an open PIN exchange.
type Pairer interface {
	FinishPairing(ctx context.Context, pin string) error
	Close() error
}

// netDialer is the production Dialer backed by the atvremote package.
type netDialer struct{}

func (netDialer) Dial(ctx context.Context, cfg atvremote.Config) (atvremote.Transport, error) {
	return atvremote.Connect(ctx, cfg)
}

func (netDialer) StartPairing(ctx context.Context, cfg atvremote.Config) (Pairer, error) {
	return atvremote.StartPairing(ctx, cfg)
}
