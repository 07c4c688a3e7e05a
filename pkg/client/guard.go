package client

import (
	"context"
	"fmt"

	"github.com/relay-protocol/relay/pkg/relay"
)

// Guard wraps a side-effectful operation with the full seal lifecycle:
// validate the manifest, run the operation only on approval, then consume
// the seal. It is the SDK-side enforcement point for callers who want
// gateway authorization around an arbitrary function.
type Guard struct {
	client *Client

	// failOpen controls behavior when the gateway itself is unreachable
	// (not when policy denies): true runs the operation anyway, false
	// refuses. Policy denials always refuse.
	failOpen bool
}

// NewGuard creates a Guard around the given client. Fail-closed by default.
func NewGuard(c *Client) *Guard {
	return &Guard{client: c}
}

// FailOpen switches the guard to run the wrapped operation when the gateway
// cannot be reached. Use only for operations where availability outweighs
// enforcement.
func (g *Guard) FailOpen() *Guard {
	g.failOpen = true
	return g
}

// Run executes op under gateway authorization. The operation runs only when
// the manifest is approved; afterwards the seal is marked executed so it
// cannot authorize a second run. A mark-executed failure after a successful
// op is reported but does not undo the side effect.
func (g *Guard) Run(ctx context.Context, m *relay.Manifest, op func(ctx context.Context) error) error {
	resp, err := g.client.Validate(ctx, m, false)
	if err != nil {
		if g.failOpen {
			return op(ctx)
		}
		return fmt.Errorf("authorization unavailable: %w", err)
	}
	if !resp.Approved {
		return fmt.Errorf("%w: %s", ErrDenied, resp.DenialReason)
	}

	if err := op(ctx); err != nil {
		// The seal stays unspent: the caller may retry within the TTL.
		return err
	}

	if err := g.client.MarkExecuted(ctx, resp.Seal.SealID); err != nil {
		return fmt.Errorf("operation succeeded but seal not consumed: %w", err)
	}
	return nil
}
