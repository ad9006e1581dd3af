package flow

import (
	"context"
	"fmt"

	"github.com/mattjoyce/majordomo/internal/protocol"
)

// ApplyDirective performs one attempt at applying a state directive returned
// by a service. Merge and replace both read the current version immediately
// before the guarded write, so a conflict can only come from a concurrent
// writer racing in between; the caller decides whether to retry.
//
// The merged value is always computed here in the gateway process. Sandboxed
// code never sees, and never writes, the stored state directly.
func (s *Store) ApplyDirective(ctx context.Context, chatID, serviceID string, d *protocol.StateDirective) error {
	if d == nil {
		return nil
	}

	switch d.Op {
	case protocol.OpClear:
		return s.Clear(ctx, chatID, serviceID)

	case protocol.OpReplace:
		snap, found, err := s.Read(ctx, chatID, serviceID)
		if err != nil {
			return err
		}
		var expected int64
		if found {
			expected = snap.Version
		}
		return s.WriteGuarded(ctx, chatID, serviceID, expected, d.Value)

	case protocol.OpMerge:
		snap, found, err := s.Read(ctx, chatID, serviceID)
		if err != nil {
			return err
		}
		var expected int64
		var current []byte
		if found {
			expected = snap.Version
			current = snap.State
		}
		merged, err := DeepMerge(current, d.Value)
		if err != nil {
			return err
		}
		return s.WriteGuarded(ctx, chatID, serviceID, expected, merged)

	default:
		return fmt.Errorf("unknown state directive op: %q", d.Op)
	}
}
