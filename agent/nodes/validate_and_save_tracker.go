package hostnode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
	statex "github.com/tanpawarit/chative-coco/agent/state"
)

// ValidateAndSaveTracker trims the event history to maxEvents and persists
// the tracker. A maxEvents of zero or less keeps the whole history.
func ValidateAndSaveTracker(ctx context.Context, in *GraphState, store statex.Store, maxEvents int) (*GraphState, error) {
	if in == nil || in.Tracker == nil {
		return nil, fmt.Errorf("%w: graph tracker is nil", contractx.ErrValidation)
	}

	in.Tracker.Touch(in.Now)
	in.Tracker.TrimEvents(maxEvents)
	if err := in.Tracker.Validate(); err != nil {
		return nil, fmt.Errorf("tracker validation failed: %w", err)
	}
	if err := store.Save(ctx, in.Tracker); err != nil {
		return nil, err
	}
	return in, nil
}
