package hostnode

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
	statex "github.com/tanpawarit/chative-coco/agent/state"
)

func LoadOrCreateTracker(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	tr, err := loadOrCreateTracker(ctx, store, in.SenderID, in.Now)
	if err != nil {
		return nil, err
	}
	in.Tracker = tr
	return in, nil
}

func loadOrCreateTracker(ctx context.Context, store statex.Store, senderID string, now time.Time) (*statex.Tracker, error) {
	tr, err := store.Load(ctx, senderID)
	if err == nil {
		return tr, nil
	}
	if !errors.Is(err, statex.ErrTrackerNotFound) {
		return nil, err
	}
	return statex.NewTracker(senderID, now), nil
}
