package hostnode

import (
	"fmt"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
)

func RecordUserMessage(in *GraphState) (*GraphState, error) {
	if in == nil || in.Tracker == nil {
		return nil, fmt.Errorf("%w: graph tracker is nil", contractx.ErrValidation)
	}

	err := in.Tracker.Apply(contractx.UserUttered{
		Text:       in.Text,
		Intent:     in.Intent,
		Confidence: in.Confidence,
	})
	if err != nil {
		return nil, err
	}
	return in, nil
}
