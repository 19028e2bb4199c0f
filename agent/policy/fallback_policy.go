package policy

import (
	"context"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
)

const (
	FallbackPolicyName      = "FallbackPolicy"
	DefaultFallbackPriority = 4
	DefaultFallbackAction   = "utter_default"
)

// FallbackPolicy answers with the fallback action when intent recognition
// is below threshold.
type FallbackPolicy struct {
	threshold float64
	action    string
	priority  int
}

var _ contractx.Policy = (*FallbackPolicy)(nil)

func NewFallbackPolicy(threshold float64, action string, priority int) *FallbackPolicy {
	if action == "" {
		action = DefaultFallbackAction
	}
	if priority <= 0 {
		priority = DefaultFallbackPriority
	}
	return &FallbackPolicy{threshold: threshold, action: action, priority: priority}
}

func (p *FallbackPolicy) Name() string  { return FallbackPolicyName }
func (p *FallbackPolicy) Priority() int { return p.priority }

func (p *FallbackPolicy) Predict(_ context.Context, conv contractx.Conversation, domain contractx.Domain) (contractx.Prediction, error) {
	switch conv.LatestActionName() {
	case p.action:
		return p.predict(contractx.ActionListen), nil
	case contractx.ActionListen:
		if conv.LatestIntentConfidence() < p.threshold && domain.HasAction(p.action) {
			return p.predict(p.action), nil
		}
	}
	return contractx.Prediction{}, nil
}

func (p *FallbackPolicy) predict(action string) contractx.Prediction {
	return contractx.Prediction{Action: action, Confidence: 1, Policy: FallbackPolicyName, Priority: p.priority}
}
