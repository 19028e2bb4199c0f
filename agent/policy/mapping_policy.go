package policy

import (
	"context"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
)

const (
	MappingPolicyName      = "MappingPolicy"
	DefaultMappingPriority = 2
)

// MappingPolicy runs the action mapped to the latest intent, then listens.
type MappingPolicy struct {
	mappings map[string]string
	priority int
}

var _ contractx.Policy = (*MappingPolicy)(nil)

func NewMappingPolicy(mappings map[string]string, priority int) *MappingPolicy {
	if priority <= 0 {
		priority = DefaultMappingPriority
	}
	m := make(map[string]string, len(mappings))
	for k, v := range mappings {
		m[k] = v
	}
	return &MappingPolicy{mappings: m, priority: priority}
}

func (p *MappingPolicy) Name() string  { return MappingPolicyName }
func (p *MappingPolicy) Priority() int { return p.priority }

func (p *MappingPolicy) Predict(_ context.Context, conv contractx.Conversation, domain contractx.Domain) (contractx.Prediction, error) {
	mapped, ok := p.mappings[conv.LatestIntent()]
	if !ok || !domain.HasAction(mapped) {
		return contractx.Prediction{}, nil
	}

	switch conv.LatestActionName() {
	case contractx.ActionListen:
		return p.predict(mapped), nil
	case mapped:
		if conv.LatestActionPolicy() == MappingPolicyName {
			return p.predict(contractx.ActionListen), nil
		}
	}
	return contractx.Prediction{}, nil
}

func (p *MappingPolicy) predict(action string) contractx.Prediction {
	return contractx.Prediction{Action: action, Confidence: 1, Policy: MappingPolicyName, Priority: p.priority}
}
