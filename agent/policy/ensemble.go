package policy

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
)

const EnsembleName = "PolicyEnsemble"

// Ensemble asks every policy and keeps the most confident prediction.
// Ties go to the higher priority, then to the earlier policy.
type Ensemble struct {
	policies []contractx.Policy
}

func NewEnsemble(policies ...contractx.Policy) (*Ensemble, error) {
	out := make([]contractx.Policy, 0, len(policies))
	for _, p := range policies {
		if p != nil {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("at least one policy is required")
	}
	return &Ensemble{policies: out}, nil
}

// Predict returns action_listen when every policy abstains.
func (e *Ensemble) Predict(ctx context.Context, conv contractx.Conversation, domain contractx.Domain) (contractx.Prediction, error) {
	var best contractx.Prediction
	for _, p := range e.policies {
		pred, err := p.Predict(ctx, conv, domain)
		if err != nil {
			return contractx.Prediction{}, fmt.Errorf("policy %s: %w", p.Name(), err)
		}
		if pred.Abstained() {
			continue
		}
		if pred.Policy == "" {
			pred.Policy = p.Name()
		}
		pred.Priority = p.Priority()
		if best.Abstained() || better(pred, best) {
			best = pred
		}
	}

	if best.Abstained() {
		return contractx.Prediction{Action: contractx.ActionListen, Confidence: 1, Policy: EnsembleName}, nil
	}
	return best, nil
}

func better(a, b contractx.Prediction) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Priority > b.Priority
}
