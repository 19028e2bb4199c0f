package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
)

const (
	ContextPolicyName      = "ContextPolicy"
	DefaultContextPriority = 6
	contextPolicyFile      = "coco_context_policy.json"
)

// ContextPolicy keeps a multi-turn component session alive: while a component
// owns the conversation, every user turn is routed back to it.
type ContextPolicy struct {
	priority int
}

var _ contractx.Policy = (*ContextPolicy)(nil)

func NewContextPolicy(priority int) *ContextPolicy {
	if priority <= 0 {
		priority = DefaultContextPriority
	}
	return &ContextPolicy{priority: priority}
}

func (p *ContextPolicy) Name() string {
	return ContextPolicyName
}

func (p *ContextPolicy) Priority() int {
	return p.priority
}

func (p *ContextPolicy) Predict(_ context.Context, conv contractx.Conversation, domain contractx.Domain) (contractx.Prediction, error) {
	active := conv.ActiveComponent()
	latest := conv.LatestActionName()

	switch {
	case latest == contractx.ActionListen:
		if active == "" {
			return contractx.Prediction{}, nil
		}
		if !domain.HasAction(active) {
			log.Warn().Str("action", active).Msg("active component is not an action of the domain")
			return contractx.Prediction{}, nil
		}
		log.Debug().Str("action", active).Str("sender_id", conv.SenderID()).Msg("continue component session")
		return p.predict(active), nil

	case active != "" && latest == active:
		if conv.LatestActionPolicy() != ContextPolicyName {
			log.Debug().
				Str("action", active).
				Str("policy", conv.LatestActionPolicy()).
				Msg("component was predicted by another policy, abstaining")
			return contractx.Prediction{}, nil
		}
		return p.predict(contractx.ActionListen), nil

	default:
		return contractx.Prediction{}, nil
	}
}

func (p *ContextPolicy) predict(action string) contractx.Prediction {
	return contractx.Prediction{
		Action:     action,
		Confidence: 1,
		Policy:     ContextPolicyName,
		Priority:   p.priority,
	}
}

type contextPolicyMeta struct {
	Priority int `json:"priority"`
}

// ContextPolicyPath is the file Persist writes inside dir.
func ContextPolicyPath(dir string) string {
	return filepath.Join(dir, contextPolicyFile)
}

// Persist writes the policy's settings into dir.
func (p *ContextPolicy) Persist(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create policy dir: %w", err)
	}
	raw, err := json.Marshal(contextPolicyMeta{Priority: p.priority})
	if err != nil {
		return fmt.Errorf("marshal policy meta: %w", err)
	}
	return os.WriteFile(ContextPolicyPath(dir), raw, 0o644)
}

// LoadContextPolicy restores a persisted policy. A missing file yields the
// default priority.
func LoadContextPolicy(dir string) (*ContextPolicy, error) {
	raw, err := os.ReadFile(ContextPolicyPath(dir))
	if errors.Is(err, os.ErrNotExist) {
		return NewContextPolicy(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy meta: %w", err)
	}

	var meta contextPolicyMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode policy meta: %w", err)
	}
	return NewContextPolicy(meta.Priority), nil
}
