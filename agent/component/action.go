package component

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
)

type Config struct {
	// Name is the host action name. Defaults to ComponentID.
	Name        string
	ComponentID string
}

// Action runs a marketplace component as a host action.
type Action struct {
	name        string
	componentID string
	client      contractx.ComponentClient
}

var _ contractx.Action = (*Action)(nil)

func NewAction(cfg Config, client contractx.ComponentClient) (*Action, error) {
	componentID := strings.TrimSpace(cfg.ComponentID)
	if componentID == "" {
		return nil, fmt.Errorf("%w: component id is required", contractx.ErrValidation)
	}
	if client == nil {
		return nil, errors.New("component client is required")
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = componentID
	}

	return &Action{
		name:        name,
		componentID: componentID,
		client:      client,
	}, nil
}

// NewActions builds one action per entry of an action name -> component id map.
func NewActions(components map[string]string, client contractx.ComponentClient) ([]*Action, error) {
	out := make([]*Action, 0, len(components))
	for name, componentID := range components {
		a, err := NewAction(Config{Name: name, ComponentID: componentID}, client)
		if err != nil {
			return nil, fmt.Errorf("action %s: %w", name, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (a *Action) Name() string {
	return a.name
}

func (a *Action) ComponentID() string {
	return a.componentID
}

// Run performs exactly one exchange with the component. On failure it returns
// the error and no events, so no context is written back.
func (a *Action) Run(
	ctx context.Context,
	dispatcher contractx.Dispatcher,
	conv contractx.Conversation,
	domain contractx.Domain,
) ([]contractx.Event, error) {
	declared := domain.ContextSlots()

	resp, err := a.client.Exchange(ctx, contractx.ComponentRequest{
		ComponentID: a.componentID,
		SessionID:   conv.SenderID(),
		UserInput:   conv.LatestText(),
		Context:     CollectContext(conv, declared),
	})
	if err != nil {
		log.Warn().Err(err).
			Str("component_id", a.componentID).
			Str("sender_id", conv.SenderID()).
			Msg("component exchange failed")
		if !errors.Is(err, contractx.ErrComponentCall) {
			err = fmt.Errorf("%w: %v", contractx.ErrComponentCall, err)
		}
		return nil, err
	}

	if resp.Reply != "" {
		dispatcher.UtterMessage(resp.Reply)
	}

	active := ""
	if resp.Continue {
		active = a.name
	}
	updates := ContextUpdates(resp.UpdatedContext, declared)

	log.Debug().
		Str("component_id", a.componentID).
		Str("sender_id", conv.SenderID()).
		Bool("continue", resp.Continue).
		Bool("failed", resp.Failed).
		Bool("out_of_context", resp.OutOfContext).
		Bool("idontknow", resp.IDontKnow).
		Float64("confidence", resp.Confidence).
		Int("context_updates", len(updates)).
		Msg("component exchange done")

	events := make([]contractx.Event, 0, len(updates)+1)
	events = append(events, contractx.ActiveComponentSet{Name: active})
	events = append(events, updates...)
	return events, nil
}
