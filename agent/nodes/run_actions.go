package hostnode

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
	statex "github.com/tanpawarit/chative-coco/agent/state"
)

// Predictor chooses the next action for a conversation.
type Predictor interface {
	Predict(ctx context.Context, conv contractx.Conversation, domain contractx.Domain) (contractx.Prediction, error)
}

type RunConfig struct {
	Actions        map[string]contractx.Action
	Predictor      Predictor
	Domain         contractx.Domain
	FallbackAction string
	MaxActions     int
}

type collector struct {
	messages []string
}

func (c *collector) UtterMessage(text string) {
	c.messages = append(c.messages, text)
}

// RunActions predicts and executes actions until the ensemble asks to listen.
func RunActions(ctx context.Context, in *GraphState, cfg RunConfig) (*GraphState, error) {
	if in == nil || in.Tracker == nil {
		return nil, fmt.Errorf("%w: graph tracker is nil", contractx.ErrValidation)
	}

	maxActions := cfg.MaxActions
	if maxActions <= 0 {
		maxActions = 10
	}

	var forced *contractx.Prediction
	for i := 0; i < maxActions; i++ {
		pred, err := nextPrediction(ctx, in.Tracker, cfg, forced)
		if err != nil {
			return nil, err
		}
		forced = nil

		if pred.Action == contractx.ActionListen {
			return in, in.Tracker.Apply(executed(pred))
		}

		action, ok := cfg.Actions[pred.Action]
		if !ok {
			return nil, fmt.Errorf("%w: %s", contractx.ErrUnknownAction, pred.Action)
		}

		msgs, events, err := runAction(ctx, action, in.Tracker, cfg.Domain)
		if err != nil {
			if !errors.Is(err, contractx.ErrComponentCall) {
				return nil, err
			}
			// remote failures fall through to the host fallback
			if err := in.Tracker.Apply(executed(pred), contractx.ActiveComponentSet{}); err != nil {
				return nil, err
			}
			in.Actions = append(in.Actions, pred.Action)
			forced = fallbackPrediction(cfg)
			continue
		}

		if err := in.Tracker.Apply(executed(pred)); err != nil {
			return nil, err
		}
		for _, m := range msgs {
			events = append(events, contractx.BotUttered{Text: m})
		}
		if err := in.Tracker.Apply(events...); err != nil {
			return nil, err
		}
		in.Messages = append(in.Messages, msgs...)
		in.Actions = append(in.Actions, pred.Action)
	}

	log.Warn().
		Str("sender_id", in.SenderID).
		Int("max_actions", maxActions).
		Msg("action limit reached, listening")
	return in, in.Tracker.Apply(contractx.ActionExecuted{Name: contractx.ActionListen, Confidence: 1})
}

func nextPrediction(ctx context.Context, tr *statex.Tracker, cfg RunConfig, forced *contractx.Prediction) (contractx.Prediction, error) {
	if forced != nil {
		return *forced, nil
	}
	return cfg.Predictor.Predict(ctx, tr, cfg.Domain)
}

func runAction(
	ctx context.Context,
	action contractx.Action,
	tr *statex.Tracker,
	domain contractx.Domain,
) ([]string, []contractx.Event, error) {
	out := &collector{}
	events, err := action.Run(ctx, out, tr, domain)
	if err != nil {
		return nil, nil, err
	}
	return out.messages, events, nil
}

func fallbackPrediction(cfg RunConfig) *contractx.Prediction {
	action := contractx.ActionListen
	if _, ok := cfg.Actions[cfg.FallbackAction]; ok {
		action = cfg.FallbackAction
	}
	return &contractx.Prediction{Action: action, Confidence: 1, Policy: "ComponentFailure"}
}

func executed(pred contractx.Prediction) contractx.ActionExecuted {
	return contractx.ActionExecuted{Name: pred.Action, Policy: pred.Policy, Confidence: pred.Confidence}
}
