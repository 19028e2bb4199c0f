package host

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
	domainx "github.com/tanpawarit/chative-coco/agent/domain"
	nodex "github.com/tanpawarit/chative-coco/agent/nodes"
	statex "github.com/tanpawarit/chative-coco/agent/state"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidSender  = nodex.ErrInvalidSender
)

// Message is one parsed user utterance. Intent recognition happens upstream.
type Message struct {
	SenderID   string
	Text       string
	Intent     string
	Confidence float64
}

type Reply struct {
	Messages []string
	Actions  []string
}

// Host runs dialogue turns: it asks the policy ensemble for actions and
// executes them against the conversation tracker.
type Host struct {
	store     statex.Store
	domain    *domainx.Domain
	actions   map[string]contractx.Action
	predictor nodex.Predictor

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

// New wires a host. Response templates of the domain are registered as
// actions unless an action with the same name is supplied.
func New(
	store statex.Store,
	domain *domainx.Domain,
	predictor nodex.Predictor,
	actions ...contractx.Action,
) (*Host, error) {
	if store == nil {
		return nil, errors.New("tracker store is required")
	}
	if domain == nil {
		return nil, errors.New("domain is required")
	}
	if predictor == nil {
		return nil, errors.New("policy predictor is required")
	}

	registry := make(map[string]contractx.Action, len(actions)+len(domain.Responses))
	for name, text := range domain.Responses {
		registry[name] = NewResponseAction(name, text)
	}
	for _, a := range actions {
		if a == nil {
			continue
		}
		name := strings.TrimSpace(a.Name())
		if !domain.HasAction(name) {
			return nil, fmt.Errorf("%w: %s is not declared in the domain", contractx.ErrUnknownAction, name)
		}
		registry[name] = a
	}

	h := &Host{
		store:     store,
		domain:    domain,
		actions:   registry,
		predictor: predictor,
		now:       time.Now,
	}

	graphRunner, err := h.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	h.graphRunner = graphRunner

	return h, nil
}

func (h *Host) HandleMessage(ctx context.Context, msg Message) (Reply, error) {
	out, err := h.graphRunner.Invoke(ctx, nodex.GraphInput{
		SenderID:   msg.SenderID,
		Text:       msg.Text,
		Intent:     msg.Intent,
		Confidence: msg.Confidence,
	})
	if err != nil {
		return Reply{}, err
	}

	log.Debug().
		Str("sender_id", msg.SenderID).
		Strs("actions", out.Actions).
		Int("replies", len(out.Replies)).
		Msg("turn handled")
	return Reply{Messages: out.Replies, Actions: out.Actions}, nil
}

// Tracker returns the stored conversation state for a sender.
func (h *Host) Tracker(ctx context.Context, senderID string) (*statex.Tracker, error) {
	return h.store.Load(ctx, senderID)
}

// Reset forgets a conversation.
func (h *Host) Reset(ctx context.Context, senderID string) error {
	return h.store.Delete(ctx, senderID)
}
