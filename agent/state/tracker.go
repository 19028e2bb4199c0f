package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
)

var (
	ErrInvalidSender = errors.New("sender id is empty")
	ErrUnknownEvent  = errors.New("unknown event type")
)

// Tracker is the per-conversation state owned by the host runtime.
// Component actions only see it through contract.Conversation.
type Tracker struct {
	ID            string                   `json:"sender_id"`
	Slots         map[string]any           `json:"slots,omitempty"`
	LatestMessage contractx.UserUttered    `json:"latest_message"`
	LatestAction  contractx.ActionExecuted `json:"latest_action"`
	Component     string                   `json:"active_component,omitempty"`
	Events        []contractx.Event        `json:"-"`
	UpdatedAt     time.Time                `json:"updated_at"`

	// persisted counts the leading Events already written to an append-only store.
	persisted int
}

// DefaultMaxEvents bounds the event history kept per conversation.
const DefaultMaxEvents = 300

var _ contractx.Conversation = (*Tracker)(nil)

func NewTracker(senderID string, now time.Time) *Tracker {
	return &Tracker{
		ID:           senderID,
		Slots:        make(map[string]any, 8),
		LatestAction: contractx.ActionExecuted{Name: contractx.ActionListen},
		UpdatedAt:    now.UTC(),
	}
}

func (t *Tracker) SenderID() string {
	return t.ID
}

func (t *Tracker) Slot(name string) (any, bool) {
	if t == nil || t.Slots == nil {
		return nil, false
	}
	v, ok := t.Slots[name]
	return v, ok
}

func (t *Tracker) SetSlot(name string, value any) {
	if t.Slots == nil {
		t.Slots = make(map[string]any, 8)
	}
	t.Slots[name] = value
}

func (t *Tracker) LatestText() string {
	return t.LatestMessage.Text
}

func (t *Tracker) LatestIntent() string {
	return t.LatestMessage.Intent
}

func (t *Tracker) LatestIntentConfidence() float64 {
	return t.LatestMessage.Confidence
}

func (t *Tracker) LatestActionName() string {
	return t.LatestAction.Name
}

func (t *Tracker) LatestActionPolicy() string {
	return t.LatestAction.Policy
}

func (t *Tracker) ActiveComponent() string {
	return t.Component
}

func (t *Tracker) Touch(now time.Time) {
	t.UpdatedAt = now.UTC()
}

// Apply appends events to the log and folds them into the tracker.
func (t *Tracker) Apply(events ...contractx.Event) error {
	for _, ev := range events {
		switch e := ev.(type) {
		case contractx.UserUttered:
			t.LatestMessage = e
		case contractx.BotUttered:
		case contractx.SlotSet:
			if strings.TrimSpace(e.Name) == "" {
				return fmt.Errorf("%w: slot name is empty", contractx.ErrValidation)
			}
			t.SetSlot(e.Name, e.Value)
		case contractx.ActiveComponentSet:
			t.Component = e.Name
		case contractx.ActionExecuted:
			t.LatestAction = e
		default:
			return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
		}
		t.Events = append(t.Events, ev)
	}
	return nil
}

// TrimEvents drops the oldest events so at most limit remain and returns how
// many were dropped. A limit of zero or less keeps the whole history.
func (t *Tracker) TrimEvents(limit int) int {
	if limit <= 0 || len(t.Events) <= limit {
		return 0
	}
	dropped := len(t.Events) - limit
	t.Events = append(t.Events[:0:0], t.Events[dropped:]...)
	t.persisted = max(t.persisted-dropped, 0)
	return dropped
}

func (t *Tracker) pendingEvents() []contractx.Event {
	if t.persisted >= len(t.Events) {
		return nil
	}
	return t.Events[t.persisted:]
}

func (t *Tracker) markPersisted() {
	t.persisted = len(t.Events)
}

func (t *Tracker) Validate() error {
	if t == nil {
		return errors.New("nil tracker")
	}
	if strings.TrimSpace(t.ID) == "" {
		return ErrInvalidSender
	}
	if t.LatestAction.Name == "" {
		return fmt.Errorf("%w: latest action is empty", contractx.ErrValidation)
	}
	return nil
}

/* ----------------------------- serialization ----------------------------- */

type eventRecord struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type trackerAlias Tracker

type trackerJSON struct {
	*trackerAlias
	History []eventRecord `json:"events,omitempty"`
}

func (t Tracker) MarshalJSON() ([]byte, error) {
	history := make([]eventRecord, 0, len(t.Events))
	for _, ev := range t.Events {
		rec, err := newEventRecord(ev)
		if err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	alias := trackerAlias(t)
	return json.Marshal(trackerJSON{trackerAlias: &alias, History: history})
}

// marshalState encodes the tracker without its event history.
func (t *Tracker) marshalState() ([]byte, error) {
	return json.Marshal((*trackerAlias)(t))
}

func newEventRecord(ev contractx.Event) (eventRecord, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return eventRecord{}, fmt.Errorf("marshal event %s: %w", ev.EventName(), err)
	}
	return eventRecord{Type: ev.EventName(), Data: data}, nil
}

func (t *Tracker) UnmarshalJSON(data []byte) error {
	aux := trackerJSON{trackerAlias: (*trackerAlias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.Events = make([]contractx.Event, 0, len(aux.History))
	for _, rec := range aux.History {
		ev, err := decodeEvent(rec)
		if err != nil {
			return err
		}
		t.Events = append(t.Events, ev)
	}
	if t.Slots == nil {
		t.Slots = make(map[string]any, 8)
	}
	return nil
}

func decodeEvent(rec eventRecord) (contractx.Event, error) {
	switch rec.Type {
	case contractx.UserUttered{}.EventName():
		var e contractx.UserUttered
		err := unmarshalEvent(rec, &e)
		return e, err
	case contractx.BotUttered{}.EventName():
		var e contractx.BotUttered
		err := unmarshalEvent(rec, &e)
		return e, err
	case contractx.SlotSet{}.EventName():
		var e contractx.SlotSet
		err := unmarshalEvent(rec, &e)
		return e, err
	case contractx.ActiveComponentSet{}.EventName():
		var e contractx.ActiveComponentSet
		err := unmarshalEvent(rec, &e)
		return e, err
	case contractx.ActionExecuted{}.EventName():
		var e contractx.ActionExecuted
		err := unmarshalEvent(rec, &e)
		return e, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, rec.Type)
	}
}

func unmarshalEvent(rec eventRecord, v any) error {
	if err := json.Unmarshal(rec.Data, v); err != nil {
		return fmt.Errorf("decode %s event: %w", rec.Type, err)
	}
	return nil
}
