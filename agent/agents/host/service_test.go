package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/tanpawarit/chative-coco/agent/component"
	contractx "github.com/tanpawarit/chative-coco/agent/contract"
	domainx "github.com/tanpawarit/chative-coco/agent/domain"
	"github.com/tanpawarit/chative-coco/agent/policy"
	statex "github.com/tanpawarit/chative-coco/agent/state"
	"github.com/tanpawarit/chative-coco/pkg/coco"
)

const testDomain = `
intents: [whats_my_name, greet]
slots:
  user.firstName:
    type: text
  user.lastName:
    type: text
components:
  namer_vp3: namer_vp3
mappings:
  whats_my_name: namer_vp3
  greet: utter_greet
responses:
  utter_greet: "Hey there!"
  utter_default: "Sorry?"
policies:
  nlu_threshold: 0.4
  fallback_action: utter_default
`

type fakeClient struct {
	responses []contractx.ComponentResponse
	err       error
	calls     []contractx.ComponentRequest
}

func (f *fakeClient) Exchange(ctx context.Context, req contractx.ComponentRequest) (contractx.ComponentResponse, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return contractx.ComponentResponse{}, f.err
	}
	idx := len(f.calls) - 1
	if idx >= len(f.responses) {
		return contractx.ComponentResponse{}, fmt.Errorf("no component response left at call=%d", len(f.calls))
	}
	return f.responses[idx], nil
}

type fakeStore struct {
	*statex.MemoryStore
	saveErr error
	saves   int
}

func (f *fakeStore) Save(ctx context.Context, t *statex.Tracker) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	return f.MemoryStore.Save(ctx, t)
}

func newTestHost(t *testing.T, store statex.Store, client contractx.ComponentClient) (*Host, *domainx.Domain, *policy.Ensemble) {
	t.Helper()

	d, err := domainx.Parse([]byte(testDomain))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	ensemble, err := policy.NewEnsemble(
		policy.NewMappingPolicy(d.Mappings, d.Policies.MappingPriority),
		policy.NewFallbackPolicy(d.Policies.Threshold(), d.Policies.FallbackAction, d.Policies.FallbackPriority),
		policy.NewContextPolicy(d.Policies.ContextPriority),
	)
	if err != nil {
		t.Fatalf("NewEnsemble() error = %v", err)
	}

	actions, err := component.NewActions(d.Components, client)
	if err != nil {
		t.Fatalf("NewActions() error = %v", err)
	}
	list := make([]contractx.Action, 0, len(actions))
	for _, a := range actions {
		list = append(list, a)
	}

	h, err := New(store, d, ensemble, list...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return h, d, ensemble
}

func seedTracker(t *testing.T, store statex.Store, slots map[string]any) {
	t.Helper()
	tr := statex.NewTracker("sender-1", time.Now())
	for k, v := range slots {
		tr.SetSlot(k, v)
	}
	if err := store.Save(context.Background(), tr); err != nil {
		t.Fatalf("seed Save() error = %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	d, _ := domainx.Parse([]byte(testDomain))
	e, _ := policy.NewEnsemble(policy.NewContextPolicy(0))
	store := statex.NewMemoryStore()

	if _, err := New(nil, d, e); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := New(store, nil, e); err == nil {
		t.Fatal("expected error for nil domain")
	}
	if _, err := New(store, d, nil); err == nil {
		t.Fatal("expected error for nil predictor")
	}

	stray, _ := component.NewAction(component.Config{ComponentID: "stray"}, &fakeClient{})
	if _, err := New(store, d, e, stray); !errors.Is(err, contractx.ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestHandleMessageInvalidInput(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHost(t, statex.NewMemoryStore(), &fakeClient{})

	_, err := h.HandleMessage(context.Background(), Message{SenderID: "  ", Text: "hello"})
	if !errors.Is(err, ErrInvalidSender) {
		t.Fatalf("expected ErrInvalidSender, got %v", err)
	}

	_, err = h.HandleMessage(context.Background(), Message{SenderID: "s1", Text: "   "})
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestHandleMessageResponseAction(t *testing.T) {
	t.Parallel()

	store := &fakeStore{MemoryStore: statex.NewMemoryStore()}
	h, _, _ := newTestHost(t, store, &fakeClient{})

	reply, err := h.HandleMessage(context.Background(), Message{SenderID: "s1", Text: "hi", Intent: "greet", Confidence: 0.95})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !reflect.DeepEqual(reply.Messages, []string{"Hey there!"}) {
		t.Fatalf("unexpected replies: %#v", reply.Messages)
	}
	if store.saves != 1 {
		t.Fatalf("expected one save, got %d", store.saves)
	}

	tr, err := h.Tracker(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Tracker() error = %v", err)
	}
	if tr.LatestActionName() != contractx.ActionListen {
		t.Fatalf("expected turn to end listening, got %q", tr.LatestActionName())
	}
}

func TestHandleMessageNamerScenario(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	seedTracker(t, store, map[string]any{"user.firstName": "Ada"})
	client := &fakeClient{responses: []contractx.ComponentResponse{
		{Reply: "Hi Ada", UpdatedContext: map[string]any{"user.lastName": "Lovelace"}, Continue: true},
		{Reply: "Goodbye Ada Lovelace", Continue: false},
	}}
	h, d, ensemble := newTestHost(t, store, client)
	ctx := context.Background()

	reply, err := h.HandleMessage(ctx, Message{SenderID: "sender-1", Text: "what's my name", Intent: "whats_my_name", Confidence: 0.9})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !reflect.DeepEqual(reply.Messages, []string{"Hi Ada"}) || !reflect.DeepEqual(reply.Actions, []string{"namer_vp3"}) {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if len(client.calls) != 1 || client.calls[0].ComponentID != "namer_vp3" {
		t.Fatalf("unexpected calls: %+v", client.calls)
	}
	if !reflect.DeepEqual(client.calls[0].Context, map[string]any{"user.firstName": "Ada"}) {
		t.Fatalf("unexpected context payload: %#v", client.calls[0].Context)
	}

	tr, err := h.Tracker(ctx, "sender-1")
	if err != nil {
		t.Fatalf("Tracker() error = %v", err)
	}
	if v, _ := tr.Slot("user.lastName"); v != "Lovelace" {
		t.Fatalf("user.lastName = %v, want Lovelace", v)
	}
	if tr.ActiveComponent() != "namer_vp3" {
		t.Fatalf("ActiveComponent() = %q", tr.ActiveComponent())
	}

	// the very next turn goes back to the component, whatever the NLU says
	_ = tr.Apply(contractx.UserUttered{Text: "hello", Intent: "greet", Confidence: 0.1})
	pred, err := ensemble.Predict(ctx, tr, d)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if pred.Action != "namer_vp3" || pred.Policy != policy.ContextPolicyName {
		t.Fatalf("next turn prediction = %+v", pred)
	}

	reply, err = h.HandleMessage(ctx, Message{SenderID: "sender-1", Text: "bye", Intent: "greet", Confidence: 0.1})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !reflect.DeepEqual(reply.Messages, []string{"Goodbye Ada Lovelace"}) {
		t.Fatalf("unexpected second reply: %+v", reply)
	}
	if !reflect.DeepEqual(client.calls[1].Context, map[string]any{"user.firstName": "Ada", "user.lastName": "Lovelace"}) {
		t.Fatalf("unexpected second payload: %#v", client.calls[1].Context)
	}

	tr, _ = h.Tracker(ctx, "sender-1")
	if tr.ActiveComponent() != "" {
		t.Fatalf("expected component released, got %q", tr.ActiveComponent())
	}

	// released: low confidence now falls back instead of calling the component
	reply, err = h.HandleMessage(ctx, Message{SenderID: "sender-1", Text: "???", Confidence: 0.1})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !reflect.DeepEqual(reply.Messages, []string{"Sorry?"}) {
		t.Fatalf("unexpected fallback reply: %+v", reply)
	}
	if len(client.calls) != 2 {
		t.Fatalf("expected 2 component calls, got %d", len(client.calls))
	}
}

func TestHandleMessageComponentFailureFallsBack(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	seedTracker(t, store, map[string]any{"user.firstName": "Ada"})
	client := &fakeClient{err: fmt.Errorf("%w: connection refused", contractx.ErrComponentCall)}
	h, _, _ := newTestHost(t, store, client)

	reply, err := h.HandleMessage(context.Background(), Message{SenderID: "sender-1", Text: "name?", Intent: "whats_my_name", Confidence: 1})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !reflect.DeepEqual(reply.Messages, []string{"Sorry?"}) {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if !reflect.DeepEqual(reply.Actions, []string{"namer_vp3", "utter_default"}) {
		t.Fatalf("unexpected actions: %+v", reply.Actions)
	}
	if len(client.calls) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(client.calls))
	}

	tr, _ := h.Tracker(context.Background(), "sender-1")
	if _, ok := tr.Slot("user.lastName"); ok {
		t.Fatal("failed call must not write context")
	}
	if tr.ActiveComponent() != "" {
		t.Fatalf("expected no active component, got %q", tr.ActiveComponent())
	}
}

func TestHandleMessageSaveError(t *testing.T) {
	t.Parallel()

	store := &fakeStore{MemoryStore: statex.NewMemoryStore(), saveErr: errors.New("disk full")}
	h, _, _ := newTestHost(t, store, &fakeClient{})

	if _, err := h.HandleMessage(context.Background(), Message{SenderID: "s1", Text: "hi", Intent: "greet", Confidence: 1}); err == nil {
		t.Fatal("expected save error")
	}
}

func TestHandleMessageOverHTTP(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/exchange/namer_vp3/sender-1" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"response":"Hi Ada","updated_context":{"user.lastName":"Lovelace","user.unknown":1},"component_done":false}`)
	}))
	t.Cleanup(ts.Close)

	client, err := coco.NewClient(coco.Config{BaseURL: ts.URL}, coco.WithHTTPClient(ts.Client()))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	store := statex.NewMemoryStore()
	seedTracker(t, store, map[string]any{"user.firstName": "Ada"})
	h, _, _ := newTestHost(t, store, client)

	reply, err := h.HandleMessage(context.Background(), Message{SenderID: "sender-1", Text: "name?", Intent: "whats_my_name", Confidence: 1})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !reflect.DeepEqual(reply.Messages, []string{"Hi Ada"}) {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	tr, _ := h.Tracker(context.Background(), "sender-1")
	if v, _ := tr.Slot("user.lastName"); v != "Lovelace" {
		t.Fatalf("user.lastName = %v", v)
	}
	if _, ok := tr.Slot("user.unknown"); ok {
		t.Fatal("undeclared key must be ignored")
	}
	if tr.ActiveComponent() != "namer_vp3" {
		t.Fatalf("ActiveComponent() = %q", tr.ActiveComponent())
	}
}

func TestResetForgetsConversation(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHost(t, statex.NewMemoryStore(), &fakeClient{})
	ctx := context.Background()

	if _, err := h.HandleMessage(ctx, Message{SenderID: "s1", Text: "hi", Intent: "greet", Confidence: 1}); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if err := h.Reset(ctx, "s1"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, err := h.Tracker(ctx, "s1"); !errors.Is(err, statex.ErrTrackerNotFound) {
		t.Fatalf("Tracker() error = %v, want ErrTrackerNotFound", err)
	}
}

func TestHandleMessageBoundsEventHistory(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	h, d, _ := newTestHost(t, store, &fakeClient{})
	d.Policies.MaxEvents = 12
	ctx := context.Background()

	for turn := 0; turn < 200; turn++ {
		if _, err := h.HandleMessage(ctx, Message{SenderID: "s1", Text: "hi", Intent: "greet", Confidence: 1}); err != nil {
			t.Fatalf("turn %d: HandleMessage() error = %v", turn, err)
		}
	}

	tr, err := h.Tracker(ctx, "s1")
	if err != nil {
		t.Fatalf("Tracker() error = %v", err)
	}
	if len(tr.Events) != 12 {
		t.Fatalf("stored %d events, want 12", len(tr.Events))
	}
	last, ok := tr.Events[len(tr.Events)-1].(contractx.ActionExecuted)
	if !ok || last.Name != contractx.ActionListen {
		t.Fatalf("last event = %#v, want action_listen", tr.Events[len(tr.Events)-1])
	}
}
