package contract

const (
	// ActionListen is the host action that ends the bot's part of a turn.
	ActionListen = "action_listen"
)

// Event is a change to a conversation tracker produced by the host or an action.
type Event interface {
	EventName() string
}

type UserUttered struct {
	Text       string  `json:"text"`
	Intent     string  `json:"intent,omitempty"`
	Confidence float64 `json:"confidence"`
}

type BotUttered struct {
	Text string `json:"text"`
}

type SlotSet struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// ActiveComponentSet marks the component that owns the conversation.
// An empty Name releases it.
type ActiveComponentSet struct {
	Name string `json:"name"`
}

type ActionExecuted struct {
	Name       string  `json:"name"`
	Policy     string  `json:"policy,omitempty"`
	Confidence float64 `json:"confidence"`
}

func (UserUttered) EventName() string        { return "user" }
func (BotUttered) EventName() string         { return "bot" }
func (SlotSet) EventName() string            { return "slot" }
func (ActiveComponentSet) EventName() string { return "active_component" }
func (ActionExecuted) EventName() string     { return "action" }

// Prediction is a policy's vote for the next action. An empty Action abstains.
type Prediction struct {
	Action     string  `json:"action,omitempty"`
	Confidence float64 `json:"confidence"`
	Policy     string  `json:"policy,omitempty"`
	Priority   int     `json:"priority"`
}

func (p Prediction) Abstained() bool {
	return p.Action == ""
}

// ComponentRequest is one outbound exchange with a marketplace component.
type ComponentRequest struct {
	ComponentID string         `json:"-"`
	SessionID   string         `json:"-"`
	UserInput   string         `json:"user_input"`
	Context     map[string]any `json:"context"`
	Flatten     bool           `json:"flatten_context"`
	Language    string         `json:"source_language_code,omitempty"`
}

// ComponentResponse is the decoded reply of a component exchange.
type ComponentResponse struct {
	Reply          string         `json:"reply"`
	Replies        []string       `json:"replies,omitempty"`
	UpdatedContext map[string]any `json:"updated_context,omitempty"`
	Continue       bool           `json:"continue"`
	Failed         bool           `json:"failed,omitempty"`
	OutOfContext   bool           `json:"out_of_context,omitempty"`
	IDontKnow      bool           `json:"idontknow,omitempty"`
	Confidence     float64        `json:"confidence,omitempty"`
}
