package contract

import "context"

// ComponentClient performs a single exchange with a remote component.
type ComponentClient interface {
	Exchange(ctx context.Context, req ComponentRequest) (ComponentResponse, error)
}

// Dispatcher collects the messages an action sends to the user.
type Dispatcher interface {
	UtterMessage(text string)
}

// Conversation is the read side of a tracker that actions and policies consume.
type Conversation interface {
	SenderID() string
	Slot(name string) (any, bool)
	LatestText() string
	LatestIntent() string
	LatestIntentConfidence() float64
	LatestActionName() string
	LatestActionPolicy() string
	ActiveComponent() string
}

// Domain is the subset of the host domain that actions and policies consume.
type Domain interface {
	HasAction(name string) bool
	ContextSlots() []string
}

type Action interface {
	Name() string
	Run(ctx context.Context, dispatcher Dispatcher, conv Conversation, domain Domain) ([]Event, error)
}

type Policy interface {
	Name() string
	Priority() int
	Predict(ctx context.Context, conv Conversation, domain Domain) (Prediction, error)
}
