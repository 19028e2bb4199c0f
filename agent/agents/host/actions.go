package host

import (
	"context"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
)

// ResponseAction utters a fixed template from the domain.
type ResponseAction struct {
	name string
	text string
}

var _ contractx.Action = (*ResponseAction)(nil)

func NewResponseAction(name, text string) *ResponseAction {
	return &ResponseAction{name: name, text: text}
}

func (a *ResponseAction) Name() string {
	return a.name
}

func (a *ResponseAction) Run(_ context.Context, dispatcher contractx.Dispatcher, _ contractx.Conversation, _ contractx.Domain) ([]contractx.Event, error) {
	dispatcher.UtterMessage(a.text)
	return nil, nil
}
