package hostnode

import (
	"errors"
	"strings"
	"time"

	statex "github.com/tanpawarit/chative-coco/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidSender  = statex.ErrInvalidSender
)

type GraphInput struct {
	SenderID   string
	Text       string
	Intent     string
	Confidence float64
}

type GraphOutput struct {
	Replies []string
	Actions []string
}

type GraphState struct {
	SenderID   string
	Text       string
	Intent     string
	Confidence float64
	Now        time.Time

	Tracker  *statex.Tracker
	Messages []string
	Actions  []string
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	senderID := strings.TrimSpace(in.SenderID)
	if senderID == "" {
		return nil, ErrInvalidSender
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	confidence := in.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &GraphState{
		SenderID:   senderID,
		Text:       text,
		Intent:     strings.TrimSpace(in.Intent),
		Confidence: confidence,
		Now:        nowFn().UTC(),
	}, nil
}
