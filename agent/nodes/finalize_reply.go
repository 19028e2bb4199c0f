package hostnode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/chative-coco/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	replies := make([]string, 0, len(in.Messages))
	for _, m := range in.Messages {
		if m = strings.TrimSpace(m); m != "" {
			replies = append(replies, m)
		}
	}
	return GraphOutput{Replies: replies, Actions: in.Actions}, nil
}
