package host

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	nodex "github.com/tanpawarit/chative-coco/agent/nodes"
)

func (h *Host) compileHandleMessageGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	runCfg := nodex.RunConfig{
		Actions:        h.actions,
		Predictor:      h.predictor,
		Domain:         h.domain,
		FallbackAction: h.domain.Policies.FallbackAction,
		MaxActions:     h.domain.Policies.MaxActionsPerTurn,
	}

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, h.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("load_or_create_tracker",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadOrCreateTracker(ctx, in, h.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_or_create_tracker: %w", err)
	}

	if err := graph.AddLambdaNode("record_user_message",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RecordUserMessage(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node record_user_message: %w", err)
	}

	if err := graph.AddLambdaNode("run_actions",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunActions(ctx, in, runCfg)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node run_actions: %w", err)
	}

	if err := graph.AddLambdaNode("validate_and_save_tracker",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ValidateAndSaveTracker(ctx, in, h.store, h.domain.Policies.MaxEvents)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_and_save_tracker: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "load_or_create_tracker"},
		{"load_or_create_tracker", "record_user_message"},
		{"record_user_message", "run_actions"},
		{"run_actions", "validate_and_save_tracker"},
		{"validate_and_save_tracker", "finalize_reply"},
		{"finalize_reply", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("host.handle_message"))
	if err != nil {
		return nil, fmt.Errorf("compile host graph: %w", err)
	}
	return runner, nil
}
