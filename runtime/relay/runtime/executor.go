package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"goa.design/relay/runtime/relay/model"
	"goa.design/relay/runtime/relay/stage"
	"goa.design/relay/runtime/relay/toolerrors"
	"goa.design/relay/runtime/relay/tools"
)

// DefaultMaxToolRounds bounds the tool loop of ModelExecutor.
const DefaultMaxToolRounds = 4

// ErrToolRounds indicates the model kept requesting tools past MaxToolRounds.
var ErrToolRounds = errors.New("tool round limit exceeded")

// ModelExecutor runs a stage by prompting a model with the rendered
// instructions, letting it call the stage's declared tools and returning its
// final text. Handoffs are advertised in the system prompt using the handoff
// token convention.
type ModelExecutor struct {
	// Client is the model client.
	Client model.Client
	// Model selects the provider model. Empty uses the client default.
	Model string
	// Temperature is the sampling temperature.
	Temperature float32
	// MaxTokens caps completion tokens. Zero uses the provider default.
	MaxTokens int
	// MaxToolRounds bounds tool rounds. Zero uses DefaultMaxToolRounds.
	MaxToolRounds int
	// CallTimeout bounds each model call. Zero relies on the stage deadline.
	CallTimeout time.Duration
}

var _ stage.Executor = (*ModelExecutor)(nil)

// Execute implements stage.Executor.
func (e *ModelExecutor) Execute(ctx context.Context, call stage.Call) (string, error) {
	if e.Client == nil {
		return "", &UpstreamModelError{Stage: call.Stage, Cause: errors.New("no model client configured")}
	}
	rounds := e.MaxToolRounds
	if rounds <= 0 {
		rounds = DefaultMaxToolRounds
	}
	var defs []model.ToolDefinition
	if call.Tools != nil {
		for _, t := range call.Tools.Definitions() {
			defs = append(defs, model.ToolDefinition{
				Name:        string(t.Ident),
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	req := model.Request{
		Model:       e.Model,
		System:      systemPrompt(call),
		Messages:    []model.Message{{Role: model.RoleUser, Content: call.Input}},
		Temperature: e.Temperature,
		MaxTokens:   e.MaxTokens,
		Tools:       defs,
	}

	for round := 0; ; round++ {
		resp, err := e.complete(ctx, req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return "", &TimeoutError{Op: "model", Stage: call.Stage, Cause: err}
			}
			return "", &UpstreamModelError{Stage: call.Stage, Cause: err}
		}
		if len(resp.ToolCalls) == 0 {
			return strings.TrimSpace(resp.Text), nil
		}
		if round >= rounds {
			return "", &UpstreamModelError{Stage: call.Stage, Cause: ErrToolRounds}
		}
		req.Messages = append(req.Messages, model.Message{
			Role:      model.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			content, err := e.runTool(ctx, call, tc)
			if err != nil {
				return "", err
			}
			req.Messages = append(req.Messages, model.Message{
				Role:       model.RoleTool,
				Content:    content,
				ToolCallID: tc.ID,
			})
		}
	}
}

// runTool invokes tc and renders its result for the model. Capability failures
// are reported to the model as a typed error payload; only cancellation aborts
// the stage.
func (e *ModelExecutor) runTool(ctx context.Context, call stage.Call, tc model.ToolCall) (string, error) {
	if call.Tools == nil {
		return errorPayload(tools.ErrUnknownTool.Error(), false), nil
	}
	res, err := call.Tools.Invoke(ctx, tools.Ident(tc.Name), tc.Payload)
	if err == nil {
		return res.JSON(), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	var ce *tools.CapabilityError
	if errors.As(err, &ce) {
		return errorPayload(ce.Cause.Chain(), ce.Timeout), nil
	}
	return errorPayload(toolerrors.FromError(err).Chain(), false), nil
}

func (e *ModelExecutor) complete(ctx context.Context, req model.Request) (model.Response, error) {
	if e.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.CallTimeout)
		defer cancel()
	}
	type outcome struct {
		resp model.Response
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("model client panicked: %v", p)}
			}
		}()
		resp, err := e.Client.Complete(ctx, req)
		done <- outcome{resp: resp, err: err}
	}()
	select {
	case o := <-done:
		return o.resp, o.err
	case <-ctx.Done():
		return model.Response{}, ctx.Err()
	}
}

func errorPayload(msg string, timeout bool) string {
	b, _ := json.Marshal(map[string]any{"error": msg, "timeout": timeout})
	return string(b)
}

// systemPrompt appends the handoff protocol to the stage instructions.
func systemPrompt(call stage.Call) string {
	if len(call.Handoffs) == 0 {
		return call.Instructions
	}
	var b strings.Builder
	b.WriteString(call.Instructions)
	b.WriteString("\n\nTo transfer control, reply with a first line \"HANDOFF: <name>\" followed by the content to forward. Available handoffs:\n")
	for _, h := range call.Handoffs {
		fmt.Fprintf(&b, "- %s: %s\n", h.HandoffName(), h.Description)
	}
	return b.String()
}
