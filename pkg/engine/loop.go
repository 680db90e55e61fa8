package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/debug"
	"github.com/rhuss/alpha/pkg/observability"
	"github.com/rhuss/alpha/pkg/provider"
	"github.com/rhuss/alpha/pkg/tools"
)

// turnResult is what one provider turn produced.
type turnResult struct {
	text  string
	calls []provider.ProviderToolCall
	usage *provider.Usage
	err   error
}

// run executes the agentic loop, emitting events on em. Each turn streams
// text deltas and tool calls as they arrive; when the turn ends with tool
// calls they are executed in order and their results are fed back.
func (e *Engine) run(ctx context.Context, req Request, em *emitter) {
	model := req.Model
	if model == "" {
		model = e.cfg.DefaultModel
	}

	p, providerModel, err := e.resolver.Resolve(model)
	if err != nil {
		em.send(api.NewFailure(err.Error()))
		return
	}

	defs := e.toolDefinitions(ctx)
	provReq := &provider.ProviderRequest{
		Model:       providerModel,
		Messages:    buildMessages(req.SystemPrompt, req.History, e.cfg.historyWindow(), req.Message),
		Tools:       toolsToProvider(defs),
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
		Stream:      true,
	}

	debug.Log("engine", "exchange started",
		"model", model,
		"history", len(req.History),
		"tools", len(defs),
	)

	maxTurns := e.cfg.maxTurns()
	for turn := 0; turn < maxTurns; turn++ {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		eventCh, err := p.Stream(ctx, provReq)
		if err != nil {
			recordProvider(p.Name(), providerModel, time.Since(start), nil, err)
			if ctx.Err() != nil {
				return
			}
			em.send(api.NewFailure(err.Error()))
			return
		}

		res := e.consumeTurn(ctx, eventCh, turn, em)
		recordProvider(p.Name(), providerModel, time.Since(start), res.usage, res.err)

		if ctx.Err() != nil {
			return
		}
		if res.err != nil {
			em.send(api.NewFailure(res.err.Error()))
			return
		}
		if len(res.calls) == 0 {
			debug.Log("engine", "exchange completed", "turns", turn+1)
			em.send(api.NewCompletion())
			return
		}

		results := e.executeTools(ctx, res.calls)
		if ctx.Err() != nil {
			return
		}

		provReq.Messages = append(provReq.Messages, assistantToolCallMessage(res.text, res.calls))
		for i, r := range results {
			if !em.send(toolResultEvent(res.calls[i], r)) {
				return
			}
			provReq.Messages = append(provReq.Messages, provider.ProviderMessage{
				Role:       "tool",
				Content:    r.Output,
				ToolCallID: res.calls[i].ID,
				Name:       res.calls[i].Function.Name,
			})
		}
	}

	slog.Warn("agentic loop reached max turns", "model", model, "max_turns", maxTurns)
	em.send(api.NewFailure(fmt.Sprintf("maximum number of turns (%d) reached without a final answer", maxTurns)))
}

// consumeTurn forwards a turn's text deltas and tool calls and collects
// what the turn produced. The provider closes eventCh when the turn ends.
func (e *Engine) consumeTurn(ctx context.Context, eventCh <-chan provider.ProviderEvent, turn int, em *emitter) turnResult {
	var res turnResult
	var text strings.Builder

	for {
		select {
		case <-ctx.Done():
			res.text = text.String()
			return res
		case ev, ok := <-eventCh:
			if !ok {
				res.text = text.String()
				return res
			}
			switch ev.Type {
			case provider.ProviderEventTextDelta:
				text.WriteString(ev.Delta)
				if !em.send(api.NewTextDelta(ev.Delta)) {
					res.text = text.String()
					return res
				}

			case provider.ProviderEventToolCallDone:
				if ev.ToolCall == nil {
					continue
				}
				tc := normalizeToolCall(*ev.ToolCall, turn, len(res.calls))
				res.calls = append(res.calls, tc)
				if !em.send(toolCallEvent(tc)) {
					res.text = text.String()
					return res
				}

			case provider.ProviderEventDone:
				res.usage = ev.Usage
				debug.Log("engine", "turn done",
					"turn", turn,
					"finish_reason", ev.FinishReason,
					"tool_calls", len(res.calls),
				)

			case provider.ProviderEventError:
				res.err = ev.Err
				if res.err == nil {
					res.err = fmt.Errorf("provider reported an error")
				}
			}
		}
	}
}

// toolDefinitions collects the definitions of every executor. Executors
// that fail to list are logged and skipped.
func (e *Engine) toolDefinitions(ctx context.Context) []tools.Definition {
	var defs []tools.Definition
	for _, exec := range e.cfg.Executors {
		d, err := exec.Definitions(ctx)
		if err != nil {
			slog.Warn("failed to list tools", "kind", exec.Kind().String(), "error", err)
			continue
		}
		defs = append(defs, d...)
	}
	return defs
}

// findExecutor returns the first executor that can handle the tool.
func (e *Engine) findExecutor(name string) tools.ToolExecutor {
	for _, exec := range e.cfg.Executors {
		if exec.CanExecute(name) {
			return exec
		}
	}
	return nil
}

// executeTools dispatches tool calls one at a time, in the order the
// model issued them. Failures become error output for the model.
func (e *Engine) executeTools(ctx context.Context, calls []provider.ProviderToolCall) []tools.ToolResult {
	results := make([]tools.ToolResult, len(calls))
	for i, pc := range calls {
		tc := tools.ToolCall{ID: pc.ID, Name: pc.Function.Name, Arguments: pc.Function.Arguments}

		if ctx.Err() != nil {
			results[i] = tools.ToolResult{CallID: tc.ID, Output: "context cancelled", IsError: true}
			continue
		}

		exec := e.findExecutor(tc.Name)
		if exec == nil {
			results[i] = tools.ToolResult{
				CallID:  tc.ID,
				Output:  "no executor found for tool " + tc.Name,
				IsError: true,
			}
			observability.ToolExecutionsTotal.WithLabelValues(tc.Name, "error").Inc()
			continue
		}

		debug.Log("tools", "executing tool", "tool", tc.Name, "call_id", tc.ID, "kind", exec.Kind().String())
		result, err := exec.Execute(ctx, tc)
		if err != nil {
			slog.Warn("tool execution error",
				"tool", tc.Name,
				"call_id", tc.ID,
				"error", err.Error(),
			)
			results[i] = tools.ToolResult{CallID: tc.ID, Output: err.Error(), IsError: true}
			observability.ToolExecutionsTotal.WithLabelValues(tc.Name, "error").Inc()
			continue
		}

		status := "success"
		if result.IsError {
			status = "error"
		}
		observability.ToolExecutionsTotal.WithLabelValues(tc.Name, status).Inc()
		results[i] = *result
		results[i].CallID = tc.ID
	}
	return results
}

func recordProvider(name, model string, d time.Duration, usage *provider.Usage, err error) {
	observability.ProviderRequestsTotal.WithLabelValues(name, model, observability.Status(err)).Inc()
	observability.ProviderLatency.WithLabelValues(name, model).Observe(d.Seconds())
	if usage != nil {
		observability.ProviderTokensTotal.WithLabelValues(name, model, "input").Add(float64(usage.InputTokens))
		observability.ProviderTokensTotal.WithLabelValues(name, model, "output").Add(float64(usage.OutputTokens))
	}
}
