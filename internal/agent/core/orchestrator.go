package core

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/newsletter/internal/failure"
	"github.com/mohammad-safakhou/newsletter/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var orchestratorTracer trace.Tracer = otel.Tracer("newsletter/internal/agent/orchestrator")

// Orchestrator drives the bounded planning loop. It holds no per-run state,
// so one instance can serve concurrent runs.
type Orchestrator struct {
	planner Planner
	tools   ToolInvoker
	opts    Options
	logger  *log.Logger
}

// NewOrchestrator creates a new orchestrator instance
func NewOrchestrator(planner Planner, tools ToolInvoker, opts Options, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Orchestrator{planner: planner, tools: tools, opts: opts.normalize(), logger: logger}
}

// Run converses with the planner until it answers without tool calls, the
// turn limit is hit, the model fails, or ctx is cancelled. The returned
// error is a *failure.ModelError, *failure.TurnLimitExceeded or
// *failure.CancelledError whenever the result state is FAILED.
func (o *Orchestrator) Run(ctx context.Context, request string) (RunResult, error) {
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(attribute.Int("run.max_turns", o.opts.MaxTurns)))
	defer span.End()

	conv := &conversation{}
	conv.append(models.Message{Role: models.RoleSystem, Content: o.opts.SystemPrompt})
	conv.append(models.Message{Role: models.RoleUser, Content: request})

	var (
		state   = StatePlanning
		result  RunResult
		pending []models.ToolCallRequest
		last    string
	)
	finish := func(s State, err error) (RunResult, error) {
		result.State = s
		result.Conversation = conv.snapshot()
		span.SetAttributes(
			attribute.String("run.state", string(s)),
			attribute.Int("run.turns", result.Turns),
			attribute.Int("run.tool_calls", len(result.ToolResults)),
			attribute.Bool("run.forced", result.Forced),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "completed")
		}
		return result, err
	}

	for {
		if ctx.Err() != nil {
			o.logger.Printf("cancelled in %s after %d turns", state, result.Turns)
			return finish(StateFailed, failure.Cancelled(string(state), ctx))
		}

		switch state {
		case StatePlanning:
			result.Turns++
			if result.Turns > o.opts.MaxTurns {
				warning := &failure.TurnLimitExceeded{Max: o.opts.MaxTurns}
				if last == "" {
					o.logger.Printf("turn limit %d reached with no assistant content", o.opts.MaxTurns)
					return finish(StateFailed, warning)
				}
				o.logger.Printf("turn limit %d reached, finishing with last assistant content", o.opts.MaxTurns)
				result.Forced = true
				result.Warning = warning
				result.Content = last
				span.AddEvent("run.forced_done")
				return finish(StateDone, nil)
			}

			msg, err := o.plan(ctx, conv.snapshot(), result.Turns)
			if err != nil {
				o.logger.Printf("turn %d: planner failed: %v", result.Turns, err)
				return finish(StateFailed, err)
			}
			conv.append(msg)
			if strings.TrimSpace(msg.Content) != "" {
				last = msg.Content
			}
			if len(msg.ToolCalls) == 0 {
				result.Content = msg.Content
				o.logger.Printf("turn %d: done", result.Turns)
				return finish(StateDone, nil)
			}
			o.logger.Printf("turn %d: %d tool call(s) requested", result.Turns, len(msg.ToolCalls))
			pending = msg.ToolCalls
			state = StateExecutingTools

		case StateExecutingTools:
			for _, call := range pending {
				res := o.invoke(ctx, call)
				result.ToolResults = append(result.ToolResults, res)
				conv.append(models.Message{Role: models.RoleTool, ToolCallID: res.CallID, Content: res.Payload})
			}
			pending = nil
			state = StatePlanning
		}
	}
}

// plan makes one model call. The call is detached from ctx cancellation so
// that a run is only ever aborted between states; its own timeout still
// bounds it.
func (o *Orchestrator) plan(ctx context.Context, conv []models.Message, turn int) (models.Message, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.ModelTimeout)
	defer cancel()
	callCtx, span := orchestratorTracer.Start(callCtx, "orchestrator.plan",
		trace.WithAttributes(attribute.Int("plan.turn", turn)))
	defer span.End()

	msg, err := o.planner.Plan(callCtx, conv, o.tools.Specs())
	if err != nil {
		var me *failure.ModelError
		if !errors.As(err, &me) {
			err = &failure.ModelError{Cause: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.Message{}, err
	}

	msg.Role = models.RoleAssistant
	if len(msg.ToolCalls) > 0 {
		calls := make([]models.ToolCallRequest, len(msg.ToolCalls))
		copy(calls, msg.ToolCalls)
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = uuid.NewString()
			}
		}
		msg.ToolCalls = calls
	}
	span.SetAttributes(attribute.Int("plan.tool_calls", len(msg.ToolCalls)))
	return msg, nil
}

// invoke runs one tool call detached from ctx cancellation, like plan. Tools
// bound their own network calls with the per-request timeout.
func (o *Orchestrator) invoke(ctx context.Context, call models.ToolCallRequest) models.ToolCallResult {
	ctx, span := orchestratorTracer.Start(context.WithoutCancel(ctx), "orchestrator.tool",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tool.call_id", call.ID),
		))
	defer span.End()

	res := o.tools.Invoke(ctx, call)
	span.SetAttributes(attribute.Bool("tool.ok", res.OK))
	if !res.OK {
		o.logger.Printf("tool %s (%s) failed: %v", call.Name, call.ID, res.Err)
		if res.Err != nil {
			span.RecordError(res.Err)
		}
		span.SetStatus(codes.Error, "tool failed")
	}
	return res
}
