package core

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/newsletter/models"
)

// State of the planning state machine.
type State string

const (
	StatePlanning       State = "PLANNING"
	StateExecutingTools State = "EXECUTING_TOOLS"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// Planner is the model step. It is satisfied by provider.Planner.
type Planner interface {
	Plan(ctx context.Context, conversation []models.Message, tools []models.ToolSpec) (models.Message, error)
}

// ToolInvoker is satisfied by *capability.Registry.
type ToolInvoker interface {
	Specs() []models.ToolSpec
	Invoke(ctx context.Context, req models.ToolCallRequest) models.ToolCallResult
}

// Options bound a run.
type Options struct {
	MaxTurns     int
	ModelTimeout time.Duration
	SystemPrompt string
}

const (
	DefaultMaxTurns     = 6
	DefaultModelTimeout = 60 * time.Second
)

func (o Options) normalize() Options {
	if o.MaxTurns <= 0 {
		o.MaxTurns = DefaultMaxTurns
	}
	if o.ModelTimeout <= 0 {
		o.ModelTimeout = DefaultModelTimeout
	}
	if o.SystemPrompt == "" {
		o.SystemPrompt = SystemPrompt
	}
	return o
}

// RunResult is what a run produced. Content is the terminal output and is
// only meaningful in StateDone. Warning carries a TurnLimitExceeded when the
// run was forced to finish.
type RunResult struct {
	State        State
	Content      string
	Turns        int
	Forced       bool
	ToolResults  []models.ToolCallResult
	Conversation []models.Message
	Warning      error
}

// ToolCalls returns the results for the named tool in invocation order.
func (r RunResult) ToolCalls(name string) []models.ToolCallResult {
	var out []models.ToolCallResult
	for _, res := range r.ToolResults {
		if res.Name == name {
			out = append(out, res)
		}
	}
	return out
}

// conversation is append-only; snapshots are copies.
type conversation struct {
	msgs []models.Message
}

func (c *conversation) append(m models.Message) {
	c.msgs = append(c.msgs, m)
}

func (c *conversation) snapshot() []models.Message {
	out := make([]models.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}
