package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/newsletter/internal/failure"
	"github.com/mohammad-safakhou/newsletter/models"
)

// Tool is a named capability the planner may invoke. Parameters returns the
// JSON schema of the argument object.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Invoke(ctx context.Context, args json.RawMessage) (any, error)
}

// Registry is the fixed set of tools for a process. It has no mutation API
// once built and is safe for concurrent use.
type Registry struct {
	tools map[string]Tool
}

// ErrToolMissing indicates a required tool is not registered.
var ErrToolMissing = fmt.Errorf("required tool missing")

// NewRegistry validates tool names and ensures required tools exist.
func NewRegistry(tools []Tool, required []string) (*Registry, error) {
	reg := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t == nil {
			return nil, fmt.Errorf("nil tool")
		}
		name := strings.TrimSpace(t.Name())
		if name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, dup := reg.tools[name]; dup {
			return nil, fmt.Errorf("duplicate tool %s", name)
		}
		reg.tools[name] = t
	}
	for _, r := range required {
		if _, ok := reg.tools[r]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrToolMissing, r)
		}
	}
	return reg, nil
}

// Tool returns the tool registered under name.
func (r *Registry) Tool(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// Specs lists the tools sorted by name.
func (r *Registry) Specs() []models.ToolSpec {
	if r == nil {
		return nil
	}
	out := make([]models.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, models.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs one tool call. It always returns a result correlated with the
// request; unknown tools, errors and panics become failure results carrying
// a *failure.ToolError.
func (r *Registry) Invoke(ctx context.Context, req models.ToolCallRequest) (res models.ToolCallResult) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	res = models.ToolCallResult{CallID: req.ID, Name: req.Name}

	t, ok := r.Tool(req.Name)
	if !ok {
		return failed(res, &failure.ToolError{Tool: req.Name, Cause: errors.New("unknown tool")})
	}

	defer func() {
		if p := recover(); p != nil {
			res = failed(res, &failure.ToolError{Tool: req.Name, Cause: fmt.Errorf("panic: %v", p)})
		}
	}()

	out, err := t.Invoke(ctx, req.Arguments)
	if err != nil {
		return failed(res, &failure.ToolError{Tool: req.Name, Cause: err})
	}
	payload, err := encodePayload(out)
	if err != nil {
		return failed(res, &failure.ToolError{Tool: req.Name, Cause: err})
	}
	res.OK = true
	res.Payload = payload
	return res
}

func failed(res models.ToolCallResult, err error) models.ToolCallResult {
	res.OK = false
	res.Err = err
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	res.Payload = string(b)
	return res
}

func encodePayload(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}
