package handlers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/voiceflow/voice/events"
	"github.com/BaSui01/voiceflow/voice/markup"
	"go.uber.org/zap"
)

// =============================================================================
// 🎬 动作解析
// =============================================================================

// ErrInvalidAction is returned for content that is not a name(args) call.
var ErrInvalidAction = errors.New("invalid action expression")

var actionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Call is a parsed action expression.
type Call struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
	Raw  string   `json:"raw"`
}

// ParseCall parses `name(arg1, arg2, ...)`. Arguments are split on commas
// outside quotes, then whitespace and one pair of surrounding quotes are trimmed.
func ParseCall(raw string) (Call, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Call{}, fmt.Errorf("%w: empty expression", ErrInvalidAction)
	}
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return Call{}, fmt.Errorf("%w: expected name(args)", ErrInvalidAction)
	}
	name := strings.TrimSpace(s[:open])
	if !actionName.MatchString(name) {
		return Call{}, fmt.Errorf("%w: bad name %q", ErrInvalidAction, name)
	}
	args, err := splitArgs(s[open+1 : len(s)-1])
	if err != nil {
		return Call{}, err
	}
	return Call{Name: name, Args: args, Raw: raw}, nil
}

func splitArgs(body string) ([]string, error) {
	args := []string{}
	if strings.TrimSpace(body) == "" {
		return args, nil
	}

	var (
		cur   strings.Builder
		quote rune
	)
	for _, r := range body {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			cur.WriteRune(r)
		case r == ',':
			args = append(args, trimArg(cur.String()))
			cur.Reset()
		case r == '(' || r == ')':
			return nil, fmt.Errorf("%w: unexpected %q in arguments", ErrInvalidAction, r)
		default:
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated quote", ErrInvalidAction)
	}
	return append(args, trimArg(cur.String())), nil
}

func trimArg(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			s = s[1 : len(s)-1]
		}
	}
	return s
}

// =============================================================================
// ⚙️ 执行器
// =============================================================================

// ActionExecutor runs a parsed action and returns extra result fields.
type ActionExecutor interface {
	Execute(ctx context.Context, ts *TurnState, call Call) (map[string]any, error)
}

// ExecutorFunc adapts a function to ActionExecutor.
type ExecutorFunc func(ctx context.Context, ts *TurnState, call Call) (map[string]any, error)

// Execute implements ActionExecutor.
func (f ExecutorFunc) Execute(ctx context.Context, ts *TurnState, call Call) (map[string]any, error) {
	return f(ctx, ts, call)
}

// EchoExecutor acknowledges a call by echoing its name and arguments.
type EchoExecutor struct{}

// Execute implements ActionExecutor.
func (EchoExecutor) Execute(_ context.Context, _ *TurnState, call Call) (map[string]any, error) {
	return map[string]any{"name": call.Name, "args": call.Args}, nil
}

// ActionHandler parses [DO] blocks and hands them to an executor.
type ActionHandler struct {
	base
	executor ActionExecutor
}

// NewActionHandler creates an action handler; a nil executor echoes.
func NewActionHandler(executor ActionExecutor, opts ...Option) *ActionHandler {
	if executor == nil {
		executor = EchoExecutor{}
	}
	return &ActionHandler{
		base:     newBase(markup.TagAction, opts),
		executor: executor,
	}
}

// Handle implements Handler.
func (h *ActionHandler) Handle(ctx context.Context, ev markup.TagEvent, hc *Context, ts *TurnState, emit Emit) error {
	switch ev.Lifecycle {
	case markup.Opened:
		hc.Reset("")
		return nil
	case markup.Content:
		hc.Append(ev.Content)
		return nil
	case markup.Closed:
	default:
		return nil
	}

	raw := hc.Text()
	call, err := ParseCall(raw)
	if err != nil {
		h.logger.Info("invalid action expression", append(turnFields(ts), zap.String("raw", raw), zap.Error(err))...)
		emit(h.event(ts, events.ActionResult, map[string]any{
			"success": false,
			"error":   err.Error(),
			"raw":     raw,
		}))
		return nil
	}

	execCtx, cancel := h.detached(ctx)
	defer cancel()
	result, err := h.executor.Execute(execCtx, ts, call)
	if err != nil {
		return fmt.Errorf("execute action %s: %w", call.Name, err)
	}

	payload := map[string]any{"success": true}
	for k, v := range result {
		if k != "success" {
			payload[k] = v
		}
	}
	if _, ok := payload["name"]; !ok {
		payload["name"] = call.Name
	}
	emit(h.event(ts, events.ActionResult, payload))
	return nil
}
