package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
	sessionIDKey contextKey = "session_id"
	turnIDKey    contextKey = "turn_id"
	userIDKey    contextKey = "user_id"
)

func withString(ctx context.Context, key contextKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestID 设置请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) { return stringValue(ctx, requestIDKey) }

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return withString(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) { return stringValue(ctx, traceIDKey) }

// WithSessionID 设置会话 ID
func WithSessionID(ctx context.Context, id string) context.Context {
	return withString(ctx, sessionIDKey, id)
}

// SessionID 获取会话 ID
func SessionID(ctx context.Context) (string, bool) { return stringValue(ctx, sessionIDKey) }

// WithTurnID 设置回合 ID
func WithTurnID(ctx context.Context, id string) context.Context {
	return withString(ctx, turnIDKey, id)
}

// TurnID 获取回合 ID
func TurnID(ctx context.Context) (string, bool) { return stringValue(ctx, turnIDKey) }

// WithUserID 设置认证后的用户 ID
func WithUserID(ctx context.Context, id string) context.Context {
	return withString(ctx, userIDKey, id)
}

// UserID 获取认证后的用户 ID
func UserID(ctx context.Context) (string, bool) { return stringValue(ctx, userIDKey) }
