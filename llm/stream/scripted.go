package stream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Script 描述一次 Stream 调用的行为
type Script struct {
	// OpenErr 非空时 Stream 直接失败
	OpenErr error
	Chunks  []string
	// Err 在所有分块之后作为流错误返回
	Err   error
	Delay time.Duration
}

// ScriptedModel 按顺序回放脚本，最后一个脚本在耗尽后重复使用
type ScriptedModel struct {
	mu       sync.Mutex
	scripts  []Script
	calls    int
	requests []Request
}

// NewScriptedModel creates a model that replays scripts in order.
func NewScriptedModel(scripts ...Script) *ScriptedModel {
	return &ScriptedModel{scripts: scripts}
}

// Calls returns how many times Stream was called.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns the requests seen so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Stream implements Model.
func (m *ScriptedModel) Stream(ctx context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	if len(m.scripts) == 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("scripted model has no scripts")
	}
	idx := min(m.calls, len(m.scripts)-1)
	script := m.scripts[idx]
	m.calls++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if script.OpenErr != nil {
		return nil, script.OpenErr
	}

	p := newPipe(0)
	go func() {
		for _, c := range script.Chunks {
			if script.Delay > 0 {
				select {
				case <-time.After(script.Delay):
				case <-ctx.Done():
					p.finish("", ctx.Err())
					return
				}
			}
			if !p.send(ctx, c) {
				p.finish("", ctx.Err())
				return
			}
		}
		if script.Err != nil {
			p.finish("", script.Err)
			return
		}
		p.finish("stop", nil)
	}()
	return p, nil
}

// EchoModel 不调用任何上游：把用户输入包装成带标签的回复，用于本地联调
type EchoModel struct {
	ChunkSize int
	Delay     time.Duration
}

// Stream implements Model.
func (e *EchoModel) Stream(ctx context.Context, req Request) (Stream, error) {
	lang := req.Language
	if lang == "" {
		lang = "en"
	}
	reply := "You said: " + req.Input
	text := fmt.Sprintf("[ASR]%s[/ASR][SUB:%s]%s[/SUB][TSS:%s]%s[/TSS]", req.Input, lang, reply, lang, reply)

	size := e.ChunkSize
	if size <= 0 {
		size = 7
	}
	runes := []rune(text)
	var chunks []string
	for i := 0; i < len(runes); i += size {
		chunks = append(chunks, string(runes[i:min(i+size, len(runes))]))
	}
	return NewScriptedModel(Script{Chunks: chunks, Delay: e.Delay}).Stream(ctx, req)
}
