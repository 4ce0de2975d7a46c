// Package stream defines the token stream produced by the language model and
// its OpenAI compatible implementation.
package stream

import (
	"context"
	"regexp"
	"strings"
	"sync"
)

// Role of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prompt line.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request 描述一次模型流请求
type Request struct {
	SessionID   string
	TurnID      string
	CharacterID string
	UserID      string
	Language    string

	// Input 用户文本输入；Audio 非空时模型自行转写并以 [ASR] 标签回显
	Input       string
	Audio       []byte
	AudioFormat string

	SystemPrompt string
	History      []Message
}

// FinalResponse 在流结束后提供
type FinalResponse struct {
	Text          string
	Transcription string
	FinishReason  string
	ChunkCount    int
}

// Stream 单次模型输出。Chunks 关闭后 Final 返回聚合结果或流错误。
type Stream interface {
	Chunks() <-chan string
	Final() (FinalResponse, error)
}

// Model 打开模型流
type Model interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

var transcriptionPattern = regexp.MustCompile(`(?s)\[ASR\](.*?)\[/ASR\]`)

// ExtractTranscription 返回聚合文本中第一个 [ASR] 区块的内容
func ExtractTranscription(text string) string {
	m := transcriptionPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// pipe 是 Stream 的通用实现：生产者写 chunks，结束时调用 finish
type pipe struct {
	chunks chan string
	done   chan struct{}

	once  sync.Once
	mu    sync.Mutex
	text  strings.Builder
	count int
	final FinalResponse
	err   error
}

func newPipe(buffer int) *pipe {
	return &pipe{
		chunks: make(chan string, buffer),
		done:   make(chan struct{}),
	}
}

func (p *pipe) Chunks() <-chan string { return p.chunks }

// Final 阻塞到流结束
func (p *pipe) Final() (FinalResponse, error) {
	<-p.done
	return p.final, p.err
}

// send 写入一个分块，ctx 取消时返回 false
func (p *pipe) send(ctx context.Context, chunk string) bool {
	if chunk == "" {
		return true
	}
	select {
	case p.chunks <- chunk:
		p.mu.Lock()
		p.text.WriteString(chunk)
		p.count++
		p.mu.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *pipe) finish(finishReason string, err error) {
	p.once.Do(func() {
		p.mu.Lock()
		text := p.text.String()
		p.final = FinalResponse{
			Text:          text,
			Transcription: ExtractTranscription(text),
			FinishReason:  finishReason,
			ChunkCount:    p.count,
		}
		p.err = err
		p.mu.Unlock()
		close(p.chunks)
		close(p.done)
	})
}
