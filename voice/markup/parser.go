package markup

import (
	"context"
	"strings"
	"time"
)

// marker is one of the eight fixed control markers. '?' in pattern matches a
// lowercase ASCII letter.
type marker struct {
	tag     TagType
	close   bool
	pattern string
}

var markers = []marker{
	{tag: TagSpeech, pattern: "[TSS:??]"},
	{tag: TagSpeech, close: true, pattern: "[/TSS]"},
	{tag: TagSubtitle, pattern: "[SUB:??]"},
	{tag: TagSubtitle, close: true, pattern: "[/SUB]"},
	{tag: TagTranscription, pattern: "[ASR]"},
	{tag: TagTranscription, close: true, pattern: "[/ASR]"},
	{tag: TagAction, pattern: "[DO]"},
	{tag: TagAction, close: true, pattern: "[/DO]"},
}

type matchResult int

const (
	matchNone matchResult = iota
	matchPartial
	matchFull
)

func matchPattern(s, pattern string) matchResult {
	n := len(pattern)
	if len(s) < n {
		n = len(s)
	}
	for i := 0; i < n; i++ {
		p := pattern[i]
		c := s[i]
		if p == '?' {
			if c < 'a' || c > 'z' {
				return matchNone
			}
			continue
		}
		if c != p {
			return matchNone
		}
	}
	if len(s) < len(pattern) {
		return matchPartial
	}
	return matchFull
}

// matchAt tests every marker against s, which starts with '['.
func matchAt(s string) (marker, matchResult) {
	partial := false
	for _, m := range markers {
		switch matchPattern(s, m.pattern) {
		case matchFull:
			return m, matchFull
		case matchPartial:
			partial = true
		}
	}
	if partial {
		return marker{}, matchPartial
	}
	return marker{}, matchNone
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) ParserOption {
	return func(p *Parser) {
		if now != nil {
			p.now = now
		}
	}
}

// Parser is the tag grammar state machine for one turn.
//
// Input is accumulated in a buffer and a watermark records how far it has been
// consumed. Each pass looks only past the watermark, so no byte is ever emitted
// twice even when a marker arrives split across chunks. A tail that could still
// grow into a marker is held back until the next chunk decides it.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	sessionID string
	turnID    string
	now       func() time.Time

	state    State
	language string

	buf       string
	watermark int
	// base is the absolute stream offset of buf[0].
	base int64
	seq  int64
}

// NewParser creates a parser in state NORMAL.
func NewParser(sessionID, turnID string, opts ...ParserOption) *Parser {
	p := &Parser{
		sessionID: sessionID,
		turnID:    turnID,
		now:       time.Now,
		state:     StateNormal,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current parser state.
func (p *Parser) State() State {
	return p.state
}

// Feed consumes one chunk and returns the tag events it completes.
func (p *Parser) Feed(chunk string) []TagEvent {
	if chunk == "" {
		return nil
	}
	p.buf += chunk

	var out []TagEvent
	for {
		idx, m, res := p.nextMarker()
		if res == matchFull {
			out = p.emitContent(out, idx)
			out = p.applyMarker(out, m, idx)
			continue
		}
		if res == matchPartial {
			out = p.emitContent(out, idx)
		} else {
			out = p.emitContent(out, len(p.buf))
		}
		break
	}
	p.compact()
	return out
}

// Flush ends the stream. A held-back tail that never became a marker is
// content of the open tag. An unterminated tag stays open without a CLOSED event.
func (p *Parser) Flush() []TagEvent {
	out := p.emitContent(nil, len(p.buf))
	p.compact()
	return out
}

// nextMarker finds the earliest full or partial marker past the watermark.
func (p *Parser) nextMarker() (int, marker, matchResult) {
	from := p.watermark
	for {
		rel := strings.IndexByte(p.buf[from:], '[')
		if rel < 0 {
			return -1, marker{}, matchNone
		}
		idx := from + rel
		m, res := matchAt(p.buf[idx:])
		if res != matchNone {
			return idx, m, res
		}
		from = idx + 1
	}
}

// emitContent advances the watermark to end, emitting the slice as CONTENT when
// inside a tag body. Text in NORMAL state is dropped.
func (p *Parser) emitContent(out []TagEvent, end int) []TagEvent {
	if end <= p.watermark {
		return out
	}
	text := p.buf[p.watermark:end]
	start := p.watermark
	p.watermark = end
	if tag := p.state.TagType(); tag != "" {
		out = append(out, p.event(tag, Content, text, start))
	}
	return out
}

func (p *Parser) applyMarker(out []TagEvent, m marker, idx int) []TagEvent {
	p.watermark = idx + len(m.pattern)

	if !m.close {
		if p.state != StateNormal {
			return out
		}
		lang := ""
		if m.tag.HasLanguage() {
			lang = p.buf[idx+5 : idx+7]
		}
		p.state = bodyState(m.tag)
		p.language = lang
		return append(out, p.event(m.tag, Opened, "", idx))
	}

	if p.state.TagType() != m.tag {
		return out
	}
	ev := p.event(m.tag, Closed, "", idx)
	p.state = StateNormal
	p.language = ""
	return append(out, ev)
}

func (p *Parser) event(tag TagType, lc Lifecycle, content string, idx int) TagEvent {
	p.seq++
	return TagEvent{
		TagType:        tag,
		Lifecycle:      lc,
		Language:       p.language,
		Content:        content,
		SessionID:      p.sessionID,
		TurnID:         p.turnID,
		StreamPosition: p.seq,
		Offset:         p.base + int64(idx),
		Timestamp:      p.now(),
	}
}

// compact drops the consumed prefix so the buffer only holds the undecided tail.
func (p *Parser) compact() {
	if p.watermark == 0 {
		return
	}
	p.base += int64(p.watermark)
	p.buf = p.buf[p.watermark:]
	p.watermark = 0
}

// Parse runs a parser over a chunk channel until it closes or ctx is done.
// The returned channel is closed after the final flush.
func Parse(ctx context.Context, sessionID, turnID string, chunks <-chan string, opts ...ParserOption) <-chan TagEvent {
	out := make(chan TagEvent, 16)
	go func() {
		defer close(out)
		p := NewParser(sessionID, turnID, opts...)
		send := func(events []TagEvent) bool {
			for _, ev := range events {
				select {
				case out <- ev:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-chunks:
				if !ok {
					send(p.Flush())
					return
				}
				if !send(p.Feed(chunk)) {
					return
				}
			}
		}
	}()
	return out
}
