package chain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/outputparser"
)

// Parser turns raw model text into the chain's output text.
type Parser interface {
	Parse(text string) (string, error)
	// NewStream returns a filter applied to streamed chunks.
	NewStream() StreamFilter
}

// StreamFilter rewrites a stream of chunks. Push returns the text to emit
// for chunk; Flush returns whatever is still buffered at end of stream.
type StreamFilter interface {
	Push(chunk string) string
	Flush() string
}

// StrParser returns the completion text, trimmed.
type StrParser struct {
	simple outputparser.Simple
}

func NewStrParser() StrParser {
	return StrParser{simple: outputparser.NewSimple()}
}

func (p StrParser) Parse(text string) (string, error) {
	out, err := p.simple.Parse(text)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(out), nil
}

func (p StrParser) NewStream() StreamFilter { return &passthrough{} }

type passthrough struct{}

func (*passthrough) Push(chunk string) string { return chunk }
func (*passthrough) Flush() string            { return "" }

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?(</think>|$)`)

// ReasoningParser drops <think>...</think> blocks emitted by reasoning
// models such as deepseek-r1 and qwen3, then trims like StrParser.
type ReasoningParser struct {
	StrParser
}

func NewReasoningParser() ReasoningParser {
	return ReasoningParser{StrParser: NewStrParser()}
}

func (p ReasoningParser) Parse(text string) (string, error) {
	return p.StrParser.Parse(thinkBlock.ReplaceAllString(text, ""))
}

func (p ReasoningParser) NewStream() StreamFilter { return &thinkFilter{} }

// thinkFilter suppresses text inside think tags, holding back any suffix
// that could be the start of a tag split across chunks.
type thinkFilter struct {
	buf     string
	inThink bool
	emitted bool
}

func (f *thinkFilter) Push(chunk string) string {
	f.buf += chunk
	var out strings.Builder
	for {
		if f.inThink {
			i := strings.Index(f.buf, thinkClose)
			if i < 0 {
				keep := partialSuffix(f.buf, thinkClose)
				f.buf = f.buf[len(f.buf)-keep:]
				break
			}
			f.buf = f.buf[i+len(thinkClose):]
			f.inThink = false
			continue
		}
		if i := strings.Index(f.buf, thinkOpen); i >= 0 {
			out.WriteString(f.buf[:i])
			f.buf = f.buf[i+len(thinkOpen):]
			f.inThink = true
			continue
		}
		keep := partialSuffix(f.buf, thinkOpen)
		out.WriteString(f.buf[:len(f.buf)-keep])
		f.buf = f.buf[len(f.buf)-keep:]
		break
	}
	return f.emit(out.String())
}

func (f *thinkFilter) Flush() string {
	if f.inThink {
		f.buf = ""
		return ""
	}
	rest := f.buf
	f.buf = ""
	return f.emit(rest)
}

// emit drops whitespace ahead of the first visible text.
func (f *thinkFilter) emit(s string) string {
	if !f.emitted {
		s = strings.TrimLeft(s, " \t\r\n")
		if s == "" {
			return ""
		}
		f.emitted = true
	}
	return s
}

// partialSuffix is the length of the longest proper prefix of tag that s
// ends with.
func partialSuffix(s, tag string) int {
	for k := len(tag) - 1; k > 0; k-- {
		if strings.HasSuffix(s, tag[:k]) {
			return k
		}
	}
	return 0
}
