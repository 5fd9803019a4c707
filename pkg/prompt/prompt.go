// Package prompt renders prompt templates into chat messages for an
// llms.Model. Templates use f-string placeholders ({input}) rendered by
// langchaingo's prompts package.
package prompt

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

// HistoryKey is the conventional input key for prior conversation turns.
const HistoryKey = "chat_history"

// ErrMissingVariable is returned when a required template variable has no value.
var ErrMissingVariable = errors.New("missing template variable")

// Template turns input values into the messages sent to the model.
type Template interface {
	Format(values map[string]any) ([]llms.MessageContent, error)
	// InputVariables lists the variables the template needs, in order of
	// first appearance. History placeholders are not included.
	InputVariables() []string
	// Placeholders lists the history placeholders of the template.
	Placeholders() []string
}

// Text is a plain string template sent as a single human message.
type Text struct {
	tmpl prompts.PromptTemplate
}

func NewText(template string) Text {
	return Text{tmpl: newTemplate(template)}
}

func (t Text) Format(values map[string]any) ([]llms.MessageContent, error) {
	s, err := render(t.tmpl, values)
	if err != nil {
		return nil, err
	}
	return []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, s)}, nil
}

func (t Text) InputVariables() []string { return t.tmpl.InputVariables }

func (t Text) Placeholders() []string { return nil }

// String renders the template to a plain string.
func (t Text) String(values map[string]any) (string, error) {
	return render(t.tmpl, values)
}

// Part is one element of a chat template: either a role message template or
// a placeholder expanded from a list of prior messages.
type Part struct {
	Role        llms.ChatMessageType
	tmpl        prompts.PromptTemplate
	Placeholder string
}

func System(template string) Part {
	return Part{Role: llms.ChatMessageTypeSystem, tmpl: newTemplate(template)}
}

func Human(template string) Part {
	return Part{Role: llms.ChatMessageTypeHuman, tmpl: newTemplate(template)}
}

// History is a placeholder for prior turns stored under name. A missing
// value renders no messages.
func History(name string) Part {
	return Part{Placeholder: name}
}

// Chat is an ordered list of message templates and history placeholders.
type Chat struct {
	parts        []Part
	vars         []string
	placeholders []string
}

func NewChat(parts ...Part) Chat {
	c := Chat{parts: parts}
	seen := make(map[string]bool)
	for _, p := range parts {
		if p.Placeholder != "" {
			c.placeholders = append(c.placeholders, p.Placeholder)
			continue
		}
		for _, v := range p.tmpl.InputVariables {
			if !seen[v] {
				seen[v] = true
				c.vars = append(c.vars, v)
			}
		}
	}
	return c
}

func (c Chat) Format(values map[string]any) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(c.parts))
	for _, p := range c.parts {
		if p.Placeholder != "" {
			msgs, err := HistoryMessages(values[p.Placeholder])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p.Placeholder, err)
			}
			out = append(out, msgs...)
			continue
		}
		s, err := render(p.tmpl, values)
		if err != nil {
			return nil, err
		}
		out = append(out, llms.TextParts(p.Role, s))
	}
	return out, nil
}

func (c Chat) InputVariables() []string { return c.vars }

func (c Chat) Placeholders() []string { return c.placeholders }

// HistoryMessages converts a history value into model messages. It accepts
// nil, []llms.ChatMessage and []llms.MessageContent.
func HistoryMessages(v any) ([]llms.MessageContent, error) {
	switch h := v.(type) {
	case nil:
		return nil, nil
	case []llms.MessageContent:
		return h, nil
	case []llms.ChatMessage:
		out := make([]llms.MessageContent, 0, len(h))
		for _, m := range h {
			out = append(out, llms.TextParts(m.GetType(), m.GetContent()))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported history type %T", v)
	}
}

func newTemplate(template string) prompts.PromptTemplate {
	return prompts.PromptTemplate{
		Template:       template,
		InputVariables: Variables(template),
		TemplateFormat: prompts.TemplateFormatFString,
	}
}

func render(tmpl prompts.PromptTemplate, values map[string]any) (string, error) {
	for _, v := range tmpl.InputVariables {
		if _, ok := values[v]; !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingVariable, v)
		}
	}
	return tmpl.Format(values)
}

// Variables returns the f-string variables of template in order of first
// appearance. Doubled braces are literal.
func Variables(template string) []string {
	var vars []string
	seen := make(map[string]bool)
	rs := []rune(template)
	for i := 0; i < len(rs); i++ {
		switch rs[i] {
		case '{':
			if i+1 < len(rs) && rs[i+1] == '{' {
				i++
				continue
			}
			end := i + 1
			for end < len(rs) && rs[end] != '}' {
				end++
			}
			if end == len(rs) {
				return vars
			}
			name := string(rs[i+1 : end])
			if name != "" && !seen[name] {
				seen[name] = true
				vars = append(vars, name)
			}
			i = end
		case '}':
			if i+1 < len(rs) && rs[i+1] == '}' {
				i++
			}
		}
	}
	return vars
}
