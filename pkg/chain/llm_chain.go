package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/RanFeng/ilog"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/chainserve/pkg/prompt"
)

// LLMChain is prompt | model | parser.
type LLMChain struct {
	name    string
	prompt  prompt.Template
	model   llms.Model
	parser  Parser
	options []llms.CallOption
	primary string
}

var _ Runnable = (*LLMChain)(nil)

type Option func(*LLMChain)

func WithName(name string) Option {
	return func(c *LLMChain) { c.name = name }
}

func WithParser(p Parser) Option {
	return func(c *LLMChain) { c.parser = p }
}

// WithCallOptions adds model call options such as llms.WithTemperature.
func WithCallOptions(opts ...llms.CallOption) Option {
	return func(c *LLMChain) { c.options = append(c.options, opts...) }
}

// WithPrimary sets the key a bare string input is assigned to.
func WithPrimary(key string) Option {
	return func(c *LLMChain) { c.primary = key }
}

func NewLLMChain(model llms.Model, tmpl prompt.Template, opts ...Option) *LLMChain {
	c := &LLMChain{
		name:   "llm_chain",
		prompt: tmpl,
		model:  model,
		parser: NewStrParser(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.primary == "" && len(tmpl.InputVariables()) > 0 {
		c.primary = tmpl.InputVariables()[0]
	}
	return c
}

func (c *LLMChain) Name() string { return c.name }

func (c *LLMChain) Schema() Schema {
	return Schema{
		Required: c.prompt.InputVariables(),
		Optional: c.prompt.Placeholders(),
		Primary:  c.primary,
	}
}

func (c *LLMChain) Invoke(ctx context.Context, input Input) (Output, error) {
	ctx, span := startSpan(ctx, "chain.invoke", c.name)
	out, err := c.run(ctx, input, nil)
	endSpan(span, err)
	return out, err
}

func (c *LLMChain) Stream(ctx context.Context, input Input, fn StreamFunc) (Output, error) {
	ctx, span := startSpan(ctx, "chain.stream", c.name)
	out, err := c.run(ctx, input, fn)
	endSpan(span, err)
	return out, err
}

func (c *LLMChain) run(ctx context.Context, input Input, fn StreamFunc) (Output, error) {
	if err := c.Schema().Validate(input); err != nil {
		return Output{}, err
	}

	messages, err := c.prompt.Format(input)
	if err != nil {
		if errors.Is(err, prompt.ErrMissingVariable) {
			return Output{}, fmt.Errorf("%w: %v", ErrMissingInput, err)
		}
		return Output{}, fmt.Errorf("format prompt: %w", err)
	}

	opts := c.options
	var filter StreamFilter
	if fn != nil {
		filter = c.parser.NewStream()
		opts = append(append([]llms.CallOption(nil), c.options...),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				if s := filter.Push(string(chunk)); s != "" {
					return fn(ctx, s)
				}
				return nil
			}))
	}

	ilog.EventDebug(ctx, "chain_generate", "chain", c.name, "messages", len(messages), "stream", fn != nil)

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		ilog.EventError(ctx, err, "chain_generate_error", "chain", c.name)
		return Output{}, fmt.Errorf("%s: generate: %w", c.name, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Output{}, fmt.Errorf("%s: empty response from model", c.name)
	}

	if filter != nil {
		if tail := filter.Flush(); tail != "" {
			if err := fn(ctx, tail); err != nil {
				return Output{}, err
			}
		}
	}

	text, err := c.parser.Parse(resp.Choices[0].Content)
	if err != nil {
		return Output{}, fmt.Errorf("%s: parse output: %w", c.name, err)
	}
	return Output{Text: text}, nil
}
