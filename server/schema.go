package server

import (
	"strings"

	"github.com/eino-contrib/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/xhad/chainserve/pkg/chain"
)

// InputSchema describes the object accepted as "input": every template
// variable is a string and every history placeholder a list of messages.
func InputSchema(name string, s chain.Schema) *jsonschema.Schema {
	props := orderedmap.New[string, *jsonschema.Schema]()
	for _, k := range s.Required {
		props.Set(k, &jsonschema.Schema{Title: title(k), Type: "string"})
	}
	for _, k := range s.Optional {
		props.Set(k, &jsonschema.Schema{Title: title(k), Type: "array", Items: messageSchema()})
	}
	return &jsonschema.Schema{
		Title:      title(name) + "Input",
		Type:       "object",
		Properties: props,
		Required:   s.Required,
	}
}

func OutputSchema(name string, s chain.Schema) *jsonschema.Schema {
	if !s.WithDocuments {
		return &jsonschema.Schema{Title: title(name) + "Output", Type: "string"}
	}
	return &jsonschema.Schema{
		Title: title(name) + "Output",
		Type:  "object",
		Properties: orderedmap.New[string, *jsonschema.Schema](
			orderedmap.WithInitialData[string, *jsonschema.Schema](
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key:   "answer",
					Value: &jsonschema.Schema{Title: "Answer", Type: "string"},
				},
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key:   "context",
					Value: &jsonschema.Schema{Title: "Context", Type: "array", Items: documentSchema()},
				},
			),
		),
	}
}

// ConfigSchema is empty: routes take no per-request configuration.
func ConfigSchema(name string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Title:      title(name) + "Config",
		Type:       "object",
		Properties: orderedmap.New[string, *jsonschema.Schema](),
	}
}

func messageSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Title: "Message",
		Type:  "object",
		Properties: orderedmap.New[string, *jsonschema.Schema](
			orderedmap.WithInitialData[string, *jsonschema.Schema](
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key:   "type",
					Value: &jsonschema.Schema{Title: "Type", Type: "string", Enum: []any{"human", "ai", "system"}},
				},
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key:   "content",
					Value: &jsonschema.Schema{Title: "Content", Type: "string"},
				},
			),
		),
		Required: []string{"type", "content"},
	}
}

func documentSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Title: "Document",
		Type:  "object",
		Properties: orderedmap.New[string, *jsonschema.Schema](
			orderedmap.WithInitialData[string, *jsonschema.Schema](
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key:   "page_content",
					Value: &jsonschema.Schema{Title: "Page Content", Type: "string"},
				},
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key:   "metadata",
					Value: &jsonschema.Schema{Title: "Metadata", Type: "object"},
				},
				orderedmap.Pair[string, *jsonschema.Schema]{
					Key:   "type",
					Value: &jsonschema.Schema{Title: "Type", Type: "string", Enum: []any{"Document"}},
				},
			),
		),
		Required: []string{"page_content"},
	}
}

// title turns "chat_history" into "Chat History" and "v1.chain" into
// "V1Chain".
func title(s string) string {
	sep := " "
	if !strings.Contains(s, "_") {
		sep = ""
	}
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '.' || r == '-' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, sep)
}
