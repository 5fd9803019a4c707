package prompt

import (
	"fmt"
	"sort"
)

const translateInstructions = `Please translate some text. If the original text is in English, translate into Simplified Chinese, otherwise, translate into English. The output should include:
1. The original text and its language.
2. The target text and its language.
If possible, some cultural or contextual adjustments can be applied, to make it more idiomatic.`

// ragInstructions lets the model fall back to general knowledge when the
// retrieved context is unrelated to the question.
const ragInstructions = `I will ask you a question and will provide some additional context information.
Assume this context information is factual and correct, as part of internal
documentation.
If the question relates to the context, answer it using the context.
If the question does not relate to the context, answer it as normal.

For example, let's say the context has nothing in it about tropical flowers;
then if I ask you about tropical flowers, just answer what you know about them
without referring to the context.

For example, if the context does mention minerology and I ask you about that,
provide information from the context along with general knowledge.`

const searchQueryInstruction = "Given the above conversation, generate a search query to look up to get information relevant to the conversation"

var catalog = map[string]func() Template{
	// bilingual translation as a single string prompt
	"translate": func() Template {
		return NewText(translateInstructions + "\n\nORIGINAL TEXT:\n{input}\n")
	},
	"translate_chat": func() Template {
		return NewChat(
			System(translateInstructions),
			Human("我的文本 {text}"),
		)
	},
	"search_query": func() Template {
		return NewChat(
			History(HistoryKey),
			Human("{input}"),
			Human(searchQueryInstruction),
		)
	},
	"context_qa": func() Template {
		return NewText("Answer the following question based only on the provided context:\n\n<context>\n{context}\n</context>\n\nQuestion: {question}")
	},
	"context_chat": func() Template {
		return NewChat(
			System("Answer the user's questions based on the below context:\n\n{context}"),
			History(HistoryKey),
			Human("{input}"),
		)
	},
	"rag_query": func() Template {
		return NewText(ragInstructions + "\n\nQuestion:\n{input}\n\nContext:\n{context}\n")
	},
	"assistant": func() Template {
		return NewChat(
			System("You are a helpful assistant. Answer in the language of the question."),
			History(HistoryKey),
			Human("{input}"),
		)
	},
}

// Lookup returns the named catalog template.
func Lookup(name string) (Template, error) {
	build, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", name)
	}
	return build(), nil
}

// Names lists the catalog in sorted order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for n := range catalog {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SearchQuery is the template used to turn a conversation into a retrieval
// query.
func SearchQuery() Template {
	return catalog["search_query"]()
}

// Inline builds a chat template from config-supplied messages. An empty
// system message is skipped; when history is set a chat_history placeholder
// follows the system message.
func Inline(system string, user []string, history bool) Template {
	var parts []Part
	if system != "" {
		parts = append(parts, System(system))
	}
	if history {
		parts = append(parts, History(HistoryKey))
	}
	for _, u := range user {
		parts = append(parts, Human(u))
	}
	return NewChat(parts...)
}
