// Package models holds the wire types of the HTTP and websocket API.
package models

import (
	"encoding/json"

	"github.com/tmc/langchaingo/schema"
)

// Document is a retrieved document as returned to clients.
type Document struct {
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata"`
	Type        string         `json:"type"`
}

func FromSchema(docs []schema.Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		metadata := d.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		out[i] = Document{PageContent: d.PageContent, Metadata: metadata, Type: "Document"}
	}
	return out
}

type InvokeRequest struct {
	Input  json.RawMessage `json:"input"`
	Config map[string]any  `json:"config,omitempty"`
	Kwargs map[string]any  `json:"kwargs,omitempty"`
}

type BatchRequest struct {
	Inputs []json.RawMessage `json:"inputs"`
	Config map[string]any    `json:"config,omitempty"`
}

type RunMetadata struct {
	RunID string `json:"run_id"`
}

type InvokeResponse struct {
	Output   any         `json:"output"`
	Metadata RunMetadata `json:"metadata"`
}

type BatchMetadata struct {
	RunIDs []string `json:"run_ids"`
}

type BatchResponse struct {
	Output   []any         `json:"output"`
	Metadata BatchMetadata `json:"metadata"`
}

// RetrievalOutput is the output of chains that answer from retrieved
// documents.
type RetrievalOutput struct {
	Answer  string     `json:"answer"`
	Context []Document `json:"context"`
}

// StreamError is the payload of an SSE error event.
type StreamError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

// ClientMessage is a websocket request frame: {"type":"invoke","data":...}.
type ClientMessage struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Config map[string]any  `json:"config,omitempty"`
}

// Message is a websocket frame sent to the client. Type is one of
// "metadata", "stream", "response" or "error".
type Message struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Data    any    `json:"data,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

type RouteInfo struct {
	Path      string   `json:"path"`
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Endpoints []string `json:"endpoints"`
}

type IndexResponse struct {
	Title       string      `json:"title"`
	Version     string      `json:"version"`
	Description string      `json:"description"`
	Routes      []RouteInfo `json:"routes"`
}

type HealthResponse struct {
	Status string   `json:"status"`
	Routes []string `json:"routes"`
}

// AddDocument is one document posted to /add.
type AddDocument struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type AddRequest struct {
	Documents []AddDocument `json:"documents"`
}

type AddResponse struct {
	IDs   []string `json:"ids"`
	Count int      `json:"count"`
}
