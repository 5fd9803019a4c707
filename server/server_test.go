package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/xhad/chainserve/internal/llmtest"
	"github.com/xhad/chainserve/internal/models"
	"github.com/xhad/chainserve/pkg/config"
	"github.com/xhad/chainserve/pkg/llm"
	"github.com/xhad/chainserve/pkg/pipeline"
	"github.com/xhad/chainserve/pkg/store"
)

// echoInput answers with the text after "ORIGINAL TEXT:" so batch outputs
// can be matched to their inputs.
func echoInput(messages []llms.MessageContent) (string, error) {
	text := strings.TrimSpace(llmtest.LastHuman(messages))
	if i := strings.LastIndex(text, "\n"); i >= 0 {
		text = text[i+1:]
	}
	return "translated " + text, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	models := map[string]llms.Model{
		"llama3": &llmtest.Model{Reply: echoInput},
		"qa":     llmtest.Replying("LangSmith helps you test."),
		"broken": llmtest.Failing(llmtest.ErrUnavailable),
	}
	registry := llm.NewRegistry(llm.ModelConfig{Model: "llama3"}, func(cfg llm.ModelConfig) (llms.Model, error) {
		return models[cfg.Model], nil
	})

	st := store.NewMemory(&llmtest.Embedder{Dim: 256})
	_, err := st.AddDocuments(context.Background(), []schema.Document{
		{PageContent: "LangSmith can help you test LLM applications", Metadata: map[string]any{"source": "guide"}},
		{PageContent: "Bananas are yellow", Metadata: map[string]any{"source": "fruit"}},
	})
	require.NoError(t, err)

	qa := config.DefaultRoutes()[4]
	qa.Model = "qa"
	routes, err := pipeline.Build([]config.Route{
		config.DefaultRoutes()[0],
		qa,
		{Path: "/broken", Kind: config.KindChat, Template: "assistant", Model: "broken"},
	}, pipeline.Deps{
		Models:    registry,
		Retriever: vectorstores.ToRetriever(st, 1),
		LLM:       config.LLMConfig{MaxTokens: 100},
	})
	require.NoError(t, err)

	return New(Info{Title: "LangChain Server", Version: "1.0", Description: "test"}, routes)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestIndexAndHealth(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[models.HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, []string{"/chain", "/qa", "/broken"}, health.Routes)

	rec = do(t, s, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	index := decode[models.IndexResponse](t, rec)
	assert.Equal(t, "LangChain Server", index.Title)
	require.Len(t, index.Routes, 3)
	assert.Equal(t, "qa", index.Routes[1].Name)
	assert.Equal(t, config.KindRetrieval, index.Routes[1].Kind)
	assert.Contains(t, index.Routes[0].Endpoints, "/chain/invoke")
}

func TestInvoke(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []string{`{"input": "hello"}`, `{"input": {"input": "hello"}, "config": {}}`} {
		rec := do(t, s, http.MethodPost, "/chain/invoke", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Output   string             `json:"output"`
			Metadata models.RunMetadata `json:"metadata"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "translated hello", resp.Output)
		_, err := uuid.Parse(resp.Metadata.RunID)
		assert.NoError(t, err)
	}
}

func TestInvokeRetrieval(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/qa/invoke", `{"input": {"question": "how can langsmith help with testing?"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Output models.RetrievalOutput `json:"output"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "LangSmith helps you test.", resp.Output.Answer)
	require.Len(t, resp.Output.Context, 1)
	assert.Equal(t, "LangSmith can help you test LLM applications", resp.Output.Context[0].PageContent)
	assert.Equal(t, "guide", resp.Output.Context[0].Metadata["source"])
	assert.Equal(t, "Document", resp.Output.Context[0].Type)
}

func TestInvokeErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		path    string
		body    string
		status  int
		message string
	}{
		{"malformed json", "/chain/invoke", `{"input": `, http.StatusBadRequest, "invalid JSON body"},
		{"no input", "/chain/invoke", `{}`, http.StatusUnprocessableEntity, "missing input"},
		{"empty body", "/chain/invoke", ``, http.StatusUnprocessableEntity, "missing input"},
		{"missing key", "/chain/invoke", `{"input": {"text": "hello"}}`, http.StatusUnprocessableEntity, "missing input: input"},
		{"wrong type", "/chain/invoke", `{"input": 42}`, http.StatusUnprocessableEntity, "input must be a string or an object"},
		{"model failure", "/broken/invoke", `{"input": "hi"}`, http.StatusInternalServerError, "model backend unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			body := decode[map[string]any](t, rec)
			assert.Contains(t, body["message"], tt.message)
		})
	}
}

func TestBatch(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/chain/batch", `{"inputs": ["one", {"input": "two"}, "three"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Output   []string             `json:"output"`
		Metadata models.BatchMetadata `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"translated one", "translated two", "translated three"}, resp.Output)
	assert.Len(t, resp.Metadata.RunIDs, 3)

	rec = do(t, s, http.MethodPost, "/chain/batch", `{"inputs": ["one", {}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "inputs[1]")

	rec = do(t, s, http.MethodPost, "/broken/batch", `{"inputs": ["one"]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	return events
}

func TestStream(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/chain/stream", `{"input": "good morning"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := readEvents(t, rec.Body.String())
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "metadata", events[0].name)
	assert.Contains(t, events[0].data, "run_id")
	assert.Equal(t, "end", events[len(events)-1].name)

	var text strings.Builder
	for _, ev := range events[1 : len(events)-1] {
		require.Equal(t, "data", ev.name)
		var chunk string
		require.NoError(t, json.Unmarshal([]byte(ev.data), &chunk))
		text.WriteString(chunk)
	}
	assert.Equal(t, "translated good morning", text.String())
}

func TestStreamRetrieval(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/qa/stream", `{"input": "how can langsmith help with testing?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	events := readEvents(t, rec.Body.String())
	require.GreaterOrEqual(t, len(events), 4)
	last := events[len(events)-2]
	assert.Equal(t, "data", last.name)
	assert.Contains(t, last.data, `"context":[{"page_content":"LangSmith can help you test LLM applications"`)
	assert.Contains(t, events[1].data, `"answer"`)
}

func TestStreamErrors(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/broken/stream", `{"input": "hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	events := readEvents(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "error", events[1].name)

	var streamErr models.StreamError
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &streamErr))
	assert.Equal(t, http.StatusInternalServerError, streamErr.StatusCode)
	assert.Contains(t, streamErr.Message, "model backend unavailable")

	// invalid input is rejected before the stream starts
	rec = do(t, s, http.MethodPost, "/chain/stream", `{"input": {}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSchemas(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/qa/input_schema", "")
	require.Equal(t, http.StatusOK, rec.Code)
	input := decode[map[string]any](t, rec)
	assert.Equal(t, "QaInput", input["title"])
	assert.Equal(t, "object", input["type"])
	assert.Equal(t, []any{"question"}, input["required"])
	assert.Contains(t, input["properties"], "question")

	rec = do(t, s, http.MethodGet, "/qa/output_schema", "")
	output := decode[map[string]any](t, rec)
	assert.Equal(t, "object", output["type"])
	assert.Contains(t, output["properties"], "context")

	rec = do(t, s, http.MethodGet, "/chain/output_schema", "")
	output = decode[map[string]any](t, rec)
	assert.Equal(t, "ChainOutput", output["title"])
	assert.Equal(t, "string", output["type"])

	rec = do(t, s, http.MethodGet, "/chain/config_schema", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ChainConfig", decode[map[string]any](t, rec)["title"])
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Chat History", title("chat_history"))
	assert.Equal(t, "Chain", title("chain"))
	assert.Equal(t, "V1Chain", title("v1.chain"))
}

func TestWebsocket(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/chain/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "invoke", "data": "hello world"}))

	var frames []models.Message
	for {
		var msg models.Message
		require.NoError(t, conn.ReadJSON(&msg))
		frames = append(frames, msg)
		if msg.Type == "response" || msg.Type == "error" {
			break
		}
	}
	require.Equal(t, "metadata", frames[0].Type)
	last := frames[len(frames)-1]
	assert.Equal(t, "response", last.Type)
	assert.Equal(t, "translated hello world", last.Content)

	var streamed strings.Builder
	for _, f := range frames[1 : len(frames)-1] {
		assert.Equal(t, "stream", f.Type)
		assert.Equal(t, frames[0].RunID, f.RunID)
		streamed.WriteString(f.Content)
	}
	assert.Equal(t, last.Content, streamed.String())

	// bad frames get an error but keep the connection open
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var msg models.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "invoke", "data": map[string]any{}}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Content, "missing input")
}

func TestStartStopsOnCancel(t *testing.T) {
	s := New(Info{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
