package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/RanFeng/ilog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xhad/chainserve/internal/models"
	"github.com/xhad/chainserve/pkg/chain"
	"github.com/xhad/chainserve/pkg/pipeline"
)

// wsConn serialises writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(ctx context.Context, msg models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		ilog.EventWarn(ctx, "ws_send_failed", "type", msg.Type, "err", err)
		return err
	}
	return nil
}

// websocket runs each {"type":"invoke","data":X} frame as a streamed
// invocation: a metadata frame, stream frames per chunk, then a response
// frame. Frames on one connection are handled in order.
func (s *Server) websocket(r pipeline.Route) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			ilog.EventWarn(c.Request().Context(), "ws_upgrade_failed", "route", r.Path, "err", err)
			return nil
		}
		defer conn.Close()

		ctx := c.Request().Context()
		ws := &wsConn{conn: conn}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					ilog.EventDebug(ctx, "ws_read_stopped", "route", r.Path, "err", err)
				}
				return nil
			}

			var msg models.ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = ws.send(ctx, models.Message{Type: "error", Content: "invalid message: " + err.Error()})
				continue
			}
			if msg.Type != "invoke" {
				_ = ws.send(ctx, models.Message{Type: "error", Content: "unknown message type " + msg.Type})
				continue
			}
			if err := s.handleMessage(ctx, ws, r, msg); err != nil {
				return nil
			}
		}
	}
}

// handleMessage returns an error only when the connection is unusable.
func (s *Server) handleMessage(ctx context.Context, ws *wsConn, r pipeline.Route, msg models.ClientMessage) error {
	schema := r.Chain.Schema()
	input, err := chain.ParseInput(msg.Data, schema)
	if err == nil {
		err = schema.Validate(input)
	}
	if err != nil {
		return ws.send(ctx, models.Message{Type: "error", Content: err.Error()})
	}

	runID := uuid.NewString()
	if err := ws.send(ctx, models.Message{Type: "metadata", RunID: runID}); err != nil {
		return err
	}

	var sendErr error
	out, err := r.Chain.Stream(ctx, input, func(ctx context.Context, chunk string) error {
		sendErr = ws.send(ctx, models.Message{Type: "stream", Content: chunk, RunID: runID})
		return sendErr
	})
	if sendErr != nil {
		return sendErr
	}
	if err != nil {
		ilog.EventError(ctx, err, "ws_invoke_failed", "route", r.Path, "run_id", runID)
		return ws.send(ctx, models.Message{Type: "error", Content: err.Error(), RunID: runID})
	}

	resp := models.Message{Type: "response", Content: out.Text, RunID: runID}
	if schema.WithDocuments {
		resp.Data = models.FromSchema(out.Documents)
	}
	return ws.send(ctx, resp)
}
