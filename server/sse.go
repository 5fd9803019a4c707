package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// eventWriter writes Server-Sent Events, flushing after every event.
type eventWriter struct {
	resp    *echo.Response
	started bool
}

func newEventWriter(resp *echo.Response) *eventWriter {
	return &eventWriter{resp: resp}
}

func (w *eventWriter) send(event string, data any) error {
	if !w.started {
		h := w.resp.Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set(echo.HeaderCacheControl, "no-cache")
		h.Set(echo.HeaderConnection, "keep-alive")
		w.resp.WriteHeader(http.StatusOK)
		w.started = true
	}

	var err error
	if data == nil {
		_, err = fmt.Fprintf(w.resp, "event: %s\n\n", event)
	} else {
		var b []byte
		b, err = json.Marshal(data)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w.resp, "event: %s\ndata: %s\n\n", event, b)
	}
	if err != nil {
		return err
	}
	w.resp.Flush()
	return nil
}
