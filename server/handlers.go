package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/RanFeng/ilog"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/xhad/chainserve/internal/models"
	"github.com/xhad/chainserve/pkg/chain"
	"github.com/xhad/chainserve/pkg/pipeline"
)

// batchConcurrency bounds the inputs of one batch request run at once.
const batchConcurrency = 4

func (s *Server) invoke(r pipeline.Route) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req models.InvokeRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}
		input, err := parseInput(req.Input, r.Chain.Schema())
		if err != nil {
			return err
		}

		ctx := c.Request().Context()
		runID := uuid.NewString()
		ilog.EventDebug(ctx, "invoke", "route", r.Path, "run_id", runID)

		out, err := r.Chain.Invoke(ctx, input)
		if err != nil {
			return chainError(ctx, r, err)
		}
		return c.JSON(http.StatusOK, models.InvokeResponse{
			Output:   outputValue(r.Chain.Schema(), out),
			Metadata: models.RunMetadata{RunID: runID},
		})
	}
}

func (s *Server) batch(r pipeline.Route) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req models.BatchRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}

		schema := r.Chain.Schema()
		inputs := make([]chain.Input, len(req.Inputs))
		for i, raw := range req.Inputs {
			input, err := parseInput(raw, schema)
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					he.Message = fmt.Sprintf("inputs[%d]: %v", i, he.Message)
				}
				return err
			}
			inputs[i] = input
		}

		ctx := c.Request().Context()
		outputs := make([]any, len(inputs))
		runIDs := make([]string, len(inputs))
		errs := make([]error, len(inputs))

		var wg sync.WaitGroup
		sem := make(chan struct{}, batchConcurrency)
		for i, input := range inputs {
			runIDs[i] = uuid.NewString()
			wg.Add(1)
			go func(i int, input chain.Input) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				out, err := r.Chain.Invoke(ctx, input)
				if err != nil {
					errs[i] = err
					return
				}
				outputs[i] = outputValue(schema, out)
			}(i, input)
		}
		wg.Wait()

		if err := errors.Join(errs...); err != nil {
			return chainError(ctx, r, err)
		}
		return c.JSON(http.StatusOK, models.BatchResponse{
			Output:   outputs,
			Metadata: models.BatchMetadata{RunIDs: runIDs},
		})
	}
}

// stream answers with Server-Sent Events: one metadata event, a data event
// per chunk and a final end event. Failures after the stream has started
// are reported as an error event.
func (s *Server) stream(r pipeline.Route) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req models.InvokeRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}
		schema := r.Chain.Schema()
		input, err := parseInput(req.Input, schema)
		if err != nil {
			return err
		}

		ctx := c.Request().Context()
		runID := uuid.NewString()
		w := newEventWriter(c.Response())
		if err := w.send("metadata", models.RunMetadata{RunID: runID}); err != nil {
			return nil
		}

		out, err := r.Chain.Stream(ctx, input, func(ctx context.Context, chunk string) error {
			if schema.WithDocuments {
				return w.send("data", map[string]string{"answer": chunk})
			}
			return w.send("data", chunk)
		})
		if err != nil {
			status := statusOf(err)
			ilog.EventError(ctx, err, "stream_failed", "route", r.Path, "run_id", runID)
			_ = w.send("error", models.StreamError{StatusCode: status, Message: err.Error()})
			return nil
		}
		if schema.WithDocuments {
			if err := w.send("data", map[string]any{"context": models.FromSchema(out.Documents)}); err != nil {
				return nil
			}
		}
		_ = w.send("end", nil)
		return nil
	}
}

func (s *Server) inputSchema(r pipeline.Route) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, InputSchema(r.Chain.Name(), r.Chain.Schema()))
	}
}

func (s *Server) outputSchema(r pipeline.Route) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, OutputSchema(r.Chain.Name(), r.Chain.Schema()))
	}
}

func (s *Server) configSchema(r pipeline.Route) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, ConfigSchema(r.Chain.Name()))
	}
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched so
// the missing input is reported by validation.
func decodeBody(c echo.Context, v any) error {
	err := json.NewDecoder(c.Request().Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
}

func parseInput(raw json.RawMessage, schema chain.Schema) (chain.Input, error) {
	input, err := chain.ParseInput(raw, schema)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if err := schema.Validate(input); err != nil {
		return nil, echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return input, nil
}

func outputValue(schema chain.Schema, out chain.Output) any {
	if schema.WithDocuments {
		return models.RetrievalOutput{Answer: out.Text, Context: models.FromSchema(out.Documents)}
	}
	return out.Text
}

func statusOf(err error) int {
	if errors.Is(err, chain.ErrMissingInput) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func chainError(ctx context.Context, r pipeline.Route, err error) error {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		ilog.EventError(ctx, err, "chain_failed", "route", r.Path)
	}
	return echo.NewHTTPError(status, err.Error())
}
