package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/RanFeng/ilog"
	"github.com/labstack/echo/v4"
	"github.com/tmc/langchaingo/schema"

	"github.com/xhad/chainserve/internal/models"
)

// addDocuments embeds the posted documents and adds them to the document
// store. Documents without a source are keyed by their text, so posting the
// same text twice replaces the first copy.
func (s *Server) addDocuments(c echo.Context) error {
	var req models.AddRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "documents must not be empty")
	}

	docs := make([]schema.Document, len(req.Documents))
	for i, d := range req.Documents {
		if strings.TrimSpace(d.Text) == "" {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("documents[%d].text must not be empty", i))
		}
		docs[i] = schema.Document{PageContent: d.Text, Metadata: d.Metadata}
	}

	ctx := c.Request().Context()
	ids, err := s.docs.AddDocuments(ctx, docs)
	if err != nil {
		ilog.EventError(ctx, err, "add_documents_failed", "count", len(docs))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	ilog.EventInfo(ctx, "documents_added", "count", len(ids))
	return c.JSON(http.StatusOK, models.AddResponse{IDs: ids, Count: len(ids)})
}
