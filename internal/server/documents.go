package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/quaero-ai/quaero/internal/queue"
	"github.com/quaero-ai/quaero/internal/rag"
	"github.com/quaero-ai/quaero/internal/store"
)

// JobBroker stages document jobs; see queue.Broker.
type JobBroker interface {
	Enqueue(ctx context.Context, documentID int64) (bool, error)
}

// DocumentsHandler serves upload, lifecycle, search, and Q&A endpoints.
type DocumentsHandler struct {
	Store      *store.Store
	Broker     JobBroker
	Searcher   *rag.Searcher
	Answerer   *rag.Answerer
	UploadDir  string
	MaxBytes   int64
	AllowedExt []string
	Logger     *log.Logger
}

func (h *DocumentsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("", h.upload)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/process", h.process)
	g.POST("/:id/retry", h.retry)
	g.POST("/:id/search", h.search)
	g.POST("/:id/query", h.query)
	g.GET("/:id/messages", h.messages)
}

func (h *DocumentsHandler) upload(c echo.Context) error {
	userID := currentUserID(c)
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !h.extensionAllowed(ext) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("file type %q is not supported", ext))
	}
	if h.MaxBytes > 0 && fh.Size > h.MaxBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds the %d byte limit", h.MaxBytes))
	}

	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	if err := os.MkdirAll(h.UploadDir, 0o755); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	// A random stored name keeps user filenames out of the filesystem.
	storedPath := filepath.Join(h.UploadDir, uuid.NewString()+ext)
	dst, err := os.Create(storedPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	written, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(storedPath)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	doc, err := h.Store.CreateDocument(c.Request().Context(), store.Document{
		UserID:        userID,
		Filename:      fh.Filename,
		FilePath:      storedPath,
		FileSizeBytes: written,
	})
	if err != nil {
		_ = os.Remove(storedPath)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.Logger.Printf("user %d uploaded document %d (%q, %d bytes)", userID, doc.ID, doc.Filename, written)
	return c.JSON(http.StatusCreated, toDocumentResponse(doc))
}

func (h *DocumentsHandler) list(c echo.Context) error {
	docs, err := h.Store.ListDocuments(c.Request().Context(), currentUserID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *DocumentsHandler) get(c echo.Context) error {
	doc, err := h.ownedDocument(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toDocumentResponse(doc))
}

func (h *DocumentsHandler) delete(c echo.Context) error {
	doc, err := h.ownedDocument(c)
	if err != nil {
		return err
	}
	deleted, err := h.Store.DeleteDocument(c.Request().Context(), doc.ID, currentUserID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !deleted {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
			h.Logger.Printf("remove stored file for document %d: %v", doc.ID, err)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// process stages a pending document for ingestion. Documents in any other
// state are rejected; failed ones go through retry instead.
func (h *DocumentsHandler) process(c echo.Context) error {
	doc, err := h.ownedDocument(c)
	if err != nil {
		return err
	}
	switch doc.Status {
	case store.StatusPending:
	case store.StatusFailed:
		return echo.NewHTTPError(http.StatusBadRequest, "document failed previously; use retry")
	default:
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("document is %s and cannot be processed", doc.Status))
	}
	return h.enqueue(c, doc.ID)
}

// retry flips a failed document back to pending and stages it again.
func (h *DocumentsHandler) retry(c echo.Context) error {
	doc, err := h.ownedDocument(c)
	if err != nil {
		return err
	}
	reset, err := h.Store.ResetDocumentForRetry(c.Request().Context(), doc.ID, currentUserID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !reset {
		return echo.NewHTTPError(http.StatusBadRequest, "only failed documents can be retried")
	}
	return h.enqueue(c, doc.ID)
}

func (h *DocumentsHandler) enqueue(c echo.Context, documentID int64) error {
	ctx := c.Request().Context()
	queued, err := h.Broker.Enqueue(ctx, documentID)
	if err != nil {
		if errors.Is(err, queue.ErrBrokerUnavailable) {
			// Record the failure so the document is not silently stuck.
			failCtx := context.WithoutCancel(ctx)
			if markErr := h.Store.MarkDocumentFailed(failCtx, documentID,
				"Processing could not be scheduled: job queue unavailable."); markErr != nil {
				h.Logger.Printf("mark document %d failed: %v", documentID, markErr)
			}
			return echo.NewHTTPError(http.StatusServiceUnavailable, "job queue unavailable, try again later")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	msg := "processing queued"
	if !queued {
		msg = "processing already queued"
	}
	return c.JSON(http.StatusAccepted, ProcessResponse{ID: documentID, Status: store.StatusPending, Message: msg})
}

func (h *DocumentsHandler) search(c echo.Context) error {
	doc, err := h.queryableDocument(c)
	if err != nil {
		return err
	}
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	results, err := h.Searcher.Search(c.Request().Context(), doc.ID, req.Query, req.TopK)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"query":   req.Query,
		"results": results,
	})
}

func (h *DocumentsHandler) query(c echo.Context) error {
	doc, err := h.queryableDocument(c)
	if err != nil {
		return err
	}
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	ctx := c.Request().Context()
	userID := currentUserID(c)

	results, err := h.Searcher.Search(ctx, doc.ID, req.Query, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	answer, err := h.Answerer.Answer(ctx, req.Query, results)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	sources, err := json.Marshal(results)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if _, err := h.Store.InsertMessage(ctx, store.Message{
		DocumentID: doc.ID, UserID: userID, Role: store.RoleUser, Content: req.Query,
	}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if _, err := h.Store.InsertMessage(ctx, store.Message{
		DocumentID: doc.ID, UserID: userID, Role: store.RoleAssistant, Content: answer,
		Sources: sources,
	}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, QueryResponse{Answer: answer, Sources: results})
}

func (h *DocumentsHandler) messages(c echo.Context) error {
	doc, err := h.ownedDocument(c)
	if err != nil {
		return err
	}
	msgs, err := h.Store.ListMessages(c.Request().Context(), doc.ID, currentUserID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return c.JSON(http.StatusOK, out)
}

// ownedDocument loads the path document and checks ownership.
func (h *DocumentsHandler) ownedDocument(c echo.Context) (store.Document, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return store.Document{}, echo.NewHTTPError(http.StatusBadRequest, "invalid document id")
	}
	doc, found, err := h.Store.GetDocumentForUser(c.Request().Context(), id, currentUserID(c))
	if err != nil {
		return store.Document{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return store.Document{}, echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	return doc, nil
}

// queryableDocument additionally requires completed processing with at least
// one embedded chunk.
func (h *DocumentsHandler) queryableDocument(c echo.Context) (store.Document, error) {
	doc, err := h.ownedDocument(c)
	if err != nil {
		return store.Document{}, err
	}
	if doc.Status != store.StatusCompleted {
		return store.Document{}, echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("document is %s; it must finish processing before it can be queried", doc.Status))
	}
	n, err := h.Store.CountEmbeddedChunks(c.Request().Context(), doc.ID)
	if err != nil {
		return store.Document{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if n == 0 {
		return store.Document{}, echo.NewHTTPError(http.StatusBadRequest, "document has no embedded chunks")
	}
	return doc, nil
}

func (h *DocumentsHandler) extensionAllowed(ext string) bool {
	if len(h.AllowedExt) == 0 {
		return ext == ".pdf"
	}
	for _, allowed := range h.AllowedExt {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}
