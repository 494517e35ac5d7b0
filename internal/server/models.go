package server

import (
	"encoding/json"
	"time"

	"github.com/quaero-ai/quaero/internal/store"
)

// HTTPError is the JSON error body returned by all endpoints.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type DocumentResponse struct {
	ID            int64      `json:"id"`
	Filename      string     `json:"filename"`
	FileSizeBytes int64      `json:"file_size_bytes"`
	Status        string     `json:"status"`
	UploadedAt    time.Time  `json:"uploaded_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
}

func toDocumentResponse(d store.Document) DocumentResponse {
	return DocumentResponse{
		ID:            d.ID,
		Filename:      d.Filename,
		FileSizeBytes: d.FileSizeBytes,
		Status:        d.Status,
		UploadedAt:    d.UploadedAt,
		ProcessedAt:   d.ProcessedAt,
		ErrorMessage:  d.ErrorMessage,
	}
}

type ProcessResponse struct {
	ID      int64  `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type SearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type QueryRequest struct {
	Query string `json:"query"`
}

type QueryResponse struct {
	Answer  string      `json:"answer"`
	Sources interface{} `json:"sources"`
}

type MessageResponse struct {
	ID        int64           `json:"id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Sources   json.RawMessage `json:"sources,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func toMessageResponse(m store.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		Sources:   m.Sources,
		CreatedAt: m.CreatedAt,
	}
}
