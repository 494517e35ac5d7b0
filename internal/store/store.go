package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// Store wraps all Postgres access for documents, chunks and messages.
type Store struct {
	DB *sql.DB
}

// Document statuses persisted in the documents table.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Message roles persisted in the messages table.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultEmbeddingDimensions is the expected length of vectors stored in the
// chunks.embedding pgvector column.
const DefaultEmbeddingDimensions = 1536

// Document represents one uploaded file and its processing state.
type Document struct {
	ID            int64
	UserID        int64
	Filename      string
	FilePath      string
	FileSizeBytes int64
	Status        string
	UploadedAt    time.Time
	ProcessedAt   *time.Time
	ErrorMessage  *string
}

// Chunk is one contiguous span of a document's extracted text.
type Chunk struct {
	ID         int64
	DocumentID int64
	Content    string
	ChunkIndex int
	Embedding  *pgvector.Vector
	CreatedAt  time.Time
}

// ChunkSearchResult is a nearest-neighbor hit for a query vector.
type ChunkSearchResult struct {
	ChunkID    int64
	Content    string
	ChunkIndex int
	Distance   float64
}

// Message is one turn in a document's Q&A conversation.
type Message struct {
	ID         int64
	DocumentID int64
	UserID     int64
	Role       string
	Content    string
	Sources    json.RawMessage
	CreatedAt  time.Time
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.DB.Close() }

// User operations

// CreateUser inserts a user row; uniqueness violations surface as pq errors.
func (s *Store) CreateUser(ctx context.Context, email, hash string) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`,
		email, hash).Scan(&id)
	return id, err
}

// GetUserByEmail returns the id and password hash for a user.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (int64, string, error) {
	var (
		id   int64
		hash string
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return id, hash, err
}

// Document operations

// CreateDocument inserts a new document in pending status.
func (s *Store) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO documents (user_id, filename, file_path, file_size_bytes, status, uploaded_at)
VALUES ($1,$2,$3,$4,$5,NOW())
RETURNING id, uploaded_at`,
		doc.UserID, doc.Filename, doc.FilePath, doc.FileSizeBytes, StatusPending).
		Scan(&doc.ID, &doc.UploadedAt)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	doc.Status = StatusPending
	return doc, nil
}

const documentColumns = `id, user_id, filename, file_path, file_size_bytes, status, uploaded_at, processed_at, error_message`

func scanDocument(row interface{ Scan(...interface{}) error }) (Document, error) {
	var (
		doc         Document
		processedAt sql.NullTime
		errMsg      sql.NullString
	)
	err := row.Scan(&doc.ID, &doc.UserID, &doc.Filename, &doc.FilePath, &doc.FileSizeBytes,
		&doc.Status, &doc.UploadedAt, &processedAt, &errMsg)
	if err != nil {
		return Document{}, err
	}
	if processedAt.Valid {
		t := processedAt.Time
		doc.ProcessedAt = &t
	}
	if errMsg.Valid {
		m := errMsg.String
		doc.ErrorMessage = &m
	}
	return doc, nil
}

// GetDocument fetches a document by id. The bool indicates whether it exists.
func (s *Store) GetDocument(ctx context.Context, id int64) (Document, bool, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id=$1`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, err
	}
	return doc, true, nil
}

// GetDocumentForUser fetches a document scoped to its owner.
func (s *Store) GetDocumentForUser(ctx context.Context, id, userID int64) (Document, bool, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id=$1 AND user_id=$2`, id, userID)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, err
	}
	return doc, true, nil
}

// ListDocuments returns a user's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, userID int64) ([]Document, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id=$1 ORDER BY uploaded_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document owned by userID; chunks and messages
// cascade at the schema level. Returns false when no row matched.
func (s *Store) DeleteDocument(ctx context.Context, id, userID int64) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM documents WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkDocumentProcessing flips a pending document to processing. Returns
// false when the document was not in pending status, which means another
// invocation won the race.
func (s *Store) MarkDocumentProcessing(ctx context.Context, id int64) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET status=$2 WHERE id=$1 AND status=$3`,
		id, StatusProcessing, StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkDocumentFailed records a failure message and moves the document to
// failed status.
func (s *Store) MarkDocumentFailed(ctx context.Context, id int64, message string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET status=$2, error_message=$3 WHERE id=$1`,
		id, StatusFailed, message)
	return err
}

// ResetDocumentForRetry moves a failed document back to pending, clearing
// error_message and processed_at. Returns false when the document was not
// in failed status.
func (s *Store) ResetDocumentForRetry(ctx context.Context, id, userID int64) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET status=$3, error_message=NULL, processed_at=NULL WHERE id=$1 AND user_id=$2 AND status=$4`,
		id, userID, StatusPending, StatusFailed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ResetStaleProcessing returns documents stuck in processing since before
// cutoff to pending, recording message so users can see why. Returns the ids
// of the documents reset so callers can release per-document job state.
func (s *Store) ResetStaleProcessing(ctx context.Context, cutoff time.Time, message string) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx,
		`UPDATE documents SET status=$1, error_message=$2 WHERE status=$3 AND uploaded_at < $4 RETURNING id`,
		StatusPending, message, StatusProcessing, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Chunk operations

// InsertChunks stores the chunk contents for a document with contiguous
// indices starting at 0, embeddings left null. Returns the new chunk ids in
// index order.
func (s *Store) InsertChunks(ctx context.Context, documentID int64, contents []string) ([]int64, error) {
	if len(contents) == 0 {
		return nil, fmt.Errorf("no chunks to insert")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id=$1`, documentID); err != nil {
		return nil, fmt.Errorf("clear existing chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (document_id, content, chunk_index, created_at)
VALUES ($1,$2,$3,NOW())
RETURNING id`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(contents))
	for i, content := range contents {
		var id int64
		if err := stmt.QueryRowContext(ctx, documentID, content, i).Scan(&id); err != nil {
			return nil, fmt.Errorf("insert chunk %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// CompleteDocumentWithEmbeddings attaches one embedding per chunk id (by
// position) and marks the document completed with processed_at set, all in
// a single transaction.
func (s *Store) CompleteDocumentWithEmbeddings(ctx context.Context, documentID int64, chunkIDs []int64, vectors [][]float32) error {
	if len(chunkIDs) != len(vectors) {
		return fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunkIDs), len(vectors))
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE chunks SET embedding=$2::vector WHERE id=$1 AND document_id=$3`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, chunkID := range chunkIDs {
		vec := pgvector.NewVector(vectors[i])
		if _, err := stmt.ExecContext(ctx, chunkID, vec, documentID); err != nil {
			return fmt.Errorf("store embedding for chunk %d: %w", chunkID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET status=$2, processed_at=NOW(), error_message=NULL WHERE id=$1`,
		documentID, StatusCompleted); err != nil {
		return fmt.Errorf("mark document completed: %w", err)
	}
	return tx.Commit()
}

// SearchChunks returns the topK chunks of a document closest to the query
// vector by cosine distance. Only chunks with a stored embedding are
// considered; equal distances break ties by chunk index ascending.
func (s *Store) SearchChunks(ctx context.Context, documentID int64, vector []float32, topK int) ([]ChunkSearchResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 5
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, content, chunk_index, embedding <=> $1::vector AS distance
FROM chunks
WHERE document_id = $2 AND embedding IS NOT NULL
ORDER BY embedding <=> $1::vector, chunk_index
LIMIT $3
`, pgvector.NewVector(vector), documentID, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []ChunkSearchResult
	for rows.Next() {
		var res ChunkSearchResult
		if err := rows.Scan(&res.ChunkID, &res.Content, &res.ChunkIndex, &res.Distance); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// CountEmbeddedChunks reports how many of a document's chunks carry an
// embedding. A document is queryable only when this is non-zero.
func (s *Store) CountEmbeddedChunks(ctx context.Context, documentID int64) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id=$1 AND embedding IS NOT NULL`,
		documentID).Scan(&n)
	return n, err
}

// Message operations

// InsertMessage stores one conversation turn. Sources may be nil for
// user-role messages.
func (s *Store) InsertMessage(ctx context.Context, m Message) (Message, error) {
	var sources interface{}
	if len(m.Sources) > 0 {
		sources = []byte(m.Sources)
	}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO messages (document_id, user_id, role, content, sources, created_at)
VALUES ($1,$2,$3,$4,$5,NOW())
RETURNING id, created_at`,
		m.DocumentID, m.UserID, m.Role, m.Content, sources).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// ListMessages returns a document's conversation for its owner, oldest first.
func (s *Store) ListMessages(ctx context.Context, documentID, userID int64) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, document_id, user_id, role, content, sources, created_at
FROM messages
WHERE document_id=$1 AND user_id=$2
ORDER BY created_at ASC`, documentID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []Message
	for rows.Next() {
		var (
			m       Message
			sources []byte
		)
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.UserID, &m.Role, &m.Content, &sources, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(sources) > 0 {
			m.Sources = json.RawMessage(sources)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
