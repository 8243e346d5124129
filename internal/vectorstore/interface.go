package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_store.go -package=mocks docsync/internal/vectorstore VectorStore

import "context"

// Point represents a vector point with its filterable payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Payload keys attached to every point.
const (
	PayloadTenantID   = "tenant_id"
	PayloadDocumentID = "document_id"
	PayloadFilePath   = "file_path"
	PayloadFileType   = "file_type"
	PayloadCreatedAt  = "created_at"
	PayloadChunkIndex = "chunk_index"
	PayloadChunkTotal = "chunk_total"
	PayloadPreview    = "preview"
)

// VectorStore defines the operations the sync engine needs from the vector
// index. One logical collection per tenant.
type VectorStore interface {
	// EnsureCollection creates the collection if missing and validates the
	// vector size if present.
	EnsureCollection(ctx context.Context, collection string, dim int) error

	// Upsert inserts or overwrites points by ID.
	Upsert(ctx context.Context, collection string, points []Point) error

	// DeletePoints removes points by their IDs.
	DeletePoints(ctx context.Context, collection string, ids []string) error

	// DeleteByDocument removes every point belonging to a document.
	DeleteByDocument(ctx context.Context, collection, documentID string) error

	// CountByDocument returns the number of live points for a document.
	CountByDocument(ctx context.Context, collection, documentID string) (int, error)
}
