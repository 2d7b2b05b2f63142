package dekaf

import (
	"context"

	"github.com/estuary/agent/internal/names"
)

// NoopJournalReader implements JournalReader by reporting every
// collection as caught up with no documents available. Opening a real
// Gazette journal read is out of scope (§1 Non-goals: "the streaming
// runtime itself"); this lets cmd/dekaf wire a complete Session without
// a live broker to read from, matching RecordSource's documented seam.
type NoopJournalReader struct{}

func (NoopJournalReader) ReadDocuments(ctx context.Context, collection names.Catalog, offset, maxBytes int64) ([]Document, int64, int64, error) {
	return nil, offset, offset, nil
}
