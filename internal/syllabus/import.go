package syllabus

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/model"
)

// Importer seeds a profile's aggregates from syllabus entries.
type Importer interface {
	ImportSyllabus(ctx context.Context, profileID string, entries []ledger.SyllabusEntry) ([]model.AggregateEntry, error)
}

// Metadata stores the hash of the last imported file.
type Metadata interface {
	GetMetadata(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error
}

// ImportResult reports the outcome of Import.
type ImportResult struct {
	Topics    int    `json:"topics"`
	Unchanged bool   `json:"unchanged"`
	SHA256    string `json:"sha256"`
}

// Import parses data and seeds the profile with it. A file identical to the
// one already imported is skipped.
func Import(ctx context.Context, imp Importer, meta Metadata, profileID string, data []byte) (ImportResult, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	res := ImportResult{SHA256: hash}

	stored, err := meta.GetMetadata(ctx, model.ImportHashKey(profileID))
	if err != nil {
		return res, fmt.Errorf("read import hash: %w", err)
	}
	if stored == hash {
		slog.Info("syllabus unchanged, skipping import", "profile", profileID, "sha256", hash)
		res.Unchanged = true
		return res, nil
	}

	entries, err := Read(bytes.NewReader(data))
	if err != nil {
		return res, &ledger.Error{Op: "import syllabus", Kind: ledger.ErrInvalidInput, Err: err}
	}
	topics, err := imp.ImportSyllabus(ctx, profileID, entries)
	if err != nil {
		return res, err
	}
	if err := meta.SetMetadata(ctx, model.ImportHashKey(profileID), hash); err != nil {
		return res, fmt.Errorf("store import hash: %w", err)
	}
	res.Topics = len(topics)
	return res, nil
}
