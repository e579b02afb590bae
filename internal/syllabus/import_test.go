package syllabus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/model"
)

type fakeImporter struct {
	calls int
	got   []ledger.SyllabusEntry
}

func (f *fakeImporter) ImportSyllabus(_ context.Context, _ string, entries []ledger.SyllabusEntry) ([]model.AggregateEntry, error) {
	f.calls++
	if f.calls > 1 {
		return nil, ledger.NewError("import syllabus", ledger.ErrAlreadyInitialized, "profile already has topics")
	}
	f.got = entries
	return make([]model.AggregateEntry, len(entries)), nil
}

type memMeta map[string]string

func (m memMeta) GetMetadata(_ context.Context, key string) (string, error) { return m[key], nil }

func (m memMeta) SetMetadata(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func TestImportSkipsSameFile(t *testing.T) {
	ctx := context.Background()
	imp := &fakeImporter{}
	meta := memMeta{}
	data := []byte("Disciplina;Tópico\nPortuguês;Crase\nPortuguês;Regência\n")

	res, err := Import(ctx, imp, meta, "p1", data)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Topics)
	assert.False(t, res.Unchanged)
	assert.Len(t, res.SHA256, 64)
	assert.Equal(t, res.SHA256, meta[model.ImportHashKey("p1")])

	again, err := Import(ctx, imp, meta, "p1", data)
	require.NoError(t, err)
	assert.True(t, again.Unchanged)
	assert.Equal(t, 1, imp.calls)

	_, err = Import(ctx, imp, meta, "p1", append(data, "Português;Crase II\n"...))
	assert.ErrorIs(t, err, ledger.ErrAlreadyInitialized)
	assert.Equal(t, res.SHA256, meta[model.ImportHashKey("p1")])
}

func TestImportRejectsBadFile(t *testing.T) {
	imp := &fakeImporter{}
	meta := memMeta{}

	_, err := Import(context.Background(), imp, meta, "p1", []byte("Nome;Idade\nAna;30\n"))
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	assert.ErrorIs(t, err, ErrMissingColumn)
	assert.Zero(t, imp.calls)
	assert.Empty(t, meta)
}
