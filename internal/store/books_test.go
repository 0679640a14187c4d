package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lectern/internal/entity"
)

func TestCreateBook_Defaults(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	book, err := s.CreateBook(ctx, "file:///books/dune.epub", "Dune")
	require.NoError(t, err)

	assert.Equal(t, "id-1", book.ID)
	assert.Equal(t, "Dune", book.Title)
	assert.Empty(t, book.CfiLocation)
	assert.Equal(t, 0, book.Page)
	assert.Equal(t, 0, book.TotalPages)
	assert.Equal(t, []float64{}, book.SectionsPercentages)
	assert.False(t, book.HasInitialLocations())
}

func TestCreateBook_SameURIReturnsExisting(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, err := s.CreateBook(ctx, "file:///a.epub", "A")
	require.NoError(t, err)
	second, err := s.CreateBook(ctx, "file:///a.epub", "A again")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "A", second.Title)
}

func TestBook_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Book(context.Background(), "missing")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestChangeCfiLocation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	book := createTestBook(t, s, "file:///a.epub", 10)

	require.NoError(t, s.ChangeCfiLocation(ctx, book.ID, "epubcfi(/6/4!/4/2)"))

	got, err := s.Book(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, "epubcfi(/6/4!/4/2)", got.CfiLocation)
	assert.Equal(t, "epubcfi(/6/4!/4/2)", got.StartLocation())
}

func TestChangeCfiLocation_UnknownBook(t *testing.T) {
	s := createTestStore(t)

	err := s.ChangeCfiLocation(context.Background(), "missing", "x")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestChangeCurrentPage_WritesPageAndProgress(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	book := createTestBook(t, s, "file:///a.epub", 100)

	require.NoError(t, s.ChangeCurrentPage(ctx, book.ID, 40, entity.ProgressOf(40, 100)))

	got, err := s.Book(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Page)
	assert.InDelta(t, 0.4, got.Progress, 1e-9)
}

func TestChangeCurrentPage_RejectsPageBeyondTotal(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	book := createTestBook(t, s, "file:///a.epub", 10)

	err := s.ChangeCurrentPage(ctx, book.ID, 11, 1.1)
	assert.ErrorIs(t, err, entity.ErrInvalidPage)

	err = s.ChangeCurrentPage(ctx, book.ID, -1, 0)
	assert.ErrorIs(t, err, entity.ErrInvalidPage)

	got, err := s.Book(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Page)
}

func TestChangePagination_Atomic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	book := createTestBook(t, s, "file:///a.epub", 100)
	require.NoError(t, s.ChangeCurrentPage(ctx, book.ID, 100, 1))

	// Shrinking and moving the page in one statement never violates the CHECK.
	require.NoError(t, s.ChangePagination(ctx, book.ID, 50, 50, 1))

	got, err := s.Book(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.TotalPages)
	assert.Equal(t, 50, got.Page)
}

func TestChangePagination_Invalid(t *testing.T) {
	s := createTestStore(t)
	book := createTestBook(t, s, "file:///a.epub", 10)

	err := s.ChangePagination(context.Background(), book.ID, 10, 11, 1)
	assert.ErrorIs(t, err, entity.ErrInvalidPage)
}

func TestChangeSectionsPercentages(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	book := createTestBook(t, s, "file:///a.epub", 0)

	require.NoError(t, s.ChangeSectionsPercentages(ctx, book.ID, []float64{0.4, 0.6}))

	got, err := s.Book(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4, 0.6}, got.SectionsPercentages)
}

func TestChangeInitialLocations_SetOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	book := createTestBook(t, s, "file:///a.epub", 0)

	wrote, err := s.ChangeInitialLocations(ctx, book.ID, json.RawMessage(`["a","b"]`))
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = s.ChangeInitialLocations(ctx, book.ID, json.RawMessage(`["c"]`))
	require.NoError(t, err)
	assert.False(t, wrote, "manifest is immutable after first non-empty value")

	got, err := s.Book(ctx, book.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(got.InitialLocations))
}

func TestChangeInitialLocations_EmptyDoesNotLock(t *testing.T) {
	for _, empty := range []string{`[]`, `null`, `{}`, `""`} {
		t.Run(empty, func(t *testing.T) {
			s := createTestStore(t)
			ctx := context.Background()
			book := createTestBook(t, s, "file:///a.epub", 0)

			_, err := s.ChangeInitialLocations(ctx, book.ID, json.RawMessage(empty))
			require.NoError(t, err)
			got, err := s.Book(ctx, book.ID)
			require.NoError(t, err)
			assert.False(t, got.HasInitialLocations())

			wrote, err := s.ChangeInitialLocations(ctx, book.ID, json.RawMessage(`["x"]`))
			require.NoError(t, err)
			assert.True(t, wrote)
		})
	}
}

func TestChangeInitialLocations_InvalidJSON(t *testing.T) {
	s := createTestStore(t)
	book := createTestBook(t, s, "file:///a.epub", 0)

	_, err := s.ChangeInitialLocations(context.Background(), book.ID, json.RawMessage(`{`))
	assert.Error(t, err)
}
