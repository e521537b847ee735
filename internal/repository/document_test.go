package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"dailypair/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type sampleDoc struct {
	Groups map[string]*models.GroupPairing `json:"groups"`
}

func sample() sampleDoc {
	g := models.NewGroupPairing("2026-10-16")
	g.Link(models.DisplayIdentity{Name: "A", ID: "1"}, models.DisplayIdentity{Name: "B", ID: "2"})
	return sampleDoc{Groups: map[string]*models.GroupPairing{"g1": g}}
}

func setupSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every pooled connection would otherwise open its own empty :memory: database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Document{}))
	return db
}

// setupMockDB creates a GORM *gorm.DB backed by sqlmock for unit tests.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

func repositories(t *testing.T) map[string]DocumentRepository {
	fileRepo, err := NewFileDocumentRepository(t.TempDir())
	require.NoError(t, err)
	return map[string]DocumentRepository{
		"file":   fileRepo,
		"sqlite": NewGormDocumentRepository(setupSQLiteDB(t)),
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			var missing sampleDoc
			found, err := repo.Load(ctx, DocPairings, &missing)
			require.NoError(t, err)
			assert.False(t, found)

			raw, err := repo.Raw(ctx, DocPairings)
			require.NoError(t, err)
			assert.Nil(t, raw)

			require.NoError(t, repo.Save(ctx, DocPairings, sample()))

			var got sampleDoc
			found, err = repo.Load(ctx, DocPairings, &got)
			require.NoError(t, err)
			require.True(t, found)
			require.Contains(t, got.Groups, "g1")
			assert.Equal(t, "2", got.Groups["g1"].Pairs["1"].PartnerID)
			assert.False(t, got.Groups["g1"].Pairs["2"].IsInitiator)

			// A second save replaces the document rather than appending.
			require.NoError(t, repo.Save(ctx, DocPairings, sampleDoc{Groups: map[string]*models.GroupPairing{}}))
			var replaced sampleDoc
			_, err = repo.Load(ctx, DocPairings, &replaced)
			require.NoError(t, err)
			assert.Empty(t, replaced.Groups)
		})
	}
}

func TestFileSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileDocumentRepository(dir)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Save(context.Background(), DocCooldowns, map[string]int{"n": i}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, DocCooldowns+".json", entries[0].Name())
}

func TestFileLoadCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileDocumentRepository(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DocAdvanced+".json"), []byte("{not json"), 0o644))

	var dst map[string]bool
	_, err = repo.Load(context.Background(), DocAdvanced, &dst)
	require.Error(t, err)
	assert.Equal(t, models.CodeInternal, models.ErrorCode(err))
}

func TestGormRepositoryErrors(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewGormDocumentRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "documents"`)).
		WillReturnError(errors.New("connection reset"))
	var dst map[string]any
	_, err := repo.Load(ctx, DocPairings, &dst)
	require.Error(t, err)
	assert.Equal(t, models.CodeInternal, models.ErrorCode(err))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "documents"`)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()
	err = repo.Save(ctx, DocPairings, map[string]any{"k": "v"})
	require.Error(t, err)
	assert.Equal(t, models.CodeInternal, models.ErrorCode(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}
