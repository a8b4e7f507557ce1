package blocks

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/dbx"
	"github.com/dmitrijs2005/repostore/internal/digest"
	"github.com/dmitrijs2005/repostore/internal/logging"
	"github.com/dmitrijs2005/repostore/internal/server/blobstore"
	"github.com/dmitrijs2005/repostore/internal/server/models"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/blocknodes"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/repostore/internal/shard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (n nopLogger) Debug(context.Context, string, ...any) {}
func (n nopLogger) Info(context.Context, string, ...any)  {}
func (n nopLogger) Warn(context.Context, string, ...any)  {}
func (n nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) logging.Logger            { return n }

var locator = digest.MustLocator(digest.SHA256)

func newService(t *testing.T, ttl time.Duration) (*Service, *blobstore.MemoryDriver) {
	t.Helper()
	router, err := shard.NewRouter(map[string]shard.Config{
		Entity: {
			Prefix:  "block_node",
			Columns: []string{models.BlockNodeColumnProjectID, models.BlockNodeColumnRepoName, models.BlockNodeColumnNodeFullPath},
			Count:   8,
		},
	})
	require.NoError(t, err)

	driver := blobstore.NewMemoryDriver()
	stores := blobstore.NewRegistry("default")
	stores.Register("default", blobstore.New(driver, blobstore.ZstdCodec{}, locator))

	s := NewService(nil, repomanager.NewInMemoryRepositoryManager(), router, locator, stores, ttl, nopLogger{})
	require.NoError(t, s.EnsureCollections(context.Background()))
	return s, driver
}

var ref = models.FileRef{ProjectID: "p", RepoName: "generic", NodeFullPath: "/a/b.bin"}

func sha(s string) string { return locator.FromBytes([]byte(s)) }

func strptr(s string) *string { return &s }

func TestCreateBlock_Validation(t *testing.T) {
	s, _ := newService(t, 0)
	ctx := context.Background()

	_, err := s.CreateBlock(ctx, CreateBlockRequest{Ref: ref, StartPos: 10, EndPos: 10, Sha256: sha("x")})
	require.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = s.CreateBlock(ctx, CreateBlockRequest{Ref: ref, StartPos: -1, EndPos: 10, Sha256: sha("x")})
	require.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = s.CreateBlock(ctx, CreateBlockRequest{Ref: ref, StartPos: 0, EndPos: 10, Sha256: "XYZ"})
	require.ErrorIs(t, err, common.ErrInvalidDigest)
}

func TestCreateBlock_OverlapConflict(t *testing.T) {
	s, _ := newService(t, time.Hour)
	ctx := context.Background()
	up := strptr("u1")

	b, err := s.CreateBlock(ctx, CreateBlockRequest{Ref: ref, StartPos: 0, EndPos: 100, Sha256: sha("a"), UploadID: up})
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Size)
	require.NotNil(t, b.ExpireDate)

	_, err = s.CreateBlock(ctx, CreateBlockRequest{Ref: ref, StartPos: 50, EndPos: 150, Sha256: sha("b"), UploadID: up})
	require.ErrorIs(t, err, common.ErrOverlappingRange)
	require.ErrorIs(t, err, common.ErrConflict)
	assert.Contains(t, err.Error(), "/a/b.bin")
	assert.Contains(t, err.Error(), "[50, 150)")

	// a different upload of the same file is independent
	_, err = s.CreateBlock(ctx, CreateBlockRequest{Ref: ref, StartPos: 50, EndPos: 150, Sha256: sha("b"), UploadID: strptr("u2")})
	require.NoError(t, err)

	got, err := s.ListBlocks(ctx, ref, up)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestFinalize_Tiling(t *testing.T) {
	s, _ := newService(t, time.Hour)
	ctx := context.Background()

	up := "complete"
	_, err := s.CreateBlock(ctx, CreateBlockRequest{Ref: ref, StartPos: 100, EndPos: 250, Sha256: sha("b"), UploadID: &up})
	require.NoError(t, err)
	_, err = s.CreateBlock(ctx, CreateBlockRequest{Ref: ref, StartPos: 0, EndPos: 100, Sha256: sha("a"), UploadID: &up})
	require.NoError(t, err)

	finalized, err := s.ListBlocks(ctx, ref, nil)
	require.NoError(t, err)
	assert.Empty(t, finalized)

	res, err := s.Finalize(ctx, ref, up, 250)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Blocks)
	assert.False(t, res.AlreadyFinalized)

	finalized, err = s.ListBlocks(ctx, ref, nil)
	require.NoError(t, err)
	require.Len(t, finalized, 2)
	assert.Equal(t, int64(0), finalized[0].StartPos)
	assert.Nil(t, finalized[0].ExpireDate)

	res, err = s.Finalize(ctx, ref, up, 250)
	require.NoError(t, err)
	assert.True(t, res.AlreadyFinalized)
}

func TestFinalize_GapIsIncomplete(t *testing.T) {
	s, _ := newService(t, time.Hour)
	ctx := context.Background()
	other := models.FileRef{ProjectID: "p", RepoName: "generic", NodeFullPath: "/gap.bin"}

	up := "gappy"
	_, err := s.CreateBlock(ctx, CreateBlockRequest{Ref: other, StartPos: 0, EndPos: 100, Sha256: sha("a"), UploadID: &up})
	require.NoError(t, err)
	_, err = s.CreateBlock(ctx, CreateBlockRequest{Ref: other, StartPos: 150, EndPos: 250, Sha256: sha("b"), UploadID: &up})
	require.NoError(t, err)

	_, err = s.Finalize(ctx, other, up, 250)
	require.ErrorIs(t, err, common.ErrIncompleteUpload)
	require.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = s.Finalize(ctx, other, up, 300)
	require.ErrorIs(t, err, common.ErrIncompleteUpload)

	finalized, err := s.ListBlocks(ctx, other, nil)
	require.NoError(t, err)
	assert.Empty(t, finalized)
}

func TestFinalize_ReuploadSupersedesPrevious(t *testing.T) {
	s, _ := newService(t, time.Hour)
	ctx := context.Background()
	file := models.FileRef{ProjectID: "p", RepoName: "generic", NodeFullPath: "/reupload.bin"}

	first, second := "first", "second"
	for _, part := range []struct {
		upload *string
		start  int64
		data   string
	}{
		{&first, 0, "AAAA"}, {&first, 4, "BBBB"},
		{&second, 0, "CCCCCC"}, {&second, 6, "DD"},
	} {
		_, err := s.Upload(ctx, CreateBlockRequest{Ref: file, StartPos: part.start, UploadID: part.upload}, []byte(part.data))
		require.NoError(t, err)
	}

	res, err := s.Finalize(ctx, file, first, 8)
	require.NoError(t, err)
	assert.Zero(t, res.Superseded)

	res, err = s.Finalize(ctx, file, second, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Superseded)

	finalized, err := s.ListBlocks(ctx, file, nil)
	require.NoError(t, err)
	require.Len(t, finalized, 2)
	for _, b := range finalized {
		assert.Equal(t, second, *b.UploadID)
	}

	var buf bytes.Buffer
	_, err = s.ReadRange(ctx, file, 0, 8, &buf)
	require.NoError(t, err)
	assert.Equal(t, "CCCCCCDD", buf.String())

	// the replaced upload cannot come back
	_, err = s.Finalize(ctx, file, first, 8)
	require.ErrorIs(t, err, common.ErrIncompleteUpload)

	// a retry of the current upload leaves its blocks alone
	res, err = s.Finalize(ctx, file, second, 8)
	require.NoError(t, err)
	assert.True(t, res.AlreadyFinalized)
	assert.Zero(t, res.Superseded)
}

// lateInsertRepo adds a block to the upload while Finalize is running.
type lateInsertRepo struct {
	blocknodes.Repository
	late *models.BlockNode
	done chan error
}

func (r *lateInsertRepo) Finalize(ctx context.Context, table string, ref models.FileRef, uploadID string, size int64,
	at time.Time, verify func([]models.BlockNode) error) (*blocknodes.FinalizeOutcome, error) {
	return r.Repository.Finalize(ctx, table, ref, uploadID, size, at, func(blocks []models.BlockNode) error {
		err := verify(blocks)
		go func() { r.done <- r.Repository.Create(ctx, table, r.late) }()
		return err
	})
}

type lateInsertManager struct {
	*repomanager.InMemoryRepositoryManager
	blocks *lateInsertRepo
}

func (m *lateInsertManager) BlockNodes(dbx.DBTX) blocknodes.Repository { return m.blocks }

func TestFinalize_BlockAddedDuringFinalizeStaysPending(t *testing.T) {
	s, _ := newService(t, time.Hour)
	ctx := context.Background()

	up := "racy"
	for _, rng := range [][2]int64{{0, 100}, {100, 250}} {
		_, err := s.CreateBlock(ctx, CreateBlockRequest{Ref: ref, StartPos: rng[0], EndPos: rng[1], Sha256: sha("x"), UploadID: &up})
		require.NoError(t, err)
	}

	table, err := s.table(ref)
	require.NoError(t, err)
	exp := time.Now().Add(time.Hour)
	late := &models.BlockNode{ID: "late", ProjectID: ref.ProjectID, RepoName: ref.RepoName, NodeFullPath: ref.NodeFullPath,
		StartPos: 250, EndPos: 400, Size: 150, Sha256: sha("late"), UploadID: &up, ExpireDate: &exp}
	wrapped := &lateInsertRepo{Repository: s.repo(), late: late, done: make(chan error, 1)}
	s.repomanager = &lateInsertManager{
		InMemoryRepositoryManager: s.repomanager.(*repomanager.InMemoryRepositoryManager),
		blocks:                    wrapped,
	}

	res, err := s.Finalize(ctx, ref, up, 250)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Blocks)
	require.NoError(t, <-wrapped.done)

	finalized, err := s.ListBlocks(ctx, ref, nil)
	require.NoError(t, err)
	require.Len(t, finalized, 2)
	assert.Equal(t, int64(250), finalized[1].EndPos)

	all, err := wrapped.List(ctx, table, ref, &up)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.NotNil(t, all[2].ExpireDate, "a block outside the verified set is not promoted")
}

func TestReadRange_OverlappingFinalizedBlocks(t *testing.T) {
	s, driver := newService(t, 0)
	ctx := context.Background()
	file := models.FileRef{ProjectID: "p", RepoName: "generic", NodeFullPath: "/broken.bin"}
	table, err := s.table(file)
	require.NoError(t, err)

	for i, data := range []string{"AAAA", "CCCCCC"} {
		sum := sha(data)
		path, err := locator.Locate(sum)
		require.NoError(t, err)
		require.NoError(t, driver.Put(ctx, path, []byte(data)))
		upload := fmt.Sprintf("u%d", i)
		require.NoError(t, s.repo().Create(ctx, table, &models.BlockNode{ID: upload, ProjectID: file.ProjectID,
			RepoName: file.RepoName, NodeFullPath: file.NodeFullPath, StartPos: 0, EndPos: int64(len(data)),
			Size: int64(len(data)), Sha256: sum, UploadID: &upload}))
	}

	var buf bytes.Buffer
	_, err = s.ReadRange(ctx, file, 0, 6, &buf)
	require.ErrorIs(t, err, common.ErrConflict)
}

func TestCheckTiling(t *testing.T) {
	blk := func(s, e int64) models.BlockNode { return models.BlockNode{StartPos: s, EndPos: e} }

	require.NoError(t, checkTiling([]models.BlockNode{blk(0, 100), blk(100, 250)}, 250))
	require.NoError(t, checkTiling(nil, 0))
	require.ErrorIs(t, checkTiling([]models.BlockNode{blk(0, 100), blk(150, 250)}, 250), common.ErrIncompleteUpload)
	require.ErrorIs(t, checkTiling([]models.BlockNode{blk(0, 100), blk(50, 250)}, 250), common.ErrIncompleteUpload)
	require.ErrorIs(t, checkTiling([]models.BlockNode{blk(10, 100)}, 100), common.ErrIncompleteUpload)
	require.ErrorIs(t, checkTiling([]models.BlockNode{blk(0, 100)}, 120), common.ErrIncompleteUpload)
}

func TestSoftDelete(t *testing.T) {
	s, _ := newService(t, 0)
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		_, err := s.CreateBlock(ctx, CreateBlockRequest{Ref: ref, StartPos: i * 10, EndPos: i*10 + 10, Sha256: sha(fmt.Sprint(i))})
		require.NoError(t, err)
	}

	n, err := s.SoftDelete(ctx, ref, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.SoftDelete(ctx, ref, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	live, err := s.ListBlocks(ctx, ref, nil)
	require.NoError(t, err)
	assert.Empty(t, live)

	// the range is free again once the old blocks are deleted
	_, err = s.CreateBlock(ctx, CreateBlockRequest{Ref: ref, StartPos: 0, EndPos: 10, Sha256: sha("new")})
	require.NoError(t, err)
}

func TestListExpired_AcrossShards(t *testing.T) {
	s, _ := newService(t, time.Minute)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	for i := 0; i < 20; i++ {
		r := models.FileRef{ProjectID: "p", RepoName: "r", NodeFullPath: fmt.Sprintf("/f%d", i)}
		_, err := s.CreateBlock(ctx, CreateBlockRequest{Ref: r, StartPos: 0, EndPos: 1, Sha256: sha("x"), UploadID: strptr("u")})
		require.NoError(t, err)
	}

	got, err := s.ListExpired(ctx, base.Add(30*time.Second), 100)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.ListExpired(ctx, base.Add(2*time.Minute), 100)
	require.NoError(t, err)
	assert.Len(t, got, 20)

	got, err = s.ListExpired(ctx, base.Add(2*time.Minute), 7)
	require.NoError(t, err)
	assert.Len(t, got, 7)
}

func TestUploadAndReadRange(t *testing.T) {
	s, driver := newService(t, time.Hour)
	ctx := context.Background()

	content := []byte(strings.Repeat("0123456789", 25))
	up := "u"
	_, err := s.Upload(ctx, CreateBlockRequest{Ref: ref, StartPos: 0, UploadID: &up}, content[:100])
	require.NoError(t, err)
	_, err = s.Upload(ctx, CreateBlockRequest{Ref: ref, StartPos: 100, UploadID: &up}, content[100:])
	require.NoError(t, err)
	assert.Equal(t, 2, driver.Len())

	// unfinalized files are not readable
	var buf bytes.Buffer
	_, err = s.ReadRange(ctx, ref, 0, 10, &buf)
	require.ErrorIs(t, err, common.ErrIncompleteUpload)

	_, err = s.Finalize(ctx, ref, up, 250)
	require.NoError(t, err)

	buf.Reset()
	n, err := s.ReadRange(ctx, ref, 0, 250, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(250), n)
	assert.Equal(t, content, buf.Bytes())

	buf.Reset()
	_, err = s.ReadRange(ctx, ref, 95, 105, &buf)
	require.NoError(t, err)
	assert.Equal(t, content[95:105], buf.Bytes())

	buf.Reset()
	_, err = s.ReadRange(ctx, ref, 200, 300, &buf)
	require.ErrorIs(t, err, common.ErrIncompleteUpload)
}

func TestUpload_DigestMismatch(t *testing.T) {
	s, _ := newService(t, 0)
	_, err := s.Upload(context.Background(), CreateBlockRequest{Ref: ref, Sha256: sha("other")}, []byte("data"))
	require.ErrorIs(t, err, common.ErrInvalidDigest)
}

func TestReadRange_MissingBlob(t *testing.T) {
	s, _ := newService(t, 0)
	ctx := context.Background()

	_, err := s.CreateBlock(ctx, CreateBlockRequest{Ref: ref, StartPos: 0, EndPos: 4, Sha256: sha("gone")})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = s.ReadRange(ctx, ref, 0, 4, &buf)
	require.ErrorIs(t, err, common.ErrBlobNotFound)
}
