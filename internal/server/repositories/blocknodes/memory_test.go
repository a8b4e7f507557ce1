package blocknodes

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_OverlapScopedToUpload(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	a := block(0, 100, strp("u1"))
	a.ID = "a"
	require.NoError(t, r.Create(ctx, "t", a))

	b := block(50, 150, strp("u1"))
	b.ID = "b"
	assert.ErrorIs(t, r.Create(ctx, "t", b), common.ErrOverlappingRange)

	c := block(50, 150, strp("u2"))
	c.ID = "c"
	assert.NoError(t, r.Create(ctx, "t", c))

	_, err := r.SoftDelete(ctx, "t", ref, strp("u1"), time.Now())
	require.NoError(t, err)
	assert.NoError(t, r.Create(ctx, "t", b), "deleted blocks do not conflict")
}

func TestMemoryRepository_FinalizeAndList(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	for i, rng := range [][2]int64{{100, 250}, {0, 100}} {
		b := block(rng[0], rng[1], strp("u1"))
		b.ID = string(rune('a' + i))
		b.ExpireDate = &exp
		require.NoError(t, r.Create(ctx, "t", b))
	}

	got, err := r.List(ctx, "t", ref, nil)
	require.NoError(t, err)
	assert.Empty(t, got, "unfinalized blocks are not visible without upload id")

	got, err = r.List(ctx, "t", ref, strp("u1"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(0), got[0].StartPos)

	accept := func([]models.BlockNode) error { return nil }
	out, err := r.Finalize(ctx, "t", ref, "u1", 250, time.Now(), accept)
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Promoted)
	assert.Len(t, out.Blocks, 2)

	out, err = r.Finalize(ctx, "t", ref, "u1", 250, time.Now(), accept)
	require.NoError(t, err)
	assert.Zero(t, out.Promoted)

	got, err = r.ListRange(ctx, "t", ref, 120, 130)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(100), got[0].StartPos)
}

func TestMemoryRepository_FinalizeSupersedesAndVerifies(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)
	at := time.Unix(1000, 0).UTC()

	add := func(id, upload string, start, end int64, pending bool) {
		b := block(start, end, strp(upload))
		b.ID = id
		if pending {
			b.ExpireDate = &exp
		}
		require.NoError(t, r.Create(ctx, "t", b))
	}
	add("old", "u1", 0, 8, false)
	add("new1", "u2", 0, 6, true)
	add("new2", "u2", 6, 8, true)
	add("tail", "u2", 8, 20, true)

	_, err := r.Finalize(ctx, "t", ref, "u2", 8, at, func([]models.BlockNode) error { return common.ErrIncompleteUpload })
	require.ErrorIs(t, err, common.ErrIncompleteUpload)
	got, err := r.List(ctx, "t", ref, nil)
	require.NoError(t, err)
	require.Len(t, got, 1, "a rejected finalize changes nothing")

	out, err := r.Finalize(ctx, "t", ref, "u2", 8, at, func(blocks []models.BlockNode) error {
		assert.Len(t, blocks, 3)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Promoted, "blocks past the size stay pending")
	assert.Equal(t, int64(1), out.Superseded)

	got, err = r.List(ctx, "t", ref, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new1", got[0].ID)
	assert.Equal(t, "new2", got[1].ID)
}

func TestMemoryRepository_ScanAndCopy(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		b := block(0, 1, strp(id))
		b.ID = id
		ok, err := r.Copy(ctx, "t", b)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	dup := block(0, 1, nil)
	dup.ID = "a"
	ok, err := r.Copy(ctx, "t", dup)
	require.NoError(t, err)
	assert.False(t, ok)

	page, err := r.Scan(ctx, "t", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].ID)

	page, err = r.Scan(ctx, "t", page[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].ID)
}
