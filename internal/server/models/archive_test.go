package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]ArchiveStatus{
		{ArchiveNone, ArchiveCreated},
		{ArchiveCreated, ArchiveCompressing},
		{ArchiveCompressFailed, ArchiveCompressing},
		{ArchiveCompressing, ArchiveCompressed},
		{ArchiveCompressing, ArchiveCompressFailed},
		{ArchiveCompressed, ArchiveCompleted},
		{ArchiveCompleted, ArchiveWaitToUncompress},
		{ArchiveWaitToUncompress, ArchiveUncompressing},
		{ArchiveUncompressFailed, ArchiveUncompressing},
		{ArchiveUncompressing, ArchiveUncompressed},
		{ArchiveUncompressing, ArchiveUncompressFailed},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	rejected := [][2]ArchiveStatus{
		{ArchiveCreated, ArchiveCompleted},
		{ArchiveCompleted, ArchiveCompressing},
		{ArchiveUncompressed, ArchiveCompressing},
		{ArchiveCompressing, ArchiveCreated},
		{ArchiveNone, ArchiveCompressing},
		{ArchiveWaitToUncompress, ArchiveUncompressed},
	}
	for _, tr := range rejected {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestArchiveStatus_Predicates(t *testing.T) {
	assert.True(t, ArchiveCompleted.Deletable())
	assert.True(t, ArchiveNone.Deletable())
	assert.False(t, ArchiveCompressing.Deletable())
	assert.False(t, ArchiveWaitToUncompress.Deletable())

	assert.True(t, ArchiveCompleted.HoldsCompressedBytes())
	assert.False(t, ArchiveCreated.HoldsCompressedBytes())
	assert.False(t, ArchiveCompressFailed.HoldsCompressedBytes())

	assert.True(t, ArchiveUncompressFailed.Valid())
	assert.False(t, ArchiveStatus("ARCHIVED").Valid())
}

func TestBlockNode_ShardValueAndOverlap(t *testing.T) {
	b := &BlockNode{ProjectID: "p", RepoName: "r", NodeFullPath: "/a", StartPos: 100, EndPos: 200}

	v, ok := b.ShardValue(BlockNodeColumnRepoName)
	assert.True(t, ok)
	assert.Equal(t, "r", v)
	_, ok = b.ShardValue("sha256")
	assert.False(t, ok)

	v, ok = b.Ref().ShardValue(BlockNodeColumnProjectID)
	assert.True(t, ok)
	assert.Equal(t, "p", v)

	assert.True(t, b.Overlaps(150, 250))
	assert.True(t, b.Overlaps(0, 101))
	assert.False(t, b.Overlaps(200, 300))
	assert.False(t, b.Overlaps(0, 100))
}
