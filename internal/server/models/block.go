package models

import "time"

// Sharding columns a BlockNode can be routed by.
const (
	BlockNodeColumnProjectID    = "projectId"
	BlockNodeColumnRepoName     = "repoName"
	BlockNodeColumnNodeFullPath = "nodeFullPath"
)

// FileRef identifies a logical file inside a repository.
type FileRef struct {
	ProjectID    string
	RepoName     string
	NodeFullPath string
}

// BlockNode is one contiguous byte range [StartPos, EndPos) of a logical
// file whose bytes are stored in the blob addressed by Sha256.
type BlockNode struct {
	ID           string
	ProjectID    string
	RepoName     string
	NodeFullPath string
	StartPos     int64
	EndPos       int64
	Size         int64
	Sha256       string
	Crc64ecma    *string
	UploadID     *string

	// StorageCredentialsKey selects the blob store; nil is the default one.
	StorageCredentialsKey *string

	CreatedBy   string
	CreatedDate time.Time

	// Deleted is the soft-delete time; nil means live.
	Deleted *time.Time
	// ExpireDate is set for blocks of an upload that has not been finalized.
	ExpireDate *time.Time
}

// Ref returns the logical file the block belongs to.
func (b *BlockNode) Ref() FileRef {
	return FileRef{ProjectID: b.ProjectID, RepoName: b.RepoName, NodeFullPath: b.NodeFullPath}
}

// ShardValue implements shard.Keyed.
func (b *BlockNode) ShardValue(column string) (string, bool) {
	switch column {
	case BlockNodeColumnProjectID:
		return b.ProjectID, true
	case BlockNodeColumnRepoName:
		return b.RepoName, true
	case BlockNodeColumnNodeFullPath:
		return b.NodeFullPath, true
	default:
		return "", false
	}
}

// ShardValue lets a FileRef be routed like the blocks it names.
func (r FileRef) ShardValue(column string) (string, bool) {
	switch column {
	case BlockNodeColumnProjectID:
		return r.ProjectID, true
	case BlockNodeColumnRepoName:
		return r.RepoName, true
	case BlockNodeColumnNodeFullPath:
		return r.NodeFullPath, true
	default:
		return "", false
	}
}

// Overlaps reports whether [start, end) intersects the block's range.
func (b *BlockNode) Overlaps(start, end int64) bool {
	return b.StartPos < end && start < b.EndPos
}

// IsLive reports whether the block has not been soft-deleted.
func (b *BlockNode) IsLive() bool {
	return b.Deleted == nil
}
