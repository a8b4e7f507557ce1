package models

import "time"

// ArchiveStatus is the compression state of an ArchiveFile.
type ArchiveStatus string

const (
	// ArchiveNone marks a chain root that is not itself archived.
	ArchiveNone             ArchiveStatus = "NONE"
	ArchiveCreated          ArchiveStatus = "CREATED"
	ArchiveCompressing      ArchiveStatus = "COMPRESSING"
	ArchiveCompressed       ArchiveStatus = "COMPRESSED"
	ArchiveCompleted        ArchiveStatus = "COMPLETED"
	ArchiveCompressFailed   ArchiveStatus = "COMPRESS_FAILED"
	ArchiveWaitToUncompress ArchiveStatus = "WAIT_TO_UNCOMPRESS"
	ArchiveUncompressing    ArchiveStatus = "UNCOMPRESSING"
	ArchiveUncompressed     ArchiveStatus = "UNCOMPRESSED"
	ArchiveUncompressFailed ArchiveStatus = "UNCOMPRESS_FAILED"
)

var archiveTransitions = map[ArchiveStatus][]ArchiveStatus{
	ArchiveNone:             {ArchiveCreated},
	ArchiveCreated:          {ArchiveCompressing},
	ArchiveCompressFailed:   {ArchiveCompressing},
	ArchiveCompressing:      {ArchiveCompressed, ArchiveCompressFailed},
	ArchiveCompressed:       {ArchiveCompleted, ArchiveWaitToUncompress},
	ArchiveCompleted:        {ArchiveWaitToUncompress},
	ArchiveWaitToUncompress: {ArchiveUncompressing},
	ArchiveUncompressFailed: {ArchiveUncompressing},
	ArchiveUncompressing:    {ArchiveUncompressed, ArchiveUncompressFailed},
}

// CanTransition reports whether from → to is an allowed edge of the archive
// state machine.
func CanTransition(from, to ArchiveStatus) bool {
	for _, s := range archiveTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s ArchiveStatus) Valid() bool {
	switch s {
	case ArchiveNone, ArchiveCreated, ArchiveCompressing, ArchiveCompressed, ArchiveCompleted,
		ArchiveCompressFailed, ArchiveWaitToUncompress, ArchiveUncompressing, ArchiveUncompressed,
		ArchiveUncompressFailed:
		return true
	}
	return false
}

// HoldsCompressedBytes reports whether a compressed copy exists in the blob store.
func (s ArchiveStatus) HoldsCompressedBytes() bool {
	switch s {
	case ArchiveCompressed, ArchiveCompleted, ArchiveWaitToUncompress, ArchiveUncompressing,
		ArchiveUncompressed, ArchiveUncompressFailed:
		return true
	}
	return false
}

// Deletable reports whether a record in status s may be removed.
func (s ArchiveStatus) Deletable() bool {
	switch s {
	case ArchiveNone, ArchiveCompleted, ArchiveUncompressed, ArchiveCompressFailed:
		return true
	}
	return false
}

// ArchiveFile tracks the compression state of one physical object.
type ArchiveFile struct {
	ID                    string
	Sha256                string
	StorageCredentialsKey *string
	Status                ArchiveStatus

	// BaseSha256 is the object this entry is compressed against.
	BaseSha256 *string
	// ChainLength is the number of base hops to the chain root.
	ChainLength int

	CompressedSize   int64
	UncompressedSize int64

	CreatedBy        string
	CreatedDate      time.Time
	LastModifiedBy   string
	LastModifiedDate time.Time
}

// ArchivePatch carries the columns updated together with a status change.
type ArchivePatch struct {
	CompressedSize *int64
	BaseSha256     *string
	ChainLength    *int
	ModifiedBy     string
}

// CredentialsKeyOrDefault returns the key, or "" for the default credential.
func CredentialsKeyOrDefault(key *string) string {
	if key == nil {
		return ""
	}
	return *key
}
