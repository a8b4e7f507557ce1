package blocks

import (
	"context"
	"fmt"
	"io"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/server/models"
)

// ReadRange writes bytes [start, end) of a finalized file to w. Finalized
// blocks that overlap mean the file is inconsistent and fail the read.
func (s *Service) ReadRange(ctx context.Context, ref models.FileRef, start, end int64, w io.Writer) (int64, error) {
	blocks, err := s.ListRange(ctx, ref, start, end)
	if err != nil {
		return 0, err
	}

	var written int64
	pos := start
	for i, b := range blocks {
		if i > 0 && b.StartPos < blocks[i-1].EndPos {
			return written, common.WithPath("read range", ref.NodeFullPath,
				fmt.Errorf("finalized blocks overlap at %d: %w", b.StartPos, common.ErrConflict))
		}
		if b.StartPos > pos {
			return written, common.WithPath("read range", ref.NodeFullPath,
				fmt.Errorf("no block covers [%d, %d): %w", pos, b.StartPos, common.ErrIncompleteUpload))
		}
		if b.EndPos <= pos {
			continue
		}

		data, err := s.readBlock(ctx, b)
		if err != nil {
			return written, err
		}

		from := pos - b.StartPos
		to := min(end, b.EndPos) - b.StartPos
		n, err := w.Write(data[from:to])
		written += int64(n)
		if err != nil {
			return written, err
		}
		pos = b.StartPos + to
		if pos >= end {
			break
		}
	}

	if pos < end {
		return written, common.WithPath("read range", ref.NodeFullPath,
			fmt.Errorf("no block covers [%d, %d): %w", pos, end, common.ErrIncompleteUpload))
	}
	return written, nil
}

func (s *Service) readBlock(ctx context.Context, b models.BlockNode) ([]byte, error) {
	store, err := s.stores.Get(b.StorageCredentialsKey)
	if err != nil {
		return nil, err
	}
	path, err := s.locator.Locate(b.Sha256)
	if err != nil {
		return nil, err
	}
	data, err := store.Get(ctx, path)
	if err != nil {
		return nil, common.WithSha256("read block", b.Sha256, err)
	}
	if int64(len(data)) < b.Size {
		return nil, common.WithSha256("read block", b.Sha256,
			fmt.Errorf("blob has %d bytes, block needs %d: %w", len(data), b.Size, common.ErrIncompleteUpload))
	}
	return data, nil
}
