// Package blocks implements the block-node service: recording the byte
// ranges of uploaded files, finalizing uploads and reading files back.
package blocks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/dmitrijs2005/repostore/internal/digest"
	"github.com/dmitrijs2005/repostore/internal/logging"
	"github.com/dmitrijs2005/repostore/internal/server/blobstore"
	"github.com/dmitrijs2005/repostore/internal/server/models"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/blocknodes"
	"github.com/dmitrijs2005/repostore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/repostore/internal/shard"
	"github.com/google/uuid"
)

// Entity is the router key of block node tables.
const Entity = "block_node"

type CreateBlockRequest struct {
	Ref            models.FileRef
	StartPos       int64
	EndPos         int64
	Sha256         string
	Crc64ecma      *string
	UploadID       *string
	CredentialsKey *string
	Operator       string
}

type FinalizeResult struct {
	Blocks           int
	Size             int64
	AlreadyFinalized bool
	// Superseded counts blocks of the file's previous upload that were deleted.
	Superseded int64
}

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	router      *shard.Router
	locator     *digest.Locator
	stores      *blobstore.Registry
	ttl         time.Duration
	log         logging.Logger
	now         func() time.Time
}

// NewService builds the service. ttl is how long blocks of an unfinalized
// upload live before the sweep may reclaim them; zero disables expiry.
func NewService(db *sql.DB, m repomanager.RepositoryManager, router *shard.Router, locator *digest.Locator,
	stores *blobstore.Registry, ttl time.Duration, log logging.Logger) *Service {
	return &Service{
		db:          db,
		repomanager: m,
		router:      router,
		locator:     locator,
		stores:      stores,
		ttl:         ttl,
		log:         log.With("component", "blocks"),
		now:         time.Now,
	}
}

func (s *Service) repo() blocknodes.Repository {
	return s.repomanager.BlockNodes(s.db)
}

func (s *Service) table(ref models.FileRef) (string, error) {
	return s.router.CollectionFor(Entity, ref)
}

// EnsureCollections creates the tables of the current shard layout.
func (s *Service) EnsureCollections(ctx context.Context) error {
	cfg, err := s.router.Config(Entity)
	if err != nil {
		return err
	}
	return s.repo().EnsureCollections(ctx, cfg)
}

func (s *Service) CreateBlock(ctx context.Context, req CreateBlockRequest) (*models.BlockNode, error) {
	if req.StartPos < 0 || req.EndPos <= req.StartPos {
		return nil, common.WithPath("create block", req.Ref.NodeFullPath,
			fmt.Errorf("range [%d, %d): %w", req.StartPos, req.EndPos, common.ErrInvalidInput))
	}
	if req.Ref.NodeFullPath == "" {
		return nil, fmt.Errorf("empty node path: %w", common.ErrInvalidInput)
	}
	if err := s.locator.Validate(req.Sha256); err != nil {
		return nil, common.WithPath("create block", req.Ref.NodeFullPath, err)
	}

	table, err := s.table(req.Ref)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	node := &models.BlockNode{
		ID:                    uuid.NewString(),
		ProjectID:             req.Ref.ProjectID,
		RepoName:              req.Ref.RepoName,
		NodeFullPath:          req.Ref.NodeFullPath,
		StartPos:              req.StartPos,
		EndPos:                req.EndPos,
		Size:                  req.EndPos - req.StartPos,
		Sha256:                req.Sha256,
		Crc64ecma:             req.Crc64ecma,
		UploadID:              req.UploadID,
		StorageCredentialsKey: req.CredentialsKey,
		CreatedBy:             req.Operator,
		CreatedDate:           now,
	}
	if s.ttl > 0 && req.UploadID != nil {
		exp := now.Add(s.ttl)
		node.ExpireDate = &exp
	}

	if err := s.repo().Create(ctx, table, node); err != nil {
		if errors.Is(err, common.ErrOverlappingRange) {
			return nil, common.WithPath("create block", req.Ref.NodeFullPath,
				fmt.Errorf("upload %s range [%d, %d): %w",
					models.CredentialsKeyOrDefault(req.UploadID), req.StartPos, req.EndPos, err))
		}
		return nil, err
	}

	s.log.Debug(ctx, "block created", "path", req.Ref.NodeFullPath, "start", req.StartPos, "end", req.EndPos, "table", table)
	return node, nil
}

// Upload stores data in the blob store of req's credential and records the
// block. EndPos may be left zero to derive it from len(data); a non-empty
// Sha256 must match the content.
func (s *Service) Upload(ctx context.Context, req CreateBlockRequest, data []byte) (*models.BlockNode, error) {
	sum := s.locator.FromBytes(data)
	if req.Sha256 != "" && req.Sha256 != sum {
		return nil, common.WithPath("upload block", req.Ref.NodeFullPath,
			fmt.Errorf("content digest %s does not match %s: %w", sum, req.Sha256, common.ErrInvalidDigest))
	}
	req.Sha256 = sum
	if req.EndPos == 0 {
		req.EndPos = req.StartPos + int64(len(data))
	}
	if req.EndPos-req.StartPos != int64(len(data)) {
		return nil, common.WithPath("upload block", req.Ref.NodeFullPath,
			fmt.Errorf("range size %d does not match %d bytes: %w", req.EndPos-req.StartPos, len(data), common.ErrInvalidInput))
	}

	store, err := s.stores.Get(req.CredentialsKey)
	if err != nil {
		return nil, err
	}
	path, err := s.locator.Locate(sum)
	if err != nil {
		return nil, err
	}
	if _, err := store.Put(ctx, path, data); err != nil {
		return nil, common.WithSha256("upload block", sum, err)
	}
	return s.CreateBlock(ctx, req)
}

func (s *Service) ListBlocks(ctx context.Context, ref models.FileRef, uploadID *string) ([]models.BlockNode, error) {
	table, err := s.table(ref)
	if err != nil {
		return nil, err
	}
	return s.repo().List(ctx, table, ref, uploadID)
}

func (s *Service) ListRange(ctx context.Context, ref models.FileRef, start, end int64) ([]models.BlockNode, error) {
	if start < 0 || end <= start {
		return nil, fmt.Errorf("range [%d, %d): %w", start, end, common.ErrInvalidInput)
	}
	table, err := s.table(ref)
	if err != nil {
		return nil, err
	}
	return s.repo().ListRange(ctx, table, ref, start, end)
}

// checkTiling verifies that sorted blocks cover [0, size) exactly.
func checkTiling(blocks []models.BlockNode, size int64) error {
	var next int64
	for _, b := range blocks {
		switch {
		case b.StartPos > next:
			return fmt.Errorf("gap at [%d, %d): %w", next, b.StartPos, common.ErrIncompleteUpload)
		case b.StartPos < next:
			return fmt.Errorf("overlap at %d: %w", b.StartPos, common.ErrIncompleteUpload)
		}
		next = b.EndPos
	}
	if next != size {
		return fmt.Errorf("blocks cover %d of %d bytes: %w", next, size, common.ErrIncompleteUpload)
	}
	return nil
}

// Finalize seals an upload once its blocks tile [0, expectedSize) and
// supersedes the blocks of the file's previous upload, all in one step.
// Retrying a finalize that already happened reports AlreadyFinalized.
func (s *Service) Finalize(ctx context.Context, ref models.FileRef, uploadID string, expectedSize int64) (*FinalizeResult, error) {
	if uploadID == "" || expectedSize < 0 {
		return nil, fmt.Errorf("finalize needs an upload id and a size: %w", common.ErrInvalidInput)
	}
	table, err := s.table(ref)
	if err != nil {
		return nil, err
	}

	out, err := s.repo().Finalize(ctx, table, ref, uploadID, expectedSize, s.now().UTC(), func(blocks []models.BlockNode) error {
		return common.WithPath("finalize", ref.NodeFullPath, checkTiling(blocks, expectedSize))
	})
	if err != nil {
		return nil, err
	}

	res := &FinalizeResult{
		Blocks:           len(out.Blocks),
		Size:             expectedSize,
		AlreadyFinalized: out.Promoted == 0,
		Superseded:       out.Superseded,
	}
	s.log.Info(ctx, "upload finalized", "path", ref.NodeFullPath, "upload_id", uploadID,
		"blocks", res.Blocks, "superseded", res.Superseded, "already", res.AlreadyFinalized)
	return res, nil
}

func (s *Service) SoftDelete(ctx context.Context, ref models.FileRef, uploadID *string) (int64, error) {
	table, err := s.table(ref)
	if err != nil {
		return 0, err
	}
	n, err := s.repo().SoftDelete(ctx, table, ref, uploadID, s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.log.Info(ctx, "blocks deleted", "path", ref.NodeFullPath, "count", n)
	return n, nil
}

// ListExpired walks every shard and returns up to limit unfinalized blocks
// that expired before the given time.
func (s *Service) ListExpired(ctx context.Context, before time.Time, limit int) ([]models.BlockNode, error) {
	cfg, err := s.router.Config(Entity)
	if err != nil {
		return nil, err
	}

	repo := s.repo()
	var out []models.BlockNode
	for _, table := range cfg.CollectionNames() {
		if len(out) >= limit {
			break
		}
		page, err := repo.ListExpired(ctx, table, before, limit-len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
	}
	return out, nil
}
