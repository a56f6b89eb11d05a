package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/filestore"
	"github.com/xxxsen/kbchat/internal/model"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
	"github.com/xxxsen/kbchat/internal/pkg/keylock"
	"github.com/xxxsen/kbchat/internal/repo"
	"github.com/xxxsen/kbchat/internal/vectorstore"
)

// Rebuilder produces a fresh chunk set for an already tracked item.
type Rebuilder interface {
	Rebuild(ctx context.Context, item *model.KnowledgeItem) ([]*model.Chunk, error)
}

// KnowledgeService is the tracking registry. Every mutation of one item,
// chunks and tracker entry together, runs under that item's lock.
type KnowledgeService struct {
	items     *repo.KnowledgeRepo
	store     vectorstore.Store
	files     filestore.Store
	locks     *keylock.KeyLock
	rebuilder Rebuilder
}

func NewKnowledgeService(items *repo.KnowledgeRepo, store vectorstore.Store, files filestore.Store) *KnowledgeService {
	return &KnowledgeService{items: items, store: store, files: files, locks: keylock.New()}
}

func (s *KnowledgeService) SetRebuilder(r Rebuilder) {
	s.rebuilder = r
}

func itemKey(typ model.SourceType, identifier string) string {
	return string(typ) + ":" + identifier
}

func (s *KnowledgeService) List(ctx context.Context) (*model.TrackingRegistry, error) {
	items, err := s.items.List(ctx)
	if err != nil {
		return nil, err
	}
	reg := model.NewTrackingRegistry()
	for _, item := range items {
		reg.Put(item)
	}
	return reg, nil
}

// Record replaces the chunks of item with chunks and upserts its tracker
// entry. An empty chunk set records nothing.
func (s *KnowledgeService) Record(ctx context.Context, item *model.KnowledgeItem, chunks []*model.Chunk) error {
	unlock := s.locks.Lock(itemKey(item.Type, item.Identifier))
	defer unlock()
	return s.recordLocked(ctx, item, chunks)
}

func (s *KnowledgeService) recordLocked(ctx context.Context, item *model.KnowledgeItem, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no content to record for %s", appErr.ErrInvalid, item.Identifier)
	}
	prev, err := s.items.Get(ctx, item.Type, item.Identifier)
	if err != nil && !appErr.IsNotFound(err) {
		return err
	}
	if err := ownerConflict(prev, item.Identifier, item.Collection); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for i, ch := range chunks {
		ch.Collection = item.Collection
		ch.SourceFile = item.Identifier
		ch.Position = i
		if ch.ID == "" {
			ch.ID = newChunkID()
		}
		if ch.Ctime == 0 {
			ch.Ctime = now
		}
	}
	if err := s.store.Replace(ctx, item.Collection, item.Identifier, chunks); err != nil {
		return fmt.Errorf("replace chunks: %w", err)
	}
	item.ChunkCount = len(chunks)
	item.IngestedAt = now
	if err := s.items.Upsert(ctx, item); err != nil {
		return fmt.Errorf("record knowledge item: %w", err)
	}
	logutil.GetLogger(ctx).Info("knowledge item recorded",
		zap.String("type", string(item.Type)),
		zap.String("identifier", item.Identifier),
		zap.String("collection", item.Collection),
		zap.Int("chunks", item.ChunkCount),
	)
	return nil
}

// CheckOwner fails with ErrConflict when identifier is tracked under a
// tenant other than t. Items never move between tenants; remove first.
func (s *KnowledgeService) CheckOwner(ctx context.Context, typ model.SourceType, identifier string, t *model.Tenant) error {
	prev, err := s.items.Get(ctx, typ, identifier)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil
		}
		return err
	}
	return ownerConflict(prev, identifier, t.Collection)
}

func ownerConflict(prev *model.KnowledgeItem, identifier string, collection string) error {
	if prev == nil || prev.Collection == collection {
		return nil
	}
	return fmt.Errorf("%w: %s is already tracked for %s", appErr.ErrConflict, identifier, prev.Tenant)
}

func (s *KnowledgeService) Remove(ctx context.Context, identifier string, typ model.SourceType) error {
	if _, ok := model.ParseSourceType(string(typ)); !ok {
		return appErr.ErrInvalidSourceType
	}
	unlock := s.locks.Lock(itemKey(typ, identifier))
	defer unlock()

	item, err := s.items.Get(ctx, typ, identifier)
	if err != nil {
		if appErr.IsNotFound(err) {
			return fmt.Errorf("%w: %s", appErr.ErrUnknownItem, identifier)
		}
		return err
	}
	removed, err := s.store.DeleteBySource(ctx, item.Collection, identifier)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := s.items.Delete(ctx, typ, identifier); err != nil && !appErr.IsNotFound(err) {
		return fmt.Errorf("delete knowledge item: %w", err)
	}
	if typ == model.SourceTypeFile && s.files != nil {
		if err := s.files.Delete(ctx, uploadKey(item.Collection, identifier)); err != nil {
			logutil.GetLogger(ctx).Warn("delete upload failed", zap.String("identifier", identifier), zap.Error(err))
		}
	}
	logutil.GetLogger(ctx).Info("knowledge item removed",
		zap.String("type", string(typ)),
		zap.String("identifier", identifier),
		zap.Int64("chunks", removed),
	)
	return nil
}

// Reembed re-reads, re-chunks and re-embeds a tracked item, swapping its
// chunks in one batch. On failure the previous chunks stay in place.
func (s *KnowledgeService) Reembed(ctx context.Context, identifier string, typ model.SourceType) (*model.KnowledgeItem, error) {
	if _, ok := model.ParseSourceType(string(typ)); !ok {
		return nil, appErr.ErrInvalidSourceType
	}
	if s.rebuilder == nil {
		return nil, fmt.Errorf("%w: reembed not configured", appErr.ErrInternal)
	}
	unlock := s.locks.Lock(itemKey(typ, identifier))
	defer unlock()

	item, err := s.items.Get(ctx, typ, identifier)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", appErr.ErrUnknownItem, identifier)
		}
		return nil, err
	}
	chunks, err := s.rebuilder.Rebuild(ctx, item)
	if err != nil {
		return nil, err
	}
	if err := s.recordLocked(ctx, item, chunks); err != nil {
		return nil, err
	}
	return item, nil
}
