package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/pkg/dbutil"
	appErr "github.com/xxxsen/kbchat/internal/pkg/errors"
)

var knowledgeColumns = []string{"type", "identifier", "tenant", "collection", "chunk_count", "ingested_at"}

type KnowledgeRepo struct {
	db     *sql.DB
	driver string
}

func NewKnowledgeRepo(db *sql.DB, driver string) *KnowledgeRepo {
	return &KnowledgeRepo{db: db, driver: driver}
}

func (r *KnowledgeRepo) Upsert(ctx context.Context, item *model.KnowledgeItem) error {
	const query = `
		INSERT INTO knowledge_items (type, identifier, tenant, collection, chunk_count, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (type, identifier) DO UPDATE SET
			tenant = excluded.tenant,
			collection = excluded.collection,
			chunk_count = excluded.chunk_count,
			ingested_at = excluded.ingested_at
	`
	sqlStr, args := dbutil.Finalize(r.driver, query, []interface{}{
		string(item.Type), item.Identifier, item.Tenant, item.Collection, item.ChunkCount, item.IngestedAt,
	})
	_, err := r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *KnowledgeRepo) Get(ctx context.Context, typ model.SourceType, identifier string) (*model.KnowledgeItem, error) {
	where := map[string]interface{}{
		"type":       string(typ),
		"identifier": identifier,
	}
	sqlStr, args, err := builder.BuildSelect("knowledge_items", where, knowledgeColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	item, err := scanKnowledge(r.db.QueryRowContext(ctx, sqlStr, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *KnowledgeRepo) List(ctx context.Context) ([]model.KnowledgeItem, error) {
	where := map[string]interface{}{
		"_orderby": "ingested_at asc",
	}
	sqlStr, args, err := builder.BuildSelect("knowledge_items", where, knowledgeColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.KnowledgeItem
	for rows.Next() {
		item, err := scanKnowledge(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (r *KnowledgeRepo) Delete(ctx context.Context, typ model.SourceType, identifier string) error {
	where := map[string]interface{}{
		"type":       string(typ),
		"identifier": identifier,
	}
	sqlStr, args, err := builder.BuildDelete("knowledge_items", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKnowledge(row rowScanner) (*model.KnowledgeItem, error) {
	var (
		item model.KnowledgeItem
		typ  string
	)
	if err := row.Scan(&typ, &item.Identifier, &item.Tenant, &item.Collection, &item.ChunkCount, &item.IngestedAt); err != nil {
		return nil, err
	}
	item.Type = model.SourceType(typ)
	return &item, nil
}
