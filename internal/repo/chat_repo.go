package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/pkg/dbutil"
)

const maxAppendAttempts = 3

type ChatRepo struct {
	db     *sql.DB
	driver string
}

func NewChatRepo(db *sql.DB, driver string) *ChatRepo {
	return &ChatRepo{db: db, driver: driver}
}

func (r *ChatRepo) List(ctx context.Context, tenant, userID string) ([]model.ChatTurnRecord, error) {
	where := map[string]interface{}{
		"tenant":   tenant,
		"user_id":  userID,
		"_orderby": "seq asc",
	}
	sqlStr, args, err := builder.BuildSelect("chat_turns", where, []string{"tenant", "user_id", "seq", "user_text", "assistant_text", "ctime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := make([]model.ChatTurnRecord, 0)
	for rows.Next() {
		var rec model.ChatTurnRecord
		if err := rows.Scan(&rec.Tenant, &rec.UserID, &rec.Seq, &rec.User, &rec.Assistant, &rec.Ctime); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Append stores turn as the next entry of the (tenant, userID) log. The
// primary key on (tenant, user_id, seq) rejects a concurrent writer that read
// the same tail; the loser re-reads and retries.
func (r *ChatRepo) Append(ctx context.Context, tenant, userID string, turn model.ChatTurn) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		seq, err := r.appendOnce(ctx, tenant, userID, turn)
		if err == nil {
			return seq, nil
		}
		if !dbutil.IsConflict(err) {
			return 0, err
		}
		lastErr = err
	}
	return 0, fmt.Errorf("append chat turn: %w", lastErr)
}

func (r *ChatRepo) appendOnce(ctx context.Context, tenant, userID string, turn model.ChatTurn) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	sqlStr, args := dbutil.Finalize(r.driver,
		`SELECT COALESCE(MAX(seq), 0) FROM chat_turns WHERE tenant = ? AND user_id = ?`,
		[]interface{}{tenant, userID})
	var last int64
	if err := tx.QueryRowContext(ctx, sqlStr, args...).Scan(&last); err != nil {
		return 0, err
	}
	next := last + 1
	data := map[string]interface{}{
		"tenant":         tenant,
		"user_id":        userID,
		"seq":            next,
		"user_text":      turn.User,
		"assistant_text": turn.Assistant,
		"ctime":          time.Now().UnixMilli(),
	}
	sqlStr, args, err = builder.BuildInsert("chat_turns", []map[string]interface{}{data})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(r.driver, sqlStr, args)
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}
