package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/coursesync/internal/model"
)

// PostgresConnectionRepo はPostgreSQLを使用した連携情報リポジトリ。
type PostgresConnectionRepo struct {
	db *sql.DB
}

// NewPostgresConnectionRepo はPostgresConnectionRepoを生成する。
func NewPostgresConnectionRepo(db *sql.DB) *PostgresConnectionRepo {
	return &PostgresConnectionRepo{db: db}
}

// ListConnected は連携中のユーザーを取得する。
func (r *PostgresConnectionRepo) ListConnected(ctx context.Context) ([]*model.Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, email, encrypted_token, token_expiry, connected, last_synced_at, created_at, updated_at
		 FROM connections WHERE connected = true ORDER BY user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("連携ユーザー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var conns []*model.Connection
	for rows.Next() {
		c := &model.Connection{}
		var tokenExpiry, lastSynced sql.NullTime
		if err := rows.Scan(&c.UserID, &c.Email, &c.EncryptedToken, &tokenExpiry, &c.Connected,
			&lastSynced, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("連携情報のスキャンに失敗しました: %w", err)
		}
		if tokenExpiry.Valid {
			c.TokenExpiry = &tokenExpiry.Time
		}
		if lastSynced.Valid {
			c.LastSyncedAt = &lastSynced.Time
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("連携ユーザー一覧の読み込みに失敗しました: %w", err)
	}
	return conns, nil
}

// MarkDisconnected は連携を無効にする。
func (r *PostgresConnectionRepo) MarkDisconnected(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE connections SET connected = false, updated_at = now() WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("連携の無効化に失敗しました: %w", err)
	}
	return nil
}

// UpdateLastSynced は最終同期日時を記録する。
func (r *PostgresConnectionRepo) UpdateLastSynced(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE connections SET last_synced_at = $2, updated_at = now() WHERE user_id = $1`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("最終同期日時の更新に失敗しました: %w", err)
	}
	return nil
}
