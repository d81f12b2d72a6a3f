// Package model はドメインモデルを定義する。
package model

import "time"

// Connection はユーザーと外部プラットフォームの連携情報を表す。
// EncryptedTokenは暗号化されたセッショントークンで、復号は credential パッケージが担う。
type Connection struct {
	UserID         string
	Email          string
	EncryptedToken string
	TokenExpiry    *time.Time
	Connected      bool
	LastSyncedAt   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Expired はトークンの有効期限がnowより前の場合にtrueを返す。
// 有効期限が未設定の場合は期限切れとみなさない。
func (c *Connection) Expired(now time.Time) bool {
	return c.TokenExpiry != nil && c.TokenExpiry.Before(now)
}
