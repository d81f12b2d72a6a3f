package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/coursesync/internal/model"
)

// ErrNoSecret は連携情報に利用可能なトークンがないことを示す。
var ErrNoSecret = errors.New("no usable secret")

// SecretProvider はユーザーごとの平文のセッショントークンを提供する。
// 同期処理はエラーの有無のみで分岐し、復号方式には依存しない。
type SecretProvider interface {
	Secret(ctx context.Context, conn *model.Connection) (string, error)
}

// Decrypter は暗号文を平文に戻す。
type Decrypter interface {
	Decrypt(encrypted string) (string, error)
}

// StoredSecretProvider は連携情報に保存された暗号化トークンを復号して返す。
type StoredSecretProvider struct {
	decrypter Decrypter
}

// NewStoredSecretProvider はStoredSecretProviderを生成する。
func NewStoredSecretProvider(decrypter Decrypter) *StoredSecretProvider {
	return &StoredSecretProvider{decrypter: decrypter}
}

// Secret は復号したトークンを返す。トークン未保存または復号結果が空の場合は ErrNoSecret。
func (p *StoredSecretProvider) Secret(ctx context.Context, conn *model.Connection) (string, error) {
	if conn.EncryptedToken == "" {
		return "", ErrNoSecret
	}
	token, err := p.decrypter.Decrypt(conn.EncryptedToken)
	if err != nil {
		return "", fmt.Errorf("トークンの復号に失敗しました: %w", err)
	}
	if token == "" {
		return "", ErrNoSecret
	}
	return token, nil
}
