package lock

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GenerateLockID は文字列からロックIDを生成します
func GenerateLockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
	}
	hash := h.Sum(nil)

	// ハッシュの最初の8バイトをint64として使用
	var id int64
	for i := range 8 {
		id = (id << 8) | int64(hash[i])
	}

	return id
}

// AcquireDocumentLock は指定ドキュメントのインデックス処理を直列化するための
// アドバイザリロックを取得します。トランザクションスコープのロック
// （pg_advisory_xact_lock）を使用するため、トランザクション終了時に自動解放されます。
func AcquireDocumentLock(ctx context.Context, tx pgx.Tx, documentID string) error {
	lockID := GenerateLockID("course-rag:document", documentID)
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
