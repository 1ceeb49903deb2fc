package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/samber/mo"

	"github.com/jinford/course-rag/internal/core/ingestion"
	"github.com/jinford/course-rag/pkg/lock"
)

// DocumentRepository は core/ingestion.Repository を実装する PostgreSQL リポジトリ。
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository は新しい DocumentRepository を返す。
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

var _ ingestion.Repository = (*DocumentRepository)(nil)

const documentColumns = `id, collection_id, name, status, failure_reason, seq, created_at, updated_at`

// CreateDocument はドキュメントをpending状態で登録する。
// 同一IDが既に存在する場合は既存レコードをそのまま返す（再取り込みで使用）。
func (r *DocumentRepository) CreateDocument(ctx context.Context, id, collectionID uuid.UUID, name string) (*ingestion.SourceDocument, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO documents (id, collection_id, name, status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()
		RETURNING `+documentColumns,
		id, collectionID, name,
	)

	doc, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	return doc, nil
}

// GetDocument はIDでドキュメントを取得する。
func (r *DocumentRepository) GetDocument(ctx context.Context, id uuid.UUID) (*ingestion.SourceDocument, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE id = $1`,
		id,
	)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ingestion.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// UpdateDocumentStatus はドキュメントの処理状態を更新する。
func (r *DocumentRepository) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status ingestion.DocumentStatus, failureReason mo.Option[string]) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents SET status = $2, failure_reason = $3, updated_at = now()
		WHERE id = $1`,
		id, string(status), optionToTextPtr(failureReason),
	)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingestion.ErrDocumentNotFound
	}
	return nil
}

// ReplaceChunks はドキュメントのチャンク集合を原子的に置き換える。
// トランザクションスコープのアドバイザリロックで同一ドキュメントの
// インデックス処理を直列化し、既存チャンクの削除と新チャンクの挿入を
// 1トランザクションでコミットする。
func (r *DocumentRepository) ReplaceChunks(ctx context.Context, documentID uuid.UUID, parents []*ingestion.ParentChunk, children []*ingestion.ChildChunk) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lock.AcquireDocumentLock(ctx, tx, documentID.String()); err != nil {
		return err
	}

	// 子→親の順で既存チャンクを削除（外部キー制約）
	if _, err := tx.Exec(ctx, `DELETE FROM child_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete existing child chunks: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM parent_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete existing parent chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range parents {
		batch.Queue(`
			INSERT INTO parent_chunks (document_id, idx, start_char, end_char, content, token_count)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			p.DocumentID, p.Index, p.StartChar, p.EndChar, p.Content, p.TokenCount,
		)
	}
	for _, c := range children {
		batch.Queue(`
			INSERT INTO child_chunks (id, document_id, parent_idx, ordinal, start_char, end_char, content, token_count, page, section, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			c.ID, c.DocumentID, c.ParentIndex, c.Ordinal, c.StartChar, c.EndChar,
			c.Content, c.TokenCount, optionToIntPtr(c.Page), optionToTextPtr(c.Section),
			pgvector.NewVector(c.Embedding),
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range batch.Len() {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit chunk replacement: %w", err)
	}
	return nil
}

// DeleteDocument はドキュメントと配下の全チャンクを削除する。
// チャンクは外部キーのON DELETE CASCADEで同一トランザクション内で消える。
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingestion.ErrDocumentNotFound
	}
	return nil
}

// scanDocument は documents の1行を SourceDocument に変換する
func scanDocument(row pgx.Row) (*ingestion.SourceDocument, error) {
	var (
		doc           ingestion.SourceDocument
		status        string
		failureReason *string
	)
	if err := row.Scan(
		&doc.ID,
		&doc.CollectionID,
		&doc.Name,
		&status,
		&failureReason,
		&doc.Seq,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	); err != nil {
		return nil, err
	}
	doc.Status = ingestion.DocumentStatus(status)
	doc.FailureReason = textPtrToOption(failureReason)
	return &doc, nil
}
