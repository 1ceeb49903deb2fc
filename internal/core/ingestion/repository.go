package ingestion

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// ErrDocumentNotFound はドキュメントが存在しない場合のエラー
var ErrDocumentNotFound = errors.New("document not found")

// Repository はドキュメントとチャンクの永続化インターフェースです
type Repository interface {
	// CreateDocument はドキュメントをpending状態で登録します。
	// 同一IDが既に存在する場合は既存レコードを返します（再取り込み用）。
	CreateDocument(ctx context.Context, id, collectionID uuid.UUID, name string) (*SourceDocument, error)

	// GetDocument はIDでドキュメントを取得します
	GetDocument(ctx context.Context, id uuid.UUID) (*SourceDocument, error)

	// UpdateDocumentStatus はドキュメントの処理状態を更新します
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status DocumentStatus, failureReason mo.Option[string]) error

	// ReplaceChunks はドキュメントのチャンク集合を原子的に置き換えます。
	// 1トランザクション内で、同一ドキュメントのインデックス処理を直列化する
	// アドバイザリロックを取得し、既存チャンクを削除してから新しい親子チャンクを
	// 挿入します。部分的なチャンク集合がコミットされることはありません。
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, parents []*ParentChunk, children []*ChildChunk) error

	// DeleteDocument はドキュメントと配下の全チャンクを1トランザクションで削除します
	DeleteDocument(ctx context.Context, id uuid.UUID) error
}

// Embedder は子チャンクのEmbedding生成インターフェースです
type Embedder interface {
	// BatchEmbed はバッチでEmbeddingを生成する
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	// MaxBatchSize はバッチ処理の最大サイズを返す
	MaxBatchSize() int
	// ModelName はモデル名を返す
	ModelName() string
}
