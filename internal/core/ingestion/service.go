package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/course-rag/internal/core/ingestion/chunk"
)

const (
	// DefaultEmbeddingBatchSize はEmbedding APIのデフォルトバッチサイズ
	DefaultEmbeddingBatchSize = 100
	// MinBatchSize は最小バッチサイズ（MaxBatchSize()が0を返した場合のフォールバック）
	MinBatchSize = 1
	// minDocumentChars はインデックス化に必要な最小テキスト長。
	// これ未満は抽出失敗とみなしドキュメントをfailedにする
	minDocumentChars = 100
)

// IngestService はドキュメントのチャンク化・Embedding生成・インデックス登録を行います。
// 同一ドキュメントの取り込みはリポジトリ層のアドバイザリロックで直列化され、
// 再取り込みは既存チャンクを削除してから行われるため冪等です。
type IngestService struct {
	repo     Repository
	embedder Embedder
	splitter *chunk.HierarchicalSplitter
	logger   *slog.Logger

	// 実際に使用するバッチサイズ（Embedder.MaxBatchSize()でクリップ済み）
	effectiveBatchSize int
}

// IngestServiceOption はIngestServiceのオプション設定
type IngestServiceOption func(*IngestService)

// WithIngestLogger はIngestServiceにロガーを設定する
func WithIngestLogger(logger *slog.Logger) IngestServiceOption {
	return func(s *IngestService) {
		s.logger = logger
	}
}

// NewIngestService は新しいIngestServiceを作成します
func NewIngestService(
	repo Repository,
	embedder Embedder,
	splitter *chunk.HierarchicalSplitter,
	opts ...IngestServiceOption,
) *IngestService {
	svc := &IngestService{
		repo:     repo,
		embedder: embedder,
		splitter: splitter,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	// バッチサイズをEmbedderの最大値でクリップ
	batchSize := DefaultEmbeddingBatchSize
	maxBatchSize := embedder.MaxBatchSize()
	if maxBatchSize <= 0 {
		svc.logger.Warn("embedder returned invalid max batch size, using fallback",
			"returned", maxBatchSize,
			"fallback", MinBatchSize,
		)
		maxBatchSize = MinBatchSize
	}
	if batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}
	svc.effectiveBatchSize = batchSize

	return svc
}

// Ingest はドキュメントをチャンク化してインデックスに登録します。
// 失敗時はドキュメントをfailed状態にし、部分的なチャンク集合は残しません。
// 完了済みドキュメントに対して再実行すると既存チャンクを置き換えます（冪等）。
func (s *IngestService) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	// バリデーション
	if input.DocumentID == uuid.Nil {
		return nil, fmt.Errorf("documentID is required")
	}
	if input.CollectionID == uuid.Nil {
		return nil, fmt.Errorf("collectionID is required")
	}

	doc, err := s.repo.CreateDocument(ctx, input.DocumentID, input.CollectionID, input.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	if err := s.repo.UpdateDocumentStatus(ctx, doc.ID, StatusProcessing, mo.None[string]()); err != nil {
		return nil, fmt.Errorf("failed to mark document as processing: %w", err)
	}

	result, err := s.index(ctx, input)
	if err != nil {
		// ドキュメント単位で失敗を記録する。他のドキュメントやクエリには影響しない
		if statusErr := s.repo.UpdateDocumentStatus(ctx, doc.ID, StatusFailed, mo.Some(err.Error())); statusErr != nil {
			s.logger.Error("failed to mark document as failed",
				"documentID", doc.ID.String(),
				"error", statusErr,
			)
		}
		s.logger.Warn("document ingestion failed",
			"documentID", doc.ID.String(),
			"name", input.Name,
			"error", err,
		)
		return nil, fmt.Errorf("failed to ingest document %s: %w", doc.ID, err)
	}

	if err := s.repo.UpdateDocumentStatus(ctx, doc.ID, StatusCompleted, mo.None[string]()); err != nil {
		return nil, fmt.Errorf("failed to mark document as completed: %w", err)
	}

	s.logger.Info("document ingested",
		"documentID", doc.ID.String(),
		"name", input.Name,
		"parentCount", result.ParentCount,
		"childCount", result.ChildCount,
	)

	return result, nil
}

// Delete はドキュメントと配下のチャンクを明示的に削除します。
// チャンクがドキュメントより長生きすることはありません。
func (s *IngestService) Delete(ctx context.Context, documentID uuid.UUID) error {
	if documentID == uuid.Nil {
		return fmt.Errorf("documentID is required")
	}
	if err := s.repo.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	s.logger.Info("document deleted", "documentID", documentID.String())
	return nil
}

// index はチャンク化とEmbedding生成を行い、チャンク集合を原子的に置き換えます
func (s *IngestService) index(ctx context.Context, input IngestInput) (*IngestResult, error) {
	if len(input.RawText) < minDocumentChars {
		return nil, fmt.Errorf("extracted text too short: %d chars", len(input.RawText))
	}

	splitParents, err := s.splitter.Split(input.RawText)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk document: %w", err)
	}

	parents := make([]*ParentChunk, 0, len(splitParents))
	children := make([]*ChildChunk, 0)

	for _, sp := range splitParents {
		parents = append(parents, &ParentChunk{
			DocumentID: input.DocumentID,
			Index:      sp.Index,
			StartChar:  sp.StartChar,
			EndChar:    sp.EndChar,
			Content:    sp.Content,
			TokenCount: sp.TokenCount,
		})

		for _, sc := range sp.Children {
			// 引用用メタデータはドキュメント内の絶対位置から解決する
			absStart := sp.StartChar + sc.StartChar
			children = append(children, &ChildChunk{
				ID:          uuid.New(),
				DocumentID:  input.DocumentID,
				ParentIndex: sp.Index,
				Ordinal:     sc.Ordinal,
				StartChar:   sc.StartChar,
				EndChar:     sc.EndChar,
				Content:     sc.Content,
				TokenCount:  sc.TokenCount,
				Page:        pageForOffset(input.PageBoundaries, absStart),
				Section:     sectionForOffset(input.SectionHints, absStart),
			})
		}
	}

	if err := s.embedChildren(ctx, children); err != nil {
		return nil, err
	}

	if err := s.repo.ReplaceChunks(ctx, input.DocumentID, parents, children); err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}

	return &IngestResult{
		ParentCount: len(parents),
		ChildCount:  len(children),
	}, nil
}

// embedChildren は子チャンクのEmbeddingをバッチで生成します。
// 1バッチでも失敗した場合はドキュメント全体の失敗として扱います
func (s *IngestService) embedChildren(ctx context.Context, children []*ChildChunk) error {
	for offset := 0; offset < len(children); offset += s.effectiveBatchSize {
		// 外部呼び出しの前にキャンセルを確認する
		if err := ctx.Err(); err != nil {
			return err
		}

		end := offset + s.effectiveBatchSize
		if end > len(children) {
			end = len(children)
		}
		batch := children[offset:end]

		texts := make([]string, len(batch))
		for i, child := range batch {
			texts[i] = child.Content
		}

		vectors, err := s.embedder.BatchEmbed(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed batch at offset %d: %w", offset, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(batch), len(vectors))
		}

		for i, child := range batch {
			child.Embedding = vectors[i]
		}
	}

	return nil
}
