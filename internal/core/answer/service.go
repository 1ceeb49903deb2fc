package answer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jinford/course-rag/internal/core/rerank"
	"github.com/jinford/course-rag/internal/core/retrieval"
)

// DefaultHistoryLimit は回答生成に渡す会話履歴のデフォルト上限
const DefaultHistoryLimit = 10

// Retriever はハイブリッド検索のインターフェース
type Retriever interface {
	Retrieve(ctx context.Context, collectionID uuid.UUID, query string) ([]*retrieval.Candidate, error)
}

// GenerateRequest は回答生成の入力を表します
type GenerateRequest struct {
	Prompt  string    // コンテキストと質問を含むプロンプト
	History []Message // 会話履歴（古い順）
}

// AnswerClient は回答生成サービスのインターフェースです。
// 生成そのものは検索コアの責務外ですが、入力契約（順序付きコンテキスト + 引用
// メタデータ + 会話履歴）はコアの出力契約の一部です
type AnswerClient interface {
	GenerateAnswer(ctx context.Context, req GenerateRequest) (string, error)
}

// AnswerService は質問に対して検索→リランク→コンテキスト構築→回答生成を実行します。
// リクエストスコープでステートレスなため、並行クエリ間で状態を共有しません
type AnswerService struct {
	retriever    Retriever
	reranker     rerank.Reranker
	assembler    *Assembler
	client       AnswerClient
	historyLimit int
	logger       *slog.Logger
}

// AnswerServiceOption はAnswerServiceのオプション設定
type AnswerServiceOption func(*AnswerService)

// WithAnswerLogger はAnswerServiceにロガーを設定する
func WithAnswerLogger(logger *slog.Logger) AnswerServiceOption {
	return func(s *AnswerService) {
		s.logger = logger
	}
}

// WithHistoryLimit は会話履歴の上限を設定する
func WithHistoryLimit(limit int) AnswerServiceOption {
	return func(s *AnswerService) {
		if limit > 0 {
			s.historyLimit = limit
		}
	}
}

// NewAnswerService は新しいAnswerServiceを作成します
func NewAnswerService(
	retriever Retriever,
	reranker rerank.Reranker,
	assembler *Assembler,
	client AnswerClient,
	opts ...AnswerServiceOption,
) *AnswerService {
	svc := &AnswerService{
		retriever:    retriever,
		reranker:     reranker,
		assembler:    assembler,
		client:       client,
		historyLimit: DefaultHistoryLimit,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// Answer は質問に対してRAGベースで回答を生成します。
// 検索失敗はハードエラー、リランク失敗はフォールバック（Degradedフラグ）、
// 該当教材なしはErrNoRelevantMaterialsとして区別されます
func (s *AnswerService) Answer(ctx context.Context, input QueryInput) (*AnswerResult, error) {
	blocks, sources, degraded, err := s.RetrieveContext(ctx, input)
	if err != nil {
		return nil, err
	}

	prompt := BuildAnswerPrompt(input.Query, blocks)
	history := capHistory(input.History, s.historyLimit)

	answer, err := s.client.GenerateAnswer(ctx, GenerateRequest{
		Prompt:  prompt,
		History: history,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	s.logger.Info("answer generated",
		"collectionID", input.CollectionID.String(),
		"contextBlocks", len(blocks),
		"sources", len(sources),
		"degraded", degraded,
		"answerLength", len(answer),
	)

	return &AnswerResult{
		Answer:        answer,
		ContextBlocks: blocks,
		Sources:       sources,
		Degraded:      degraded,
	}, nil
}

// RetrieveContext は回答生成を行わず、コンテキストブロックとソース一覧のみを返します。
// 1クエリ内の順序保証: 検索が完全に終わってからリランク、リランク後にコンテキスト構築
func (s *AnswerService) RetrieveContext(ctx context.Context, input QueryInput) ([]ContextBlock, []Source, bool, error) {
	if input.Query == "" {
		return nil, nil, false, fmt.Errorf("query is required")
	}
	if input.CollectionID == uuid.Nil {
		return nil, nil, false, fmt.Errorf("collectionID is required")
	}

	candidates, err := s.retriever.Retrieve(ctx, input.CollectionID, input.Query)
	if err != nil {
		return nil, nil, false, fmt.Errorf("retrieval failed: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil, false, ErrNoRelevantMaterials
	}

	result, err := s.reranker.Rerank(ctx, input.Query, candidates)
	if err != nil {
		return nil, nil, false, fmt.Errorf("rerank failed: %w", err)
	}
	if result.Degraded {
		// 検索品質の低下はユーザーエラーにせず観測可能にする
		s.logger.Warn("reranking degraded, answering with fused order",
			"collectionID", input.CollectionID.String(),
		)
	}

	blocks, sources, err := s.assembler.Assemble(ctx, result.Candidates)
	if err != nil {
		return nil, nil, false, err
	}

	return blocks, sources, result.Degraded, nil
}

// capHistory は会話履歴を直近limit件に制限します（古い順は維持）
func capHistory(history []Message, limit int) []Message {
	if len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
