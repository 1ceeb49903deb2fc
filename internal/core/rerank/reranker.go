package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/samber/mo"

	"github.com/jinford/course-rag/internal/core/retrieval"
)

// DefaultFinalK はリランク後に残すデフォルト件数
const DefaultFinalK = 5

// Result はリランク段階の出力を表します
type Result struct {
	// Candidates は最終順序の候補リスト（入力候補の部分集合、最大finalK件）
	Candidates []*retrieval.Candidate
	// Degraded はスコアリングモデルが利用できず融合順にフォールバックしたことを示します。
	// ユーザー向けエラーではなく、観測可能な検索品質の低下シグナルです
	Degraded bool
}

// Reranker は候補リストの最終順序を決定する戦略インターフェースです
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []*retrieval.Candidate) (*Result, error)
}

// RelevanceScorer は高精度（かつ低速）な関連度モデルのインターフェースです。
// クエリと候補本文の関連度を[0,1]で返します
type RelevanceScorer interface {
	Score(ctx context.Context, query, passage string) (float64, error)
}

// Passthrough はリランク無効時の戦略です。融合順をそのまま維持し、
// finalK件に切り詰めるだけです
type Passthrough struct {
	finalK int
}

// NewPassthrough は新しいPassthroughを作成します
func NewPassthrough(finalK int) *Passthrough {
	if finalK <= 0 {
		finalK = DefaultFinalK
	}
	return &Passthrough{finalK: finalK}
}

var _ Reranker = (*Passthrough)(nil)

// Rerank は入力順を維持したままfinalK件に切り詰めます
func (p *Passthrough) Rerank(ctx context.Context, query string, candidates []*retrieval.Candidate) (*Result, error) {
	return &Result{
		Candidates: truncate(candidates, p.finalK),
		Degraded:   false,
	}, nil
}

// Scored は関連度モデルで各候補を独立に再スコアリングする戦略です。
// モデルが利用できない場合はリクエスト単位で融合順にフォールバックします
// （検索品質の低下であってクエリ全体の失敗ではない）
type Scored struct {
	scorer RelevanceScorer
	finalK int
	logger *slog.Logger
}

// ScoredOption はScoredのオプション設定
type ScoredOption func(*Scored)

// WithScoredLogger はScoredにロガーを設定する
func WithScoredLogger(logger *slog.Logger) ScoredOption {
	return func(s *Scored) {
		s.logger = logger
	}
}

// NewScored は新しいScoredを作成します
func NewScored(scorer RelevanceScorer, finalK int, opts ...ScoredOption) *Scored {
	if finalK <= 0 {
		finalK = DefaultFinalK
	}
	s := &Scored{
		scorer: scorer,
		finalK: finalK,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

var _ Reranker = (*Scored)(nil)

// Rerank は各候補をクエリに対して独立にスコアリングし、スコア降順で
// finalK件を返します。入力に含まれないチャンクを追加することはありません
func (s *Scored) Rerank(ctx context.Context, query string, candidates []*retrieval.Candidate) (*Result, error) {
	if len(candidates) == 0 {
		return &Result{Candidates: []*retrieval.Candidate{}}, nil
	}

	scored := make([]*retrieval.Candidate, len(candidates))
	copy(scored, candidates)

	for _, cand := range scored {
		// 高コストな外部呼び出しの前にキャンセルを確認する
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		score, err := s.scorer.Score(ctx, query, cand.Content)
		if err != nil {
			// ソフト障害: 融合順にフォールバックし、劣化を観測可能にする
			s.logger.Warn("rerank scoring failed, falling back to fused order",
				"error", err,
				"candidates", len(candidates),
			)
			return s.fallback(candidates), nil
		}
		cand.RerankScore = mo.Some(score)
	}

	sort.Slice(scored, func(i, j int) bool {
		si := scored[i].RerankScore.OrElse(0)
		sj := scored[j].RerankScore.OrElse(0)
		if si != sj {
			return si > sj
		}
		return scored[i].Less(scored[j])
	})

	return &Result{
		Candidates: truncate(scored, s.finalK),
		Degraded:   false,
	}, nil
}

// fallback はリランク前の融合順をそのまま採用します。
// 部分的に付与されたリランクスコアは破棄します
func (s *Scored) fallback(candidates []*retrieval.Candidate) *Result {
	kept := truncate(candidates, s.finalK)
	for _, cand := range kept {
		cand.RerankScore = mo.None[float64]()
	}
	return &Result{
		Candidates: kept,
		Degraded:   true,
	}
}

// truncate は先頭からk件を返します
func truncate(candidates []*retrieval.Candidate, k int) []*retrieval.Candidate {
	if len(candidates) <= k {
		out := make([]*retrieval.Candidate, len(candidates))
		copy(out, candidates)
		return out
	}
	out := make([]*retrieval.Candidate, k)
	copy(out, candidates[:k])
	return out
}

// ForConfig は設定に応じたリランク戦略を返します。
// useReranking無効時はPassthrough、有効時はScoredです
func ForConfig(useReranking bool, scorer RelevanceScorer, finalK int, logger *slog.Logger) (Reranker, error) {
	if !useReranking {
		return NewPassthrough(finalK), nil
	}
	if scorer == nil {
		return nil, fmt.Errorf("relevance scorer is required when reranking is enabled")
	}
	return NewScored(scorer, finalK, WithScoredLogger(logger)), nil
}
