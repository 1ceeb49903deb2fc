package rerank

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/course-rag/internal/core/retrieval"
)

// stubScorer はRelevanceScorerのテスト用スタブ。本文ごとのスコアを返す
type stubScorer struct {
	scores map[string]float64
	// failAfter 回目以降の呼び出しでエラーを返す（0は常に成功）
	failAfter int
	calls     int
}

func (s *stubScorer) Score(ctx context.Context, query, passage string) (float64, error) {
	s.calls++
	if s.failAfter > 0 && s.calls >= s.failAfter {
		return 0, fmt.Errorf("scoring model unavailable")
	}
	return s.scores[passage], nil
}

var _ RelevanceScorer = (*stubScorer)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// cand は指定内容の候補を生成するテストヘルパー
func cand(docSeq int64, ordinal int, fused float64, content string) *retrieval.Candidate {
	return &retrieval.Candidate{
		ChunkID:     uuid.New(),
		DocumentID:  uuid.New(),
		DocSeq:      docSeq,
		ParentIndex: mo.Some(0),
		Ordinal:     ordinal,
		Content:     content,
		FusedScore:  fused,
		RerankScore: mo.None[float64](),
	}
}

func TestPassthroughTruncates(t *testing.T) {
	candidates := make([]*retrieval.Candidate, 0, 10)
	for i := range 10 {
		candidates = append(candidates, cand(1, i, 1.0-float64(i)*0.1, fmt.Sprintf("chunk %d", i)))
	}

	result, err := NewPassthrough(5).Rerank(context.Background(), "query", candidates)
	require.NoError(t, err)

	assert.False(t, result.Degraded)
	require.Len(t, result.Candidates, 5)
	// 融合順をそのまま維持する
	for i, c := range result.Candidates {
		assert.Same(t, candidates[i], c)
		assert.False(t, c.RerankScore.IsPresent())
	}
}

// TestScoredReorders は関連度モデルのスコアで候補が並び替えられることを確認する
func TestScoredReorders(t *testing.T) {
	low := cand(1, 0, 0.9, "low relevance")
	high := cand(2, 0, 0.5, "high relevance")
	mid := cand(3, 0, 0.7, "mid relevance")

	scorer := &stubScorer{scores: map[string]float64{
		"low relevance":  0.2,
		"high relevance": 0.95,
		"mid relevance":  0.6,
	}}

	reranker := NewScored(scorer, 5, WithScoredLogger(testLogger()))
	result, err := reranker.Rerank(context.Background(), "query", []*retrieval.Candidate{low, high, mid})
	require.NoError(t, err)

	assert.False(t, result.Degraded)
	require.Len(t, result.Candidates, 3)
	assert.Same(t, high, result.Candidates[0])
	assert.Same(t, mid, result.Candidates[1])
	assert.Same(t, low, result.Candidates[2])

	for _, c := range result.Candidates {
		assert.True(t, c.RerankScore.IsPresent())
	}
}

// TestScoredNoNewChunks はリランクが入力に含まれないチャンクを
// 追加しないことを確認する
func TestScoredNoNewChunks(t *testing.T) {
	candidates := make([]*retrieval.Candidate, 0, 8)
	inputIDs := make(map[uuid.UUID]bool)
	scores := make(map[string]float64)
	for i := range 8 {
		c := cand(1, i, 0.5, fmt.Sprintf("chunk %d", i))
		candidates = append(candidates, c)
		inputIDs[c.ChunkID] = true
		scores[c.Content] = float64(i) * 0.1
	}

	reranker := NewScored(&stubScorer{scores: scores}, 5, WithScoredLogger(testLogger()))
	result, err := reranker.Rerank(context.Background(), "query", candidates)
	require.NoError(t, err)

	require.Len(t, result.Candidates, 5)
	for _, c := range result.Candidates {
		assert.True(t, inputIDs[c.ChunkID], "reranker must only reorder and truncate")
	}
}

// TestScoredFallbackOnError はモデル障害時に融合順へフォールバックし、
// Degradedフラグが立つことを確認する（クエリ全体は失敗しない）
func TestScoredFallbackOnError(t *testing.T) {
	first := cand(1, 0, 0.9, "first")
	second := cand(2, 0, 0.7, "second")
	third := cand(3, 0, 0.5, "third")

	scorer := &stubScorer{scores: map[string]float64{"first": 0.8}, failAfter: 2}
	reranker := NewScored(scorer, 5, WithScoredLogger(testLogger()))

	result, err := reranker.Rerank(context.Background(), "query", []*retrieval.Candidate{first, second, third})
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	require.Len(t, result.Candidates, 3)
	// 融合順を維持する
	assert.Same(t, first, result.Candidates[0])
	assert.Same(t, second, result.Candidates[1])
	assert.Same(t, third, result.Candidates[2])

	// 部分的に付与されたリランクスコアは破棄される
	for _, c := range result.Candidates {
		assert.False(t, c.RerankScore.IsPresent())
	}
}

func TestScoredEmptyCandidates(t *testing.T) {
	reranker := NewScored(&stubScorer{}, 5, WithScoredLogger(testLogger()))
	result, err := reranker.Rerank(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
	assert.False(t, result.Degraded)
}

// TestScoredTieBreak はスコア同点の候補がチャンク作成順で並ぶことを確認する
func TestScoredTieBreak(t *testing.T) {
	later := cand(2, 0, 0.5, "later chunk")
	earlier := cand(1, 0, 0.5, "earlier chunk")

	scorer := &stubScorer{scores: map[string]float64{
		"later chunk":   0.7,
		"earlier chunk": 0.7,
	}}
	reranker := NewScored(scorer, 5, WithScoredLogger(testLogger()))

	result, err := reranker.Rerank(context.Background(), "query", []*retrieval.Candidate{later, earlier})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 2)
	assert.Same(t, earlier, result.Candidates[0])
	assert.Same(t, later, result.Candidates[1])
}

// TestScoredDoesNotReorderInput はリランクが入力スライスの順序を
// 変更しないことを確認する
func TestScoredDoesNotReorderInput(t *testing.T) {
	first := cand(1, 0, 0.9, "first")
	second := cand(2, 0, 0.7, "second")
	input := []*retrieval.Candidate{first, second}

	scorer := &stubScorer{scores: map[string]float64{"first": 0.1, "second": 0.9}}
	reranker := NewScored(scorer, 5, WithScoredLogger(testLogger()))

	_, err := reranker.Rerank(context.Background(), "query", input)
	require.NoError(t, err)

	assert.Same(t, first, input[0])
	assert.Same(t, second, input[1])
}

func TestForConfig(t *testing.T) {
	reranker, err := ForConfig(false, nil, 5, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &Passthrough{}, reranker)

	_, err = ForConfig(true, nil, 5, testLogger())
	assert.Error(t, err)

	reranker, err = ForConfig(true, &stubScorer{}, 5, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &Scored{}, reranker)
}
