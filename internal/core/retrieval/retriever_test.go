package retrieval

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
)

// stubSearchRepository はRepositoryのテスト用スタブ
type stubSearchRepository struct {
	vectorHits  []*ChunkHit
	keywordHits []*ChunkHit
	vectorErr   error
	keywordErr  error
}

func (r *stubSearchRepository) VectorSearch(ctx context.Context, collectionID uuid.UUID, queryVector []float32, limit int) ([]*ChunkHit, error) {
	if r.vectorErr != nil {
		return nil, r.vectorErr
	}
	return r.vectorHits, nil
}

func (r *stubSearchRepository) KeywordSearch(ctx context.Context, collectionID uuid.UUID, query string, limit int) ([]*ChunkHit, error) {
	if r.keywordErr != nil {
		return nil, r.keywordErr
	}
	return r.keywordHits, nil
}

var _ Repository = (*stubSearchRepository)(nil)

// stubQueryEmbedder はEmbedderのテスト用スタブ
type stubQueryEmbedder struct {
	embedErr error
}

func (e *stubQueryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.embedErr != nil {
		return nil, e.embedErr
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

var _ Embedder = (*stubQueryEmbedder)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRetriever(repo Repository) *HybridRetriever {
	return NewHybridRetriever(repo, &stubQueryEmbedder{}, DefaultConfig(), WithRetrieverLogger(testLogger()))
}

// hit は指定スコアのChunkHitを生成するテストヘルパー
func hit(chunkID uuid.UUID, docSeq int64, parentIndex, ordinal int, score float64) *ChunkHit {
	return &ChunkHit{
		ChunkID:      chunkID,
		DocumentID:   uuid.New(),
		DocumentName: fmt.Sprintf("doc-%d", docSeq),
		DocSeq:       docSeq,
		ParentIndex:  mo.Some(parentIndex),
		Ordinal:      ordinal,
		Content:      "chunk content",
		Score:        score,
	}
}

func TestRetrieveValidation(t *testing.T) {
	retriever := newTestRetriever(&stubSearchRepository{})

	_, err := retriever.Retrieve(context.Background(), uuid.New(), "")
	assert.ErrorContains(t, err, "query is required")

	_, err = retriever.Retrieve(context.Background(), uuid.Nil, "what is a database?")
	assert.ErrorContains(t, err, "collectionID is required")
}

// TestRetrieveEmbedFailure はクエリEmbeddingの失敗がハードエラーになることを確認する
func TestRetrieveEmbedFailure(t *testing.T) {
	retriever := NewHybridRetriever(
		&stubSearchRepository{},
		&stubQueryEmbedder{embedErr: fmt.Errorf("api down")},
		DefaultConfig(),
		WithRetrieverLogger(testLogger()),
	)

	_, err := retriever.Retrieve(context.Background(), uuid.New(), "what is a database?")
	require.ErrorContains(t, err, "failed to embed query")
}

// TestRetrieveEmptyScope はヒットのないスコープで空リストが返ることを確認する
// （エラーではない）
func TestRetrieveEmptyScope(t *testing.T) {
	retriever := newTestRetriever(&stubSearchRepository{})

	candidates, err := retriever.Retrieve(context.Background(), uuid.New(), "what is a database?")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestRetrieveSearchErrors(t *testing.T) {
	retriever := newTestRetriever(&stubSearchRepository{vectorErr: fmt.Errorf("index offline")})
	_, err := retriever.Retrieve(context.Background(), uuid.New(), "query")
	assert.ErrorContains(t, err, "vector search failed")

	retriever = newTestRetriever(&stubSearchRepository{keywordErr: fmt.Errorf("index offline")})
	_, err = retriever.Retrieve(context.Background(), uuid.New(), "query")
	assert.ErrorContains(t, err, "keyword search failed")
}

// TestRetrieveFusionWeights は片方のリストにしか現れないチャンクの
// 欠落スコアが0として融合されることを確認する
func TestRetrieveFusionWeights(t *testing.T) {
	vectorOnly := hit(uuid.New(), 1, 0, 0, 0.9)
	keywordOnly := hit(uuid.New(), 2, 0, 0, 0.3)

	retriever := newTestRetriever(&stubSearchRepository{
		vectorHits:  []*ChunkHit{vectorOnly},
		keywordHits: []*ChunkHit{keywordOnly},
	})

	candidates, err := retriever.Retrieve(context.Background(), uuid.New(), "query")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	// ベクトルのみ: 0.7*0.9 + 0.3*0 = 0.63
	assert.Equal(t, vectorOnly.ChunkID, candidates[0].ChunkID)
	assert.InDelta(t, 0.63, candidates[0].FusedScore, 1e-9)

	// キーワードのみ: 0.7*0 + 0.3*0.3 = 0.09
	assert.Equal(t, keywordOnly.ChunkID, candidates[1].ChunkID)
	assert.InDelta(t, 0.09, candidates[1].FusedScore, 1e-9)
}

// TestRetrieveMergesBothLegs は両リストに現れるチャンクが1候補に
// マージされることを確認する
func TestRetrieveMergesBothLegs(t *testing.T) {
	chunkID := uuid.New()
	vectorHit := hit(chunkID, 1, 0, 0, 0.8)
	keywordHit := hit(chunkID, 1, 0, 0, 0.5)

	retriever := newTestRetriever(&stubSearchRepository{
		vectorHits:  []*ChunkHit{vectorHit},
		keywordHits: []*ChunkHit{keywordHit},
	})

	candidates, err := retriever.Retrieve(context.Background(), uuid.New(), "query")
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	assert.InDelta(t, 0.8, candidates[0].VectorScore, 1e-9)
	assert.InDelta(t, 0.5, candidates[0].KeywordScore, 1e-9)
	assert.InDelta(t, 0.7*0.8+0.3*0.5, candidates[0].FusedScore, 1e-9)
}

// TestRetrieveKeywordNormalization は上限のないキーワードスコアが
// リスト内最大値で正規化されることを確認する
func TestRetrieveKeywordNormalization(t *testing.T) {
	first := hit(uuid.New(), 1, 0, 0, 4.0)
	second := hit(uuid.New(), 2, 0, 0, 2.0)

	retriever := newTestRetriever(&stubSearchRepository{
		keywordHits: []*ChunkHit{first, second},
	})

	candidates, err := retriever.Retrieve(context.Background(), uuid.New(), "query")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.InDelta(t, 1.0, candidates[0].KeywordScore, 1e-9)
	assert.InDelta(t, 0.5, candidates[1].KeywordScore, 1e-9)
}

// TestRetrieveVectorScoresNotRenormalized は[0,1]に収まるベクトル類似度が
// リスト内最大値で引き伸ばされないことを確認する
func TestRetrieveVectorScoresNotRenormalized(t *testing.T) {
	first := hit(uuid.New(), 1, 0, 0, 0.9)
	second := hit(uuid.New(), 2, 0, 0, 0.45)

	retriever := newTestRetriever(&stubSearchRepository{
		vectorHits: []*ChunkHit{first, second},
	})

	candidates, err := retriever.Retrieve(context.Background(), uuid.New(), "query")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	// 0.9が1.0に正規化されてはならない
	assert.InDelta(t, 0.9, candidates[0].VectorScore, 1e-9)
	assert.InDelta(t, 0.45, candidates[1].VectorScore, 1e-9)
}

// TestRetrieveTieBreakDeterministic はスコア同点の候補がチャンク作成順で
// 決定的に並ぶことを確認する
func TestRetrieveTieBreakDeterministic(t *testing.T) {
	later := hit(uuid.New(), 2, 0, 0, 0.8)
	earlier := hit(uuid.New(), 1, 3, 1, 0.8)

	retriever := newTestRetriever(&stubSearchRepository{
		vectorHits: []*ChunkHit{later, earlier},
	})

	candidates, err := retriever.Retrieve(context.Background(), uuid.New(), "query")
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	// 同点: DocSeqの小さい方が先
	assert.Equal(t, earlier.ChunkID, candidates[0].ChunkID)
	assert.Equal(t, later.ChunkID, candidates[1].ChunkID)
}

func TestCandidateAuthoritativeScore(t *testing.T) {
	cand := &Candidate{FusedScore: 0.4, RerankScore: mo.None[float64]()}
	assert.InDelta(t, 0.4, cand.AuthoritativeScore(), 1e-9)

	cand.RerankScore = mo.Some(0.95)
	assert.InDelta(t, 0.95, cand.AuthoritativeScore(), 1e-9)
}

func TestCandidateLess(t *testing.T) {
	base := &Candidate{DocSeq: 1, ParentIndex: mo.Some(2), Ordinal: 3}

	assert.True(t, base.Less(&Candidate{DocSeq: 2, ParentIndex: mo.Some(0), Ordinal: 0}))
	assert.True(t, base.Less(&Candidate{DocSeq: 1, ParentIndex: mo.Some(3), Ordinal: 0}))
	assert.True(t, base.Less(&Candidate{DocSeq: 1, ParentIndex: mo.Some(2), Ordinal: 4}))
	assert.False(t, base.Less(base))

	// 親リンクのない候補は同一ドキュメント内で先頭に並ぶ
	flat := &Candidate{DocSeq: 1, ParentIndex: mo.None[int](), Ordinal: 0}
	assert.True(t, flat.Less(base))
}
