package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Embedder はクエリのEmbedding生成インターフェース
type Embedder interface {
	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Repository はベクトル・キーワード両インデックスへの検索インターフェースです。
// どちらの検索もcompleted状態のドキュメントの子チャンクのみを対象とします。
type Repository interface {
	// VectorSearch はコレクション内でコサイン類似度の上位limit件を返す
	VectorSearch(ctx context.Context, collectionID uuid.UUID, queryVector []float32, limit int) ([]*ChunkHit, error)
	// KeywordSearch はコレクション内でキーワード関連度の上位limit件を返す
	KeywordSearch(ctx context.Context, collectionID uuid.UUID, query string, limit int) ([]*ChunkHit, error)
}

// Config はハイブリッド検索の設定
type Config struct {
	InitialK     int     // 各インデックスから取得する候補数（デフォルト: 30）
	VectorWeight float64 // ベクトルスコアの重み（デフォルト: 0.7）
	BM25Weight   float64 // キーワードスコアの重み（デフォルト: 0.3）
}

// DefaultConfig はデフォルトのハイブリッド検索設定を返します
func DefaultConfig() Config {
	return Config{
		InitialK:     30,
		VectorWeight: 0.7,
		BM25Weight:   0.3,
	}
}

// HybridRetriever はベクトル検索とキーワード検索を融合した候補リストを生成します。
// 再現率重視の段階であり、精度はリランク段階が担います。
type HybridRetriever struct {
	repo     Repository
	embedder Embedder
	cfg      Config
	logger   *slog.Logger
}

// HybridRetrieverOption はHybridRetrieverのオプション設定
type HybridRetrieverOption func(*HybridRetriever)

// WithRetrieverLogger はHybridRetrieverにロガーを設定する
func WithRetrieverLogger(logger *slog.Logger) HybridRetrieverOption {
	return func(r *HybridRetriever) {
		r.logger = logger
	}
}

// NewHybridRetriever は新しいHybridRetrieverを作成します
func NewHybridRetriever(repo Repository, embedder Embedder, cfg Config, opts ...HybridRetrieverOption) *HybridRetriever {
	if cfg.InitialK <= 0 {
		cfg.InitialK = DefaultConfig().InitialK
	}

	r := &HybridRetriever{
		repo:     repo,
		embedder: embedder,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Retrieve はクエリに対する融合済み候補リストをスコア降順で返します。
// インデックス済みドキュメントが存在しないスコープでは空リストを返します（エラーではない）。
// クエリEmbeddingの失敗はハードエラーとして呼び出し元に返します。
func (r *HybridRetriever) Retrieve(ctx context.Context, collectionID uuid.UUID, query string) ([]*Candidate, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if collectionID == uuid.Nil {
		return nil, fmt.Errorf("collectionID is required")
	}

	queryVector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// ベクトル検索とキーワード検索を並行実行
	type vectorResult struct {
		hits []*ChunkHit
		err  error
	}
	type keywordResult struct {
		hits []*ChunkHit
		err  error
	}

	vectorCh := make(chan vectorResult, 1)
	keywordCh := make(chan keywordResult, 1)

	go func() {
		hits, err := r.repo.VectorSearch(ctx, collectionID, queryVector, r.cfg.InitialK)
		vectorCh <- vectorResult{hits: hits, err: err}
	}()

	go func() {
		hits, err := r.repo.KeywordSearch(ctx, collectionID, query, r.cfg.InitialK)
		keywordCh <- keywordResult{hits: hits, err: err}
	}()

	vectorRes := <-vectorCh
	keywordRes := <-keywordCh

	if vectorRes.err != nil {
		return nil, fmt.Errorf("vector search failed: %w", vectorRes.err)
	}
	if keywordRes.err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", keywordRes.err)
	}

	candidates := r.fuse(vectorRes.hits, keywordRes.hits)

	r.logger.Debug("hybrid retrieval completed",
		"collectionID", collectionID.String(),
		"vectorHits", len(vectorRes.hits),
		"keywordHits", len(keywordRes.hits),
		"candidates", len(candidates),
	)

	return candidates, nil
}

// fuse は両インデックスのヒットを正規化・重み付けして融合します。
// 片方のリストにしか現れないチャンクの欠落スコアは0として扱います
func (r *HybridRetriever) fuse(vectorHits, keywordHits []*ChunkHit) []*Candidate {
	vectorNorm := normalizeFactor(vectorHits)
	keywordNorm := normalizeFactor(keywordHits)

	merged := make(map[uuid.UUID]*Candidate)

	for _, hit := range vectorHits {
		merged[hit.ChunkID] = candidateFromHit(hit)
		merged[hit.ChunkID].VectorScore = hit.Score / vectorNorm
	}
	for _, hit := range keywordHits {
		cand, ok := merged[hit.ChunkID]
		if !ok {
			cand = candidateFromHit(hit)
			merged[hit.ChunkID] = cand
		}
		cand.KeywordScore = hit.Score / keywordNorm
	}

	candidates := make([]*Candidate, 0, len(merged))
	for _, cand := range merged {
		cand.FusedScore = r.cfg.VectorWeight*cand.VectorScore + r.cfg.BM25Weight*cand.KeywordScore
		candidates = append(candidates, cand)
	}

	// 融合スコア降順、同点はチャンク作成順で決定的に並べる
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].FusedScore != candidates[j].FusedScore {
			return candidates[i].FusedScore > candidates[j].FusedScore
		}
		return candidates[i].Less(candidates[j])
	})

	return candidates
}

// normalizeFactor はリストのスコアを[0,1]に収める正規化係数を返します。
// コサイン類似度のように既に[0,1]に収まるスコアはそのまま通し（係数1）、
// ts_rankのような上限のないスコアのみリスト内最大値で割ります
func normalizeFactor(hits []*ChunkHit) float64 {
	maxScore := 0.0
	for _, hit := range hits {
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}
	if maxScore <= 1.0 {
		return 1.0
	}
	return maxScore
}

// candidateFromHit はChunkHitから候補を生成します（スコアは未設定）
func candidateFromHit(hit *ChunkHit) *Candidate {
	return &Candidate{
		ChunkID:      hit.ChunkID,
		DocumentID:   hit.DocumentID,
		DocumentName: hit.DocumentName,
		DocSeq:       hit.DocSeq,
		ParentIndex:  hit.ParentIndex,
		Ordinal:      hit.Ordinal,
		Content:      hit.Content,
		Page:         hit.Page,
		Section:      hit.Section,
		RerankScore:  mo.None[float64](),
	}
}
