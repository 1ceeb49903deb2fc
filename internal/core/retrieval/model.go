package retrieval

import (
	"github.com/google/uuid"
	"github.com/samber/mo"
)

// ChunkHit は単一のインデックス（ベクトルまたはキーワード）からの検索ヒットを表します
type ChunkHit struct {
	ChunkID      uuid.UUID
	DocumentID   uuid.UUID
	DocumentName string
	DocSeq       int64             // ドキュメント作成順の採番（タイブレーク用）
	ParentIndex  mo.Option[int]    // 親チャンクへの参照（フラット取り込みでは欠落しうる）
	Ordinal      int               // 親チャンク内の連番
	Content      string
	Page         mo.Option[int]
	Section      mo.Option[string]
	Score        float64 // インデックス固有のスコア（正規化前）
}

// Candidate はクエリごとに生成される一時的な検索候補です。永続化されません。
type Candidate struct {
	ChunkID      uuid.UUID
	DocumentID   uuid.UUID
	DocumentName string
	DocSeq       int64
	ParentIndex  mo.Option[int]
	Ordinal      int
	Content      string
	Page         mo.Option[int]
	Section      mo.Option[string]

	VectorScore  float64            // 正規化済みベクトル類似度（欠落時は0）
	KeywordScore float64            // 正規化済みキーワード関連度（欠落時は0）
	FusedScore   float64            // 重み付き融合スコア
	RerankScore  mo.Option[float64] // リランク後のスコア（リランク実行時のみ）
}

// AuthoritativeScore は引用表示に使う確定スコアを返します。
// リランクが実行された場合はリランクスコア、それ以外は融合スコアです。
func (c *Candidate) AuthoritativeScore() float64 {
	if score, ok := c.RerankScore.Get(); ok {
		return score
	}
	return c.FusedScore
}

// Less はチャンク作成順（ドキュメント採番→親インデックス→連番）による
// 決定的な順序を定義します。スコア同点時のタイブレークに使用します。
func (c *Candidate) Less(other *Candidate) bool {
	if c.DocSeq != other.DocSeq {
		return c.DocSeq < other.DocSeq
	}
	ci := c.ParentIndex.OrElse(-1)
	oi := other.ParentIndex.OrElse(-1)
	if ci != oi {
		return ci < oi
	}
	return c.Ordinal < other.Ordinal
}
