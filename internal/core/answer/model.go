package answer

import (
	"errors"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// ErrNoRelevantMaterials は検索対象の教材が存在しない、または関連度の下限を
// 満たす候補がないことを示します。失敗ではなく明示的な空結果シグナルであり、
// 呼び出し側は「該当する教材がありません」という応答を生成できます
var ErrNoRelevantMaterials = errors.New("no relevant materials found")

// Message は会話履歴の1メッセージを表します
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// QueryInput は質問応答の入力を表します
type QueryInput struct {
	CollectionID uuid.UUID // 検索スコープとなるクラス
	Query        string    // ユーザーの質問文
	History      []Message // 会話履歴（上限まで新しい順に使用）
}

// ContextBlock は回答生成に渡す最終的なコンテキスト単位です。
// 親チャンクの本文（親リンクがない場合は子チャンク本文）と引用メタデータを持ちます
type ContextBlock struct {
	Content    string            `json:"content"`
	SourceName string            `json:"sourceName"` // 元ファイルの表示名
	Score      float64           `json:"score"`      // 引用表示用の関連度
	Page       mo.Option[int]    `json:"page,omitempty"`
	Section    mo.Option[string] `json:"section,omitempty"`
}

// Source は引用UI向けのソース記述子です。選択された子チャンク1件につき1エントリで、
// 親チャンクの重複排除が行われても選択の追跡可能性を維持します
type Source struct {
	SourceName string            `json:"sourceName"`
	Score      float64           `json:"score"`
	Page       mo.Option[int]    `json:"page,omitempty"`
	Section    mo.Option[string] `json:"section,omitempty"`
}

// AnswerResult は質問応答の結果を表します
type AnswerResult struct {
	Answer        string         `json:"answer"`
	ContextBlocks []ContextBlock `json:"contextBlocks"`
	Sources       []Source       `json:"sources"`
	// Degraded はリランクモデルが利用できず融合順で回答したことを示します
	Degraded bool `json:"degraded"`
}
