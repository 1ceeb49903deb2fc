package ingestion

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// DocumentStatus はドキュメントのインデックス処理状態を表します
type DocumentStatus string

const (
	// StatusPending はアップロード済みで未処理の状態
	StatusPending DocumentStatus = "pending"
	// StatusProcessing はチャンク化・インデックス化の実行中
	StatusProcessing DocumentStatus = "processing"
	// StatusCompleted はインデックス化が完了し検索対象となった状態
	StatusCompleted DocumentStatus = "completed"
	// StatusFailed はインデックス化に失敗した状態（検索対象外、再試行可能）
	StatusFailed DocumentStatus = "failed"
)

// SourceDocument はアップロードされた1ファイルを表します。
// チャンク化後は不変で、削除時は配下のチャンクも必ず削除されます。
type SourceDocument struct {
	ID            uuid.UUID         `json:"id"`
	CollectionID  uuid.UUID         `json:"collectionID"` // 所属クラス（検索スコープ境界）
	Name          string            `json:"name"`         // 表示用ファイル名
	Status        DocumentStatus    `json:"status"`
	FailureReason mo.Option[string] `json:"failureReason,omitempty"`
	Seq           int64             `json:"seq"` // 作成順の採番（検索結果の決定的なタイブレークに使用）
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// ParentChunk はLLMコンテキスト復元用の大きなチャンクを表します。
// スパンはドキュメント（トリム後テキスト）内で重複なく順序どおりに並びます。
type ParentChunk struct {
	DocumentID uuid.UUID `json:"documentID"`
	Index      int       `json:"index"`     // ドキュメント内の連番（0開始）
	StartChar  int       `json:"startChar"` // ドキュメント内の開始位置
	EndChar    int       `json:"endChar"`   // ドキュメント内の終了位置（排他的）
	Content    string    `json:"content"`
	TokenCount int       `json:"tokenCount"`
}

// ChildChunk は検索対象となる小さなチャンクを表します。
// ちょうど1つの親チャンクに属し、Embeddingとキーワードインデックスを持ちます。
type ChildChunk struct {
	ID          uuid.UUID         `json:"id"`
	DocumentID  uuid.UUID         `json:"documentID"`
	ParentIndex int               `json:"parentIndex"` // 親チャンクのIndex
	Ordinal     int               `json:"ordinal"`     // 親チャンク内の連番（0開始）
	StartChar   int               `json:"startChar"`   // 親チャンク内の相対開始位置
	EndChar     int               `json:"endChar"`     // 親チャンク内の相対終了位置（排他的）
	Content     string            `json:"content"`
	TokenCount  int               `json:"tokenCount"`
	Page        mo.Option[int]    `json:"page,omitempty"`    // 抽出元のページ番号（取得できた場合）
	Section     mo.Option[string] `json:"section,omitempty"` // セクション見出し（取得できた場合）
	Embedding   []float32         `json:"-"`
}

// PageBoundary は抽出サービスが供給するページ境界情報を表します
type PageBoundary struct {
	Page      int `json:"page"`
	CharStart int `json:"charStart"`
	CharEnd   int `json:"charEnd"`
}

// SectionHint は抽出サービスが供給するセクション見出し情報を表します
type SectionHint struct {
	Heading   string `json:"heading"`
	CharStart int    `json:"charStart"`
	CharEnd   int    `json:"charEnd"`
}

// IngestInput はインデックス化の入力を表します
type IngestInput struct {
	DocumentID     uuid.UUID
	CollectionID   uuid.UUID
	Name           string
	RawText        string
	PageBoundaries []PageBoundary
	SectionHints   []SectionHint
}

// IngestResult はインデックス化の結果を表します
type IngestResult struct {
	ParentCount int `json:"parentCount"`
	ChildCount  int `json:"childCount"`
}

// pageForOffset はドキュメント内の絶対位置に対応するページ番号を返します
func pageForOffset(boundaries []PageBoundary, offset int) mo.Option[int] {
	for _, b := range boundaries {
		if offset >= b.CharStart && offset < b.CharEnd {
			return mo.Some(b.Page)
		}
	}
	return mo.None[int]()
}

// sectionForOffset はドキュメント内の絶対位置に対応するセクション見出しを返します。
// 複数が重なる場合は最後（最も内側）のヒントを採用します。
func sectionForOffset(hints []SectionHint, offset int) mo.Option[string] {
	result := mo.None[string]()
	for _, h := range hints {
		if offset >= h.CharStart && offset < h.CharEnd {
			result = mo.Some(h.Heading)
		}
	}
	return result
}
