package answer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"
	"github.com/samber/mo"

	"github.com/jinford/course-rag/internal/core/ingestion"
	"github.com/jinford/course-rag/internal/core/retrieval"
)

// ParentResolver は子チャンクから親チャンクを解決するインターフェースです
type ParentResolver interface {
	// GetParentChunk は親チャンクを取得します（存在しない場合 None）
	GetParentChunk(ctx context.Context, documentID uuid.UUID, parentIndex int) (mo.Option[*ingestion.ParentChunk], error)
}

// AssemblerConfig はコンテキスト構築の設定
type AssemblerConfig struct {
	// MinSimilarity は最小関連度。リランク後（切り詰め後）のスコアに適用します
	MinSimilarity float64
	// BudgetTokens はコンテキスト全体のトークン予算（cl100k_baseで厳密カウント）
	BudgetTokens int
}

// Assembler は最終候補の子チャンクをLLM向けコンテキストブロックと
// 引用メタデータに変換します
type Assembler struct {
	resolver ParentResolver
	cfg      AssemblerConfig
	encoder  *tiktoken.Tiktoken
	logger   *slog.Logger
}

// AssemblerOption はAssemblerのオプション設定
type AssemblerOption func(*Assembler)

// WithAssemblerLogger はAssemblerにロガーを設定する
func WithAssemblerLogger(logger *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// NewAssembler は新しいAssemblerを作成します
func NewAssembler(resolver ParentResolver, cfg AssemblerConfig, opts ...AssemblerOption) (*Assembler, error) {
	// cl100k_baseエンコーダを使用（text-embedding-3-small / gpt-4o系と互換）
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoder: %w", err)
	}

	a := &Assembler{
		resolver: resolver,
		cfg:      cfg,
		encoder:  encoder,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

// Assemble はリランク済み候補をコンテキストブロックとソース一覧に変換します。
//   - ブロックはリランク順を維持し、同一親チャンクは最初の出現のみ採用します
//   - ソース一覧は選択された子チャンク1件につき1エントリです（重複排除しない）
//   - 関連度がMinSimilarity未満の候補は除外します（リランク後に適用）
//   - 採用できる候補が1件もない場合はErrNoRelevantMaterialsを返します
func (a *Assembler) Assemble(ctx context.Context, candidates []*retrieval.Candidate) ([]ContextBlock, []Source, error) {
	kept := make([]*retrieval.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		if cand.AuthoritativeScore() < a.cfg.MinSimilarity {
			continue
		}
		kept = append(kept, cand)
	}
	if len(kept) == 0 {
		return nil, nil, ErrNoRelevantMaterials
	}

	blocks := make([]ContextBlock, 0, len(kept))
	sources := make([]Source, 0, len(kept))
	seenParents := make(map[string]bool)

	for _, cand := range kept {
		score := cand.AuthoritativeScore()

		sources = append(sources, Source{
			SourceName: cand.DocumentName,
			Score:      score,
			Page:       cand.Page,
			Section:    cand.Section,
		})

		content, dedupKey, err := a.resolveContent(ctx, cand)
		if err != nil {
			return nil, nil, err
		}
		if seenParents[dedupKey] {
			// 同じ親を共有する子チャンク: コンテキストには一度だけ含める
			continue
		}
		seenParents[dedupKey] = true

		blocks = append(blocks, ContextBlock{
			Content:    content,
			SourceName: cand.DocumentName,
			Score:      score,
			Page:       cand.Page,
			Section:    cand.Section,
		})
	}

	blocks = a.trimToBudget(blocks)

	return blocks, sources, nil
}

// resolveContent は候補のコンテキスト本文と親重複排除キーを解決します。
// 親リンクがある場合は親チャンクの全文、ない場合は子チャンク本文を使います
// （親なしのフラット取り込みでも動作する）
func (a *Assembler) resolveContent(ctx context.Context, cand *retrieval.Candidate) (string, string, error) {
	parentIndex, hasParent := cand.ParentIndex.Get()
	if !hasParent {
		return cand.Content, "chunk:" + cand.ChunkID.String(), nil
	}

	// 親チャンク取得の前にキャンセルを確認する
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	parentOpt, err := a.resolver.GetParentChunk(ctx, cand.DocumentID, parentIndex)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve parent chunk: %w", err)
	}

	parent, ok := parentOpt.Get()
	if !ok {
		// 親リンクはあるが親チャンクが見つからない場合も子本文で継続する
		a.logger.Warn("parent chunk not found, using child content",
			"documentID", cand.DocumentID.String(),
			"parentIndex", parentIndex,
		)
		return cand.Content, "chunk:" + cand.ChunkID.String(), nil
	}

	dedupKey := fmt.Sprintf("parent:%s:%d", cand.DocumentID, parentIndex)
	return parent.Content, dedupKey, nil
}

// trimToBudget はブロック列をトークン予算に収めます。
// 予算を超えた時点で以降のブロックを落とし、先頭ブロック単体が予算を超える場合は
// 本文をトークン単位で切り詰めます
func (a *Assembler) trimToBudget(blocks []ContextBlock) []ContextBlock {
	if a.cfg.BudgetTokens <= 0 {
		return blocks
	}

	total := 0
	for i, block := range blocks {
		tokens := a.encoder.Encode(block.Content, nil, nil)
		if total+len(tokens) <= a.cfg.BudgetTokens {
			total += len(tokens)
			continue
		}

		if i == 0 {
			// 先頭ブロックだけは切り詰めてでも含める
			remaining := a.cfg.BudgetTokens
			blocks[0].Content = a.encoder.Decode(tokens[:remaining])
			a.logger.Warn("context block truncated to token budget",
				"budgetTokens", a.cfg.BudgetTokens,
				"blockTokens", len(tokens),
			)
			return blocks[:1]
		}

		a.logger.Debug("context blocks dropped by token budget",
			"kept", i,
			"dropped", len(blocks)-i,
			"budgetTokens", a.cfg.BudgetTokens,
		)
		return blocks[:i]
	}

	return blocks
}
