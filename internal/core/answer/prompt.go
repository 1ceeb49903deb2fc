package answer

import (
	"fmt"
	"strings"
)

// BuildAnswerPrompt は教材に基づく質問応答用のプロンプトを構築する
func BuildAnswerPrompt(query string, blocks []ContextBlock) string {
	var sb strings.Builder

	// システムプロンプトとガイドライン
	sb.WriteString("あなたは授業の教材に精通した学習アシスタントです。\n")
	sb.WriteString("以下の教材抜粋を基に、生徒の質問に正確かつ分かりやすく回答してください。\n\n")

	sb.WriteString("## 回答のガイドライン\n")
	sb.WriteString("- 教材抜粋に含まれる情報のみを使用して回答してください\n")
	sb.WriteString("- 根拠となった資料名（可能ならページ番号）を明示してください\n")
	sb.WriteString("- 教材に記載がない場合は、推測せずにその旨を述べてください\n\n")

	// 教材コンテキスト
	sb.WriteString("## コンテキスト: 教材からの抜粋\n")
	if len(blocks) > 0 {
		for i, block := range blocks {
			sb.WriteString(fmt.Sprintf("### [抜粋 %d] %s\n", i+1, formatBlockInfo(block)))
			sb.WriteString(block.Content)
			sb.WriteString("\n\n")
		}
	} else {
		sb.WriteString("(該当する教材抜粋はありません)\n\n")
	}

	// 生徒の質問
	sb.WriteString("## 生徒の質問\n")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	// 回答セクション
	sb.WriteString("## 回答\n")

	return sb.String()
}

// formatBlockInfo はコンテキストブロックのヘッダー部分を整形する
func formatBlockInfo(block ContextBlock) string {
	parts := []string{fmt.Sprintf("資料: %s", block.SourceName)}

	if page, ok := block.Page.Get(); ok {
		parts = append(parts, fmt.Sprintf("ページ: %d", page))
	}
	if section, ok := block.Section.Get(); ok && section != "" {
		parts = append(parts, fmt.Sprintf("セクション: %s", section))
	}
	parts = append(parts, fmt.Sprintf("関連度: %.3f", block.Score))

	return strings.Join(parts, " | ")
}
