package chunk

import (
	"fmt"
	"strings"
)

const (
	// charsPerToken はトークン数推定に使用する1トークンあたりの文字数
	charsPerToken = 4
	// minChildChars は子チャンクとして採用する最小文字数（これ未満は検索に役立たないため破棄）
	minChildChars = 100
)

// Config はチャンク分割の設定
type Config struct {
	ParentMinTokens    int // 親チャンクの最小トークン数（デフォルト: 2000）
	ParentMaxTokens    int // 親チャンクの最大トークン数（デフォルト: 4000）
	ChildTargetTokens  int // 子チャンクの目標トークン数（デフォルト: 400）
	ChildOverlapTokens int // 子チャンク間のオーバーラップトークン数（デフォルト: 50）
}

// DefaultConfig はデフォルトのチャンク分割設定を返します
func DefaultConfig() Config {
	return Config{
		ParentMinTokens:    2000,
		ParentMaxTokens:    4000,
		ChildTargetTokens:  400,
		ChildOverlapTokens: 50,
	}
}

// Parent は検索結果のコンテキスト復元に使う大きな親チャンクを表します
type Parent struct {
	Index      int    // ドキュメント内の連番（0開始）
	StartChar  int    // ドキュメント内の開始位置（トリム後テキスト基準）
	EndChar    int    // ドキュメント内の終了位置（排他的）
	Content    string // チャンク本文
	TokenCount int    // 推定トークン数
	Children   []Child
}

// Child は検索精度を担う小さな子チャンクを表します
type Child struct {
	Ordinal    int    // 親チャンク内の連番（0開始）
	StartChar  int    // 親チャンク内の相対開始位置
	EndChar    int    // 親チャンク内の相対終了位置（排他的）
	Content    string // チャンク本文
	TokenCount int    // 推定トークン数
}

// HierarchicalSplitter はドキュメントテキストを親子2階層のチャンクに分割します。
// 同一のテキストと設定に対して出力は完全に決定的です。
type HierarchicalSplitter struct {
	cfg Config
}

// NewHierarchicalSplitter は新しいHierarchicalSplitterを作成します
func NewHierarchicalSplitter(cfg Config) (*HierarchicalSplitter, error) {
	if cfg.ParentMinTokens <= 0 || cfg.ParentMaxTokens <= 0 {
		return nil, fmt.Errorf("parent token bounds must be positive: min=%d max=%d", cfg.ParentMinTokens, cfg.ParentMaxTokens)
	}
	if cfg.ParentMinTokens > cfg.ParentMaxTokens {
		return nil, fmt.Errorf("parent min tokens %d exceeds max tokens %d", cfg.ParentMinTokens, cfg.ParentMaxTokens)
	}
	if cfg.ChildTargetTokens <= 0 {
		return nil, fmt.Errorf("child target tokens must be positive: %d", cfg.ChildTargetTokens)
	}
	if cfg.ChildOverlapTokens < 0 {
		return nil, fmt.Errorf("child overlap tokens must be non-negative: %d", cfg.ChildOverlapTokens)
	}
	return &HierarchicalSplitter{cfg: cfg}, nil
}

// EstimateTokens はテキストの推定トークン数を返します（文字数/4の近似）
func EstimateTokens(text string) int {
	return len(text) / charsPerToken
}

// Split はテキストを親チャンクに分割し、各親を子チャンクに分割します。
// 戻り値のStartChar/EndCharは前後の空白をトリムしたテキストを基準とします。
func (s *HierarchicalSplitter) Split(text string) ([]*Parent, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []*Parent{}, nil
	}

	parents := s.splitParents(trimmed)
	for _, parent := range parents {
		children, err := s.splitChildren(parent.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to split parent %d into children: %w", parent.Index, err)
		}
		parent.Children = children
	}

	return parents, nil
}

// splitParents は文単位の貪欲な詰め込みで親チャンクを構築します。
// 親チャンクのスパンはトリム済みテキストを隙間なく被覆します。
func (s *HierarchicalSplitter) splitParents(text string) []*Parent {
	sentences := splitSentenceSpans(text)
	maxChars := s.cfg.ParentMaxTokens * charsPerToken

	parents := make([]*Parent, 0)
	bufStart := -1 // 現在のバッファの開始位置（-1はバッファなし）
	bufEnd := 0

	flush := func(start, end int) {
		content := text[start:end]
		parents = append(parents, &Parent{
			Index:      len(parents),
			StartChar:  start,
			EndChar:    end,
			Content:    content,
			TokenCount: EstimateTokens(content),
		})
	}

	for _, sent := range sentences {
		if bufStart < 0 {
			// 新しいバッファを開始。単一文が最大を超える場合もそのまま保持し、
			// 次の反復の追加判定で単独の親として切り出される
			bufStart = sent.start
			bufEnd = sent.end
			continue
		}

		// 次の文を加えた場合のサイズ判定
		if (sent.end - bufStart) > maxChars {
			// 最大を超えるため現在のバッファを親として確定し、この文から新バッファを開始
			flush(bufStart, bufEnd)
			bufStart = sent.start
			bufEnd = sent.end
			continue
		}

		bufEnd = sent.end
	}

	// 最終バッファをフラッシュ
	if bufStart >= 0 && bufEnd > bufStart {
		flush(bufStart, bufEnd)
	}

	return parents
}

// splitChildren は親チャンクのテキストをオーバーラップ付きの子チャンクに分割します。
// オーバーラップ設定が病的な場合でも必ず前進するため、無限ループしません。
func (s *HierarchicalSplitter) splitChildren(text string) ([]Child, error) {
	chunkSize := s.cfg.ChildTargetTokens * charsPerToken
	overlap := s.cfg.ChildOverlapTokens * charsPerToken

	children := make([]Child, 0)
	start := 0

	for start < len(text) {
		end := start + chunkSize
		if end > len(text) {
			end = len(text)
		}
		slice := text[start:end]

		// スライスの中間より後ろに文末記号があれば、そこで切って境界をきれいにする
		// （末尾スライスはそのまま使う）
		if end < len(text) {
			if cut := lastSentenceEnd(slice); cut > len(slice)/2 {
				slice = slice[:cut]
				end = start + cut
			}
		}

		// 短すぎるスライスは破棄するが、オフセットの前進はスキップしない
		if len(slice) >= minChildChars {
			children = append(children, Child{
				Ordinal:    len(children),
				StartChar:  start,
				EndChar:    end,
				Content:    slice,
				TokenCount: EstimateTokens(slice),
			})
		}

		// 前進幅の決定。オーバーラップがスライス長以上の場合は強制的に前進する
		step := len(slice) - overlap
		if step <= 0 {
			step = len(slice) / 2
		}
		if step <= 0 {
			step = chunkSize
		}

		next := start + step
		// ループ不変条件: オフセットは厳密に単調増加する
		if next <= start {
			return nil, fmt.Errorf("child chunk offset did not advance: start=%d next=%d", start, next)
		}
		start = next
	}

	return children, nil
}

// sentenceSpan はテキスト内の1文のスパンを表します（終端記号と後続の空白を含む）
type sentenceSpan struct {
	start int
	end   int
}

// splitSentenceSpans はテキストを文のスパン列に分割します。
// 境界は「. ! ?」の直後に空白が続く位置で、後続の空白は直前の文に含めます。
// スパン列はテキスト全体を隙間なく被覆します。
func splitSentenceSpans(text string) []sentenceSpan {
	spans := make([]sentenceSpan, 0)
	start := 0

	for i := 0; i < len(text); i++ {
		if !isSentenceTerminator(text[i]) {
			continue
		}
		if i+1 >= len(text) || !isWhitespace(text[i+1]) {
			continue
		}

		// 終端記号に続く空白をすべて直前の文に取り込む
		end := i + 1
		for end < len(text) && isWhitespace(text[end]) {
			end++
		}

		spans = append(spans, sentenceSpan{start: start, end: end})
		start = end
		i = end - 1
	}

	// 終端記号で終わらない残りも1文として扱う
	if start < len(text) {
		spans = append(spans, sentenceSpan{start: start, end: len(text)})
	}

	return spans
}

// lastSentenceEnd はスライス内で最後に現れる文末記号の直後の位置を返します。
// 見つからない場合は0を返します。
func lastSentenceEnd(slice string) int {
	for i := len(slice) - 1; i >= 0; i-- {
		if isSentenceTerminator(slice[i]) {
			return i + 1
		}
	}
	return 0
}

func isSentenceTerminator(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}

func isWhitespace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
