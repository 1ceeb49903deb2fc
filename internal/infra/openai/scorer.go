package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/course-rag/internal/core/rerank"
)

const (
	// DefaultRerankModel はリランクスコアリングのデフォルトモデル
	DefaultRerankModel = "gpt-4o-mini"
	// DefaultScorerTimeout はスコアリング呼び出しのタイムアウト。
	// 候補ごとに独立して適用され、超過はそのクエリのリランク劣化として扱われる
	DefaultScorerTimeout = 15 * time.Second
	// scorerMaxPassageChars はスコアリングに渡す本文の上限文字数
	scorerMaxPassageChars = 4000
)

// RelevanceScorer は OpenAI のチャットモデルでクエリと本文の関連度を採点する。
// クロスエンコーダ相当の高精度・低速なリランク段階を担う
type RelevanceScorer struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// ScorerOption は RelevanceScorer のオプション設定
type ScorerOption func(*RelevanceScorer)

// WithScorerModel はモデル名を上書きする
func WithScorerModel(model string) ScorerOption {
	return func(s *RelevanceScorer) {
		if model != "" {
			s.model = model
		}
	}
}

// WithScorerTimeout はタイムアウトを上書きする
func WithScorerTimeout(timeout time.Duration) ScorerOption {
	return func(s *RelevanceScorer) {
		s.timeout = timeout
	}
}

// NewRelevanceScorer は新しい RelevanceScorer を作成する
func NewRelevanceScorer(apiKey string, opts ...ScorerOption) *RelevanceScorer {
	s := &RelevanceScorer{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   DefaultRerankModel,
		timeout: DefaultScorerTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// scoreResponse はスコアリング応答のJSON形式
type scoreResponse struct {
	Score float64 `json:"score"`
}

// Score はクエリに対する本文の関連度を[0,1]で返す
func (s *RelevanceScorer) Score(ctx context.Context, query, passage string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if len(passage) > scorerMaxPassageChars {
		passage = passage[:scorerMaxPassageChars]
	}

	prompt := buildScorePrompt(query, passage)

	completion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("relevance scoring call failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return 0, fmt.Errorf("no completion choices returned")
	}

	var resp scoreResponse
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &resp); err != nil {
		return 0, fmt.Errorf("failed to parse relevance score: %w", err)
	}

	// スコアを[0,1]にクリップ
	if resp.Score < 0 {
		return 0, nil
	}
	if resp.Score > 1 {
		return 1, nil
	}
	return resp.Score, nil
}

// buildScorePrompt は関連度採点用のプロンプトを構築する
func buildScorePrompt(query, passage string) string {
	return fmt.Sprintf(`以下の質問に対する教材抜粋の関連度を0.0〜1.0で採点してください。
1.0は質問に直接回答できる内容、0.0は無関係な内容です。

## 質問
%s

## 教材抜粋
%s

JSON形式で回答してください: {"score": 0.0}`, query, passage)
}

// インターフェース実装の確認
var _ rerank.RelevanceScorer = (*RelevanceScorer)(nil)
