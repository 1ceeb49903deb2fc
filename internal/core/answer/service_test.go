package answer

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/course-rag/internal/core/rerank"
	"github.com/jinford/course-rag/internal/core/retrieval"
)

// stubRetriever はRetrieverのテスト用スタブ
type stubRetriever struct {
	candidates []*retrieval.Candidate
	err        error
}

func (r *stubRetriever) Retrieve(ctx context.Context, collectionID uuid.UUID, query string) ([]*retrieval.Candidate, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.candidates, nil
}

var _ Retriever = (*stubRetriever)(nil)

// stubReranker はRerankerのテスト用スタブ。入力をそのまま返し、Degradedを制御できる
type stubReranker struct {
	degraded bool
	err      error
}

func (r *stubReranker) Rerank(ctx context.Context, query string, candidates []*retrieval.Candidate) (*rerank.Result, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &rerank.Result{Candidates: candidates, Degraded: r.degraded}, nil
}

var _ rerank.Reranker = (*stubReranker)(nil)

// stubAnswerClient はAnswerClientのテスト用スタブ。受け取ったリクエストを記録する
type stubAnswerClient struct {
	answer  string
	err     error
	lastReq GenerateRequest
}

func (c *stubAnswerClient) GenerateAnswer(ctx context.Context, req GenerateRequest) (string, error) {
	c.lastReq = req
	if c.err != nil {
		return "", c.err
	}
	return c.answer, nil
}

var _ AnswerClient = (*stubAnswerClient)(nil)

// flatCandidate は親リンクなしの候補を生成するテストヘルパー
func flatCandidate(score float64, content string) *retrieval.Candidate {
	return &retrieval.Candidate{
		ChunkID:      uuid.New(),
		DocumentID:   uuid.New(),
		DocumentName: "textbook.pdf",
		ParentIndex:  mo.None[int](),
		Content:      content,
		FusedScore:   score,
		RerankScore:  mo.None[float64](),
	}
}

func newTestAnswerService(t *testing.T, retriever Retriever, reranker rerank.Reranker, client AnswerClient) *AnswerService {
	t.Helper()
	assembler := newTestAssembler(t, newStubResolver(), AssemblerConfig{})
	return NewAnswerService(retriever, reranker, assembler, client,
		WithAnswerLogger(testLogger()),
	)
}

func TestAnswerEndToEnd(t *testing.T) {
	retriever := &stubRetriever{candidates: []*retrieval.Candidate{
		flatCandidate(0.9, "X is defined as Y in the second lecture."),
	}}
	client := &stubAnswerClient{answer: "XはYとして定義されています。"}
	svc := newTestAnswerService(t, retriever, &stubReranker{}, client)

	result, err := svc.Answer(context.Background(), QueryInput{
		CollectionID: uuid.New(),
		Query:        "What is X?",
	})
	require.NoError(t, err)

	assert.Equal(t, "XはYとして定義されています。", result.Answer)
	require.Len(t, result.ContextBlocks, 1)
	assert.Equal(t, "X is defined as Y in the second lecture.", result.ContextBlocks[0].Content)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "textbook.pdf", result.Sources[0].SourceName)
	assert.False(t, result.Degraded)

	// プロンプトにはコンテキストと質問の両方が含まれる
	assert.Contains(t, client.lastReq.Prompt, "X is defined as Y")
	assert.Contains(t, client.lastReq.Prompt, "What is X?")
}

func TestAnswerValidation(t *testing.T) {
	svc := newTestAnswerService(t, &stubRetriever{}, &stubReranker{}, &stubAnswerClient{})

	_, err := svc.Answer(context.Background(), QueryInput{CollectionID: uuid.New()})
	assert.ErrorContains(t, err, "query is required")

	_, err = svc.Answer(context.Background(), QueryInput{Query: "What is X?"})
	assert.ErrorContains(t, err, "collectionID is required")
}

// TestAnswerNoCandidates は候補ゼロがErrNoRelevantMaterialsになることを確認する
func TestAnswerNoCandidates(t *testing.T) {
	svc := newTestAnswerService(t, &stubRetriever{}, &stubReranker{}, &stubAnswerClient{})

	_, err := svc.Answer(context.Background(), QueryInput{
		CollectionID: uuid.New(),
		Query:        "What is X?",
	})
	assert.ErrorIs(t, err, ErrNoRelevantMaterials)
}

// TestAnswerRetrieverError は検索失敗がハードエラーになることを確認する
func TestAnswerRetrieverError(t *testing.T) {
	retriever := &stubRetriever{err: fmt.Errorf("database unavailable")}
	svc := newTestAnswerService(t, retriever, &stubReranker{}, &stubAnswerClient{})

	_, err := svc.Answer(context.Background(), QueryInput{
		CollectionID: uuid.New(),
		Query:        "What is X?",
	})
	assert.ErrorContains(t, err, "retrieval failed")
}

// TestAnswerDegradedPropagates はリランク劣化フラグが結果まで伝搬することを確認する
func TestAnswerDegradedPropagates(t *testing.T) {
	retriever := &stubRetriever{candidates: []*retrieval.Candidate{
		flatCandidate(0.8, "some relevant content"),
	}}
	svc := newTestAnswerService(t, retriever, &stubReranker{degraded: true}, &stubAnswerClient{answer: "回答"})

	result, err := svc.Answer(context.Background(), QueryInput{
		CollectionID: uuid.New(),
		Query:        "What is X?",
	})
	require.NoError(t, err)
	assert.True(t, result.Degraded)
}

func TestAnswerClientError(t *testing.T) {
	retriever := &stubRetriever{candidates: []*retrieval.Candidate{
		flatCandidate(0.8, "some relevant content"),
	}}
	client := &stubAnswerClient{err: fmt.Errorf("model overloaded")}
	svc := newTestAnswerService(t, retriever, &stubReranker{}, client)

	_, err := svc.Answer(context.Background(), QueryInput{
		CollectionID: uuid.New(),
		Query:        "What is X?",
	})
	assert.ErrorContains(t, err, "failed to generate answer")
}

// TestAnswerHistoryCapped は会話履歴が直近の上限件数に制限されることを確認する
func TestAnswerHistoryCapped(t *testing.T) {
	retriever := &stubRetriever{candidates: []*retrieval.Candidate{
		flatCandidate(0.8, "some relevant content"),
	}}
	client := &stubAnswerClient{answer: "回答"}
	assembler := newTestAssembler(t, newStubResolver(), AssemblerConfig{})
	svc := NewAnswerService(retriever, &stubReranker{}, assembler, client,
		WithAnswerLogger(testLogger()),
		WithHistoryLimit(4),
	)

	history := make([]Message, 0, 10)
	for i := range 10 {
		history = append(history, Message{Role: "user", Content: fmt.Sprintf("message %d", i)})
	}

	_, err := svc.Answer(context.Background(), QueryInput{
		CollectionID: uuid.New(),
		Query:        "What is X?",
		History:      history,
	})
	require.NoError(t, err)

	// 直近4件のみ、古い順を維持
	require.Len(t, client.lastReq.History, 4)
	assert.Equal(t, "message 6", client.lastReq.History[0].Content)
	assert.Equal(t, "message 9", client.lastReq.History[3].Content)
}

// TestRetrieveContextOnly は回答生成なしでコンテキストのみ取得できることを確認する
func TestRetrieveContextOnly(t *testing.T) {
	retriever := &stubRetriever{candidates: []*retrieval.Candidate{
		flatCandidate(0.9, "context without generation"),
	}}
	svc := newTestAnswerService(t, retriever, &stubReranker{}, &stubAnswerClient{})

	blocks, sources, degraded, err := svc.RetrieveContext(context.Background(), QueryInput{
		CollectionID: uuid.New(),
		Query:        "What is X?",
	})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Len(t, sources, 1)
	assert.False(t, degraded)
}

func TestBuildAnswerPrompt(t *testing.T) {
	blocks := []ContextBlock{
		{
			Content:    "Normalization reduces redundancy.",
			SourceName: "db-lecture.pdf",
			Score:      0.87,
			Page:       mo.Some(12),
			Section:    mo.Some("第3章 正規化"),
		},
	}

	prompt := BuildAnswerPrompt("正規化とは何ですか？", blocks)

	assert.Contains(t, prompt, "Normalization reduces redundancy.")
	assert.Contains(t, prompt, "db-lecture.pdf")
	assert.Contains(t, prompt, "ページ: 12")
	assert.Contains(t, prompt, "第3章 正規化")
	assert.Contains(t, prompt, "正規化とは何ですか？")
	assert.Contains(t, prompt, "## 回答")
}
