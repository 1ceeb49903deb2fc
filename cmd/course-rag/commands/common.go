package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jinford/course-rag/internal/core/answer"
	"github.com/jinford/course-rag/internal/core/ingestion"
	"github.com/jinford/course-rag/internal/core/ingestion/chunk"
	"github.com/jinford/course-rag/internal/core/rerank"
	"github.com/jinford/course-rag/internal/core/retrieval"
	"github.com/jinford/course-rag/internal/infra/openai"
	"github.com/jinford/course-rag/internal/infra/postgres"
	"github.com/jinford/course-rag/internal/platform/config"
	"github.com/jinford/course-rag/internal/platform/logger"
	"github.com/jinford/course-rag/pkg/db"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config   *config.Config
	Database *db.DB
	Logger   *slog.Logger
	Embedder *openai.Embedder
}

// NewAppContext は設定ファイルを読み込み、DBに接続して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger := logger.New(logger.DefaultConfig())

	database, err := db.New(ctx, db.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	embedder := openai.NewEmbedder(cfg.OpenAI.APIKey,
		openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
		openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
	)

	return &AppContext{
		Config:   cfg,
		Database: database,
		Logger:   appLogger,
		Embedder: embedder,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Database != nil {
		ac.Database.Close()
	}
}

// newDocumentRepository はドキュメントリポジトリを作成する
func newDocumentRepository(ac *AppContext) *postgres.DocumentRepository {
	return postgres.NewDocumentRepository(ac.Database.Pool)
}

// NewIngestService は取り込みパイプラインを組み立てる
func (ac *AppContext) NewIngestService() (*ingestion.IngestService, error) {
	splitter, err := chunk.NewHierarchicalSplitter(chunk.Config{
		ParentMinTokens:    ac.Config.Retrieval.ParentMinTokens,
		ParentMaxTokens:    ac.Config.Retrieval.ParentMaxTokens,
		ChildTargetTokens:  ac.Config.Retrieval.ChildTargetTokens,
		ChildOverlapTokens: ac.Config.Retrieval.ChildOverlapTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create splitter: %w", err)
	}

	repo := postgres.NewDocumentRepository(ac.Database.Pool)
	return ingestion.NewIngestService(repo, ac.Embedder, splitter,
		ingestion.WithIngestLogger(ac.Logger),
	), nil
}

// NewAnswerService は検索→リランク→コンテキスト構築→回答生成のパイプラインを組み立てる
func (ac *AppContext) NewAnswerService() (*answer.AnswerService, error) {
	searchRepo := postgres.NewSearchRepository(ac.Database.Pool)

	retriever := retrieval.NewHybridRetriever(searchRepo, ac.Embedder, retrieval.Config{
		InitialK:     ac.Config.Retrieval.InitialK,
		VectorWeight: ac.Config.Retrieval.VectorWeight,
		BM25Weight:   ac.Config.Retrieval.BM25Weight,
	}, retrieval.WithRetrieverLogger(ac.Logger))

	var scorer rerank.RelevanceScorer
	if ac.Config.Retrieval.UseReranking {
		scorer = openai.NewRelevanceScorer(ac.Config.OpenAI.APIKey,
			openai.WithScorerModel(ac.Config.OpenAI.RerankModel),
		)
	}
	reranker, err := rerank.ForConfig(ac.Config.Retrieval.UseReranking, scorer, ac.Config.Retrieval.FinalK, ac.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create reranker: %w", err)
	}

	assembler, err := answer.NewAssembler(searchRepo, answer.AssemblerConfig{
		MinSimilarity: ac.Config.Retrieval.MinSimilarity,
		BudgetTokens:  ac.Config.Retrieval.ContextBudgetTokens,
	}, answer.WithAssemblerLogger(ac.Logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create assembler: %w", err)
	}

	client, err := openai.NewAnswerClient(ac.Config.OpenAI.APIKey, ac.Config.OpenAI.AnswerModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer client: %w", err)
	}

	return answer.NewAnswerService(retriever, reranker, assembler, client,
		answer.WithAnswerLogger(ac.Logger),
		answer.WithHistoryLimit(ac.Config.Retrieval.ConversationHistoryLimit),
	), nil
}
