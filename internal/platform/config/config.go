package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// OpenAI設定（Embeddings + 回答生成 + リランク）
	OpenAI OpenAIConfig

	// 検索パイプライン設定
	Retrieval RetrievalConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	AnswerModel        string // 回答生成に使用するモデル名
	RerankModel        string // リランクスコアリングに使用するモデル名
}

// RetrievalConfig は検索パイプラインのチューニング設定
type RetrievalConfig struct {
	ParentMinTokens          int     // 親チャンクの最小トークン数
	ParentMaxTokens          int     // 親チャンクの最大トークン数
	ChildTargetTokens        int     // 子チャンクの目標トークン数
	ChildOverlapTokens       int     // 子チャンクのオーバーラップトークン数
	InitialK                 int     // ハイブリッド検索の候補取得数
	FinalK                   int     // リランク後に残す件数
	VectorWeight             float64 // ベクトルスコアの重み
	BM25Weight               float64 // キーワードスコアの重み
	UseReranking             bool    // リランクを有効にするか
	MinSimilarity            float64 // 最小関連度（リランク後に適用）
	ConversationHistoryLimit int     // 回答生成に渡す会話履歴の上限
	ContextBudgetTokens      int     // プロンプトに渡すコンテキストのトークン予算
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "courserag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "courserag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			AnswerModel:        getEnv("OPENAI_ANSWER_MODEL", "gpt-4o-mini"),
			RerankModel:        getEnv("OPENAI_RERANK_MODEL", "gpt-4o-mini"),
		},
		Retrieval: RetrievalConfig{
			ParentMinTokens:          getEnvAsInt("RAG_PARENT_MIN_TOKENS", 2000),
			ParentMaxTokens:          getEnvAsInt("RAG_PARENT_MAX_TOKENS", 4000),
			ChildTargetTokens:        getEnvAsInt("RAG_CHILD_TARGET_TOKENS", 400),
			ChildOverlapTokens:       getEnvAsInt("RAG_CHILD_OVERLAP_TOKENS", 50),
			InitialK:                 getEnvAsInt("RAG_INITIAL_K", 30),
			FinalK:                   getEnvAsInt("RAG_FINAL_K", 5),
			VectorWeight:             getEnvAsFloat("RAG_VECTOR_WEIGHT", 0.7),
			BM25Weight:               getEnvAsFloat("RAG_BM25_WEIGHT", 0.3),
			UseReranking:             getEnvAsBool("RAG_USE_RERANKING", true),
			MinSimilarity:            getEnvAsFloat("RAG_MIN_SIMILARITY", 0.0),
			ConversationHistoryLimit: getEnvAsInt("RAG_CONVERSATION_HISTORY_LIMIT", 10),
			ContextBudgetTokens:      getEnvAsInt("RAG_CONTEXT_BUDGET_TOKENS", 8000),
		},
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
