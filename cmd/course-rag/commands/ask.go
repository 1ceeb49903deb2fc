package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/course-rag/internal/core/answer"
)

// AskAction は質問に対して教材に基づく回答を生成するコマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	query := cmd.String("query")
	collectionStr := cmd.String("collection")
	historyPath := cmd.String("history")

	collectionID, err := uuid.Parse(collectionStr)
	if err != nil {
		return fmt.Errorf("invalid collection ID %q: %w", collectionStr, err)
	}

	history, err := loadHistory(historyPath)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	svc, err := appCtx.NewAnswerService()
	if err != nil {
		return err
	}

	result, err := svc.Answer(ctx, answer.QueryInput{
		CollectionID: collectionID,
		Query:        query,
		History:      history,
	})
	if err != nil {
		if errors.Is(err, answer.ErrNoRelevantMaterials) {
			fmt.Println("この質問に関連する教材が見つかりませんでした")
			return nil
		}
		return err
	}

	fmt.Println(result.Answer)
	fmt.Println()

	fmt.Println("## 参照した教材")
	for _, src := range result.Sources {
		fmt.Printf("  - %s (関連度: %.3f)", src.SourceName, src.Score)
		if page, ok := src.Page.Get(); ok {
			fmt.Printf(" p.%d", page)
		}
		if section, ok := src.Section.Get(); ok {
			fmt.Printf(" %s", section)
		}
		fmt.Println()
	}

	if result.Degraded {
		fmt.Println()
		fmt.Println("注意: リランクが利用できなかったため、検索品質が低下している可能性があります")
	}
	return nil
}

// loadHistory は会話履歴ファイル（JSON配列: [{"role":"user","content":"..."}]）を読み込む
func loadHistory(path string) ([]answer.Message, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read history file %s: %w", path, err)
	}

	var history []answer.Message
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to parse history file %s: %w", path, err)
	}
	return history, nil
}
