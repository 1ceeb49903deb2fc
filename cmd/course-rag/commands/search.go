package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/course-rag/internal/core/answer"
)

// SearchAction は回答生成を行わず、検索パイプラインの結果だけを表示する
// コマンドのアクション。チューニングとデバッグに使う。
func SearchAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	query := cmd.String("query")
	collectionStr := cmd.String("collection")

	collectionID, err := uuid.Parse(collectionStr)
	if err != nil {
		return fmt.Errorf("invalid collection ID %q: %w", collectionStr, err)
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

	blocks, sources, degraded, err := svc.RetrieveContext(ctx, answer.QueryInput{
		CollectionID: collectionID,
		Query:        query,
	})
	if err != nil {
		if errors.Is(err, answer.ErrNoRelevantMaterials) {
			fmt.Println("関連する教材が見つかりませんでした")
			return nil
		}
		return err
	}

	if degraded {
		fmt.Println("注意: リランクが利用できなかったため、融合スコア順で表示しています")
	}

	fmt.Printf("コンテキストブロック: %d件\n\n", len(blocks))
	for i, block := range blocks {
		fmt.Printf("--- [%d] %s (関連度: %.3f)", i+1, block.SourceName, block.Score)
		if page, ok := block.Page.Get(); ok {
			fmt.Printf(" p.%d", page)
		}
		if section, ok := block.Section.Get(); ok {
			fmt.Printf(" %s", section)
		}
		fmt.Println()
		fmt.Println(block.Content)
		fmt.Println()
	}

	fmt.Printf("引用ソース: %d件\n", len(sources))
	for _, src := range sources {
		fmt.Printf("  - %s (関連度: %.3f)\n", src.SourceName, src.Score)
	}
	return nil
}
