package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/course-rag/internal/core/ingestion"
)

// pageMetadata は抽出サービスが出力するページ・セクション境界ファイルの形式
type pageMetadata struct {
	PageBoundaries []ingestion.PageBoundary `json:"pageBoundaries"`
	SectionHints   []ingestion.SectionHint  `json:"sectionHints"`
}

// loadPageMetadata はページ・セクション境界ファイルを読み込む（省略可能）
func loadPageMetadata(path string) (*pageMetadata, error) {
	if path == "" {
		return &pageMetadata{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read page metadata file %s: %w", path, err)
	}

	var meta pageMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse page metadata file %s: %w", path, err)
	}
	return &meta, nil
}

// DocumentIngestAction は教材ファイルをチャンク化してインデックスに登録する
// コマンドのアクション。--idを指定して再実行すると既存チャンクを置き換える。
func DocumentIngestAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	filePath := cmd.String("file")
	name := cmd.String("name")
	collectionStr := cmd.String("collection")
	idStr := cmd.String("id")
	pagesPath := cmd.String("pages")

	collectionID, err := uuid.Parse(collectionStr)
	if err != nil {
		return fmt.Errorf("invalid collection ID %q: %w", collectionStr, err)
	}

	meta, err := loadPageMetadata(pagesPath)
	if err != nil {
		return err
	}

	documentID := uuid.New()
	if idStr != "" {
		documentID, err = uuid.Parse(idStr)
		if err != nil {
			return fmt.Errorf("invalid document ID %q: %w", idStr, err)
		}
	}

	if name == "" {
		name = filepath.Base(filePath)
	}

	rawText, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	svc, err := appCtx.NewIngestService()
	if err != nil {
		return err
	}

	slog.Info("教材の取り込みを開始",
		"documentID", documentID.String(),
		"collectionID", collectionID.String(),
		"name", name,
	)

	result, err := svc.Ingest(ctx, ingestion.IngestInput{
		DocumentID:     documentID,
		CollectionID:   collectionID,
		Name:           name,
		RawText:        string(rawText),
		PageBoundaries: meta.PageBoundaries,
		SectionHints:   meta.SectionHints,
	})
	if err != nil {
		return err
	}

	fmt.Printf("インデックス登録が完了しました\n")
	fmt.Printf("  Document ID: %s\n", documentID)
	fmt.Printf("  親チャンク数: %d\n", result.ParentCount)
	fmt.Printf("  子チャンク数: %d\n", result.ChildCount)
	return nil
}

// DocumentReingestAction は既存ドキュメントを再取り込みするコマンドのアクション。
// 既存のチャンク集合は原子的に置き換えられる。
func DocumentReingestAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	filePath := cmd.String("file")
	idStr := cmd.String("id")

	documentID, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("invalid document ID %q: %w", idStr, err)
	}

	rawText, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	// 既存ドキュメントからコレクションと表示名を引き継ぐ
	repo := newDocumentRepository(appCtx)
	doc, err := repo.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	svc, err := appCtx.NewIngestService()
	if err != nil {
		return err
	}

	slog.Info("教材の再取り込みを開始",
		"documentID", doc.ID.String(),
		"collectionID", doc.CollectionID.String(),
		"name", doc.Name,
	)

	result, err := svc.Ingest(ctx, ingestion.IngestInput{
		DocumentID:   doc.ID,
		CollectionID: doc.CollectionID,
		Name:         doc.Name,
		RawText:      string(rawText),
	})
	if err != nil {
		return err
	}

	fmt.Printf("再インデックス登録が完了しました\n")
	fmt.Printf("  Document ID: %s\n", doc.ID)
	fmt.Printf("  親チャンク数: %d\n", result.ParentCount)
	fmt.Printf("  子チャンク数: %d\n", result.ChildCount)
	return nil
}

// DocumentDeleteAction はドキュメントと配下のチャンクを削除するコマンドのアクション
func DocumentDeleteAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	idStr := cmd.String("id")

	documentID, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("invalid document ID %q: %w", idStr, err)
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	svc, err := appCtx.NewIngestService()
	if err != nil {
		return err
	}

	if err := svc.Delete(ctx, documentID); err != nil {
		return err
	}

	fmt.Printf("ドキュメントを削除しました: %s\n", documentID)
	return nil
}

// DocumentShowAction はドキュメントの処理状態を表示するコマンドのアクション
func DocumentShowAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	idStr := cmd.String("id")

	documentID, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("invalid document ID %q: %w", idStr, err)
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	repo := newDocumentRepository(appCtx)
	doc, err := repo.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	fmt.Printf("Document ID: %s\n", doc.ID)
	fmt.Printf("  Collection: %s\n", doc.CollectionID)
	fmt.Printf("  Name:       %s\n", doc.Name)
	fmt.Printf("  Status:     %s\n", doc.Status)
	if reason, ok := doc.FailureReason.Get(); ok {
		fmt.Printf("  Failure:    %s\n", reason)
	}
	fmt.Printf("  Created:    %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Updated:    %s\n", doc.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}
