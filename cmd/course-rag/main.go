package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/course-rag/cmd/course-rag/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "course-rag",
		Usage: "講義教材向けRAG検索・質問応答システム",
		Commands: []*cli.Command{
			{
				Name:  "document",
				Usage: "教材ドキュメント管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "ingest",
						Usage: "教材ファイルをチャンク化してインデックスに登録",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "collection",
								Usage:    "所属クラスのコレクションID",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "file",
								Usage:    "教材ファイルパス（抽出済みテキスト）",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "name",
								Usage: "表示用ファイル名（省略時はファイル名）",
							},
							&cli.StringFlag{
								Name:  "id",
								Usage: "ドキュメントID（再取り込み時に指定）",
							},
							&cli.StringFlag{
								Name:  "pages",
								Usage: "ページ・セクション境界のJSONファイルパス",
							},
						},
						Action: commands.DocumentIngestAction,
					},
					{
						Name:  "reingest",
						Usage: "既存ドキュメントを再取り込みしてチャンクを置き換え",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ドキュメントID",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "file",
								Usage:    "教材ファイルパス（抽出済みテキスト）",
								Required: true,
							},
						},
						Action: commands.DocumentReingestAction,
					},
					{
						Name:  "delete",
						Usage: "ドキュメントと配下のチャンクを削除",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ドキュメントID",
								Required: true,
							},
						},
						Action: commands.DocumentDeleteAction,
					},
					{
						Name:  "show",
						Usage: "ドキュメントの処理状態を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ドキュメントID",
								Required: true,
							},
						},
						Action: commands.DocumentShowAction,
					},
				},
			},
			{
				Name:  "search",
				Usage: "検索パイプラインの結果を表示（回答生成なし）",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "collection",
						Usage:    "検索対象のコレクションID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "query",
						Usage:    "検索クエリ",
						Required: true,
					},
				},
				Action: commands.SearchAction,
			},
			{
				Name:  "ask",
				Usage: "教材に基づいて質問に回答",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "collection",
						Usage:    "検索対象のコレクションID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "query",
						Usage:    "質問文",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "history",
						Usage: "会話履歴のJSONファイルパス",
					},
				},
				Action: commands.AskAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
