package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/samber/mo"

	"github.com/jinford/course-rag/internal/core/answer"
	"github.com/jinford/course-rag/internal/core/ingestion"
	"github.com/jinford/course-rag/internal/core/retrieval"
)

// SearchRepository は core/retrieval.Repository と core/answer.ParentResolver を
// 実装する PostgreSQL リポジトリ。どちらの検索もcompleted状態のドキュメントの
// 子チャンクのみを対象とする。
type SearchRepository struct {
	pool *pgxpool.Pool
}

// NewSearchRepository は新しい SearchRepository を返す。
func NewSearchRepository(pool *pgxpool.Pool) *SearchRepository {
	return &SearchRepository{pool: pool}
}

var (
	_ retrieval.Repository  = (*SearchRepository)(nil)
	_ answer.ParentResolver = (*SearchRepository)(nil)
)

// VectorSearch はコレクション内でコサイン類似度の上位limit件を返す。
// スコアは 1 - コサイン距離 で、[0,1]に収まる。
func (r *SearchRepository) VectorSearch(ctx context.Context, collectionID uuid.UUID, queryVector []float32, limit int) ([]*retrieval.ChunkHit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.document_id, d.name, d.seq, c.parent_idx, c.ordinal,
		       c.content, c.page, c.section,
		       1 - (c.embedding <=> $2) AS score
		FROM child_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.collection_id = $1 AND d.status = 'completed'
		ORDER BY c.embedding <=> $2
		LIMIT $3`,
		collectionID, pgvector.NewVector(queryVector), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	defer rows.Close()

	hits, err := scanChunkHits(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vector search results: %w", err)
	}
	return hits, nil
}

// KeywordSearch はコレクション内でキーワード関連度の上位limit件を返す。
// スコアは ts_rank_cd で、上限がないため融合前に正規化される。
func (r *SearchRepository) KeywordSearch(ctx context.Context, collectionID uuid.UUID, query string, limit int) ([]*retrieval.ChunkHit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.document_id, d.name, d.seq, c.parent_idx, c.ordinal,
		       c.content, c.page, c.section,
		       ts_rank_cd(c.content_tsv, plainto_tsquery('english', $2))::float8 AS score
		FROM child_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.collection_id = $1 AND d.status = 'completed'
		  AND c.content_tsv @@ plainto_tsquery('english', $2)
		ORDER BY score DESC, d.seq, c.parent_idx, c.ordinal
		LIMIT $3`,
		collectionID, query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run keyword search: %w", err)
	}
	defer rows.Close()

	hits, err := scanChunkHits(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan keyword search results: %w", err)
	}
	return hits, nil
}

// GetParentChunk は親チャンクを取得する（存在しない場合 None）。
func (r *SearchRepository) GetParentChunk(ctx context.Context, documentID uuid.UUID, parentIndex int) (mo.Option[*ingestion.ParentChunk], error) {
	row := r.pool.QueryRow(ctx, `
		SELECT document_id, idx, start_char, end_char, content, token_count
		FROM parent_chunks
		WHERE document_id = $1 AND idx = $2`,
		documentID, parentIndex,
	)

	var parent ingestion.ParentChunk
	if err := row.Scan(
		&parent.DocumentID,
		&parent.Index,
		&parent.StartChar,
		&parent.EndChar,
		&parent.Content,
		&parent.TokenCount,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*ingestion.ParentChunk](), nil
		}
		return mo.None[*ingestion.ParentChunk](), fmt.Errorf("failed to get parent chunk: %w", err)
	}
	return mo.Some(&parent), nil
}

// scanChunkHits は検索結果の行集合を ChunkHit に変換する
func scanChunkHits(rows pgx.Rows) ([]*retrieval.ChunkHit, error) {
	var hits []*retrieval.ChunkHit
	for rows.Next() {
		var (
			hit       retrieval.ChunkHit
			parentIdx *int32
			page      *int32
			section   *string
		)
		if err := rows.Scan(
			&hit.ChunkID,
			&hit.DocumentID,
			&hit.DocumentName,
			&hit.DocSeq,
			&parentIdx,
			&hit.Ordinal,
			&hit.Content,
			&page,
			&section,
			&hit.Score,
		); err != nil {
			return nil, err
		}
		hit.ParentIndex = intPtrToOption(parentIdx)
		hit.Page = intPtrToOption(page)
		hit.Section = textPtrToOption(section)
		hits = append(hits, &hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}
