package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cannect/feedmetrics/internal/domain"
)

// UpsertPost inserts or overwrites a post by URI. Last write wins.
func (s *Store) UpsertPost(ctx context.Context, post *domain.Post) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (uri, cid, author_id, author_handle, indexed_at, quality_score, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uri) DO UPDATE SET
			cid           = excluded.cid,
			author_id     = excluded.author_id,
			author_handle = excluded.author_handle,
			indexed_at    = excluded.indexed_at,
			quality_score = excluded.quality_score,
			category      = excluded.category,
			created_at    = excluded.created_at`,
		post.URI,
		post.CID,
		post.AuthorID,
		post.AuthorHandle,
		millis(post.IndexedAt),
		post.QualityScore,
		post.Category,
		millis(post.CreatedAt),
	)
	if err != nil {
		return &domain.WriteError{Op: "upsert post", Err: err}
	}
	return nil
}

// GetPost retrieves a post by URI, or (nil, nil) when absent.
func (s *Store) GetPost(ctx context.Context, uri string) (*domain.Post, error) {
	var (
		p                    domain.Post
		indexedAt, createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT uri, cid, author_id, author_handle, indexed_at, quality_score, category, created_at
		FROM posts WHERE uri = ?`, uri,
	).Scan(&p.URI, &p.CID, &p.AuthorID, &p.AuthorHandle, &indexedAt, &p.QualityScore, &p.Category, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query post: %w", err)
	}
	p.IndexedAt = fromMillis(indexedAt)
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}

// DeletePost removes a post by URI. Idempotent.
func (s *Store) DeletePost(ctx context.Context, uri string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE uri = ?`, uri); err != nil {
		return &domain.WriteError{Op: "delete post", Err: err}
	}
	return nil
}

// PagePosts retrieves posts ordered by indexedAt descending, offset-paged.
func (s *Store) PagePosts(ctx context.Context, limit, offset int, filter domain.PostFilter) ([]domain.Post, error) {
	var (
		conds []string
		args  []any
	)
	if filter.MinQuality > 0 {
		conds = append(conds, "quality_score >= ?")
		args = append(args, filter.MinQuality)
	}
	if filter.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, filter.Category)
	}

	query := `SELECT uri, cid, author_id, author_handle, indexed_at, quality_score, category, created_at FROM posts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY indexed_at DESC, uri DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts page: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var (
			p                    domain.Post
			indexedAt, createdAt int64
		)
		if err := rows.Scan(&p.URI, &p.CID, &p.AuthorID, &p.AuthorHandle, &indexedAt, &p.QualityScore, &p.Category, &createdAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		p.IndexedAt = fromMillis(indexedAt)
		p.CreatedAt = fromMillis(createdAt)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// SweepPosts deletes posts created before olderThan, in bounded batches.
func (s *Store) SweepPosts(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.sweepTable(ctx, "posts", "created_at", olderThan)
}

// sweepTable deletes rows with column < cutoff in batches of sweepBatchSize
// so a huge backlog never holds the write lock for one long delete.
func (s *Store) sweepTable(ctx context.Context, table, column string, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE rowid IN (SELECT rowid FROM %s WHERE %s < ? LIMIT ?)`,
		table, table, column,
	)

	var total int64
	for {
		res, err := s.db.ExecContext(ctx, query, millis(cutoff), sweepBatchSize)
		if err != nil {
			return total, &domain.WriteError{Op: "sweep " + table, Err: err}
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, &domain.WriteError{Op: "sweep " + table, Err: err}
		}
		total += n
		if n < sweepBatchSize {
			return total, nil
		}
	}
}
