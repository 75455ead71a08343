package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PgFTS searches imported posts with PostgreSQL full-text search. It backs
// the endpoint whenever Meilisearch is missing or unhealthy.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	where := "p.fts @@ " + tsQuery
	if q.Platform != "" {
		where += " AND p.platform = $2"
		args = append(args, string(q.Platform))
	}

	var total int
	countSQL := "SELECT count(*) FROM imported_posts p WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT p.id, p.platform, p.title,
			ts_headline('simple', coalesce(p.text, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			p.link, p.people_id
		FROM imported_posts p
		WHERE %s
		ORDER BY ts_rank(p.fts, %s) DESC, p.published_at DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Platform, &r.Title, &r.Snippet, &r.Link, &r.PeopleID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every imported post for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PostRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, platform, text_id, people_id, title, text, tags, link, extract(epoch FROM published_at)::bigint
		FROM imported_posts
	`)
	if err != nil {
		return nil, fmt.Errorf("load posts: %w", err)
	}
	defer rows.Close()

	posts := make([]PostRecord, 0)
	for rows.Next() {
		var r PostRecord
		var tags pq.StringArray
		if err := rows.Scan(&r.ID, &r.Platform, &r.TextID, &r.PeopleID, &r.Title, &r.Text, &tags, &r.Link, &r.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		r.Tags = []string(tags)
		if r.Tags == nil {
			r.Tags = []string{}
		}
		posts = append(posts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}
