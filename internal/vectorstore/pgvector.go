package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/convorag/internal/model"
	"github.com/xxxsen/convorag/internal/pkg/dbutil"
)

var identRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// payload field -> column used for equality filters
var pgColumns = map[string]string{
	FieldUserID:          "user_id",
	FieldTranscriptionID: "transcription_id",
	FieldFolderID:        "folder_id",
}

// pgvectorBackend keeps one table per collection in the service database.
type pgvectorBackend struct {
	db    *sql.DB
	table string
}

func newPgvectorBackend(args *BackendArgs) (Backend, error) {
	if args.DB == nil {
		return nil, fmt.Errorf("pgvector backend requires a database")
	}
	table := strings.ToLower(args.Collection)
	if !identRegex.MatchString(table) {
		return nil, fmt.Errorf("invalid collection name: %q", args.Collection)
	}
	return &pgvectorBackend{db: args.DB, table: table}, nil
}

func (p *pgvectorBackend) Name() string {
	return "pgvector"
}

func (p *pgvectorBackend) CollectionExists(ctx context.Context) (bool, error) {
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, p.table).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (p *pgvectorBackend) CreateCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension: %d", dimension)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			user_id TEXT NOT NULL,
			transcription_id TEXT NOT NULL,
			folder_id TEXT,
			chunk_type TEXT NOT NULL,
			payload JSONB NOT NULL
		)`, p.table, dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, p.table, p.table),
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *pgvectorBackend) CreatePayloadIndex(ctx context.Context, field string) error {
	col, ok := pgColumns[field]
	if !ok {
		return fmt.Errorf("unsupported payload index field: %s", field)
	}
	stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_%s_idx ON %s (%s)`, p.table, col, p.table, col)
	_, err := p.db.ExecContext(ctx, stmt)
	return err
}

func (p *pgvectorBackend) Upsert(ctx context.Context, points []model.Point) error {
	if len(points) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(p.table)
	sb.WriteString(" (id, embedding, user_id, transcription_id, folder_id, chunk_type, payload) VALUES ")
	args := make([]interface{}, 0, len(points)*7)
	for i, pt := range points {
		payload, err := json.Marshal(&pt.Payload)
		if err != nil {
			return fmt.Errorf("encode payload %s: %w", pt.ID, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			pt.ID,
			pgvector.NewVector(pt.Vector),
			pt.Payload.UserID,
			pt.Payload.TranscriptionID,
			dbutil.NullString(pt.Payload.FolderIDValue()),
			pt.Payload.ChunkType.String(),
			payload,
		)
	}
	sb.WriteString(` ON CONFLICT (id) DO UPDATE SET
		embedding = EXCLUDED.embedding,
		user_id = EXCLUDED.user_id,
		transcription_id = EXCLUDED.transcription_id,
		folder_id = EXCLUDED.folder_id,
		chunk_type = EXCLUDED.chunk_type,
		payload = EXCLUDED.payload`)
	sqlStr, args := dbutil.Finalize(sb.String(), args)
	_, err := p.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (p *pgvectorBackend) Search(ctx context.Context, req *SearchRequest) ([]model.ScoredChunk, error) {
	where, args := pgWhere(req.Filter)
	vec := pgvector.NewVector(req.Vector)
	query := fmt.Sprintf(
		`SELECT id, payload, 1 - (embedding <=> ?) AS score FROM %s WHERE %s AND 1 - (embedding <=> ?) >= ? ORDER BY embedding <=> ? LIMIT ?`,
		p.table, where,
	)
	all := append([]interface{}{vec}, args...)
	all = append(all, vec, req.ScoreThreshold, vec, req.Limit)
	sqlStr, all := dbutil.Finalize(query, all)
	rows, err := p.db.QueryContext(ctx, sqlStr, all...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ScoredChunk
	for rows.Next() {
		var (
			item    model.ScoredChunk
			payload []byte
		)
		if err := rows.Scan(&item.ID, &payload, &item.Score); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &item.Payload); err != nil {
			return nil, fmt.Errorf("decode payload %s: %w", item.ID, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (p *pgvectorBackend) Delete(ctx context.Context, filter Filter) (int64, error) {
	if filter.Empty() {
		return 0, fmt.Errorf("refusing to delete without filter")
	}
	sqlStr, args, err := builder.BuildDelete(p.table, pgWhereMap(filter))
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := p.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (p *pgvectorBackend) Count(ctx context.Context, filter Filter) (int64, error) {
	sqlStr, args, err := builder.BuildSelect(p.table, pgWhereMap(filter), []string{"COUNT(1)"})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var n int64
	if err := p.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *pgvectorBackend) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func pgWhereMap(f Filter) map[string]interface{} {
	where := map[string]interface{}{}
	if f.UserID != "" {
		where["user_id"] = f.UserID
	}
	if f.TranscriptionID != "" {
		where["transcription_id"] = f.TranscriptionID
	}
	if f.FolderID != "" {
		where["folder_id"] = f.FolderID
	}
	return where
}

func pgWhere(f Filter) (string, []interface{}) {
	conds := []string{"TRUE"}
	var args []interface{}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.TranscriptionID != "" {
		conds = append(conds, "transcription_id = ?")
		args = append(args, f.TranscriptionID)
	}
	if f.FolderID != "" {
		conds = append(conds, "folder_id = ?")
		args = append(args, f.FolderID)
	}
	return strings.Join(conds, " AND "), args
}

func init() {
	Register("pgvector", newPgvectorBackend)
}
