package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/mnote-agent/internal/model"
	"github.com/xxxsen/mnote-agent/internal/pkg/dbutil"
)

// NoteChunkRepo keeps embedded note chunks in postgres. Similarity is
// cosine, scored as 1 - distance.
type NoteChunkRepo struct {
	db *sql.DB
}

func NewNoteChunkRepo(db *sql.DB) *NoteChunkRepo {
	return &NoteChunkRepo{db: db}
}

// ReplaceByNote swaps every chunk of noteID for chunks in one transaction.
func (r *NoteChunkRepo) ReplaceByNote(ctx context.Context, noteID string, chunks []model.NoteChunk) error {
	return dbutil.InTx(ctx, r.db, func(tx *sql.Tx) error {
		sqlDelete, deleteArgs := dbutil.Rebind("DELETE FROM note_chunks WHERE note_id=?", []interface{}{noteID})
		if _, err := tx.ExecContext(ctx, sqlDelete, deleteArgs...); err != nil {
			return err
		}
		return insertChunks(ctx, tx, noteID, chunks)
	})
}

func insertChunks(ctx context.Context, tx *sql.Tx, noteID string, chunks []model.NoteChunk) error {
	for _, chunk := range chunks {
		sqlStr, args, err := builder.BuildInsert("note_chunks", []map[string]interface{}{{
			"chunk_id":    chunk.ChunkID,
			"note_id":     noteID,
			"title":       chunk.Title,
			"content":     chunk.Content,
			"chunk_type":  string(chunk.ChunkType),
			"position":    chunk.Position,
			"token_count": chunk.TokenCount,
			"embedding":   pgvector.NewVector(chunk.Embedding),
			"mtime":       chunk.Mtime,
		}})
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Rebind(sqlStr, args)
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
	}
	return nil
}

func (r *NoteChunkRepo) DeleteByNote(ctx context.Context, noteID string) error {
	sqlStr, args, err := builder.BuildDelete("note_chunks", map[string]interface{}{"note_id": noteID})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Rebind(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *NoteChunkRepo) Search(ctx context.Context, vector []float32, topK int) ([]model.ChunkMatch, error) {
	if len(vector) == 0 || topK <= 0 {
		return []model.ChunkMatch{}, nil
	}
	const query = `
		SELECT chunk_id, note_id, title, content, chunk_type, position, token_count, mtime,
			1 - (embedding <=> ?) AS score
		FROM note_chunks
		WHERE vector_dims(embedding) = ?
		ORDER BY embedding <=> ?
		LIMIT ?
	`
	vec := pgvector.NewVector(vector)
	sqlStr, args := dbutil.Rebind(query, []interface{}{vec, len(vector), vec, topK})
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	matches := make([]model.ChunkMatch, 0, topK)
	for rows.Next() {
		var (
			m         model.ChunkMatch
			chunkType string
		)
		if err := rows.Scan(&m.Chunk.ChunkID, &m.Chunk.NoteID, &m.Chunk.Title, &m.Chunk.Content, &chunkType,
			&m.Chunk.Position, &m.Chunk.TokenCount, &m.Chunk.Mtime, &m.Score); err != nil {
			return nil, err
		}
		m.Chunk.ChunkType = model.ChunkType(chunkType)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (r *NoteChunkRepo) CountByNote(ctx context.Context, noteID string) (int, error) {
	sqlStr, args := dbutil.Rebind("SELECT COUNT(*) FROM note_chunks WHERE note_id=?", []interface{}{noteID})
	var count int
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
