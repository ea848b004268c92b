package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"unicode"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/mnote-agent/internal/model"
	"github.com/xxxsen/mnote-agent/internal/pkg/dbutil"
	appErr "github.com/xxxsen/mnote-agent/internal/pkg/errors"
)

var noteFields = []string{"id", "title", "content", "ctime", "mtime", "synced_mtime"}

// NoteRepo is the sqlite notes store. Keyword search runs on an FTS5 index
// kept in step with the notes table.
type NoteRepo struct {
	db *sql.DB
}

func NewNoteRepo(db *sql.DB) *NoteRepo {
	return &NoteRepo{db: db}
}

func (r *NoteRepo) Create(ctx context.Context, note *model.Note) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		data := map[string]interface{}{
			"id":           note.ID,
			"title":        note.Title,
			"content":      note.Content,
			"ctime":        note.Ctime,
			"mtime":        note.Mtime,
			"synced_mtime": 0,
		}
		sqlStr, args, err := builder.BuildInsert("notes", []map[string]interface{}{data})
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
		if err := replaceTags(ctx, tx, note.ID, note.Tags); err != nil {
			return err
		}
		return upsertFTS(ctx, tx, note)
	})
}

func (r *NoteRepo) Update(ctx context.Context, note *model.Note) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		where := map[string]interface{}{"id": note.ID}
		update := map[string]interface{}{
			"title":   note.Title,
			"content": note.Content,
			"mtime":   note.Mtime,
		}
		sqlStr, args, err := builder.BuildUpdate("notes", where, update)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, sqlStr, args...)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return appErr.ErrNotFound
		}
		if err := replaceTags(ctx, tx, note.ID, note.Tags); err != nil {
			return err
		}
		return upsertFTS(ctx, tx, note)
	})
}

func (r *NoteRepo) GetByID(ctx context.Context, id string) (*model.Note, error) {
	sqlStr, args, err := builder.BuildSelect("notes", map[string]interface{}{"id": id}, noteFields)
	if err != nil {
		return nil, err
	}
	var note model.Note
	err = r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&note.ID, &note.Title, &note.Content, &note.Ctime, &note.Mtime, &note.SyncedMtime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	tags, err := r.tagsOf(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	note.Tags = tags[id]
	return &note, nil
}

func (r *NoteRepo) Delete(ctx context.Context, id string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		sqlStr, args, err := builder.BuildDelete("notes", map[string]interface{}{"id": id})
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, sqlStr, args...)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return appErr.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM note_tags WHERE note_id = ?", id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM notes_fts WHERE note_id = ?", id)
		return err
	})
}

// Search ranks notes by bm25 over title and content. Only notes carrying
// every tag in tags are considered. An empty query with tags lists the
// tagged notes, most recently modified first, all with score 1.
func (r *NoteRepo) Search(ctx context.Context, query string, tags []string, limit int) ([]model.NoteMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	tags = normalizeTags(tags)
	match := ftsMatchQuery(query)
	if match == "" && len(tags) == 0 {
		return []model.NoteMatch{}, nil
	}

	var (
		sb   strings.Builder
		args []interface{}
	)
	if match != "" {
		sb.WriteString(`SELECT n.id, n.title, n.content, n.ctime, n.mtime, n.synced_mtime, -bm25(notes_fts) AS score
			FROM notes_fts f JOIN notes n ON n.id = f.note_id
			WHERE notes_fts MATCH ?`)
		args = append(args, match)
	} else {
		sb.WriteString(`SELECT n.id, n.title, n.content, n.ctime, n.mtime, n.synced_mtime, 1.0 AS score
			FROM notes n WHERE 1 = 1`)
	}
	if len(tags) > 0 {
		sb.WriteString(" AND n.id IN (SELECT note_id FROM note_tags WHERE tag IN (?")
		sb.WriteString(strings.Repeat(", ?", len(tags)-1))
		sb.WriteString(") GROUP BY note_id HAVING COUNT(DISTINCT tag) = ?)")
		for _, tag := range tags {
			args = append(args, tag)
		}
		args = append(args, len(tags))
	}
	if match != "" {
		sb.WriteString(" ORDER BY score DESC, n.mtime DESC")
	} else {
		sb.WriteString(" ORDER BY n.mtime DESC")
	}
	sb.WriteString(" LIMIT ?")
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	matches := make([]model.NoteMatch, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		var m model.NoteMatch
		if err := rows.Scan(&m.Note.ID, &m.Note.Title, &m.Note.Content, &m.Note.Ctime, &m.Note.Mtime, &m.Note.SyncedMtime, &m.Score); err != nil {
			return nil, err
		}
		matches = append(matches, m)
		ids = append(ids, m.Note.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	byNote, err := r.tagsOf(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range matches {
		matches[i].Note.Tags = byNote[matches[i].Note.ID]
	}
	return matches, nil
}

func (r *NoteRepo) List(ctx context.Context, limit, offset uint) ([]model.Note, error) {
	where := map[string]interface{}{
		"_orderby": "mtime desc",
	}
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	sqlStr, args, err := builder.BuildSelect("notes", where, noteFields)
	if err != nil {
		return nil, err
	}
	return r.queryNotes(ctx, sqlStr, args...)
}

// ListStale returns notes modified after their last vector sync.
func (r *NoteRepo) ListStale(ctx context.Context, limit int) ([]model.Note, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryNotes(ctx,
		"SELECT id, title, content, ctime, mtime, synced_mtime FROM notes WHERE mtime > synced_mtime ORDER BY mtime ASC LIMIT ?",
		limit)
}

// MarkSynced records that the vectors of note id reflect version mtime.
// A note modified since keeps its stale state.
func (r *NoteRepo) MarkSynced(ctx context.Context, id string, mtime int64) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE notes SET synced_mtime = ? WHERE id = ? AND mtime = ?",
		mtime, id, mtime)
	return err
}

func (r *NoteRepo) queryNotes(ctx context.Context, query string, args ...interface{}) ([]model.Note, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	notes := make([]model.Note, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var note model.Note
		if err := rows.Scan(&note.ID, &note.Title, &note.Content, &note.Ctime, &note.Mtime, &note.SyncedMtime); err != nil {
			return nil, err
		}
		notes = append(notes, note)
		ids = append(ids, note.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	byNote, err := r.tagsOf(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range notes {
		notes[i].Tags = byNote[notes[i].ID]
	}
	return notes, nil
}

func (r *NoteRepo) tagsOf(ctx context.Context, ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	where := map[string]interface{}{
		"note_id in": ids,
		"_orderby":   "tag asc",
	}
	sqlStr, args, err := builder.BuildSelect("note_tags", where, []string{"note_id", "tag"})
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, err
		}
		out[id] = append(out[id], tag)
	}
	return out, rows.Err()
}

func (r *NoteRepo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return dbutil.InTx(ctx, r.db, fn)
}

func replaceTags(ctx context.Context, tx *sql.Tx, noteID string, tags []string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM note_tags WHERE note_id = ?", noteID); err != nil {
		return err
	}
	tags = normalizeTags(tags)
	if len(tags) == 0 {
		return nil
	}
	data := make([]map[string]interface{}, 0, len(tags))
	for _, tag := range tags {
		data = append(data, map[string]interface{}{"note_id": noteID, "tag": tag})
	}
	sqlStr, args, err := builder.BuildInsert("note_tags", data)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, sqlStr, args...)
	return err
}

func upsertFTS(ctx context.Context, tx *sql.Tx, note *model.Note) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM notes_fts WHERE note_id = ?", note.ID); err != nil {
		return err
	}
	data := map[string]interface{}{
		"note_id": note.ID,
		"title":   note.Title,
		"content": note.Content,
	}
	sqlStr, args, err := builder.BuildInsert("notes_fts", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, sqlStr, args...)
	return err
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// ftsMatchQuery turns free text into an FTS5 expression matching any of its
// terms. Everything but letters and digits separates terms.
func ftsMatchQuery(input string) string {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return ""
	}
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}
