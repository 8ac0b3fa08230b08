package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/shotdiff/dbopen"
)

// ErrInvalidDecision is returned for a decision other than accept, reject
// or note.
var ErrInvalidDecision = errors.New("store: decision must be accept, reject or note")

// Decisions a reviewer can record.
const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
	DecisionNote   = "note"
)

// Verdict is a reviewer's decision on one screenshot.
type Verdict struct {
	ID           string `json:"id"`
	Path         string `json:"path"`
	Decision     string `json:"decision"`
	NoteHTML     string `json:"note_html,omitempty"`
	NoteMarkdown string `json:"note_markdown,omitempty"`
	Reviewer     string `json:"reviewer,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

var (
	notePolicy = bluemonday.UGCPolicy()
	noteConv   = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
)

// cleanNote sanitises user HTML and derives its markdown form.
func cleanNote(raw string) (html, md string) {
	html = strings.TrimSpace(notePolicy.Sanitize(raw))
	if html == "" {
		return "", ""
	}
	md, err := noteConv.ConvertString(html)
	if err != nil || strings.TrimSpace(md) == "" {
		return html, html
	}
	return html, strings.TrimSpace(md)
}

// AddVerdict stores v. The note is read from NoteHTML, sanitised, and
// mirrored into NoteMarkdown; ID and CreatedAt are assigned.
func (s *Store) AddVerdict(ctx context.Context, v *Verdict) error {
	switch v.Decision {
	case DecisionAccept, DecisionReject, DecisionNote:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDecision, v.Decision)
	}
	if v.Path == "" {
		return fmt.Errorf("store: verdict without path")
	}
	v.ID = s.verdictID()
	v.CreatedAt = s.now().UnixMilli()
	v.NoteHTML, v.NoteMarkdown = cleanNote(v.NoteHTML)

	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO verdicts (id, path, decision, note_html, note_markdown, reviewer, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.Path, v.Decision, v.NoteHTML, v.NoteMarkdown, v.Reviewer, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: add verdict: %w", err)
	}
	return nil
}

const verdictColumns = `id, path, decision, note_html, note_markdown, reviewer, created_at`

// Verdicts returns the verdicts on path, newest first. An empty path
// returns all verdicts.
func (s *Store) Verdicts(ctx context.Context, path string) ([]*Verdict, error) {
	query := `SELECT ` + verdictColumns + ` FROM verdicts`
	var args []any
	if path != "" {
		query += ` WHERE path = ?`
		args = append(args, path)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: verdicts: %w", err)
	}
	defer rows.Close()

	var out []*Verdict
	for rows.Next() {
		v := &Verdict{}
		if err := rows.Scan(&v.ID, &v.Path, &v.Decision, &v.NoteHTML, &v.NoteMarkdown, &v.Reviewer, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// LatestVerdict returns the newest verdict on path.
func (s *Store) LatestVerdict(ctx context.Context, path string) (*Verdict, error) {
	v := &Verdict{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT `+verdictColumns+` FROM verdicts WHERE path = ? ORDER BY created_at DESC, id DESC LIMIT 1`, path,
	).Scan(&v.ID, &v.Path, &v.Decision, &v.NoteHTML, &v.NoteMarkdown, &v.Reviewer, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no verdict for %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest verdict: %w", err)
	}
	return v, nil
}
