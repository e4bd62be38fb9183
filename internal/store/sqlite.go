// Package store persists annotation workspaces in SQLite.
package store

import (
	"cmp"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pbaille/taxo/internal/domain"
	"github.com/pbaille/taxo/internal/exchange"
)

//go:embed schema.sql
var schema string

// ErrWorkspaceNotFound is returned when loading a workspace that was never
// saved.
var ErrWorkspaceNotFound = errors.New("workspace not found")

// Workspace describes one saved annotation session.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Author    *string   `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store handles database operations
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveProgress replaces the stored tasks of workspace, creating the
// workspace if needed.
func (s *Store) SaveProgress(workspace, author string, progresses []exchange.Progress) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.touch(tx, workspace, author); err != nil {
		return err
	}
	for _, table := range []string{"tasks", "categories", "annotations"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE workspace = ?", workspace); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for i, p := range progresses {
		task := p.TaskName()
		if _, err := tx.Exec(
			"INSERT INTO tasks (workspace, position, task_name) VALUES (?, ?, ?)",
			workspace, i, task,
		); err != nil {
			return fmt.Errorf("insert task %q: %w", task, err)
		}
		if err := insertCategories(tx, workspace, p); err != nil {
			return err
		}
		for j, a := range p.Records() {
			if _, err := tx.Exec(
				"INSERT INTO annotations (workspace, task_name, position, id, subject, value, author, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
				workspace, task, j, a.ID, a.Subject, a.Value, a.Author, formatTime(a.CreatedAt),
			); err != nil {
				return fmt.Errorf("insert annotation: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertCategories(tx *sql.Tx, workspace string, p exchange.Progress) error {
	const q = "INSERT INTO categories (workspace, task_name, position, name, parent, child_rank) VALUES (?, ?, ?, ?, ?, ?)"
	switch p := p.(type) {
	case *exchange.Classification:
		for i, name := range p.Categories {
			if _, err := tx.Exec(q, workspace, p.TaskName(), i, name, nil, 0); err != nil {
				return fmt.Errorf("insert category %q: %w", name, err)
			}
		}
	case *exchange.Taxonomization:
		parents := make(map[string]string)
		ranks := make(map[string]int)
		for _, c := range p.Categories {
			for j, child := range c.Children {
				parents[child] = c.Name
				ranks[child] = j
			}
		}
		for i, c := range p.Categories {
			var parent *string
			if name, ok := parents[c.Name]; ok {
				parent = &name
			}
			if _, err := tx.Exec(q, workspace, p.TaskName(), i, c.Name, parent, ranks[c.Name]); err != nil {
				return fmt.Errorf("insert category %q: %w", c.Name, err)
			}
		}
	default:
		return fmt.Errorf("save progress %T: %w", p, domain.ErrUnknownTask)
	}
	return nil
}

// LoadProgress returns the stored tasks of workspace in saved order.
func (s *Store) LoadProgress(workspace string) ([]exchange.Progress, error) {
	if _, err := s.GetWorkspace(workspace); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		"SELECT task_name FROM tasks WHERE workspace = ? ORDER BY position",
		workspace,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var tasks []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	out := make([]exchange.Progress, 0, len(tasks))
	for _, task := range tasks {
		annotations, err := s.annotations(workspace, task)
		if err != nil {
			return nil, err
		}
		rows, err := s.categories(workspace, task)
		if err != nil {
			return nil, err
		}
		switch task {
		case domain.TaskClassification:
			names := make([]string, len(rows))
			for i, r := range rows {
				names[i] = r.name
			}
			out = append(out, &exchange.Classification{Categories: names, Annotations: annotations})
		case domain.TaskTaxonomization:
			out = append(out, &exchange.Taxonomization{Categories: nest(rows), Annotations: annotations})
		default:
			return nil, fmt.Errorf("load task %q: %w", task, domain.ErrUnknownTask)
		}
	}
	return out, nil
}

type categoryRow struct {
	name   string
	parent *string
	rank   int
}

// nest rebuilds the flat category list from stored rows.
func nest(rows []categoryRow) []domain.Category {
	children := make(map[string][]categoryRow, len(rows))
	for _, r := range rows {
		if r.parent != nil {
			children[*r.parent] = append(children[*r.parent], r)
		}
	}
	out := make([]domain.Category, len(rows))
	for i, r := range rows {
		kids := children[r.name]
		slices.SortStableFunc(kids, func(a, b categoryRow) int { return cmp.Compare(a.rank, b.rank) })
		names := make([]string, len(kids))
		for j, k := range kids {
			names[j] = k.name
		}
		out[i] = domain.Category{Name: r.name, Children: names}
	}
	return out
}

func (s *Store) categories(workspace, task string) ([]categoryRow, error) {
	rows, err := s.db.Query(
		"SELECT name, parent, child_rank FROM categories WHERE workspace = ? AND task_name = ? ORDER BY position",
		workspace, task,
	)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []categoryRow
	for rows.Next() {
		var r categoryRow
		if err := rows.Scan(&r.name, &r.parent, &r.rank); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) annotations(workspace, task string) ([]domain.Annotation, error) {
	rows, err := s.db.Query(
		"SELECT id, subject, value, author, created_at FROM annotations WHERE workspace = ? AND task_name = ? ORDER BY position",
		workspace, task,
	)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	out := []domain.Annotation{}
	for rows.Next() {
		a := domain.Annotation{Type: task}
		var created string
		if err := rows.Scan(&a.ID, &a.Subject, &a.Value, &a.Author, &created); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("annotation %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveSubjects replaces the subject pool of workspace.
func (s *Store) SaveSubjects(workspace, author string, subjects []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.touch(tx, workspace, author); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM subjects WHERE workspace = ?", workspace); err != nil {
		return fmt.Errorf("clear subjects: %w", err)
	}
	for i, subject := range subjects {
		if _, err := tx.Exec(
			"INSERT INTO subjects (workspace, position, subject) VALUES (?, ?, ?)",
			workspace, i, subject,
		); err != nil {
			return fmt.Errorf("insert subject: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadSubjects returns the subject pool of workspace in saved order.
func (s *Store) LoadSubjects(workspace string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT subject FROM subjects WHERE workspace = ? ORDER BY position",
		workspace,
	)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	subjects := []string{}
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, subject)
	}
	return subjects, rows.Err()
}

// GetWorkspace retrieves a workspace by name.
func (s *Store) GetWorkspace(name string) (*Workspace, error) {
	var w Workspace
	var created, updated string
	err := s.db.QueryRow(
		"SELECT id, name, author, created_at, updated_at FROM workspaces WHERE name = ?",
		name,
	).Scan(&w.ID, &w.Name, &w.Author, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get workspace %q: %w", name, ErrWorkspaceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace: %w", err)
	}
	if w.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkspaces returns all workspaces, most recently updated first.
func (s *Store) ListWorkspaces() ([]Workspace, error) {
	rows, err := s.db.Query(
		"SELECT id, name, author, created_at, updated_at FROM workspaces ORDER BY updated_at DESC, name",
	)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []Workspace
	for rows.Next() {
		var w Workspace
		var created, updated string
		if err := rows.Scan(&w.ID, &w.Name, &w.Author, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		if w.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if w.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		workspaces = append(workspaces, w)
	}

	return workspaces, rows.Err()
}

// DeleteWorkspace removes a workspace and everything saved in it.
func (s *Store) DeleteWorkspace(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM workspaces WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete workspace %q: %w", name, ErrWorkspaceNotFound)
	}
	for _, table := range []string{"tasks", "categories", "annotations", "subjects"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE workspace = ?", name); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// touch creates workspace or bumps its update time.
func (s *Store) touch(tx *sql.Tx, workspace, author string) error {
	now := formatTime(s.now())
	var authorPtr *string
	if author != "" {
		authorPtr = &author
	}
	_, err := tx.Exec(`
		INSERT INTO workspaces (name, id, author, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET author = excluded.author, updated_at = excluded.updated_at
	`, workspace, uuid.New().String(), authorPtr, now, now)
	if err != nil {
		return fmt.Errorf("upsert workspace: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}
