// Package taxonomy implements taxonomy editing on top of a category
// hierarchy and an annotation index.
//
// Every assignment of a subject to a category implies assignment to all of
// the category's ancestors. Structural edits keep this closure intact:
// when a subject leaves the last child of an ancestor that still held it,
// the ancestor assignment is retracted too, walking upward until a sibling
// still claims the subject or the root is reached.
package taxonomy

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/pbaille/taxo/internal/annotation"
	"github.com/pbaille/taxo/internal/domain"
	"github.com/pbaille/taxo/internal/hierarchy"
)

// Config configures an Engine.
type Config struct {
	// Author is attached to every new annotation. Empty means anonymous.
	Author string

	// Subjects is the full subject pool, used when dividing without a taxon.
	Subjects []string

	// Clusterer and Captioner back DivideTaxon. Both are optional for
	// every other operation.
	Clusterer Clusterer
	Captioner Captioner

	Logger *slog.Logger

	// Now and NewID default to time.Now and random UUIDs.
	Now   func() time.Time
	NewID func() string
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewID == nil {
		c.NewID = func() string { return uuid.New().String() }
	}
}

// Engine owns one taxonomy: its hierarchy and its annotations. It is not
// safe for concurrent use; callers serialize writers.
type Engine struct {
	cfg   Config
	tree  *hierarchy.Tree
	index *annotation.Index
	log   *slog.Logger
}

// New returns an engine with an empty taxonomy.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{
		cfg:   cfg,
		tree:  hierarchy.New(),
		index: annotation.New(),
		log:   cfg.Logger.With("task", domain.TaskTaxonomization),
	}
}

// Snapshot is the serializable state of a taxonomy.
type Snapshot struct {
	Categories  []domain.Category   `json:"categories"`
	Annotations []domain.Annotation `json:"annotations"`
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Categories:  e.tree.Categories(),
		Annotations: e.index.Annotations(),
	}
}

// Restore replaces the current state. On error the engine is unchanged.
func (e *Engine) Restore(s Snapshot) error {
	tree, err := hierarchy.FromCategories(s.Categories)
	if err != nil {
		return fmt.Errorf("restore taxonomy: %w", err)
	}
	for _, a := range s.Annotations {
		if !tree.Contains(a.Value) {
			return fmt.Errorf("restore annotation %q on %q: %w", a.Value, a.Subject, domain.ErrCategoryNotFound)
		}
	}
	e.tree = tree
	e.index.SetAll(s.Annotations)
	return nil
}

// Import appends annotations in bulk, skipping (subject, value) pairs that
// already exist or repeat within bulk, then completes the ancestor closure
// of every imported pair. Every value must name an existing category.
func (e *Engine) Import(bulk []domain.Annotation) error {
	type pair struct{ subject, value string }
	seen := make(map[pair]struct{}, len(bulk))
	unique := make([]domain.Annotation, 0, len(bulk))
	for _, a := range bulk {
		if !e.tree.Contains(a.Value) {
			return fmt.Errorf("import annotation %q on %q: %w", a.Value, a.Subject, domain.ErrCategoryNotFound)
		}
		k := pair{a.Subject, a.Value}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, a)
	}
	e.index.AddBulk(unique)
	for _, a := range unique {
		for _, anc := range e.tree.Ancestors(a.Value) {
			e.index.Add(e.build(a.Subject, anc))
		}
	}
	return nil
}

// Author returns the annotator attached to new annotations.
func (e *Engine) Author() string { return e.cfg.Author }

// SetAuthor changes the annotator attached to new annotations.
func (e *Engine) SetAuthor(author string) { e.cfg.Author = author }

// Subjects returns the subject pool.
func (e *Engine) Subjects() []string { return slices.Clone(e.cfg.Subjects) }

// SetSubjects replaces the subject pool.
func (e *Engine) SetSubjects(subjects []string) { e.cfg.Subjects = slices.Clone(subjects) }

// Forest returns the nested hierarchy.
func (e *Engine) Forest() []domain.TreeNode { return e.tree.Forest() }

// Categories returns the flat hierarchy.
func (e *Engine) Categories() []domain.Category { return e.tree.Categories() }

// Contains reports whether a category exists.
func (e *Engine) Contains(taxon string) bool { return e.tree.Contains(taxon) }

// Children returns the ordered children of a category.
func (e *Engine) Children(taxon string) []string { return e.tree.Children(taxon) }

// Ancestors returns the ancestors of a category from parent to root.
func (e *Engine) Ancestors(taxon string) []string { return e.tree.Ancestors(taxon) }

// Annotations returns every annotation in insertion order.
func (e *Engine) Annotations() []domain.Annotation { return e.index.Annotations() }

// AnnotationsOf returns the annotations of a subject.
func (e *Engine) AnnotationsOf(subject string) []domain.Annotation {
	return e.index.BySubject(subject)
}

// IsAnnotated reports whether a subject has any annotation.
func (e *Engine) IsAnnotated(subject string) bool { return e.index.IsAnnotated(subject) }

// Has reports whether subject is assigned to taxon.
func (e *Engine) Has(subject, taxon string) bool { return e.index.Has(subject, taxon) }

// SubjectsIn returns the subjects assigned to taxon, or the whole pool
// when taxon is empty.
func (e *Engine) SubjectsIn(taxon string) []string {
	if taxon == "" {
		return e.Subjects()
	}
	return e.index.SubjectsOf(taxon)
}

func (e *Engine) build(subject, value string) domain.Annotation {
	a := domain.Annotation{
		Type:      domain.TaskTaxonomization,
		ID:        e.cfg.NewID(),
		Subject:   subject,
		Value:     value,
		CreatedAt: e.cfg.Now().UTC(),
	}
	if e.cfg.Author != "" {
		author := e.cfg.Author
		a.Author = &author
	}
	return a
}

// assign adds (subject, taxon) and (subject, a) for every ancestor a.
func (e *Engine) assign(subject, taxon string) {
	e.index.Add(e.build(subject, taxon))
	for _, a := range e.tree.Ancestors(taxon) {
		e.index.Add(e.build(subject, a))
	}
}

// retract walks ancestors upward from vacated and drops subject from each
// one until a child other than the branch just left still holds it.
func (e *Engine) retract(subject, vacated string, ancestors []string) {
	current := vacated
	for _, a := range ancestors {
		if e.claimedBySibling(subject, a, current) {
			return
		}
		e.index.Discard(subject, a)
		current = a
	}
}

func (e *Engine) claimedBySibling(subject, parent, except string) bool {
	for _, c := range e.tree.Children(parent) {
		if c != except && e.index.Has(subject, c) {
			return true
		}
	}
	return false
}

func (e *Engine) requireTaxon(op, taxon string) error {
	if !e.tree.Contains(taxon) {
		return fmt.Errorf("%s %q: %w", op, taxon, domain.ErrCategoryNotFound)
	}
	return nil
}
