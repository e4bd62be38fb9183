// Package workspace bundles the label tasks of one annotation session and
// moves them in and out of progress files and the store.
package workspace

import (
	"errors"
	"fmt"

	"github.com/pbaille/taxo/internal/classify"
	"github.com/pbaille/taxo/internal/exchange"
	"github.com/pbaille/taxo/internal/store"
	"github.com/pbaille/taxo/internal/taxonomy"
)

// Workspace holds one annotator's taxonomy and confidence labels.
type Workspace struct {
	Name   string
	Engine *taxonomy.Engine
	Labels *classify.Task
}

// New returns an empty workspace.
func New(name string, cfg taxonomy.Config) *Workspace {
	return &Workspace{
		Name:   name,
		Engine: taxonomy.New(cfg),
		Labels: classify.New(cfg.Author),
	}
}

// Progress exports both tasks.
func (w *Workspace) Progress() []exchange.Progress {
	snap := w.Engine.Snapshot()
	return []exchange.Progress{
		&exchange.Classification{
			Categories:  append([]string(nil), classify.Categories...),
			Annotations: w.Labels.Annotations(),
		},
		&exchange.Taxonomization{
			Categories:  snap.Categories,
			Annotations: snap.Annotations,
		},
	}
}

// Apply replaces task state with the progresses present. Tasks missing
// from progresses are left alone.
func (w *Workspace) Apply(progresses []exchange.Progress) error {
	if tax, ok := exchange.Find[*exchange.Taxonomization](progresses); ok {
		err := w.Engine.Restore(taxonomy.Snapshot{
			Categories:  tax.Categories,
			Annotations: tax.Annotations,
		})
		if err != nil {
			return fmt.Errorf("apply workspace %q: %w", w.Name, err)
		}
	}
	if cls, ok := exchange.Find[*exchange.Classification](progresses); ok {
		w.Labels.SetAll(cls.Annotations)
	}
	return nil
}

// Open loads a workspace from the store. A workspace never saved opens
// empty.
func Open(st *store.Store, name string, cfg taxonomy.Config) (*Workspace, error) {
	w := New(name, cfg)

	progresses, err := st.LoadProgress(name)
	switch {
	case errors.Is(err, store.ErrWorkspaceNotFound):
		return w, nil
	case err != nil:
		return nil, fmt.Errorf("open workspace %q: %w", name, err)
	}
	if err := w.Apply(progresses); err != nil {
		return nil, err
	}

	subjects, err := st.LoadSubjects(name)
	if err != nil {
		return nil, fmt.Errorf("open workspace %q: %w", name, err)
	}
	if len(subjects) > 0 {
		w.Engine.SetSubjects(subjects)
	}
	return w, nil
}

// Save writes both tasks and the subject pool to the store.
func (w *Workspace) Save(st *store.Store) error {
	author := w.Engine.Author()
	if err := st.SaveProgress(w.Name, author, w.Progress()); err != nil {
		return fmt.Errorf("save workspace %q: %w", w.Name, err)
	}
	if err := st.SaveSubjects(w.Name, author, w.Engine.Subjects()); err != nil {
		return fmt.Errorf("save workspace %q: %w", w.Name, err)
	}
	return nil
}
