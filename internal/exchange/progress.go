// Package exchange reads and writes task progress files: a JSON array with
// one {taskName, categories, annotations} object per label task.
package exchange

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pbaille/taxo/internal/domain"
)

// Progress is the saved state of one label task. The concrete type is
// selected by the task name: *Classification or *Taxonomization.
type Progress interface {
	TaskName() string
	Records() []domain.Annotation
	isProgress()
}

// Classification is the progress of the Sure/Unsure task.
type Classification struct {
	Categories  []string
	Annotations []domain.Annotation
}

// Taxonomization is the progress of the taxonomy task.
type Taxonomization struct {
	Categories  []domain.Category
	Annotations []domain.Annotation
}

func (*Classification) TaskName() string { return domain.TaskClassification }
func (*Taxonomization) TaskName() string { return domain.TaskTaxonomization }

func (p *Classification) Records() []domain.Annotation { return p.Annotations }
func (p *Taxonomization) Records() []domain.Annotation { return p.Annotations }

func (*Classification) isProgress() {}
func (*Taxonomization) isProgress() {}

type envelope struct {
	TaskName    string              `json:"taskName"`
	Categories  json.RawMessage     `json:"categories"`
	Annotations []domain.Annotation `json:"annotations"`
}

// Decode reads a progress file.
func Decode(r io.Reader) ([]Progress, error) {
	var raw []envelope
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}

	out := make([]Progress, 0, len(raw))
	for _, env := range raw {
		p, err := decodeOne(env)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func decodeOne(env envelope) (Progress, error) {
	annotations := env.Annotations
	if annotations == nil {
		annotations = []domain.Annotation{}
	}
	switch env.TaskName {
	case domain.TaskClassification:
		p := &Classification{Annotations: annotations}
		if err := unmarshalCategories(env, &p.Categories); err != nil {
			return nil, err
		}
		return p, nil
	case domain.TaskTaxonomization:
		p := &Taxonomization{Annotations: annotations}
		if err := unmarshalCategories(env, &p.Categories); err != nil {
			return nil, err
		}
		for i := range p.Categories {
			if p.Categories[i].Children == nil {
				p.Categories[i].Children = []string{}
			}
		}
		return p, nil
	}
	return nil, fmt.Errorf("decode progress %q: %w", env.TaskName, domain.ErrUnknownTask)
}

func unmarshalCategories(env envelope, dst any) error {
	if len(env.Categories) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Categories, dst); err != nil {
		return fmt.Errorf("decode %s categories: %w", env.TaskName, err)
	}
	return nil
}

// Encode writes a progress file.
func Encode(w io.Writer, progresses []Progress) error {
	raw := make([]any, 0, len(progresses))
	for _, p := range progresses {
		switch p := p.(type) {
		case *Classification:
			raw = append(raw, struct {
				TaskName    string              `json:"taskName"`
				Categories  []string            `json:"categories"`
				Annotations []domain.Annotation `json:"annotations"`
			}{p.TaskName(), orEmpty(p.Categories), orEmpty(p.Annotations)})
		case *Taxonomization:
			raw = append(raw, struct {
				TaskName    string              `json:"taskName"`
				Categories  []domain.Category   `json:"categories"`
				Annotations []domain.Annotation `json:"annotations"`
			}{p.TaskName(), orEmpty(p.Categories), orEmpty(p.Annotations)})
		default:
			return fmt.Errorf("encode progress %T: %w", p, domain.ErrUnknownTask)
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(raw)
}

// Find returns the first progress of the given concrete type.
func Find[T Progress](progresses []Progress) (T, bool) {
	for _, p := range progresses {
		if t, ok := p.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
