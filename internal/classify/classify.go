// Package classify implements the confidence label task: each subject can
// carry at most one of "Sure" or "Unsure".
package classify

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pbaille/taxo/internal/annotation"
	"github.com/pbaille/taxo/internal/domain"
)

const (
	Sure   = "Sure"
	Unsure = "Unsure"
)

// Categories lists the values of the task in display order.
var Categories = []string{Sure, Unsure}

// Task holds confidence annotations.
type Task struct {
	index  *annotation.Index
	author string
	now    func() time.Time
}

// New returns an empty task. Empty author means anonymous.
func New(author string) *Task {
	return &Task{index: annotation.New(), author: author, now: time.Now}
}

// Mark sets subject's confidence. An existing Sure/Unsure record for the
// subject is replaced in place rather than duplicated.
func (t *Task) Mark(subject, value string) {
	a := domain.Annotation{
		Type:      domain.TaskClassification,
		ID:        uuid.New().String(),
		Subject:   subject,
		Value:     value,
		CreatedAt: t.now().UTC(),
	}
	if t.author != "" {
		author := t.author
		a.Author = &author
	}

	if isConfidence(value) {
		for _, v := range Categories {
			if i := t.index.Find(subject, v); i != -1 {
				t.index.Replace(i, a)
				return
			}
		}
	}
	t.index.Add(a)
}

// Unmark removes the (subject, value) record.
func (t *Task) Unmark(subject, value string) error {
	if err := t.index.Remove(subject, value); err != nil {
		return fmt.Errorf("unmark: %w", err)
	}
	return nil
}

// Value returns the confidence of subject, or "" when unmarked.
func (t *Task) Value(subject string) string {
	for _, a := range t.index.BySubject(subject) {
		if isConfidence(a.Value) {
			return a.Value
		}
	}
	return ""
}

// Uncertain returns the subjects marked Unsure, in mark order.
func (t *Task) Uncertain() []string { return t.index.SubjectsOf(Unsure) }

// Annotations returns every record.
func (t *Task) Annotations() []domain.Annotation { return t.index.Annotations() }

// SetAll replaces every record.
func (t *Task) SetAll(all []domain.Annotation) { t.index.SetAll(all) }

func isConfidence(v string) bool { return v == Sure || v == Unsure }
