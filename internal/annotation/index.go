// Package annotation keeps an ordered log of annotation records together
// with lookups by subject and by value.
package annotation

import (
	"fmt"

	"github.com/pbaille/taxo/internal/domain"
)

// Index is the primary sequence of annotations plus two groupings of it.
// Each group preserves the order records have in the primary sequence, and
// a key is present only while its group is non-empty.
//
// Index is not safe for concurrent use.
type Index struct {
	records   []*domain.Annotation
	bySubject map[string][]*domain.Annotation
	byValue   map[string][]*domain.Annotation
	annotated map[string]struct{}
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		bySubject: make(map[string][]*domain.Annotation),
		byValue:   make(map[string][]*domain.Annotation),
		annotated: make(map[string]struct{}),
	}
}

// Len returns the number of records.
func (ix *Index) Len() int { return len(ix.records) }

// At returns a copy of the record at position i.
func (ix *Index) At(i int) domain.Annotation { return *ix.records[i] }

// Annotations returns a copy of the primary sequence.
func (ix *Index) Annotations() []domain.Annotation {
	out := make([]domain.Annotation, len(ix.records))
	for i, r := range ix.records {
		out[i] = *r
	}
	return out
}

// BySubject returns the records of a subject in primary order.
func (ix *Index) BySubject(subject string) []domain.Annotation {
	return copyGroup(ix.bySubject[subject])
}

// ByValue returns the records carrying a value in primary order.
func (ix *Index) ByValue(value string) []domain.Annotation {
	return copyGroup(ix.byValue[value])
}

// Subjects returns every subject with at least one record, in order of
// first appearance.
func (ix *Index) Subjects() []string {
	seen := make(map[string]struct{}, len(ix.annotated))
	var out []string
	for _, r := range ix.records {
		if _, ok := seen[r.Subject]; ok {
			continue
		}
		seen[r.Subject] = struct{}{}
		out = append(out, r.Subject)
	}
	return out
}

// SubjectsOf returns the subjects carrying value, in primary order.
func (ix *Index) SubjectsOf(value string) []string {
	group := ix.byValue[value]
	out := make([]string, len(group))
	for i, r := range group {
		out[i] = r.Subject
	}
	return out
}

// IsAnnotated reports whether subject has at least one record.
func (ix *Index) IsAnnotated(subject string) bool {
	_, ok := ix.annotated[subject]
	return ok
}

// Has reports whether a (subject, value) record exists.
func (ix *Index) Has(subject, value string) bool {
	for _, r := range ix.bySubject[subject] {
		if r.Value == value {
			return true
		}
	}
	return false
}

// Find returns the position of the (subject, value) record, or -1.
func (ix *Index) Find(subject, value string) int {
	if !ix.Has(subject, value) {
		return -1
	}
	for i, r := range ix.records {
		if r.Subject == subject && r.Value == value {
			return i
		}
	}
	return -1
}

// Add appends a record unless one with the same subject and value exists.
// It reports whether the record was added.
func (ix *Index) Add(a domain.Annotation) bool {
	if ix.Has(a.Subject, a.Value) {
		return false
	}
	r := &a
	ix.records = append(ix.records, r)
	ix.bySubject[r.Subject] = append(ix.bySubject[r.Subject], r)
	ix.byValue[r.Value] = append(ix.byValue[r.Value], r)
	ix.annotated[r.Subject] = struct{}{}
	return true
}

// AddBulk appends the records that do not duplicate an existing
// (subject, value) pair and rebuilds both groupings from scratch.
func (ix *Index) AddBulk(bulk []domain.Annotation) {
	for _, a := range bulk {
		if ix.Has(a.Subject, a.Value) {
			continue
		}
		r := a
		ix.records = append(ix.records, &r)
	}
	ix.rebuild()
}

// SetAll replaces every record.
func (ix *Index) SetAll(all []domain.Annotation) {
	ix.records = make([]*domain.Annotation, len(all))
	for i := range all {
		r := all[i]
		ix.records[i] = &r
	}
	ix.rebuild()
}

// Replace swaps the record at position i for a.
func (ix *Index) Replace(i int, a domain.Annotation) {
	old := ix.records[i]
	r := &a
	ix.records[i] = r

	ix.bySubject = detach(ix.bySubject, old.Subject, old)
	ix.byValue = detach(ix.byValue, old.Value, old)
	ix.bySubject[r.Subject] = ix.insertOrdered(ix.bySubject[r.Subject], i, func(x *domain.Annotation) bool {
		return x.Subject == r.Subject
	}, r)
	ix.byValue[r.Value] = ix.insertOrdered(ix.byValue[r.Value], i, func(x *domain.Annotation) bool {
		return x.Value == r.Value
	}, r)

	if _, ok := ix.bySubject[old.Subject]; !ok {
		delete(ix.annotated, old.Subject)
	}
	ix.annotated[r.Subject] = struct{}{}
}

// RemoveAt deletes the record at position i.
func (ix *Index) RemoveAt(i int) {
	old := ix.records[i]
	ix.records = append(ix.records[:i], ix.records[i+1:]...)

	ix.bySubject = detach(ix.bySubject, old.Subject, old)
	ix.byValue = detach(ix.byValue, old.Value, old)
	if _, ok := ix.bySubject[old.Subject]; !ok {
		delete(ix.annotated, old.Subject)
	}
}

// Remove deletes the (subject, value) record.
func (ix *Index) Remove(subject, value string) error {
	i := ix.Find(subject, value)
	if i == -1 {
		return fmt.Errorf("remove %q from %q: %w", value, subject, domain.ErrAnnotationNotFound)
	}
	ix.RemoveAt(i)
	return nil
}

// Discard deletes the (subject, value) record if present and reports
// whether it did.
func (ix *Index) Discard(subject, value string) bool {
	i := ix.Find(subject, value)
	if i == -1 {
		return false
	}
	ix.RemoveAt(i)
	return true
}

// RemoveByValues deletes every record whose value is in values.
func (ix *Index) RemoveByValues(values ...string) {
	if len(values) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(values))
	for _, v := range values {
		drop[v] = struct{}{}
	}

	kept := ix.records[:0]
	for _, r := range ix.records {
		if _, ok := drop[r.Value]; !ok {
			kept = append(kept, r)
		}
	}
	clear(ix.records[len(kept):])
	ix.records = kept

	for subject, group := range ix.bySubject {
		filtered := group[:0]
		for _, r := range group {
			if _, ok := drop[r.Value]; !ok {
				filtered = append(filtered, r)
			}
		}
		if len(filtered) == 0 {
			delete(ix.bySubject, subject)
			delete(ix.annotated, subject)
			continue
		}
		ix.bySubject[subject] = filtered
	}
	for v := range drop {
		delete(ix.byValue, v)
	}
}

// RenameValue rewrites the value of every record carrying oldValue.
func (ix *Index) RenameValue(oldValue, newValue string) {
	if oldValue == newValue {
		return
	}
	group, ok := ix.byValue[oldValue]
	if !ok {
		return
	}
	for _, r := range group {
		r.Value = newValue
	}
	delete(ix.byValue, oldValue)
	if _, exists := ix.byValue[newValue]; !exists {
		ix.byValue[newValue] = group
		return
	}
	// Both groups hold records now; regroup to keep primary order.
	var merged []*domain.Annotation
	for _, r := range ix.records {
		if r.Value == newValue {
			merged = append(merged, r)
		}
	}
	ix.byValue[newValue] = merged
}

func (ix *Index) rebuild() {
	ix.bySubject = make(map[string][]*domain.Annotation)
	ix.byValue = make(map[string][]*domain.Annotation)
	ix.annotated = make(map[string]struct{})
	for _, r := range ix.records {
		ix.bySubject[r.Subject] = append(ix.bySubject[r.Subject], r)
		ix.byValue[r.Value] = append(ix.byValue[r.Value], r)
		ix.annotated[r.Subject] = struct{}{}
	}
}

// insertOrdered places r into group at the slot matching its primary
// position pos. same selects the records belonging to the group.
func (ix *Index) insertOrdered(group []*domain.Annotation, pos int, same func(*domain.Annotation) bool, r *domain.Annotation) []*domain.Annotation {
	at := 0
	for _, x := range ix.records[:pos] {
		if same(x) {
			at++
		}
	}
	group = append(group, nil)
	copy(group[at+1:], group[at:])
	group[at] = r
	return group
}

func detach(m map[string][]*domain.Annotation, key string, r *domain.Annotation) map[string][]*domain.Annotation {
	group := m[key]
	if len(group) <= 1 {
		delete(m, key)
		return m
	}
	for i, x := range group {
		if x == r {
			m[key] = append(group[:i], group[i+1:]...)
			break
		}
	}
	return m
}

func copyGroup(group []*domain.Annotation) []domain.Annotation {
	if len(group) == 0 {
		return nil
	}
	out := make([]domain.Annotation, len(group))
	for i, r := range group {
		out[i] = *r
	}
	return out
}
