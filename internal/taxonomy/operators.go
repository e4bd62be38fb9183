package taxonomy

import (
	"fmt"

	"github.com/pbaille/taxo/internal/domain"
)

// CreateTaxon adds a category named after name (made unique) under parent,
// or as a new root when parent is empty, and assigns subjects to it.
// It returns the name actually used.
func (e *Engine) CreateTaxon(name string, subjects []string, parent string) (string, error) {
	if parent != "" {
		if err := e.requireTaxon("create taxon under", parent); err != nil {
			return "", err
		}
	}
	name = e.GenerateUniqueName(name)
	if err := e.tree.AddNode(name, parent); err != nil {
		return "", fmt.Errorf("create taxon: %w", err)
	}
	for _, s := range subjects {
		e.assign(s, name)
	}
	e.log.Debug("create taxon", "taxon", name, "parent", parent, "subjects", len(subjects))
	return name, nil
}

// CreateTaxonEmpty adds an empty category under parent, or as a new root.
// When the new category is the only child of a parent that already holds
// subjects, an "ungrouped" sibling is added and given all of the parent's
// subjects, so every subject of a non-leaf stays on one of its children.
func (e *Engine) CreateTaxonEmpty(parent string) (string, error) {
	if parent != "" {
		if err := e.requireTaxon("create taxon under", parent); err != nil {
			return "", err
		}
	}
	name := e.GenerateUniqueName(defaultName)
	if err := e.tree.AddNode(name, parent); err != nil {
		return "", fmt.Errorf("create taxon: %w", err)
	}
	e.log.Debug("create empty taxon", "taxon", name, "parent", parent)

	if parent == "" || len(e.tree.Siblings(name)) > 0 {
		return name, nil
	}
	held := e.index.SubjectsOf(parent)
	if len(held) == 0 {
		return name, nil
	}
	ungrouped := e.GenerateUniqueName(ungroupedName)
	if err := e.tree.AddNode(ungrouped, parent); err != nil {
		return "", fmt.Errorf("create taxon: %w", err)
	}
	for _, s := range held {
		e.assign(s, ungrouped)
	}
	e.log.Debug("create taxon", "taxon", ungrouped, "parent", parent, "subjects", len(held))
	return name, nil
}

// AssignTaxon assigns subject to taxon and to all of its ancestors.
func (e *Engine) AssignTaxon(subject, taxon string) error {
	if err := e.requireTaxon("assign taxon", taxon); err != nil {
		return err
	}
	e.assign(subject, taxon)
	return nil
}

// UnassignTaxon removes subject from taxon and from every descendant of
// taxon, then retracts ancestor assignments no sibling still justifies.
func (e *Engine) UnassignTaxon(subject, taxon string) error {
	if err := e.requireTaxon("unassign taxon", taxon); err != nil {
		return err
	}
	if !e.index.Has(subject, taxon) {
		return fmt.Errorf("unassign %q from %q: %w", taxon, subject, domain.ErrAnnotationNotFound)
	}

	e.index.Discard(subject, taxon)
	for _, d := range e.tree.Descendants(taxon) {
		e.index.Discard(subject, d)
	}
	e.retract(subject, taxon, e.tree.Ancestors(taxon))
	return nil
}

// FlattenTaxon removes every descendant of taxon along with their
// assignments. Subjects keep their assignment to taxon itself.
func (e *Engine) FlattenTaxon(taxon string) error {
	removed, err := e.tree.RemoveChildren(taxon)
	if err != nil {
		return err
	}
	e.index.RemoveByValues(removed...)
	e.log.Debug("flatten taxon", "taxon", taxon, "removed", len(removed))
	return nil
}

// MergeTaxa folds source into target: subjects of source move to target,
// children of source are re-parented under target, and source is deleted.
func (e *Engine) MergeTaxa(source, target string) error {
	if err := e.requireTaxon("merge taxon", source); err != nil {
		return err
	}
	if err := e.requireTaxon("merge into taxon", target); err != nil {
		return err
	}
	if source == target || e.tree.IsAncestor(source, target) {
		return fmt.Errorf("merge taxon %q into %q: %w", source, target, domain.ErrCyclicMove)
	}

	subjects := e.index.SubjectsOf(source)
	ancestors := e.tree.Ancestors(source)

	for _, s := range subjects {
		e.assign(s, target)
	}
	for _, child := range e.tree.Children(source) {
		if err := e.tree.MoveNode(child, target, domain.Inner); err != nil {
			return fmt.Errorf("merge taxon %q into %q: %w", source, target, err)
		}
	}
	for _, s := range subjects {
		e.retract(s, source, ancestors)
	}
	// The walk above may have dropped an ancestor that target shares with
	// source; put target's chain back.
	for _, s := range subjects {
		e.assign(s, target)
	}

	e.tree.RemoveNode(source)
	e.index.RemoveByValues(source)
	e.log.Debug("merge taxa", "source", source, "target", target, "subjects", len(subjects))
	return nil
}

// MoveTaxon moves source relative to target. Subjects follow the taxon:
// ancestor assignments at the old location are retracted and the new
// ancestor chain is assigned.
func (e *Engine) MoveTaxon(source, target string, pos domain.Position) error {
	if !pos.Valid() {
		return fmt.Errorf("move taxon %q: %q: %w", source, pos, domain.ErrInvalidPosition)
	}
	if err := e.tree.CheckMove(source, target, pos); err != nil {
		return err
	}

	subjects := e.index.SubjectsOf(source)
	oldAncestors := e.tree.Ancestors(source)
	for _, s := range subjects {
		e.retract(s, source, oldAncestors)
	}

	if err := e.tree.MoveNode(source, target, pos); err != nil {
		return err
	}

	siblings := e.tree.Siblings(source)
	newAncestors := e.tree.Ancestors(source)
	for _, s := range subjects {
		if e.heldByAny(s, siblings) {
			continue
		}
		for _, a := range newAncestors {
			e.index.Add(e.build(s, a))
		}
	}
	e.log.Debug("move taxon", "taxon", source, "anchor", target, "position", pos, "subjects", len(subjects))
	return nil
}

// RenameTaxon renames taxon to a unique variant of newName and relabels
// its annotations. It returns the name actually used.
func (e *Engine) RenameTaxon(oldName, newName string) (string, error) {
	if err := e.requireTaxon("rename taxon", oldName); err != nil {
		return "", err
	}
	if oldName == newName {
		return oldName, nil
	}
	newName = e.GenerateUniqueName(newName)
	if err := e.tree.RenameNode(oldName, newName); err != nil {
		return "", err
	}
	e.index.RenameValue(oldName, newName)
	e.log.Debug("rename taxon", "from", oldName, "to", newName)
	return newName, nil
}

// RemoveTaxon deletes taxon and its subtree with all their assignments,
// retracting ancestor assignments no sibling still justifies.
func (e *Engine) RemoveTaxon(taxon string) error {
	if err := e.requireTaxon("remove taxon", taxon); err != nil {
		return err
	}

	subjects := e.index.SubjectsOf(taxon)
	ancestors := e.tree.Ancestors(taxon)
	for _, s := range subjects {
		e.retract(s, taxon, ancestors)
	}

	descendants := e.tree.Descendants(taxon)
	for _, d := range descendants {
		e.tree.RemoveNode(d)
	}
	e.index.RemoveByValues(descendants...)

	e.tree.RemoveNode(taxon)
	e.index.RemoveByValues(taxon)
	e.log.Debug("remove taxon", "taxon", taxon, "descendants", len(descendants), "subjects", len(subjects))
	return nil
}

func (e *Engine) heldByAny(subject string, taxa []string) bool {
	for _, t := range taxa {
		if e.index.Has(subject, t) {
			return true
		}
	}
	return false
}
