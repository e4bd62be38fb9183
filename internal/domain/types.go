package domain

import (
	"errors"
	"time"
)

// Task names used as the annotation type discriminator.
const (
	TaskTaxonomization = "Taxonomization"
	TaskClassification = "Classification"
)

var (
	ErrCategoryNotFound   = errors.New("category not found")
	ErrAnnotationNotFound = errors.New("annotation not found")
	ErrDuplicateName      = errors.New("duplicate category name")
	ErrEmptyName          = errors.New("empty category name")
	ErrCyclicMove         = errors.New("move would create a cycle")
	ErrInvalidPosition    = errors.New("invalid move position")
	ErrUnknownTask        = errors.New("unknown task")
)

// Annotation records that a subject was given a value by an annotator.
// Author is nil for anonymous annotations.
type Annotation struct {
	Type      string    `json:"type"`
	ID        string    `json:"uuid"`
	Subject   string    `json:"subject"`
	Author    *string   `json:"user"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"time"`
}

// Category is the flat form of a taxonomy node: a unique name and the
// ordered names of its children.
type Category struct {
	Name     string   `json:"name"`
	Children []string `json:"children"`
}

// TreeNode is the nested form of a taxonomy node.
type TreeNode struct {
	Name     string     `json:"name"`
	Children []TreeNode `json:"children"`
}

// ProvenanceNode is a tree node tagged with the annotators whose
// taxonomies contain it.
type ProvenanceNode struct {
	Name         string           `json:"name"`
	Contributors []string         `json:"usernames"`
	Children     []ProvenanceNode `json:"children"`
}

// Position says where a moved node lands relative to its anchor.
type Position string

const (
	Before Position = "before"
	Inner  Position = "inner"
	After  Position = "after"
)

// Valid reports whether p is one of the three move positions.
func (p Position) Valid() bool {
	switch p {
	case Before, Inner, After:
		return true
	}
	return false
}
