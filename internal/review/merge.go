// Package review compares taxonomies built independently by several
// annotators.
package review

import (
	"slices"

	"github.com/pbaille/taxo/internal/domain"
)

// MergeTwoForests returns the union of a and b by name at each level.
// Nodes of a keep their order; b's unmatched nodes follow. Matched nodes
// take the union of both contributor lists and merge their children the
// same way. Inputs are not modified.
func MergeTwoForests(a, b []domain.ProvenanceNode) []domain.ProvenanceNode {
	merged := make([]domain.ProvenanceNode, 0, len(a)+len(b))
	for _, na := range a {
		i := slices.IndexFunc(b, func(n domain.ProvenanceNode) bool { return n.Name == na.Name })
		if i == -1 {
			merged = append(merged, cloneNode(na))
			continue
		}
		nb := b[i]
		merged = append(merged, domain.ProvenanceNode{
			Name:         na.Name,
			Contributors: unionContributors(na.Contributors, nb.Contributors),
			Children:     MergeTwoForests(na.Children, nb.Children),
		})
	}
	for _, nb := range b {
		if !slices.ContainsFunc(a, func(n domain.ProvenanceNode) bool { return n.Name == nb.Name }) {
			merged = append(merged, cloneNode(nb))
		}
	}
	return merged
}

// MergeForests folds MergeTwoForests left to right.
func MergeForests(forests ...[]domain.ProvenanceNode) []domain.ProvenanceNode {
	if len(forests) == 0 {
		return []domain.ProvenanceNode{}
	}
	merged := cloneForest(forests[0])
	for _, f := range forests[1:] {
		merged = MergeTwoForests(merged, f)
	}
	return merged
}

// Tag converts a forest into a provenance forest contributed by one
// annotator.
func Tag(forest []domain.TreeNode, contributor string) []domain.ProvenanceNode {
	out := make([]domain.ProvenanceNode, len(forest))
	for i, n := range forest {
		out[i] = domain.ProvenanceNode{
			Name:         n.Name,
			Contributors: []string{contributor},
			Children:     Tag(n.Children, contributor),
		}
	}
	return out
}

// PreOrder lists node names in depth-first pre-order.
func PreOrder(forest []domain.ProvenanceNode) []string {
	var out []string
	var walk func([]domain.ProvenanceNode)
	walk = func(nodes []domain.ProvenanceNode) {
		for _, n := range nodes {
			out = append(out, n.Name)
			walk(n.Children)
		}
	}
	walk(forest)
	return out
}

func unionContributors(a, b []string) []string {
	out := slices.Clone(a)
	for _, c := range b {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

func cloneNode(n domain.ProvenanceNode) domain.ProvenanceNode {
	return domain.ProvenanceNode{
		Name:         n.Name,
		Contributors: slices.Clone(n.Contributors),
		Children:     cloneForest(n.Children),
	}
}

func cloneForest(f []domain.ProvenanceNode) []domain.ProvenanceNode {
	out := make([]domain.ProvenanceNode, len(f))
	for i, n := range f {
		out[i] = cloneNode(n)
	}
	return out
}
