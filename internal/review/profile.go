package review

import (
	"fmt"
	"maps"
	"slices"

	"github.com/pbaille/taxo/internal/classify"
	"github.com/pbaille/taxo/internal/domain"
	"github.com/pbaille/taxo/internal/exchange"
	"github.com/pbaille/taxo/internal/hierarchy"
)

// Profile is one annotator's finished work.
type Profile struct {
	Annotator   string                  `json:"username"`
	Annotations []domain.Annotation     `json:"annotations"`
	Forest      []domain.ProvenanceNode `json:"forest"`
	Uncertain   []string                `json:"unsureUuids"`
}

// BuildProfile assembles a profile from an annotator's progress file. The
// taxonomy task is required; the classification task is optional and
// supplies the uncertain subjects.
func BuildProfile(progresses []exchange.Progress, annotator string) (*Profile, error) {
	tax, ok := exchange.Find[*exchange.Taxonomization](progresses)
	if !ok {
		return nil, fmt.Errorf("build profile %q: no %s progress: %w", annotator, domain.TaskTaxonomization, domain.ErrUnknownTask)
	}
	tree, err := hierarchy.FromCategories(tax.Categories)
	if err != nil {
		return nil, fmt.Errorf("build profile %q: %w", annotator, err)
	}

	p := &Profile{
		Annotator:   annotator,
		Annotations: slices.Clone(tax.Annotations),
		Forest:      Tag(tree.Forest(), annotator),
		Uncertain:   []string{},
	}
	if cls, ok := exchange.Find[*exchange.Classification](progresses); ok {
		for _, a := range cls.Annotations {
			if a.Value == classify.Unsure {
				p.Uncertain = append(p.Uncertain, a.Subject)
			}
		}
	}
	return p, nil
}

// Board holds the profiles under review, in order.
type Board struct {
	profiles []*Profile
}

// NewBoard returns a board over profiles.
func NewBoard(profiles ...*Profile) *Board {
	return &Board{profiles: slices.Clone(profiles)}
}

// Profiles returns the profiles in order.
func (b *Board) Profiles() []*Profile { return slices.Clone(b.profiles) }

// SetProfiles replaces every profile.
func (b *Board) SetProfiles(profiles ...*Profile) { b.profiles = slices.Clone(profiles) }

// AddProfiles appends profiles.
func (b *Board) AddProfiles(profiles ...*Profile) { b.profiles = append(b.profiles, profiles...) }

// RemoveProfile drops the profile at index i.
func (b *Board) RemoveProfile(i int) error {
	if i < 0 || i >= len(b.profiles) {
		return fmt.Errorf("remove profile %d of %d: out of range", i, len(b.profiles))
	}
	b.profiles = slices.Delete(b.profiles, i, i+1)
	return nil
}

// RenameProfile changes the annotator name of profile i and re-tags its
// forest with the new name.
func (b *Board) RenameProfile(i int, annotator string) error {
	if i < 0 || i >= len(b.profiles) {
		return fmt.Errorf("rename profile %d of %d: out of range", i, len(b.profiles))
	}
	p := b.profiles[i]
	p.Annotator = annotator
	retag(p.Forest, annotator)
	return nil
}

func retag(forest []domain.ProvenanceNode, annotator string) {
	for i := range forest {
		forest[i].Contributors = []string{annotator}
		retag(forest[i].Children, annotator)
	}
}

// Subjects returns every subject labeled by at least one annotator, in
// first-seen order.
func (b *Board) Subjects() []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range b.profiles {
		for _, a := range p.Annotations {
			if !seen[a.Subject] {
				seen[a.Subject] = true
				out = append(out, a.Subject)
			}
		}
	}
	return out
}

// Uncertain returns every subject marked Unsure by at least one annotator.
func (b *Board) Uncertain() []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range b.profiles {
		for _, s := range p.Uncertain {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// Consensus returns the subjects for which every annotator who labeled
// them assigned exactly the same set of categories.
func (b *Board) Consensus() []string {
	// subject -> annotator -> value set
	sets := map[string]map[string]map[string]struct{}{}
	for _, p := range b.profiles {
		for _, a := range p.Annotations {
			byAnnotator, ok := sets[a.Subject]
			if !ok {
				byAnnotator = map[string]map[string]struct{}{}
				sets[a.Subject] = byAnnotator
			}
			values, ok := byAnnotator[p.Annotator]
			if !ok {
				values = map[string]struct{}{}
				byAnnotator[p.Annotator] = values
			}
			values[a.Value] = struct{}{}
		}
	}

	var out []string
	for _, s := range b.Subjects() {
		if agree(sets[s]) {
			out = append(out, s)
		}
	}
	return out
}

// Dissensus returns the labeled subjects not in consensus.
func (b *Board) Dissensus() []string {
	consensus := map[string]bool{}
	for _, s := range b.Consensus() {
		consensus[s] = true
	}
	var out []string
	for _, s := range b.Subjects() {
		if !consensus[s] {
			out = append(out, s)
		}
	}
	return out
}

// MergedForest combines every profile's forest.
func (b *Board) MergedForest() []domain.ProvenanceNode {
	forests := make([][]domain.ProvenanceNode, len(b.profiles))
	for i, p := range b.profiles {
		forests[i] = p.Forest
	}
	return MergeForests(forests...)
}

// TaxaSorted lists the merged forest's taxa in depth-first pre-order.
func (b *Board) TaxaSorted() []string { return PreOrder(b.MergedForest()) }

func agree(byAnnotator map[string]map[string]struct{}) bool {
	var first map[string]struct{}
	for _, values := range byAnnotator {
		if first == nil {
			first = values
			continue
		}
		if !maps.Equal(first, values) {
			return false
		}
	}
	return true
}
