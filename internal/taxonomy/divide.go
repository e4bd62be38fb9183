package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrNoCollaborator is returned by DivideTaxon when the engine has no
// clusterer or captioner.
var ErrNoCollaborator = errors.New("clustering or captioning service not configured")

// Clusterer groups subjects by similarity.
type Clusterer interface {
	// Cluster returns one cluster label per subject, in subject order.
	Cluster(ctx context.Context, subjects []string, k int) ([]int, error)

	// FindCenters returns one representative subject per group, or "" for
	// a group without one.
	FindCenters(ctx context.Context, groups [][]string) ([]string, error)
}

// Captioner produces short human-readable descriptions of subjects.
type Captioner interface {
	// Captions returns one caption per subject, "" when none is available.
	// An empty subject yields an empty caption.
	Captions(ctx context.Context, subjects []string) ([]string, error)
}

// DivideTaxon splits the subjects of taxon, or of the whole pool when taxon
// is empty, into floor(sqrt(n)) clusters and creates one child category per
// cluster, named after the caption of its representative. It returns the
// created names in cluster-label order.
//
// All service calls happen before any category is created, so a service
// failure leaves the taxonomy untouched.
func (e *Engine) DivideTaxon(ctx context.Context, taxon string) ([]string, error) {
	if taxon != "" {
		if err := e.requireTaxon("divide taxon", taxon); err != nil {
			return nil, err
		}
	}
	if e.cfg.Clusterer == nil || e.cfg.Captioner == nil {
		return nil, fmt.Errorf("divide taxon %q: %w", taxon, ErrNoCollaborator)
	}

	subjects := e.SubjectsIn(taxon)
	if len(subjects) == 0 {
		return nil, nil
	}
	k := int(math.Floor(math.Sqrt(float64(len(subjects)))))

	labels, err := e.cfg.Clusterer.Cluster(ctx, subjects, k)
	if err != nil {
		e.log.Warn("clustering failed", "taxon", taxon, "subjects", len(subjects), "error", err)
		return nil, fmt.Errorf("divide taxon %q: cluster: %w", taxon, err)
	}
	if len(labels) != len(subjects) {
		return nil, fmt.Errorf("divide taxon %q: cluster: got %d labels for %d subjects", taxon, len(labels), len(subjects))
	}
	clusters := groupByLabel(subjects, labels)

	centers, err := e.cfg.Clusterer.FindCenters(ctx, clusters)
	if err != nil {
		e.log.Warn("finding centers failed", "taxon", taxon, "clusters", len(clusters), "error", err)
		return nil, fmt.Errorf("divide taxon %q: find centers: %w", taxon, err)
	}
	captions, err := e.cfg.Captioner.Captions(ctx, centers)
	if err != nil {
		e.log.Warn("captioning failed", "taxon", taxon, "clusters", len(clusters), "error", err)
		return nil, fmt.Errorf("divide taxon %q: caption: %w", taxon, err)
	}

	created := make([]string, 0, len(clusters))
	for i, members := range clusters {
		caption := ""
		if i < len(captions) {
			caption = captions[i]
		}
		name := e.GenerateUniqueName(caption)
		if err := e.tree.AddNode(name, taxon); err != nil {
			return created, fmt.Errorf("divide taxon %q: %w", taxon, err)
		}
		for _, s := range members {
			e.assign(s, name)
		}
		created = append(created, name)
	}
	e.log.Debug("divide taxon", "taxon", taxon, "subjects", len(subjects), "clusters", len(created))
	return created, nil
}

// groupByLabel turns per-subject labels into clusters ordered by ascending
// label, so the created taxonomy does not depend on label first-appearance.
func groupByLabel(subjects []string, labels []int) [][]string {
	byLabel := make(map[int][]string)
	for i, l := range labels {
		byLabel[l] = append(byLabel[l], subjects[i])
	}
	keys := make([]int, 0, len(byLabel))
	for l := range byLabel {
		keys = append(keys, l)
	}
	sort.Ints(keys)

	out := make([][]string, len(keys))
	for i, l := range keys {
		out[i] = byLabel[l]
	}
	return out
}
