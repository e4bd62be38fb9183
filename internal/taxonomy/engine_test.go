package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/taxo/internal/domain"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	n := 0
	return New(Config{
		Author: "alice",
		Now:    func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
}

// animals builds Animal{Dog{Puppy}, Cat}, Plant.
func animals(t *testing.T) *Engine {
	t.Helper()
	e := newEngine(t)
	mustCreate(t, e, "Animal", "")
	mustCreate(t, e, "Dog", "Animal")
	mustCreate(t, e, "Cat", "Animal")
	mustCreate(t, e, "Puppy", "Dog")
	mustCreate(t, e, "Plant", "")
	return e
}

func mustCreate(t *testing.T, e *Engine, name, parent string, subjects ...string) {
	t.Helper()
	got, err := e.CreateTaxon(name, subjects, parent)
	require.NoError(t, err)
	require.Equal(t, name, got)
}

func taxaOf(e *Engine, subject string) []string {
	var out []string
	for _, a := range e.AnnotationsOf(subject) {
		out = append(out, a.Value)
	}
	sort.Strings(out)
	return out
}

func TestGenerateUniqueName(t *testing.T) {
	e := newEngine(t)
	assert.Equal(t, "cat", e.GenerateUniqueName("cat"))
	assert.Equal(t, "new category", e.GenerateUniqueName(""))

	mustCreate(t, e, "cat", "")
	assert.Equal(t, "cat (2)", e.GenerateUniqueName("cat"))

	mustCreate(t, e, "cat (2)", "")
	assert.Equal(t, "cat (3)", e.GenerateUniqueName("cat"))

	// Gaps are filled first.
	mustCreate(t, e, "cat (7)", "")
	assert.Equal(t, "cat (3)", e.GenerateUniqueName("cat"))

	mustCreate(t, e, "cat (3)", "")
	assert.Equal(t, "cat (4)", e.GenerateUniqueName("cat"))

	// Regex metacharacters in the base are literal.
	mustCreate(t, e, "a.b", "")
	mustCreate(t, e, "axb (2)", "")
	assert.Equal(t, "a.b (2)", e.GenerateUniqueName("a.b"))
}

func TestAssignTaxon_ClosesOverAncestors(t *testing.T) {
	e := animals(t)

	require.NoError(t, e.AssignTaxon("s1", "Puppy"))
	assert.Equal(t, []string{"Animal", "Dog", "Puppy"}, taxaOf(e, "s1"))

	a := e.AnnotationsOf("s1")[0]
	assert.Equal(t, domain.TaskTaxonomization, a.Type)
	require.NotNil(t, a.Author)
	assert.Equal(t, "alice", *a.Author)

	err := e.AssignTaxon("s1", "Missing")
	require.ErrorIs(t, err, domain.ErrCategoryNotFound)
}

func TestUnassignTaxon_RetractsUpward(t *testing.T) {
	e := newEngine(t)
	mustCreate(t, e, "Animal", "")
	mustCreate(t, e, "Dog", "Animal")
	mustCreate(t, e, "Cat", "Animal")

	require.NoError(t, e.AssignTaxon("s1", "Dog"))
	assert.True(t, e.Has("s1", "Dog"))
	assert.True(t, e.Has("s1", "Animal"))

	require.NoError(t, e.UnassignTaxon("s1", "Dog"))
	assert.Empty(t, e.AnnotationsOf("s1"))
	assert.False(t, e.IsAnnotated("s1"))
}

func TestUnassignTaxon_StopsAtSiblingClaim(t *testing.T) {
	e := animals(t)
	require.NoError(t, e.AssignTaxon("s1", "Puppy"))
	require.NoError(t, e.AssignTaxon("s1", "Cat"))

	require.NoError(t, e.UnassignTaxon("s1", "Puppy"))
	// Dog lost its only claimed child, Animal still has Cat.
	assert.Equal(t, []string{"Animal", "Cat"}, taxaOf(e, "s1"))
}

func TestUnassignTaxon_CascadesDown(t *testing.T) {
	e := animals(t)
	require.NoError(t, e.AssignTaxon("s1", "Puppy"))

	require.NoError(t, e.UnassignTaxon("s1", "Dog"))
	assert.Empty(t, taxaOf(e, "s1"))

	err := e.UnassignTaxon("s1", "Dog")
	require.ErrorIs(t, err, domain.ErrAnnotationNotFound)
}

func TestCreateTaxon(t *testing.T) {
	e := animals(t)

	name, err := e.CreateTaxon("Dog", []string{"s1", "s2"}, "Cat")
	require.NoError(t, err)
	assert.Equal(t, "Dog (2)", name)
	assert.Equal(t, []string{"Animal", "Cat", "Dog (2)"}, taxaOf(e, "s2"))

	_, err = e.CreateTaxon("x", nil, "Missing")
	require.ErrorIs(t, err, domain.ErrCategoryNotFound)
	assert.False(t, e.Contains("x"))
}

func TestCreateTaxonEmpty_AddsUngroupedSibling(t *testing.T) {
	e := newEngine(t)
	mustCreate(t, e, "Animal", "", "s1", "s2")

	name, err := e.CreateTaxonEmpty("Animal")
	require.NoError(t, err)
	assert.Equal(t, "new category", name)
	assert.Equal(t, []string{"new category", "ungrouped"}, e.Children("Animal"))
	assert.ElementsMatch(t, []string{"s1", "s2"}, e.SubjectsIn("ungrouped"))
	assert.Empty(t, e.SubjectsIn("new category"))

	// A second child does not add another ungrouped node.
	name, err = e.CreateTaxonEmpty("Animal")
	require.NoError(t, err)
	assert.Equal(t, "new category (2)", name)
	assert.Len(t, e.Children("Animal"), 3)

	// Roots and empty parents get no ungrouped node.
	_, err = e.CreateTaxonEmpty("")
	require.NoError(t, err)
	mustCreate(t, e, "Empty", "")
	_, err = e.CreateTaxonEmpty("Empty")
	require.NoError(t, err)
	assert.Len(t, e.Children("Empty"), 1)
}

func TestFlattenTaxon(t *testing.T) {
	e := animals(t)
	require.NoError(t, e.AssignTaxon("s1", "Puppy"))
	require.NoError(t, e.AssignTaxon("s2", "Cat"))

	require.NoError(t, e.FlattenTaxon("Animal"))
	assert.Empty(t, e.Children("Animal"))
	assert.Equal(t, []string{"Animal"}, taxaOf(e, "s1"))
	assert.Equal(t, []string{"Animal"}, taxaOf(e, "s2"))
	assert.False(t, e.Contains("Puppy"))

	require.ErrorIs(t, e.FlattenTaxon("Puppy"), domain.ErrCategoryNotFound)
}

func TestMergeTaxa(t *testing.T) {
	e := animals(t)
	require.NoError(t, e.AssignTaxon("s1", "Puppy"))
	require.NoError(t, e.AssignTaxon("s2", "Dog"))

	require.NoError(t, e.MergeTaxa("Dog", "Plant"))

	assert.False(t, e.Contains("Dog"))
	assert.Empty(t, e.SubjectsIn("Dog"))
	assert.Equal(t, []string{"Puppy"}, e.Children("Plant"))
	assert.Equal(t, []string{"Plant", "Puppy"}, taxaOf(e, "s1"))
	assert.Equal(t, []string{"Plant"}, taxaOf(e, "s2"))
}

func TestMergeTaxa_IntoSiblingKeepsParent(t *testing.T) {
	e := animals(t)
	require.NoError(t, e.AssignTaxon("s1", "Dog"))

	require.NoError(t, e.MergeTaxa("Dog", "Cat"))
	assert.Equal(t, []string{"Animal", "Cat"}, taxaOf(e, "s1"))
	assert.Equal(t, []string{"Cat"}, e.Children("Animal"))
	assert.Equal(t, []string{"Puppy"}, e.Children("Cat"))
}

func TestMergeTaxa_IntoAncestorKeepsClosure(t *testing.T) {
	e := animals(t)
	require.NoError(t, e.AssignTaxon("s1", "Dog"))

	require.NoError(t, e.MergeTaxa("Dog", "Animal"))
	assert.Equal(t, []string{"Animal"}, taxaOf(e, "s1"))
	assert.Equal(t, []string{"Cat", "Puppy"}, e.Children("Animal"))
}

func TestMergeTaxa_Rejects(t *testing.T) {
	e := animals(t)

	require.ErrorIs(t, e.MergeTaxa("Dog", "Dog"), domain.ErrCyclicMove)
	require.ErrorIs(t, e.MergeTaxa("Animal", "Puppy"), domain.ErrCyclicMove)
	require.ErrorIs(t, e.MergeTaxa("Dog", "Missing"), domain.ErrCategoryNotFound)
	assert.Equal(t, 5, len(e.Categories()))
}

func TestMoveTaxon_SubjectsFollow(t *testing.T) {
	e := animals(t)
	require.NoError(t, e.AssignTaxon("s1", "Puppy"))
	require.NoError(t, e.AssignTaxon("s2", "Puppy"))
	require.NoError(t, e.AssignTaxon("s2", "Cat"))

	require.NoError(t, e.MoveTaxon("Puppy", "Plant", domain.Inner))

	assert.Equal(t, []string{"Plant", "Puppy"}, taxaOf(e, "s1"))
	// s2 keeps Animal through Cat.
	assert.Equal(t, []string{"Animal", "Cat", "Plant", "Puppy"}, taxaOf(e, "s2"))
	assert.Empty(t, e.Children("Dog"))
}

func TestMoveTaxon_NewSiblingAlreadyHolds(t *testing.T) {
	e := animals(t)
	require.NoError(t, e.AssignTaxon("s1", "Puppy"))
	require.NoError(t, e.AssignTaxon("s1", "Cat"))

	require.NoError(t, e.MoveTaxon("Puppy", "Cat", domain.After))
	assert.Equal(t, []string{"Dog", "Cat", "Puppy"}, e.Children("Animal"))
	assert.Equal(t, []string{"Animal", "Cat", "Puppy"}, taxaOf(e, "s1"))
}

func TestMoveTaxon_ToRoot(t *testing.T) {
	e := animals(t)
	require.NoError(t, e.AssignTaxon("s1", "Puppy"))

	require.NoError(t, e.MoveTaxon("Puppy", "", domain.Inner))
	assert.Equal(t, []string{"Puppy"}, taxaOf(e, "s1"))
	assert.Equal(t, []domain.TreeNode{
		{Name: "Animal", Children: []domain.TreeNode{
			{Name: "Dog", Children: []domain.TreeNode{}},
			{Name: "Cat", Children: []domain.TreeNode{}},
		}},
		{Name: "Plant", Children: []domain.TreeNode{}},
		{Name: "Puppy", Children: []domain.TreeNode{}},
	}, e.Forest())
}

func TestMoveTaxon_Rejects(t *testing.T) {
	e := animals(t)
	require.NoError(t, e.AssignTaxon("s1", "Puppy"))
	before := e.Snapshot()

	require.ErrorIs(t, e.MoveTaxon("Animal", "Puppy", domain.Before), domain.ErrCyclicMove)
	require.ErrorIs(t, e.MoveTaxon("Dog", "Missing", domain.Inner), domain.ErrCategoryNotFound)
	require.ErrorIs(t, e.MoveTaxon("Dog", "Cat", "over"), domain.ErrInvalidPosition)
	assert.Equal(t, before, e.Snapshot())
}

func TestRenameTaxon(t *testing.T) {
	e := animals(t)
	require.NoError(t, e.AssignTaxon("s1", "Puppy"))

	got, err := e.RenameTaxon("Dog", "Cat")
	require.NoError(t, err)
	assert.Equal(t, "Cat (2)", got)
	assert.Equal(t, []string{"Animal", "Cat (2)", "Puppy"}, taxaOf(e, "s1"))
	assert.Equal(t, []string{"Cat (2)", "Cat"}, e.Children("Animal"))

	got, err = e.RenameTaxon("Cat", "Cat")
	require.NoError(t, err)
	assert.Equal(t, "Cat", got)

	_, err = e.RenameTaxon("Dog", "x")
	require.ErrorIs(t, err, domain.ErrCategoryNotFound)
}

func TestRemoveTaxon(t *testing.T) {
	e := animals(t)
	require.NoError(t, e.AssignTaxon("s1", "Puppy"))
	require.NoError(t, e.AssignTaxon("s2", "Puppy"))
	require.NoError(t, e.AssignTaxon("s2", "Cat"))

	require.NoError(t, e.RemoveTaxon("Dog"))

	assert.False(t, e.Contains("Dog"))
	assert.False(t, e.Contains("Puppy"))
	assert.Empty(t, taxaOf(e, "s1"))
	assert.Equal(t, []string{"Animal", "Cat"}, taxaOf(e, "s2"))

	require.ErrorIs(t, e.RemoveTaxon("Dog"), domain.ErrCategoryNotFound)
}

type fakeClusterer struct {
	err     error
	centers int
}

func (f *fakeClusterer) Cluster(_ context.Context, subjects []string, k int) ([]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	labels := make([]int, len(subjects))
	for i := range subjects {
		// Reverse label order so grouping must sort.
		labels[i] = k - 1 - i%k
	}
	return labels, nil
}

func (f *fakeClusterer) FindCenters(_ context.Context, groups [][]string) ([]string, error) {
	f.centers++
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g[0]
	}
	return out, nil
}

type fakeCaptioner map[string]string

func (f fakeCaptioner) Captions(_ context.Context, subjects []string) ([]string, error) {
	out := make([]string, len(subjects))
	for i, s := range subjects {
		out[i] = f[s]
	}
	return out, nil
}

func TestDivideTaxon_PartitionsSubjects(t *testing.T) {
	e := newEngine(t)
	var subjects []string
	for i := 0; i < 9; i++ {
		subjects = append(subjects, fmt.Sprintf("s%d", i))
	}
	e.SetSubjects(subjects)
	e.cfg.Clusterer = &fakeClusterer{}
	e.cfg.Captioner = fakeCaptioner{"s2": "bar chart", "s1": "bar chart"}
	mustCreate(t, e, "Charts", "", subjects...)

	created, err := e.DivideTaxon(context.Background(), "Charts")
	require.NoError(t, err)
	require.Len(t, created, 3)
	assert.Equal(t, []string{"bar chart", "bar chart (2)", "new category"}, created)
	assert.Equal(t, created, e.Children("Charts"))

	seen := map[string]int{}
	for _, c := range created {
		for _, s := range e.SubjectsIn(c) {
			seen[s]++
		}
	}
	assert.Len(t, seen, 9)
	for s, n := range seen {
		assert.Equal(t, 1, n, "subject %s in more than one cluster", s)
	}
	// Label 0 holds s2, s5, s8.
	assert.Equal(t, []string{"s2", "s5", "s8"}, e.SubjectsIn("bar chart"))
}

func TestDivideTaxon_WholePool(t *testing.T) {
	e := newEngine(t)
	e.SetSubjects([]string{"a", "b", "c", "d"})
	e.cfg.Clusterer = &fakeClusterer{}
	e.cfg.Captioner = fakeCaptioner{}

	created, err := e.DivideTaxon(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, created, 2)
	assert.Equal(t, created, []string{e.Forest()[0].Name, e.Forest()[1].Name})
}

func TestDivideTaxon_NoSubjectsOrFailure(t *testing.T) {
	e := animals(t)
	clusterer := &fakeClusterer{}
	e.cfg.Clusterer = clusterer
	e.cfg.Captioner = fakeCaptioner{}

	created, err := e.DivideTaxon(context.Background(), "Cat")
	require.NoError(t, err)
	assert.Nil(t, created)
	assert.Zero(t, clusterer.centers)

	require.NoError(t, e.AssignTaxon("s1", "Cat"))
	clusterer.err = errors.New("service down")
	before := e.Snapshot()
	_, err = e.DivideTaxon(context.Background(), "Cat")
	require.Error(t, err)
	assert.Equal(t, before, e.Snapshot())

	_, err = e.DivideTaxon(context.Background(), "Missing")
	require.ErrorIs(t, err, domain.ErrCategoryNotFound)

	bare := newEngine(t)
	_, err = bare.DivideTaxon(context.Background(), "")
	require.ErrorIs(t, err, ErrNoCollaborator)
}

func TestSnapshotRestore(t *testing.T) {
	e := animals(t)
	require.NoError(t, e.AssignTaxon("s1", "Puppy"))
	snap := e.Snapshot()

	other := newEngine(t)
	require.NoError(t, other.Restore(snap))
	assert.Equal(t, snap, other.Snapshot())
	assert.Equal(t, e.Forest(), other.Forest())

	bad := Snapshot{Annotations: []domain.Annotation{{Subject: "s", Value: "nowhere"}}}
	require.ErrorIs(t, other.Restore(bad), domain.ErrCategoryNotFound)
	assert.Equal(t, snap, other.Snapshot())
}

func TestImport(t *testing.T) {
	e := animals(t)
	require.NoError(t, e.AssignTaxon("s1", "Cat"))

	err := e.Import([]domain.Annotation{
		{ID: "x1", Subject: "s1", Value: "Cat"},
		{ID: "x2", Subject: "s2", Value: "Plant"},
	})
	require.NoError(t, err)
	assert.Len(t, e.Annotations(), 3)

	err = e.Import([]domain.Annotation{{ID: "x3", Subject: "s3", Value: "Nope"}})
	require.ErrorIs(t, err, domain.ErrCategoryNotFound)
}

func TestImport_DedupesAndClosesAncestors(t *testing.T) {
	e := animals(t)

	err := e.Import([]domain.Annotation{
		{ID: "x1", Subject: "s1", Value: "Dog"},
		{ID: "x2", Subject: "s1", Value: "Dog"},
	})
	require.NoError(t, err)
	assert.Len(t, e.Annotations(), 2)
	assert.Equal(t, "x1", e.Annotations()[0].ID)
	assert.True(t, e.Has("s1", "Animal"))

	require.NoError(t, e.UnassignTaxon("s1", "Dog"))
	assert.False(t, e.Has("s1", "Dog"))
	assert.False(t, e.Has("s1", "Animal"))
	assert.Empty(t, e.Annotations())
}
