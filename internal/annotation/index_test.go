package annotation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/taxo/internal/domain"
)

var seq int

func rec(subject, value string) domain.Annotation {
	seq++
	return domain.Annotation{
		Type:    domain.TaskTaxonomization,
		ID:      fmt.Sprintf("a%d", seq),
		Subject: subject,
		Value:   value,
	}
}

// requireConsistent regroups the primary sequence and compares it with
// both lookups and the annotated-subject set.
func requireConsistent(t *testing.T, ix *Index) {
	t.Helper()

	wantSubject := map[string][]string{}
	wantValue := map[string][]string{}
	for _, a := range ix.Annotations() {
		wantSubject[a.Subject] = append(wantSubject[a.Subject], a.ID)
		wantValue[a.Value] = append(wantValue[a.Value], a.ID)
	}

	gotSubject := map[string][]string{}
	for k, group := range ix.bySubject {
		require.NotEmpty(t, group, "empty subject group %q", k)
		for _, r := range group {
			gotSubject[k] = append(gotSubject[k], r.ID)
		}
	}
	gotValue := map[string][]string{}
	for k, group := range ix.byValue {
		require.NotEmpty(t, group, "empty value group %q", k)
		for _, r := range group {
			gotValue[k] = append(gotValue[k], r.ID)
		}
	}

	assert.Equal(t, wantSubject, gotSubject, "bySubject out of sync")
	assert.Equal(t, wantValue, gotValue, "byValue out of sync")
	assert.Len(t, ix.annotated, len(wantSubject))
	for s := range wantSubject {
		assert.True(t, ix.IsAnnotated(s))
	}
}

func TestAdd_DedupsSubjectValue(t *testing.T) {
	ix := New()

	assert.True(t, ix.Add(rec("s1", "Dog")))
	assert.False(t, ix.Add(rec("s1", "Dog")), "same pair with a new id is a duplicate")
	assert.True(t, ix.Add(rec("s1", "Cat")))
	assert.True(t, ix.Add(rec("s2", "Dog")))

	assert.Equal(t, 3, ix.Len())
	assert.Equal(t, []string{"s1", "s2"}, ix.SubjectsOf("Dog"))
	requireConsistent(t, ix)
}

func TestAddBulk_FiltersExistingPairs(t *testing.T) {
	ix := New()
	ix.Add(rec("s1", "Dog"))

	ix.AddBulk([]domain.Annotation{rec("s1", "Dog"), rec("s2", "Dog"), rec("s3", "Cat")})

	assert.Equal(t, 3, ix.Len())
	assert.True(t, ix.Has("s3", "Cat"))
	requireConsistent(t, ix)
}

func TestReplace_KeepsGroupOrder(t *testing.T) {
	ix := New()
	ix.Add(rec("s1", "Sure"))
	ix.Add(rec("s2", "Unsure"))
	ix.Add(rec("s3", "Unsure"))
	ix.Add(rec("s1", "Other"))
	requireConsistent(t, ix)

	ix.Replace(0, rec("s1", "Unsure"))
	requireConsistent(t, ix)
	assert.Nil(t, ix.ByValue("Sure"), "emptied group key must be deleted")
	assert.Equal(t, []string{"s1", "s2", "s3"}, ix.SubjectsOf("Unsure"))

	ix.Replace(2, rec("s4", "Sure"))
	requireConsistent(t, ix)
	assert.False(t, ix.IsAnnotated("s3"))
	assert.True(t, ix.IsAnnotated("s4"))
}

func TestRemoveAt_UpdatesBothLookups(t *testing.T) {
	ix := New()
	ix.Add(rec("s1", "Dog"))
	ix.Add(rec("s1", "Animal"))
	ix.Add(rec("s2", "Dog"))

	ix.RemoveAt(0)
	requireConsistent(t, ix)
	assert.Equal(t, []string{"s2"}, ix.SubjectsOf("Dog"))

	ix.RemoveAt(0)
	requireConsistent(t, ix)
	assert.False(t, ix.IsAnnotated("s1"))
	assert.Nil(t, ix.ByValue("Animal"))
}

func TestRemove_MissingPairFails(t *testing.T) {
	ix := New()
	ix.Add(rec("s1", "Dog"))

	err := ix.Remove("s1", "Cat")
	require.ErrorIs(t, err, domain.ErrAnnotationNotFound)
	assert.Equal(t, 1, ix.Len())

	require.NoError(t, ix.Remove("s1", "Dog"))
	assert.Equal(t, 0, ix.Len())
	assert.False(t, ix.Discard("s1", "Dog"))
	requireConsistent(t, ix)
}

func TestRemoveByValues(t *testing.T) {
	ix := New()
	ix.Add(rec("s1", "Dog"))
	ix.Add(rec("s1", "Animal"))
	ix.Add(rec("s2", "Cat"))
	ix.Add(rec("s3", "Animal"))

	ix.RemoveByValues("Animal", "Cat", "Nothing")

	requireConsistent(t, ix)
	assert.Equal(t, 1, ix.Len())
	assert.False(t, ix.IsAnnotated("s2"))
	assert.False(t, ix.IsAnnotated("s3"))
	assert.Equal(t, []string{"s1"}, ix.Subjects())
}

func TestRenameValue(t *testing.T) {
	ix := New()
	ix.Add(rec("s1", "Dog"))
	ix.Add(rec("s2", "Cat"))
	ix.Add(rec("s3", "Dog"))

	ix.RenameValue("Dog", "Hound")
	requireConsistent(t, ix)
	assert.Nil(t, ix.ByValue("Dog"))
	assert.Equal(t, []string{"s1", "s3"}, ix.SubjectsOf("Hound"))
	assert.Equal(t, "Hound", ix.BySubject("s1")[0].Value)

	ix.RenameValue("Cat", "Hound")
	requireConsistent(t, ix)
	assert.Equal(t, []string{"s1", "s2", "s3"}, ix.SubjectsOf("Hound"))
}

func TestSetAll_RebuildsFromScratch(t *testing.T) {
	ix := New()
	ix.Add(rec("s1", "Dog"))

	ix.SetAll([]domain.Annotation{rec("s2", "Cat"), rec("s3", "Cat")})

	requireConsistent(t, ix)
	assert.False(t, ix.IsAnnotated("s1"))
	assert.Equal(t, 2, ix.Len())
}

func TestMixedOperations_StayConsistent(t *testing.T) {
	ix := New()
	values := []string{"a", "b", "c"}
	for i := 0; i < 12; i++ {
		ix.Add(rec(fmt.Sprintf("s%d", i%4), values[i%3]))
		requireConsistent(t, ix)
	}

	ix.Replace(3, rec("s9", "a"))
	requireConsistent(t, ix)
	ix.RemoveAt(5)
	requireConsistent(t, ix)
	ix.RenameValue("b", "d")
	requireConsistent(t, ix)
	ix.RemoveByValues("c")
	requireConsistent(t, ix)
	ix.AddBulk([]domain.Annotation{rec("s0", "c"), rec("s9", "a")})
	requireConsistent(t, ix)
}
