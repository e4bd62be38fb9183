package embedding

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var errNoConvergence = errors.New("principal components did not converge")

// Reduce projects every embedding onto the table's first maxDim principal
// components. A maxDim of 0, or a table already within maxDim dimensions,
// is returned unchanged.
func (t Table) Reduce(maxDim int) (Table, error) {
	if maxDim <= 0 || len(t) == 0 {
		return t, nil
	}
	subjects := slices.Sorted(maps.Keys(t))
	d := len(t[subjects[0]])
	if d <= maxDim {
		return t, nil
	}

	n := len(subjects)
	x := mat.NewDense(n, d, nil)
	for i, s := range subjects {
		v := t[s]
		if len(v) != d {
			return nil, fmt.Errorf("reduce embeddings: %q has dimension %d, want %d", s, len(v), d)
		}
		x.SetRow(i, v)
	}
	means := make([]float64, d)
	for j := range means {
		means[j] = stat.Mean(mat.Col(nil, j, x), nil)
	}
	for i := range n {
		floats.Sub(x.RawRowView(i), means)
	}

	var pc stat.PC
	if !pc.PrincipalComponents(x, nil) {
		return nil, fmt.Errorf("reduce embeddings: %w", errNoConvergence)
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	_, m := vecs.Dims()
	k := min(maxDim, m)

	var proj mat.Dense
	proj.Mul(x, vecs.Slice(0, d, 0, k))
	out := make(Table, n)
	for i, s := range subjects {
		out[s] = mat.Row(nil, i, &proj)
	}
	return out, nil
}
