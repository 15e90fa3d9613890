package neighbors

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("obs%04d", i)
	}
	return ids
}

func randomCoords(n int, seed int64) [][2]float64 {
	r := rand.New(rand.NewSource(seed))
	coords := make([][2]float64, n)
	for i := range coords {
		coords[i] = [2]float64{r.Float64() * 100, r.Float64() * 100}
	}
	return coords
}

func TestBuildExactlyKNoSelf(t *testing.T) {
	n, k := 50, 6
	ids := makeIDs(n)
	coords := randomCoords(n, 1)

	g, err := Build(ids, coords, k, Options{})
	require.NoError(t, err)
	require.Len(t, g.Neighbors, n)

	for i := 0; i < n; i++ {
		require.Len(t, g.Neighbors[i], k, "row %d neighbor count", i)
		require.Len(t, g.Dists[i], k)
		require.Len(t, g.Bearings[i], k)
		for j, nb := range g.Neighbors[i] {
			assert.NotEqual(t, i, nb, "row %d has a self-loop", i)
			if j > 0 {
				assert.GreaterOrEqual(t, g.Dists[i][j], g.Dists[i][j-1],
					"row %d neighbors not ordered nearest first", i)
			}
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	n, k := 200, 8
	ids := makeIDs(n)
	coords := randomCoords(n, 2)
	groups := make([]string, n)
	for i := range groups {
		groups[i] = fmt.Sprintf("g%d", i%4)
	}

	first, err := Build(ids, coords, k, Options{Groups: groups, Workers: 4})
	require.NoError(t, err)

	for trial := 0; trial < 3; trial++ {
		again, err := Build(ids, coords, k, Options{Groups: groups, Workers: 4})
		require.NoError(t, err)
		require.Equal(t, first.Neighbors, again.Neighbors, "trial %d", trial)
		require.Equal(t, first.Dists, again.Dists, "trial %d", trial)
	}
}

func TestBuildTieBreakByID(t *testing.T) {
	// bb and aa sit at exactly distance 1 from the query; aa must come first
	// purely because of its identifier, not its position.
	cases := []struct {
		name   string
		coords [][2]float64
	}{
		{name: "aa above", coords: [][2]float64{{0, 0}, {0, 1}, {1, 0}, {10, 10}}},
		{name: "aa right", coords: [][2]float64{{0, 0}, {1, 0}, {0, 1}, {10, 10}}},
	}
	ids := []string{"query", "aa", "bb", "zz"}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := Build(ids, tc.coords, 3, Options{})
			require.NoError(t, err)

			got := make([]string, 0, 3)
			for _, nb := range g.Neighbors[0] {
				got = append(got, ids[nb])
			}
			assert.Equal(t, []string{"aa", "bb", "zz"}, got)
			assert.Equal(t, g.Dists[0][0], g.Dists[0][1], "tie distances must be equal")
		})
	}
}

func TestBuildGroupIsolation(t *testing.T) {
	n, k := 300, 5
	ids := makeIDs(n)
	coords := randomCoords(n, 3)
	groups := make([]string, n)
	for i := range groups {
		groups[i] = fmt.Sprintf("slide%d", i%3)
	}

	g, err := Build(ids, coords, k, Options{Groups: groups, Workers: 3})
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		for _, nb := range g.Neighbors[i] {
			require.Equal(t, groups[i], groups[nb],
				"row %d (group %s) has neighbor %d from group %s", i, groups[i], nb, groups[nb])
		}
	}
}

func TestBuildInsufficientNeighborsBoundary(t *testing.T) {
	k := 5
	build := func(sizeB int) (*Graph, error) {
		n := (k + 1) + sizeB
		ids := makeIDs(n)
		coords := randomCoords(n, 4)
		groups := make([]string, n)
		for i := range groups {
			if i < k+1 {
				groups[i] = "a"
			} else {
				groups[i] = "b"
			}
		}
		return Build(ids, coords, k, Options{Groups: groups})
	}

	t.Run("group of k fails", func(t *testing.T) {
		_, err := build(k)
		require.Error(t, err)
		var insufficient *InsufficientNeighborsError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, "b", insufficient.Group)
		assert.Equal(t, k, insufficient.Size)
		assert.Equal(t, k, insufficient.K)
	})

	t.Run("group of k+1 succeeds", func(t *testing.T) {
		g, err := build(k + 1)
		require.NoError(t, err)
		for i := range g.Neighbors {
			assert.Len(t, g.Neighbors[i], k)
		}
	})
}

func TestBackendsAgree(t *testing.T) {
	n, k := 400, 7
	ids := makeIDs(n)
	coords := randomCoords(n, 5)
	// Duplicate a block of coordinates so both backends face exact ties.
	for i := 0; i < 20; i++ {
		coords[n-1-i] = coords[i]
	}

	flat, err := Build(ids, coords, k, Options{Backend: BackendFlat})
	require.NoError(t, err)
	tree, err := Build(ids, coords, k, Options{Backend: BackendKDTree})
	require.NoError(t, err)

	require.Equal(t, flat.Neighbors, tree.Neighbors)
	require.Equal(t, flat.Dists, tree.Dists)
	require.Equal(t, flat.Bearings, tree.Bearings)
}

func TestBuildWorkerCountInvariance(t *testing.T) {
	n, k := 240, 4
	ids := makeIDs(n)
	coords := randomCoords(n, 6)
	groups := make([]string, n)
	for i := range groups {
		groups[i] = fmt.Sprintf("g%d", i%8)
	}

	serial, err := Build(ids, coords, k, Options{Groups: groups, Workers: 1})
	require.NoError(t, err)
	parallel, err := Build(ids, coords, k, Options{Groups: groups, Workers: 8})
	require.NoError(t, err)

	require.Equal(t, serial.Neighbors, parallel.Neighbors)
	require.Equal(t, serial.Dists, parallel.Dists)
}

func TestBuildValidation(t *testing.T) {
	ids := makeIDs(4)
	coords := randomCoords(4, 7)

	cases := []struct {
		name    string
		ids     []string
		coords  [][2]float64
		k       int
		opts    Options
		wantErr string
	}{
		{name: "zero k", ids: ids, coords: coords, k: 0, wantErr: "k must be positive"},
		{name: "negative k", ids: ids, coords: coords, k: -2, wantErr: "k must be positive"},
		{name: "coords length", ids: ids, coords: coords[:3], k: 2, wantErr: "coordinates"},
		{name: "groups length", ids: ids, coords: coords, k: 2, opts: Options{Groups: []string{"a"}}, wantErr: "group labels"},
		{name: "duplicate id", ids: []string{"a", "b", "a", "c"}, coords: coords, k: 2, wantErr: "duplicate observation id"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(tc.ids, tc.coords, tc.k, tc.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)

			var insufficient *InsufficientNeighborsError
			assert.False(t, errors.As(err, &insufficient), "validation failures are not neighbor-count failures")
		})
	}
}
