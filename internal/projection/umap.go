package projection

import (
	"math"
	"math/rand"
	"sort"
)

// Layout parameters. The seed is fixed so repeated projections of the same
// corpus land on the same coordinates.
const (
	layoutSeed      = 42
	layoutEpochs    = 200
	negativeSamples = 5
	gradientClip    = 4.0
)

// embedTo3D lays out high-dimensional vectors in 3D with a UMAP-style
// optimization: a fuzzy k-nearest-neighbor graph under cosine distance,
// attractive forces along graph edges, and repulsive forces against sampled
// non-neighbors.
func embedTo3D(vecs [][]float32, nNeighbors int, minDist float64) [][3]float64 {
	m := len(vecs)
	if m == 0 {
		return nil
	}
	if m == 1 {
		return make([][3]float64, 1)
	}

	k := nNeighbors
	if k > m-1 {
		k = m - 1
	}
	if k < 1 {
		k = 1
	}

	graph := buildFuzzyGraph(vecs, k)
	rng := rand.New(rand.NewSource(layoutSeed))

	// Spectral init is not worth carrying for corpora this size; a PCA
	// projection gives the optimizer the same kind of globally sensible
	// start. Tiny corpora get a random spread instead.
	var pos [][3]float64
	if m <= k+1 {
		pos = randomInit(m, rng)
	} else {
		pos = pcaInit(vecs)
	}

	a, b := fitCurveParams(minDist)
	optimizeLayout(pos, graph, a, b, rng)
	return pos
}

type edge struct {
	from, to int
	weight   float64
}

type neighbor struct {
	index int
	dist  float64
}

// buildFuzzyGraph computes exact k-nearest neighbors under cosine distance
// and converts distances to symmetrized membership weights.
func buildFuzzyGraph(vecs [][]float32, k int) []edge {
	m := len(vecs)
	norms := make([]float64, m)
	for i, v := range vecs {
		var s float64
		for _, x := range v {
			s += float64(x) * float64(x)
		}
		norms[i] = math.Sqrt(s)
	}

	knn := make([][]neighbor, m)
	for i := 0; i < m; i++ {
		cands := make([]neighbor, 0, m-1)
		for j := 0; j < m; j++ {
			if j == i {
				continue
			}
			cands = append(cands, neighbor{index: j, dist: cosineDistance(vecs[i], vecs[j], norms[i], norms[j])})
		}
		sort.Slice(cands, func(a, b int) bool {
			if cands[a].dist != cands[b].dist {
				return cands[a].dist < cands[b].dist
			}
			return cands[a].index < cands[b].index
		})
		knn[i] = cands[:k]
	}

	// Directed membership strengths: exp(-(d - rho)/sigma) with sigma tuned
	// per point so the total weight lands near log2(k).
	directed := make(map[[2]int]float64, m*k)
	for i := 0; i < m; i++ {
		rho := knn[i][0].dist
		sigma := smoothKNNSigma(knn[i], rho, math.Log2(float64(k)+1))
		for _, nb := range knn[i] {
			w := 1.0
			if nb.dist > rho && sigma > 0 {
				w = math.Exp(-(nb.dist - rho) / sigma)
			}
			directed[[2]int{i, nb.index}] = w
		}
	}

	// Symmetrize: w = w_ij + w_ji - w_ij*w_ji.
	seen := make(map[[2]int]bool, len(directed))
	edges := make([]edge, 0, len(directed))
	for key, wij := range directed {
		i, j := key[0], key[1]
		lo, hi := i, j
		if lo > hi {
			lo, hi = hi, lo
		}
		if seen[[2]int{lo, hi}] {
			continue
		}
		seen[[2]int{lo, hi}] = true
		wji := directed[[2]int{j, i}]
		edges = append(edges, edge{from: lo, to: hi, weight: wij + wji - wij*wji})
	}
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].from != edges[b].from {
			return edges[a].from < edges[b].from
		}
		return edges[a].to < edges[b].to
	})
	return edges
}

// smoothKNNSigma binary-searches the bandwidth so the summed membership of
// the neighbor set matches the target.
func smoothKNNSigma(nbrs []neighbor, rho, target float64) float64 {
	lo, hi := 1e-6, 1e3
	sigma := 1.0
	for iter := 0; iter < 64; iter++ {
		sigma = (lo + hi) / 2
		var sum float64
		for _, nb := range nbrs {
			if nb.dist <= rho {
				sum++
				continue
			}
			sum += math.Exp(-(nb.dist - rho) / sigma)
		}
		if math.Abs(sum-target) < 1e-5 {
			break
		}
		if sum > target {
			hi = sigma
		} else {
			lo = sigma
		}
	}
	return sigma
}

func cosineDistance(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 1
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	d := 1 - dot/(na*nb)
	if d < 0 {
		return 0
	}
	return d
}

func randomInit(m int, rng *rand.Rand) [][3]float64 {
	pos := make([][3]float64, m)
	for i := range pos {
		for d := 0; d < 3; d++ {
			pos[i][d] = rng.Float64()*20 - 10
		}
	}
	return pos
}

// pcaInit projects the vectors onto their top three principal components,
// computed by power iteration with deflation. Deterministic: the iteration
// starts from a fixed vector.
func pcaInit(vecs [][]float32) [][3]float64 {
	m := len(vecs)
	dim := len(vecs[0])

	mean := make([]float64, dim)
	for _, v := range vecs {
		for d, x := range v {
			mean[d] += float64(x)
		}
	}
	for d := range mean {
		mean[d] /= float64(m)
	}

	centered := make([][]float64, m)
	for i, v := range vecs {
		row := make([]float64, dim)
		for d, x := range v {
			row[d] = float64(x) - mean[d]
		}
		centered[i] = row
	}

	pos := make([][3]float64, m)
	for comp := 0; comp < 3; comp++ {
		dir := powerIterate(centered, comp)
		for i, row := range centered {
			var proj float64
			for d := range row {
				proj += row[d] * dir[d]
			}
			pos[i][comp] = proj
			// Deflate so the next component is orthogonal.
			for d := range row {
				row[d] -= proj * dir[d]
			}
		}
	}
	return pos
}

func powerIterate(rows [][]float64, comp int) []float64 {
	dim := len(rows[0])
	dir := make([]float64, dim)
	for d := range dir {
		// Fixed, component-dependent start avoids converging to the same
		// direction after deflation of a degenerate spectrum.
		dir[d] = math.Cos(float64(d + comp + 1))
	}
	normalizeVec(dir)

	next := make([]float64, dim)
	for iter := 0; iter < 50; iter++ {
		for d := range next {
			next[d] = 0
		}
		for _, row := range rows {
			var proj float64
			for d := range row {
				proj += row[d] * dir[d]
			}
			for d := range row {
				next[d] += proj * row[d]
			}
		}
		if normalizeVec(next) == 0 {
			break
		}
		copy(dir, next)
	}
	return dir
}

func normalizeVec(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	n := math.Sqrt(s)
	if n == 0 {
		return 0
	}
	for i := range v {
		v[i] /= n
	}
	return n
}

// fitCurveParams fits the a, b parameters of the low-dimensional similarity
// curve 1/(1+a*d^(2b)) against the target shape implied by minDist, the same
// curve UMAP fits. A two-stage grid search is plenty at this precision.
func fitCurveParams(minDist float64) (float64, float64) {
	target := func(x float64) float64 {
		if x <= minDist {
			return 1
		}
		return math.Exp(-(x - minDist))
	}

	bestA, bestB, bestErr := 1.0, 1.0, math.Inf(1)
	search := func(aLo, aHi, bLo, bHi float64, steps int) {
		for i := 0; i <= steps; i++ {
			a := aLo + (aHi-aLo)*float64(i)/float64(steps)
			for j := 0; j <= steps; j++ {
				b := bLo + (bHi-bLo)*float64(j)/float64(steps)
				var errSum float64
				for x := 0.05; x <= 3.0; x += 0.05 {
					diff := 1/(1+a*math.Pow(x, 2*b)) - target(x)
					errSum += diff * diff
				}
				if errSum < bestErr {
					bestErr, bestA, bestB = errSum, a, b
				}
			}
		}
	}
	search(0.1, 5.0, 0.3, 2.0, 40)
	search(bestA*0.8, bestA*1.2, bestB*0.8, bestB*1.2, 40)
	return bestA, bestB
}

// optimizeLayout runs stochastic gradient descent over the fuzzy graph,
// pulling connected points together and pushing sampled pairs apart.
func optimizeLayout(pos [][3]float64, edges []edge, a, b float64, rng *rand.Rand) {
	m := len(pos)
	for epoch := 0; epoch < layoutEpochs; epoch++ {
		alpha := 1.0 - float64(epoch)/float64(layoutEpochs)
		for _, e := range edges {
			i, j := e.from, e.to

			d2 := sqDist(pos[i], pos[j])
			if d2 > 0 {
				grad := -2 * a * b * math.Pow(d2, b-1) / (1 + a*math.Pow(d2, b))
				applyForce(pos, i, j, grad*e.weight, alpha)
			}

			for s := 0; s < negativeSamples; s++ {
				n := rng.Intn(m)
				if n == i {
					continue
				}
				d2 := sqDist(pos[i], pos[n])
				grad := 2 * b / ((0.001 + d2) * (1 + a*math.Pow(d2, b)))
				applyRepulsion(pos, i, n, grad*e.weight, alpha)
			}
		}
	}
}

func sqDist(p, q [3]float64) float64 {
	var s float64
	for d := 0; d < 3; d++ {
		diff := p[d] - q[d]
		s += diff * diff
	}
	return s
}

func applyForce(pos [][3]float64, i, j int, grad, alpha float64) {
	for d := 0; d < 3; d++ {
		g := clip(grad * (pos[i][d] - pos[j][d]))
		pos[i][d] += g * alpha
		pos[j][d] -= g * alpha
	}
}

func applyRepulsion(pos [][3]float64, i, n int, grad, alpha float64) {
	for d := 0; d < 3; d++ {
		g := clip(grad * (pos[i][d] - pos[n][d]))
		pos[i][d] += g * alpha
	}
}

func clip(g float64) float64 {
	if g > gradientClip {
		return gradientClip
	}
	if g < -gradientClip {
		return -gradientClip
	}
	return g
}

// normalizePositions centers the layout on its mean and rescales so the
// largest absolute coordinate equals scale. A degenerate layout (all points
// coincident) collapses to the origin.
func normalizePositions(pos [][3]float64, scale float64) {
	if len(pos) == 0 {
		return
	}
	var mean [3]float64
	for _, p := range pos {
		for d := 0; d < 3; d++ {
			mean[d] += p[d]
		}
	}
	for d := 0; d < 3; d++ {
		mean[d] /= float64(len(pos))
	}

	var maxAbs float64
	for i := range pos {
		for d := 0; d < 3; d++ {
			pos[i][d] -= mean[d]
			if abs := math.Abs(pos[i][d]); abs > maxAbs {
				maxAbs = abs
			}
		}
	}
	if maxAbs == 0 {
		return
	}
	f := scale / maxAbs
	for i := range pos {
		for d := 0; d < 3; d++ {
			pos[i][d] *= f
		}
	}
}
