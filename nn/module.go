package nn

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Parameter is a named learnable array owned by a layer. Data aliases the
// layer's storage, so writing into it (e.g. when loading trained weights)
// updates the layer.
type Parameter struct {
	Name  string
	Shape []int
	Data  []float32
}

// Module is implemented by every component that owns learnable parameters.
// Composite components implement it by delegating to the modules they own.
type Module interface {
	Init(src rand.Source)
	Parameters(prefix string) []Parameter
}

// Initialize runs the one-time initialization pass over the given modules,
// drawing from a single source seeded with seed.
func Initialize(seed uint64, modules ...Module) {
	src := rand.NewSource(seed)
	for _, m := range modules {
		m.Init(src)
	}
}

// JoinName appends name to a dotted parameter prefix.
func JoinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// CountParameters returns the total number of scalar parameters.
func CountParameters(params []Parameter) int {
	n := 0
	for _, p := range params {
		n += len(p.Data)
	}
	return n
}

func fillUniform(w []float32, bound float64, src rand.Source) {
	d := distuv.Uniform{Min: -bound, Max: bound, Src: src}
	for i := range w {
		w[i] = float32(d.Rand())
	}
}

func fillNormal(w []float32, std float64, src rand.Source) {
	d := distuv.Normal{Mu: 0, Sigma: std, Src: src}
	for i := range w {
		w[i] = float32(d.Rand())
	}
}

func fillConst(w []float32, v float32) {
	for i := range w {
		w[i] = v
	}
}

// xavierUniform fills w from U(-a, a) with a = sqrt(6 / (fanIn + fanOut)).
func xavierUniform(w []float32, fanIn, fanOut int, src rand.Source) {
	fillUniform(w, math.Sqrt(6/float64(fanIn+fanOut)), src)
}
