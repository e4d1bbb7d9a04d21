package bench

import (
	"fmt"
	"math/rand"
	"strings"

	"hecnn_lib/nn"
	"hecnn_lib/nn/layers"
	"hecnn_lib/tensor"
	"hecnn_lib/utils"

	"gonum.org/v1/gonum/mat"
)

// NetConfig describes the input and nonlinearity of a demo network.
type NetConfig struct {
	Channels   int
	MtxSize    int
	PolyDegree int
	PolyBound  float64
	Upsample   layers.UpsampleMode
	Seed       int64
	// Weights, when set, supplies the weights by layer name instead of the
	// seeded random ones.
	Weights *utils.ModelWeights
}

// BuiltNet holds a named network and the input shape it expects.
type BuiltNet struct {
	Name string
	Net  *nn.Sequential
	// InShape is [C, n, n].
	InShape []int
}

// weightSource hands out filters and matrices, from a file or seeded.
type weightSource struct {
	rng     *rand.Rand
	weights *utils.ModelWeights
}

// filters returns [in, out, k, k] filters. Seeded filters are scaled by
// 1/(in*k*k) so inputs in [-1, 1] give outputs in [-1, 1].
func (w *weightSource) filters(name string, in, out, k int) (*tensor.Tensor, error) {
	if w.weights != nil {
		wd, err := w.weights.Get(name)
		if err != nil {
			return nil, err
		}
		f, err := utils.WeightDataToTensor(wd)
		if err != nil {
			return nil, err
		}
		if len(f.Shape) != 4 || f.Shape[0] != in || f.Shape[1] != out || f.Shape[2] != k || f.Shape[3] != k {
			return nil, fmt.Errorf("weights %q: shape %v, want [%d %d %d %d]", name, f.Shape, in, out, k, k)
		}
		return f, nil
	}
	f := tensor.New(in, out, k, k)
	scale := 1 / float64(in*k*k)
	for i := range f.Data {
		f.Data[i] = (2*w.rng.Float64() - 1) * scale
	}
	return f, nil
}

func (w *weightSource) dense(name string, out, in int) (*mat.Dense, error) {
	if w.weights != nil {
		wd, err := w.weights.Get(name)
		if err != nil {
			return nil, err
		}
		d, err := utils.WeightDataToDense(wd)
		if err != nil {
			return nil, err
		}
		if r, c := d.Dims(); r != out || c != in {
			return nil, fmt.Errorf("weights %q: %dx%d, want %dx%d", name, r, c, out, in)
		}
		return d, nil
	}
	data := make([]float64, out*in)
	for i := range data {
		data[i] = w.rng.NormFloat64() / float64(in)
	}
	return mat.NewDense(out, in, data), nil
}

// BuildClassifier is conv(C->2C, 3x3), the bounded nonlinearity, a 2x2
// average pool and a linear layer to 10 outputs.
func BuildClassifier(eng *layers.Engine, cfg NetConfig) (BuiltNet, error) {
	ws := &weightSource{rng: rand.New(rand.NewSource(cfg.Seed)), weights: cfg.Weights}
	c, n := cfg.Channels, cfg.MtxSize

	f, err := ws.filters("conv1", c, 2*c, 3)
	if err != nil {
		return BuiltNet{}, err
	}
	conv, err := layers.NewConv2D(f, eng)
	if err != nil {
		return BuiltNet{}, err
	}
	act, err := layers.NewActivation("GELU", cfg.PolyDegree, cfg.PolyBound, eng)
	if err != nil {
		return BuiltNet{}, err
	}
	w, err := ws.dense("fc1", 10, 2*c*(n/2)*(n/2))
	if err != nil {
		return BuiltNet{}, err
	}

	return BuiltNet{
		Name:    "classifier",
		Net:     nn.NewSequential(conv, act, layers.NewAvgPool2D(true, eng), layers.NewLinear(w, 1, eng)),
		InShape: []int{c, n, n},
	}, nil
}

// BuildAutoencoder is conv(C->C), 2x2 average pool, 2x upsample and
// conv(C->C): the spatial size round-trips.
func BuildAutoencoder(eng *layers.Engine, cfg NetConfig) (BuiltNet, error) {
	ws := &weightSource{rng: rand.New(rand.NewSource(cfg.Seed)), weights: cfg.Weights}
	c, n := cfg.Channels, cfg.MtxSize

	var convs [2]*layers.Conv2D
	for i, name := range []string{"enc1", "dec1"} {
		f, err := ws.filters(name, c, c, 3)
		if err != nil {
			return BuiltNet{}, err
		}
		if convs[i], err = layers.NewConv2D(f, eng); err != nil {
			return BuiltNet{}, err
		}
	}
	return BuiltNet{
		Name: "autoencoder",
		Net: nn.NewSequential(
			convs[0],
			layers.NewAvgPool2D(true, eng),
			layers.NewUpsample(cfg.Upsample, eng),
			convs[1],
		),
		InShape: []int{c, n, n},
	}, nil
}

// BuildNetByName constructs the network by name.
func BuildNetByName(name string, eng *layers.Engine, cfg NetConfig) (BuiltNet, error) {
	switch strings.ToLower(name) {
	case "classifier":
		return BuildClassifier(eng, cfg)
	case "autoencoder":
		return BuildAutoencoder(eng, cfg)
	default:
		return BuiltNet{}, fmt.Errorf("unknown model %q", name)
	}
}

// RandomInput returns a seeded input with values in [0, 1).
func RandomInput(shape []int, seed int64) *tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	x := tensor.New(shape...)
	for i := range x.Data {
		x.Data[i] = rng.Float64()
	}
	return x
}
