package bench

import (
	"encoding/csv"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"time"

	"hecnn_lib/core/slot"
	"hecnn_lib/nn/layout"
	"hecnn_lib/utils"
)

// Point is the cost of a whole network under one configuration.
type Point struct {
	Net     string
	Backend string
	LogN    int
	Cores   int
	Fwd     time.Duration
	Ops     slot.OpCounts
	Layers  []LayerPoint
}

// RunPoint times every layer of net in order, feeding each layer the
// previous output. cores, when positive, sets GOMAXPROCS for the run.
func RunPoint(net BuiltNet, in *layout.Packed, eval *slot.WrappedEvaluator, backend string, logN, cores, runs int) (Point, error) {
	if cores > 0 {
		prev := runtime.GOMAXPROCS(cores)
		defer runtime.GOMAXPROCS(prev)
	}
	pt := Point{Net: net.Name, Backend: backend, LogN: logN, Cores: runtime.GOMAXPROCS(0)}
	x := in
	for _, layer := range net.Net.Layers {
		lp, out, err := TimeLayer(layer, x, eval, runs)
		if err != nil {
			return Point{}, err
		}
		pt.Layers = append(pt.Layers, lp)
		pt.Fwd += lp.Fwd
		pt.Ops.Rotations += lp.Ops.Rotations
		pt.Ops.MulPlain += lp.Ops.MulPlain
		pt.Ops.MulCipher += lp.Ops.MulCipher
		pt.Ops.Adds += lp.Ops.Adds
		pt.Ops.Polys += lp.Ops.Polys
		x = out
	}
	return pt, nil
}

// PrintPoint prints the per-layer table of pt when utils.Verbose is set.
func PrintPoint(pt Point) {
	if !utils.Verbose {
		return
	}
	fmt.Fprintf(utils.Output, "\nMicrobenchmark Table for %s (%s, logN=%d, cores=%d):\n", pt.Net, pt.Backend, pt.LogN, pt.Cores)
	fmt.Fprintf(utils.Output, "%-30s | %-12s | %-8s | %-8s | %-8s | %-6s\n", "Layer", "Fwd", "Rot", "MulPt", "Add", "Poly")
	for _, l := range pt.Layers {
		fmt.Fprintf(utils.Output, "%-30s | %-12s | %-8d | %-8d | %-8d | %-6d\n",
			l.Tag, l.Fwd, l.Ops.Rotations, l.Ops.MulPlain, l.Ops.Adds, l.Ops.Polys)
	}
	fmt.Fprintf(utils.Output, "%-30s | %-12s | %-8d | %-8d | %-8d | %-6d\n",
		"total", pt.Fwd, pt.Ops.Rotations, pt.Ops.MulPlain, pt.Ops.Adds, pt.Ops.Polys)
}

var csvHeader = []string{"model", "backend", "logN", "num_cores", "layer", "fwd_us", "rotations", "mul_plain", "mul_cipher", "adds", "polys"}

// WriteCSV writes one row per layer of every point.
func WriteCSV(w io.Writer, points []Point) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, pt := range points {
		for _, l := range pt.Layers {
			rec := []string{
				pt.Net, pt.Backend, strconv.Itoa(pt.LogN), strconv.Itoa(pt.Cores), l.Tag,
				strconv.FormatFloat(utils.DurationUS(l.Fwd), 'f', 1, 64),
				strconv.FormatInt(l.Ops.Rotations, 10),
				strconv.FormatInt(l.Ops.MulPlain, 10),
				strconv.FormatInt(l.Ops.MulCipher, 10),
				strconv.FormatInt(l.Ops.Adds, 10),
				strconv.FormatInt(l.Ops.Polys, 10),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
