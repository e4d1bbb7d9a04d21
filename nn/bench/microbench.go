package bench

import (
	"fmt"
	"time"

	"hecnn_lib/core/slot"
	"hecnn_lib/nn"
	"hecnn_lib/nn/layout"
)

// LayerPoint is the measured cost of one layer.
type LayerPoint struct {
	Tag  string
	Fwd  time.Duration // average over runs
	Ops  slot.OpCounts // of a single run
	Runs int
}

// TimeLayer runs m.Forward runs times on in and returns the average time,
// the operation counts of one run, and the output of the last run. Counters
// of eval are reset.
func TimeLayer(m nn.Module, in *layout.Packed, eval *slot.WrappedEvaluator, runs int) (LayerPoint, *layout.Packed, error) {
	if runs < 1 {
		runs = 1
	}
	var total time.Duration
	var out *layout.Packed
	for i := 0; i < runs; i++ {
		eval.ResetCounters()
		start := time.Now()
		var err error
		if out, err = m.Forward(in); err != nil {
			return LayerPoint{}, nil, fmt.Errorf("%s: %w", m.Tag(), err)
		}
		total += time.Since(start)
	}
	return LayerPoint{Tag: m.Tag(), Fwd: total / time.Duration(runs), Ops: eval.Counts(), Runs: runs}, out, nil
}
