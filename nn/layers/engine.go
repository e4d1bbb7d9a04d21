// Package layers holds the encrypted CNN layer engines. Every engine works
// on lists of slot.Vector shards through a slot.WrappedEvaluator, so the
// same code runs against the plaintext simulator and the CKKS backend.
package layers

import (
	"runtime"

	"hecnn_lib/core/slot"
	"hecnn_lib/utils"
)

// Engine runs layer computations over shards. Engines hold no state
// between calls besides the evaluator counters.
type Engine struct {
	Eval *slot.WrappedEvaluator
	// Workers bounds the number of concurrent tasks; <= 0 means GOMAXPROCS.
	Workers int
}

// NewEngine wraps eval in a WrappedEvaluator.
func NewEngine(eval slot.Evaluator, workers int) *Engine {
	return &Engine{Eval: slot.NewWrappedEvaluator(eval), Workers: workers}
}

func (e *Engine) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func floatMask(m []int, scale float64) []float64 {
	out := make([]float64, len(m))
	for i, v := range m {
		out[i] = float64(v) * scale
	}
	return out
}

func logLayer(name string, format string, args ...interface{}) {
	utils.Logf("[%s] "+format, append([]interface{}{name}, args...)...)
}
