package layers

import (
	"testing"

	"hecnn_lib/core/ckkswrapper"
	"hecnn_lib/nn/layout"
)

// benchmarkForward times Forward on a fresh encryption of a seeded input.
func benchmarkForward(b *testing.B, eng *Engine, h *ckkswrapper.HeContext, fwd func(*layout.Packed) (*layout.Packed, error), shape ...int) {
	in := encryptTensor(b, h, randTensor(300, shape...))
	eng.Eval.ResetCounters()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := fwd(in); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
	c := eng.Eval.Counts()
	b.ReportMetric(float64(c.Rotations)/float64(b.N), "rots/op")
}

func BenchmarkConv2D_HE(b *testing.B) {
	eng, h := ckksEngine(b)
	conv, err := NewConv2D(randTensor(301, 2, 4, 3, 3), eng)
	if err != nil {
		b.Fatal(err)
	}
	benchmarkForward(b, eng, h, conv.Forward, 2, 16, 16)
}

func BenchmarkAvgPool2D_HE(b *testing.B) {
	eng, h := ckksEngine(b)
	benchmarkForward(b, eng, h, NewAvgPool2D(true, eng).Forward, 2, 16, 16)
}

func BenchmarkUpsample_HE(b *testing.B) {
	eng, h := ckksEngine(b)
	for _, mode := range []UpsampleMode{BedOfNails, NearestNeighbor} {
		b.Run(mode.String(), func(b *testing.B) {
			benchmarkForward(b, eng, h, NewUpsample(mode, eng).Forward, 2, 8, 8)
		})
	}
}

func BenchmarkLinear_HE(b *testing.B) {
	eng, h := ckksEngine(b)
	benchmarkForward(b, eng, h, NewLinear(randDense(302, 10, 2*8*8), 1, eng).Forward, 2, 8, 8)
}

func BenchmarkNonlinearity_HE(b *testing.B) {
	eng, h := ckksEngine(b)
	for _, degree := range []int{13, 27} {
		act, err := NewActivation("GELU", degree, 2, eng)
		if err != nil {
			b.Fatal(err)
		}
		b.Run(act.Tag(), func(b *testing.B) {
			benchmarkForward(b, eng, h, act.Forward, 2, 16, 16)
		})
	}
}
