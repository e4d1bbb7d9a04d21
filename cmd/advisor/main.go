// advisor picks CKKS parameters for a demo network: for every candidate
// ring size it derives the modulus chain the network needs, checks it
// against the 128-bit security bound, counts operations on the simulator
// and estimates the encrypted run time from measured operation costs.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"hecnn_lib/core/ckkswrapper"
	"hecnn_lib/nn"
	"hecnn_lib/nn/bench"
	"hecnn_lib/nn/layers"
	"hecnn_lib/utils"
)

const (
	logQ0    = 55
	logP     = 61
	logScale = 40
)

type candidate struct {
	logN     int
	depth    int
	logQP    int
	secure   bool
	ops      string
	estimate time.Duration
	err      error
}

func main() {
	var model, logNsCSV string
	var cpus, channels, mtx, degree, samples int
	var budget time.Duration
	var measure bool

	flag.StringVar(&model, "model", "classifier", "Demo network: classifier or autoencoder")
	flag.StringVar(&logNsCSV, "logNs", "12,13,14,15", "Comma-separated candidate logN values")
	flag.IntVar(&cpus, "cpu", runtime.NumCPU(), "number of CPUs to use")
	flag.IntVar(&channels, "channels", 4, "Input channels")
	flag.IntVar(&mtx, "mtx", 16, "Input spatial size")
	flag.IntVar(&degree, "degree", 13, "Chebyshev degree of the nonlinearity")
	flag.IntVar(&samples, "samples", 5, "Samples per measured operation")
	flag.DurationVar(&budget, "budget", time.Minute, "Desired forward time")
	flag.BoolVar(&measure, "measure", true, "Generate keys and measure operation costs (slow for large logN)")
	flag.Parse()

	runtime.GOMAXPROCS(cpus)
	utils.Verbose = false
	fmt.Printf("Number of CPUs used: %d\n", cpus)

	var cands []candidate
	for _, s := range strings.Split(logNsCSV, ",") {
		logN, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid logN %q\n", s)
			os.Exit(2)
		}
		cands = append(cands, evaluate(model, logN, cpus, channels, mtx, degree, samples, measure))
	}

	fmt.Printf("\n%-5s | %-6s | %-6s | %-7s | %-14s | %s\n", "logN", "depth", "logQP", "secure", "estimate", "ops")
	best := -1
	for i, c := range cands {
		if c.err != nil {
			fmt.Printf("%-5d | %v\n", c.logN, c.err)
			continue
		}
		fmt.Printf("%-5d | %-6d | %-6d | %-7v | %-14v | %s\n", c.logN, c.depth, c.logQP, c.secure, c.estimate, c.ops)
		if c.secure && (!measure || c.estimate <= budget) && best < 0 {
			best = i
		}
	}
	if best < 0 {
		fmt.Println("\nNo candidate is secure within the budget.")
		return
	}
	fmt.Printf("\nRecommended: logN=%d with %d levels of %d bits\n", cands[best].logN, cands[best].depth-1, logScale)
}

func evaluate(model string, logN, workers, channels, mtx, degree, samples int, measure bool) candidate {
	c := candidate{logN: logN}
	netCfg := bench.NetConfig{Channels: channels, MtxSize: mtx, PolyDegree: degree, PolyBound: 4, Upsample: layers.NearestNeighbor, Seed: 1}

	// the simulator issues exactly the operations the CKKS backend would
	sim := bench.NewSimBackend(1<<(logN-1), 64)
	eng := layers.NewEngine(sim.Eval, workers)
	net, err := bench.BuildNetByName(model, eng, netCfg)
	if err != nil {
		c.err = err
		return c
	}
	plan, err := nn.Plan(net.Net, sim.Depth)
	if err != nil {
		c.err = err
		return c
	}
	in, err := sim.Pack(bench.RandomInput(net.InShape, 2))
	if err != nil {
		c.err = err
		return c
	}
	if _, err := net.Net.Forward(in); err != nil {
		c.err = err
		return c
	}
	ops := eng.Eval.Counts()
	c.ops = fmt.Sprintf("rot=%d mulpt=%d add=%d poly=%d", ops.Rotations, ops.MulPlain, ops.Adds, ops.Polys)

	c.depth = plan.Required
	c.logQP = logQ0 + (c.depth-1)*logScale + 2*logP
	c.secure = bench.Secure(logN, c.logQP)
	if !measure {
		return c
	}

	he, err := bench.NewCKKSBackend(ckkswrapper.ParamsLiteral(logN, c.depth-1, logQ0, logP, logScale), workers)
	if err != nil {
		c.err = err
		return c
	}
	costs, err := bench.MeasureOpCosts(he, samples, degree)
	if err != nil {
		c.err = err
		return c
	}
	c.estimate = costs.Estimate(ops, workers)
	return c
}
