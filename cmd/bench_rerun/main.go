// bench_rerun times every layer of the demo networks over a grid of ring
// sizes and core counts and writes one CSV row per layer.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"hecnn_lib/core/ckkswrapper"
	"hecnn_lib/nn"
	benchpkg "hecnn_lib/nn/bench"
	"hecnn_lib/nn/layers"
	"hecnn_lib/utils"
)

// parseCSVInts parses a comma-separated list of integers
func parseCSVInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid int %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func main() {
	var modelsCSV, logNsCSV, coresCSV, outPath string
	var runs, channels, mtxSize, degree int
	var includeSim, verbose bool

	flag.StringVar(&modelsCSV, "models", "classifier,autoencoder", "Comma-separated list of models to run")
	flag.StringVar(&logNsCSV, "logNs", "12", "Comma-separated list of logN values (e.g., 12,13,14)")
	flag.StringVar(&coresCSV, "cores", "4", "Comma-separated list of core counts to run (e.g., 8,16)")
	flag.StringVar(&outPath, "out", "bench_rerun_results.csv", "Output CSV path")
	flag.IntVar(&runs, "runs", 3, "Runs per layer for averaging")
	flag.IntVar(&channels, "channels", 4, "Input channels")
	flag.IntVar(&mtxSize, "mtx", 16, "Input spatial size")
	flag.IntVar(&degree, "degree", 13, "Chebyshev degree of the nonlinearity")
	flag.BoolVar(&includeSim, "include-sim", true, "Also time the plaintext simulator at each slot width")
	flag.BoolVar(&verbose, "verbose", false, "Print the per-layer table of every run")
	flag.Parse()
	utils.Verbose = verbose

	logNs, err := parseCSVInts(logNsCSV)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logNs: %v\n", err)
		os.Exit(2)
	}
	coresList, err := parseCSVInts(coresCSV)
	if err != nil || len(coresList) == 0 {
		fmt.Fprintf(os.Stderr, "invalid cores: %q %v\n", coresCSV, err)
		os.Exit(2)
	}
	var models []string
	for _, m := range strings.Split(modelsCSV, ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}

	netCfg := benchpkg.NetConfig{
		Channels:   channels,
		MtxSize:    mtxSize,
		PolyDegree: degree,
		PolyBound:  4,
		Upsample:   layers.NearestNeighbor,
		Seed:       1,
	}

	var points []benchpkg.Point
	for _, logN := range logNs {
		var backends []*benchpkg.Backend
		he, err := benchpkg.NewCKKSBackend(ckkswrapper.ParamsLiteral(logN, 12, 55, 61, 40), coresList[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "skip logN %d: %v\n", logN, err)
			continue
		}
		backends = append(backends, he)
		if includeSim {
			backends = append(backends, benchpkg.NewSimBackend(he.Slots, he.Depth))
		}

		for _, be := range backends {
			for _, name := range models {
				for _, cores := range coresList {
					eng := layers.NewEngine(be.Eval, cores)
					net, err := benchpkg.BuildNetByName(name, eng, netCfg)
					if err != nil {
						fmt.Fprintf(os.Stderr, "skip model %s: %v\n", name, err)
						continue
					}
					if _, err := nn.Plan(net.Net, be.Depth); err != nil {
						fmt.Fprintf(os.Stderr, "skip model %s at logN %d: %v\n", name, logN, err)
						continue
					}
					in, err := be.Pack(benchpkg.RandomInput(net.InShape, 2))
					if err != nil {
						fmt.Fprintf(os.Stderr, "skip model %s: %v\n", name, err)
						continue
					}
					pt, err := benchpkg.RunPoint(net, in, eng.Eval, be.Name, logN, cores, runs)
					if err != nil {
						fmt.Fprintf(os.Stderr, "model %s failed: %v\n", name, err)
						continue
					}
					fmt.Printf("%-12s %-4s logN=%d cores=%d fwd=%v rot=%d\n", name, be.Name, logN, cores, pt.Fwd, pt.Ops.Rotations)
					benchpkg.PrintPoint(pt)
					points = append(points, pt)
				}
			}
		}
	}

	f, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create output CSV: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	if err := benchpkg.WriteCSV(f, points); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote results to %s\n", outPath)
}
