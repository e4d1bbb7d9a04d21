// hecnn-infer: runs a demo network on packed shards and checks it against
// the plaintext reference.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"hecnn_lib/nn"
	"hecnn_lib/nn/bench"
	"hecnn_lib/nn/layers"
	"hecnn_lib/utils"

	"github.com/tuneinsight/lattigo/v6/schemes/ckks"
)

var (
	configFile  = flag.String("config", "", "TOML configuration file")
	backendName = flag.String("backend", "", "Evaluator backend: sim or ckks")
	modelName   = flag.String("model", "", "Demo network: classifier or autoencoder")
	logN        = flag.Int("logN", 0, "Ring dimension log2 (ckks)")
	workers     = flag.Int("workers", 0, "Concurrent tasks per layer")
	weightsFile = flag.String("weights", "", "Weights JSON file")
	seed        = flag.Int64("seed", 0, "Seed for weights and input")
	verbose     = flag.Bool("verbose", true, "Verbose output")
	bootstrap   = flag.Bool("bootstrap", false, "Refresh shards between layers when the chain runs out")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	utils.Verbose = cfg.Verbose

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                HE-CNN Layout Engine Inference                ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, then applies the flags that
// were set explicitly.
func loadConfig() (*utils.Config, error) {
	cfg := utils.DefaultConfig()
	if *configFile != "" {
		var err error
		if cfg, err = utils.LoadConfig(*configFile); err != nil {
			return nil, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backendName
		case "model":
			cfg.Model = *modelName
		case "logN":
			cfg.LogN = *logN
		case "workers":
			cfg.Workers = *workers
		case "weights":
			cfg.WeightsFile = *weightsFile
		case "seed":
			cfg.Seed = *seed
		case "verbose":
			cfg.Verbose = *verbose
		case "bootstrap":
			cfg.Bootstrap = *bootstrap
		}
	})
	if err := utils.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newBackend(cfg *utils.Config) (*bench.Backend, error) {
	if cfg.Backend == "sim" {
		return bench.NewSimBackend(cfg.Slots, cfg.Depth), nil
	}
	return bench.NewCKKSBackend(ckks.ParametersLiteral{
		LogN:            cfg.LogN,
		LogQ:            cfg.LogQ,
		LogP:            cfg.LogP,
		LogDefaultScale: cfg.LogScale,
	}, cfg.Workers)
}

func run(cfg *utils.Config) error {
	stats := &utils.TimingStats{}
	totalStart := time.Now()

	start := time.Now()
	be, err := newBackend(cfg)
	if err != nil {
		return err
	}
	stats.HEInitTime = time.Since(start)
	fmt.Printf("Backend: %s, %d slots, depth %d, %d workers\n", be.Name, be.Slots, be.Depth, cfg.Workers)

	mode, err := layers.ParseUpsampleMode(cfg.UpsampleMode)
	if err != nil {
		return err
	}
	netCfg := bench.NetConfig{
		Channels:   cfg.Channels,
		MtxSize:    cfg.MtxSize,
		PolyDegree: cfg.PolyDegree,
		PolyBound:  cfg.PolyBound,
		Upsample:   mode,
		Seed:       cfg.Seed,
	}
	if cfg.WeightsFile != "" {
		if netCfg.Weights, err = utils.LoadWeights(cfg.WeightsFile); err != nil {
			return err
		}
	}

	eng := layers.NewEngine(be.Eval, cfg.Workers)
	net, err := bench.BuildNetByName(cfg.Model, eng, netCfg)
	if err != nil {
		return err
	}
	plan, err := nn.Plan(net.Net, be.Depth)
	if cfg.Bootstrap {
		net.Net.Refresh = be.Refresh
		plan, err = nn.PlanWithRefresh(net.Net, be.Depth, be.Depth)
	}
	if err != nil {
		return err
	}
	fmt.Printf("\nNetwork %s:\n%s", net.Name, plan)

	x := bench.RandomInput(net.InShape, cfg.Seed+1)
	start = time.Now()
	in, err := be.Pack(x)
	if err != nil {
		return err
	}
	stats.EncryptionTime = time.Since(start)
	fmt.Printf("Input %v packed into %d shard(s)\n", net.InShape, len(in.Shards))

	net.Net.Stats = stats
	out, err := net.Net.Forward(in)
	if err != nil {
		return err
	}

	start = time.Now()
	got, err := be.Unpack(out)
	if err != nil {
		return err
	}
	stats.DecryptionTime = time.Since(start)

	start = time.Now()
	want, err := net.Net.ForwardPlain(x)
	if err != nil {
		return err
	}
	stats.ReferenceTime = time.Since(start)
	stats.TotalTime = time.Since(totalStart)

	prec, err := utils.ComparePrecision(want.Data, got.Data)
	if err != nil {
		return err
	}
	fmt.Printf("\nOutput shape %v, %d shard(s) at depth %d\n", want.Shape, len(out.Shards), out.Shards[0].Depth())
	fmt.Printf("Precision vs plaintext: %s\n", prec)

	eng.Eval.PrintCounters(net.Name)
	utils.PrintTimingStats(stats)
	return nil
}
