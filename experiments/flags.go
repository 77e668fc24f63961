package experiments

import (
	"flag"

	"github.com/unixpickle/cqlagent"
)

// Flags holds the command-line options of a training run.
//
// The flag groups mirror the configuration groups that
// the trainer consumes.
type Flags struct {
	// Environment selection.
	Name      string
	GymHost   string
	RecordDir string

	// Observation and action sizes for gym environments;
	// ignored for the built-in cart-pole.
	ObsDim    int
	ActionDim int

	Hidden int

	FramesPerBatch   int
	TotalFrames      int
	InitRandomFrames int
	NumEnvs          int

	BatchSize int
	UTDRatio  float64
	PolicyLR  float64
	CriticLR  float64
	AlphaLR   float64

	BufferSize  int
	Prioritized bool

	Lagrange  bool
	TargetGap float64
	Gamma     float64
	Tau       float64

	EvalInterval int
	EvalSteps    int

	MetricsFile string
}

// AddFlags adds the options to the flag package's global
// set of flags.
func (f *Flags) AddFlags() {
	flag.StringVar(&f.Name, "env", "cartpole",
		"environment name (cartpole or a gym environment)")
	flag.StringVar(&f.GymHost, "gym", "", "host for gym-socket-api")
	flag.StringVar(&f.RecordDir, "record", "", "gym recording directory")
	flag.IntVar(&f.ObsDim, "obsdim", 0, "observation size (gym only)")
	flag.IntVar(&f.ActionDim, "actdim", 0, "action size (gym only)")
	flag.IntVar(&f.Hidden, "hidden", 256, "hidden layer size")

	flag.IntVar(&f.FramesPerBatch, "batchframes", 1000,
		"frames collected per iteration")
	flag.IntVar(&f.TotalFrames, "frames", 1000000, "total frames to collect")
	flag.IntVar(&f.InitRandomFrames, "warmup", 5000,
		"random-action warmup frames")
	flag.IntVar(&f.NumEnvs, "numenvs", 1, "parallel environments")

	flag.IntVar(&f.BatchSize, "batch", 256, "optimization batch size")
	flag.Float64Var(&f.UTDRatio, "utd", 1, "gradient steps per frame")
	flag.Float64Var(&f.PolicyLR, "policylr", 3e-4, "policy step size")
	flag.Float64Var(&f.CriticLR, "criticlr", 3e-4, "critic step size")
	flag.Float64Var(&f.AlphaLR, "alphalr", 3e-4, "temperature step size")

	flag.IntVar(&f.BufferSize, "buffer", 1000000, "replay buffer capacity")
	flag.BoolVar(&f.Prioritized, "prioritized", false,
		"use prioritized replay sampling")

	flag.BoolVar(&f.Lagrange, "lagrange", false,
		"learn a Lagrange multiplier for the conservative penalty")
	flag.Float64Var(&f.TargetGap, "targetgap", 5,
		"conservative penalty budget (with -lagrange)")
	flag.Float64Var(&f.Gamma, "gamma", 0.99, "reward discount factor")
	flag.Float64Var(&f.Tau, "tau", 0.005, "target network blend rate")

	flag.IntVar(&f.EvalInterval, "evalinterval", 10000,
		"frames between evaluation rollouts")
	flag.IntVar(&f.EvalSteps, "evalsteps", 1000,
		"maximum steps per evaluation rollout")

	flag.StringVar(&f.MetricsFile, "metrics", "",
		"CSV file for metric output")
}

// Config resolves the flags into a trainer configuration.
func (f *Flags) Config() cqlagent.Config {
	return cqlagent.Config{
		Collector: cqlagent.CollectorConfig{
			FramesPerBatch:   f.FramesPerBatch,
			TotalFrames:      f.TotalFrames,
			InitRandomFrames: f.InitRandomFrames,
			EnvPerCollector:  f.NumEnvs,
		},
		Optim: cqlagent.OptimConfig{
			BatchSize: f.BatchSize,
			UTDRatio:  f.UTDRatio,
			PolicyLR:  f.PolicyLR,
			CriticLR:  f.CriticLR,
			AlphaLR:   f.AlphaLR,
		},
		ReplayBuffer: cqlagent.ReplayBufferConfig{
			Size:        f.BufferSize,
			Prioritized: f.Prioritized,
		},
		Loss: cqlagent.LossConfig{
			LagrangeEnabled: f.Lagrange,
			TargetGap:       f.TargetGap,
			Gamma:           f.Gamma,
			Tau:             f.Tau,
		},
		Logger: cqlagent.LoggerConfig{
			EvalInterval: f.EvalInterval,
			EvalSteps:    f.EvalSteps,
		},
	}
}
