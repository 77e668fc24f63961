package cqlagent

import (
	"fmt"
	"math"
)

// CollectorConfig groups the experience-collection
// settings.
type CollectorConfig struct {
	// FramesPerBatch is the number of environment frames
	// gathered per outer iteration.
	FramesPerBatch int

	// TotalFrames is the number of frames after which
	// training terminates.
	TotalFrames int

	// InitRandomFrames is the warmup threshold: below it,
	// actions are uniform random and no optimization
	// occurs.
	InitRandomFrames int

	// EnvPerCollector is the number of parallel
	// environment instances.
	EnvPerCollector int
}

// OptimConfig groups the optimization settings.
type OptimConfig struct {
	BatchSize int

	// UTDRatio is the number of gradient steps per
	// collected frame.
	UTDRatio float64

	// Learning rates per parameter group.
	// Zero values default to 3e-4.
	PolicyLR     float64
	CriticLR     float64
	AlphaLR      float64
	AlphaPrimeLR float64
}

// ReplayBufferConfig groups the replay storage settings.
type ReplayBufferConfig struct {
	Size        int
	Prioritized bool

	// Alpha and Beta control prioritized sampling; unused
	// for uniform buffers.
	// Zero values default to 0.6 and 0.4.
	Alpha float64
	Beta  float64
}

// LossConfig groups the objective settings.
type LossConfig struct {
	// LagrangeEnabled turns on the learned multiplier
	// bounding the conservative penalty.
	LagrangeEnabled bool

	// TargetGap is the penalty budget in Lagrange mode.
	TargetGap float64

	// Gamma is the discount factor; 0 defaults to 0.99.
	Gamma float64

	// CQLTemperature and NumRandomActions parameterize the
	// conservative penalty estimate.
	CQLTemperature   float64
	NumRandomActions int

	// TargetEntropy steers the temperature coefficient;
	// 0 defaults to the negative action dimensionality.
	TargetEntropy float64

	// Tau is the Polyak coefficient for target updates.
	// If 0 and HardUpdateEvery is 0, Tau defaults to
	// 0.005; if HardUpdateEvery > 0, hard copies are used
	// instead.
	Tau             float64
	HardUpdateEvery int
}

// LoggerConfig groups the metric-emission settings.
type LoggerConfig struct {
	// EvalInterval is the number of collected frames
	// between deterministic evaluation rollouts.
	EvalInterval int

	// EvalSteps bounds the length of one evaluation
	// rollout.
	EvalSteps int
}

// A Config is the resolved configuration of a training
// run.
// It is validated once at startup; components consume
// typed fields only.
type Config struct {
	Collector    CollectorConfig
	Optim        OptimConfig
	ReplayBuffer ReplayBufferConfig
	Loss         LossConfig
	Logger       LoggerConfig
}

// A ConfigurationError describes an invalid or missing
// configuration field.
// It is always produced before any resource is acquired.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (c *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", c.Field, c.Reason)
}

// Validate checks the configuration and fills defaults
// for optional fields.
func (c *Config) Validate() error {
	if c.Collector.FramesPerBatch <= 0 {
		return &ConfigurationError{"collector.frames_per_batch", "must be positive"}
	}
	if c.Collector.TotalFrames <= 0 {
		return &ConfigurationError{"collector.total_frames", "must be positive"}
	}
	if c.Collector.InitRandomFrames < 0 {
		return &ConfigurationError{"collector.init_random_frames",
			"must be non-negative"}
	}
	if c.Collector.EnvPerCollector <= 0 {
		return &ConfigurationError{"collector.env_per_collector", "must be positive"}
	}
	if c.Optim.BatchSize <= 0 {
		return &ConfigurationError{"optim.batch_size", "must be positive"}
	}
	if c.Optim.UTDRatio < 0 {
		return &ConfigurationError{"optim.utd_ratio", "must be non-negative"}
	}
	if _, err := c.resolveNumUpdates(); err != nil {
		return err
	}
	if c.ReplayBuffer.Size <= 0 {
		return &ConfigurationError{"replay_buffer.size", "must be positive"}
	}
	if c.ReplayBuffer.Size < c.Optim.BatchSize {
		return &ConfigurationError{"replay_buffer.size",
			"must be at least optim.batch_size"}
	}
	if g := c.Loss.Gamma; g < 0 || g > 1 {
		return &ConfigurationError{"loss.gamma", "must be in [0, 1]"}
	}
	if c.Loss.Tau < 0 || c.Loss.Tau > 1 {
		return &ConfigurationError{"loss.tau", "must be in [0, 1]"}
	}
	if c.Logger.EvalInterval <= 0 {
		return &ConfigurationError{"logger.eval_interval", "must be positive"}
	}
	if c.Logger.EvalSteps <= 0 {
		return &ConfigurationError{"logger.eval_steps", "must be positive"}
	}

	if c.Optim.PolicyLR == 0 {
		c.Optim.PolicyLR = 3e-4
	}
	if c.Optim.CriticLR == 0 {
		c.Optim.CriticLR = 3e-4
	}
	if c.Optim.AlphaLR == 0 {
		c.Optim.AlphaLR = 3e-4
	}
	if c.Optim.AlphaPrimeLR == 0 {
		c.Optim.AlphaPrimeLR = 3e-4
	}
	if c.ReplayBuffer.Prioritized {
		if c.ReplayBuffer.Alpha == 0 {
			c.ReplayBuffer.Alpha = 0.6
		}
		if c.ReplayBuffer.Beta == 0 {
			c.ReplayBuffer.Beta = 0.4
		}
	}
	if c.Loss.Gamma == 0 {
		c.Loss.Gamma = 0.99
	}
	if c.Loss.Tau == 0 && c.Loss.HardUpdateEvery == 0 {
		c.Loss.Tau = 0.005
	}
	return nil
}

// NumUpdates returns the number of inner gradient steps
// per outer iteration:
// env_per_collector * frames_per_batch * utd_ratio.
//
// The product is required to be a non-negative integer;
// Validate rejects configurations where it is not.
func (c *Config) NumUpdates() int {
	n, err := c.resolveNumUpdates()
	if err != nil {
		panic(err)
	}
	return n
}

func (c *Config) resolveNumUpdates() (int, error) {
	v := float64(c.Collector.EnvPerCollector*c.Collector.FramesPerBatch) *
		c.Optim.UTDRatio
	rounded := math.Round(v)
	if v < 0 || math.Abs(v-rounded) > 1e-9 {
		return 0, &ConfigurationError{"optim.utd_ratio",
			fmt.Sprintf("env_per_collector * frames_per_batch * utd_ratio "+
				"must be a non-negative integer, got %v", v)}
	}
	return int(rounded), nil
}
