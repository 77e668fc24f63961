package cqlagent

import (
	"io"
	"log"
	"time"

	"github.com/unixpickle/anyrl"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// priorityEpsilon keeps written-back priorities strictly
// positive so that every transition remains reachable.
const priorityEpsilon = 1e-6

// A Logger receives a flat mapping of metric names to
// scalar values keyed by a monotonic step index (the
// total number of collected frames).
//
// A nil Logger is a silent no-op.
type Logger interface {
	LogScalars(step int, metrics map[string]float64)
}

// A Trainer owns the outer training loop: it interleaves
// collection, replay storage, inner optimization bursts,
// target synchronization, priority write-back, periodic
// deterministic evaluation, and metric emission.
type Trainer struct {
	Config Config

	Agent     *Agent
	Collector *Collector
	Buffer    *ReplayBuffer
	Updater   *Updater
	Targets   *TargetUpdater
	EvalEnv   anyrl.Env
	Logger    Logger

	// Creator, if non-nil, is the compute placement that
	// sampled batches are normalized to before each update.
	Creator anyvec.Creator

	collectedFrames int
	updateCount     int
	closed          bool
}

// NewTrainer validates the configuration and assembles a
// trainer around the agent and environments.
func NewTrainer(cfg Config, agent *Agent, envs []anyrl.Env,
	evalEnv anyrl.Env, logger Logger) (trainer *Trainer, err error) {
	defer essentials.AddCtxTo("new trainer", &err)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(envs) != cfg.Collector.EnvPerCollector {
		return nil, &ConfigurationError{"collector.env_per_collector",
			"does not match the number of environments"}
	}

	var buffer *ReplayBuffer
	if cfg.ReplayBuffer.Prioritized {
		buffer, err = NewPrioritizedReplayBuffer(cfg.ReplayBuffer.Size,
			cfg.ReplayBuffer.Alpha, cfg.ReplayBuffer.Beta)
	} else {
		buffer, err = NewReplayBuffer(cfg.ReplayBuffer.Size)
	}
	if err != nil {
		return nil, err
	}

	collector, err := NewCollector(agent, envs, cfg.Collector.FramesPerBatch,
		cfg.Collector.InitRandomFrames)
	if err != nil {
		return nil, err
	}

	loss := &LossModule{
		Agent:            agent,
		Gamma:            cfg.Loss.Gamma,
		CQLTemperature:   cfg.Loss.CQLTemperature,
		NumRandomActions: cfg.Loss.NumRandomActions,
		TargetEntropy:    cfg.Loss.TargetEntropy,
		WithLagrange:     cfg.Loss.LagrangeEnabled,
		TargetGap:        cfg.Loss.TargetGap,
	}

	return &Trainer{
		Config:    cfg,
		Agent:     agent,
		Collector: collector,
		Buffer:    buffer,
		Updater: NewUpdater(loss, cfg.Optim.PolicyLR, cfg.Optim.CriticLR,
			cfg.Optim.AlphaLR, cfg.Optim.AlphaPrimeLR),
		Targets: &TargetUpdater{
			Agent: agent,
			Tau:   cfg.Loss.Tau,
			Every: cfg.Loss.HardUpdateEvery,
		},
		EvalEnv: evalEnv,
		Logger:  logger,
	}, nil
}

// CollectedFrames returns the number of frames gathered
// so far.
func (t *Trainer) CollectedFrames() int {
	return t.collectedFrames
}

// UpdateCount returns the number of inner optimization
// steps executed so far.
func (t *Trainer) UpdateCount() int {
	return t.updateCount
}

// Run executes outer iterations until TotalFrames frames
// have been collected.
//
// Any collaborator failure terminates the run with an
// error; there is no internal retry.
func (t *Trainer) Run() (err error) {
	defer essentials.AddCtxTo("run training", &err)

	cfg := &t.Config
	numUpdates := cfg.NumUpdates()
	framesPerBatch := cfg.Collector.FramesPerBatch

	for i := 0; t.collectedFrames < cfg.Collector.TotalFrames; i++ {
		samplingStart := time.Now()
		trans, stats, err := t.Collector.Rollout()
		if err != nil {
			return err
		}
		samplingTime := time.Since(samplingStart).Seconds()

		t.Collector.SyncPolicy(t.Agent)

		t.Buffer.Extend(trans)
		t.collectedFrames += len(trans)

		metrics := map[string]float64{}

		trainingStart := time.Now()
		if t.collectedFrames >= cfg.Collector.InitRandomFrames {
			sums := map[string]float64{}
			for j := 0; j < numUpdates; j++ {
				terms, err := t.updateOnce()
				if err != nil {
					return err
				}
				sums["train/loss_qvalue"] += terms.QLoss
				sums["train/loss_cql"] += terms.CQLLoss
				sums["train/loss_actor"] += terms.ActorLoss
				sums["train/loss_alpha"] += terms.AlphaLoss
				if cfg.Loss.LagrangeEnabled {
					sums["train/loss_alpha_prime"] += terms.AlphaPrimeLoss
				}
				sums["train/alpha"] += terms.Alpha
			}
			if numUpdates > 0 {
				for key, sum := range sums {
					metrics[key] = sum / float64(numUpdates)
				}
			}
			metrics["train/sampling_time"] = samplingTime
			metrics["train/training_time"] = time.Since(trainingStart).Seconds()
		}

		if len(stats) > 0 {
			var reward, length float64
			for _, s := range stats {
				reward += s.Reward
				length += float64(s.Length)
			}
			metrics["train/reward"] = reward / float64(len(stats))
			metrics["train/episode_length"] = length / float64(len(stats))
		}

		prevBoundary := ((i - 1) * framesPerBatch) / cfg.Logger.EvalInterval
		curBoundary := (i * framesPerBatch) / cfg.Logger.EvalInterval
		final := t.collectedFrames >= cfg.Collector.TotalFrames
		if (i >= 1 && prevBoundary < curBoundary) || final {
			evalStart := time.Now()
			reward, _, err := EvalRollout(t.EvalEnv, t.Agent, cfg.Logger.EvalSteps)
			if err != nil {
				return err
			}
			metrics["eval/reward"] = reward
			metrics["eval/time"] = time.Since(evalStart).Seconds()
		}

		if t.Logger != nil {
			t.Logger.LogScalars(t.collectedFrames, metrics)
		}
	}

	log.Printf("training finished after %d frames and %d updates",
		t.collectedFrames, t.updateCount)
	return nil
}

// updateOnce samples a batch, runs the ordered update
// step, advances the targets, and writes back priorities.
func (t *Trainer) updateOnce() (*Terms, error) {
	batch, err := t.Buffer.Sample(t.Config.Optim.BatchSize)
	if err != nil {
		return nil, err
	}
	if t.Creator != nil {
		batch = batch.ToCreator(t.Creator)
	}

	terms, err := t.Updater.Step(batch)
	if err != nil {
		return nil, err
	}
	t.updateCount++

	t.Targets.Step()

	if t.Buffer.Prioritized() {
		priorities := make([]float64, len(terms.TDError))
		for i, td := range terms.TDError {
			priorities[i] = td + priorityEpsilon
		}
		if err := t.Buffer.UpdatePriorities(batch.Indices, priorities); err != nil {
			return nil, err
		}
	}
	return terms, nil
}

// Close releases the collector and the evaluation
// environment.
// It may be called any number of times.
func (t *Trainer) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.Collector.Close()
	if closer, ok := t.EvalEnv.(io.Closer); ok {
		closer.Close()
	}
}
