package cqlagent

import (
	"errors"
	"io"
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyrl"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// An EpisodeStat summarizes one finished episode.
type EpisodeStat struct {
	Reward float64
	Length int
}

// A Collector gathers fixed-size batches of transitions
// by running an inference copy of the policy in one or
// more environments.
//
// Environments persist across Rollout calls: an episode
// that does not finish within one batch continues in the
// next.
// Environment step failures are fatal and are reported as
// a *CollectionError.
//
// Rollout always explores stochastically (or uniformly at
// random during warmup); deterministic evaluation goes
// through EvalRollout instead.
type Collector struct {
	Envs        []anyrl.Env
	Policy      anynet.Net
	ActionSpace *TanhGaussian

	// FramesPerBatch is the total number of transitions
	// produced by one Rollout across all environments.
	FramesPerBatch int

	// RandomFrames is the number of initial frames for
	// which actions are drawn uniformly at random rather
	// than from the policy.
	RandomFrames int

	obs        []anyvec.Vector
	stepCounts []int
	rewardSums []float64
	collected  int
	closed     bool
}

// NewCollector creates a collector holding an independent
// inference copy of the agent's policy.
func NewCollector(agent *Agent, envs []anyrl.Env, framesPerBatch,
	randomFrames int) (*Collector, error) {
	if len(envs) == 0 {
		return nil, errors.New("new collector: no environments")
	}
	if framesPerBatch < len(envs) {
		return nil, errors.New("new collector: fewer frames per batch " +
			"than environments")
	}
	policy, err := agent.InferencePolicy()
	if err != nil {
		return nil, essentials.AddCtx("new collector", err)
	}
	return &Collector{
		Envs:           envs,
		Policy:         policy,
		ActionSpace:    agent.ActionSpace,
		FramesPerBatch: framesPerBatch,
		RandomFrames:   randomFrames,
		obs:            make([]anyvec.Vector, len(envs)),
		stepCounts:     make([]int, len(envs)),
		rewardSums:     make([]float64, len(envs)),
	}, nil
}

// SyncPolicy copies the trainer's current policy weights
// into the collector's inference copy.
//
// The trainer calls this once per outer iteration;
// skipping a call leaves the collector with boundedly
// stale weights.
func (c *Collector) SyncPolicy(agent *Agent) {
	agent.SyncPolicy(c.Policy)
}

// Rollout produces FramesPerBatch transitions, already
// flattened across the environment dimension, plus the
// statistics of every episode that finished during the
// rollout.
//
// Environments step in parallel; the call blocks until
// every environment has produced its share of frames.
func (c *Collector) Rollout() ([]*Transition, []EpisodeStat, error) {
	random := c.collected < c.RandomFrames

	type envResult struct {
		idx   int
		trans []*Transition
		stats []EpisodeStat
		err   error
	}
	results := make(chan envResult, len(c.Envs))

	var wg sync.WaitGroup
	for i := range c.Envs {
		quota := c.FramesPerBatch / len(c.Envs)
		if i < c.FramesPerBatch%len(c.Envs) {
			quota++
		}
		wg.Add(1)
		go func(i, quota int) {
			defer wg.Done()
			trans, stats, err := c.runEnv(i, quota, random)
			results <- envResult{idx: i, trans: trans, stats: stats, err: err}
		}(i, quota)
	}
	wg.Wait()
	close(results)

	perEnv := make([][]*Transition, len(c.Envs))
	var stats []EpisodeStat
	for res := range results {
		if res.err != nil {
			return nil, nil, &CollectionError{Err: res.err}
		}
		perEnv[res.idx] = res.trans
		stats = append(stats, res.stats...)
	}

	var all []*Transition
	for _, trans := range perEnv {
		all = append(all, trans...)
	}
	c.collected += len(all)
	return all, stats, nil
}

// runEnv collects quota transitions from one environment.
func (c *Collector) runEnv(i, quota int, random bool) ([]*Transition,
	[]EpisodeStat, error) {
	env := c.Envs[i]
	var trans []*Transition
	var stats []EpisodeStat

	if c.obs[i] == nil {
		obs, err := env.Reset()
		if err != nil {
			return nil, nil, err
		}
		c.obs[i] = obs
	}

	for len(trans) < quota {
		obs := c.obs[i]
		var action anyvec.Vector
		if random {
			action = c.ActionSpace.UniformActions(obs.Creator(), 1, 1)
		} else {
			params := c.Policy.Apply(anydiff.NewConst(obs), 1)
			action = c.ActionSpace.Sample(params.Output(), 1)
		}

		nextObs, reward, done, err := env.Step(action)
		if err != nil {
			return nil, nil, err
		}

		trans = append(trans, &Transition{
			State:     obs,
			Action:    action,
			Reward:    reward,
			NextState: nextObs,
			Done:      done,
			StepCount: c.stepCounts[i],
		})
		c.rewardSums[i] += reward
		c.stepCounts[i]++

		if done {
			stats = append(stats, EpisodeStat{
				Reward: c.rewardSums[i],
				Length: c.stepCounts[i],
			})
			c.rewardSums[i] = 0
			c.stepCounts[i] = 0
			if nextObs, err = env.Reset(); err != nil {
				return nil, nil, err
			}
		}
		c.obs[i] = nextObs
	}
	return trans, stats, nil
}

// Close releases every environment that supports closing.
// It may be called any number of times.
func (c *Collector) Close() {
	if c.closed {
		return
	}
	c.closed = true
	for _, env := range c.Envs {
		if closer, ok := env.(io.Closer); ok {
			closer.Close()
		}
	}
}

// EvalRollout runs one deterministic, gradient-free
// episode of at most steps steps and returns its total
// reward and length.
//
// It mutates no trained parameter, optimizer state, or
// buffer content; the environment is reset first and the
// rollout stops early when the episode ends.
func EvalRollout(env anyrl.Env, agent *Agent, steps int) (reward float64,
	length int, err error) {
	defer essentials.AddCtxTo("eval rollout", &err)

	obs, err := env.Reset()
	if err != nil {
		return 0, 0, err
	}
	for i := 0; i < steps; i++ {
		params := agent.Policy.Apply(anydiff.NewConst(obs), 1)
		action := agent.ActionSpace.Deterministic(params.Output(), 1)
		var done bool
		obs, reward, done, err = stepAccum(env, action, reward)
		if err != nil {
			return 0, 0, err
		}
		length++
		if done {
			break
		}
	}
	return reward, length, nil
}

func stepAccum(env anyrl.Env, action anyvec.Vector,
	total float64) (anyvec.Vector, float64, bool, error) {
	obs, reward, done, err := env.Step(action)
	return obs, total + reward, done, err
}

// A CollectionError wraps a fatal environment failure
// during collection.
type CollectionError struct {
	Err error
}

func (c *CollectionError) Error() string {
	return "collect rollout: " + c.Err.Error()
}

// Unwrap returns the underlying environment error.
func (c *CollectionError) Unwrap() error {
	return c.Err
}
