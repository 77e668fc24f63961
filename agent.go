package cqlagent

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// An Agent bundles the function approximators of a
// conservative actor-critic learner: a stochastic policy,
// twin Q critics, delayed target copies of the critics,
// and the learned log-space temperature coefficients.
//
// The target critics are independent copies which are
// mutated exclusively by a TargetUpdater, never by
// gradient descent.
type Agent struct {
	Policy           anynet.Net
	Critic1, Critic2 anynet.Net

	TargetCritic1, TargetCritic2 anynet.Net

	ActionSpace *TanhGaussian

	// LogAlpha is the log of the entropy temperature.
	LogAlpha *anydiff.Var

	// LogAlphaPrime is the log of the Lagrange multiplier
	// bounding the conservative penalty.
	// It is nil when Lagrange mode is disabled.
	LogAlphaPrime *anydiff.Var

	ObsDim    int
	ActionDim int
}

// NewAgent creates an agent with freshly initialized
// networks.
//
// The policy maps observations to 2*actionDim Gaussian
// parameters; each critic maps an observation-action pair
// to a scalar value.
// If withLagrange is true, the agent carries a Lagrange
// multiplier parameter as well.
func NewAgent(c anyvec.Creator, obsDim, actionDim, hidden int,
	withLagrange bool) (*Agent, error) {
	a := &Agent{
		Policy: anynet.Net{
			anynet.NewFC(c, obsDim, hidden),
			anynet.Tanh,
			anynet.NewFC(c, hidden, hidden),
			anynet.Tanh,
			anynet.NewFC(c, hidden, 2*actionDim),
		},
		Critic1:     newCritic(c, obsDim+actionDim, hidden),
		Critic2:     newCritic(c, obsDim+actionDim, hidden),
		ActionSpace: &TanhGaussian{ActionDim: actionDim},
		LogAlpha:    anydiff.NewVar(c.MakeVector(1)),
		ObsDim:      obsDim,
		ActionDim:   actionDim,
	}
	if withLagrange {
		a.LogAlphaPrime = anydiff.NewVar(c.MakeVector(1))
	}

	var err error
	if a.TargetCritic1, err = copyNet(a.Critic1); err != nil {
		return nil, essentials.AddCtx("new agent", err)
	}
	if a.TargetCritic2, err = copyNet(a.Critic2); err != nil {
		return nil, essentials.AddCtx("new agent", err)
	}
	return a, nil
}

func newCritic(c anyvec.Creator, inDim, hidden int) anynet.Net {
	return anynet.Net{
		anynet.NewFC(c, inDim, hidden),
		anynet.Tanh,
		anynet.NewFC(c, hidden, hidden),
		anynet.Tanh,
		anynet.NewFC(c, hidden, 1),
	}
}

// Creator returns the creator that holds the agent's
// parameters.
func (a *Agent) Creator() anyvec.Creator {
	return a.PolicyParams()[0].Vector.Creator()
}

// PolicyParams returns the policy parameter group.
func (a *Agent) PolicyParams() []*anydiff.Var {
	return anynet.AllParameters(a.Policy)
}

// CriticParams returns the twin-critic parameter group.
func (a *Agent) CriticParams() []*anydiff.Var {
	return anynet.AllParameters(a.Critic1, a.Critic2)
}

// TargetParams returns the target-critic parameters in
// the same order as CriticParams.
func (a *Agent) TargetParams() []*anydiff.Var {
	return anynet.AllParameters(a.TargetCritic1, a.TargetCritic2)
}

// TemperatureParams returns the entropy-temperature
// parameter group.
func (a *Agent) TemperatureParams() []*anydiff.Var {
	return []*anydiff.Var{a.LogAlpha}
}

// MultiplierParams returns the Lagrange-multiplier
// parameter group, or nil when Lagrange mode is off.
func (a *Agent) MultiplierParams() []*anydiff.Var {
	if a.LogAlphaPrime == nil {
		return nil
	}
	return []*anydiff.Var{a.LogAlphaPrime}
}

// Alpha returns the current entropy temperature.
func (a *Agent) Alpha() float64 {
	return math.Exp(vecToFloats(a.LogAlpha.Vector)[0])
}

// AlphaPrime returns the current Lagrange multiplier, or
// 0 when Lagrange mode is off.
func (a *Agent) AlphaPrime() float64 {
	if a.LogAlphaPrime == nil {
		return 0
	}
	return math.Exp(vecToFloats(a.LogAlphaPrime.Vector)[0])
}

// Copy produces a deep copy of the agent.
// The copy shares no parameters with the original.
func (a *Agent) Copy() (*Agent, error) {
	res := &Agent{
		ActionSpace: a.ActionSpace,
		ObsDim:      a.ObsDim,
		ActionDim:   a.ActionDim,
	}
	nets := []anynet.Net{a.Policy, a.Critic1, a.Critic2,
		a.TargetCritic1, a.TargetCritic2}
	dsts := []*anynet.Net{&res.Policy, &res.Critic1, &res.Critic2,
		&res.TargetCritic1, &res.TargetCritic2}
	for i, n := range nets {
		copied, err := copyNet(n)
		if err != nil {
			return nil, essentials.AddCtx("copy agent", err)
		}
		*dsts[i] = copied
	}
	res.LogAlpha = anydiff.NewVar(a.LogAlpha.Vector.Copy())
	if a.LogAlphaPrime != nil {
		res.LogAlphaPrime = anydiff.NewVar(a.LogAlphaPrime.Vector.Copy())
	}
	return res, nil
}

// InferencePolicy returns an independent copy of the
// policy network for use by a collector.
func (a *Agent) InferencePolicy() (anynet.Net, error) {
	res, err := copyNet(a.Policy)
	if err != nil {
		return nil, essentials.AddCtx("inference policy", err)
	}
	return res, nil
}

// SyncPolicy copies the agent's current policy weights
// into dst, which must have been created by
// InferencePolicy.
func (a *Agent) SyncPolicy(dst anynet.Net) {
	src := anynet.AllParameters(a.Policy)
	dstParams := anynet.AllParameters(dst)
	for i, p := range src {
		dstParams[i].Vector.Set(p.Vector)
	}
}

func copyNet(n anynet.Net) (anynet.Net, error) {
	copied, err := serializer.Copy(n)
	if err != nil {
		return nil, err
	}
	return copied.(anynet.Net), nil
}
