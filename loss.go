package cqlagent

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
)

// maxAlphaPrime caps the Lagrange multiplier when it is
// applied to the conservative penalty.
const maxAlphaPrime = 1e6

// A LossModule computes the objectives of conservative
// Q-learning for a sampled batch of transitions.
//
// The objectives are interdependent: the multiplier loss
// consumes the conservative gaps produced by the critic
// stage, and the temperature loss consumes the policy
// log-probabilities produced by the actor stage.
// A stageContext carries these artifacts through one
// update call; nothing is shared between calls.
type LossModule struct {
	Agent *Agent

	// Gamma is the reward discount factor.
	Gamma float64

	// CQLTemperature divides the Q-values inside the
	// log-sum-exp of the conservative penalty.
	// If 0, a default of 1 is used.
	CQLTemperature float64

	// CQLWeight scales the conservative penalty when
	// Lagrange mode is off.
	// If 0, a default of 1 is used.
	CQLWeight float64

	// NumRandomActions is the number of actions drawn from
	// each of the negative-sampling sources per state.
	// If 0, a default of 10 is used.
	NumRandomActions int

	// TargetEntropy is the entropy level the temperature
	// coefficient steers the policy toward.
	// If 0, -ActionDim is used.
	TargetEntropy float64

	// WithLagrange enables the learned multiplier on the
	// conservative penalty.
	WithLagrange bool

	// TargetGap is the conservative-penalty budget used by
	// the multiplier objective in Lagrange mode.
	TargetGap float64
}

// Terms is the detached record of one update step.
// Every gradient graph is released before a Terms is
// returned.
type Terms struct {
	QLoss          float64
	CQLLoss        float64
	AlphaPrimeLoss float64
	ActorLoss      float64
	AlphaLoss      float64

	// Loss is the combined scalar:
	// actor + alpha + q + cql [+ alphaPrime].
	Loss float64

	// TDError holds the per-transition bootstrap error,
	// usable as a priority signal.
	TDError []float64

	// Alpha and AlphaPrime are the coefficient values
	// after the step, for logging.
	Alpha      float64
	AlphaPrime float64
}

// Finite reports whether every loss term is finite.
func (t *Terms) Finite() bool {
	for _, x := range []float64{t.QLoss, t.CQLLoss, t.AlphaPrimeLoss,
		t.ActorLoss, t.AlphaLoss, t.Loss} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// stageContext carries the artifacts that later stages of
// an update step consume from earlier ones.
type stageContext struct {
	batch *Batch

	// Filled by the critic stage.
	tdError []float64
	cqlGap1 float64
	cqlGap2 float64

	// Filled by the actor stage.
	meanLogProb float64
}

// CriticLoss computes the bootstrapped regression loss
// and the conservative penalty for both critics.
//
// It fills the context with the per-sample TD errors and
// the (unscaled) conservative gaps.
func (l *LossModule) CriticLoss(ctx *stageContext) (qLoss, cqlLoss anydiff.Res) {
	batch := ctx.batch
	n := batch.Len()
	c := batch.Creator()
	a := l.Agent

	states := anydiff.NewConst(batch.States())
	nextStates := anydiff.NewConst(batch.NextStates())
	taken := anydiff.NewConst(batch.Actions())

	target := l.bootstrapTarget(batch)
	targetConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(target)))

	q1 := l.applyCritic(a.Critic1, states, taken, n)
	q2 := l.applyCritic(a.Critic2, states, taken, n)

	ctx.tdError = make([]float64, n)
	q1Out := vecToFloats(q1.Output())
	q2Out := vecToFloats(q2.Output())
	for i := range ctx.tdError {
		ctx.tdError[i] = 0.5 * (math.Abs(q1Out[i]-target[i]) +
			math.Abs(q2Out[i]-target[i]))
	}

	sq1 := anydiff.Square(anydiff.Sub(q1, targetConst))
	sq2 := anydiff.Square(anydiff.Sub(q2, targetConst))
	if batch.Weights != nil {
		w := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(batch.Weights)))
		sq1 = anydiff.Mul(sq1, w)
		sq2 = anydiff.Mul(sq2, w)
	}
	qLoss = anydiff.Scale(anydiff.Add(anydiff.Sum(sq1), anydiff.Sum(sq2)),
		c.MakeNumeric(0.5/float64(n)))

	gap1 := l.conservativeGap(a.Critic1, states, nextStates, q1, n)
	gap2 := l.conservativeGap(a.Critic2, states, nextStates, q2, n)
	ctx.cqlGap1 = scalarValue(gap1.Output())
	ctx.cqlGap2 = scalarValue(gap2.Output())

	scale := l.cqlWeight()
	if l.WithLagrange {
		scale = clamp(l.Agent.AlphaPrime(), 0, maxAlphaPrime)
	}
	cqlLoss = anydiff.Scale(anydiff.Add(gap1, gap2), c.MakeNumeric(scale))
	return
}

// AlphaPrimeLoss trains the Lagrange multiplier against
// the conservative gaps recorded by the critic stage.
//
// The optimizer minimizes the negation of the
// penalty-budget surplus, so the multiplier rises while
// the penalty exceeds TargetGap and falls otherwise.
func (l *LossModule) AlphaPrimeLoss(ctx *stageContext) anydiff.Res {
	a := l.Agent
	c := a.Creator()
	surplus := 0.5 * ((ctx.cqlGap1 - l.TargetGap) + (ctx.cqlGap2 - l.TargetGap))
	return anydiff.Scale(anydiff.Exp(a.LogAlphaPrime), c.MakeNumeric(-surplus))
}

// ActorLoss computes the policy objective against the
// current (just-updated) critics.
//
// Critic parameters receive no update from this term: the
// policy optimizer owns only the policy parameters.
// The mean log-probability is recorded in the context for
// the temperature stage.
func (l *LossModule) ActorLoss(ctx *stageContext) anydiff.Res {
	batch := ctx.batch
	n := batch.Len()
	c := batch.Creator()
	a := l.Agent

	states := anydiff.NewConst(batch.States())
	params := a.Policy.Apply(states, n)
	acts, logProbs := a.ActionSpace.SampleDiff(params, n)

	q1 := l.applyCritic(a.Critic1, states, acts, n)
	q2 := l.applyCritic(a.Critic2, states, acts, n)
	minQ := anydiff.ElemMin(q1, q2)

	ctx.meanLogProb = scalarValue(logProbs.Output()) / float64(n)

	obj := anydiff.Sub(anydiff.Scale(logProbs, c.MakeNumeric(a.Alpha())), minQ)
	return anydiff.Scale(anydiff.Sum(obj), c.MakeNumeric(1/float64(n)))
}

// AlphaLoss drives the entropy temperature toward the
// target entropy using the log-probabilities recorded by
// the actor stage; they are not recomputed.
func (l *LossModule) AlphaLoss(ctx *stageContext) anydiff.Res {
	a := l.Agent
	c := a.Creator()
	excess := ctx.meanLogProb + l.targetEntropy()
	return anydiff.Scale(anydiff.Exp(a.LogAlpha), c.MakeNumeric(-excess))
}

// bootstrapTarget computes the detached regression target
// r + gamma*(1-done)*(min(Q1',Q2')(s',a') - alpha*logpi(a'|s')).
func (l *LossModule) bootstrapTarget(batch *Batch) []float64 {
	n := batch.Len()
	a := l.Agent

	nextStates := anydiff.NewConst(batch.NextStates())
	nextParams := anydiff.NewConst(a.Policy.Apply(nextStates, n).Output())
	nextActs, nextLogProbs := a.ActionSpace.SampleDiff(nextParams, n)
	nextActsConst := anydiff.NewConst(nextActs.Output())

	tq1 := vecToFloats(l.applyCritic(a.TargetCritic1, nextStates,
		nextActsConst, n).Output())
	tq2 := vecToFloats(l.applyCritic(a.TargetCritic2, nextStates,
		nextActsConst, n).Output())
	logp := vecToFloats(nextLogProbs.Output())

	alpha := a.Alpha()
	rewards := batch.Rewards()
	done := batch.DoneMask()
	target := make([]float64, n)
	for i := range target {
		value := math.Min(tq1[i], tq2[i]) - alpha*logp[i]
		target[i] = rewards[i] + l.Gamma*(1-done[i])*value
	}
	return target
}

// conservativeGap computes, for one critic, the mean
// importance-corrected log-sum-exp of Q over random,
// current-policy, and next-policy actions, minus the mean
// Q of the actions actually taken.
func (l *LossModule) conservativeGap(critic anynet.Net, states,
	nextStates anydiff.Res, qTaken anydiff.Res, n int) anydiff.Res {
	c := states.Output().Creator()
	a := l.Agent
	k := l.numRandom()
	temp := l.cqlTemperature()

	randActs := anydiff.NewConst(a.ActionSpace.UniformActions(c, n, k))

	currParams := anydiff.NewConst(a.Policy.Apply(states, n).Output())
	currActs, currLogProbs := a.ActionSpace.SampleDiffN(currParams, n, k)
	nextParams := anydiff.NewConst(a.Policy.Apply(nextStates, n).Output())
	nextActs, nextLogProbs := a.ActionSpace.SampleDiffN(nextParams, n, k)

	qRand := l.applyCriticN(critic, states, randActs, n, k)
	qCurr := l.applyCriticN(critic, states, anydiff.NewConst(currActs.Output()), n, k)
	qNext := l.applyCriticN(critic, states, anydiff.NewConst(nextActs.Output()), n, k)

	// Row-major n x 3k matrix of importance-corrected
	// Q-values: log-density corrections make the
	// log-sum-exp an unbiased soft-maximum estimate.
	corr := make([]float64, 0, n*3*k)
	currLP := vecToFloats(currLogProbs.Output())
	nextLP := vecToFloats(nextLogProbs.Output())
	uniform := a.ActionSpace.UniformLogProb()
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			corr = append(corr, uniform)
		}
		corr = append(corr, currLP[i*k:(i+1)*k]...)
		corr = append(corr, nextLP[i*k:(i+1)*k]...)
	}
	corrConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(corr)))

	var rows []anydiff.Res
	for i := 0; i < n; i++ {
		rows = append(rows,
			anydiff.Slice(qRand, i*k, (i+1)*k),
			anydiff.Slice(qCurr, i*k, (i+1)*k),
			anydiff.Slice(qNext, i*k, (i+1)*k))
	}
	stacked := anydiff.Sub(anydiff.Concat(rows...), corrConst)
	stacked = anydiff.Scale(stacked, c.MakeNumeric(1/temp))

	lse := logSumExpRows(stacked, n, 3*k)
	lse = anydiff.Scale(lse, c.MakeNumeric(temp))

	meanLSE := anydiff.Scale(anydiff.Sum(lse), c.MakeNumeric(1/float64(n)))
	meanTaken := anydiff.Scale(anydiff.Sum(qTaken), c.MakeNumeric(1/float64(n)))
	return anydiff.Sub(meanLSE, meanTaken)
}

// applyCritic evaluates a critic on n state-action rows.
func (l *LossModule) applyCritic(critic anynet.Net, states,
	actions anydiff.Res, n int) anydiff.Res {
	obsDim := l.Agent.ObsDim
	actDim := l.Agent.ActionDim
	parts := make([]anydiff.Res, 0, 2*n)
	for i := 0; i < n; i++ {
		parts = append(parts,
			anydiff.Slice(states, i*obsDim, (i+1)*obsDim),
			anydiff.Slice(actions, i*actDim, (i+1)*actDim))
	}
	return critic.Apply(anydiff.Concat(parts...), n)
}

// applyCriticN evaluates a critic on k actions per state,
// producing n*k Q-values grouped by state.
func (l *LossModule) applyCriticN(critic anynet.Net, states,
	actions anydiff.Res, n, k int) anydiff.Res {
	obsDim := l.Agent.ObsDim
	actDim := l.Agent.ActionDim
	parts := make([]anydiff.Res, 0, 2*n*k)
	for i := 0; i < n; i++ {
		state := anydiff.Slice(states, i*obsDim, (i+1)*obsDim)
		for j := 0; j < k; j++ {
			idx := i*k + j
			parts = append(parts, state,
				anydiff.Slice(actions, idx*actDim, (idx+1)*actDim))
		}
	}
	return critic.Apply(anydiff.Concat(parts...), n*k)
}

func (l *LossModule) cqlTemperature() float64 {
	if l.CQLTemperature == 0 {
		return 1
	}
	return l.CQLTemperature
}

func (l *LossModule) cqlWeight() float64 {
	if l.CQLWeight == 0 {
		return 1
	}
	return l.CQLWeight
}

func (l *LossModule) numRandom() int {
	if l.NumRandomActions == 0 {
		return 10
	}
	return l.NumRandomActions
}

func (l *LossModule) targetEntropy() float64 {
	if l.TargetEntropy == 0 {
		return -float64(l.Agent.ActionDim)
	}
	return l.TargetEntropy
}

// logSumExpRows computes the log-sum-exp of each row of a
// row-major rows x cols matrix.
func logSumExpRows(m anydiff.Res, rows, cols int) anydiff.Res {
	diff := anydiff.Sub(m, anydiff.LogSoftmax(m, cols))
	parts := make([]anydiff.Res, rows)
	for i := range parts {
		parts[i] = anydiff.Slice(diff, i*cols, i*cols+1)
	}
	return anydiff.Concat(parts...)
}
