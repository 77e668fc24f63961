package cqlagent

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
)

// An Optimizer applies Adam-transformed gradient steps to
// one parameter group.
//
// Each call starts from a fresh gradient, so there is no
// gradient state to clear between stages.
type Optimizer struct {
	Params   []*anydiff.Var
	StepSize float64

	adam anysgd.Adam
}

// Step propagates the scalar loss into the parameter
// group and descends along the transformed gradient.
func (o *Optimizer) Step(loss anydiff.Res) {
	c := o.Params[0].Vector.Creator()
	grad := anydiff.NewGrad(o.Params...)
	loss.Propagate(anyvec.Ones(c, 1), grad)
	g := o.adam.Transform(grad)
	g.Scale(c.MakeNumeric(-o.StepSize))
	g.AddToVars()
}

// An Updater performs one full optimization step on a
// sampled batch.
//
// The stages run in a fixed order with data dependencies
// between them: the critics are regressed first, then the
// Lagrange multiplier consumes the conservative gaps from
// that stage, then the actor is trained against the
// just-updated critics, and finally the temperature
// consumes the actor stage's log-probabilities.
// Reordering the stages changes the results, not merely
// their timing.
type Updater struct {
	Loss *LossModule

	Critic      *Optimizer
	Multiplier  *Optimizer
	Policy      *Optimizer
	Temperature *Optimizer
}

// NewUpdater builds an updater for the loss module's
// agent with one optimizer per parameter group.
// A multiplier optimizer is created only in Lagrange
// mode.
func NewUpdater(loss *LossModule, policyLR, criticLR, alphaLR,
	alphaPrimeLR float64) *Updater {
	a := loss.Agent
	res := &Updater{
		Loss:        loss,
		Critic:      &Optimizer{Params: a.CriticParams(), StepSize: criticLR},
		Policy:      &Optimizer{Params: a.PolicyParams(), StepSize: policyLR},
		Temperature: &Optimizer{Params: a.TemperatureParams(), StepSize: alphaLR},
	}
	if loss.WithLagrange {
		res.Multiplier = &Optimizer{
			Params:   a.MultiplierParams(),
			StepSize: alphaPrimeLR,
		}
	}
	return res
}

// Step runs the ordered stages on the batch and returns
// the detached loss record.
//
// A non-finite loss term halts training with an
// *OptimizationError before further parameters are
// corrupted.
func (u *Updater) Step(batch *Batch) (*Terms, error) {
	ctx := &stageContext{batch: batch}
	terms := &Terms{}

	qLoss, cqlLoss := u.Loss.CriticLoss(ctx)
	terms.QLoss = resScalar(qLoss)
	terms.CQLLoss = resScalar(cqlLoss)
	u.Critic.Step(anydiff.Add(qLoss, cqlLoss))

	if u.Multiplier != nil {
		apLoss := u.Loss.AlphaPrimeLoss(ctx)
		terms.AlphaPrimeLoss = resScalar(apLoss)
		u.Multiplier.Step(apLoss)
	}

	actorLoss := u.Loss.ActorLoss(ctx)
	terms.ActorLoss = resScalar(actorLoss)
	u.Policy.Step(actorLoss)

	alphaLoss := u.Loss.AlphaLoss(ctx)
	terms.AlphaLoss = resScalar(alphaLoss)
	u.Temperature.Step(alphaLoss)

	terms.Loss = terms.ActorLoss + terms.AlphaLoss + terms.QLoss +
		terms.CQLLoss + terms.AlphaPrimeLoss
	terms.TDError = ctx.tdError
	terms.Alpha = u.Loss.Agent.Alpha()
	terms.AlphaPrime = u.Loss.Agent.AlphaPrime()

	if !terms.Finite() {
		return nil, &OptimizationError{Terms: terms}
	}
	return terms, nil
}

func resScalar(r anydiff.Res) float64 {
	return scalarValue(r.Output())
}

// An OptimizationError reports a non-finite loss term.
type OptimizationError struct {
	Terms *Terms
}

func (o *OptimizationError) Error() string {
	return fmt.Sprintf("optimization step: non-finite loss "+
		"(q=%v cql=%v actor=%v alpha=%v alphaPrime=%v)",
		o.Terms.QLoss, o.Terms.CQLLoss, o.Terms.ActorLoss,
		o.Terms.AlphaLoss, o.Terms.AlphaPrimeLoss)
}
