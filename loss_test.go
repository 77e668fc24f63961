package cqlagent

import (
	"math"
	"math/rand"
	"testing"
)

func testLoss(agent *Agent, lagrange bool) *LossModule {
	return &LossModule{
		Agent:            agent,
		Gamma:            0.99,
		NumRandomActions: 3,
		WithLagrange:     lagrange,
		TargetGap:        5,
	}
}

func seedActionSpace(agent *Agent, seed int64) {
	agent.ActionSpace = &TanhGaussian{
		ActionDim: agent.ActionDim,
		Rand:      rand.New(rand.NewSource(seed)),
	}
}

func TestBootstrapTargetTerminal(t *testing.T) {
	agent := testAgent(t, false)
	loss := testLoss(agent, false)
	batch := testBatch(testCreator(), rand.New(rand.NewSource(1)), 5)
	for _, trans := range batch.Transitions {
		trans.Done = true
	}

	target := loss.bootstrapTarget(batch)
	for i, trans := range batch.Transitions {
		if math.Abs(target[i]-trans.Reward) > 1e-9 {
			t.Errorf("terminal target %d: expected %v but got %v",
				i, trans.Reward, target[i])
		}
	}
}

func TestCriticLossArtifacts(t *testing.T) {
	agent := testAgent(t, false)
	seedActionSpace(agent, 2)
	loss := testLoss(agent, false)
	batch := testBatch(testCreator(), rand.New(rand.NewSource(2)), 6)

	ctx := &stageContext{batch: batch}
	qLoss, cqlLoss := loss.CriticLoss(ctx)

	if q := resScalar(qLoss); math.IsNaN(q) || q < 0 {
		t.Errorf("bad q loss: %v", q)
	}
	if c := resScalar(cqlLoss); math.IsNaN(c) {
		t.Errorf("bad conservative loss: %v", c)
	}
	if len(ctx.tdError) != 6 {
		t.Fatalf("expected 6 TD errors, got %d", len(ctx.tdError))
	}
	for i, td := range ctx.tdError {
		if td < 0 || math.IsNaN(td) {
			t.Errorf("TD error %d out of range: %v", i, td)
		}
	}
	if math.IsNaN(ctx.cqlGap1) || math.IsNaN(ctx.cqlGap2) {
		t.Error("conservative gaps were not recorded")
	}
}

func TestCriticLossImportanceWeights(t *testing.T) {
	agentA := testAgent(t, false)
	agentB, err := agentA.Copy()
	if err != nil {
		t.Fatal(err)
	}
	seedActionSpace(agentA, 3)
	seedActionSpace(agentB, 3)

	batch := testBatch(testCreator(), rand.New(rand.NewSource(3)), 6)
	weighted := &Batch{
		Transitions: batch.Transitions,
		Weights:     []float64{1, 1, 1, 1, 1, 1},
		Indices:     []int{0, 1, 2, 3, 4, 5},
	}

	ctxA := &stageContext{batch: batch}
	qA, _ := testLoss(agentA, false).CriticLoss(ctxA)
	ctxB := &stageContext{batch: weighted}
	qB, _ := testLoss(agentB, false).CriticLoss(ctxB)

	if math.Abs(resScalar(qA)-resScalar(qB)) > 1e-9 {
		t.Errorf("unit weights changed the loss: %v vs %v",
			resScalar(qA), resScalar(qB))
	}
}

func TestAlphaPrimeLossDirection(t *testing.T) {
	check := func(gap float64, wantAbove bool) {
		agent, err := NewAgent(testCreator(), 1, 1, 8, true)
		if err != nil {
			t.Fatal(err)
		}
		loss := testLoss(agent, true)
		ctx := &stageContext{cqlGap1: gap, cqlGap2: gap}
		opt := &Optimizer{Params: agent.MultiplierParams(), StepSize: 0.1}
		opt.Step(loss.AlphaPrimeLoss(ctx))
		if wantAbove && agent.AlphaPrime() <= 1 {
			t.Errorf("gap %v: multiplier should rise, got %v",
				gap, agent.AlphaPrime())
		}
		if !wantAbove && agent.AlphaPrime() >= 1 {
			t.Errorf("gap %v: multiplier should fall, got %v",
				gap, agent.AlphaPrime())
		}
	}
	check(15, true)
	check(-5, false)
}

func TestAlphaLossDirection(t *testing.T) {
	check := func(meanLogProb float64, wantAbove bool) {
		agent, err := NewAgent(testCreator(), 1, 1, 8, false)
		if err != nil {
			t.Fatal(err)
		}
		loss := testLoss(agent, false)
		ctx := &stageContext{meanLogProb: meanLogProb}
		opt := &Optimizer{Params: agent.TemperatureParams(), StepSize: 0.1}
		opt.Step(loss.AlphaLoss(ctx))
		if wantAbove && agent.Alpha() <= 1 {
			t.Errorf("log-prob %v: alpha should rise, got %v",
				meanLogProb, agent.Alpha())
		}
		if !wantAbove && agent.Alpha() >= 1 {
			t.Errorf("log-prob %v: alpha should fall, got %v",
				meanLogProb, agent.Alpha())
		}
	}

	// Target entropy defaults to -1; a policy far above it
	// should push the temperature up, and vice versa.
	check(5, true)
	check(-5, false)
}

func TestActorLossSeesCriticUpdate(t *testing.T) {
	agentA := testAgent(t, false)
	agentB, err := agentA.Copy()
	if err != nil {
		t.Fatal(err)
	}
	agentC, err := agentA.Copy()
	if err != nil {
		t.Fatal(err)
	}
	seedActionSpace(agentA, 11)
	seedActionSpace(agentB, 11)
	seedActionSpace(agentC, 11)

	batch := testBatch(testCreator(), rand.New(rand.NewSource(11)), 8)

	// A critic gradient step separates the critic and actor
	// stages on agent A; the other agents evaluate the same
	// losses back to back with identical noise streams.
	updater := NewUpdater(testLoss(agentA, false), 0, 0.05, 0, 0)
	termsA, err := updater.Step(batch)
	if err != nil {
		t.Fatal(err)
	}

	actorValue := func(agent *Agent) float64 {
		loss := testLoss(agent, false)
		ctx := &stageContext{batch: batch}
		loss.CriticLoss(ctx)
		return resScalar(loss.ActorLoss(ctx))
	}
	valB := actorValue(agentB)
	valC := actorValue(agentC)

	if math.Abs(valB-valC) > 1e-9 {
		t.Fatalf("identical agents disagree: %v vs %v", valB, valC)
	}
	if math.Abs(termsA.ActorLoss-valB) < 1e-9 {
		t.Error("actor loss did not observe the critic update")
	}
}
