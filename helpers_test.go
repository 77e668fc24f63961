package cqlagent

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

// testEnv is a trivial one-dimensional environment whose
// episodes last a fixed number of steps.
type testEnv struct {
	creator anyvec.Creator

	episodeLen int
	failAfter  int

	pos        float64
	steps      int
	totalSteps int
	closes     int
}

func newTestEnv(c anyvec.Creator, episodeLen int) *testEnv {
	return &testEnv{creator: c, episodeLen: episodeLen}
}

func (e *testEnv) Reset() (anyvec.Vector, error) {
	e.pos = 0
	e.steps = 0
	return e.observation(), nil
}

func (e *testEnv) Step(action anyvec.Vector) (anyvec.Vector, float64,
	bool, error) {
	e.totalSteps++
	if e.failAfter > 0 && e.totalSteps > e.failAfter {
		return nil, 0, false, errors.New("environment exploded")
	}
	e.pos += vecToFloats(action)[0]
	e.steps++
	reward := -e.pos * e.pos
	done := e.steps >= e.episodeLen
	return e.observation(), reward, done, nil
}

func (e *testEnv) Close() error {
	e.closes++
	return nil
}

func (e *testEnv) observation() anyvec.Vector {
	return e.creator.MakeVectorData(e.creator.MakeNumericList(
		[]float64{e.pos}))
}

func testCreator() anyvec.Creator {
	return anyvec64.DefaultCreator{}
}

func testAgent(t *testing.T, lagrange bool) *Agent {
	t.Helper()
	agent, err := NewAgent(testCreator(), 1, 1, 8, lagrange)
	if err != nil {
		t.Fatal(err)
	}
	return agent
}

func testBatch(c anyvec.Creator, rng *rand.Rand, n int) *Batch {
	vec := func(x float64) anyvec.Vector {
		return c.MakeVectorData(c.MakeNumericList([]float64{x}))
	}
	trans := make([]*Transition, n)
	for i := range trans {
		trans[i] = &Transition{
			State:     vec(rng.NormFloat64()),
			Action:    vec(rng.Float64()*2 - 1),
			Reward:    rng.NormFloat64(),
			NextState: vec(rng.NormFloat64()),
			Done:      rng.Intn(4) == 0,
			StepCount: i,
		}
	}
	return &Batch{Transitions: trans}
}

// paramSnapshot flattens every parameter of the agent
// into one comparable slice.
func paramSnapshot(a *Agent) []float64 {
	var res []float64
	groups := [][]float64{}
	for _, v := range a.PolicyParams() {
		groups = append(groups, vecToFloats(v.Vector))
	}
	for _, v := range a.CriticParams() {
		groups = append(groups, vecToFloats(v.Vector))
	}
	for _, v := range a.TargetParams() {
		groups = append(groups, vecToFloats(v.Vector))
	}
	groups = append(groups, vecToFloats(a.LogAlpha.Vector))
	if a.LogAlphaPrime != nil {
		groups = append(groups, vecToFloats(a.LogAlphaPrime.Vector))
	}
	for _, g := range groups {
		res = append(res, append([]float64{}, g...)...)
	}
	return res
}

func floatsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i, x := range a {
		if x != b[i] {
			return false
		}
	}
	return true
}
