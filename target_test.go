package cqlagent

import (
	"math"
	"testing"
)

func TestTargetUpdaterSoft(t *testing.T) {
	agent := testAgent(t, false)
	updater := &TargetUpdater{Agent: agent, Tau: 0.25}

	current := agent.CriticParams()
	targets := agent.TargetParams()
	src := vecToFloats(current[0].Vector)
	for j := range src {
		src[j] = float64(j) + 1
	}
	setVecFloats(current[0].Vector, src)
	before := vecToFloats(targets[0].Vector)

	updater.Step()

	after := vecToFloats(targets[0].Vector)
	for j := range after {
		expected := 0.25*src[j] + 0.75*before[j]
		if math.Abs(after[j]-expected) > 1e-9 {
			t.Fatalf("component %d: expected %v but got %v",
				j, expected, after[j])
		}
	}
}

func TestTargetUpdaterHard(t *testing.T) {
	agent := testAgent(t, false)
	updater := &TargetUpdater{Agent: agent, Every: 3}

	current := agent.CriticParams()
	targets := agent.TargetParams()
	src := vecToFloats(current[0].Vector)
	for j := range src {
		src[j] += 2
	}
	setVecFloats(current[0].Vector, src)
	before := vecToFloats(targets[0].Vector)

	updater.Step()
	updater.Step()
	if !floatsEqual(before, vecToFloats(targets[0].Vector)) {
		t.Fatal("targets changed before the copy interval elapsed")
	}

	updater.Step()
	if !floatsEqual(src, vecToFloats(targets[0].Vector)) {
		t.Fatal("targets were not hard-copied at the interval")
	}
}

func TestTargetUpdaterConvergence(t *testing.T) {
	agent := testAgent(t, false)
	updater := &TargetUpdater{Agent: agent, Tau: 0.5}

	current := agent.CriticParams()
	targets := agent.TargetParams()
	src := vecToFloats(current[0].Vector)
	for j := range src {
		src[j] = 3
	}
	setVecFloats(current[0].Vector, src)

	for i := 0; i < 60; i++ {
		updater.Step()
	}
	for j, x := range vecToFloats(targets[0].Vector) {
		if math.Abs(x-3) > 1e-6 {
			t.Fatalf("component %d did not converge: %v", j, x)
		}
	}
}
