package cqlagent

import (
	"math"
	"testing"

	"github.com/unixpickle/anynet"
)

func TestAgentParameterGroups(t *testing.T) {
	agent := testAgent(t, true)

	// Three FC layers per network, two variables each.
	if n := len(agent.PolicyParams()); n != 6 {
		t.Errorf("expected 6 policy parameters, got %d", n)
	}
	if n := len(agent.CriticParams()); n != 12 {
		t.Errorf("expected 12 critic parameters, got %d", n)
	}
	if n := len(agent.TargetParams()); n != 12 {
		t.Errorf("expected 12 target parameters, got %d", n)
	}
	if n := len(agent.TemperatureParams()); n != 1 {
		t.Errorf("expected 1 temperature parameter, got %d", n)
	}
	if n := len(agent.MultiplierParams()); n != 1 {
		t.Errorf("expected 1 multiplier parameter, got %d", n)
	}

	plain := testAgent(t, false)
	if plain.MultiplierParams() != nil {
		t.Error("expected nil multiplier group without Lagrange mode")
	}
	if plain.AlphaPrime() != 0 {
		t.Errorf("expected zero alpha prime, got %v", plain.AlphaPrime())
	}
}

func TestAgentInitialCoefficients(t *testing.T) {
	agent := testAgent(t, true)
	if math.Abs(agent.Alpha()-1) > 1e-9 {
		t.Errorf("expected initial alpha 1, got %v", agent.Alpha())
	}
	if math.Abs(agent.AlphaPrime()-1) > 1e-9 {
		t.Errorf("expected initial alpha prime 1, got %v", agent.AlphaPrime())
	}
}

func TestAgentTargetsIndependent(t *testing.T) {
	agent := testAgent(t, false)
	current := agent.CriticParams()
	targets := agent.TargetParams()
	for i, target := range targets {
		if !floatsEqual(vecToFloats(current[i].Vector),
			vecToFloats(target.Vector)) {
			t.Fatalf("target parameter %d differs from critic at init", i)
		}
		if current[i].Vector == target.Vector {
			t.Fatalf("target parameter %d shares storage with critic", i)
		}
	}

	// Mutating the critics must not touch the targets.
	before := vecToFloats(targets[0].Vector)
	data := vecToFloats(current[0].Vector)
	for j := range data {
		data[j] += 1
	}
	setVecFloats(current[0].Vector, data)
	if !floatsEqual(before, vecToFloats(targets[0].Vector)) {
		t.Error("target parameters changed with the critics")
	}
}

func TestAgentCopy(t *testing.T) {
	agent := testAgent(t, true)
	clone, err := agent.Copy()
	if err != nil {
		t.Fatal(err)
	}
	if !floatsEqual(paramSnapshot(agent), paramSnapshot(clone)) {
		t.Fatal("copy does not match original")
	}

	params := clone.PolicyParams()
	data := vecToFloats(params[0].Vector)
	data[0] += 1
	setVecFloats(params[0].Vector, data)
	if floatsEqual(paramSnapshot(agent), paramSnapshot(clone)) {
		t.Error("copy shares parameters with original")
	}
}

func TestAgentSyncPolicy(t *testing.T) {
	agent := testAgent(t, false)
	inference, err := agent.InferencePolicy()
	if err != nil {
		t.Fatal(err)
	}

	params := agent.PolicyParams()
	data := vecToFloats(params[0].Vector)
	for j := range data {
		data[j] += 0.5
	}
	setVecFloats(params[0].Vector, data)

	agent.SyncPolicy(inference)
	for i, p := range agent.PolicyParams() {
		got := vecToFloats(anynet.AllParameters(inference)[i].Vector)
		if !floatsEqual(vecToFloats(p.Vector), got) {
			t.Fatalf("policy parameter %d not synced", i)
		}
	}
}
