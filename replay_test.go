package cqlagent

import (
	"testing"
)

func bufferTransitions(n, start int) []*Transition {
	c := testCreator()
	res := make([]*Transition, n)
	for i := range res {
		x := float64(start + i)
		vec := c.MakeVectorData(c.MakeNumericList([]float64{x}))
		res[i] = &Transition{
			State:     vec,
			Action:    vec,
			Reward:    x,
			NextState: vec,
			StepCount: start + i,
		}
	}
	return res
}

func TestReplayBufferFIFO(t *testing.T) {
	buf, err := NewReplayBuffer(5)
	if err != nil {
		t.Fatal(err)
	}
	buf.Extend(bufferTransitions(3, 0))
	if buf.Len() != 3 {
		t.Errorf("expected 3 transitions, got %d", buf.Len())
	}
	buf.Extend(bufferTransitions(5, 3))
	if buf.Len() != 5 {
		t.Errorf("expected 5 transitions, got %d", buf.Len())
	}

	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		batch, err := buf.Sample(5)
		if err != nil {
			t.Fatal(err)
		}
		for _, trans := range batch.Transitions {
			seen[trans.StepCount] = true
		}
	}
	for old := 0; old < 3; old++ {
		if seen[old] {
			t.Errorf("evicted transition %d was sampled", old)
		}
	}
	for recent := 3; recent < 8; recent++ {
		if !seen[recent] {
			t.Errorf("transition %d never sampled", recent)
		}
	}
}

func TestReplayBufferSample(t *testing.T) {
	buf, err := NewReplayBuffer(10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := buf.Sample(3); err != ErrBufferEmpty {
		t.Errorf("expected ErrBufferEmpty, got %v", err)
	}
	buf.Extend(bufferTransitions(4, 0))
	batch, err := buf.Sample(3)
	if err != nil {
		t.Fatal(err)
	}
	if batch.Len() != 3 {
		t.Errorf("expected batch of 3, got %d", batch.Len())
	}
	if batch.Weights != nil || batch.Indices != nil {
		t.Error("uniform batch should not carry weights or indices")
	}
	if _, err := buf.Sample(0); err == nil {
		t.Error("expected error for non-positive batch size")
	}
}

func TestPrioritizedSampling(t *testing.T) {
	buf, err := NewPrioritizedReplayBuffer(4, 1, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	buf.Extend(bufferTransitions(4, 0))
	err = buf.UpdatePriorities([]int{0, 1, 2, 3}, []float64{0, 2, 2, 2})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 100; i++ {
		batch, err := buf.Sample(8)
		if err != nil {
			t.Fatal(err)
		}
		if len(batch.Weights) != 8 || len(batch.Indices) != 8 {
			t.Fatal("prioritized batch must carry weights and indices")
		}
		for j, idx := range batch.Indices {
			if idx == 0 {
				t.Fatal("zero-priority transition was sampled")
			}
			if batch.Transitions[j].StepCount != idx {
				t.Fatal("index does not match transition")
			}
			if w := batch.Weights[j]; w <= 0 || w > 1+1e-9 {
				t.Fatalf("weight out of range: %v", w)
			}
		}
	}
}

func TestPrioritizedNewEntriesSampled(t *testing.T) {
	buf, err := NewPrioritizedReplayBuffer(8, 0.6, 0.4)
	if err != nil {
		t.Fatal(err)
	}
	buf.Extend(bufferTransitions(4, 0))
	if err := buf.UpdatePriorities([]int{0, 1, 2, 3},
		[]float64{5, 5, 5, 5}); err != nil {
		t.Fatal(err)
	}

	// Fresh transitions inherit the maximum priority, so
	// they must show up in a large enough sample.
	buf.Extend(bufferTransitions(4, 4))
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		batch, err := buf.Sample(4)
		if err != nil {
			t.Fatal(err)
		}
		for _, trans := range batch.Transitions {
			seen[trans.StepCount] = true
		}
	}
	for idx := 4; idx < 8; idx++ {
		if !seen[idx] {
			t.Errorf("new transition %d never sampled", idx)
		}
	}
}

func TestUpdatePrioritiesErrors(t *testing.T) {
	uniform, _ := NewReplayBuffer(4)
	uniform.Extend(bufferTransitions(4, 0))
	if err := uniform.UpdatePriorities([]int{0}, []float64{1}); err == nil {
		t.Error("expected error on uniform buffer")
	}

	buf, _ := NewPrioritizedReplayBuffer(4, 0.6, 0.4)
	buf.Extend(bufferTransitions(4, 0))
	if err := buf.UpdatePriorities([]int{0, 1}, []float64{1}); err == nil {
		t.Error("expected error on length mismatch")
	}
	if err := buf.UpdatePriorities([]int{7}, []float64{1}); err == nil {
		t.Error("expected error on out-of-range index")
	}
	if err := buf.UpdatePriorities([]int{0}, []float64{-1}); err == nil {
		t.Error("expected error on negative priority")
	}
	if err := buf.UpdatePriorities([]int{0}, []float64{2}); err != nil {
		t.Errorf("valid update failed: %v", err)
	}
}

func TestReplayBufferConstructors(t *testing.T) {
	if _, err := NewReplayBuffer(0); err == nil {
		t.Error("expected error for zero capacity")
	}
	if _, err := NewPrioritizedReplayBuffer(4, -1, 0.4); err == nil {
		t.Error("expected error for negative alpha")
	}
	buf, err := NewPrioritizedReplayBuffer(4, 0.6, 0.4)
	if err != nil {
		t.Fatal(err)
	}
	if !buf.Prioritized() || buf.Capacity() != 4 {
		t.Error("constructor lost configuration")
	}
}
