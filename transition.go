package cqlagent

import "github.com/unixpickle/anyvec"

// A Transition is a single step of experience: the
// observation the agent saw, the action it took, the
// reward it received, and the observation that followed.
//
// Transitions are immutable once stored in a buffer.
type Transition struct {
	State     anyvec.Vector
	Action    anyvec.Vector
	Reward    float64
	NextState anyvec.Vector

	// Done indicates that NextState is terminal.
	Done bool

	// StepCount is the index of this step within its
	// episode, starting at 0.
	StepCount int
}

// toCreator returns a transition whose vectors belong to
// the creator c.
// If the vectors already belong to c, the receiver is
// returned unchanged.
func (t *Transition) toCreator(c anyvec.Creator) *Transition {
	if t.State.Creator() == c {
		return t
	}
	return &Transition{
		State:     convertVec(c, t.State),
		Action:    convertVec(c, t.Action),
		Reward:    t.Reward,
		NextState: convertVec(c, t.NextState),
		Done:      t.Done,
		StepCount: t.StepCount,
	}
}

// A Batch is an ordered, fixed-size collection of
// transitions sampled from a replay buffer.
//
// For batches drawn from a prioritized buffer, Weights
// holds per-element importance-sampling corrections and
// Indices records where each transition lives in the
// buffer so that new priorities can be written back.
// Both fields are nil for uniformly sampled batches.
type Batch struct {
	Transitions []*Transition
	Weights     []float64
	Indices     []int
}

// Len returns the number of transitions in the batch.
func (b *Batch) Len() int {
	return len(b.Transitions)
}

// Creator returns the creator that holds the batch's
// vector data.
func (b *Batch) Creator() anyvec.Creator {
	return b.Transitions[0].State.Creator()
}

// ToCreator ensures that every vector in the batch
// belongs to the creator c, converting the data if
// necessary.
// It is idempotent: a batch already on c is returned
// as-is.
func (b *Batch) ToCreator(c anyvec.Creator) *Batch {
	if b.Creator() == c {
		return b
	}
	res := &Batch{
		Transitions: make([]*Transition, len(b.Transitions)),
		Weights:     b.Weights,
		Indices:     b.Indices,
	}
	for i, t := range b.Transitions {
		res.Transitions[i] = t.toCreator(c)
	}
	return res
}

// States returns the concatenated state vectors.
func (b *Batch) States() anyvec.Vector {
	return b.concat(func(t *Transition) anyvec.Vector {
		return t.State
	})
}

// Actions returns the concatenated action vectors.
func (b *Batch) Actions() anyvec.Vector {
	return b.concat(func(t *Transition) anyvec.Vector {
		return t.Action
	})
}

// NextStates returns the concatenated next-state vectors.
func (b *Batch) NextStates() anyvec.Vector {
	return b.concat(func(t *Transition) anyvec.Vector {
		return t.NextState
	})
}

// Rewards returns the per-transition rewards.
func (b *Batch) Rewards() []float64 {
	res := make([]float64, len(b.Transitions))
	for i, t := range b.Transitions {
		res[i] = t.Reward
	}
	return res
}

// DoneMask returns a 0/1 mask with a 1 for every
// terminal transition.
func (b *Batch) DoneMask() []float64 {
	res := make([]float64, len(b.Transitions))
	for i, t := range b.Transitions {
		if t.Done {
			res[i] = 1
		}
	}
	return res
}

func (b *Batch) concat(f func(t *Transition) anyvec.Vector) anyvec.Vector {
	vecs := make([]anyvec.Vector, len(b.Transitions))
	for i, t := range b.Transitions {
		vecs[i] = f(t)
	}
	return b.Creator().Concat(vecs...)
}

func convertVec(c anyvec.Creator, v anyvec.Vector) anyvec.Vector {
	if v.Creator() == c {
		return v
	}
	return c.MakeVectorData(c.MakeNumericList(vecToFloats(v)))
}
