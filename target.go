package cqlagent

// A TargetUpdater advances the target critic parameters
// toward the current critic parameters.
//
// With Tau > 0, every Step performs the exponential blend
// target = tau*current + (1-tau)*target.
// With Tau == 0, every Every-th Step performs a hard
// copy.
//
// Target parameters change through Step and nowhere else;
// a Step never fails and is safe to call any number of
// times.
type TargetUpdater struct {
	Agent *Agent

	Tau   float64
	Every int

	steps int
}

// Step performs one synchronization advance.
func (t *TargetUpdater) Step() {
	t.steps++
	if t.Tau > 0 {
		t.blend(t.Tau)
		return
	}
	every := t.Every
	if every <= 0 {
		every = 1
	}
	if t.steps%every == 0 {
		t.blend(1)
	}
}

func (t *TargetUpdater) blend(tau float64) {
	current := t.Agent.CriticParams()
	targets := t.Agent.TargetParams()
	for i, target := range targets {
		src := vecToFloats(current[i].Vector)
		dst := vecToFloats(target.Vector)
		blended := make([]float64, len(dst))
		for j := range blended {
			blended[j] = tau*src[j] + (1-tau)*dst[j]
		}
		setVecFloats(target.Vector, blended)
	}
}
