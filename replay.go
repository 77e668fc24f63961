package cqlagent

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// ErrBufferEmpty is returned by Sample when the buffer
// does not hold enough transitions.
var ErrBufferEmpty = errors.New("not enough transitions in buffer")

// A ReplayBuffer is a capacity-bounded store of
// transitions with FIFO eviction.
//
// Sampling is uniform by default.
// A prioritized buffer draws each transition with
// probability proportional to priority^alpha and returns
// importance-sampling correction weights along with the
// indices of the drawn transitions.
//
// The buffer is a single-owner resource: Extend, Sample,
// and UpdatePriorities must not be interleaved from
// multiple goroutines without external synchronization.
// A mutex still guards the storage so that read-only
// inspection (Len) is safe from other goroutines.
type ReplayBuffer struct {
	mu sync.Mutex

	capacity    int
	prioritized bool
	alpha       float64
	beta        float64
	rng         *rand.Rand

	transitions []*Transition
	priorities  []float64
	cursor      int
	maxPriority float64
}

// NewReplayBuffer creates a uniformly-sampled buffer.
func NewReplayBuffer(capacity int) (*ReplayBuffer, error) {
	if capacity <= 0 {
		return nil, errors.New("new replay buffer: capacity must be positive")
	}
	return &ReplayBuffer{
		capacity:    capacity,
		rng:         rand.New(rand.NewSource(rand.Int63())),
		transitions: make([]*Transition, 0, capacity),
		maxPriority: 1,
	}, nil
}

// NewPrioritizedReplayBuffer creates a buffer that samples
// proportionally to priority^alpha and corrects with
// importance weights raised to beta.
func NewPrioritizedReplayBuffer(capacity int, alpha, beta float64) (*ReplayBuffer, error) {
	if capacity <= 0 {
		return nil, errors.New("new replay buffer: capacity must be positive")
	}
	if alpha < 0 || beta < 0 {
		return nil, errors.New("new replay buffer: alpha and beta must be non-negative")
	}
	res, _ := NewReplayBuffer(capacity)
	res.prioritized = true
	res.alpha = alpha
	res.beta = beta
	res.priorities = make([]float64, 0, capacity)
	return res, nil
}

// Len returns the number of stored transitions.
func (r *ReplayBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transitions)
}

// Capacity returns the configured capacity.
func (r *ReplayBuffer) Capacity() int {
	return r.capacity
}

// Prioritized reports whether the buffer uses
// priority-weighted sampling.
func (r *ReplayBuffer) Prioritized() bool {
	return r.prioritized
}

// Extend appends the transitions, evicting the oldest
// entries once the capacity is reached.
// After any sequence of Extend calls, the buffer holds
// exactly the most recent Capacity() transitions.
//
// New transitions receive the maximum priority seen so
// far, so that they are sampled at least once before
// their priority is corrected.
func (r *ReplayBuffer) Extend(ts []*Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range ts {
		if len(r.transitions) < r.capacity {
			r.transitions = append(r.transitions, t)
			if r.prioritized {
				r.priorities = append(r.priorities, r.maxPriority)
			}
		} else {
			r.transitions[r.cursor] = t
			if r.prioritized {
				r.priorities[r.cursor] = r.maxPriority
			}
			r.cursor = (r.cursor + 1) % r.capacity
		}
	}
}

// Sample draws exactly n transitions.
//
// For a prioritized buffer, the resulting batch carries
// the source index and importance weight of every drawn
// transition; the indices remain valid for a single
// matching UpdatePriorities call.
func (r *ReplayBuffer) Sample(n int) (*Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 {
		return nil, errors.New("sample: batch size must be positive")
	}
	if len(r.transitions) == 0 {
		return nil, ErrBufferEmpty
	}
	if r.prioritized {
		return r.samplePrioritized(n)
	}
	res := &Batch{Transitions: make([]*Transition, n)}
	for i := range res.Transitions {
		res.Transitions[i] = r.transitions[r.rng.Intn(len(r.transitions))]
	}
	return res, nil
}

func (r *ReplayBuffer) samplePrioritized(n int) (*Batch, error) {
	cum := make([]float64, len(r.priorities))
	var total float64
	for i, p := range r.priorities {
		total += math.Pow(p, r.alpha)
		cum[i] = total
	}
	if total <= 0 {
		return nil, errors.New("sample: all priorities are zero")
	}

	res := &Batch{
		Transitions: make([]*Transition, n),
		Weights:     make([]float64, n),
		Indices:     make([]int, n),
	}

	// The importance weights are normalized by the largest
	// possible weight, which belongs to the least likely
	// transition.
	minProb := math.Inf(1)
	for _, p := range r.priorities {
		prob := math.Pow(p, r.alpha) / total
		if prob > 0 && prob < minProb {
			minProb = prob
		}
	}
	count := float64(len(r.transitions))
	maxWeight := math.Pow(count*minProb, -r.beta)

	for i := 0; i < n; i++ {
		x := r.rng.Float64() * total
		idx := sort.SearchFloat64s(cum, x)
		if idx >= len(cum) {
			idx = len(cum) - 1
		}
		prob := math.Pow(r.priorities[idx], r.alpha) / total
		res.Transitions[i] = r.transitions[idx]
		res.Indices[i] = idx
		res.Weights[i] = math.Pow(count*prob, -r.beta) / maxWeight
	}
	return res, nil
}

// UpdatePriorities writes new priorities for the given
// buffer indices, typically the indices of the most
// recently sampled batch paired with a TD-error-derived
// signal.
//
// It is an error to call this on a uniform buffer, to
// pass mismatched slices, or to pass negative priorities.
func (r *ReplayBuffer) UpdatePriorities(indices []int, priorities []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.prioritized {
		return errors.New("update priorities: buffer is not prioritized")
	}
	if len(indices) != len(priorities) {
		return errors.New("update priorities: index/priority length mismatch")
	}
	for i, idx := range indices {
		if idx < 0 || idx >= len(r.transitions) {
			return errors.New("update priorities: index out of range")
		}
		if priorities[i] < 0 || math.IsNaN(priorities[i]) {
			return errors.New("update priorities: priority must be non-negative")
		}
	}
	for i, idx := range indices {
		r.priorities[idx] = priorities[i]
		if priorities[i] > r.maxPriority {
			r.maxPriority = priorities[i]
		}
	}
	return nil
}
