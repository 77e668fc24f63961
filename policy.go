package cqlagent

import (
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

const (
	minLogStd = -20
	maxLogStd = 2

	// Added inside the log of the tanh squash correction
	// to keep log-probabilities finite at saturation.
	squashEpsilon = 1e-6
)

// A TanhGaussian is a continuous action space.
//
// Action parameters are laid out per sample as the mean
// followed by the log standard deviation of a diagonal
// Gaussian, whose samples are squashed by tanh into
// (-1, 1)^ActionDim.
//
// It implements anyrl.Sampler for exploration rollouts.
// Deterministic evaluation uses Deterministic, never an
// ambient mode switch.
type TanhGaussian struct {
	// ActionDim is the dimensionality of an action.
	ActionDim int

	// Rand is the sampling source.
	// If nil, the global source is used.
	Rand *rand.Rand
}

// ParamSize returns the number of parameters the policy
// network must output per sample.
func (t *TanhGaussian) ParamSize() int {
	return t.ActionDim * 2
}

// Sample draws one stochastic action per sample.
// It implements anyrl.Sampler.
func (t *TanhGaussian) Sample(params anyvec.Vector, batchSize int) anyvec.Vector {
	comps := vecToFloats(params)
	d := t.ActionDim
	out := make([]float64, batchSize*d)
	for i := 0; i < batchSize; i++ {
		row := comps[i*2*d : (i+1)*2*d]
		for j := 0; j < d; j++ {
			std := math.Exp(clamp(row[d+j], minLogStd, maxLogStd))
			out[i*d+j] = math.Tanh(row[j] + std*t.normFloat64())
		}
	}
	c := params.Creator()
	return c.MakeVectorData(c.MakeNumericList(out))
}

// Deterministic returns the mode of each action
// distribution: tanh of the Gaussian mean.
func (t *TanhGaussian) Deterministic(params anyvec.Vector, batchSize int) anyvec.Vector {
	comps := vecToFloats(params)
	d := t.ActionDim
	out := make([]float64, batchSize*d)
	for i := 0; i < batchSize; i++ {
		for j := 0; j < d; j++ {
			out[i*d+j] = math.Tanh(comps[i*2*d+j])
		}
	}
	c := params.Creator()
	return c.MakeVectorData(c.MakeNumericList(out))
}

// SampleDiff draws one reparameterized action per sample
// and returns the actions along with their
// log-probabilities.
//
// Gradients flow from both results into params.
func (t *TanhGaussian) SampleDiff(params anydiff.Res, n int) (actions, logProbs anydiff.Res) {
	return t.SampleDiffN(params, n, 1)
}

// SampleDiffN draws k reparameterized actions per sample.
//
// The actions result has n*k*ActionDim components with
// the k actions of each sample stored contiguously; the
// logProbs result has n*k components in the same order.
func (t *TanhGaussian) SampleDiffN(params anydiff.Res, n, k int) (actions, logProbs anydiff.Res) {
	c := params.Output().Creator()
	d := t.ActionDim

	var actParts []anydiff.Res
	var logParts []anydiff.Res
	for i := 0; i < n; i++ {
		mean := anydiff.Slice(params, i*2*d, i*2*d+d)
		logStd := anydiff.ClipRange(anydiff.Slice(params, i*2*d+d, (i+1)*2*d),
			c.MakeNumeric(float64(minLogStd)), c.MakeNumeric(float64(maxLogStd)))
		std := anydiff.Exp(logStd)
		for j := 0; j < k; j++ {
			noise := make([]float64, d)
			var noiseSq float64
			for l := range noise {
				noise[l] = t.normFloat64()
				noiseSq += noise[l] * noise[l]
			}
			noiseConst := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(noise)))

			pre := anydiff.Add(mean, anydiff.Mul(std, noiseConst))
			act := anydiff.Tanh(pre)
			actParts = append(actParts, act)

			// Diagonal Gaussian density of the pre-squash
			// sample, then the tanh change-of-variables
			// correction.
			gaussLP := anydiff.Scale(anydiff.Sum(logStd), c.MakeNumeric(-1.0))
			gaussLP = anydiff.Add(gaussLP, anydiff.NewConst(c.MakeVectorData(
				c.MakeNumericList([]float64{
					-0.5*noiseSq - 0.5*float64(d)*math.Log(2*math.Pi),
				}))))
			ones := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(
				repeatFloat(1+squashEpsilon, d))))
			squash := anydiff.Sum(anydiff.Log(anydiff.Sub(ones, anydiff.Square(act))))
			logParts = append(logParts, anydiff.Sub(gaussLP, squash))
		}
	}
	return anydiff.Concat(actParts...), anydiff.Concat(logParts...)
}

// UniformActions draws n*k actions uniformly from the
// action cube, for use as negative samples.
func (t *TanhGaussian) UniformActions(c anyvec.Creator, n, k int) anyvec.Vector {
	out := make([]float64, n*k*t.ActionDim)
	for i := range out {
		out[i] = t.uniformFloat64()*2 - 1
	}
	return c.MakeVectorData(c.MakeNumericList(out))
}

// UniformLogProb returns the log-density of a single
// uniformly drawn action.
func (t *TanhGaussian) UniformLogProb() float64 {
	return -float64(t.ActionDim) * math.Log(2)
}

func (t *TanhGaussian) normFloat64() float64 {
	if t.Rand != nil {
		return t.Rand.NormFloat64()
	}
	return rand.NormFloat64()
}

func (t *TanhGaussian) uniformFloat64() float64 {
	if t.Rand != nil {
		return t.Rand.Float64()
	}
	return rand.Float64()
}

func clamp(x, min, max float64) float64 {
	if x < min {
		return min
	} else if x > max {
		return max
	}
	return x
}

func repeatFloat(x float64, n int) []float64 {
	res := make([]float64, n)
	for i := range res {
		res[i] = x
	}
	return res
}
