package experiments

import (
	"math"
	"math/rand"

	"github.com/unixpickle/anyvec"
)

const (
	cartGravity    = 9.81
	cartMass       = 1.0
	poleMass       = 0.1
	poleLength     = 0.5
	totalMass      = cartMass + poleMass
	poleMassLength = poleMass * poleLength
	forceMax       = 10.0
	timeDelta      = 0.02

	xThreshold     = 2.4
	thetaThreshold = 12.0 * math.Pi / 180.0
	cartMaxSteps   = 500
)

// CartPole is a continuous-force cart-pole balancing
// environment.
//
// Observations are [x, xDot, theta, thetaDot]; the action
// is a single value in [-1, 1], scaled to the applied
// force.
// The episode ends when the pole falls, the cart leaves
// the track, or 500 steps elapse.
type CartPole struct {
	Creator anyvec.Creator
	Rand    *rand.Rand

	x        float64
	xDot     float64
	theta    float64
	thetaDot float64
	steps    int
	closed   bool
}

// NewCartPole creates a cart-pole environment.
// If rng is nil, a time-seeded source is used.
func NewCartPole(c anyvec.Creator, rng *rand.Rand) *CartPole {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &CartPole{Creator: c, Rand: rng}
}

// ObsDim returns the observation dimensionality.
func (c *CartPole) ObsDim() int {
	return 4
}

// ActionDim returns the action dimensionality.
func (c *CartPole) ActionDim() int {
	return 1
}

// Reset randomizes the state and returns the first
// observation.
func (c *CartPole) Reset() (anyvec.Vector, error) {
	c.x = c.Rand.Float64()*0.1 - 0.05
	c.xDot = c.Rand.Float64()*0.1 - 0.05
	c.theta = c.Rand.Float64()*0.1 - 0.05
	c.thetaDot = c.Rand.Float64()*0.1 - 0.05
	c.steps = 0
	return c.observation(), nil
}

// Step advances the physics by one tick.
func (c *CartPole) Step(action anyvec.Vector) (anyvec.Vector, float64,
	bool, error) {
	var force float64
	switch data := action.Data().(type) {
	case []float64:
		force = data[0]
	case []float32:
		force = float64(data[0])
	}
	if force < -1 {
		force = -1
	} else if force > 1 {
		force = 1
	}
	force *= forceMax

	cosTheta := math.Cos(c.theta)
	sinTheta := math.Sin(c.theta)

	temp := (force + poleMassLength*c.thetaDot*c.thetaDot*sinTheta) / totalMass
	thetaAcc := (cartGravity*sinTheta - cosTheta*temp) /
		(poleLength * (4.0/3.0 - poleMass*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	c.x += timeDelta * c.xDot
	c.xDot += timeDelta * xAcc
	c.theta += timeDelta * c.thetaDot
	c.thetaDot += timeDelta * thetaAcc
	c.steps++

	done := c.x < -xThreshold || c.x > xThreshold ||
		c.theta < -thetaThreshold || c.theta > thetaThreshold ||
		c.steps >= cartMaxSteps
	reward := 1.0
	if done && c.steps < cartMaxSteps {
		reward = 0.0
	}
	return c.observation(), reward, done, nil
}

// Close is a no-op provided so that CartPole satisfies
// Env.
func (c *CartPole) Close() error {
	c.closed = true
	return nil
}

func (c *CartPole) observation() anyvec.Vector {
	data := []float64{c.x, c.xDot, c.theta, c.thetaDot}
	return c.Creator.MakeVectorData(c.Creator.MakeNumericList(data))
}
