package experiments

import (
	"io"

	"github.com/unixpickle/anyrl"
)

// Env is an environment with a Close() method for
// releasing the environment's resources.
// Closing twice is a no-op.
type Env interface {
	io.Closer
	anyrl.Env
}

// CloseEnvs closes every environment in the list.
func CloseEnvs(envs []Env) {
	for _, e := range envs {
		e.Close()
	}
}

// AsAnyrlEnvs converts a list of closable environments to
// the interface the collector consumes.
func AsAnyrlEnvs(envs []Env) []anyrl.Env {
	res := make([]anyrl.Env, len(envs))
	for i, e := range envs {
		res[i] = e
	}
	return res
}
