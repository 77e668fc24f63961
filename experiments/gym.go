package experiments

import (
	"github.com/unixpickle/anyrl"
	"github.com/unixpickle/anyvec"
	gym "github.com/unixpickle/gym-socket-api/binding-go"
)

// NewGymEnv connects to a gym-socket-api server and wraps
// the environment for the collector.
func NewGymEnv(c anyvec.Creator, f *Flags) (Env, error) {
	client, err := gym.Make(f.GymHost, f.Name)
	if err != nil {
		return nil, err
	}
	if f.RecordDir != "" {
		if err := client.Monitor(f.RecordDir, false, false, false); err != nil {
			client.Close()
			return nil, err
		}
	}
	env, err := anyrl.GymEnv(c, client, false)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &gymEnv{Env: env, client: client}, nil
}

type gymEnv struct {
	anyrl.Env
	client gym.Env
	closed bool
}

func (g *gymEnv) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	return g.client.Close()
}
