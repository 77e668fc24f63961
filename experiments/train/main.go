// Command train runs the online conservative Q-learning
// loop against the built-in cart-pole environment or a
// gym-socket-api server.
package main

import (
	"flag"
	"log"

	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/cqlagent"
	"github.com/unixpickle/cqlagent/experiments"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/rip"
)

func main() {
	flags := &experiments.Flags{}
	flags.AddFlags()
	flag.Parse()

	cfg := flags.Config()
	if err := cfg.Validate(); err != nil {
		essentials.Die(err)
	}

	creator := anyvec32.CurrentCreator()

	obsDim := flags.ObsDim
	actionDim := flags.ActionDim
	envs := make([]experiments.Env, flags.NumEnvs)
	var evalEnv experiments.Env
	if flags.GymHost == "" {
		for i := range envs {
			envs[i] = experiments.NewCartPole(creator, nil)
		}
		evalEnv = experiments.NewCartPole(creator, nil)
		obsDim = envs[0].(*experiments.CartPole).ObsDim()
		actionDim = envs[0].(*experiments.CartPole).ActionDim()
	} else {
		if obsDim <= 0 || actionDim <= 0 {
			essentials.Die("gym environments require -obsdim and -actdim")
		}
		for i := range envs {
			env, err := experiments.NewGymEnv(creator, flags)
			if err != nil {
				experiments.CloseEnvs(envs[:i])
				essentials.Die(err)
			}
			envs[i] = env
		}
		env, err := experiments.NewGymEnv(creator, flags)
		if err != nil {
			experiments.CloseEnvs(envs)
			essentials.Die(err)
		}
		evalEnv = env
	}

	agent, err := cqlagent.NewAgent(creator, obsDim, actionDim, flags.Hidden,
		flags.Lagrange)
	if err != nil {
		essentials.Die(err)
	}

	var logger cqlagent.Logger = experiments.LogPrinter{}
	if flags.MetricsFile != "" {
		csvLogger, err := experiments.NewCSVLogger(flags.MetricsFile)
		if err != nil {
			essentials.Die(err)
		}
		defer csvLogger.Close()
		logger = csvLogger
	}

	trainer, err := cqlagent.NewTrainer(cfg, agent,
		experiments.AsAnyrlEnvs(envs), evalEnv, logger)
	if err != nil {
		essentials.Die(err)
	}
	defer trainer.Close()

	errChan := make(chan error, 1)
	go func() {
		errChan <- trainer.Run()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			essentials.Die(err)
		}
	case <-rip.NewRIP().Chan():
		log.Println("interrupted; shutting down")
	}
}
