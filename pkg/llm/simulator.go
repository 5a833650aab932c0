package llm

import (
	"context"

	"github.com/sirupsen/logrus"
)

// SimulatedPrefix starts every simulated completion.
const SimulatedPrefix = "[SIMULATED RESPONSE] for testcase: "

type simulator struct{}

var _ Client = (*simulator)(nil)

// NewSimulator returns a Client that echoes the prompt without any
// network access.
func NewSimulator() Client {
	return &simulator{}
}

func (s *simulator) Complete(_ context.Context, req Request) (*Completion, error) {
	return &Completion{
		Content:   SimulatedPrefix + req.Prompt,
		Simulated: true,
	}, nil
}

type router struct {
	log            logrus.FieldLogger
	simulatorModel string
	simulator      Client
	remote         Client
}

var _ Client = (*router)(nil)

// NewRouter returns a Client that sends requests for simulatorModel to
// the simulator and everything else to remote.
func NewRouter(
	log logrus.FieldLogger,
	simulatorModel string,
	remote Client,
) Client {
	return &router{
		log:            log.WithField("component", "llm-router"),
		simulatorModel: simulatorModel,
		simulator:      NewSimulator(),
		remote:         remote,
	}
}

func (r *router) Complete(ctx context.Context, req Request) (*Completion, error) {
	if r.simulatorModel != "" && req.Model == r.simulatorModel {
		r.log.WithField("model", req.Model).Debug("Using offline simulator")

		return r.simulator.Complete(ctx, req)
	}

	return r.remote.Complete(ctx, req)
}
