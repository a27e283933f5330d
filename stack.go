package bridge

import (
	"github.com/pkg/errors"
)

// Stack starts a set of services in dependency order and stops them in
// reverse. The Processor goes first so the servers never submit into a
// service that isn't running; on shutdown the servers stop reading before
// the Processor drains what's left.
type Stack struct {
	services []Service
}

// NewStack returns a Stack over the given services, in start order.
func NewStack(services ...Service) *Stack {
	return &Stack{services: services}
}

// Start starts every service in order. If one fails, the ones already
// running are stopped again and the error returned.
func (s *Stack) Start() error {
	for i, svc := range s.services {
		if err := svc.Start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = s.services[j].Stop()
				s.services[j].AwaitTermination()
			}
			return errors.Wrapf(err, "failed to start %s", svc)
		}
	}
	return nil
}

// Stop stops every service in reverse start order, waiting for each to
// terminate before moving to the next.
func (s *Stack) Stop() {
	for i := len(s.services) - 1; i >= 0; i-- {
		svc := s.services[i]
		Log.WithField("service", svc.String()).Info("stopping service")
		_ = svc.Stop()
		svc.AwaitTermination()
	}
}

// AwaitTermination blocks until every service in the stack has terminated.
func (s *Stack) AwaitTermination() {
	for _, svc := range s.services {
		svc.AwaitTermination()
	}
}
