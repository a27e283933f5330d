package bridge

import (
	"fmt"
	"sync"
)

// ServiceState is the lifecycle state of a Processor or server. States
// only ever advance, none is revisited.
type ServiceState int

const (
	Created ServiceState = iota
	Starting
	Running
	Stopping
	Terminated
)

func (s ServiceState) String() string {
	switch s {
	case Created:
		return "created"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Service is the lifecycle contract shared by the Processor and the
// transport servers. Start may only be called once. Stop is idempotent and
// initiates shutdown; AwaitTermination blocks until shutdown has fully
// completed and no work is left in flight.
type Service interface {
	Start() error
	Stop() error
	AwaitTermination()
	fmt.Stringer
}

// lifecycle tracks the state of a service. Transitions are monotonic: a
// transition to a state that doesn't advance the current one is refused.
type lifecycle struct {
	mu         sync.Mutex
	state      ServiceState
	terminated chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{terminated: make(chan struct{})}
}

// to advances to the given state. Returns false without effect when the
// service is already at or past it.
func (l *lifecycle) to(next ServiceState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if next <= l.state {
		return false
	}
	l.state = next
	if next == Terminated {
		close(l.terminated)
	}
	return true
}

func (l *lifecycle) is(s ServiceState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == s
}

func (l *lifecycle) current() ServiceState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// await blocks until the service reaches Terminated.
func (l *lifecycle) await() {
	<-l.terminated
}
