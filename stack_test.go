package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeService struct {
	id      string
	failing bool
	events  *[]string
	life    *lifecycle
}

func newFakeService(id string, events *[]string) *fakeService {
	return &fakeService{id: id, events: events, life: newLifecycle()}
}

func (s *fakeService) Start() error {
	if !s.life.to(Starting) {
		return errors.New("already started")
	}
	if s.failing {
		s.life.to(Terminated)
		return errors.New("start failed")
	}
	*s.events = append(*s.events, "start "+s.id)
	s.life.to(Running)
	return nil
}

func (s *fakeService) Stop() error {
	if s.life.to(Stopping) {
		*s.events = append(*s.events, "stop "+s.id)
	}
	s.life.to(Terminated)
	return nil
}

func (s *fakeService) AwaitTermination() { s.life.await() }

func (s *fakeService) String() string { return s.id }

func TestStackStartStopOrder(t *testing.T) {
	var events []string
	a := newFakeService("a", &events)
	b := newFakeService("b", &events)
	c := newFakeService("c", &events)

	stack := NewStack(a, b, c)
	require.NoError(t, stack.Start())
	stack.Stop()
	stack.AwaitTermination()

	// Started front to back, stopped back to front.
	require.Equal(t, []string{
		"start a", "start b", "start c",
		"stop c", "stop b", "stop a",
	}, events)
}

func TestStackStartFailureRollsBack(t *testing.T) {
	var events []string
	a := newFakeService("a", &events)
	b := newFakeService("b", &events)
	b.failing = true
	c := newFakeService("c", &events)

	stack := NewStack(a, b, c)
	require.Error(t, stack.Start())

	// Only a got started, and the failure stopped it again. c was never
	// touched.
	require.Equal(t, []string{"start a", "stop a"}, events)
}

func TestLifecycleTransitions(t *testing.T) {
	l := newLifecycle()
	require.Equal(t, Created, l.current())

	require.True(t, l.to(Starting))
	require.True(t, l.to(Running))
	require.True(t, l.is(Running))

	// Transitions only move forward.
	require.False(t, l.to(Starting))
	require.False(t, l.to(Running))

	require.True(t, l.to(Stopping))
	require.True(t, l.to(Terminated))
	require.False(t, l.to(Stopping))

	// await returns immediately once terminated.
	l.await()
}

func TestLifecycleSkipsStates(t *testing.T) {
	// A service that fails to start jumps straight to Terminated.
	l := newLifecycle()
	require.True(t, l.to(Starting))
	require.True(t, l.to(Terminated))
	require.False(t, l.to(Running))
	l.await()
}

func TestServiceStateString(t *testing.T) {
	require.Equal(t, "created", Created.String())
	require.Equal(t, "starting", Starting.String())
	require.Equal(t, "running", Running.String())
	require.Equal(t, "stopping", Stopping.String())
	require.Equal(t, "terminated", Terminated.String())
}
