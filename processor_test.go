package bridge

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// testResolver runs a function in place of the HTTPS exchange.
type testResolver struct {
	fn func(*dns.Msg, ClientInfo) (*dns.Msg, error)
}

func (r *testResolver) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	return r.fn(q, ci)
}

func (r *testResolver) String() string {
	return "test-resolver"
}

func staticResolver(rcode int) *testResolver {
	return &testResolver{fn: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
		return responseWithCode(q, rcode), nil
	}}
}

func packedQuery(t *testing.T, id uint16) []byte {
	t.Helper()
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	q.Id = id
	raw, err := q.Pack()
	require.NoError(t, err)
	return raw
}

// Submit an item and wait for its reply. A nil reply means the item was
// dropped without a response.
func submitAndWait(t *testing.T, p *Processor, raw []byte) []byte {
	t.Helper()
	replies := make(chan []byte, 1)
	err := p.Submit(&WorkItem{
		Raw:     raw,
		Client:  ClientInfo{Protocol: "udp"},
		Respond: func(reply []byte) { replies <- reply },
	})
	require.NoError(t, err)
	select {
	case reply := <-replies:
		return reply
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reply")
		return nil
	}
}

func TestProcessorResolvesQuery(t *testing.T) {
	p := NewProcessor("proc", staticResolver(dns.RcodeSuccess), ProcessorOptions{})
	require.NoError(t, p.Start())
	defer p.Stop()

	reply := submitAndWait(t, p, packedQuery(t, 0x1234))
	require.NotNil(t, reply)

	a := new(dns.Msg)
	require.NoError(t, a.Unpack(reply))
	require.Equal(t, uint16(0x1234), a.Id)
	require.True(t, a.Response)
	require.Equal(t, dns.RcodeSuccess, a.Rcode)
}

func TestProcessorRepliesFormerrWhenIdRecoverable(t *testing.T) {
	p := NewProcessor("proc", staticResolver(dns.RcodeSuccess), ProcessorOptions{})
	require.NoError(t, p.Start())
	defer p.Stop()

	reply := submitAndWait(t, p, []byte{0x56, 0x78, 0xff})
	require.NotNil(t, reply)

	a := new(dns.Msg)
	require.NoError(t, a.Unpack(reply))
	require.Equal(t, uint16(0x5678), a.Id)
	require.Equal(t, dns.RcodeFormatError, a.Rcode)
}

func TestProcessorDropsWhenIdUnrecoverable(t *testing.T) {
	p := NewProcessor("proc", staticResolver(dns.RcodeSuccess), ProcessorOptions{})
	require.NoError(t, p.Start())
	defer p.Stop()

	reply := submitAndWait(t, p, []byte{0x01})
	require.Nil(t, reply)
}

func TestProcessorServfailOnResolverError(t *testing.T) {
	r := &testResolver{fn: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
		return nil, &QueryTimeoutError{}
	}}
	p := NewProcessor("proc", r, ProcessorOptions{})
	require.NoError(t, p.Start())
	defer p.Stop()

	reply := submitAndWait(t, p, packedQuery(t, 0x9999))
	require.NotNil(t, reply)

	a := new(dns.Msg)
	require.NoError(t, a.Unpack(reply))
	require.Equal(t, uint16(0x9999), a.Id)
	require.Equal(t, dns.RcodeServerFailure, a.Rcode)
}

func TestProcessorSubmitBeforeStart(t *testing.T) {
	p := NewProcessor("proc", staticResolver(dns.RcodeSuccess), ProcessorOptions{})
	err := p.Submit(&WorkItem{Raw: packedQuery(t, 1), Respond: func([]byte) {}})
	require.Equal(t, ErrServiceNotRunning, err)
}

func TestProcessorBackpressure(t *testing.T) {
	started := make(chan struct{}, 3)
	release := make(chan struct{})
	r := &testResolver{fn: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
		started <- struct{}{}
		<-release
		return responseWithCode(q, dns.RcodeSuccess), nil
	}}
	p := NewProcessor("proc", r, ProcessorOptions{Workers: 1, QueueSize: 1})
	require.NoError(t, p.Start())

	replies := make(chan []byte, 3)
	item := func() *WorkItem {
		return &WorkItem{
			Raw:     packedQuery(t, 1),
			Client:  ClientInfo{Protocol: "udp"},
			Respond: func(reply []byte) { replies <- reply },
		}
	}

	// First item occupies the only worker...
	require.NoError(t, p.Submit(item()))
	<-started
	// ...the second fills the queue...
	require.NoError(t, p.Submit(item()))
	// ...and the third must be refused, not queued or blocked on.
	require.Equal(t, ErrOverloaded, p.Submit(item()))

	close(release)
	require.NoError(t, p.Stop())

	// Both accepted items were answered despite the shutdown.
	require.Len(t, replies, 2)
}

func TestProcessorStopDrains(t *testing.T) {
	resolved := make(chan struct{}, 16)
	r := &testResolver{fn: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
		time.Sleep(10 * time.Millisecond)
		resolved <- struct{}{}
		return responseWithCode(q, dns.RcodeSuccess), nil
	}}
	p := NewProcessor("proc", r, ProcessorOptions{Workers: 2, QueueSize: 16})
	require.NoError(t, p.Start())

	replies := make(chan []byte, 8)
	for i := 0; i < 8; i++ {
		require.NoError(t, p.Submit(&WorkItem{
			Raw:     packedQuery(t, uint16(i)),
			Client:  ClientInfo{Protocol: "udp"},
			Respond: func(reply []byte) { replies <- reply },
		}))
	}

	require.NoError(t, p.Stop())
	p.AwaitTermination()

	// Everything queued before Stop was resolved and answered.
	require.Len(t, resolved, 8)
	require.Len(t, replies, 8)

	// And nothing can be submitted anymore.
	err := p.Submit(&WorkItem{Raw: packedQuery(t, 9), Respond: func([]byte) {}})
	require.Equal(t, ErrServiceNotRunning, err)
}

func TestProcessorStopIdempotent(t *testing.T) {
	p := NewProcessor("proc", staticResolver(dns.RcodeSuccess), ProcessorOptions{})
	require.NoError(t, p.Start())
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
	p.AwaitTermination()
}

func TestProcessorStartTwice(t *testing.T) {
	p := NewProcessor("proc", staticResolver(dns.RcodeSuccess), ProcessorOptions{})
	require.NoError(t, p.Start())
	require.Error(t, p.Start())
	require.NoError(t, p.Stop())
}

// A panicking resolver must not take down the worker: the item is released
// without a reply and the pool keeps serving.
func TestProcessorContainsPanics(t *testing.T) {
	r := &testResolver{fn: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
		if qName(q) == "panic.example.com." {
			panic("boom")
		}
		return responseWithCode(q, dns.RcodeSuccess), nil
	}}
	p := NewProcessor("proc", r, ProcessorOptions{Workers: 1})
	require.NoError(t, p.Start())
	defer p.Stop()

	bad := new(dns.Msg)
	bad.SetQuestion("panic.example.com.", dns.TypeA)
	rawBad, err := bad.Pack()
	require.NoError(t, err)

	reply := submitAndWait(t, p, rawBad)
	require.Nil(t, reply)

	// The same (only) worker still handles the next query.
	reply = submitAndWait(t, p, packedQuery(t, 0x2222))
	require.NotNil(t, reply)
	a := new(dns.Msg)
	require.NoError(t, a.Unpack(reply))
	require.Equal(t, uint16(0x2222), a.Id)
}
