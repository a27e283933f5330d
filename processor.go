package bridge

import (
	"errors"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

// WorkItem is one raw DNS query handed from a transport server to the
// Processor. Respond delivers the encoded reply to the client; it is
// invoked once per item with a nil payload meaning "no reply, release the
// client" (the TCP server closes the connection, the UDP server does
// nothing). Implementations must tolerate a second call.
type WorkItem struct {
	Raw     []byte
	Client  ClientInfo
	Respond func(reply []byte)
}

// ProcessorOptions contains options for a Processor.
type ProcessorOptions struct {
	// Number of worker goroutines resolving queries concurrently. A slow
	// provider round trip stalls one worker, not the pool. Defaults to the
	// number of CPUs.
	Workers int

	// Capacity of the work queue between the transport servers and the
	// workers. When it is full, Submit fails with ErrOverloaded instead of
	// blocking the server read loops. Defaults to 256.
	QueueSize int
}

// Processor is the pipeline between the transport servers and the
// resolver: it decodes raw queries, resolves them on a fixed worker pool,
// encodes the answers and delivers them through the submitting server.
type Processor struct {
	id       string
	resolver Resolver
	opt      ProcessorOptions
	queue    chan *WorkItem
	life     *lifecycle
	wg       sync.WaitGroup

	// Serializes Submit against closing the queue in Stop.
	mu sync.Mutex
}

var _ Service = &Processor{}

// NewProcessor returns a Processor sending queries to the given resolver.
func NewProcessor(id string, resolver Resolver, opt ProcessorOptions) *Processor {
	if opt.Workers <= 0 {
		opt.Workers = runtime.NumCPU()
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	return &Processor{
		id:       id,
		resolver: resolver,
		opt:      opt,
		queue:    make(chan *WorkItem, opt.QueueSize),
		life:     newLifecycle(),
	}
}

// Start launches the worker pool. A Processor can only be started once.
func (p *Processor) Start() error {
	if !p.life.to(Starting) {
		return errors.New("processor already started")
	}
	Log.WithFields(logrus.Fields{
		"id":      p.id,
		"workers": p.opt.Workers,
		"queue":   p.opt.QueueSize,
	}).Info("starting processor")
	for i := 0; i < p.opt.Workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	p.life.to(Running)
	return nil
}

// Submit queues a raw query for resolution. It never blocks: when the
// queue is full it fails with ErrOverloaded, the backpressure signal to
// the servers. Outside the Running state it fails with ErrServiceNotRunning.
func (p *Processor) Submit(item *WorkItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.life.is(Running) {
		return ErrServiceNotRunning
	}
	select {
	case p.queue <- item:
		return nil
	default:
		return ErrOverloaded
	}
}

// Stop refuses further submissions, waits for queued and in-flight items
// to drain and releases the workers. Calling Stop again has no effect.
func (p *Processor) Stop() error {
	p.mu.Lock()
	if !p.life.to(Stopping) {
		p.mu.Unlock()
		return nil
	}
	close(p.queue)
	p.mu.Unlock()

	Log.WithField("id", p.id).Debug("waiting for pending queries to drain")
	p.wg.Wait()
	p.life.to(Terminated)
	Log.WithField("id", p.id).Info("processor stopped")
	return nil
}

// AwaitTermination blocks until the processor has fully shut down.
func (p *Processor) AwaitTermination() {
	p.life.await()
}

func (p *Processor) String() string {
	return p.id
}

// Worker loop: drains the queue until it is closed and empty.
func (p *Processor) work() {
	defer p.wg.Done()
	for item := range p.queue {
		p.handle(item)
	}
}

// handle runs one item from raw bytes to delivered reply. A panic while
// handling it is contained here so one bad request can't take down the
// worker or the pool.
func (p *Processor) handle(item *WorkItem) {
	defer func() {
		if r := recover(); r != nil {
			Log.WithFields(logrus.Fields{
				"id":     p.id,
				"client": item.Client.SourceIP,
				"panic":  r,
			}).Error("recovered from panic while handling query")
			item.Respond(nil)
		}
	}()

	q, err := DecodeQuery(item.Raw)
	if err != nil {
		var merr *MalformedMessageError
		if errors.As(err, &merr) && merr.HasId {
			// Enough of the header survived to echo the transaction id.
			if reply, perr := formerrWithId(merr.Id).Pack(); perr == nil {
				item.Respond(reply)
				return
			}
		}
		// No id to reply to, drop silently.
		Log.WithFields(logrus.Fields{
			"id":     p.id,
			"client": item.Client.SourceIP,
		}).WithError(err).Debug("dropping malformed query")
		item.Respond(nil)
		return
	}

	a, err := p.resolver.Resolve(q, item.Client)
	if err != nil {
		logger(p.id, q, item.Client).WithError(err).Error("failed to resolve")
		a = servfail(q)
	}
	if a == nil {
		// A nil response from the resolver means "drop".
		item.Respond(nil)
		return
	}

	var udpSize int
	if item.Client.Protocol == "udp" {
		udpSize = udpSizeFor(q)
	}
	reply, err := EncodeAnswer(a, udpSize)
	if err != nil {
		logger(p.id, q, item.Client).WithError(err).Error("failed to encode answer")
		item.Respond(nil)
		return
	}
	item.Respond(reply)
}
