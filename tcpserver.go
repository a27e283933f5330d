package bridge

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TCPServerOptions contains options for a TCPServer.
type TCPServerOptions struct {
	// How long a connection may take to deliver its query, and how long a
	// reply write may take. Defaults to 5s.
	Timeout time.Duration
}

// TCPServer listens for DNS queries over TCP. Each connection carries one
// exchange: a 2-byte big-endian length prefix, that many bytes of query,
// then the reply in the same framing, after which the connection is
// closed. That matches how stub resolvers use TCP after a truncated UDP
// answer.
type TCPServer struct {
	id        string
	addr      string
	processor *Processor
	opt       TCPServerOptions
	listener  net.Listener
	life      *lifecycle
	wg        sync.WaitGroup
}

var _ Service = &TCPServer{}

// NewTCPServer returns a server listening on addr, e.g. "127.0.0.1:53".
func NewTCPServer(id, addr string, processor *Processor, opt TCPServerOptions) *TCPServer {
	if opt.Timeout == 0 {
		opt.Timeout = 5 * time.Second
	}
	return &TCPServer{
		id:        id,
		addr:      addr,
		processor: processor,
		opt:       opt,
		life:      newLifecycle(),
	}
}

// Start binds the listening socket and launches the accept loop.
func (s *TCPServer) Start() error {
	if !s.life.to(Starting) {
		return errors.New("tcp server already started")
	}
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.life.to(Terminated)
		return err
	}
	s.listener = l
	Log.WithFields(logrus.Fields{
		"id":       s.id,
		"protocol": "tcp",
		"addr":     l.Addr().String(),
	}).Info("starting listener")
	s.wg.Add(1)
	go s.acceptLoop()
	s.life.to(Running)
	return nil
}

// Stop closes the listener and waits for the accept loop and any
// connections still reading their query to finish. Connections whose query
// is already with the Processor stay open until their reply is written.
func (s *TCPServer) Stop() error {
	if !s.life.to(Stopping) {
		return nil
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	s.life.to(Terminated)
	return nil
}

// AwaitTermination blocks until the server has fully shut down.
func (s *TCPServer) AwaitTermination() {
	s.life.await()
}

func (s *TCPServer) String() string {
	return s.id
}

// Addr returns the bound address, useful when listening on port 0.
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.life.is(Stopping) {
				return
			}
			Log.WithField("id", s.id).WithError(err).Error("tcp accept error")
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn reads exactly one length-prefixed DNS message off the
// connection and submits it. The reply handle writes the framed response
// and closes the connection.
func (s *TCPServer) serveConn(conn net.Conn) {
	defer s.wg.Done()
	_ = conn.SetReadDeadline(time.Now().Add(s.opt.Timeout))

	var length uint16
	if err := binary.Read(conn, binary.BigEndian, &length); err != nil {
		conn.Close()
		return
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(conn, raw); err != nil {
		Log.WithField("id", s.id).WithError(err).Debug("short tcp query read")
		conn.Close()
		return
	}

	var ip net.IP
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		ip = tcpAddr.IP
	}
	item := &WorkItem{
		Raw:     raw,
		Client:  ClientInfo{SourceIP: ip, Protocol: "tcp"},
		Respond: s.responder(conn),
	}
	if err := s.processor.Submit(item); err != nil {
		// Overloaded or shutting down: close without a reply.
		Log.WithFields(logrus.Fields{
			"id":     s.id,
			"client": ip,
		}).WithError(err).Debug("rejecting tcp query")
		conn.Close()
	}
}

func (s *TCPServer) responder(conn net.Conn) func([]byte) {
	var once sync.Once
	return func(reply []byte) {
		once.Do(func() {
			defer conn.Close()
			if reply == nil {
				return
			}
			if len(reply) > maxTCPMessageSize {
				Log.WithField("id", s.id).Error("tcp reply exceeds length prefix, dropping")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.opt.Timeout))
			framed := make([]byte, 2+len(reply))
			binary.BigEndian.PutUint16(framed, uint16(len(reply)))
			copy(framed[2:], reply)
			if _, err := conn.Write(framed); err != nil {
				Log.WithField("id", s.id).WithError(err).Debug("failed to send tcp response")
			}
		})
	}
}

// Largest message the 2-byte length prefix can frame.
const maxTCPMessageSize = 1<<16 - 1
