package bridge

import (
	"errors"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Datagrams larger than this are cut off on read. Queries are small; EDNS0
// allows for bigger ones but 4k covers anything a client will send.
const udpReadBufferSize = 4096

// UDPServer listens for DNS queries on a UDP socket and submits them to a
// Processor. Replies are sent as single datagrams to the source address.
// The read loop never blocks on resolution, so the socket keeps draining
// while queries are in flight.
type UDPServer struct {
	id        string
	addr      string
	processor *Processor
	conn      *net.UDPConn
	life      *lifecycle
	wg        sync.WaitGroup
}

var _ Service = &UDPServer{}

// NewUDPServer returns a server listening on addr, e.g. "127.0.0.1:53".
func NewUDPServer(id, addr string, processor *Processor) *UDPServer {
	return &UDPServer{
		id:        id,
		addr:      addr,
		processor: processor,
		life:      newLifecycle(),
	}
}

// Start binds the socket and launches the read loop.
func (s *UDPServer) Start() error {
	if !s.life.to(Starting) {
		return errors.New("udp server already started")
	}
	laddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		s.life.to(Terminated)
		return err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		s.life.to(Terminated)
		return err
	}
	s.conn = conn
	Log.WithFields(logrus.Fields{
		"id":       s.id,
		"protocol": "udp",
		"addr":     conn.LocalAddr().String(),
	}).Info("starting listener")
	s.wg.Add(1)
	go s.readLoop()
	s.life.to(Running)
	return nil
}

// Stop closes the socket and waits for the read loop to exit. Queries
// already handed to the Processor still run to completion; their replies
// are dropped if they arrive after the socket is gone, which over UDP the
// client treats as ordinary loss.
func (s *UDPServer) Stop() error {
	if !s.life.to(Stopping) {
		return nil
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
	s.life.to(Terminated)
	return nil
}

// AwaitTermination blocks until the server has fully shut down.
func (s *UDPServer) AwaitTermination() {
	s.life.await()
}

func (s *UDPServer) String() string {
	return s.id
}

// Addr returns the bound address, useful when listening on port 0.
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *UDPServer) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, udpReadBufferSize)
	for {
		n, raddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.life.is(Stopping) {
				return
			}
			Log.WithField("id", s.id).WithError(err).Error("udp read error")
			continue
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])

		item := &WorkItem{
			Raw:     raw,
			Client:  ClientInfo{SourceIP: raddr.IP, Protocol: "udp"},
			Respond: s.responder(raddr),
		}
		if err := s.processor.Submit(item); err != nil {
			// Lossy transport: drop and let the client time out and retry.
			Log.WithFields(logrus.Fields{
				"id":     s.id,
				"client": raddr.IP,
			}).WithError(err).Debug("dropping udp query")
		}
	}
}

func (s *UDPServer) responder(raddr *net.UDPAddr) func([]byte) {
	var once sync.Once
	return func(reply []byte) {
		once.Do(func() {
			if reply == nil {
				return
			}
			if _, err := s.conn.WriteToUDP(reply, raddr); err != nil {
				Log.WithFields(logrus.Fields{
					"id":     s.id,
					"client": raddr.IP,
				}).WithError(err).Debug("failed to send udp response")
			}
		})
	}
}
