package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"runtime"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/shroudns/shroudns/internal/bus"
	"github.com/shroudns/shroudns/internal/pool"
)

// udpDatagramSize is the buffer size used for inbound datagrams, per the
// plain-DNS UDP message size ceiling.
const udpDatagramSize = 512

// udpOrigin is what the egress task needs to restore and deliver a reply:
// the client's original transaction ID and its address.
type udpOrigin struct {
	id   uint16
	addr netip.AddrPort
}

var udpBufferPool = pool.New(func() *[]byte {
	b := make([]byte, udpDatagramSize)
	return &b
})

// UDPServer is the plain-DNS UDP listener: one or more SO_REUSEPORT
// sockets, each with an ingress task (datagram in, transaction ID
// rewritten, forwarded onto the query bus) and an egress task (bus reply
// out, transaction ID restored, written back to the client). Each socket
// owns its own proxy ID table and reply channel, so two sockets never
// collide on the same proxy ID space.
type UDPServer struct {
	Logger  *slog.Logger
	Bus     *bus.Bus
	Sockets int // SO_REUSEPORT socket count; <= 0 means runtime.NumCPU()

	wg    sync.WaitGroup
	mu    sync.Mutex
	conns []*net.UDPConn
}

// Run binds the configured number of SO_REUSEPORT sockets at addr and
// serves until ctx is canceled, then blocks until every socket's tasks
// have exited.
func (s *UDPServer) Run(ctx context.Context, addr string) error {
	n := s.Sockets
	if n <= 0 {
		n = runtime.NumCPU()
	}

	conns := make([]*net.UDPConn, 0, n)
	for i := 0; i < n; i++ {
		conn, err := listenUDPReusePort(addr)
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			return fmt.Errorf("udp: listen %s: %w", addr, err)
		}
		conns = append(conns, conn)
	}

	s.mu.Lock()
	s.conns = conns
	s.mu.Unlock()

	for _, conn := range conns {
		table := newProxyIDTable[udpOrigin]()
		replies := make(chan []byte, bus.DefaultCapacity)

		s.wg.Add(2)
		go s.ingress(ctx, conn, table, replies)
		go s.egress(ctx, conn, table, replies)
	}

	<-ctx.Done()
	s.Stop()
	s.wg.Wait()
	return nil
}

// LocalAddrs returns the bound address of every socket, for tests and
// diagnostics.
func (s *UDPServer) LocalAddrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, len(s.conns))
	for i, c := range s.conns {
		addrs[i] = c.LocalAddr()
	}
	return addrs
}

// Stop closes all listening sockets, unblocking any pending reads and
// writes so the ingress/egress tasks can exit.
func (s *UDPServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

func (s *UDPServer) ingress(ctx context.Context, conn *net.UDPConn, table *proxyIDTable[udpOrigin], replies chan<- []byte) {
	defer s.wg.Done()

	for {
		bufPtr := udpBufferPool.Get()
		n, clientAddr, err := conn.ReadFromUDPAddrPort(*bufPtr)
		if err != nil {
			udpBufferPool.Put(bufPtr)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger().Warn("udp read failed", "error", err)
			continue
		}

		if n < 2 {
			udpBufferPool.Put(bufPtr)
			continue
		}

		datagram := make([]byte, n)
		copy(datagram, (*bufPtr)[:n])
		udpBufferPool.Put(bufPtr)

		originalID := readTxID(datagram)
		proxyID := table.insert(udpOrigin{id: originalID, addr: clientAddr})
		writeTxID(datagram, proxyID)

		entry := bus.Entry{Query: datagram, Reply: replies}
		if err := s.Bus.Send(ctx, entry); err != nil {
			table.remove(proxyID)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (s *UDPServer) egress(ctx context.Context, conn *net.UDPConn, table *proxyIDTable[udpOrigin], replies <-chan []byte) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-replies:
			if !ok {
				return
			}
			if len(msg) < 2 {
				continue
			}
			proxyID := readTxID(msg)
			origin, found := table.remove(proxyID)
			if !found {
				continue
			}
			writeTxID(msg, origin.id)
			if _, err := conn.WriteToUDPAddrPort(msg, origin.addr); err != nil && ctx.Err() == nil {
				s.logger().Warn("udp write failed", "error", err)
			}
		}
	}
}

func (s *UDPServer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// listenUDPReusePort binds addr with SO_REUSEPORT set, so multiple sockets
// can share the same address and let the kernel load-balance datagrams
// across them.
func listenUDPReusePort(addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return nil, err
	}
	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("udp: unexpected packet conn type %T", pc)
	}
	return udpConn, nil
}
