package server

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/shroudns/shroudns/internal/bus"
	"github.com/shroudns/shroudns/internal/pool"
)

// maxTCPMessageSize is the largest DNS message a length prefix can address.
const maxTCPMessageSize = 65535

var tcpLenBufPool = pool.New(func() *[]byte {
	b := make([]byte, 2)
	return &b
})

// TCPServer is the DNS-over-TCP listener: one or more SO_REUSEPORT
// listeners, each accepting connections that are handled by a reader task
// and a writer task sharing a reply channel and a proxy ID table scoped to
// that single connection.
type TCPServer struct {
	Logger        *slog.Logger
	Bus           *bus.Bus
	MaxConnsPerIP int
	IdleTimeout   time.Duration

	wg        sync.WaitGroup
	listeners []net.Listener

	mu        sync.Mutex
	connPerIP map[string]int
}

const defaultTCPMaxConnsPerIP = 32
const defaultTCPIdleTimeout = 120 * time.Second
const tcpReplyChannelCapacity = 32

// Run opens one SO_REUSEPORT listener per CPU at addr and serves
// connections until ctx is canceled.
func (s *TCPServer) Run(ctx context.Context, addr string) error {
	s.mu.Lock()
	if s.connPerIP == nil {
		s.connPerIP = map[string]int{}
	}
	s.mu.Unlock()

	n := runtime.NumCPU()
	listeners := make([]net.Listener, 0, n)
	for i := 0; i < n; i++ {
		ln, err := listenTCPReusePort(ctx, addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return err
		}
		listeners = append(listeners, ln)
	}

	s.mu.Lock()
	s.listeners = listeners
	s.mu.Unlock()

	for _, ln := range listeners {
		listener := ln
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.acceptLoop(ctx, listener)
		}()
	}

	<-ctx.Done()
	s.Stop(5 * time.Second)
	return nil
}

// LocalAddrs returns the bound address of every listener, for tests and
// diagnostics.
func (s *TCPServer) LocalAddrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, len(s.listeners))
	for i, ln := range s.listeners {
		addrs[i] = ln.Addr()
	}
	return addrs
}

// Stop closes every listener and waits up to timeout for active
// connections to finish.
func (s *TCPServer) Stop(timeout time.Duration) error {
	s.mu.Lock()
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.mu.Unlock()

	if timeout <= 0 {
		s.wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("tcp: timeout waiting for connections to close")
	}
}

func (s *TCPServer) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		ip := remoteIPString(conn.RemoteAddr())
		if !s.tryAcquireConn(ip) {
			s.logger().Warn("tcp connection limit exceeded", "ip", ip)
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.releaseConn(ip)
			s.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection runs a reader and a writer task over a single
// connection, sharing a reply channel and a proxy ID table scoped to that
// connection's lifetime. The reader rewrites each message's transaction ID
// before forwarding it on the query bus; the writer restores it and
// removes the table entry once the reply has been delivered.
func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	table := newProxyIDTable[uint16]()
	replies := make(chan []byte, tcpReplyChannelCapacity)

	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		s.writer(connCtx, conn, table, replies)
	}()

	s.reader(connCtx, conn, table, replies)

	cancel()
	writerWG.Wait()
}

func (s *TCPServer) idleTimeout() time.Duration {
	if s.IdleTimeout > 0 {
		return s.IdleTimeout
	}
	return defaultTCPIdleTimeout
}

func (s *TCPServer) reader(ctx context.Context, conn net.Conn, table *proxyIDTable[uint16], replies chan<- []byte) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(s.idleTimeout()))
		msg, ok := readTCPMessage(conn)
		if !ok {
			return
		}
		if len(msg) < 2 {
			continue
		}

		originalID := readTxID(msg)
		proxyID := table.insert(originalID)
		writeTxID(msg, proxyID)

		if err := s.Bus.Send(ctx, bus.Entry{Query: msg, Reply: replies}); err != nil {
			table.remove(proxyID)
			return
		}
	}
}

func (s *TCPServer) writer(ctx context.Context, conn net.Conn, table *proxyIDTable[uint16], replies <-chan []byte) {
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
			originalID, found := table.remove(proxyID)
			if !found {
				continue
			}
			writeTxID(msg, originalID)

			conn.SetWriteDeadline(time.Now().Add(s.idleTimeout()))
			if !writeTCPMessage(conn, msg) {
				return
			}
		}
	}
}

func (s *TCPServer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *TCPServer) maxConnsPerIP() int {
	if s.MaxConnsPerIP > 0 {
		return s.MaxConnsPerIP
	}
	return defaultTCPMaxConnsPerIP
}

func (s *TCPServer) tryAcquireConn(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connPerIP[ip] >= s.maxConnsPerIP() {
		return false
	}
	s.connPerIP[ip]++
	return true
}

func (s *TCPServer) releaseConn(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connPerIP[ip] <= 1 {
		delete(s.connPerIP, ip)
		return
	}
	s.connPerIP[ip]--
}

// readTCPMessage reads a single length-prefixed DNS message. ok is false
// on any framing or I/O error, including a length prefix under 2 or a
// message larger than maxTCPMessageSize.
func readTCPMessage(conn net.Conn) (msg []byte, ok bool) {
	lenBufPtr := tcpLenBufPool.Get()
	defer tcpLenBufPool.Put(lenBufPtr)

	if _, err := io.ReadFull(conn, *lenBufPtr); err != nil {
		return nil, false
	}
	msgLen := int(binary.BigEndian.Uint16(*lenBufPtr))
	if msgLen < 2 || msgLen > maxTCPMessageSize {
		return nil, false
	}

	buf := make([]byte, msgLen)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, false
	}
	return buf, true
}

// writeTCPMessage writes response as a single length-prefixed DNS message.
func writeTCPMessage(conn net.Conn, response []byte) bool {
	if len(response) > maxTCPMessageSize {
		return false
	}

	lenBufPtr := tcpLenBufPool.Get()
	defer tcpLenBufPool.Put(lenBufPtr)
	binary.BigEndian.PutUint16(*lenBufPtr, uint16(len(response)))

	bufs := net.Buffers{*lenBufPtr, response}
	_, err := bufs.WriteTo(conn)
	return err == nil
}

// listenTCPReusePort binds addr with SO_REUSEPORT set.
func listenTCPReusePort(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
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
	return lc.Listen(ctx, "tcp", addr)
}

func remoteIPString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err == nil {
		return host
	}
	return addr.String()
}
