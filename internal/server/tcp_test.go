package server

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shroudns/shroudns/internal/bus"
)

func waitForTCPAddr(t *testing.T, s *TCPServer) net.Addr {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		addrs := s.LocalAddrs()
		if len(addrs) > 0 {
			return addrs[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for tcp server to bind")
	return nil
}

func writeFramed(t *testing.T, conn net.Conn, msg []byte) {
	t.Helper()
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(msg)))
	_, err := conn.Write(lenBuf[:])
	require.NoError(t, err)
	_, err = conn.Write(msg)
	require.NoError(t, err)
}

func readFramed(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var lenBuf [2]byte
	_, err := io.ReadFull(conn, lenBuf[:])
	require.NoError(t, err)
	n := binary.BigEndian.Uint16(lenBuf[:])
	buf := make([]byte, n)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

func TestTCPServer_RewritesTxIDAndRestoresReply(t *testing.T) {
	b := bus.New(4)
	s := &TCPServer{Bus: b}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, "127.0.0.1:0")

	addr := waitForTCPAddr(t, s)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	query := []byte{0x12, 0x34, 0x01, 0x00, 0x00, 0x01}
	writeFramed(t, conn, query)

	recvCtx, recvCancel := context.WithTimeout(ctx, 2*time.Second)
	defer recvCancel()
	entry, ok := b.Receive(recvCtx)
	require.True(t, ok)

	assert.NotEqual(t, uint16(0x1234), readTxID(entry.Query))

	response := make([]byte, len(entry.Query))
	copy(response, entry.Query)
	entry.Reply <- response

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := readFramed(t, conn)
	assert.Equal(t, uint16(0x1234), readTxID(got))
}

func TestTCPServer_DropsShortMessage(t *testing.T) {
	b := bus.New(4)
	s := &TCPServer{Bus: b}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, "127.0.0.1:0")

	addr := waitForTCPAddr(t, s)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	writeFramed(t, conn, []byte{0xaa})

	recvCtx, recvCancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer recvCancel()
	_, ok := b.Receive(recvCtx)
	assert.False(t, ok, "a sub-2-byte message must never reach the bus")
}

func TestTCPServer_PerIPConnectionLimit(t *testing.T) {
	b := bus.New(4)
	s := &TCPServer{Bus: b, MaxConnsPerIP: 1}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, "127.0.0.1:0")

	addr := waitForTCPAddr(t, s)

	conn1, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn1.Close()

	time.Sleep(50 * time.Millisecond) // let acceptLoop register conn1

	conn2, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn2.Close()

	conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn2.Read(buf)
	assert.Error(t, err, "second connection from the same IP should be closed")
}

func TestTCPServer_StopClosesListeners(t *testing.T) {
	b := bus.New(4)
	s := &TCPServer{Bus: b}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	waitForTCPAddr(t, s)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down after context cancellation")
	}
}
