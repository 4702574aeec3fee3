package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shroudns/shroudns/internal/bus"
)

func waitForUDPAddr(t *testing.T, s *UDPServer) net.Addr {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		addrs := s.LocalAddrs()
		if len(addrs) > 0 {
			return addrs[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for udp server to bind")
	return nil
}

func TestUDPServer_RewritesTxIDAndRestoresReply(t *testing.T) {
	b := bus.New(4)
	s := &UDPServer{Bus: b, Sockets: 1}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, "127.0.0.1:0")

	addr := waitForUDPAddr(t, s)

	client, err := net.DialUDP("udp", nil, addr.(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	query := []byte{0x12, 0x34, 0x01, 0x00, 0x00, 0x01}
	_, err = client.Write(query)
	require.NoError(t, err)

	entry, ok := b.Receive(ctx)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(entry.Query), 2)

	// The proxy ID on the bus must differ from the client's original ID,
	// since the listener should have rewritten it.
	assert.NotEqual(t, uint16(0x1234), readTxID(entry.Query))

	response := make([]byte, len(entry.Query))
	copy(response, entry.Query)
	entry.Reply <- response

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 2)

	assert.Equal(t, uint16(0x1234), readTxID(buf[:n]))
}

func TestUDPServer_DropsShortDatagram(t *testing.T) {
	b := bus.New(4)
	s := &UDPServer{Bus: b, Sockets: 1}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, "127.0.0.1:0")

	addr := waitForUDPAddr(t, s)

	client, err := net.DialUDP("udp", nil, addr.(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte{0xff})
	require.NoError(t, err)

	recvCtx, recvCancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer recvCancel()
	_, ok := b.Receive(recvCtx)
	assert.False(t, ok, "a single-byte datagram must never reach the bus")
}

func TestUDPServer_StopClosesSockets(t *testing.T) {
	b := bus.New(4)
	s := &UDPServer{Bus: b, Sockets: 1}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	waitForUDPAddr(t, s)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down after context cancellation")
	}
}
