package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SendReceive(t *testing.T) {
	b := New(4)
	ctx := context.Background()

	reply := make(chan []byte, 1)
	entry := Entry{Query: []byte{0x01, 0x02}, Reply: reply}

	require.NoError(t, b.Send(ctx, entry))

	got, ok := b.Receive(ctx)
	require.True(t, ok)
	assert.Equal(t, entry.Query, got.Query)
}

func TestBus_DefaultCapacity(t *testing.T) {
	b := New(0)
	assert.Equal(t, DefaultCapacity, b.Cap())

	b2 := New(-5)
	assert.Equal(t, DefaultCapacity, b2.Cap())
}

func TestBus_Backpressure(t *testing.T) {
	b := New(1)
	ctx := context.Background()
	reply := make(chan []byte, 1)

	require.NoError(t, b.Send(ctx, Entry{Query: []byte{0x00, 0x01}, Reply: reply}))

	sendCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := b.Send(sendCtx, Entry{Query: []byte{0x00, 0x02}, Reply: reply})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBus_ReceiveCanceled(t *testing.T) {
	b := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := b.Receive(ctx)
	assert.False(t, ok)
}

func TestBus_LenCap(t *testing.T) {
	b := New(8)
	assert.Equal(t, 8, b.Cap())
	assert.Equal(t, 0, b.Len())

	reply := make(chan []byte, 1)
	require.NoError(t, b.Send(context.Background(), Entry{Query: []byte{1}, Reply: reply}))
	assert.Equal(t, 1, b.Len())
}
