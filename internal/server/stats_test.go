package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStats_Snapshot(t *testing.T) {
	s := NewStats()
	s.RecordQuery()
	s.RecordQuery()
	s.RecordBlocked()
	s.RecordForwarded()
	s.RecordUpstreamError()
	s.RecordParseError()

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Queries)
	assert.Equal(t, uint64(1), snap.Blocked)
	assert.Equal(t, uint64(1), snap.Forwarded)
	assert.Equal(t, uint64(1), snap.UpstreamErrors)
	assert.Equal(t, uint64(1), snap.ParseErrors)
}

func TestStats_ConcurrentIncrement(t *testing.T) {
	s := NewStats()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordQuery()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(100), s.Snapshot().Queries)
}
