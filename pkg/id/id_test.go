package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// not parallel: other tests minting ids would reset the monotonic entropy
func TestNewIsMonotonic(t *testing.T) {
	at := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	prev := NewAt(at)
	for i := 0; i < 1000; i++ {
		next := NewAt(at)
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestNewAtCarriesTimestamp(t *testing.T) {
	t.Parallel()

	at := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	u, err := ulid.Parse(NewAt(at))
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(at), u.Time())
}

func TestNewPrefixed(t *testing.T) {
	t.Parallel()

	s := NewPrefixed("mc", time.Now())
	require.True(t, strings.HasPrefix(s, "mc_"))
	_, err := ulid.Parse(strings.TrimPrefix(s, "mc_"))
	assert.NoError(t, err)
}

func TestNewConcurrentUnique(t *testing.T) {
	t.Parallel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s := New()
				mu.Lock()
				seen[s] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1600)
}
