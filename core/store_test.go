package core

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutGet(t *testing.T) {
	s := NewStore(StoreOptions{})
	defer s.Close()

	art := Artifact{Data: []byte{1, 2, 3}, ContentType: "image/png", Name: "a red circle", CreatedAt: time.Now()}
	s.Put("id-1", art)

	got, ok := s.Get("id-1")
	require.True(t, ok)
	assert.Equal(t, art.Data, got.Data)
	assert.Equal(t, "image/png", got.ContentType)
	assert.Equal(t, "a red circle", got.Name)
}

func TestStoreGetUnknownID(t *testing.T) {
	s := NewStore(StoreOptions{})
	defer s.Close()

	_, ok := s.Get("never-issued")
	assert.False(t, ok)
}

func TestStoreOverwriteLastWriterWins(t *testing.T) {
	s := NewStore(StoreOptions{})
	defer s.Close()

	s.Put("id", Artifact{Data: []byte("first")})
	s.Put("id", Artifact{Data: []byte("second")})

	got, ok := s.Get("id")
	require.True(t, ok)
	assert.Equal(t, []byte("second"), got.Data)
	assert.Equal(t, 1, s.Len())
}

func TestStoreCapacityEvictsOldest(t *testing.T) {
	s := NewStore(StoreOptions{MaxEntries: 3, TTL: time.Hour})
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.Put(fmt.Sprintf("id-%d", i), Artifact{Data: []byte{byte(i)}})
	}

	assert.Equal(t, 3, s.Len())
	_, ok := s.Get("id-0")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = s.Get("id-1")
	assert.False(t, ok)
	_, ok = s.Get("id-4")
	assert.True(t, ok, "newest entry must survive")
}

func TestStoreTTLExpiryOnRead(t *testing.T) {
	s := NewStore(StoreOptions{MaxEntries: 10, TTL: 10 * time.Millisecond})
	defer s.Close()

	s.Put("id", Artifact{Data: []byte("x")})
	time.Sleep(30 * time.Millisecond)

	_, ok := s.Get("id")
	assert.False(t, ok, "expired entry must read as not found")
	assert.Equal(t, 0, s.Len())
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore(StoreOptions{MaxEntries: 1000, TTL: time.Hour})
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("id-%d", i)
			s.Put(id, Artifact{Data: []byte(id)})
			got, ok := s.Get(id)
			if assert.True(t, ok) {
				assert.Equal(t, []byte(id), got.Data)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}
