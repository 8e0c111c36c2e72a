package api

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserLocks_SerializesSameUser(t *testing.T) {
	l := NewUserLocks()
	unlock := l.Lock("u1")

	acquired := make(chan struct{})
	go func() {
		release := l.Lock("u1")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestUserLocks_IndependentUsers(t *testing.T) {
	l := NewUserLocks()
	unlock := l.Lock("u1")
	defer unlock()

	done := make(chan struct{})
	go func() {
		l.Lock("u2")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("u2 blocked on u1")
	}
}

func TestUserLocks_DropsIdleEntries(t *testing.T) {
	l := NewUserLocks()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("u1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.Len())
}
