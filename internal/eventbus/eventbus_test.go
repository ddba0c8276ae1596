package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmitDeliversToAllSubscribers(t *testing.T) {
	b := New[string]()
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	b.Emit("hello")

	select {
	case v := <-s1.Out():
		require.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for s1")
	}
	select {
	case v := <-s2.Out():
		require.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for s2")
	}
}

func TestShutdownClosesAllSubscriptions(t *testing.T) {
	b := New[int]()
	s := b.Subscribe()
	b.Shutdown()

	_, ok := <-s.Out()
	require.False(t, ok)
}

func TestSubscribeAfterShutdownWorks(t *testing.T) {
	b := New[int]()
	b.Shutdown()

	s := b.Subscribe()
	b.Emit(42)

	select {
	case v := <-s.Out():
		require.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestCloseDetaches(t *testing.T) {
	b := New[int]()
	s := b.Subscribe()
	s.Close()
	b.Emit(1) // must not panic or deadlock

	_, ok := <-s.Out()
	require.False(t, ok)
}

func TestConcurrentEmitSubscribe(t *testing.T) {
	b := New[int]()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Emit(i)
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		sub := b.Subscribe()
		sub.Close()
	}
	<-done
}
