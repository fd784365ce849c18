package keyedmutex

import (
	"sync"
	"testing"
)

func TestLockSerializesSameKey(t *testing.T) {
	var km KeyedMutex
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("acct-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
}

func TestLockDifferentShardsIndependent(t *testing.T) {
	var km KeyedMutex

	held := km.shard("alpha")

	// Find a key that lands on a different shard.
	other := ""
	for _, k := range []string{"beta", "gamma", "delta", "epsilon"} {
		if km.shard(k) != held {
			other = k
			break
		}
	}
	if other == "" {
		t.Fatal("no key found in a different shard")
	}

	unlockA := km.Lock("alpha")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := km.Lock(other)
		unlockB()
		close(done)
	}()
	<-done
}
