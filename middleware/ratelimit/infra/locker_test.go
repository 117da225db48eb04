package infra

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripedLocker_SerializesSameKey(t *testing.T) {
	l := NewStripedLocker(8)

	counter := 0
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("k")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestStripedLocker_NonPositiveSizeFallsBackToOne(t *testing.T) {
	l := NewStripedLocker(0)
	assert.Len(t, l.stripes, 1)

	unlock := l.Lock("a")
	unlock()
	unlock = l.Lock("b")
	unlock()
}
