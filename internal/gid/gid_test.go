package gid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentIsStableWithinGoroutine(t *testing.T) {
	a := Current()
	b := Current()
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, int64(0))
}

func TestCurrentDiffersAcrossGoroutines(t *testing.T) {
	var wg sync.WaitGroup
	ids := make(chan int64, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- Current()
		}()
	}
	wg.Wait()
	close(ids)
	a := <-ids
	b := <-ids
	assert.NotEqual(t, a, b)
}
