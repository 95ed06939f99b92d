package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-forkjoin/root"
	"github.com/Swind/go-forkjoin/task"
)

func TestUnitRunnerRunsForkJoinSynchronously(t *testing.T) {
	r := NewUnitRunner()
	got, err := root.SyncWait(r, func(rt *task.Rt) int {
		var a, b int
		rt.Fork(func(rt2 *task.Rt) { a = 3 })
		rt.Fork(func(rt2 *task.Rt) { b = 4 })
		rt.Join()
		return a + b
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestUnitRunnerNeverReportsInWorker(t *testing.T) {
	r := NewUnitRunner()
	assert.False(t, r.InWorker())
}

func TestUnitRunnerSnapshotCountsForks(t *testing.T) {
	r := NewUnitRunner()
	_, err := root.SyncWait(r, func(rt *task.Rt) int {
		rt.Fork(func(rt2 *task.Rt) {})
		rt.Fork(func(rt2 *task.Rt) {})
		rt.Join()
		return 0
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, r.Snapshot().Forks, int64(2))
}
