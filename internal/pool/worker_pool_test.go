package pool

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWorkerPool_RunsAllTasks(t *testing.T) {
	p := NewWorkerPool(4, 100, zap.NewNop())
	p.Start(context.Background())

	var n atomic.Int32
	for i := 0; i < 50; i++ {
		assert.True(t, p.TrySubmit(func() { n.Add(1) }))
	}
	p.Stop()

	assert.Equal(t, int32(50), n.Load())
	assert.Zero(t, p.Dropped())
}

func TestWorkerPool_PanicDoesNotKillWorker(t *testing.T) {
	p := NewWorkerPool(1, 10, nil)
	p.Start(context.Background())

	var ran atomic.Bool
	p.TrySubmit(func() { panic("boom") })
	p.TrySubmit(func() { ran.Store(true) })
	p.Stop()

	assert.True(t, ran.Load())
}

func TestWorkerPool_QueueFull(t *testing.T) {
	// 未启动的协程池不会消费任务
	p := NewWorkerPool(1, 1, nil)

	assert.True(t, p.TrySubmit(func() {}))
	assert.False(t, p.TrySubmit(func() {}))
	assert.Equal(t, int64(1), p.Dropped())
}

func TestWorkerPool_StopTwice(t *testing.T) {
	p := NewWorkerPool(2, 1, nil)
	p.Start(context.Background())
	p.Stop()
	assert.NotPanics(t, p.Stop)
}
