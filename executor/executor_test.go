package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ExecutorTestSuite 工作池测试套件.
type ExecutorTestSuite struct {
	suite.Suite
	ctx context.Context
}

func TestExecutorSuite(t *testing.T) {
	suite.Run(t, new(ExecutorTestSuite))
}

func (s *ExecutorTestSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *ExecutorTestSuite) TestSubmitRunsTasks() {
	p := NewPool("test", WithWorkers(4))
	defer p.Shutdown(s.ctx)

	var wg sync.WaitGroup
	var n atomic.Int32
	for range 20 {
		wg.Add(1)
		s.Require().NoError(p.Submit(s.ctx, func() {
			defer wg.Done()
			n.Add(1)
		}))
	}
	wg.Wait()
	s.Equal(int32(20), n.Load())
}

func (s *ExecutorTestSuite) TestWorkerBound() {
	p := NewPool("bound", WithWorkers(2), WithQueueSize(10))
	defer p.Shutdown(s.ctx)

	var cur, peak atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		s.Require().NoError(p.Submit(s.ctx, func() {
			defer wg.Done()
			v := cur.Add(1)
			for {
				old := peak.Load()
				if v <= old || peak.CompareAndSwap(old, v) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			cur.Add(-1)
		}))
	}
	wg.Wait()
	s.LessOrEqual(peak.Load(), int32(2))
}

func (s *ExecutorTestSuite) TestTrySubmitQueueFull() {
	p := NewPool("full", WithWorkers(1), WithQueueSize(1))
	block := make(chan struct{})
	started := make(chan struct{})

	s.Require().NoError(p.Submit(s.ctx, func() {
		close(started)
		<-block
	}))
	<-started
	s.Require().NoError(p.TrySubmit(func() {}))
	s.ErrorIs(p.TrySubmit(func() {}), ErrQueueFull)

	close(block)
	s.NoError(p.Shutdown(s.ctx))
	s.Equal(int64(1), p.Stats().Rejected)
}

func (s *ExecutorTestSuite) TestSubmitAfterShutdown() {
	p := NewPool("closed", WithWorkers(1))
	s.NoError(p.Shutdown(s.ctx))
	s.ErrorIs(p.Submit(s.ctx, func() {}), ErrPoolShutdown)
	s.ErrorIs(p.Submit(s.ctx, nil), ErrNilTask)
}

func (s *ExecutorTestSuite) TestPanicIsContained() {
	p := NewPool("panic", WithWorkers(1))
	done := make(chan struct{})
	s.Require().NoError(p.Submit(s.ctx, func() { panic("boom") }))
	s.Require().NoError(p.Submit(s.ctx, func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("panic 后 worker 应继续工作")
	}
	s.NoError(p.Shutdown(s.ctx))
	s.Equal(int64(1), p.Stats().Panics)
}

func (s *ExecutorTestSuite) TestRegistryReusesPools() {
	r := NewRegistry(WithWorkers(2))
	a := r.Pool("a")
	s.Same(a, r.Pool("a"))
	s.Equal(2, a.Workers())
	s.Len(r.Stats(), 1)
	s.NoError(r.Shutdown(s.ctx))
	s.ErrorIs(a.Submit(s.ctx, func() {}), ErrPoolShutdown)
}
