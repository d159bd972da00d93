package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-astm/logger"
)

// TaskFunc performs one iteration of a task run by the TaskManager.
// ctx is done once the manager is stopped. It returns true to run again, or
// false to end the goroutine.
type TaskFunc func(ctx context.Context) bool

// TaskManager manages the goroutines of a Gateway: one per link plus the
// optional status reporter.
//
// Stop cancels the context handed to every task; Wait blocks until all of
// them returned and re-arms the manager so it can be started again.
//
//	mgr := gateway.NewTaskManager(ctx, logger)
//	_ = mgr.Start("link esr-1", func(ctx context.Context) bool {
//	    // ... one receive cycle ...
//	    return true
//	})
//	mgr.Stop()
//	mgr.Wait()
type TaskManager struct {
	pctx    context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
	count   atomic.Int32
	tickers *xsync.MapOf[string, *time.Ticker]
	mu      sync.RWMutex // protect ctx and cancel
	taskMu  sync.RWMutex // protect task creation during Wait()
}

// NewTaskManager creates a TaskManager whose tasks stop when ctx is done.
func NewTaskManager(ctx context.Context, l logger.Logger) *TaskManager {
	if l == nil {
		l = logger.GetLogger()
	}

	mgr := &TaskManager{
		pctx:    ctx,
		logger:  l,
		tickers: xsync.NewMapOf[string, *time.Ticker](),
	}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

func (mgr *TaskManager) getContext() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start runs taskFunc in a new goroutine until it returns false or the
// manager is stopped.
func (mgr *TaskManager) Start(name string, taskFunc TaskFunc) error {
	mgr.logger.Debug("gateway: start task", "name", name)

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		mgr.runTaskLoop(name, taskFunc)
	})

	return starter.waitForStart()
}

// StartInterval runs taskFunc every interval until it returns false or the
// manager is stopped. With runNow the first call happens before Start returns.
func (mgr *TaskManager) StartInterval(name string, taskFunc TaskFunc, interval time.Duration, runNow bool) error {
	mgr.logger.Debug("gateway: start interval task", "name", name, "interval", interval)

	if interval <= 0 {
		return fmt.Errorf("gateway: invalid interval %v", interval)
	}

	ticker := time.NewTicker(interval)
	if _, loaded := mgr.tickers.LoadOrStore(name, ticker); loaded {
		ticker.Stop()
		return fmt.Errorf("gateway: interval task %s already exists", name)
	}

	cleanup := func() {
		ticker.Stop()
		mgr.tickers.Delete(name)
	}

	if runNow && !mgr.callWithRecover(name, taskFunc) {
		cleanup()
		return nil
	}

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		cleanup()
		return err
	}

	starter.startTask(func() {
		defer cleanup()

		for {
			ctx := mgr.getContext()
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecover(name, taskFunc) {
					return
				}
			}
		}
	})

	if err := starter.waitForStart(); err != nil {
		cleanup()
		return err
	}

	return nil
}

func (mgr *TaskManager) callWithRecover(name string, fn TaskFunc) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("gateway: panic in task", "name", name, "panic", r)
			ok = true
		}
	}()

	return fn(mgr.getContext())
}

// Stop signals all running tasks.
func (mgr *TaskManager) Stop() {
	mgr.tickers.Range(func(_ string, ticker *time.Ticker) bool {
		ticker.Stop()
		return true
	})

	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all tasks to return.
func (mgr *TaskManager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// TaskCount returns the number of running tasks.
func (mgr *TaskManager) TaskCount() int {
	return int(mgr.count.Load())
}

type taskStarter struct {
	mgr     *TaskManager
	name    string
	started chan struct{}
}

func (mgr *TaskManager) newTaskStarter(name string) (*taskStarter, error) {
	if mgr.getContext().Err() != nil {
		return nil, fmt.Errorf("gateway: task manager already stopped")
	}

	return &taskStarter{mgr: mgr, name: name, started: make(chan struct{})}, nil
}

func (s *taskStarter) startTask(taskBody func()) {
	s.mgr.taskMu.RLock()
	defer s.mgr.taskMu.RUnlock()

	s.mgr.wg.Add(1)
	s.mgr.count.Add(1)

	go func() {
		defer s.mgr.wg.Done()
		defer func() {
			s.mgr.count.Add(-1)
			s.mgr.logger.Debug("gateway: task terminated", "name", s.name, "task_count", s.mgr.TaskCount())
		}()

		close(s.started)
		taskBody()
	}()
}

func (s *taskStarter) waitForStart() error {
	select {
	case <-s.started:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("gateway: timeout waiting for %s to start", s.name)
	}
}

// runTaskLoop calls taskFunc until it returns false or the context is done.
// A panicking iteration is logged and the loop continues.
func (mgr *TaskManager) runTaskLoop(name string, taskFunc TaskFunc) {
	for {
		ctx := mgr.getContext()
		select {
		case <-ctx.Done():
			return
		default:
			if !mgr.callWithRecover(name, taskFunc) {
				return
			}
		}
	}
}
