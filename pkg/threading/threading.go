// 管理临时异步线程，确保进程退出时，线程可以被正确退出
package threading

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

var ErrStopped = errors.New("threading stopped")

// Task 是一个后台线程的句柄，可以单独取消、等待
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel 取消任务的 ctx，可重复调用
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.cancel()
}

// Done 在 run 返回（包括 panic）后关闭
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait 等待任务结束，timeout<=0 表示一直等；返回是否在超时前结束
func (t *Task) Wait(timeout time.Duration) bool {
	if t == nil {
		return true
	}
	if timeout <= 0 {
		<-t.done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}

type Threading struct {
	lock    sync.Mutex
	wait    sync.WaitGroup
	stopped bool
	running map[*Task]struct{}
	log     *log.Helper
}

func New(logger log.Logger) *Threading {
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Threading{
		running: make(map[*Task]struct{}),
		log:     log.NewHelper(log.With(logger, "module", "pkg.threading")),
	}
}

func (t *Threading) defaultPanicFunc(ctx context.Context, err any) {
	buf := make([]byte, 10240)
	n := runtime.Stack(buf, false)
	t.log.WithContext(ctx).Errorf("stack: %v\n%s", err, string(buf[:n]))
}

// 新建后台线程
//
// ctx: 调用位置的上下文，run 拿到的 ctx 只保留 value，取消由 Task / Stop 控制
// panicFunc(err): panic 回调，默认打印堆栈
//
// Stop 之后再调用返回 ErrStopped，不再 panic（退出过程中轮询线程可能还在尝试启动任务）
func (t *Threading) Go(ctx context.Context, run func(ctx context.Context), panicFunc ...func(ctx context.Context, err any)) (*Task, error) {
	t.lock.Lock()
	if t.stopped {
		t.lock.Unlock()
		return nil, ErrStopped
	}
	ctxNew, cancel := context.WithCancel(context.WithoutCancel(ctx))
	task := &Task{cancel: cancel, done: make(chan struct{})}
	t.running[task] = struct{}{}
	t.wait.Add(1)
	t.lock.Unlock()

	go func() {
		defer func() {
			if err := recover(); err != nil {
				if len(panicFunc) == 0 {
					t.defaultPanicFunc(ctxNew, err)
				}
				for _, f := range panicFunc {
					f(ctxNew, err)
				}
			}

			cancel()
			t.lock.Lock()
			delete(t.running, task)
			t.lock.Unlock()
			close(task.done)
			t.wait.Done()
		}()

		run(ctxNew)
	}()

	return task, nil
}

// Running 当前仍在执行的任务数
func (t *Threading) Running() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.running)
}

// 程序退出前，停止所有线程
// wait: 等待所有线程执行完毕
// timeout: 等待超时，取消未执行完毕的任务
func (t *Threading) Stop(wait bool, timeout time.Duration) {
	t.lock.Lock()
	t.stopped = true
	t.lock.Unlock()

	if wait {
		finished := make(chan struct{})
		go func() {
			t.wait.Wait()
			close(finished)
		}()

		timer := time.NewTimer(timeout)
		select {
		case <-finished:
		case <-timer.C:
		}
		timer.Stop()
	}

	// 取消所有剩余任务
	t.lock.Lock()
	for task := range t.running {
		task.cancel()
	}
	left := len(t.running)
	t.lock.Unlock()

	if left > 0 {
		t.log.Warn(fmt.Sprintf("threading stopped with %d task(s) canceled", left))
	}
}
