package player

import (
	"sync"
	"time"
)

// Scheduler 创建可取消的周期任务
// 返回的 cancel 必须立即返回，不能等待正在执行的 fn 结束
type Scheduler interface {
	Every(interval time.Duration, fn func()) (cancel func())
}

// TickerScheduler 基于 time.Ticker 的默认实现，每个任务一个 goroutine
type TickerScheduler struct{}

// Every 启动周期任务
func (TickerScheduler) Every(interval time.Duration, fn func()) func() {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// 两个 case 同时就绪时优先退出
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}
