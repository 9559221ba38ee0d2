package player

import (
	"errors"
	"sync"
	"time"
)

type seekCall struct {
	real           float64
	allowSeekAhead bool
}

// fakeBackend 模拟媒体后端；seek 默认立即生效，deferSeeks 时需要手动 applySeek
type fakeBackend struct {
	mu         sync.Mutex
	current    float64
	duration   float64
	rate       float64
	playing    bool
	closed     bool
	notReady   bool
	deferSeeks bool
	queued     *float64
	failSeek   error
	failPlay   error

	seeks  []seekCall
	plays  int
	pauses int
}

func newFakeBackend(duration float64) *fakeBackend {
	return &fakeBackend{duration: duration, rate: 1}
}

func (b *fakeBackend) Play() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPlay != nil {
		return b.failPlay
	}
	b.plays++
	b.playing = true
	return nil
}

func (b *fakeBackend) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pauses++
	b.playing = false
	return nil
}

func (b *fakeBackend) SeekTo(real float64, allowSeekAhead bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSeek != nil {
		return b.failSeek
	}
	b.seeks = append(b.seeks, seekCall{real: real, allowSeekAhead: allowSeekAhead})
	if b.deferSeeks {
		r := real
		b.queued = &r
		return nil
	}
	b.current = real
	return nil
}

func (b *fakeBackend) CurrentTime() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.notReady {
		return 0, ErrBackendNotReady
	}
	return b.current, nil
}

func (b *fakeBackend) Duration() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.duration, nil
}

func (b *fakeBackend) SetPlaybackRate(rate float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rate = rate
	return nil
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// setTime 模拟后端自身播放推进
func (b *fakeBackend) setTime(real float64) {
	b.mu.Lock()
	b.current = real
	b.mu.Unlock()
}

func (b *fakeBackend) applySeek() {
	b.mu.Lock()
	if b.queued != nil {
		b.current = *b.queued
		b.queued = nil
	}
	b.mu.Unlock()
}

func (b *fakeBackend) seekCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.seeks)
}

func (b *fakeBackend) lastSeek() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.seeks) == 0 {
		return 0, false
	}
	return b.seeks[len(b.seeks)-1].real, true
}

var errBackendBusy = errors.New("backend busy")

// manualScheduler 记录所有注册的轮询任务，由测试手动触发
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	fn        func()
	cancelled bool
}

func (s *manualScheduler) Every(_ time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &manualTask{fn: fn}
	s.tasks = append(s.tasks, task)
	return func() {
		s.mu.Lock()
		task.cancelled = true
		s.mu.Unlock()
	}
}

// fire 触发所有未取消的任务一次
func (s *manualScheduler) fire() {
	s.mu.Lock()
	var live []func()
	for _, t := range s.tasks {
		if !t.cancelled {
			live = append(live, t.fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range live {
		fn()
	}
}

// fireAll 连已取消的任务也触发，用来模拟取消后仍在途的 tick
func (s *manualScheduler) fireAll() {
	s.mu.Lock()
	var all []func()
	for _, t := range s.tasks {
		all = append(all, t.fn)
	}
	s.mu.Unlock()
	for _, fn := range all {
		fn()
	}
}

func (s *manualScheduler) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}
