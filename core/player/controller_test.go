package player

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"TLDRTube/core/timeline"
	"TLDRTube/model"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// newReadyController 两段区间 [0,5) [10,15)，原视频 20 秒，已就绪
func newReadyController(t *testing.T) (*Controller, *fakeBackend, *manualScheduler) {
	t.Helper()
	tl := timeline.New([]model.Segment{{Start: 0, End: 5}, {Start: 10, End: 15}})
	return newReadyControllerWith(t, tl)
}

func newReadyControllerWith(t *testing.T, tl *timeline.Timeline) (*Controller, *fakeBackend, *manualScheduler) {
	t.Helper()
	sched := &manualScheduler{}
	opts := DefaultOptions()
	opts.Scheduler = sched

	c := NewController(tl, opts)
	backend := newFakeBackend(20)
	if err := c.Initialize(backend); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	c.OnReady(20)
	return c, backend, sched
}

func TestInitializeErrors(t *testing.T) {
	c := NewController(nil, DefaultOptions())
	if err := c.Initialize(nil); !errors.Is(err, ErrNilBackend) {
		t.Fatalf("expected ErrNilBackend, got %v", err)
	}
	if err := c.Initialize(newFakeBackend(10)); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	if err := c.Initialize(newFakeBackend(10)); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestCommandsBeforeReadyAreIgnored(t *testing.T) {
	sched := &manualScheduler{}
	opts := DefaultOptions()
	opts.Scheduler = sched
	c := NewController(timeline.New([]model.Segment{{Start: 0, End: 5}}), opts)

	c.Play()
	c.SeekVirtual(3)
	if c.State() != StateUninitialized {
		t.Fatalf("state = %s, want uninitialized", c.State())
	}

	backend := newFakeBackend(10)
	if err := c.Initialize(backend); err != nil {
		t.Fatal(err)
	}
	c.Play()
	if backend.plays != 0 || backend.seekCount() != 0 {
		t.Fatalf("backend touched before ready: plays=%d seeks=%d", backend.plays, backend.seekCount())
	}
}

func TestOnReadySeeksToFirstRange(t *testing.T) {
	tl := timeline.New([]model.Segment{{Start: 3, End: 5}, {Start: 10, End: 15}})
	c, backend, _ := newReadyControllerWith(t, tl)

	real, ok := backend.lastSeek()
	if !ok || !almostEqual(real, 3) {
		t.Fatalf("expected initial seek to 3, got %v (%v)", real, ok)
	}
	if c.State() != StateReady {
		t.Fatalf("state = %s, want ready", c.State())
	}
	if !almostEqual(c.TotalDuration(), 7) {
		t.Fatalf("total = %v, want 7", c.TotalDuration())
	}
}

func TestEmptyTimelineIsNotPlayable(t *testing.T) {
	c, backend, sched := newReadyControllerWith(t, timeline.New(nil))

	if c.IsPlayable() {
		t.Fatal("empty timeline should not be playable")
	}
	c.Play()
	c.TogglePlayPause()
	c.SeekVirtual(4)
	if backend.plays != 0 || backend.seekCount() != 0 {
		t.Fatalf("backend touched: plays=%d seeks=%d", backend.plays, backend.seekCount())
	}
	if sched.active() != 0 {
		t.Fatal("no polling loop should be running")
	}
	if c.State() != StateReady {
		t.Fatalf("state = %s, want ready", c.State())
	}
	if c.TotalDuration() != 0 || c.VirtualTime() != 0 {
		t.Fatalf("total=%v virtual=%v, want 0", c.TotalDuration(), c.VirtualTime())
	}
	pct, ok := c.ReductionPercent()
	if !ok || !almostEqual(pct, 100) {
		t.Fatalf("reduction = %v (%v), want 100", pct, ok)
	}
}

func TestPlayStartsPolling(t *testing.T) {
	c, backend, sched := newReadyController(t)

	c.Play()
	if c.State() != StatePlaying {
		t.Fatalf("state = %s, want playing", c.State())
	}
	if backend.plays != 1 {
		t.Fatalf("plays = %d, want 1", backend.plays)
	}
	if sched.active() != 1 {
		t.Fatalf("active loops = %d, want 1", sched.active())
	}

	c.Play()
	if backend.plays != 1 || sched.active() != 1 {
		t.Fatal("second Play should be a no-op")
	}

	c.Pause()
	if c.State() != StatePaused || sched.active() != 0 {
		t.Fatalf("after pause: state=%s active=%d", c.State(), sched.active())
	}
}

func TestTickAdvancesVirtualTime(t *testing.T) {
	c, backend, sched := newReadyController(t)
	c.Play()

	backend.setTime(2.5)
	sched.fire()
	if !almostEqual(c.VirtualTime(), 2.5) {
		t.Fatalf("virtual = %v, want 2.5", c.VirtualTime())
	}

	backend.setTime(12)
	sched.fire()
	// 后端自行进入下一区间时直接跟随
	if !almostEqual(c.VirtualTime(), 7) {
		t.Fatalf("virtual = %v, want 7", c.VirtualTime())
	}
}

func TestGapCrossing(t *testing.T) {
	c, backend, sched := newReadyController(t)
	c.Play()
	seeksBefore := backend.seekCount()

	backend.setTime(4.95)
	sched.fire()

	real, _ := backend.lastSeek()
	if backend.seekCount() != seeksBefore+1 || !almostEqual(real, 10) {
		t.Fatalf("expected seek to 10, got %v (seeks %d)", real, backend.seekCount())
	}
	if !almostEqual(c.VirtualTime(), 5) {
		t.Fatalf("virtual = %v, want 5", c.VirtualTime())
	}

	sched.fire()
	if !almostEqual(c.VirtualTime(), 5) {
		t.Fatalf("virtual after landing = %v, want 5", c.VirtualTime())
	}
	if snap := c.Snapshot(); snap.RangeIndex != 1 {
		t.Fatalf("range index = %d, want 1", snap.RangeIndex)
	}

	backend.setTime(13)
	sched.fire()
	if !almostEqual(c.VirtualTime(), 8) {
		t.Fatalf("virtual = %v, want 8", c.VirtualTime())
	}
}

func TestReachingEndOfLastRange(t *testing.T) {
	c, backend, sched := newReadyController(t)
	c.SeekVirtual(9)
	c.Play()

	backend.setTime(14.95)
	sched.fire()

	if c.State() != StateEnded {
		t.Fatalf("state = %s, want ended", c.State())
	}
	if !almostEqual(c.VirtualTime(), 10) {
		t.Fatalf("virtual = %v, want 10", c.VirtualTime())
	}
	if backend.pauses == 0 {
		t.Fatal("backend should be paused at the end")
	}
	if sched.active() != 0 {
		t.Fatal("polling should stop at the end")
	}
}

func TestPlayAfterEndRestarts(t *testing.T) {
	c, backend, sched := newReadyController(t)
	c.SeekVirtual(9)
	c.Play()
	backend.setTime(14.95)
	sched.fire()
	if c.State() != StateEnded {
		t.Fatalf("state = %s, want ended", c.State())
	}

	c.Play()
	real, _ := backend.lastSeek()
	if !almostEqual(real, 0) {
		t.Fatalf("replay should seek to 0, got %v", real)
	}
	if c.VirtualTime() != 0 {
		t.Fatalf("virtual = %v, want 0", c.VirtualTime())
	}
	if c.State() != StatePlaying {
		t.Fatalf("state = %s, want playing", c.State())
	}
}

func TestBackendEndedEvent(t *testing.T) {
	c, _, sched := newReadyController(t)
	c.SeekVirtual(8)
	c.Play()

	c.OnStateChange(BackendEnded)
	if c.State() != StateEnded {
		t.Fatalf("state = %s, want ended", c.State())
	}
	if !almostEqual(c.VirtualTime(), 10) {
		t.Fatalf("virtual = %v, want 10", c.VirtualTime())
	}
	if sched.active() != 0 {
		t.Fatal("polling should stop")
	}
}

func TestBackendStateEvents(t *testing.T) {
	c, _, sched := newReadyController(t)

	c.OnStateChange(BackendPlaying)
	if c.State() != StatePlaying || sched.active() != 1 {
		t.Fatalf("state=%s active=%d", c.State(), sched.active())
	}
	c.OnStateChange(BackendPlaying)
	if sched.active() != 1 {
		t.Fatalf("duplicate playing event started another loop")
	}
	c.OnStateChange(BackendPaused)
	if c.State() != StatePaused || sched.active() != 0 {
		t.Fatalf("state=%s active=%d", c.State(), sched.active())
	}
}

func TestSeekClamping(t *testing.T) {
	c, backend, _ := newReadyController(t)

	c.SeekVirtual(-5)
	if c.VirtualTime() != 0 {
		t.Fatalf("virtual = %v, want 0", c.VirtualTime())
	}
	if real, _ := backend.lastSeek(); real != 0 {
		t.Fatalf("real = %v, want 0", real)
	}

	c.SeekVirtual(100)
	if !almostEqual(c.VirtualTime(), 10) {
		t.Fatalf("virtual = %v, want 10", c.VirtualTime())
	}
	if real, _ := backend.lastSeek(); !almostEqual(real, 15) {
		t.Fatalf("real = %v, want 15", real)
	}

	c.SeekVirtual(math.NaN())
	if c.VirtualTime() != 0 {
		t.Fatalf("NaN seek: virtual = %v, want 0", c.VirtualTime())
	}
}

func TestSeekMapsIntoSecondRange(t *testing.T) {
	c, backend, _ := newReadyController(t)

	c.SeekVirtual(7)
	if real, _ := backend.lastSeek(); !almostEqual(real, 12) {
		t.Fatalf("real = %v, want 12", real)
	}
	first := c.Snapshot()

	c.SeekVirtual(7)
	second := c.Snapshot()
	if !first.equal(second) {
		t.Fatalf("repeated seek changed state: %+v vs %+v", first, second)
	}
	if second.RangeIndex != 1 {
		t.Fatalf("range index = %d, want 1", second.RangeIndex)
	}
}

func TestSeekingStateUntilBackendArrives(t *testing.T) {
	c, backend, _ := newReadyController(t)
	backend.deferSeeks = true

	c.SeekVirtual(7)
	if c.State() != StateSeeking {
		t.Fatalf("state = %s, want seeking", c.State())
	}
	if !almostEqual(c.VirtualTime(), 7) {
		t.Fatalf("optimistic virtual = %v, want 7", c.VirtualTime())
	}

	backend.applySeek()
	if c.State() != StateReady {
		t.Fatalf("state = %s, want ready", c.State())
	}
}

func TestPendingSeekHoldsOptimisticValue(t *testing.T) {
	c, backend, sched := newReadyController(t)
	c.Play()
	backend.setTime(1)
	sched.fire()

	backend.deferSeeks = true
	c.SeekVirtual(7)

	// 后端还报告旧位置，保留乐观值
	sched.fire()
	if !almostEqual(c.VirtualTime(), 7) {
		t.Fatalf("virtual = %v, want 7", c.VirtualTime())
	}

	// 超过等待次数后认定后端没有跟上，重新 seek 到预期位置
	seeks := backend.seekCount()
	sched.fire()
	if backend.seekCount() != seeks+1 {
		t.Fatalf("expected a resync seek")
	}
	if real, _ := backend.lastSeek(); !almostEqual(real, 12) {
		t.Fatalf("resync real = %v, want 12", real)
	}
	if !almostEqual(c.VirtualTime(), 7) {
		t.Fatalf("virtual = %v, want 7", c.VirtualTime())
	}

	backend.applySeek()
	sched.fire()
	if !almostEqual(c.VirtualTime(), 7) {
		t.Fatalf("virtual after arrival = %v, want 7", c.VirtualTime())
	}
}

func TestVirtualTimeIsMonotonicWhilePlaying(t *testing.T) {
	c, backend, sched := newReadyController(t)
	c.Play()

	backend.setTime(3)
	sched.fire()
	backend.setTime(2.95)
	sched.fire()
	if !almostEqual(c.VirtualTime(), 3) {
		t.Fatalf("virtual = %v, want 3", c.VirtualTime())
	}
}

func TestStaleLoopAfterPauseDoesNothing(t *testing.T) {
	c, backend, sched := newReadyController(t)
	c.Play()
	c.Pause()

	seeks := backend.seekCount()
	backend.setTime(4.95)
	sched.fireAll()

	if backend.seekCount() != seeks {
		t.Fatalf("stale tick issued a seek")
	}
	if c.VirtualTime() != 0 {
		t.Fatalf("stale tick moved virtual time to %v", c.VirtualTime())
	}
	if c.State() != StatePaused {
		t.Fatalf("state = %s, want paused", c.State())
	}
}

func TestSeekWhilePlayingRestartsLoop(t *testing.T) {
	c, backend, sched := newReadyController(t)
	c.Play()

	c.SeekVirtual(6)
	if c.State() != StatePlaying {
		t.Fatalf("state = %s, want playing", c.State())
	}
	if sched.active() != 1 {
		t.Fatalf("active loops = %d, want 1", sched.active())
	}

	backend.setTime(11.5)
	sched.fireAll()
	if !almostEqual(c.VirtualTime(), 6.5) {
		t.Fatalf("virtual = %v, want 6.5", c.VirtualTime())
	}
}

func TestPlayErrorLeavesStateUnchanged(t *testing.T) {
	c, backend, sched := newReadyController(t)
	backend.failPlay = errBackendBusy

	c.Play()
	if c.State() != StateReady {
		t.Fatalf("state = %s, want ready", c.State())
	}
	if sched.active() != 0 {
		t.Fatal("polling should not start when play fails")
	}
}

func TestSeekErrorKeepsPosition(t *testing.T) {
	c, backend, _ := newReadyController(t)
	c.SeekVirtual(3)
	backend.failSeek = errBackendBusy

	c.SeekVirtual(8)
	if !almostEqual(c.VirtualTime(), 3) {
		t.Fatalf("virtual = %v, want 3", c.VirtualTime())
	}
}

func TestCycleRate(t *testing.T) {
	c, backend, _ := newReadyController(t)

	if c.Rate() != 1 {
		t.Fatalf("rate = %v, want 1", c.Rate())
	}
	c.CycleRate()
	if c.Rate() != 2 || backend.rate != 2 {
		t.Fatalf("rate = %v backend = %v, want 2", c.Rate(), backend.rate)
	}
	c.CycleRate()
	if c.Rate() != 1 || backend.rate != 1 {
		t.Fatalf("rate = %v backend = %v, want 1", c.Rate(), backend.rate)
	}
}

func TestReductionPercent(t *testing.T) {
	tl := timeline.New([]model.Segment{{Start: 0, End: 5}, {Start: 10, End: 15}})
	c := NewController(tl, DefaultOptions())
	if _, ok := c.ReductionPercent(); ok {
		t.Fatal("reduction should be unknown before ready")
	}

	c, _, _ = newReadyControllerWith(t, tl)
	pct, ok := c.ReductionPercent()
	if !ok || !almostEqual(pct, 50) {
		t.Fatalf("reduction = %v (%v), want 50", pct, ok)
	}
}

func TestReplaceTimelineKeepsPosition(t *testing.T) {
	c, backend, sched := newReadyController(t)
	c.Play()
	backend.setTime(12)
	c.SeekVirtual(7)

	c.ReplaceTimeline(timeline.New([]model.Segment{{Start: 10, End: 15}}))
	if !almostEqual(c.VirtualTime(), 2) {
		t.Fatalf("virtual = %v, want 2", c.VirtualTime())
	}
	if real, _ := backend.lastSeek(); !almostEqual(real, 12) {
		t.Fatalf("real = %v, want 12", real)
	}
	if c.State() != StatePlaying || sched.active() != 1 {
		t.Fatalf("state=%s active=%d, want playing with one loop", c.State(), sched.active())
	}
}

func TestReplaceTimelineResetsWhenPositionRemoved(t *testing.T) {
	c, backend, _ := newReadyController(t)
	c.SeekVirtual(2)

	c.ReplaceTimeline(timeline.New([]model.Segment{{Start: 10, End: 15}}))
	if c.VirtualTime() != 0 {
		t.Fatalf("virtual = %v, want 0", c.VirtualTime())
	}
	if real, _ := backend.lastSeek(); !almostEqual(real, 10) {
		t.Fatalf("real = %v, want 10", real)
	}
}

func TestReplaceWithEmptyTimelinePauses(t *testing.T) {
	c, backend, sched := newReadyController(t)
	c.Play()

	c.ReplaceTimeline(timeline.New(nil))
	if c.IsPlayable() {
		t.Fatal("empty timeline should not be playable")
	}
	if c.State() != StatePaused {
		t.Fatalf("state = %s, want paused", c.State())
	}
	if backend.playing || sched.active() != 0 {
		t.Fatal("backend should be paused with no polling")
	}
}

func TestSubscribeReceivesChanges(t *testing.T) {
	c, backend, sched := newReadyController(t)

	var snaps []Snapshot
	c.Subscribe(func(s Snapshot) { snaps = append(snaps, s) })

	c.Play()
	if len(snaps) == 0 || !snaps[len(snaps)-1].Playing {
		t.Fatalf("expected a playing snapshot, got %+v", snaps)
	}

	n := len(snaps)
	sched.fire()
	if len(snaps) != n {
		t.Fatalf("unchanged tick should not notify")
	}

	backend.setTime(1)
	sched.fire()
	if len(snaps) != n+1 || !almostEqual(snaps[n].VirtualTime, 1) {
		t.Fatalf("expected snapshot at 1s, got %+v", snaps)
	}
}

func TestOnReadyWhilePlayingStopsPolling(t *testing.T) {
	c, _, sched := newReadyController(t)
	c.Play()
	if sched.active() != 1 {
		t.Fatalf("active loops = %d, want 1", sched.active())
	}

	c.OnReady(20)
	if sched.active() != 0 {
		t.Fatalf("active loops = %d after ready, want 0", sched.active())
	}
	if c.State() != StateReady {
		t.Fatalf("state = %s, want ready", c.State())
	}
}

func TestListenersSeeSnapshotsInOrder(t *testing.T) {
	c, backend, sched := newReadyController(t)
	c.Play()
	backend.setTime(1)
	sched.fire()

	var (
		mu    sync.Mutex
		seen  []float64
		calls int
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	c.Subscribe(func(s Snapshot) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		// 第一次回调（CycleRate 的快照）卡住，让轮询先推进
		if n == 1 {
			close(entered)
			<-release
		}
		mu.Lock()
		seen = append(seen, s.VirtualTime)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.CycleRate()
	}()
	<-entered

	backend.setTime(3)
	go func() {
		defer wg.Done()
		sched.fire()
	}()
	deadline := time.Now().Add(time.Second)
	for !almostEqual(c.VirtualTime(), 3) {
		if time.Now().After(deadline) {
			t.Fatal("tick did not advance virtual time")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("virtual time went backwards: %v", seen)
		}
	}
	if len(seen) == 0 || !almostEqual(seen[len(seen)-1], 3) {
		t.Fatalf("last snapshot = %v, want 3", seen)
	}
}

func TestCloseReleasesBackend(t *testing.T) {
	c, backend, sched := newReadyController(t)
	c.Play()

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if !backend.closed {
		t.Fatal("backend should be closed")
	}
	if sched.active() != 0 {
		t.Fatal("polling should stop on close")
	}
	if c.State() != StateUninitialized {
		t.Fatalf("state = %s, want uninitialized", c.State())
	}
	c.Play()
}

func TestBackendNotReadyTickIsIgnored(t *testing.T) {
	c, backend, sched := newReadyController(t)
	c.Play()
	backend.setTime(2)
	sched.fire()

	backend.notReady = true
	sched.fire()
	if !almostEqual(c.VirtualTime(), 2) {
		t.Fatalf("virtual = %v, want 2", c.VirtualTime())
	}
}
