package player

import (
	"errors"
	"math"
	"sync"
	"time"

	"TLDRTube/core/timeline"
	"TLDRTube/logger"
)

var (
	// ErrNilBackend Initialize 传入了空后端
	ErrNilBackend = errors.New("player: nil media backend")
	// ErrAlreadyInitialized 控制器已经绑定过后端
	ErrAlreadyInitialized = errors.New("player: controller already initialized")
)

// Options 控制器参数
type Options struct {
	// Rates 倍速循环列表
	Rates []float64
	// Epsilon 区间边界判定容差（秒）
	Epsilon float64
	// ReplayEpsilon 距离结尾小于该值时 Play 从头开始
	ReplayEpsilon float64
	// DriftTolerance 真实位置与预期位置偏差超过该值时重新 seek
	DriftTolerance float64
	// SeekSettleWindow seek 目标之后多长范围内认为后端已到位
	SeekSettleWindow float64
	// MaxPendingTicks seek 未确认时最多保留乐观值的 tick 数
	MaxPendingTicks int
	// PollInterval 轮询间隔
	PollInterval time.Duration
	// Scheduler 轮询任务调度器，为空时使用 TickerScheduler
	Scheduler Scheduler
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		Rates:            []float64{1, 2},
		Epsilon:          0.1,
		ReplayEpsilon:    0.05,
		DriftTolerance:   0.2,
		SeekSettleWindow: 1.0,
		MaxPendingTicks:  1,
		PollInterval:     50 * time.Millisecond,
	}
}

type pendingSeek struct {
	target float64
	ticks  int
}

// Controller 在只支持真实时间的后端之上呈现一条无间隙的虚拟时间线
// 所有状态由 mu 保护；公开方法和轮询 tick 都在锁内串行执行
type Controller struct {
	mu        sync.Mutex
	opts      Options
	scheduler Scheduler

	backend  MediaBackend
	timeline *timeline.Timeline

	state            State
	ready            bool
	virtual          float64
	rangeIdx         int
	rateIdx          int
	originalDuration float64
	pending          *pendingSeek

	// 每次离开 Playing 都会递增，旧的轮询任务据此失效
	generation uint64
	cancelPoll func()

	listeners []func(Snapshot)
	published Snapshot
	hasPub    bool
	pubSeq    uint64

	// notifyMu 串行化监听回调；delivered 为最后送达的快照序号，由 notifyMu 保护
	notifyMu  sync.Mutex
	delivered uint64
}

// NewController 创建控制器
func NewController(tl *timeline.Timeline, opts Options) *Controller {
	def := DefaultOptions()
	if len(opts.Rates) == 0 {
		opts.Rates = def.Rates
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = def.Epsilon
	}
	if opts.ReplayEpsilon <= 0 {
		opts.ReplayEpsilon = def.ReplayEpsilon
	}
	if opts.DriftTolerance <= 0 {
		opts.DriftTolerance = def.DriftTolerance
	}
	if opts.SeekSettleWindow <= 0 {
		opts.SeekSettleWindow = def.SeekSettleWindow
	}
	if opts.MaxPendingTicks < 0 {
		opts.MaxPendingTicks = 0
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = TickerScheduler{}
	}
	if tl == nil {
		tl = timeline.New(nil)
	}

	return &Controller{
		opts:      opts,
		scheduler: scheduler,
		timeline:  tl,
		state:     StateUninitialized,
	}
}

// Subscribe 注册状态监听，回调在锁外按快照顺序串行执行
// 回调内不能调用控制器的方法
func (c *Controller) Subscribe(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// ========== 生命周期 ==========

// Initialize 绑定媒体后端，等待 OnReady
func (c *Controller) Initialize(backend MediaBackend) error {
	if backend == nil {
		return ErrNilBackend
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend != nil {
		return ErrAlreadyInitialized
	}
	c.backend = backend
	c.ready = false
	c.state = StateUninitialized
	return nil
}

// OnReady 后端就绪通知
func (c *Controller) OnReady(duration float64) {
	c.run(func() {
		if c.backend == nil {
			return
		}
		if !(duration > 0) || math.IsInf(duration, 0) {
			if d, err := c.backend.Duration(); err == nil && d > 0 && !math.IsInf(d, 0) {
				duration = d
			}
		}
		if duration > 0 && !math.IsInf(duration, 0) {
			c.originalDuration = duration
		}

		c.stopPollingLocked()
		c.ready = true
		c.state = StateReady
		if rate := c.opts.Rates[c.rateIdx]; rate != 1 {
			if err := c.backend.SetPlaybackRate(rate); err != nil {
				logger.Warn("恢复播放倍速失败", logger.Float64("rate", rate), logger.ErrorField(err))
			}
		}
		if !c.timeline.Empty() {
			c.seekLocked(0)
		}

		logger.Debug("播放器就绪",
			logger.Float64("originalDuration", c.originalDuration),
			logger.Float64("totalDuration", c.timeline.TotalDuration()),
			logger.Int("ranges", c.timeline.Len()))
	})
}

// OnStateChange 后端状态变化通知
func (c *Controller) OnStateChange(s BackendState) {
	c.run(func() {
		if !c.operable() {
			return
		}
		switch s {
		case BackendPlaying:
			if c.state != StatePlaying {
				c.state = StatePlaying
				c.startPollingLocked()
			}
		case BackendPaused:
			if c.state == StatePlaying {
				c.stopPollingLocked()
				c.state = StatePaused
			}
		case BackendEnded:
			c.stopPollingLocked()
			if c.rangeIdx >= c.timeline.Len()-1 {
				c.virtual = c.timeline.TotalDuration()
				c.pending = nil
				c.state = StateEnded
			} else if c.state == StatePlaying {
				c.state = StatePaused
			}
		}
	})
}

// Close 销毁控制器并释放后端
func (c *Controller) Close() error {
	c.mu.Lock()
	c.stopPollingLocked()
	backend := c.backend
	c.backend = nil
	c.ready = false
	c.pending = nil
	c.state = StateUninitialized
	c.listeners = nil
	c.mu.Unlock()

	if backend == nil {
		return nil
	}
	return backend.Close()
}

// ========== 播放控制 ==========

// Play 开始播放；已到结尾时从头播放
func (c *Controller) Play() {
	c.run(c.playLocked)
}

// Pause 暂停播放
func (c *Controller) Pause() {
	c.run(c.pauseLocked)
}

// TogglePlayPause 播放/暂停切换
func (c *Controller) TogglePlayPause() {
	c.run(func() {
		if c.state == StatePlaying {
			c.pauseLocked()
		} else {
			c.playLocked()
		}
	})
}

// SeekVirtual 跳转到虚拟时间 v，v 会被钳制到 [0, TotalDuration]
func (c *Controller) SeekVirtual(v float64) {
	c.run(func() {
		if !c.operable() {
			return
		}
		wasPlaying := c.state == StatePlaying
		if wasPlaying {
			c.stopPollingLocked()
		}

		if c.seekLocked(v) && c.state == StateEnded && c.virtual < c.timeline.TotalDuration()-c.opts.ReplayEpsilon {
			c.state = StatePaused
		}

		if wasPlaying {
			c.startPollingLocked()
		}
	})
}

// CycleRate 切换到下一个倍速
func (c *Controller) CycleRate() {
	c.run(func() {
		if !c.operable() {
			return
		}
		next := (c.rateIdx + 1) % len(c.opts.Rates)
		rate := c.opts.Rates[next]
		if err := c.backend.SetPlaybackRate(rate); err != nil {
			logger.Warn("设置播放倍速失败", logger.Float64("rate", rate), logger.ErrorField(err))
			return
		}
		c.rateIdx = next
	})
}

// ReplaceTimeline 更换时间线（排除集合变化后重新计算）
// 若当前真实位置仍在新时间线的某个区间内则保持位置，否则回到 0
func (c *Controller) ReplaceTimeline(tl *timeline.Timeline) {
	if tl == nil {
		tl = timeline.New(nil)
	}
	c.run(func() {
		old := c.timeline
		var realPos float64
		hasPos := !old.Empty()
		if hasPos {
			realPos = old.VirtualToReal(c.virtual)
		}
		c.timeline = tl

		if !c.ready || c.backend == nil {
			c.virtual = 0
			c.rangeIdx = 0
			c.pending = nil
			return
		}

		wasPlaying := c.state == StatePlaying
		c.stopPollingLocked()

		if tl.Empty() {
			if wasPlaying {
				if err := c.backend.Pause(); err != nil {
					logger.Warn("时间线为空，暂停后端失败", logger.ErrorField(err))
				}
			}
			c.virtual = 0
			c.rangeIdx = 0
			c.pending = nil
			if c.state != StateReady {
				c.state = StatePaused
			}
			return
		}

		target := 0.0
		if hasPos {
			if _, ok := tl.IndexOfReal(realPos); ok {
				target = tl.RealToVirtual(realPos)
			}
		}
		c.seekLocked(target)
		if c.state == StateEnded {
			c.state = StatePaused
		}

		if wasPlaying {
			c.state = StatePlaying
			c.startPollingLocked()
		}

		logger.Debug("时间线已更新",
			logger.Float64("target", target),
			logger.Float64("totalDuration", tl.TotalDuration()),
			logger.Int("ranges", tl.Len()))
	})
}

// Tick 执行一次轮询步骤，仅在 Playing 状态下生效
func (c *Controller) Tick() {
	c.run(func() {
		if c.state == StatePlaying && c.operable() {
			c.tickLocked()
		}
	})
}

// ========== 查询 ==========

// VirtualTime 当前虚拟时间
func (c *Controller) VirtualTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.virtual
}

// TotalDuration 虚拟总时长
func (c *Controller) TotalDuration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeline.TotalDuration()
}

// ReductionPercent 相对原视频缩短的百分比，原时长未知时 ok 为 false
func (c *Controller) ReductionPercent() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reductionLocked()
}

// IsPlayable 时间线非空
func (c *Controller) IsPlayable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.timeline.Empty()
}

// State 当前状态；存在未确认的 seek 时返回 StateSeeking
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settleLocked()
	return c.stateLocked()
}

// Rate 当前倍速
func (c *Controller) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.Rates[c.rateIdx]
}

// Snapshot 当前状态快照
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settleLocked()
	return c.snapshotLocked()
}

// ========== 内部实现（调用方持有 mu） ==========

// run 在锁内执行 fn，状态变化后在锁外通知监听者
// 快照在 mu 内编号；送达时已有更新的快照送达则丢弃，监听者看到的状态不会倒退
func (c *Controller) run(fn func()) {
	c.mu.Lock()
	fn()
	c.settleLocked()
	snap := c.snapshotLocked()
	var listeners []func(Snapshot)
	var seq uint64
	if !c.hasPub || !snap.equal(c.published) {
		c.published = snap
		c.hasPub = true
		c.pubSeq++
		seq = c.pubSeq
		listeners = append(listeners, c.listeners...)
	}
	c.mu.Unlock()

	if len(listeners) == 0 {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if seq <= c.delivered {
		return
	}
	c.delivered = seq
	for _, l := range listeners {
		l(snap)
	}
}

func (c *Controller) operable() bool {
	return c.ready && c.backend != nil && !c.timeline.Empty()
}

// settleLocked 后端已到达 seek 目标时结束 Seeking
func (c *Controller) settleLocked() {
	if c.pending == nil || c.backend == nil {
		return
	}
	real, err := c.backend.CurrentTime()
	if err != nil {
		return
	}
	if c.arrived(real, c.pending.target) {
		c.pending = nil
	}
}

func (c *Controller) arrived(real, target float64) bool {
	return real >= target-c.opts.Epsilon && real < target+c.opts.SeekSettleWindow
}

func (c *Controller) stateLocked() State {
	if c.pending != nil {
		switch c.state {
		case StateReady, StatePlaying, StatePaused:
			return StateSeeking
		}
	}
	return c.state
}

func (c *Controller) reductionLocked() (float64, bool) {
	if c.originalDuration <= 0 {
		return 0, false
	}
	return 100 * (1 - c.timeline.TotalDuration()/c.originalDuration), true
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:         c.stateLocked(),
		Playing:       c.state == StatePlaying,
		VirtualTime:   c.virtual,
		TotalDuration: c.timeline.TotalDuration(),
		Rate:          c.opts.Rates[c.rateIdx],
		Playable:      !c.timeline.Empty(),
		RangeIndex:    c.rangeIdx,
	}
	if pct, ok := c.reductionLocked(); ok {
		snap.ReductionPercent = &pct
	}
	return snap
}

func (c *Controller) playLocked() {
	if !c.operable() || c.state == StatePlaying {
		return
	}

	total := c.timeline.TotalDuration()
	if c.virtual >= total-c.opts.ReplayEpsilon {
		c.seekLocked(0)
	} else {
		expected := c.timeline.VirtualToReal(c.virtual)
		real, err := c.backend.CurrentTime()
		if err != nil || math.IsNaN(real) || math.Abs(real-expected) > c.opts.DriftTolerance {
			c.seekLocked(c.virtual)
		}
	}

	if err := c.backend.Play(); err != nil {
		logger.Warn("后端播放失败", logger.ErrorField(err))
		return
	}
	c.state = StatePlaying
	c.startPollingLocked()
}

func (c *Controller) pauseLocked() {
	if !c.operable() || c.state != StatePlaying {
		return
	}
	if err := c.backend.Pause(); err != nil {
		logger.Warn("后端暂停失败", logger.ErrorField(err))
		return
	}
	c.stopPollingLocked()
	c.state = StatePaused
}

// seekLocked 乐观更新虚拟时间并发出异步 seek
func (c *Controller) seekLocked(v float64) bool {
	tl := c.timeline
	v = tl.Clamp(v)
	real := tl.VirtualToReal(v)

	if err := c.backend.SeekTo(real, true); err != nil {
		logger.Warn("后端 seek 失败",
			logger.Float64("virtual", v),
			logger.Float64("real", real),
			logger.ErrorField(err))
		return false
	}

	c.virtual = v
	if v >= tl.TotalDuration() {
		c.rangeIdx = tl.Len() - 1
	} else {
		c.rangeIdx = tl.IndexOfVirtual(v)
	}
	c.pending = &pendingSeek{target: real}
	return true
}

func (c *Controller) tickLocked() {
	real, err := c.backend.CurrentTime()
	if err != nil || math.IsNaN(real) {
		logger.Debug("读取后端播放位置失败", logger.ErrorField(err))
		return
	}

	tl := c.timeline
	eps := c.opts.Epsilon

	if p := c.pending; p != nil {
		if !c.arrived(real, p.target) && p.ticks < c.opts.MaxPendingTicks {
			p.ticks++
			return
		}
		c.pending = nil
	}

	v := tl.RealToVirtual(real)
	if i, ok := tl.IndexOfReal(real); ok {
		c.rangeIdx = i
	}
	if c.rangeIdx < 0 || c.rangeIdx >= tl.Len() {
		c.rangeIdx = tl.IndexOfVirtual(c.virtual)
	}

	idx := c.rangeIdx
	cur := tl.Range(idx)
	segEnd := tl.RangeEnd(idx)
	atEnd := v >= segEnd-eps || real >= cur.End-eps

	if real < cur.Start-eps || atEnd {
		if atEnd && idx+1 < tl.Len() {
			c.crossLocked(idx + 1)
			return
		}
		last := tl.Range(tl.Len() - 1)
		if v >= tl.TotalDuration()-eps || real >= last.End-eps {
			c.endLocked()
			return
		}
		// 后端落在当前区间之前（过期的上报或自行回退），拉回到预期位置
		c.resyncLocked()
		return
	}

	if v < c.virtual-c.opts.DriftTolerance {
		c.resyncLocked()
		return
	}
	c.advanceLocked(v)
}

// crossLocked 跳过被排除的间隙，进入下一个区间
func (c *Controller) crossLocked(next int) {
	target := c.timeline.Range(next).Start
	if err := c.backend.SeekTo(target, true); err != nil {
		logger.Warn("跨区间 seek 失败",
			logger.Int("range", next),
			logger.Float64("real", target),
			logger.ErrorField(err))
		return
	}
	c.rangeIdx = next
	c.pending = &pendingSeek{target: target}
	c.advanceLocked(c.timeline.Offset(next))
}

func (c *Controller) resyncLocked() {
	target := c.timeline.VirtualToReal(c.virtual)
	if err := c.backend.SeekTo(target, true); err != nil {
		logger.Warn("重新同步后端位置失败", logger.Float64("real", target), logger.ErrorField(err))
		return
	}
	c.pending = &pendingSeek{target: target}
}

func (c *Controller) endLocked() {
	if err := c.backend.Pause(); err != nil {
		logger.Warn("播放结束时暂停后端失败", logger.ErrorField(err))
	}
	c.stopPollingLocked()
	c.virtual = c.timeline.TotalDuration()
	c.rangeIdx = c.timeline.Len() - 1
	c.pending = nil
	c.state = StateEnded
}

// advanceLocked 虚拟时间只前进不后退
func (c *Controller) advanceLocked(v float64) {
	v = c.timeline.Clamp(v)
	if v > c.virtual {
		c.virtual = v
	}
}

func (c *Controller) startPollingLocked() {
	c.stopPollingLocked()
	gen := c.generation
	c.cancelPoll = c.scheduler.Every(c.opts.PollInterval, func() {
		c.pollTick(gen)
	})
}

func (c *Controller) stopPollingLocked() {
	c.generation++
	if c.cancelPoll != nil {
		c.cancelPoll()
		c.cancelPoll = nil
	}
}

func (c *Controller) pollTick(gen uint64) {
	c.run(func() {
		if gen != c.generation || c.state != StatePlaying || !c.operable() {
			return
		}
		c.tickLocked()
	})
}
