package room

import (
	"errors"
	"math"
	"sync"
	"time"

	"TLDRTube/core/player"
)

// ErrBackendClosed 播放器连接已断开
var ErrBackendClosed = errors.New("room: remote player closed")

// RemoteBackend 通过 WebSocket 驱动浏览器中的嵌入式播放器
// 指令异步下发；播放位置取最近一次上报值，播放中按倍速外推
type RemoteBackend struct {
	mu   sync.Mutex
	send func(*WSMessage) error
	now  func() time.Time

	ready      bool
	closed     bool
	duration   float64
	current    float64
	reportedAt time.Time
	playing    bool
	rate       float64
}

// NewRemoteBackend 创建远程后端，send 负责把指令写给播放器客户端
func NewRemoteBackend(send func(*WSMessage) error) *RemoteBackend {
	return &RemoteBackend{send: send, now: time.Now, rate: 1}
}

// ========== player.MediaBackend ==========

func (b *RemoteBackend) Play() error {
	return b.command(MsgTypeCmdPlay, nil)
}

func (b *RemoteBackend) Pause() error {
	return b.command(MsgTypeCmdPause, nil)
}

func (b *RemoteBackend) SeekTo(real float64, allowSeekAhead bool) error {
	if err := b.command(MsgTypeCmdSeekTo, SeekToData{Seconds: real, AllowSeekAhead: allowSeekAhead}); err != nil {
		return err
	}
	b.mu.Lock()
	b.current = real
	b.reportedAt = b.now()
	b.mu.Unlock()
	return nil
}

func (b *RemoteBackend) CurrentTime() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return 0, player.ErrBackendNotReady
	}
	t := b.current
	if b.playing {
		t += b.now().Sub(b.reportedAt).Seconds() * b.rate
	}
	if b.duration > 0 {
		t = math.Min(t, b.duration)
	}
	return t, nil
}

func (b *RemoteBackend) Duration() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return 0, player.ErrBackendNotReady
	}
	return b.duration, nil
}

func (b *RemoteBackend) SetPlaybackRate(rate float64) error {
	if err := b.command(MsgTypeCmdSetRate, RateData{Rate: rate}); err != nil {
		return err
	}
	b.mu.Lock()
	b.rebaseLocked()
	b.rate = rate
	b.mu.Unlock()
	return nil
}

func (b *RemoteBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.ready = false
	b.mu.Unlock()
	return nil
}

// ========== 播放器上报 ==========

// MarkReady 播放器就绪
func (b *RemoteBackend) MarkReady(duration float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = true
	if duration > 0 && !math.IsInf(duration, 0) {
		b.duration = duration
	}
	b.reportedAt = b.now()
}

// ReportTime 更新真实播放位置
func (b *RemoteBackend) ReportTime(t float64) {
	if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
		return
	}
	b.mu.Lock()
	b.current = t
	b.reportedAt = b.now()
	b.mu.Unlock()
}

// ReportState 更新播放状态
func (b *RemoteBackend) ReportState(s player.BackendState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rebaseLocked()
	b.playing = s == player.BackendPlaying
}

// rebaseLocked 把外推的位置固定下来，倍速或状态变化前调用
func (b *RemoteBackend) rebaseLocked() {
	now := b.now()
	if b.playing {
		b.current += now.Sub(b.reportedAt).Seconds() * b.rate
	}
	b.reportedAt = now
}

func (b *RemoteBackend) command(t MessageType, data interface{}) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBackendClosed
	}

	msg, err := newMessage(t, data)
	if err != nil {
		return err
	}
	return b.send(msg)
}
