package player

import "errors"

// BackendState 媒体后端上报的播放状态
type BackendState string

const (
	BackendPlaying BackendState = "playing"
	BackendPaused  BackendState = "paused"
	BackendEnded   BackendState = "ended"
)

// ErrBackendNotReady 后端尚未就绪（onReady 之前）
var ErrBackendNotReady = errors.New("media backend not ready")

// MediaBackend 只理解真实时间的单流媒体后端（例如网页中嵌入的播放器）
// 控制器是它唯一的调用方；Seek 为异步操作，调用返回不代表已完成
type MediaBackend interface {
	Play() error
	Pause() error
	SeekTo(real float64, allowSeekAhead bool) error
	// CurrentTime 当前真实播放位置，就绪前可能返回 ErrBackendNotReady 或过期的值
	CurrentTime() (float64, error)
	Duration() (float64, error)
	SetPlaybackRate(rate float64) error
	// Close 释放后端资源，控制器销毁时调用
	Close() error
}
