package player

// State 控制器状态
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StatePlaying       State = "playing"
	StatePaused        State = "paused"
	StateSeeking       State = "seeking"
	StateEnded         State = "ended"
)

// Snapshot 推送给展示层的播放状态
type Snapshot struct {
	State            State    `json:"state"`
	Playing          bool     `json:"playing"`
	VirtualTime      float64  `json:"virtualTime"`
	TotalDuration    float64  `json:"totalDuration"`
	Rate             float64  `json:"rate"`
	Playable         bool     `json:"playable"`
	RangeIndex       int      `json:"rangeIndex"`
	ReductionPercent *float64 `json:"reductionPercent,omitempty"`
}

func (s Snapshot) equal(o Snapshot) bool {
	if s.State != o.State || s.Playing != o.Playing || s.VirtualTime != o.VirtualTime ||
		s.TotalDuration != o.TotalDuration || s.Rate != o.Rate || s.Playable != o.Playable ||
		s.RangeIndex != o.RangeIndex {
		return false
	}
	if (s.ReductionPercent == nil) != (o.ReductionPercent == nil) {
		return false
	}
	return s.ReductionPercent == nil || *s.ReductionPercent == *o.ReductionPercent
}
