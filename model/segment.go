package model

import (
	"math"
	"sort"
)

// Segment 源视频中的一段真实时间区间（秒），左闭右开 [Start, End)
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration 区间长度
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Valid 检查区间是否合法：有限值、Start >= 0、End > Start
func (s Segment) Valid() bool {
	if math.IsNaN(s.Start) || math.IsNaN(s.End) || math.IsInf(s.Start, 0) || math.IsInf(s.End, 0) {
		return false
	}
	return s.Start >= 0 && s.End > s.Start
}

// Contains 判断真实时间是否落在区间内
func (s Segment) Contains(real float64) bool {
	return real >= s.Start && real < s.End
}

// SpeakerTrack 单个说话人的全部发言区间
// 输入时 Segments 不要求有序，也不要求互不重叠
type SpeakerTrack struct {
	ID               string    `json:"id"`
	TotalTime        float64   `json:"totalTime"`
	SegmentCount     int       `json:"segmentCount"`
	AvgSegmentLength float64   `json:"avgSegmentLength"`
	Segments         []Segment `json:"segments"`
}

// DiarizationEntry 说话人分离的原始输出（一条发言）
type DiarizationEntry struct {
	SpeakerID string  `json:"speaker_id"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

// ExclusionSet 不参与播放的说话人集合
type ExclusionSet map[string]struct{}

// NewExclusionSet 创建排除集合
func NewExclusionSet(ids ...string) ExclusionSet {
	set := make(ExclusionSet, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// Has 是否已排除；nil 集合视为空
func (s ExclusionSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add 排除说话人
func (s ExclusionSet) Add(id string) {
	s[id] = struct{}{}
}

// Remove 取消排除
func (s ExclusionSet) Remove(id string) {
	delete(s, id)
}

// Toggle 切换排除状态，返回切换后是否被排除
func (s ExclusionSet) Toggle(id string) bool {
	if s.Has(id) {
		delete(s, id)
		return false
	}
	s[id] = struct{}{}
	return true
}

// Clone 复制集合
func (s ExclusionSet) Clone() ExclusionSet {
	out := make(ExclusionSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// IDs 返回排序后的说话人ID
func (s ExclusionSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
