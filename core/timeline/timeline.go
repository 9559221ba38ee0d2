package timeline

import (
	"math"
	"sort"

	"TLDRTube/model"
)

// Timeline 虚拟时间（拼接后）与真实时间（源视频）之间的映射
// 构建后不可变，可在多个 goroutine 中并发读取
type Timeline struct {
	ranges     []model.Segment
	cumulative []float64
	total      float64
}

// New 基于合并后的区间构建映射
// ranges 必须是 Merge 的输出：升序且互不重叠
func New(ranges []model.Segment) *Timeline {
	t := &Timeline{
		ranges:     append([]model.Segment(nil), ranges...),
		cumulative: make([]float64, len(ranges)),
	}
	for i, r := range t.ranges {
		t.cumulative[i] = t.total
		t.total += r.Duration()
	}
	return t
}

// Build 合并并构建映射
func Build(tracks []model.SpeakerTrack, excluded model.ExclusionSet, opts MergeOptions) *Timeline {
	return New(Merge(tracks, excluded, opts))
}

// Len 区间数量
func (t *Timeline) Len() int {
	return len(t.ranges)
}

// Empty 是否没有可播放内容
func (t *Timeline) Empty() bool {
	return len(t.ranges) == 0 || t.total <= 0
}

// TotalDuration 虚拟总时长
func (t *Timeline) TotalDuration() float64 {
	return t.total
}

// Ranges 返回区间副本
func (t *Timeline) Ranges() []model.Segment {
	return append([]model.Segment(nil), t.ranges...)
}

// Offsets 返回每个区间的虚拟起点副本
func (t *Timeline) Offsets() []float64 {
	return append([]float64(nil), t.cumulative...)
}

// Range 第 i 个区间
func (t *Timeline) Range(i int) model.Segment {
	return t.ranges[i]
}

// Offset 第 i 个区间的虚拟起点
func (t *Timeline) Offset(i int) float64 {
	return t.cumulative[i]
}

// RangeEnd 第 i 个区间的虚拟终点
func (t *Timeline) RangeEnd(i int) float64 {
	return t.cumulative[i] + t.ranges[i].Duration()
}

// IndexOfReal 查找包含真实时间的区间，不做钳制
func (t *Timeline) IndexOfReal(real float64) (int, bool) {
	i := t.PrecedingIndex(real)
	if i >= 0 && t.ranges[i].Contains(real) {
		return i, true
	}
	return -1, false
}

// PrecedingIndex 返回 Start <= real 的最后一个区间，real 在所有区间之前时返回 -1
func (t *Timeline) PrecedingIndex(real float64) int {
	return sort.Search(len(t.ranges), func(i int) bool {
		return t.ranges[i].Start > real
	}) - 1
}

// IndexOfVirtual 查找虚拟时间所在区间，越界时钳制到首/尾区间
func (t *Timeline) IndexOfVirtual(virtual float64) int {
	if len(t.ranges) == 0 {
		return -1
	}
	i := sort.Search(len(t.cumulative), func(i int) bool {
		return t.cumulative[i] > virtual
	}) - 1
	if i < 0 {
		return 0
	}
	return i
}

// RealToVirtual 真实时间转虚拟时间
// 在所有区间之前钳制到 0，之后钳制到总时长；落在被排除的间隙中时钳制到前一个区间的终点
func (t *Timeline) RealToVirtual(real float64) float64 {
	if len(t.ranges) == 0 || math.IsNaN(real) {
		return 0
	}
	i := t.PrecedingIndex(real)
	if i < 0 {
		return 0
	}
	r := t.ranges[i]
	if real >= r.End {
		return t.RangeEnd(i)
	}
	return t.cumulative[i] + (real - r.Start)
}

// VirtualToReal 虚拟时间转真实时间，先钳制到 [0, TotalDuration]
func (t *Timeline) VirtualToReal(virtual float64) float64 {
	if len(t.ranges) == 0 {
		return 0
	}
	v := t.Clamp(virtual)
	if v >= t.total {
		return t.ranges[len(t.ranges)-1].End
	}
	i := t.IndexOfVirtual(v)
	return t.ranges[i].Start + (v - t.cumulative[i])
}

// Clamp 将虚拟时间钳制到 [0, TotalDuration]
func (t *Timeline) Clamp(virtual float64) float64 {
	if math.IsNaN(virtual) || virtual < 0 {
		return 0
	}
	if virtual > t.total {
		return t.total
	}
	return virtual
}
