package timeline

import (
	"math"
	"sort"

	"TLDRTube/model"
)

// MergeOptions 合并参数
type MergeOptions struct {
	// Padding 每个发言区间两侧各扩展的秒数
	Padding float64
	// GapThreshold 相邻区间间隔小于该值时合并
	GapThreshold float64
}

// DefaultMergeOptions 默认合并参数
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{Padding: 0.1, GapThreshold: 1.0}
}

// Merge 将未被排除的说话人区间合并为有序且互不重叠的播放区间
// 非法区间（End <= Start、NaN、负数）单独丢弃，不影响其余区间
func Merge(tracks []model.SpeakerTrack, excluded model.ExclusionSet, opts MergeOptions) []model.Segment {
	padding := sanitize(opts.Padding)
	gap := sanitize(opts.GapThreshold)

	candidates := make([]model.Segment, 0)
	for _, track := range tracks {
		if excluded.Has(track.ID) {
			continue
		}
		for _, seg := range track.Segments {
			if !seg.Valid() {
				continue
			}
			candidates = append(candidates, model.Segment{
				Start: math.Max(0, seg.Start-padding),
				End:   seg.End + padding,
			})
		}
	}

	if len(candidates) == 0 {
		return []model.Segment{}
	}

	// 按 Start 排序，Start 相同再按 End，保证结果与输入顺序无关
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		return candidates[i].End < candidates[j].End
	})

	merged := make([]model.Segment, 0, len(candidates))
	current := candidates[0]
	for _, next := range candidates[1:] {
		// 重叠的区间必须合并，即使 gap 为 0
		if next.Start-current.End < gap || next.Start < current.End {
			current.End = math.Max(current.End, next.End)
			continue
		}
		merged = append(merged, current)
		current = next
	}
	merged = append(merged, current)

	return merged
}

// TotalDuration 区间总时长
func TotalDuration(ranges []model.Segment) float64 {
	total := 0.0
	for _, r := range ranges {
		total += r.Duration()
	}
	return total
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
