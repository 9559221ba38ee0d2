package speakers

import (
	"sort"

	"TLDRTube/logger"
	"TLDRTube/model"
)

// UnknownSpeakerID 分离结果缺少说话人标签时使用
const UnknownSpeakerID = "unknown"

// 主持人判定阈值：发言次数多且很早出现
const (
	hostMinSegments       = 10
	hostMaxFirstAppearSec = 30.0
	guestBufferSec        = 0.1
)

// BuildTracks 将说话人分离的原始条目按说话人聚合
// 非法条目被丢弃；结果按总发言时长降序，时长相同按ID排序
func BuildTracks(entries []model.DiarizationEntry) []model.SpeakerTrack {
	grouped := make(map[string][]model.Segment)
	for _, e := range entries {
		seg := model.Segment{Start: e.Start, End: e.End}
		if !seg.Valid() {
			continue
		}
		id := e.SpeakerID
		if id == "" {
			id = UnknownSpeakerID
		}
		grouped[id] = append(grouped[id], seg)
	}

	tracks := make([]model.SpeakerTrack, 0, len(grouped))
	for id, segs := range grouped {
		sort.Slice(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
		tracks = append(tracks, newTrack(id, segs))
	}
	sortTracks(tracks)
	return tracks
}

// Recompute 根据区间重新计算统计字段
func Recompute(track model.SpeakerTrack) model.SpeakerTrack {
	return newTrack(track.ID, track.Segments)
}

func newTrack(id string, segs []model.Segment) model.SpeakerTrack {
	track := model.SpeakerTrack{ID: id, Segments: segs}
	for _, s := range segs {
		if !s.Valid() {
			continue
		}
		track.TotalTime += s.Duration()
		track.SegmentCount++
	}
	if track.SegmentCount > 0 {
		track.AvgSegmentLength = track.TotalTime / float64(track.SegmentCount)
	}
	return track
}

func sortTracks(tracks []model.SpeakerTrack) {
	sort.SliceStable(tracks, func(i, j int) bool {
		if tracks[i].TotalTime != tracks[j].TotalTime {
			return tracks[i].TotalTime > tracks[j].TotalTime
		}
		return tracks[i].ID < tracks[j].ID
	})
}

// IdentifyHost 推测主持人：总发言时长最长的说话人
// 说话人标签全部未知时依次回退到 SPEAKER_00、SPEAKER_01、时长最长者
func IdentifyHost(tracks []model.SpeakerTrack) string {
	if len(tracks) == 0 {
		return ""
	}

	var top *model.SpeakerTrack
	allUnknown := true
	for i := range tracks {
		t := &tracks[i]
		if t.ID != UnknownSpeakerID {
			allUnknown = false
		}
		if top == nil || t.TotalTime > top.TotalTime || (t.TotalTime == top.TotalTime && t.ID < top.ID) {
			top = t
		}
	}

	if top.ID == UnknownSpeakerID || allUnknown {
		for _, id := range []string{"SPEAKER_00", "SPEAKER_01"} {
			for _, t := range tracks {
				if t.ID == id {
					return id
				}
			}
		}
		return top.ID
	}

	if top.SegmentCount > hostMinSegments && firstAppearance(*top) < hostMaxFirstAppearSec {
		logger.Debug("主持人判定置信度高",
			logger.String("speaker", top.ID),
			logger.Int("segments", top.SegmentCount))
	}
	return top.ID
}

func firstAppearance(track model.SpeakerTrack) float64 {
	first := -1.0
	for _, s := range track.Segments {
		if !s.Valid() {
			continue
		}
		if first < 0 || s.Start < first {
			first = s.Start
		}
	}
	if first < 0 {
		return hostMaxFirstAppearSec
	}
	return first
}

// GuestSegments 除主持人以外所有说话人的区间，两端各留 0.1 秒余量，按起点排序
func GuestSegments(tracks []model.SpeakerTrack, host string) []model.Segment {
	out := make([]model.Segment, 0)
	for _, t := range tracks {
		if t.ID == host {
			continue
		}
		for _, s := range t.Segments {
			if !s.Valid() {
				continue
			}
			start := s.Start - guestBufferSec
			if start < 0 {
				start = 0
			}
			out = append(out, model.Segment{Start: start, End: s.End + guestBufferSec})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Analyze 由原始分离条目生成完整的处理结果
func Analyze(entries []model.DiarizationEntry) *model.ProcessingResult {
	tracks := BuildTracks(entries)
	host := IdentifyHost(tracks)
	return &model.ProcessingResult{
		Segments:       GuestSegments(tracks, host),
		Speakers:       tracks,
		IdentifiedHost: host,
	}
}

// Normalize 补齐外部结果中缺失的统计字段和主持人
func Normalize(result *model.ProcessingResult) *model.ProcessingResult {
	if result == nil {
		return &model.ProcessingResult{}
	}
	out := *result
	out.Speakers = make([]model.SpeakerTrack, len(result.Speakers))
	for i, t := range result.Speakers {
		out.Speakers[i] = Recompute(t)
	}
	sortTracks(out.Speakers)
	if out.IdentifiedHost == "" && len(out.Speakers) > 1 {
		out.IdentifiedHost = IdentifyHost(out.Speakers)
	}
	return &out
}
