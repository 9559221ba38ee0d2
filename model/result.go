package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// LegacySpeakerID 旧版扁平区间列表转换成单轨时使用的说话人ID
const LegacySpeakerID = "ALL"

// ProcessingResult 外部处理任务的输出
type ProcessingResult struct {
	Segments       []Segment      `json:"segments,omitempty"`
	Speakers       []SpeakerTrack `json:"speakers"`
	IdentifiedHost string         `json:"identifiedHost,omitempty"`
}

// UnmarshalJSON 同时兼容对象格式和旧版的扁平区间数组
// 旧版数组没有说话人信息，视为单轨且不排除任何人
func (r *ProcessingResult) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*r = ProcessingResult{}
		return nil
	}

	if trimmed[0] == '[' {
		var segments []Segment
		if err := json.Unmarshal(trimmed, &segments); err != nil {
			return fmt.Errorf("failed to decode legacy segment list: %w", err)
		}
		*r = ProcessingResult{
			Segments: segments,
			Speakers: []SpeakerTrack{legacyTrack(segments)},
		}
		return nil
	}

	// 使用别名类型避免递归调用 UnmarshalJSON
	type plain ProcessingResult
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return fmt.Errorf("failed to decode processing result: %w", err)
	}
	*r = ProcessingResult(p)

	// 有 segments 但没有 speakers 时同样按单轨处理
	if len(r.Speakers) == 0 && len(r.Segments) > 0 {
		r.Speakers = []SpeakerTrack{legacyTrack(r.Segments)}
		r.IdentifiedHost = ""
	}
	return nil
}

// DefaultExclusions 默认排除集合：识别出的主持人
func (r *ProcessingResult) DefaultExclusions() ExclusionSet {
	if r == nil || r.IdentifiedHost == "" {
		return NewExclusionSet()
	}
	for _, track := range r.Speakers {
		if track.ID == r.IdentifiedHost {
			return NewExclusionSet(r.IdentifiedHost)
		}
	}
	return NewExclusionSet()
}

// Speaker 按ID查找说话人
func (r *ProcessingResult) Speaker(id string) (SpeakerTrack, bool) {
	for _, track := range r.Speakers {
		if track.ID == id {
			return track, true
		}
	}
	return SpeakerTrack{}, false
}

func legacyTrack(segments []Segment) SpeakerTrack {
	track := SpeakerTrack{
		ID:       LegacySpeakerID,
		Segments: append([]Segment(nil), segments...),
	}
	for _, s := range segments {
		if s.Valid() {
			track.TotalTime += s.Duration()
			track.SegmentCount++
		}
	}
	if track.SegmentCount > 0 {
		track.AvgSegmentLength = track.TotalTime / float64(track.SegmentCount)
	}
	return track
}
