package player

import (
	"sync"

	"TLDRTube/core/timeline"
	"TLDRTube/model"
)

// Session 单个观看者的播放会话：说话人数据 + 排除集合 + 控制器
// 排除集合每次变化都完整重算时间线
type Session struct {
	mu       sync.Mutex
	tracks   []model.SpeakerTrack
	excluded model.ExclusionSet
	opts     timeline.MergeOptions

	controller *Controller
}

// NewSession 创建会话；默认排除识别出的主持人
func NewSession(result *model.ProcessingResult, mergeOpts timeline.MergeOptions, playerOpts Options) *Session {
	if result == nil {
		result = &model.ProcessingResult{}
	}
	excluded := result.DefaultExclusions()
	tracks := append([]model.SpeakerTrack(nil), result.Speakers...)

	return &Session{
		tracks:     tracks,
		excluded:   excluded,
		opts:       mergeOpts,
		controller: NewController(timeline.Build(tracks, excluded, mergeOpts), playerOpts),
	}
}

// Controller 会话的播放控制器
func (s *Session) Controller() *Controller {
	return s.controller
}

// Speakers 说话人列表
func (s *Session) Speakers() []model.SpeakerTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.SpeakerTrack(nil), s.tracks...)
}

// Excluded 当前排除的说话人ID
func (s *Session) Excluded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.excluded.IDs()
}

// Exclude 排除说话人
func (s *Session) Exclude(id string) {
	s.update(func(set model.ExclusionSet) { set.Add(id) })
}

// Include 取消排除
func (s *Session) Include(id string) {
	s.update(func(set model.ExclusionSet) { set.Remove(id) })
}

// Toggle 切换说话人的排除状态
func (s *Session) Toggle(id string) {
	s.update(func(set model.ExclusionSet) { set.Toggle(id) })
}

// SetExcluded 整体替换排除集合
func (s *Session) SetExcluded(ids []string) {
	s.update(func(set model.ExclusionSet) {
		for id := range set {
			delete(set, id)
		}
		for _, id := range ids {
			if id != "" {
				set.Add(id)
			}
		}
	})
}

// Ranges 当前时间线的区间
func (s *Session) Ranges() []model.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return timeline.Merge(s.tracks, s.excluded, s.opts)
}

// update 在 s.mu 内修改排除集合并替换控制器时间线，保证两者顺序一致
// 锁顺序：Session.mu → Controller.mu，控制器不会回调会话
func (s *Session) update(mutate func(model.ExclusionSet)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutate(s.excluded)
	s.controller.ReplaceTimeline(timeline.Build(s.tracks, s.excluded, s.opts))
}
