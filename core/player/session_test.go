package player

import (
	"fmt"
	"sync"
	"testing"

	"TLDRTube/core/timeline"
	"TLDRTube/model"
)

func twoSpeakerResult(host string) *model.ProcessingResult {
	return &model.ProcessingResult{
		Speakers: []model.SpeakerTrack{
			{ID: "SPEAKER_00", Segments: []model.Segment{{Start: 0, End: 5}}},
			{ID: "SPEAKER_01", Segments: []model.Segment{{Start: 10, End: 15}}},
		},
		IdentifiedHost: host,
	}
}

func newTestSession(t *testing.T, result *model.ProcessingResult) (*Session, *fakeBackend, *manualScheduler) {
	t.Helper()
	sched := &manualScheduler{}
	opts := DefaultOptions()
	opts.Scheduler = sched

	s := NewSession(result, timeline.MergeOptions{Padding: 0, GapThreshold: 1}, opts)
	backend := newFakeBackend(20)
	if err := s.Controller().Initialize(backend); err != nil {
		t.Fatal(err)
	}
	s.Controller().OnReady(20)
	return s, backend, sched
}

func TestSessionExcludesHostByDefault(t *testing.T) {
	s, _, _ := newTestSession(t, twoSpeakerResult("SPEAKER_00"))

	excluded := s.Excluded()
	if len(excluded) != 1 || excluded[0] != "SPEAKER_00" {
		t.Fatalf("excluded = %v, want [SPEAKER_00]", excluded)
	}
	if !almostEqual(s.Controller().TotalDuration(), 5) {
		t.Fatalf("total = %v, want 5", s.Controller().TotalDuration())
	}
}

func TestSessionUnknownHostExcludesNothing(t *testing.T) {
	s, _, _ := newTestSession(t, twoSpeakerResult("SPEAKER_09"))

	if got := s.Excluded(); len(got) != 0 {
		t.Fatalf("excluded = %v, want none", got)
	}
	if !almostEqual(s.Controller().TotalDuration(), 10) {
		t.Fatalf("total = %v, want 10", s.Controller().TotalDuration())
	}
}

func TestSessionRebuildWhilePlaying(t *testing.T) {
	s, backend, sched := newTestSession(t, twoSpeakerResult(""))
	c := s.Controller()
	c.Play()
	backend.setTime(12)
	sched.fire()
	if !almostEqual(c.VirtualTime(), 7) {
		t.Fatalf("virtual = %v, want 7", c.VirtualTime())
	}

	s.Exclude("SPEAKER_00")
	if !almostEqual(c.TotalDuration(), 5) {
		t.Fatalf("total = %v, want 5", c.TotalDuration())
	}
	if !almostEqual(c.VirtualTime(), 2) {
		t.Fatalf("virtual = %v, want 2", c.VirtualTime())
	}
	if c.State() != StatePlaying {
		t.Fatalf("state = %s, want playing", c.State())
	}

	s.Exclude("SPEAKER_01")
	if c.IsPlayable() {
		t.Fatal("all speakers excluded, should not be playable")
	}
	if c.State() != StatePaused {
		t.Fatalf("state = %s, want paused", c.State())
	}

	s.Include("SPEAKER_00")
	if !c.IsPlayable() || c.VirtualTime() != 0 {
		t.Fatalf("playable=%v virtual=%v", c.IsPlayable(), c.VirtualTime())
	}
	if real, _ := backend.lastSeek(); real != 0 {
		t.Fatalf("real = %v, want 0", real)
	}
}

func TestSessionToggleAndSetExcluded(t *testing.T) {
	s, _, _ := newTestSession(t, twoSpeakerResult(""))

	s.Toggle("SPEAKER_01")
	if got := s.Ranges(); len(got) != 1 || got[0].End != 5 {
		t.Fatalf("ranges = %v", got)
	}
	s.Toggle("SPEAKER_01")
	if got := s.Ranges(); len(got) != 2 {
		t.Fatalf("ranges = %v", got)
	}

	s.SetExcluded([]string{"SPEAKER_00", "SPEAKER_01", ""})
	if got := s.Excluded(); len(got) != 2 {
		t.Fatalf("excluded = %v", got)
	}
	if s.Controller().IsPlayable() {
		t.Fatal("should not be playable")
	}

	s.SetExcluded(nil)
	if !almostEqual(s.Controller().TotalDuration(), 10) {
		t.Fatalf("total = %v, want 10", s.Controller().TotalDuration())
	}
}

func TestSessionNilResult(t *testing.T) {
	s := NewSession(nil, timeline.DefaultMergeOptions(), DefaultOptions())
	if s.Controller().IsPlayable() {
		t.Fatal("nil result should not be playable")
	}
	if len(s.Speakers()) != 0 {
		t.Fatal("expected no speakers")
	}
}

func TestSessionConcurrentTogglesMatchController(t *testing.T) {
	// 每个说话人时长不同（2 的幂），任意排除组合的总时长唯一
	result := &model.ProcessingResult{}
	for i := 0; i < 6; i++ {
		start := float64(i * 100)
		result.Speakers = append(result.Speakers, model.SpeakerTrack{
			ID:       fmt.Sprintf("SPEAKER_%02d", i),
			Segments: []model.Segment{{Start: start, End: start + float64(int(1)<<i)}},
		})
	}

	for run := 0; run < 200; run++ {
		s, _, _ := newTestSession(t, result)

		var wg sync.WaitGroup
		for _, track := range result.Speakers {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				s.Toggle(id)
			}(track.ID)
		}
		wg.Wait()

		want := timeline.TotalDuration(s.Ranges())
		if got := s.Controller().TotalDuration(); !almostEqual(got, want) {
			t.Fatalf("run %d: controller total = %v, session ranges total = %v", run, got, want)
		}
		if len(s.Excluded()) != 6 {
			t.Fatalf("run %d: excluded = %v, want all 6", run, s.Excluded())
		}
	}
}
