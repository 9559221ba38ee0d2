package speakers

import (
	"math"
	"testing"

	"TLDRTube/model"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestBuildTracksGroupsAndSorts(t *testing.T) {
	entries := []model.DiarizationEntry{
		{SpeakerID: "SPEAKER_01", Start: 10, End: 12},
		{SpeakerID: "SPEAKER_00", Start: 0, End: 5},
		{SpeakerID: "SPEAKER_01", Start: 2, End: 3},
		{SpeakerID: "SPEAKER_00", Start: 20, End: 21},
		{SpeakerID: "SPEAKER_02", Start: 30, End: 30},
		{SpeakerID: "", Start: 40, End: 41},
	}

	tracks := BuildTracks(entries)
	if len(tracks) != 3 {
		t.Fatalf("expected 3 tracks, got %d: %+v", len(tracks), tracks)
	}

	first := tracks[0]
	if first.ID != "SPEAKER_00" || !almostEqual(first.TotalTime, 6) || first.SegmentCount != 2 {
		t.Fatalf("unexpected first track: %+v", first)
	}
	if !almostEqual(first.AvgSegmentLength, 3) {
		t.Fatalf("avg = %v, want 3", first.AvgSegmentLength)
	}

	second := tracks[1]
	if second.ID != "SPEAKER_01" || second.Segments[0].Start != 2 {
		t.Fatalf("segments should be sorted by start: %+v", second)
	}

	if tracks[2].ID != UnknownSpeakerID {
		t.Fatalf("missing speaker id should map to %q, got %q", UnknownSpeakerID, tracks[2].ID)
	}
}

func TestBuildTracksTieBreaksByID(t *testing.T) {
	tracks := BuildTracks([]model.DiarizationEntry{
		{SpeakerID: "B", Start: 0, End: 1},
		{SpeakerID: "A", Start: 5, End: 6},
	})
	if tracks[0].ID != "A" || tracks[1].ID != "B" {
		t.Fatalf("unexpected order: %s, %s", tracks[0].ID, tracks[1].ID)
	}
}

func TestIdentifyHost(t *testing.T) {
	tests := []struct {
		name   string
		tracks []model.SpeakerTrack
		want   string
	}{
		{"empty", nil, ""},
		{
			"most time wins",
			[]model.SpeakerTrack{{ID: "SPEAKER_00", TotalTime: 10}, {ID: "SPEAKER_01", TotalTime: 30}},
			"SPEAKER_01",
		},
		{
			"unknown falls back to SPEAKER_00",
			[]model.SpeakerTrack{{ID: UnknownSpeakerID, TotalTime: 50}, {ID: "SPEAKER_00", TotalTime: 10}},
			"SPEAKER_00",
		},
		{
			"unknown falls back to SPEAKER_01",
			[]model.SpeakerTrack{{ID: UnknownSpeakerID, TotalTime: 50}, {ID: "SPEAKER_01", TotalTime: 10}},
			"SPEAKER_01",
		},
		{
			"only unknown",
			[]model.SpeakerTrack{{ID: UnknownSpeakerID, TotalTime: 50}},
			UnknownSpeakerID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IdentifyHost(tt.tracks); got != tt.want {
				t.Fatalf("IdentifyHost() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGuestSegmentsExcludesHostWithBuffer(t *testing.T) {
	tracks := []model.SpeakerTrack{
		{ID: "HOST", Segments: []model.Segment{{Start: 0, End: 10}}},
		{ID: "GUEST", Segments: []model.Segment{{Start: 20, End: 25}, {Start: 0.05, End: 2}}},
	}

	got := GuestSegments(tracks, "HOST")
	if len(got) != 2 {
		t.Fatalf("expected 2 segments, got %v", got)
	}
	if got[0].Start != 0 || !almostEqual(got[0].End, 2.1) {
		t.Fatalf("unexpected first segment: %+v", got[0])
	}
	if !almostEqual(got[1].Start, 19.9) || !almostEqual(got[1].End, 25.1) {
		t.Fatalf("unexpected second segment: %+v", got[1])
	}
}

func TestAnalyze(t *testing.T) {
	result := Analyze([]model.DiarizationEntry{
		{SpeakerID: "SPEAKER_00", Start: 0, End: 30},
		{SpeakerID: "SPEAKER_01", Start: 30, End: 40},
	})
	if result.IdentifiedHost != "SPEAKER_00" {
		t.Fatalf("host = %q", result.IdentifiedHost)
	}
	excluded := result.DefaultExclusions()
	if !excluded.Has("SPEAKER_00") || excluded.Has("SPEAKER_01") {
		t.Fatalf("unexpected exclusions: %v", excluded.IDs())
	}
	if len(result.Segments) != 1 {
		t.Fatalf("expected one guest segment, got %v", result.Segments)
	}
}

func TestNormalizeFillsStats(t *testing.T) {
	in := &model.ProcessingResult{
		Speakers: []model.SpeakerTrack{
			{ID: "A", Segments: []model.Segment{{Start: 0, End: 1}}},
			{ID: "B", Segments: []model.Segment{{Start: 1, End: 5}, {Start: 9, End: 8}}},
		},
	}
	out := Normalize(in)
	if out.Speakers[0].ID != "B" || out.Speakers[0].SegmentCount != 1 || !almostEqual(out.Speakers[0].TotalTime, 4) {
		t.Fatalf("unexpected first track: %+v", out.Speakers[0])
	}
	if out.IdentifiedHost != "B" {
		t.Fatalf("host = %q, want B", out.IdentifiedHost)
	}
	if in.Speakers[0].ID != "A" {
		t.Fatal("input should not be modified")
	}
}
