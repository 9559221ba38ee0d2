package costs

import (
	"fmt"
	"math"
)

// 处理流程各步骤的计费参数（美元/小时）
const (
	downloadHourlyRate = 0.40
	downloadMinutes    = 0.5
	diarizeHourlyRate  = 0.81
	diarizeSpeedup     = 10.0
	processHourlyRate  = 0.40
	processMinutes     = 2.0
	costDecimalsFactor = 10000.0
)

// Breakdown 单个视频的预估处理费用
type Breakdown struct {
	Download    float64 `json:"download"`
	Diarization float64 `json:"diarization"`
	Processing  float64 `json:"processing"`
	Total       float64 `json:"total"`
}

// Estimate 按视频时长（秒）估算费用
// 下载和处理按固定耗时计费，说话人分离按 10 倍实时速度计费
func Estimate(durationSeconds float64) Breakdown {
	if math.IsNaN(durationSeconds) || durationSeconds < 0 {
		durationSeconds = 0
	}
	hours := durationSeconds / 3600

	download := downloadMinutes / 60 * downloadHourlyRate
	diarization := hours / diarizeSpeedup * diarizeHourlyRate
	processing := processMinutes / 60 * processHourlyRate

	return Breakdown{
		Download:    round(download),
		Diarization: round(diarization),
		Processing:  round(processing),
		Total:       round(download + diarization + processing),
	}
}

func round(v float64) float64 {
	return math.Round(v*costDecimalsFactor) / costDecimalsFactor
}

// FormatCost 格式化为 $0.0000
func FormatCost(cost float64) string {
	return fmt.Sprintf("$%.4f", cost)
}

// FormatDuration 格式化为 1h 2m 3s / 2m 3s / 3s
func FormatDuration(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
