package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// SpeakerTrackList 自定义类型用于 GORM JSON 字段的自动扫描
type SpeakerTrackList []SpeakerTrack

// Scan 实现 sql.Scanner 接口
func (s *SpeakerTrackList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*s = nil
		return nil
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*s = nil
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// Value 实现 driver.Valuer 接口
func (s SpeakerTrackList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// 处理状态
const (
	VideoStatusPending  = "pending"
	VideoStatusFinished = "finished"
	VideoStatusFailed   = "failed"
)

// ProcessedVideo 已处理的视频（按 videoId 缓存处理结果）
type ProcessedVideo struct {
	ID             int64            `json:"id" gorm:"primaryKey;autoIncrement"`
	VideoID        string           `json:"videoId" gorm:"size:32;uniqueIndex;not null"`
	VideoURL       string           `json:"videoUrl" gorm:"size:512;not null"`
	Title          string           `json:"title,omitempty" gorm:"size:255"`
	Status         string           `json:"status" gorm:"size:20;default:'pending';index"`
	JobID          string           `json:"jobId,omitempty" gorm:"size:64"`
	Speakers       SpeakerTrackList `json:"speakers" gorm:"type:json"`
	IdentifiedHost string           `json:"identifiedHost" gorm:"size:64"`
	ProcessingTime float64          `json:"processingTime"` // 秒
	ProcessingCost float64          `json:"processingCost"` // 美元
	Error          string           `json:"error,omitempty" gorm:"type:text"`
	CreatedAt      time.Time        `json:"createdAt" gorm:"index"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// TableName 指定表名
func (ProcessedVideo) TableName() string {
	return "processed_videos"
}

// Result 转换为处理结果
func (v *ProcessedVideo) Result() *ProcessingResult {
	return &ProcessingResult{
		Speakers:       v.Speakers,
		IdentifiedHost: v.IdentifiedHost,
	}
}

// StatsRowID 统计表唯一一行的主键
const StatsRowID uint = 1

// UserStats 累计使用统计（全表只有一行，主键固定为 StatsRowID）
type UserStats struct {
	ID                   uint      `json:"-" gorm:"primaryKey"`
	TotalVideosProcessed int64     `json:"totalVideosProcessed"`
	TotalProcessingTime  float64   `json:"totalProcessingTime"`
	TotalCost            float64   `json:"totalCost"`
	LastUpdated          time.Time `json:"lastUpdated"`
}

// TableName 指定表名
func (UserStats) TableName() string {
	return "user_stats"
}
