package repository

import (
	"context"
	"errors"
	"time"

	"TLDRTube/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VideoRepository 已处理视频和使用统计的数据访问接口
type VideoRepository interface {
	GetByVideoID(ctx context.Context, videoID string) (*model.ProcessedVideo, error)
	Save(ctx context.Context, video *model.ProcessedVideo) error
	MarkPending(ctx context.Context, videoID, videoURL, jobID string) error
	MarkFailed(ctx context.Context, videoID, reason string) error
	List(ctx context.Context, limit, offset int) ([]*model.ProcessedVideo, error)

	GetStats(ctx context.Context) (*model.UserStats, error)
	AddStats(ctx context.Context, processingTime, cost float64) error
}

// gormVideoRepository GORM 实现
type gormVideoRepository struct {
	db *gorm.DB
}

// NewGormVideoRepository 创建 GORM 视频仓库
func NewGormVideoRepository(db *gorm.DB) VideoRepository {
	return &gormVideoRepository{db: db}
}

// ========== 视频 ==========

// GetByVideoID 根据视频ID查询，不存在时返回 nil, nil
func (r *gormVideoRepository) GetByVideoID(ctx context.Context, videoID string) (*model.ProcessedVideo, error) {
	var v model.ProcessedVideo
	err := r.db.WithContext(ctx).Where("video_id = ?", videoID).First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// upsertColumns 视频ID冲突时覆盖的列，created_at 保留首次写入的值
var upsertColumns = []string{
	"video_url", "title", "status", "job_id", "speakers", "identified_host",
	"processing_time", "processing_cost", "error", "updated_at",
}

// Save 按视频ID插入或覆盖
func (r *gormVideoRepository) Save(ctx context.Context, video *model.ProcessedVideo) error {
	video.UpdatedAt = time.Now()
	if video.CreatedAt.IsZero() {
		video.CreatedAt = video.UpdatedAt
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_id"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(video).Error
}

// MarkPending 记录已提交的任务
func (r *gormVideoRepository) MarkPending(ctx context.Context, videoID, videoURL, jobID string) error {
	existing, err := r.GetByVideoID(ctx, videoID)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &model.ProcessedVideo{VideoID: videoID}
	}
	existing.VideoURL = videoURL
	existing.JobID = jobID
	existing.Status = model.VideoStatusPending
	existing.Error = ""
	return r.Save(ctx, existing)
}

// MarkFailed 记录失败原因
func (r *gormVideoRepository) MarkFailed(ctx context.Context, videoID, reason string) error {
	return r.db.WithContext(ctx).Model(&model.ProcessedVideo{}).
		Where("video_id = ?", videoID).
		Updates(map[string]interface{}{
			"status":     model.VideoStatusFailed,
			"error":      reason,
			"updated_at": time.Now(),
		}).Error
}

// List 按创建时间倒序分页
func (r *gormVideoRepository) List(ctx context.Context, limit, offset int) ([]*model.ProcessedVideo, error) {
	if limit <= 0 {
		limit = 50
	}
	var videos []*model.ProcessedVideo
	err := r.db.WithContext(ctx).
		Where("status = ?", model.VideoStatusFinished).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&videos).Error
	return videos, err
}

// ========== 统计 ==========

// GetStats 获取累计统计，尚无记录时返回零值
func (r *gormVideoRepository) GetStats(ctx context.Context) (*model.UserStats, error) {
	var stats model.UserStats
	err := r.db.WithContext(ctx).Where("id = ?", model.StatsRowID).First(&stats).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.UserStats{}, nil
		}
		return nil, err
	}
	return &stats, nil
}

// AddStats 累加一次处理的耗时和费用
// 固定主键上的单条 upsert，并发的首次写入也只会产生一行
func (r *gormVideoRepository) AddStats(ctx context.Context, processingTime, cost float64) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Clauses(statsConflict(processingTime, cost, now)).
		Create(&model.UserStats{
			ID:                   model.StatsRowID,
			TotalVideosProcessed: 1,
			TotalProcessingTime:  processingTime,
			TotalCost:            cost,
			LastUpdated:          now,
		}).Error
}

func statsConflict(processingTime, cost float64, now time.Time) clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_videos_processed": gorm.Expr("total_videos_processed + ?", 1),
			"total_processing_time":  gorm.Expr("total_processing_time + ?", processingTime),
			"total_cost":             gorm.Expr("total_cost + ?", cost),
			"last_updated":           now,
		}),
	}
}
