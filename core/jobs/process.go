package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"TLDRTube/core/costs"
	"TLDRTube/core/sieve"
	"TLDRTube/core/speakers"
	"TLDRTube/logger"
	"TLDRTube/model"
	"TLDRTube/repository"

	"github.com/hibiken/asynq"
)

// ProcessVideoPayload 视频处理任务参数
type ProcessVideoPayload struct {
	VideoID  string `json:"videoId"`
	VideoURL string `json:"url"`
}

// Processor 外部处理平台
type Processor interface {
	Submit(ctx context.Context, videoURL string) (string, error)
	Wait(ctx context.Context, jobID string) (*model.ProcessingResult, error)
}

// ResultStore 处理结果的缓存或归档
type ResultStore interface {
	Put(ctx context.Context, videoID string, result *model.ProcessingResult) error
}

// ProcessVideoHandler 提交视频到处理平台并保存结果
type ProcessVideoHandler struct {
	processor Processor
	repo      repository.VideoRepository
	stores    []ResultStore
	timeout   time.Duration
	now       func() time.Time
}

// NewProcessVideoHandler 创建处理器；stores 中的 nil 会被忽略
func NewProcessVideoHandler(processor Processor, repo repository.VideoRepository, timeout time.Duration, stores ...ResultStore) *ProcessVideoHandler {
	var kept []ResultStore
	for _, s := range stores {
		if s != nil {
			kept = append(kept, s)
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &ProcessVideoHandler{
		processor: processor,
		repo:      repo,
		stores:    kept,
		timeout:   timeout,
		now:       time.Now,
	}
}

// ProcessTask 实现 asynq.Handler
func (h *ProcessVideoHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p ProcessVideoPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal: %v: %w", err, asynq.SkipRetry)
	}
	if p.VideoID == "" || p.VideoURL == "" {
		return fmt.Errorf("empty video payload: %w", asynq.SkipRetry)
	}
	_, err := h.Process(ctx, p)
	return err
}

// Process 执行一次完整的处理流程
func (h *ProcessVideoHandler) Process(ctx context.Context, p ProcessVideoPayload) (*model.ProcessedVideo, error) {
	started := h.now()
	logger.Info("开始处理视频",
		logger.String("videoId", p.VideoID),
		logger.String("url", p.VideoURL))

	jobID, err := h.processor.Submit(ctx, p.VideoURL)
	if err != nil {
		return nil, h.fail(ctx, p.VideoID, fmt.Errorf("submit: %w", err))
	}
	if err := h.repo.MarkPending(ctx, p.VideoID, p.VideoURL, jobID); err != nil {
		logger.Warn("记录处理中状态失败", logger.String("videoId", p.VideoID), logger.ErrorField(err))
	}

	waitCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	result, err := h.processor.Wait(waitCtx, jobID)
	if err != nil {
		return nil, h.fail(ctx, p.VideoID, fmt.Errorf("job %s: %w", jobID, err))
	}
	result = speakers.Normalize(result)

	estimate := costs.Estimate(SourceDuration(result))
	video := &model.ProcessedVideo{
		VideoID:        p.VideoID,
		VideoURL:       p.VideoURL,
		Status:         model.VideoStatusFinished,
		JobID:          jobID,
		Speakers:       result.Speakers,
		IdentifiedHost: result.IdentifiedHost,
		ProcessingTime: h.now().Sub(started).Seconds(),
		ProcessingCost: estimate.Total,
	}
	if err := h.repo.Save(ctx, video); err != nil {
		return nil, fmt.Errorf("save video %s: %w", p.VideoID, err)
	}

	for _, s := range h.stores {
		if err := s.Put(ctx, p.VideoID, result); err != nil {
			logger.Warn("保存处理结果副本失败", logger.String("videoId", p.VideoID), logger.ErrorField(err))
		}
	}

	if err := h.repo.AddStats(ctx, video.ProcessingTime, video.ProcessingCost); err != nil {
		logger.Warn("更新使用统计失败", logger.ErrorField(err))
	}

	logger.Info("视频处理完成",
		logger.String("videoId", p.VideoID),
		logger.String("job", jobID),
		logger.Int("speakers", len(result.Speakers)),
		logger.String("host", result.IdentifiedHost),
		logger.Float64("processingTime", video.ProcessingTime),
		logger.String("cost", costs.FormatCost(video.ProcessingCost)))
	return video, nil
}

// fail 记录失败状态；平台明确报错时不再重试
func (h *ProcessVideoHandler) fail(ctx context.Context, videoID string, cause error) error {
	logger.Error("视频处理失败", logger.String("videoId", videoID), logger.ErrorField(cause))
	if err := h.repo.MarkFailed(ctx, videoID, cause.Error()); err != nil {
		logger.Warn("记录失败状态失败", logger.String("videoId", videoID), logger.ErrorField(err))
	}
	if errors.Is(cause, sieve.ErrJobFailed) || errors.Is(cause, sieve.ErrEmptyOutput) || errors.Is(cause, sieve.ErrNoAPIKey) {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, cause)
	}
	return cause
}

// SourceDuration 按最后一个发言区间的结束时间估计原视频时长
func SourceDuration(result *model.ProcessingResult) float64 {
	if result == nil {
		return 0
	}
	var end float64
	for _, track := range result.Speakers {
		for _, s := range track.Segments {
			if s.Valid() && s.End > end {
				end = s.End
			}
		}
	}
	return end
}

// RegisterHandlers 注册所有任务处理器
func RegisterHandlers(q *Queue, h *ProcessVideoHandler) {
	q.RegisterHandler(TaskProcessVideo, h)
}
