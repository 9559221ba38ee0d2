package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"TLDRTube/config"
	"TLDRTube/logger"

	"github.com/hibiken/asynq"
)

// 任务类型
const (
	TaskProcessVideo = "video:process"
)

var queueNames = []string{"critical", "default", "low"}

// Queue 基于 asynq 的后台任务队列
type Queue struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector
}

// NewQueue 创建队列，任务存放在配置的 Redis 中
func NewQueue(cfg *config.Config) *Queue {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}

	client := asynq.NewClient(redisOpt)
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			Logger:   logger.Printf{Component: "asynq"},
			LogLevel: asynq.InfoLevel,
		},
	)
	return &Queue{
		client:    client,
		server:    server,
		mux:       asynq.NewServeMux(),
		inspector: asynq.NewInspector(redisOpt),
	}
}

// isTaskConflict 判断是否为任务ID冲突
func isTaskConflict(err error) bool {
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "task ID conflicts") || strings.Contains(msg, "duplicate task")
}

// EnqueueUnique 以固定任务ID入队
// 同ID任务仍在排队或执行时直接跳过；已完成或已归档的旧任务会先删除再重新入队
func (q *Queue) EnqueueUnique(taskType string, payload interface{}, uniqueID string, opts ...asynq.Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	opts = append(opts, asynq.TaskID(uniqueID))
	task := asynq.NewTask(taskType, data, opts...)
	info, err := q.client.Enqueue(task)
	if err == nil {
		return info.ID, nil
	}
	if !isTaskConflict(err) {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	cleared := false
	for _, queueName := range queueNames {
		if delErr := q.inspector.DeleteTask(queueName, uniqueID); delErr == nil {
			logger.Info("已清理旧任务",
				logger.String("task", uniqueID),
				logger.String("queue", queueName))
			cleared = true
			break
		}
	}
	if cleared {
		info, err = q.client.Enqueue(task)
		if err == nil {
			return info.ID, nil
		}
	}

	if isTaskConflict(err) {
		logger.Info("任务正在执行，跳过入队",
			logger.String("type", taskType),
			logger.String("task", uniqueID))
		return uniqueID, nil
	}
	return "", fmt.Errorf("enqueue: %w", err)
}

// EnqueueVideo 提交视频处理任务，任务ID即视频ID
func (q *Queue) EnqueueVideo(videoID, videoURL string) (string, error) {
	return q.EnqueueUnique(TaskProcessVideo, ProcessVideoPayload{VideoID: videoID, VideoURL: videoURL}, videoID,
		asynq.Queue("default"), asynq.MaxRetry(2))
}

// RegisterHandler 注册任务处理器
func (q *Queue) RegisterHandler(taskType string, handler asynq.Handler) {
	q.mux.Handle(taskType, handler)
}

// Start 启动 worker（非阻塞）
func (q *Queue) Start(ctx context.Context) error {
	logger.Info("任务队列 worker 启动")
	return q.server.Start(q.mux)
}

// Stop 停止 worker 并关闭连接
func (q *Queue) Stop() {
	q.server.Shutdown()
	q.client.Close()
	q.inspector.Close()
}
