package sieve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"TLDRTube/logger"
	"TLDRTube/model"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL 处理平台 API 地址
	DefaultBaseURL = "https://mango.sievedata.com"
	// DefaultFunction 说话人分离并识别主持人的处理函数
	DefaultFunction = "msg-containsmsg-com/isolate-podcast-guest"
	// DefaultPollInterval 查询任务状态的间隔
	DefaultPollInterval = 5 * time.Second
)

// 任务状态
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusFinished   = "finished"
	StatusError      = "error"
	StatusCancelled  = "cancelled"
)

var (
	// ErrNoAPIKey 未配置 API key
	ErrNoAPIKey = errors.New("sieve: no api key configured")
	// ErrJobFailed 任务以 error/cancelled 结束
	ErrJobFailed = errors.New("sieve: job failed")
	// ErrEmptyOutput 任务完成但没有输出
	ErrEmptyOutput = errors.New("sieve: job finished without output")
)

// Output 任务的一项输出
type Output struct {
	Type string          `json:"type,omitempty"`
	Data json.RawMessage `json:"data"`
}

// Job 任务状态
type Job struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Error   json.RawMessage `json:"error,omitempty"`
	Outputs []Output        `json:"outputs,omitempty"`
}

// Done 任务是否已结束
func (j *Job) Done() bool {
	switch j.Status {
	case StatusFinished, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Client 处理平台 API 客户端
type Client struct {
	baseURL      string
	apiKey       string
	function     string
	pollInterval time.Duration
	httpClient   *http.Client
}

// NewClient 创建客户端
func NewClient(apiKey string) *Client {
	return &Client{
		baseURL:      DefaultBaseURL,
		apiKey:       apiKey,
		function:     DefaultFunction,
		pollInterval: DefaultPollInterval,
		httpClient: &http.Client{
			Timeout: time.Second * 30,
		},
	}
}

// SetBaseURL 设置API基础URL
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// SetFunction 设置处理函数名
func (c *Client) SetFunction(fn string) {
	c.function = fn
}

// SetPollInterval 设置轮询间隔
func (c *Client) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.pollInterval = d
	}
}

// SetTimeout 设置请求超时时间
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// Submit 提交视频处理任务，返回任务ID
func (c *Client) Submit(ctx context.Context, videoURL string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}

	body, err := json.Marshal(map[string]interface{}{
		"function": c.function,
		"inputs": map[string]string{
			"youtube_video_url": videoURL,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode push request: %w", err)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/push", bytes.NewReader(body), &resp); err != nil {
		return "", fmt.Errorf("failed to submit job: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("failed to submit job: empty job id")
	}

	logger.Info("已提交处理任务", logger.String("jobId", resp.ID), logger.String("url", videoURL))
	return resp.ID, nil
}

// Status 查询任务状态
func (c *Client) Status(ctx context.Context, jobID string) (*Job, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	var job Job
	if err := c.do(ctx, http.MethodGet, "/v2/jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return &job, nil
}

// Wait 轮询直到任务结束，返回解析后的处理结果
func (c *Client) Wait(ctx context.Context, jobID string) (*model.ProcessingResult, error) {
	limiter := rate.NewLimiter(rate.Every(c.pollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		job, err := c.Status(ctx, jobID)
		if err != nil {
			return nil, err
		}
		logger.Debug("处理任务状态", logger.String("jobId", jobID), logger.String("status", job.Status))

		if !job.Done() {
			continue
		}
		if job.Status != StatusFinished {
			return nil, fmt.Errorf("%w: %s %s", ErrJobFailed, job.Status, string(job.Error))
		}
		return DecodeResult(job)
	}
}

// DecodeResult 从第一项输出解析处理结果
func DecodeResult(job *Job) (*model.ProcessingResult, error) {
	if len(job.Outputs) == 0 || len(job.Outputs[0].Data) == 0 {
		return nil, ErrEmptyOutput
	}
	var result model.ProcessingResult
	if err := json.Unmarshal(job.Outputs[0].Data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode job %s output: %w", job.ID, err)
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API返回错误状态码: %d %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
