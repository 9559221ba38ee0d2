package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"TLDRTube/core/auth"
	"TLDRTube/core/costs"
	"TLDRTube/core/jobs"
	"TLDRTube/core/room"
	"TLDRTube/core/timeline"
	"TLDRTube/core/video"
	"TLDRTube/logger"
	"TLDRTube/model"
	"TLDRTube/repository"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// ResultSource 按视频ID读取处理结果，未命中时返回 nil, nil
type ResultSource interface {
	Get(ctx context.Context, videoID string) (*model.ProcessingResult, error)
}

// ResultCache 可写回的结果缓存
type ResultCache interface {
	ResultSource
	Put(ctx context.Context, videoID string, result *model.ProcessingResult) error
}

// Enqueuer 提交后台处理任务
type Enqueuer interface {
	EnqueueVideo(videoID, videoURL string) (string, error)
}

// APIHandler 所有 HTTP 接口的依赖
type APIHandler struct {
	repo    repository.VideoRepository
	cache   ResultCache
	archive ResultSource
	queue   Enqueuer
	rooms   *room.RoomManager
	tokens  *auth.TokenIssuer
	merge   timeline.MergeOptions

	upgrader websocket.Upgrader
}

// HandlerDeps 构造 APIHandler 的参数，cache、archive、queue 可以为空
type HandlerDeps struct {
	Repo    repository.VideoRepository
	Cache   ResultCache
	Archive ResultSource
	Queue   Enqueuer
	Rooms   *room.RoomManager
	Tokens  *auth.TokenIssuer
	Merge   timeline.MergeOptions
}

// NewAPIHandler 创建处理器
func NewAPIHandler(deps HandlerDeps) *APIHandler {
	return &APIHandler{
		repo:    deps.Repo,
		cache:   deps.Cache,
		archive: deps.Archive,
		queue:   deps.Queue,
		rooms:   deps.Rooms,
		tokens:  deps.Tokens,
		merge:   deps.Merge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ========== 响应工具 ==========

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ========== 视频 ==========

// SubmitVideoRequest 提交视频请求
type SubmitVideoRequest struct {
	URL string `json:"url"`
}

// SubmitVideoResponse 提交视频响应
type SubmitVideoResponse struct {
	VideoID  string                  `json:"videoId"`
	Status   string                  `json:"status"`
	TaskID   string                  `json:"taskId,omitempty"`
	EmbedURL string                  `json:"embedUrl"`
	Result   *model.ProcessingResult `json:"result,omitempty"`
}

// SubmitVideoHandler 已处理过的视频直接返回结果，否则提交后台任务
func (h *APIHandler) SubmitVideoHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmitVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	videoID, err := video.ExtractID(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := SubmitVideoResponse{VideoID: videoID, EmbedURL: video.EmbedURL(videoID)}

	result, err := h.lookupResult(ctx, videoID)
	if err != nil {
		logger.Error("查询处理结果失败", logger.String("videoId", videoID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to look up video")
		return
	}
	if result != nil {
		resp.Status = model.VideoStatusFinished
		resp.Result = result
		writeJSON(w, http.StatusOK, resp)
		return
	}

	existing, err := h.repo.GetByVideoID(ctx, videoID)
	if err != nil {
		logger.Error("查询视频失败", logger.String("videoId", videoID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to look up video")
		return
	}
	if existing != nil && existing.Status == model.VideoStatusPending {
		resp.Status = model.VideoStatusPending
		resp.TaskID = existing.VideoID
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	if h.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "processing queue not available")
		return
	}
	taskID, err := h.queue.EnqueueVideo(videoID, video.WatchURL(videoID))
	if err != nil {
		logger.Error("提交处理任务失败", logger.String("videoId", videoID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue video")
		return
	}
	logger.Info("视频已提交处理", logger.String("videoId", videoID), logger.String("task", taskID))

	resp.Status = model.VideoStatusPending
	resp.TaskID = taskID
	writeJSON(w, http.StatusAccepted, resp)
}

// GetVideoHandler 查询已处理视频
func (h *APIHandler) GetVideoHandler(w http.ResponseWriter, r *http.Request) {
	videoID := mux.Vars(r)["videoId"]
	v, err := h.repo.GetByVideoID(r.Context(), videoID)
	if err != nil {
		logger.Error("查询视频失败", logger.String("videoId", videoID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to look up video")
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}
	if v.Status != model.VideoStatusFinished {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"videoId": v.VideoID,
			"status":  v.Status,
			"error":   v.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// TimelineResponse 合并后的播放区间
type TimelineResponse struct {
	VideoID       string          `json:"videoId"`
	Excluded      []string        `json:"excluded"`
	Ranges        []model.Segment `json:"ranges"`
	Offsets       []float64       `json:"offsets"`
	TotalDuration float64         `json:"totalDuration"`

	// 以下两项由最后一个说话片段的结束时间估算；真实时长只有播放器就绪后才知道，见会话进度推送
	EstimatedOriginalDuration float64 `json:"estimatedOriginalDuration"`
	EstimatedReductionPercent float64 `json:"estimatedReductionPercent"`
}

// TimelineHandler 按排除集合计算播放区间
// exclude 参数缺省时排除识别出的主持人；exclude= 表示不排除任何人
func (h *APIHandler) TimelineHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	videoID := mux.Vars(r)["videoId"]

	result, err := h.lookupResult(ctx, videoID)
	if err != nil {
		logger.Error("查询处理结果失败", logger.String("videoId", videoID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to look up video")
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "video not processed")
		return
	}

	query := r.URL.Query()
	excluded := result.DefaultExclusions()
	if _, ok := query["exclude"]; ok {
		excluded = model.NewExclusionSet(splitList(query.Get("exclude"))...)
	}
	opts := h.merge
	if v, ok := parseFloatParam(query.Get("padding")); ok {
		opts.Padding = v
	}
	if v, ok := parseFloatParam(query.Get("gap")); ok {
		opts.GapThreshold = v
	}

	tl := timeline.Build(result.Speakers, excluded, opts)
	original := jobs.SourceDuration(result)
	resp := TimelineResponse{
		VideoID:                   videoID,
		Excluded:                  excluded.IDs(),
		Ranges:                    tl.Ranges(),
		Offsets:                   tl.Offsets(),
		TotalDuration:             tl.TotalDuration(),
		EstimatedOriginalDuration: original,
	}
	if original > 0 {
		resp.EstimatedReductionPercent = 100 * (1 - tl.TotalDuration()/original)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HistoryHandler 最近处理的视频
func (h *APIHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r.URL.Query().Get("limit"), 20)
	offset := parseIntParam(r.URL.Query().Get("offset"), 0)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	videos, err := h.repo.List(r.Context(), limit, offset)
	if err != nil {
		logger.Error("查询历史失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to list videos")
		return
	}
	if videos == nil {
		videos = []*model.ProcessedVideo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"videos": videos,
		"limit":  limit,
		"offset": offset,
	})
}

// StatsHandler 累计使用统计
func (h *APIHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.GetStats(r.Context())
	if err != nil {
		logger.Error("查询统计失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// EstimateResponse 费用估算
type EstimateResponse struct {
	Duration          float64         `json:"duration"`
	DurationFormatted string          `json:"durationFormatted"`
	Breakdown         costs.Breakdown `json:"breakdown"`
	TotalFormatted    string          `json:"totalFormatted"`
}

// EstimateHandler 按时长估算处理费用
func (h *APIHandler) EstimateHandler(w http.ResponseWriter, r *http.Request) {
	duration, ok := parseFloatParam(r.URL.Query().Get("duration"))
	if !ok || duration < 0 {
		writeError(w, http.StatusBadRequest, "duration must be a non-negative number of seconds")
		return
	}
	b := costs.Estimate(duration)
	writeJSON(w, http.StatusOK, EstimateResponse{
		Duration:          duration,
		DurationFormatted: costs.FormatDuration(duration),
		Breakdown:         b,
		TotalFormatted:    costs.FormatCost(b.Total),
	})
}

// ========== 结果查询 ==========

// lookupResult 依次查询缓存、数据库和归档，命中后回填缓存
func (h *APIHandler) lookupResult(ctx context.Context, videoID string) (*model.ProcessingResult, error) {
	if h.cache != nil {
		result, err := h.cache.Get(ctx, videoID)
		if err != nil {
			logger.Warn("读取结果缓存失败", logger.String("videoId", videoID), logger.ErrorField(err))
		} else if result != nil {
			return result, nil
		}
	}

	var result *model.ProcessingResult
	v, err := h.repo.GetByVideoID(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if v != nil && v.Status == model.VideoStatusFinished {
		result = v.Result()
	}
	if result == nil && h.archive != nil {
		result, err = h.archive.Get(ctx, videoID)
		if err != nil {
			logger.Warn("读取归档结果失败", logger.String("videoId", videoID), logger.ErrorField(err))
			result = nil
		}
	}
	if result == nil {
		return nil, nil
	}

	if h.cache != nil {
		if err := h.cache.Put(ctx, videoID, result); err != nil {
			logger.Warn("回填结果缓存失败", logger.String("videoId", videoID), logger.ErrorField(err))
		}
	}
	return result, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseFloatParam(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseIntParam(s string, fallback int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return fallback
}

// ========== 播放会话 ==========

// CreateSessionResponse 创建播放会话响应
type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
	EmbedURL  string `json:"embedUrl"`
	WSPath    string `json:"wsPath"`
}

// CreateSessionHandler 为已处理视频创建播放会话
func (h *APIHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	videoID := mux.Vars(r)["videoId"]

	result, err := h.lookupResult(ctx, videoID)
	if err != nil {
		logger.Error("查询处理结果失败", logger.String("videoId", videoID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to look up video")
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "video not processed")
		return
	}

	sessionID := h.rooms.CreateSession(videoID, result)
	token, expiresAt, err := h.tokens.Issue(sessionID, videoID)
	if err != nil {
		h.rooms.CloseSession(sessionID)
		logger.Error("签发会话令牌失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to issue session token")
		return
	}

	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionID: sessionID,
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
		EmbedURL:  video.EmbedURL(videoID),
		WSPath:    "/ws/player?token=" + token,
	})
}

// PlayerSocketHandler 播放器和观看者的 WebSocket 入口
// role=player 的连接作为会话的媒体后端，role=viewer 只收发控制消息
func (h *APIHandler) PlayerSocketHandler(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.Parse(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}
	if _, err := h.rooms.Session(claims.SessionID); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("WebSocket 升级失败", logger.ErrorField(err))
		return
	}

	client := room.NewClient(h.rooms.Hub(), conn, claims.SessionID, r.URL.Query().Get("role"))
	if err := h.rooms.Join(client); err != nil {
		logger.Warn("加入播放会话失败", logger.String("session", claims.SessionID), logger.ErrorField(err))
		if errors.Is(err, room.ErrSessionNotFound) {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session not found"))
		}
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(context.Background(), h.rooms.HandleMessage)

	logger.Info("WebSocket 连接建立",
		logger.String("session", claims.SessionID),
		logger.String("videoId", claims.VideoID),
		logger.String("role", client.Role))
}

// RegisterRoutes 注册所有接口
func RegisterRoutes(router *mux.Router, h *APIHandler) {
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/videos", h.SubmitVideoHandler).Methods(http.MethodPost)
	api.HandleFunc("/videos/{videoId}", h.GetVideoHandler).Methods(http.MethodGet)
	api.HandleFunc("/videos/{videoId}/timeline", h.TimelineHandler).Methods(http.MethodGet)
	api.HandleFunc("/videos/{videoId}/sessions", h.CreateSessionHandler).Methods(http.MethodPost)
	api.HandleFunc("/history", h.HistoryHandler).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.StatsHandler).Methods(http.MethodGet)
	api.HandleFunc("/estimate", h.EstimateHandler).Methods(http.MethodGet)

	router.HandleFunc("/ws/player", h.PlayerSocketHandler)

	logger.Info("API端点注册完成",
		logger.String("endpoints", "POST /api/videos, GET /api/videos/{id}, GET /api/videos/{id}/timeline, POST /api/videos/{id}/sessions, GET /api/history, GET /api/stats, GET /api/estimate, WS /ws/player"))
}
