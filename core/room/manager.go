package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"TLDRTube/core/player"
	"TLDRTube/core/timeline"
	"TLDRTube/logger"
	"TLDRTube/model"

	"github.com/google/uuid"
)

// ErrSessionNotFound 会话不存在或已过期
var ErrSessionNotFound = errors.New("room: session not found")

// Options 管理器参数
type Options struct {
	Merge  timeline.MergeOptions
	Player player.Options
	// IdleTTL 没有客户端连接的会话保留时长
	IdleTTL time.Duration
}

type sessionEntry struct {
	id         string
	videoID    string
	host       string
	session    *player.Session
	backend    *RemoteBackend
	player     *Client
	lastActive time.Time
}

// RoomManager 管理播放会话以及连接到会话的客户端
type RoomManager struct {
	hub  *RoomHub
	opts Options

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// NewRoomManager 创建管理器
func NewRoomManager(hub *RoomHub, opts Options) *RoomManager {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 2 * time.Hour
	}
	m := &RoomManager{
		hub:      hub,
		opts:     opts,
		sessions: make(map[string]*sessionEntry),
	}
	hub.OnLeave(m.handleLeave)
	return m
}

// Hub 客户端连接中心
func (m *RoomManager) Hub() *RoomHub {
	return m.hub
}

// ========== 会话 ==========

// CreateSession 为处理结果创建播放会话，返回会话ID
func (m *RoomManager) CreateSession(videoID string, result *model.ProcessingResult) string {
	id := uuid.New().String()
	host := ""
	if result != nil {
		host = result.IdentifiedHost
	}
	entry := &sessionEntry{
		id:         id,
		videoID:    videoID,
		host:       host,
		session:    player.NewSession(result, m.opts.Merge, m.opts.Player),
		lastActive: time.Now(),
	}

	m.mu.Lock()
	m.sessions[id] = entry
	m.mu.Unlock()

	logger.Info("播放会话已创建",
		logger.String("session", id),
		logger.String("videoId", videoID),
		logger.Float64("totalDuration", entry.session.Controller().TotalDuration()))
	return id
}

// Session 查找会话
func (m *RoomManager) Session(id string) (*player.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry.session, nil
}

// SessionCount 当前会话数量
func (m *RoomManager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseSession 销毁会话
func (m *RoomManager) CloseSession(id string) {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		entry.session.Controller().Close()
	}
}

// Run 定期清理闲置会话，直到 ctx 结束
func (m *RoomManager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictIdle(time.Now())
		}
	}
}

func (m *RoomManager) evictIdle(now time.Time) {
	var expired []string
	m.mu.Lock()
	for id, entry := range m.sessions {
		if m.hub.ClientCount(id) == 0 && now.Sub(entry.lastActive) > m.opts.IdleTTL {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.CloseSession(id)
		logger.Info("闲置播放会话已清理", logger.String("session", id))
	}
}

// ========== 客户端 ==========

// Join 客户端加入会话；播放器客户端成为会话的媒体后端
func (m *RoomManager) Join(client *Client) error {
	m.mu.Lock()
	entry, ok := m.sessions[client.SessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	entry.lastActive = time.Now()

	ctrl := entry.session.Controller()
	if client.Role == RolePlayer {
		if entry.backend != nil {
			ctrl.Close()
		}
		backend := NewRemoteBackend(client.SendMessage)
		if err := ctrl.Initialize(backend); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("failed to attach player: %w", err)
		}
		entry.backend = backend
		entry.player = client

		sessionID := entry.id
		ctrl.Subscribe(func(s player.Snapshot) {
			m.broadcast(sessionID, MsgTypeProgress, s)
		})
	}
	m.mu.Unlock()

	m.hub.Register(client)
	m.sendTo(client, MsgTypeSpeakers, m.speakersData(entry))
	m.sendTo(client, MsgTypeProgress, ctrl.Snapshot())
	return nil
}

// handleLeave 播放器断开时释放后端
func (m *RoomManager) handleLeave(client *Client) {
	m.mu.Lock()
	entry, ok := m.sessions[client.SessionID]
	if !ok || entry.player != client {
		m.mu.Unlock()
		return
	}
	entry.player = nil
	entry.backend = nil
	entry.lastActive = time.Now()
	m.mu.Unlock()

	entry.session.Controller().Close()
	logger.Info("播放器已断开", logger.String("session", client.SessionID))
}

// HandleMessage 处理客户端消息
func (m *RoomManager) HandleMessage(ctx context.Context, client *Client, msg *WSMessage) {
	m.mu.Lock()
	entry, ok := m.sessions[client.SessionID]
	if ok {
		entry.lastActive = time.Now()
	}
	var backend *RemoteBackend
	if ok && entry.player == client {
		backend = entry.backend
	}
	m.mu.Unlock()

	if !ok {
		m.sendError(client, ErrSessionNotFound.Error())
		return
	}
	ctrl := entry.session.Controller()

	switch msg.Type {
	// 播放器上报
	case MsgTypeReady, MsgTypeState, MsgTypeTime:
		if backend == nil {
			m.sendError(client, "only the player client may report playback")
			return
		}
		m.handleReport(ctrl, backend, msg)

	// 播放控制
	case MsgTypePlay:
		ctrl.Play()
	case MsgTypePause:
		ctrl.Pause()
	case MsgTypeToggle:
		ctrl.TogglePlayPause()
	case MsgTypeRate:
		ctrl.CycleRate()
	case MsgTypeSeek:
		var data SeekData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			m.sendError(client, "invalid seek data")
			return
		}
		ctrl.SeekVirtual(data.Virtual)

	case MsgTypeExclude:
		var data ExcludeData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			m.sendError(client, "invalid exclude data")
			return
		}
		applyExclusion(entry.session, data)
		m.broadcast(entry.id, MsgTypeSpeakers, m.speakersData(entry))

	default:
		logger.Debug("unknown message type",
			logger.String("session", client.SessionID),
			logger.String("type", string(msg.Type)))
		m.sendError(client, "unknown message type: "+string(msg.Type))
	}
}

func (m *RoomManager) handleReport(ctrl *player.Controller, backend *RemoteBackend, msg *WSMessage) {
	switch msg.Type {
	case MsgTypeReady:
		var data ReadyData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				logger.Warn("invalid ready data", logger.ErrorField(err))
			}
		}
		backend.MarkReady(data.Duration)
		ctrl.OnReady(data.Duration)

	case MsgTypeState:
		var data StateData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			logger.Warn("invalid state data", logger.ErrorField(err))
			return
		}
		backend.ReportState(data.State)
		ctrl.OnStateChange(data.State)

	case MsgTypeTime:
		var data TimeData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			logger.Warn("invalid time data", logger.ErrorField(err))
			return
		}
		backend.ReportTime(data.CurrentTime)
	}
}

func applyExclusion(s *player.Session, data ExcludeData) {
	switch {
	case data.SpeakerIDs != nil:
		s.SetExcluded(data.SpeakerIDs)
	case data.SpeakerID == "":
		return
	case data.Excluded == nil:
		s.Toggle(data.SpeakerID)
	case *data.Excluded:
		s.Exclude(data.SpeakerID)
	default:
		s.Include(data.SpeakerID)
	}
}

func (m *RoomManager) speakersData(entry *sessionEntry) SpeakersData {
	return SpeakersData{
		Speakers:       entry.session.Speakers(),
		Excluded:       entry.session.Excluded(),
		Ranges:         entry.session.Ranges(),
		IdentifiedHost: entry.host,
	}
}

func (m *RoomManager) broadcast(sessionID string, t MessageType, data interface{}) {
	msg, err := newMessage(t, data)
	if err != nil {
		logger.Warn("failed to encode message", logger.String("type", string(t)), logger.ErrorField(err))
		return
	}
	if err := m.hub.BroadcastWSMessage(sessionID, msg); err != nil {
		logger.Warn("broadcast failed", logger.String("session", sessionID), logger.ErrorField(err))
	}
}

func (m *RoomManager) sendTo(client *Client, t MessageType, data interface{}) {
	msg, err := newMessage(t, data)
	if err != nil {
		logger.Warn("failed to encode message", logger.String("type", string(t)), logger.ErrorField(err))
		return
	}
	client.SendMessage(msg)
}

func (m *RoomManager) sendError(client *Client, message string) {
	m.sendTo(client, MsgTypeError, ErrorData{Message: message})
}
