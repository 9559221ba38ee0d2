package room

import (
	"encoding/json"
	"sync"
	"time"

	"TLDRTube/logger"
)

// RoomHub WebSocket 管理中心
// 每个播放会话是一个房间：最多一个 player 客户端，任意数量的 viewer 客户端
type RoomHub struct {
	// 会话 -> 客户端集合
	rooms map[string]map[*Client]bool

	// 会话 -> 当前的播放器客户端
	players map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	// 客户端离开后的回调（在 Run 所在 goroutine 之外执行）
	onLeave func(*Client)

	mu   sync.RWMutex
	done chan struct{}
}

// BroadcastMessage 广播消息
type BroadcastMessage struct {
	SessionID string
	Message   []byte
}

// NewRoomHub 创建 Hub
func NewRoomHub() *RoomHub {
	return &RoomHub{
		rooms:      make(map[string]map[*Client]bool),
		players:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// OnLeave 设置客户端离开回调
func (h *RoomHub) OnLeave(fn func(*Client)) {
	h.mu.Lock()
	h.onLeave = fn
	h.mu.Unlock()
}

// Run 启动 Hub 主循环
func (h *RoomHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastToRoom(msg)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub
func (h *RoomHub) Stop() {
	close(h.done)
}

// registerClient 注册客户端；同一会话的新播放器会踢掉旧播放器
func (h *RoomHub) registerClient(client *Client) {
	h.mu.Lock()
	var kicked *Client
	if client.Role == RolePlayer {
		if old, exists := h.players[client.SessionID]; exists && old != client {
			h.removeClientLocked(old)
			kicked = old
		}
		h.players[client.SessionID] = client
	}
	if h.rooms[client.SessionID] == nil {
		h.rooms[client.SessionID] = make(map[*Client]bool)
	}
	h.rooms[client.SessionID][client] = true
	onLeave := h.onLeave
	h.mu.Unlock()

	if kicked != nil && onLeave != nil {
		go onLeave(kicked)
	}

	logger.Info("client registered",
		logger.String("session", client.SessionID),
		logger.String("role", client.Role))
}

// unregisterClient 注销客户端
func (h *RoomHub) unregisterClient(client *Client) {
	h.mu.Lock()
	removed := h.removeClientLocked(client)
	onLeave := h.onLeave
	h.mu.Unlock()

	if removed && onLeave != nil {
		go onLeave(client)
	}
}

// removeClientLocked 移除客户端，调用方持有锁
func (h *RoomHub) removeClientLocked(client *Client) bool {
	clients, ok := h.rooms[client.SessionID]
	if !ok || !clients[client] {
		return false
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.rooms, client.SessionID)
	}
	if h.players[client.SessionID] == client {
		delete(h.players, client.SessionID)
	}

	logger.Info("client unregistered",
		logger.String("session", client.SessionID),
		logger.String("role", client.Role))
	return true
}

// broadcastToRoom 向会话内所有客户端广播
func (h *RoomHub) broadcastToRoom(msg *BroadcastMessage) {
	h.mu.RLock()
	clients, ok := h.rooms[msg.SessionID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	clientList := make([]*Client, 0, len(clients))
	for client := range clients {
		clientList = append(clientList, client)
	}
	h.mu.RUnlock()

	for _, client := range clientList {
		select {
		case client.Send <- msg.Message:
		default:
			// 发送缓冲区满，移除客户端
			go h.Unregister(client)
		}
	}
}

// cleanup 清理所有连接
func (h *RoomHub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.rooms {
		for client := range clients {
			close(client.Send)
		}
	}
	h.rooms = make(map[string]map[*Client]bool)
	h.players = make(map[string]*Client)
}

// Register 注册客户端
func (h *RoomHub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister 注销客户端
func (h *RoomHub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastWSMessage 广播消息到会话
func (h *RoomHub) BroadcastWSMessage(sessionID string, msg *WSMessage) error {
	msg.SessionID = sessionID
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- &BroadcastMessage{SessionID: sessionID, Message: data}:
	case <-h.done:
	}
	return nil
}

// Player 当前会话的播放器客户端
func (h *RoomHub) Player(sessionID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.players[sessionID]
}

// ClientCount 会话内客户端数量
func (h *RoomHub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}
