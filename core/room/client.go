package room

import (
	"context"
	"encoding/json"
	"time"

	"TLDRTube/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Client WebSocket 客户端
type Client struct {
	Hub       *RoomHub
	Conn      *websocket.Conn
	Send      chan []byte
	SessionID string
	Role      string
}

// NewClient 创建客户端
func NewClient(hub *RoomHub, conn *websocket.Conn, sessionID, role string) *Client {
	if role != RoleViewer {
		role = RolePlayer
	}
	return &Client{
		Hub:       hub,
		Conn:      conn,
		Send:      make(chan []byte, sendBufferSize),
		SessionID: sessionID,
		Role:      role,
	}
}

// ReadPump 读取消息循环
func (c *Client) ReadPump(ctx context.Context, handler func(ctx context.Context, client *Client, msg *WSMessage)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error",
					logger.ErrorField(err),
					logger.String("session", c.SessionID))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("invalid message format",
				logger.ErrorField(err),
				logger.String("session", c.SessionID))
			continue
		}

		if msg.Type == MsgTypePing {
			c.SendMessage(&WSMessage{Type: MsgTypePong})
			continue
		}

		handler(ctx, c, &msg)
	}
}

// WritePump 写入消息循环
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// 每条消息单独一帧，方便浏览器端直接 JSON.parse
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage 发送消息给客户端，缓冲区满时丢弃
func (c *Client) SendMessage(msg *WSMessage) (err error) {
	msg.SessionID = c.SessionID
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// Send 可能已被 Hub 关闭
	defer func() {
		if recover() != nil {
			err = ErrBackendClosed
		}
	}()
	select {
	case c.Send <- data:
	default:
		logger.Warn("send buffer full, message dropped",
			logger.String("session", c.SessionID),
			logger.String("type", string(msg.Type)))
	}
	return nil
}
