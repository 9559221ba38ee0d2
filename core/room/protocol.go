package room

import (
	"encoding/json"

	"TLDRTube/core/player"
	"TLDRTube/model"
)

// MessageType 消息类型
type MessageType string

const (
	// 系统消息
	MsgTypeError MessageType = "error" // 错误消息
	MsgTypePing  MessageType = "ping"  // 心跳
	MsgTypePong  MessageType = "pong"  // 心跳响应

	// 服务端 -> 播放器：后端指令
	MsgTypeCmdPlay    MessageType = "cmd.play"
	MsgTypeCmdPause   MessageType = "cmd.pause"
	MsgTypeCmdSeekTo  MessageType = "cmd.seekTo"
	MsgTypeCmdSetRate MessageType = "cmd.setRate"

	// 播放器 -> 服务端：后端上报
	MsgTypeReady MessageType = "ready" // 播放器就绪，携带原视频时长
	MsgTypeState MessageType = "state" // 播放器状态变化
	MsgTypeTime  MessageType = "time"  // 当前真实播放位置

	// 观看者 -> 服务端：播放控制
	MsgTypePlay    MessageType = "play"
	MsgTypePause   MessageType = "pause"
	MsgTypeToggle  MessageType = "toggle"
	MsgTypeSeek    MessageType = "seek"    // 跳转到虚拟时间
	MsgTypeRate    MessageType = "rate"    // 切换倍速
	MsgTypeExclude MessageType = "exclude" // 修改排除的说话人

	// 服务端 -> 所有客户端
	MsgTypeProgress MessageType = "progress" // 播放状态快照
	MsgTypeSpeakers MessageType = "speakers" // 说话人列表和排除集合
)

// 客户端角色
const (
	RolePlayer = "player" // 嵌入式播放器，作为媒体后端
	RoleViewer = "viewer" // 只接收状态并发送控制指令
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// SeekToData 后端 seek 指令
type SeekToData struct {
	Seconds        float64 `json:"seconds"`
	AllowSeekAhead bool    `json:"allowSeekAhead"`
}

// RateData 倍速指令
type RateData struct {
	Rate float64 `json:"rate"`
}

// ReadyData 播放器就绪上报
type ReadyData struct {
	Duration float64 `json:"duration"`
}

// StateData 播放器状态上报
type StateData struct {
	State player.BackendState `json:"state"`
}

// TimeData 播放位置上报
type TimeData struct {
	CurrentTime float64 `json:"currentTime"`
}

// SeekData 观看者跳转指令（虚拟时间）
type SeekData struct {
	Virtual float64 `json:"virtual"`
}

// ExcludeData 排除集合修改
// SpeakerIDs 非空时整体替换；否则 Excluded 为空表示切换，否则按其值设置
type ExcludeData struct {
	SpeakerID  string   `json:"speakerId,omitempty"`
	Excluded   *bool    `json:"excluded,omitempty"`
	SpeakerIDs []string `json:"speakerIds,omitempty"`
}

// SpeakersData 说话人信息推送
type SpeakersData struct {
	Speakers       []model.SpeakerTrack `json:"speakers"`
	Excluded       []string             `json:"excluded"`
	Ranges         []model.Segment      `json:"ranges"`
	IdentifiedHost string               `json:"identifiedHost,omitempty"`
}

// ErrorData 错误消息
type ErrorData struct {
	Message string `json:"message"`
}

func newMessage(t MessageType, data interface{}) (*WSMessage, error) {
	msg := &WSMessage{Type: t}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return msg, nil
}
