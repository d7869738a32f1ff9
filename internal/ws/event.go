package ws

import (
	"encoding/json"
	"time"

	"chatwire/internal/service"
)

// Envelope 是线协议的统一外壳：{type, payload}。
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// inboundEnvelope 先保留原始 payload，按事件类型再解。
type inboundEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EventKind 是入站事件的闭合枚举，路由器对它做穷举分发，
// 不认识的类型落在 evUnknown 里被静默丢弃。
type EventKind int

const (
	evUnknown EventKind = iota
	evPrivateMessage
	evReadMessage
	evEditMessage
	evDeleteMessage
	evTyping
	evJoinRoom
	evRoomMessage
	evFetchHistory
)

func parseEventKind(s string) EventKind {
	switch s {
	case "private_message":
		return evPrivateMessage
	case "read_message":
		return evReadMessage
	case "edit_message":
		return evEditMessage
	case "delete_message":
		return evDeleteMessage
	case "typing":
		return evTyping
	case "join_room":
		return evJoinRoom
	case "room_message":
		return evRoomMessage
	case "fetch_history":
		return evFetchHistory
	}
	return evUnknown
}

func (k EventKind) String() string {
	switch k {
	case evPrivateMessage:
		return "private_message"
	case evReadMessage:
		return "read_message"
	case evEditMessage:
		return "edit_message"
	case evDeleteMessage:
		return "delete_message"
	case evTyping:
		return "typing"
	case evJoinRoom:
		return "join_room"
	case evRoomMessage:
		return "room_message"
	case evFetchHistory:
		return "fetch_history"
	}
	return "unknown"
}

// 服务端推送的事件类型。
const (
	EvtConnected        = "connected"
	EvtOnlineUsers      = "online_users"
	EvtPrivateMessage   = "private_message"
	EvtRoomMessage      = "room_message"
	EvtHistoryPrivate   = "history_private"
	EvtHistoryRoom      = "history_room"
	EvtMessageStatus    = "message_status"
	EvtMessageEdited    = "message_edited"
	EvtMessageDeleted   = "message_deleted"
	EvtTyping           = "typing"
	EvtJoinedRoom       = "joined_room"
	EvtRoomNotification = "room_notification"
	EvtError            = "error"
)

// 入站 payload。字段名沿用线协议的 camelCase。

type PrivateMessagePayload struct {
	ToUserID uint   `json:"toUserId"`
	Content  string `json:"content"`
	Image    string `json:"image"`
}

type ReadMessagePayload struct {
	MessageID uint `json:"messageId"`
}

type EditMessagePayload struct {
	MessageID  uint   `json:"messageId"`
	NewContent string `json:"newContent"`
}

type DeleteMessagePayload struct {
	MessageID uint `json:"messageId"`
}

type TypingPayload struct {
	ToUserID     uint   `json:"toUserId,omitempty"`
	RoomID       string `json:"roomId,omitempty"`
	IsTyping     bool   `json:"isTyping"`
	From         uint   `json:"from,omitempty"`
	FromUsername string `json:"fromUsername,omitempty"`
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type RoomMessagePayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
	Members []uint `json:"members,omitempty"`
}

type FetchHistoryPayload struct {
	Mode       string `json:"mode"`
	WithUserID uint   `json:"withUserId"`
	RoomID     string `json:"roomId"`
	Limit      int    `json:"limit"`
}

// 出站 payload。

type ConnectedPayload struct {
	User UserInfo `json:"user"`
}

type OnlineUsersPayload struct {
	Users []UserInfo `json:"users"`
}

type StatusPayload struct {
	MessageID uint   `json:"messageId"`
	Status    string `json:"status"`
}

type EditedPayload struct {
	MessageID  uint   `json:"messageId"`
	NewContent string `json:"newContent"`
	Edited     bool   `json:"edited"`
}

type DeletedPayload struct {
	MessageID uint `json:"messageId"`
}

type HistoryPrivatePayload struct {
	WithUserID uint                 `json:"withUserId"`
	Messages   []service.MessageDTO `json:"messages"`
}

type HistoryRoomPayload struct {
	RoomID   string               `json:"roomId"`
	Messages []service.MessageDTO `json:"messages"`
}

type JoinedRoomPayload struct {
	RoomID string `json:"roomId"`
}

type RoomNotificationPayload struct {
	RoomID    string    `json:"roomId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
