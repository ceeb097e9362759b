package ws

import (
	"encoding/json"
	"strings"

	"chatroom/internal/presence"
	"chatroom/internal/service"
)

// 客户端发来的事件类型。
const (
	EvRoomJoin         = "room:join"
	EvRoomExit         = "room:exit"
	EvPresenceUpdate   = "presence:update"
	EvMessageSend      = "message:send"
	EvMessageEdit      = "message:edit"
	EvMessageDelete    = "message:delete"
	EvTyping           = "typing"
	EvMessagesPage     = "messages:page"
	EvRoomsList        = "rooms:list"
	EvRoomsDiscover    = "rooms:discover"
	EvRoomSnapshot     = "room:snapshot"
	EvRoomCreate       = "room:create"
	EvRoomRequest      = "room:request"
	EvRoomLeave        = "room:leave"
	EvRoomDelete       = "room:delete"
	EvRoomKick         = "room:kick"
	EvRoomApprove      = "room:approve"
	EvRoomReject       = "room:reject"
	EvRoomTransfer     = "room:transfer"
	EvRoomPrivacy      = "room:privacy"
	EvRoomDiscoverable = "room:discoverable"
)

// 服务端推送的事件类型。
const (
	OutRoomsList      = "rooms:list"
	OutRoomHistory    = "room:history"
	OutRoomMembers    = "room:members"
	OutRoomRemoved    = "room:removed"
	OutMessageNew     = "message:new"
	OutMessageUpdated = "message:updated"
	OutMessageDeleted = "message:deleted"
	OutTyping         = "typing"
	OutAck            = "ack"
	OutError          = "error"
)

// Inbound 是客户端事件的外层信封，Data 按 Type 解码为具体载荷。
type Inbound struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type Outbound struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type ErrorData struct {
	Action  string       `json:"action"`
	Code    service.Kind `json:"code"`
	Message string       `json:"message"`
}

type AckData struct {
	Action string `json:"action"`
	Result any    `json:"result,omitempty"`
}

// validator 由需要边界校验的载荷实现。
type validator interface {
	validate() error
}

type RoomRef struct {
	RoomID string `json:"roomId"`
}

func (p RoomRef) validate() error { return requireRoom(p.RoomID) }

type PresencePayload struct {
	RoomID  string `json:"roomId,omitempty"`
	Focused bool   `json:"focused"`
}

func (p PresencePayload) validate() error { return nil }

type SendPayload struct {
	RoomID   string `json:"roomId"`
	Text     string `json:"text"`
	ClientID string `json:"clientId,omitempty"`
}

func (p SendPayload) validate() error {
	if err := requireRoom(p.RoomID); err != nil {
		return err
	}
	if strings.TrimSpace(p.Text) == "" {
		return service.ErrEmptyMessage
	}
	return nil
}

type EditPayload struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

func (p EditPayload) validate() error {
	if err := requireRoom(p.RoomID); err != nil {
		return err
	}
	if p.MessageID == "" {
		return service.Invalid("messageId is required")
	}
	if strings.TrimSpace(p.Text) == "" {
		return service.ErrEmptyMessage
	}
	return nil
}

type DeletePayload struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

func (p DeletePayload) validate() error {
	if err := requireRoom(p.RoomID); err != nil {
		return err
	}
	if p.MessageID == "" {
		return service.Invalid("messageId is required")
	}
	return nil
}

type TypingPayload struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

func (p TypingPayload) validate() error { return requireRoom(p.RoomID) }

type PagePayload struct {
	RoomID string `json:"roomId"`
	Limit  int    `json:"limit,omitempty"`
	Before string `json:"before,omitempty"`
}

func (p PagePayload) validate() error { return requireRoom(p.RoomID) }

type CreateRoomPayload struct {
	Name           string `json:"name"`
	IsPrivate      bool   `json:"isPrivate"`
	IsDiscoverable *bool  `json:"isDiscoverable,omitempty"`
}

func (p CreateRoomPayload) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return service.ErrEmptyRoomName
	}
	return nil
}

// MemberPayload 指向房间中的另一个用户（踢出、审批、转让）。
type MemberPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

func (p MemberPayload) validate() error {
	if err := requireRoom(p.RoomID); err != nil {
		return err
	}
	if p.UserID == "" {
		return service.Invalid("userId is required")
	}
	return nil
}

type FlagPayload struct {
	RoomID string `json:"roomId"`
	Value  bool   `json:"value"`
}

func (p FlagPayload) validate() error { return requireRoom(p.RoomID) }

func requireRoom(id string) error {
	if strings.TrimSpace(id) == "" {
		return service.Invalid("roomId is required")
	}
	return nil
}

// decode 解码并校验载荷。
func decode[T validator](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v); err != nil {
			return v, service.Invalid("malformed payload")
		}
	}
	if err := v.validate(); err != nil {
		return v, err
	}
	return v, nil
}

// HistoryData 是进入房间时推送的历史快照。
type HistoryData struct {
	RoomID   string                `json:"roomId"`
	Messages []service.MessageView `json:"messages"`
	HasMore  bool                  `json:"hasMore"`
}

type MessageData struct {
	service.MessageView
	ClientID string `json:"clientId,omitempty"`
}

type MemberPresence struct {
	service.MemberView
	Status presence.Status `json:"status"`
}

type MembersData struct {
	RoomID  string           `json:"roomId"`
	Members []MemberPresence `json:"members"`
}

type TypingData struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	IsTyping    bool   `json:"isTyping"`
}

type RemovedData struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

type RoomsData struct {
	Rooms []service.RoomSummary `json:"rooms"`
}
