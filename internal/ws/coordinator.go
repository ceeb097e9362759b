package ws

import (
	"encoding/json"

	"chatroom/internal/metrics"
	"chatroom/internal/models"
	"chatroom/internal/service"

	"github.com/rs/zerolog/log"
)

// Handle 处理一个入站帧。错误只回复给当前连接，不会终止连接。
func (h *Hub) Handle(c *Client, raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil || in.Type == "" {
		h.replyError(c, in, service.Invalid("malformed event"))
		return
	}
	if err := h.dispatch(c, in); err != nil {
		metrics.WsEvents.WithLabelValues(string(service.KindOf(err))).Inc()
		h.replyError(c, in, err)
		return
	}
	metrics.WsEvents.WithLabelValues("ok").Inc()
}

func (h *Hub) replyError(c *Client, in Inbound, err error) {
	kind := service.KindOf(err)
	msg := err.Error()
	if kind == service.KindInternal {
		log.Error().Err(err).Str("conn_id", c.id).Str("user_id", c.userID).Str("op", in.Type).Msg("ws action failed")
		msg = "internal error"
	}
	h.sendTo(c, Outbound{Type: OutError, RequestID: in.RequestID, Data: ErrorData{Action: in.Type, Code: kind, Message: msg}})
}

func (h *Hub) ack(c *Client, in Inbound, result any) {
	h.sendTo(c, Outbound{Type: OutAck, RequestID: in.RequestID, Data: AckData{Action: in.Type, Result: result}})
}

func (h *Hub) dispatch(c *Client, in Inbound) error {
	switch in.Type {
	case EvRoomJoin:
		p, err := decode[RoomRef](in.Data)
		if err != nil {
			return err
		}
		return h.joinRoom(c, in, p.RoomID)
	case EvRoomExit:
		return h.exitRoom(c, in)
	case EvPresenceUpdate:
		p, err := decode[PresencePayload](in.Data)
		if err != nil {
			return err
		}
		h.updatePresence(c, p)
		return nil
	case EvMessageSend:
		p, err := decode[SendPayload](in.Data)
		if err != nil {
			return err
		}
		return h.sendMessage(c, in, p)
	case EvMessageEdit:
		p, err := decode[EditPayload](in.Data)
		if err != nil {
			return err
		}
		return h.editMessage(c, in, p)
	case EvMessageDelete:
		p, err := decode[DeletePayload](in.Data)
		if err != nil {
			return err
		}
		return h.deleteMessage(c, in, p)
	case EvTyping:
		p, err := decode[TypingPayload](in.Data)
		if err != nil {
			return err
		}
		return h.typing(c, p)
	case EvMessagesPage:
		p, err := decode[PagePayload](in.Data)
		if err != nil {
			return err
		}
		page, err := h.store.HistoryFor(p.RoomID, c.userID, p.Limit, p.Before)
		if err != nil {
			return err
		}
		h.ack(c, in, HistoryData{RoomID: p.RoomID, Messages: page.Messages, HasMore: page.HasMore})
		return nil
	case EvRoomsList:
		h.ack(c, in, RoomsData{Rooms: h.store.RoomsForUser(c.userID)})
		return nil
	case EvRoomsDiscover:
		h.ack(c, in, RoomsData{Rooms: h.store.DiscoverableRoomsForUser(c.userID)})
		return nil
	case EvRoomSnapshot:
		p, err := decode[RoomRef](in.Data)
		if err != nil {
			return err
		}
		snap, err := h.store.RoomSnapshot(p.RoomID, c.userID)
		if err != nil {
			return err
		}
		h.ack(c, in, snap)
		return nil
	case EvRoomCreate, EvRoomRequest, EvRoomLeave, EvRoomDelete, EvRoomKick,
		EvRoomApprove, EvRoomReject, EvRoomTransfer, EvRoomPrivacy, EvRoomDiscoverable:
		return h.manageRoom(c, in)
	}
	return service.Invalid("unknown event type %q", in.Type)
}

// joinRoom 要求成员身份；切换频道后推送历史快照并刷新在线状态。
func (h *Hub) joinRoom(c *Client, in Inbound, roomID string) error {
	access, err := h.store.AccessFor(roomID, c.userID)
	if err != nil {
		return err
	}
	switch access {
	case service.AccessPending:
		return service.Forbidden("your request to join this room is awaiting approval")
	case service.AccessNone:
		return service.ErrNotRoomMember
	}
	history, err := h.store.HistoryFor(roomID, c.userID, h.historyLimit, "")
	if err != nil {
		return err
	}
	prev := h.joinChannel(c, roomID)
	// 检查与订阅之间可能发生踢出：evict 此时找不到该连接，这里必须自行撤销订阅。
	if !h.store.IsMember(roomID, c.userID) {
		h.leaveChannel(c)
		return service.ErrNotRoomMember
	}
	h.sendTo(c, Outbound{Type: OutRoomHistory, RequestID: in.RequestID, Data: HistoryData{
		RoomID:   roomID,
		Messages: history.Messages,
		HasMore:  history.HasMore,
	}})

	before, after := h.presence.SetFocus(c.id, c.userID, roomID, h.focusedOf(c))
	rooms := h.store.MemberRoomIDs(c.userID)
	if before != after {
		h.refreshPresence(false, rooms...)
	}
	if prev != roomID {
		// 新加入频道的连接需要一份完整的成员列表。
		h.sendMembers(c, roomID)
	}
	return nil
}

func (h *Hub) focusedOf(c *Client) bool {
	return h.presence.FocusOf(c.id).Focused
}

func (h *Hub) exitRoom(c *Client, in Inbound) error {
	prev := h.leaveChannel(c)
	before, after := h.presence.SetFocus(c.id, c.userID, "", h.focusedOf(c))
	if before != after {
		h.refreshPresence(false, h.store.MemberRoomIDs(c.userID)...)
	}
	h.ack(c, in, RoomRef{RoomID: prev})
	return nil
}

// updatePresence 只在焦点或活动房间真正变化时广播。
func (h *Hub) updatePresence(c *Client, p PresencePayload) {
	roomID := p.RoomID
	if roomID == "" {
		roomID = h.channelOf(c)
	}
	before, after := h.presence.SetFocus(c.id, c.userID, roomID, p.Focused)
	if before == after {
		return
	}
	h.refreshPresence(false, h.store.MemberRoomIDs(c.userID)...)
}

func (h *Hub) sendMessage(c *Client, in Inbound, p SendPayload) error {
	if h.limiter != nil && !h.limiter.Allow(c.userID) {
		metrics.RateLimited.WithLabelValues("ws_send").Inc()
		return service.Invalid("sending too fast, slow down")
	}
	msg, err := h.store.Append(p.RoomID, c.userID, p.Text)
	if err != nil {
		return err
	}
	metrics.WsMessagesTotal.Inc()
	view := h.view(msg)
	h.ack(c, in, MessageData{MessageView: view, ClientID: p.ClientID})
	h.broadcastRoom(p.RoomID, Outbound{Type: OutMessageNew, Data: MessageData{MessageView: view, ClientID: p.ClientID}}, nil)
	h.pushRoomLists(h.store.RelatedUserIDs(p.RoomID)...)
	return nil
}

func (h *Hub) editMessage(c *Client, in Inbound, p EditPayload) error {
	msg, err := h.store.Edit(p.RoomID, p.MessageID, c.userID, p.Text)
	if err != nil {
		return err
	}
	view := h.view(msg)
	h.ack(c, in, view)
	h.broadcastRoom(p.RoomID, Outbound{Type: OutMessageUpdated, Data: view}, nil)
	if latest, ok := h.store.Latest(p.RoomID); ok && latest.ID == msg.ID {
		h.pushRoomLists(h.store.RelatedUserIDs(p.RoomID)...)
	}
	return nil
}

func (h *Hub) deleteMessage(c *Client, in Inbound, p DeletePayload) error {
	if !h.store.IsMember(p.RoomID, c.userID) {
		if _, err := h.store.GetRoom(p.RoomID); err != nil {
			return err
		}
		return service.ErrNotRoomMember
	}
	res, err := h.store.Delete(p.RoomID, p.MessageID, c.userID)
	if err != nil {
		return err
	}
	h.ack(c, in, res)
	h.broadcastRoom(p.RoomID, Outbound{Type: OutMessageDeleted, Data: res}, nil)
	h.pushRoomLists(h.store.RelatedUserIDs(p.RoomID)...)
	return nil
}

// typing 广播给房间频道中除发送者外的连接，不做持久化。
func (h *Hub) typing(c *Client, p TypingPayload) error {
	if !h.store.IsMember(p.RoomID, c.userID) {
		return service.ErrNotRoomMember
	}
	name := h.store.DisplayName(c.userID)
	h.broadcastRoom(p.RoomID, Outbound{Type: OutTyping, Data: TypingData{
		RoomID:      p.RoomID,
		UserID:      c.userID,
		DisplayName: name,
		IsTyping:    p.IsTyping,
	}}, c)
	return nil
}

func (h *Hub) view(m models.Message) service.MessageView {
	return service.MessageView{Message: m, AuthorName: h.store.DisplayName(m.UserID)}
}
