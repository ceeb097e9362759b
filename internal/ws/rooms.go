package ws

import (
	"chatroom/internal/models"
	"chatroom/internal/service"
)

// manageRoom 处理房间生命周期与房主操作，成功后向受影响的用户推送房间列表。
func (h *Hub) manageRoom(c *Client, in Inbound) error {
	switch in.Type {
	case EvRoomCreate:
		p, err := decode[CreateRoomPayload](in.Data)
		if err != nil {
			return err
		}
		discoverable := true
		if p.IsDiscoverable != nil {
			discoverable = *p.IsDiscoverable
		}
		room, err := h.store.CreateRoom(p.Name, c.userID, p.IsPrivate, discoverable)
		if err != nil {
			return err
		}
		h.ack(c, in, room)
		h.pushRoomLists(c.userID)
		return nil

	case EvRoomRequest:
		p, err := decode[RoomRef](in.Data)
		if err != nil {
			return err
		}
		res, err := h.store.Join(p.RoomID, c.userID)
		if err != nil {
			return err
		}
		h.ack(c, in, res)
		h.pushRoomLists(related(res.Room)...)
		if res.Status == service.AccessMember {
			h.refreshPresence(false, p.RoomID)
		}
		return nil

	case EvRoomLeave:
		p, err := decode[RoomRef](in.Data)
		if err != nil {
			return err
		}
		room, err := h.store.Leave(p.RoomID, c.userID)
		if err != nil {
			return err
		}
		h.evict(c.userID, p.RoomID, "left")
		h.ack(c, in, RoomRef{RoomID: p.RoomID})
		h.pushRoomLists(append(related(room), c.userID)...)
		h.refreshPresence(true, p.RoomID)
		return nil

	case EvRoomDelete:
		p, err := decode[RoomRef](in.Data)
		if err != nil {
			return err
		}
		res, err := h.store.DeleteRoom(p.RoomID, c.userID)
		if err != nil {
			return err
		}
		for _, u := range res.ImpactedUserIDs {
			h.evict(u, res.RoomID, "deleted")
		}
		h.refreshPresence(false, res.RoomID)
		h.ack(c, in, res)
		h.pushRoomLists(res.ImpactedUserIDs...)
		return nil

	case EvRoomKick:
		p, err := decode[MemberPayload](in.Data)
		if err != nil {
			return err
		}
		room, err := h.store.KickMember(p.RoomID, c.userID, p.UserID)
		if err != nil {
			return err
		}
		h.evict(p.UserID, p.RoomID, "kicked")
		h.ack(c, in, room)
		h.pushRoomLists(append(related(room), p.UserID)...)
		h.refreshPresence(true, p.RoomID)
		return nil

	case EvRoomApprove, EvRoomReject, EvRoomTransfer:
		p, err := decode[MemberPayload](in.Data)
		if err != nil {
			return err
		}
		op := h.store.ApprovePending
		switch in.Type {
		case EvRoomReject:
			op = h.store.RejectPending
		case EvRoomTransfer:
			op = h.store.TransferOwnership
		}
		room, err := op(p.RoomID, c.userID, p.UserID)
		if err != nil {
			return err
		}
		h.ack(c, in, room)
		h.pushRoomLists(append(related(room), p.UserID)...)
		h.refreshPresence(true, p.RoomID)
		return nil

	case EvRoomPrivacy, EvRoomDiscoverable:
		p, err := decode[FlagPayload](in.Data)
		if err != nil {
			return err
		}
		set := h.store.SetPrivacy
		if in.Type == EvRoomDiscoverable {
			set = h.store.SetDiscoverability
		}
		room, err := set(p.RoomID, c.userID, p.Value)
		if err != nil {
			return err
		}
		h.ack(c, in, room)
		h.pushRoomLists(related(room)...)
		return nil
	}
	return service.Invalid("unknown event type %q", in.Type)
}

func related(r models.Room) []string {
	out := make([]string, 0, len(r.MemberUserIDs)+len(r.PendingUserIDs))
	out = append(out, r.MemberUserIDs...)
	return append(out, r.PendingUserIDs...)
}
