package service

import (
	"slices"

	"chatroom/internal/models"
)

const (
	DefaultPageLimit = 80
	MaxPageLimit     = 200
)

// MessagePage 是按时间升序排列的一段消息。HasMore 表示更早的消息仍然存在。
type MessagePage struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

// DeletedMessage 标识被删除的消息。
type DeletedMessage struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

// Append 追加一条消息，要求发送者是房间成员。
func (s *Store) Append(roomID, userID, text string) (models.Message, error) {
	text = NormalizeMessageText(text)
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return models.Message{}, ErrRoomNotFound
	}
	if accessOf(r, userID) != AccessMember {
		return models.Message{}, ErrNotRoomMember
	}
	id, err := s.newMessageID()
	if err != nil {
		return models.Message{}, err
	}
	s.msgSeq++
	m := &models.Message{ID: id, Seq: s.msgSeq, RoomID: roomID, UserID: userID, Text: text, CreatedAt: s.now()}
	s.messages[roomID] = append(s.messages[roomID], m)
	s.messageIDs[id] = m
	s.usedMsgIDs[id] = struct{}{}
	s.latest[roomID] = m
	s.persist.SaveMessage(*m)
	s.touchRoomLocked(r)
	return *m, nil
}

// Edit 只允许作者修改，消息的 ID 与位置保持不变。
func (s *Store) Edit(roomID, messageID, userID, newText string) (models.Message, error) {
	newText = NormalizeMessageText(newText)
	if newText == "" {
		return models.Message{}, ErrEmptyMessage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return models.Message{}, ErrRoomNotFound
	}
	m, ok := s.messageIDs[messageID]
	if !ok || m.RoomID != roomID {
		return models.Message{}, ErrMessageNotFound
	}
	if m.UserID != userID {
		return models.Message{}, ErrNotMessageAuthor
	}
	if accessOf(r, userID) != AccessMember {
		return models.Message{}, ErrNotRoomMember
	}
	now := s.now()
	m.Text = newText
	m.EditedAt = &now
	s.persist.SaveMessage(cloneMessage(m))
	return cloneMessage(m), nil
}

// Delete 允许作者或当前房主删除消息。
func (s *Store) Delete(roomID, messageID, requesterUserID string) (DeletedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return DeletedMessage{}, ErrRoomNotFound
	}
	m, ok := s.messageIDs[messageID]
	if !ok || m.RoomID != roomID {
		return DeletedMessage{}, ErrMessageNotFound
	}
	if m.UserID != requesterUserID && r.OwnerUserID != requesterUserID {
		return DeletedMessage{}, ErrCannotDelete
	}
	list := s.messages[roomID]
	if i := slices.Index(list, m); i >= 0 {
		s.messages[roomID] = slices.Delete(list, i, i+1)
	}
	delete(s.messageIDs, messageID)
	if s.latest[roomID] == m {
		if rest := s.messages[roomID]; len(rest) > 0 {
			s.latest[roomID] = rest[len(rest)-1]
		} else {
			delete(s.latest, roomID)
		}
	}
	s.persist.DeleteMessage(messageID)
	return DeletedMessage{RoomID: roomID, MessageID: messageID}, nil
}

// Page 返回 beforeMessageID 之前最多 limit 条消息；游标为空或未知时从最新处开始。
func (s *Store) Page(roomID string, limit int, beforeMessageID string) (MessagePage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.rooms[roomID]; !ok {
		return MessagePage{}, ErrRoomNotFound
	}
	return s.pageLocked(roomID, limit, beforeMessageID), nil
}

func (s *Store) pageLocked(roomID string, limit int, beforeMessageID string) MessagePage {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	list := s.messages[roomID]
	end := len(list)
	if beforeMessageID != "" {
		if m, ok := s.messageIDs[beforeMessageID]; ok && m.RoomID == roomID {
			if i := slices.Index(list, m); i >= 0 {
				end = i
			}
		}
	}
	start := max(0, end-limit)
	out := make([]models.Message, 0, end-start)
	for _, m := range list[start:end] {
		out = append(out, cloneMessage(m))
	}
	return MessagePage{Messages: out, HasMore: start > 0}
}

// Latest 返回房间缓存的最新消息。
func (s *Store) Latest(roomID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.latest[roomID]
	if !ok {
		return models.Message{}, false
	}
	return cloneMessage(m), true
}
