package service

import (
	"cmp"
	"slices"
	"time"

	"chatroom/internal/models"
)

// MessagePreview 是房间列表中展示的最新消息摘要。
type MessagePreview struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	AuthorName string    `json:"authorName"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

type RoomSummary struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	OwnerUserID    string          `json:"ownerUserId,omitempty"`
	IsOwner        bool            `json:"isOwner"`
	IsPrivate      bool            `json:"isPrivate"`
	IsDiscoverable bool            `json:"isDiscoverable"`
	MemberCount    int             `json:"memberCount"`
	PendingCount   int             `json:"pendingCount"`
	AccessStatus   Access          `json:"accessStatus"`
	CanJoin        bool            `json:"canJoin"`
	LatestMessage  *MessagePreview `json:"latestMessage,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type MemberView struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	IsOwner     bool   `json:"isOwner"`
}

// MessageView 是附带作者显示名的消息。
type MessageView struct {
	models.Message
	AuthorName string `json:"authorName"`
}

type HistoryPage struct {
	Messages []MessageView `json:"messages"`
	HasMore  bool          `json:"hasMore"`
}

// RoomSnapshot 的成员、待审批与消息列表只在 CanAccess 为真时填充，
// 待审批列表还要求请求者是房主。
type RoomSnapshot struct {
	Room         RoomSummary   `json:"room"`
	CanAccess    bool          `json:"canAccess"`
	AccessStatus Access        `json:"accessStatus"`
	IsOwner      bool          `json:"isOwner"`
	Members      []MemberView  `json:"members"`
	PendingUsers []MemberView  `json:"pendingUsers"`
	Messages     []MessageView `json:"messages"`
	HasMore      bool          `json:"hasMore"`
}

func (s *Store) displayNameLocked(userID string) string {
	if u, ok := s.users[userID]; ok {
		return u.DisplayName
	}
	return DeletedUserName
}

func (s *Store) summaryLocked(r *models.Room, userID string) RoomSummary {
	access := accessOf(r, userID)
	sum := RoomSummary{
		ID:             r.ID,
		Name:           r.Name,
		OwnerUserID:    r.OwnerUserID,
		IsOwner:        r.OwnerUserID != "" && r.OwnerUserID == userID,
		IsPrivate:      r.IsPrivate,
		IsDiscoverable: r.IsDiscoverable,
		MemberCount:    len(r.MemberUserIDs),
		PendingCount:   len(r.PendingUserIDs),
		AccessStatus:   access,
		CanJoin:        access == AccessNone,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if access == AccessMember {
		if m, ok := s.latest[r.ID]; ok {
			sum.LatestMessage = &MessagePreview{
				ID:         m.ID,
				UserID:     m.UserID,
				AuthorName: s.displayNameLocked(m.UserID),
				Text:       m.Text,
				CreatedAt:  m.CreatedAt,
			}
		}
	}
	return sum
}

func sortSummaries(out []RoomSummary) {
	slices.SortFunc(out, func(a, b RoomSummary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// RoomsForUser 返回与用户有关系的全部房间，按 updatedAt 倒序。
func (s *Store) RoomsForUser(userID string) []RoomSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []RoomSummary{}
	for _, r := range s.rooms {
		if accessOf(r, userID) != AccessNone {
			out = append(out, s.summaryLocked(r, userID))
		}
	}
	sortSummaries(out)
	return out
}

// DiscoverableRoomsForUser 返回用户已有关系的房间与所有可发现的房间。
func (s *Store) DiscoverableRoomsForUser(userID string) []RoomSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []RoomSummary{}
	for _, r := range s.rooms {
		if r.IsDiscoverable || accessOf(r, userID) != AccessNone {
			out = append(out, s.summaryLocked(r, userID))
		}
	}
	sortSummaries(out)
	return out
}

func (s *Store) viewsLocked(msgs []models.Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageView{Message: m, AuthorName: s.displayNameLocked(m.UserID)})
	}
	return out
}

func (s *Store) membersLocked(r *models.Room, ids []string) []MemberView {
	out := make([]MemberView, 0, len(ids))
	for _, id := range ids {
		out = append(out, MemberView{UserID: id, DisplayName: s.displayNameLocked(id), IsOwner: id == r.OwnerUserID})
	}
	return out
}

// RoomSnapshot 在读取时执行授权：无访问权的用户只能看到房间摘要。
func (s *Store) RoomSnapshot(roomID, userID string) (RoomSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return RoomSnapshot{}, ErrRoomNotFound
	}
	sum := s.summaryLocked(r, userID)
	snap := RoomSnapshot{
		Room:         sum,
		AccessStatus: sum.AccessStatus,
		CanAccess:    sum.AccessStatus == AccessMember,
		IsOwner:      sum.IsOwner,
		Members:      []MemberView{},
		PendingUsers: []MemberView{},
		Messages:     []MessageView{},
	}
	if !snap.CanAccess {
		return snap, nil
	}
	snap.Members = s.membersLocked(r, r.MemberUserIDs)
	if snap.IsOwner {
		snap.PendingUsers = s.membersLocked(r, r.PendingUserIDs)
	}
	page := s.pageLocked(roomID, DefaultPageLimit, "")
	snap.Messages = s.viewsLocked(page.Messages)
	snap.HasMore = page.HasMore
	return snap, nil
}

// HistoryFor 返回成员可见的一页历史消息。
func (s *Store) HistoryFor(roomID, userID string, limit int, beforeMessageID string) (HistoryPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return HistoryPage{}, ErrRoomNotFound
	}
	if accessOf(r, userID) != AccessMember {
		return HistoryPage{}, ErrNotRoomMember
	}
	page := s.pageLocked(roomID, limit, beforeMessageID)
	return HistoryPage{Messages: s.viewsLocked(page.Messages), HasMore: page.HasMore}, nil
}

// Members 返回房间成员视图，供在线状态广播使用。
func (s *Store) Members(roomID string) ([]MemberView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return s.membersLocked(r, r.MemberUserIDs), nil
}
