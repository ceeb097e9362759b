package service

import (
	"slices"

	"chatroom/internal/models"
)

// Access 表示用户与房间的关系。
type Access string

const (
	AccessMember  Access = "member"
	AccessPending Access = "pending"
	AccessNone    Access = "none"
)

func accessOf(r *models.Room, userID string) Access {
	switch {
	case slices.Contains(r.MemberUserIDs, userID):
		return AccessMember
	case slices.Contains(r.PendingUserIDs, userID):
		return AccessPending
	}
	return AccessNone
}

// JoinResult 是加入房间后的房间状态与用户的访问状态。
type JoinResult struct {
	Room   models.Room `json:"room"`
	Status Access      `json:"status"`
}

// DeletedRoom 描述被删除的房间及受影响的用户。
type DeletedRoom struct {
	RoomID          string   `json:"roomId"`
	ImpactedUserIDs []string `json:"impactedUserIds"`
}

// CreateRoom 创建房间，创建者成为房主和唯一成员。
func (s *Store) CreateRoom(name, ownerUserID string, isPrivate, isDiscoverable bool) (models.Room, error) {
	name = NormalizeRoomName(name)
	if name == "" {
		return models.Room{}, ErrEmptyRoomName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[ownerUserID]; !ok {
		return models.Room{}, ErrUserNotFound
	}
	id, err := s.newRoomID()
	if err != nil {
		return models.Room{}, err
	}
	now := s.now()
	r := &models.Room{
		ID:             id,
		Name:           name,
		OwnerUserID:    ownerUserID,
		MemberUserIDs:  []string{ownerUserID},
		PendingUserIDs: []string{},
		IsPrivate:      isPrivate,
		IsDiscoverable: isDiscoverable,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.rooms[id] = r
	s.persist.SaveRoom(cloneRoom(*r))
	return cloneRoom(*r), nil
}

func (s *Store) GetRoom(roomID string) (models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	return cloneRoom(*r), nil
}

func (s *Store) AccessFor(roomID, userID string) (Access, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return AccessNone, ErrRoomNotFound
	}
	return accessOf(r, userID), nil
}

// IsMember 对不存在的房间返回 false。
func (s *Store) IsMember(roomID, userID string) bool {
	a, err := s.AccessFor(roomID, userID)
	return err == nil && a == AccessMember
}

// RelatedUserIDs 返回与房间有任何关系（成员或待审批）的用户。
func (s *Store) RelatedUserIDs(roomID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return relatedUsers(r)
}

func relatedUsers(r *models.Room) []string {
	out := make([]string, 0, len(r.MemberUserIDs)+len(r.PendingUserIDs))
	out = append(out, r.MemberUserIDs...)
	return append(out, r.PendingUserIDs...)
}

// RoomIDsForUser 返回用户作为成员或待审批者所在的全部房间。
func (s *Store) RoomIDsForUser(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, r := range s.rooms {
		if accessOf(r, userID) != AccessNone {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// MemberRoomIDs 只返回用户具有成员身份的房间。
func (s *Store) MemberRoomIDs(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, r := range s.rooms {
		if accessOf(r, userID) == AccessMember {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Join 已是成员时幂等；私有房间进入待审批队列；公开房间立即成为成员。
// 无主房间的加入者接管所有权。
func (s *Store) Join(roomID, userID string) (JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return JoinResult{}, ErrRoomNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return JoinResult{}, ErrUserNotFound
	}
	switch accessOf(r, userID) {
	case AccessMember:
		return JoinResult{Room: cloneRoom(*r), Status: AccessMember}, nil
	case AccessPending:
		if r.IsPrivate {
			return JoinResult{Room: cloneRoom(*r), Status: AccessPending}, nil
		}
	}
	if r.OwnerUserID == "" {
		// 无主房间没有人能审批，加入者直接成为成员与房主。
		r.PendingUserIDs = removeID(r.PendingUserIDs, userID)
		r.MemberUserIDs = append(r.MemberUserIDs, userID)
		r.OwnerUserID = userID
		s.touchRoomLocked(r)
		return JoinResult{Room: cloneRoom(*r), Status: AccessMember}, nil
	}
	if r.IsPrivate {
		r.PendingUserIDs = append(r.PendingUserIDs, userID)
		s.touchRoomLocked(r)
		return JoinResult{Room: cloneRoom(*r), Status: AccessPending}, nil
	}
	r.PendingUserIDs = removeID(r.PendingUserIDs, userID)
	r.MemberUserIDs = append(r.MemberUserIDs, userID)
	s.touchRoomLocked(r)
	return JoinResult{Room: cloneRoom(*r), Status: AccessMember}, nil
}

// Leave 从成员与待审批集合中移除用户；房主离开时转移所有权，但不删除房间。
func (s *Store) Leave(roomID, userID string) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	if accessOf(r, userID) == AccessNone {
		return models.Room{}, Invalid("you are not in this room")
	}
	s.detachLocked(r, userID)
	s.touchRoomLocked(r)
	return cloneRoom(*r), nil
}

// detachLocked 移除用户并在必要时重新指定房主：
// 优先第一个剩余成员，否则提升第一个待审批用户，否则置空。
func (s *Store) detachLocked(r *models.Room, userID string) {
	r.MemberUserIDs = removeID(r.MemberUserIDs, userID)
	r.PendingUserIDs = removeID(r.PendingUserIDs, userID)
	if r.OwnerUserID != userID {
		return
	}
	switch {
	case len(r.MemberUserIDs) > 0:
		r.OwnerUserID = r.MemberUserIDs[0]
	case len(r.PendingUserIDs) > 0:
		next := r.PendingUserIDs[0]
		r.PendingUserIDs = r.PendingUserIDs[1:]
		r.MemberUserIDs = append(r.MemberUserIDs, next)
		r.OwnerUserID = next
	default:
		r.OwnerUserID = ""
	}
}

func (s *Store) touchRoomLocked(r *models.Room) {
	r.UpdatedAt = s.now()
	s.persist.SaveRoom(cloneRoom(*r))
}

// ownedRoomLocked 查找房间并确认请求者是房主。
func (s *Store) ownedRoomLocked(roomID, ownerUserID string) (*models.Room, error) {
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if r.OwnerUserID == "" || r.OwnerUserID != ownerUserID {
		return nil, ErrNotRoomOwner
	}
	return r, nil
}

func (s *Store) TransferOwnership(roomID, currentOwnerID, targetUserID string) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.ownedRoomLocked(roomID, currentOwnerID)
	if err != nil {
		return models.Room{}, err
	}
	if targetUserID == r.OwnerUserID {
		return models.Room{}, Invalid("user already owns this room")
	}
	if accessOf(r, targetUserID) != AccessMember {
		return models.Room{}, Invalid("new owner must be a member of the room")
	}
	r.OwnerUserID = targetUserID
	s.touchRoomLocked(r)
	return cloneRoom(*r), nil
}

// DeleteRoom 删除房间并清除其全部消息。
func (s *Store) DeleteRoom(roomID, ownerUserID string) (DeletedRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.ownedRoomLocked(roomID, ownerUserID)
	if err != nil {
		return DeletedRoom{}, err
	}
	impacted := relatedUsers(r)
	s.dropRoomLocked(roomID)
	return DeletedRoom{RoomID: roomID, ImpactedUserIDs: impacted}, nil
}

func (s *Store) dropRoomLocked(roomID string) {
	for _, m := range s.messages[roomID] {
		delete(s.messageIDs, m.ID)
	}
	delete(s.messages, roomID)
	delete(s.latest, roomID)
	delete(s.rooms, roomID)
	s.persist.DeleteRoomMessages(roomID)
	s.persist.DeleteRoom(roomID)
}

func (s *Store) KickMember(roomID, ownerUserID, targetUserID string) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.ownedRoomLocked(roomID, ownerUserID)
	if err != nil {
		return models.Room{}, err
	}
	if targetUserID == ownerUserID {
		return models.Room{}, Invalid("the owner cannot be kicked")
	}
	if accessOf(r, targetUserID) != AccessMember {
		return models.Room{}, Invalid("user is not a member of this room")
	}
	r.MemberUserIDs = removeID(r.MemberUserIDs, targetUserID)
	s.touchRoomLocked(r)
	return cloneRoom(*r), nil
}

func (s *Store) ApprovePending(roomID, ownerUserID, targetUserID string) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.ownedRoomLocked(roomID, ownerUserID)
	if err != nil {
		return models.Room{}, err
	}
	if accessOf(r, targetUserID) != AccessPending {
		return models.Room{}, Invalid("user has no pending request for this room")
	}
	r.PendingUserIDs = removeID(r.PendingUserIDs, targetUserID)
	r.MemberUserIDs = append(r.MemberUserIDs, targetUserID)
	s.touchRoomLocked(r)
	return cloneRoom(*r), nil
}

func (s *Store) RejectPending(roomID, ownerUserID, targetUserID string) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.ownedRoomLocked(roomID, ownerUserID)
	if err != nil {
		return models.Room{}, err
	}
	if accessOf(r, targetUserID) != AccessPending {
		return models.Room{}, Invalid("user has no pending request for this room")
	}
	r.PendingUserIDs = removeID(r.PendingUserIDs, targetUserID)
	s.touchRoomLocked(r)
	return cloneRoom(*r), nil
}

func (s *Store) SetPrivacy(roomID, ownerUserID string, isPrivate bool) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.ownedRoomLocked(roomID, ownerUserID)
	if err != nil {
		return models.Room{}, err
	}
	r.IsPrivate = isPrivate
	s.touchRoomLocked(r)
	return cloneRoom(*r), nil
}

func (s *Store) SetDiscoverability(roomID, ownerUserID string, isDiscoverable bool) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.ownedRoomLocked(roomID, ownerUserID)
	if err != nil {
		return models.Room{}, err
	}
	r.IsDiscoverable = isDiscoverable
	s.touchRoomLocked(r)
	return cloneRoom(*r), nil
}
