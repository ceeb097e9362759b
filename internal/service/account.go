package service

import (
	"slices"

	"chatroom/internal/models"
)

const (
	deletedUserKey  = "system:deleted-user"
	DeletedUserName = "Deleted User"
)

// AccountDeletion 汇总账户删除的级联影响，供实时层推送刷新。
type AccountDeletion struct {
	UserID          string   `json:"userId"`
	ImpactedUserIDs []string `json:"impactedUserIds"`
	UpdatedRoomIDs  []string `json:"updatedRoomIds"`
	DeletedRoomIDs  []string `json:"deletedRoomIds"`
}

// ensureDeletedUserLocked 懒创建 "Deleted User" 占位用户，它从不拥有房间。
func (s *Store) ensureDeletedUserLocked() (string, error) {
	if _, ok := s.users[s.deletedUserID]; ok && s.deletedUserID != "" {
		return s.deletedUserID, nil
	}
	id, err := s.newUserID()
	if err != nil {
		return "", err
	}
	now := s.now()
	u := &models.User{
		ID:                id,
		DisplayName:       DeletedUserName,
		DisplayNameCustom: true,
		OAuthKey:          deletedUserKey,
		CreatedAt:         now,
		LastLoginAt:       now,
	}
	s.indexUser(u)
	s.deletedUserID = id
	s.persist.SaveUser(*u)
	return id, nil
}

// DeletedUserID 返回占位用户 ID，尚未创建时为空。
func (s *Store) DeletedUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deletedUserID
}

// DeleteAccount 把用户移出所有房间（按离开规则转移所有权），
// 删除成员与待审批都为空的房间，并把剩余消息的作者改为占位用户。
func (s *Store) DeleteAccount(userID string) (AccountDeletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return AccountDeletion{}, ErrUserNotFound
	}
	if userID == s.deletedUserID {
		return AccountDeletion{}, Forbidden("the deleted user placeholder cannot be removed")
	}
	res := AccountDeletion{UserID: userID, ImpactedUserIDs: []string{}, UpdatedRoomIDs: []string{}, DeletedRoomIDs: []string{}}
	impacted := map[string]struct{}{}

	roomIDs := make([]string, 0)
	for id, r := range s.rooms {
		if accessOf(r, userID) != AccessNone {
			roomIDs = append(roomIDs, id)
		}
	}
	slices.Sort(roomIDs)
	for _, id := range roomIDs {
		r := s.rooms[id]
		s.detachLocked(r, userID)
		for _, other := range relatedUsers(r) {
			impacted[other] = struct{}{}
		}
		if len(r.MemberUserIDs) == 0 && len(r.PendingUserIDs) == 0 {
			s.dropRoomLocked(id)
			res.DeletedRoomIDs = append(res.DeletedRoomIDs, id)
			continue
		}
		s.touchRoomLocked(r)
		res.UpdatedRoomIDs = append(res.UpdatedRoomIDs, id)
	}

	var authored []*models.Message
	for _, m := range s.messageIDs {
		if m.UserID == userID {
			authored = append(authored, m)
		}
	}
	if len(authored) > 0 {
		sentinel, err := s.ensureDeletedUserLocked()
		if err != nil {
			return AccountDeletion{}, err
		}
		for _, m := range authored {
			m.UserID = sentinel
			s.persist.SaveMessage(cloneMessage(m))
		}
	}

	s.deleteUserSessionsLocked(userID)
	delete(s.byOAuthKey, u.OAuthKey)
	if u.PasswordLoginEmail != "" {
		delete(s.byLoginEmail, u.PasswordLoginEmail)
	}
	if u.AccountHashDigest != "" {
		delete(s.byAccountHash, u.AccountHashDigest)
	}
	delete(s.users, userID)
	s.persist.DeleteUser(userID)

	for id := range impacted {
		res.ImpactedUserIDs = append(res.ImpactedUserIDs, id)
	}
	slices.Sort(res.ImpactedUserIDs)
	return res, nil
}
