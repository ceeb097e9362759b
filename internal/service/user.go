package service

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"chatroom/internal/models"
)

// OAuthProfile 是外部 OAuth 交换得到的已验证身份。
type OAuthProfile struct {
	Provider    string
	Subject     string
	Email       string
	ProviderID  string
	DisplayName string
}

const (
	keySubject    = ":sub:"
	keyEmail      = ":email:"
	keyProviderID = ":id:"
)

// IdentityKey 按 subject、email、provider id 的优先级生成稳定的身份键。
func IdentityKey(p OAuthProfile) (string, error) {
	provider := strings.ToLower(strings.TrimSpace(p.Provider))
	if provider == "" {
		return "", Invalid("oauth provider is required")
	}
	switch {
	case strings.TrimSpace(p.Subject) != "":
		return provider + keySubject + strings.TrimSpace(p.Subject), nil
	case NormalizeEmail(p.Email) != "":
		return provider + keyEmail + NormalizeEmail(p.Email), nil
	case strings.TrimSpace(p.ProviderID) != "":
		return provider + keyProviderID + strings.TrimSpace(p.ProviderID), nil
	}
	return "", Invalid("oauth profile has no stable identity")
}

func isStableKey(key string) bool {
	return strings.Contains(key, keySubject) || strings.Contains(key, keyEmail) || strings.Contains(key, keyProviderID)
}

// UpsertUser 根据 OAuth 资料查找或创建用户。
// 旧版以 provider+显示名 为键的用户仅在结果唯一时迁移到稳定键。
func (s *Store) UpsertUser(p OAuthProfile) (models.User, error) {
	key, err := IdentityKey(p)
	if err != nil {
		return models.User{}, err
	}
	provider := strings.ToLower(strings.TrimSpace(p.Provider))
	email := NormalizeEmail(p.Email)
	name := NormalizeDisplayName(p.DisplayName)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	var u *models.User
	if id, ok := s.byOAuthKey[key]; ok {
		u = s.users[id]
	} else if legacy := s.findLegacyUser(provider, name, email); legacy != nil {
		delete(s.byOAuthKey, legacy.OAuthKey)
		legacy.OAuthKey = key
		s.byOAuthKey[key] = legacy.ID
		u = legacy
	}

	if u == nil {
		id, err := s.newUserID()
		if err != nil {
			return models.User{}, err
		}
		if name == "" {
			name = defaultDisplayName
		}
		u = &models.User{
			ID:          id,
			DisplayName: name,
			OAuthKey:    key,
			OAuthEmail:  email,
			CreatedAt:   now,
			LastLoginAt: now,
		}
		s.indexUser(u)
	} else {
		u.LastLoginAt = now
		if email != "" {
			u.OAuthEmail = email
		}
		if !u.DisplayNameCustom && name != "" {
			u.DisplayName = name
		}
	}
	s.persist.SaveUser(*u)
	return *u, nil
}

func (s *Store) findLegacyUser(provider, name, email string) *models.User {
	if name == "" {
		return nil
	}
	var candidates []*models.User
	for _, u := range s.users {
		if u.ID == s.deletedUserID || isStableKey(u.OAuthKey) {
			continue
		}
		if strings.HasPrefix(u.OAuthKey, provider+":") && strings.EqualFold(u.DisplayName, name) {
			candidates = append(candidates, u)
		}
	}
	if len(candidates) == 1 {
		c := candidates[0]
		if email == "" || c.OAuthEmail == "" || c.OAuthEmail == email {
			return c
		}
		return nil
	}
	if email == "" {
		return nil
	}
	var match *models.User
	for _, c := range candidates {
		if c.OAuthEmail == email {
			if match != nil {
				return nil
			}
			match = c
		}
	}
	return match
}

func (s *Store) GetUser(userID string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return *u, nil
}

// DisplayName 返回用户当前的显示名，用户不存在时返回已删除用户的占位名。
func (s *Store) DisplayName(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayNameLocked(userID)
}

// RenameUser 设置自定义显示名，之后 OAuth 资料不再覆盖它。
func (s *Store) RenameUser(userID, name string) (models.User, error) {
	name = NormalizeDisplayName(name)
	if name == "" {
		return models.User{}, Invalid("display name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	u.DisplayName = name
	u.DisplayNameCustom = true
	s.persist.SaveUser(*u)
	return *u, nil
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CreateSession 为已登录用户签发新会话。
func (s *Store) CreateSession(userID string) (models.Session, error) {
	token, err := newSessionToken()
	if err != nil {
		return models.Session{}, Internal("generate session token", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return models.Session{}, ErrUserNotFound
	}
	now := s.now()
	sess := &models.Session{ID: token, UserID: userID, CreatedAt: now, LastSeenAt: now}
	s.sessions[token] = sess
	s.persist.SaveSession(*sess)
	return *sess, nil
}

// ResolveSession 校验会话并刷新 lastSeenAt，过期会话会被删除。
func (s *Store) ResolveSession(token string) (models.User, error) {
	if token == "" {
		return models.User{}, ErrInvalidCredentials
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	now := s.now()
	if now.Sub(sess.LastSeenAt) > s.sessionTTL {
		delete(s.sessions, token)
		s.persist.DeleteSession(token)
		return models.User{}, ErrSessionExpired
	}
	u, ok := s.users[sess.UserID]
	if !ok {
		delete(s.sessions, token)
		s.persist.DeleteSession(token)
		return models.User{}, ErrInvalidCredentials
	}
	touched := now.Sub(sess.LastSeenAt) > sessionTouchInterval
	sess.LastSeenAt = now
	if touched {
		s.persist.SaveSession(*sess)
	}
	return *u, nil
}

// DeleteSession 用于登出，重复删除不报错。
func (s *Store) DeleteSession(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[token]; !ok {
		return
	}
	delete(s.sessions, token)
	s.persist.DeleteSession(token)
}

func (s *Store) deleteUserSessionsLocked(userID string) {
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
			s.persist.DeleteSession(id)
		}
	}
}
