package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"chatroom/internal/models"
	"golang.org/x/crypto/scrypt"
)

const (
	MinPasswordLen = 8
	MaxPasswordLen = 128

	saltLen    = 16
	derivedLen = 64
)

// HashPassword 返回 salt_hex:derived_hex 形式的 scrypt 哈希。
func HashPassword(pw string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	derived, err := scrypt.Key([]byte(pw), salt, 16384, 8, 1, derivedLen)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(derived), nil
}

// VerifyPassword 以常量时间比较派生字节，任何格式错误都返回 false。
func VerifyPassword(hash, pw string) bool {
	saltHex, derivedHex, ok := strings.Cut(hash, ":")
	if !ok {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil || len(salt) == 0 {
		return false
	}
	want, err := hex.DecodeString(derivedHex)
	if err != nil || len(want) == 0 {
		return false
	}
	got, err := scrypt.Key([]byte(pw), salt, 16384, 8, 1, len(want))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}

func validatePassword(pw string) error {
	n := utf8.RuneCountInString(pw)
	if n < MinPasswordLen || n > MaxPasswordLen {
		return Invalid("password must be %d-%d characters", MinPasswordLen, MaxPasswordLen)
	}
	return nil
}

// SetPasswordLogin 启用或更换密码登录，登录邮箱取自 OAuth 邮箱。
// 哈希计算在锁外进行，避免 scrypt 阻塞其他读写。
func (s *Store) SetPasswordLogin(userID, newPassword, currentPassword string) (models.User, error) {
	if err := validatePassword(newPassword); err != nil {
		return models.User{}, err
	}
	u, err := s.GetUser(userID)
	if err != nil {
		return models.User{}, err
	}
	if u.OAuthEmail == "" {
		return models.User{}, Invalid("an email address is required to enable password login")
	}
	if u.PasswordHash != "" && !VerifyPassword(u.PasswordHash, currentPassword) {
		return models.User{}, Invalid("current password is incorrect")
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return models.User{}, Internal("hash password", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[userID]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	if cur.PasswordHash != u.PasswordHash || cur.OAuthEmail != u.OAuthEmail {
		return models.User{}, Conflict("password settings changed concurrently, try again")
	}
	email := cur.OAuthEmail
	if owner, ok := s.byLoginEmail[email]; ok && owner != userID {
		return models.User{}, ErrEmailTaken
	}
	if cur.PasswordLoginEmail != "" && cur.PasswordLoginEmail != email {
		delete(s.byLoginEmail, cur.PasswordLoginEmail)
	}
	cur.PasswordHash = hash
	cur.PasswordLoginEmail = email
	s.byLoginEmail[email] = userID
	s.persist.SaveUser(*cur)
	return *cur, nil
}

func (s *Store) DisablePasswordLogin(userID, currentPassword string) (models.User, error) {
	u, err := s.GetUser(userID)
	if err != nil {
		return models.User{}, err
	}
	if u.PasswordHash == "" {
		return models.User{}, Invalid("password login is not enabled")
	}
	if !VerifyPassword(u.PasswordHash, currentPassword) {
		return models.User{}, Invalid("current password is incorrect")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[userID]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	if cur.PasswordLoginEmail != "" {
		delete(s.byLoginEmail, cur.PasswordLoginEmail)
	}
	cur.PasswordHash = ""
	cur.PasswordLoginEmail = ""
	s.persist.SaveUser(*cur)
	return *cur, nil
}

// AuthenticateByPassword 返回匹配的用户；任何不匹配都返回 false，不报错。
func (s *Store) AuthenticateByPassword(email, password string) (models.User, bool) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return models.User{}, false
	}
	s.mu.RLock()
	id, ok := s.byLoginEmail[email]
	var hash string
	if ok {
		hash = s.users[id].PasswordHash
	}
	s.mu.RUnlock()
	if !ok || !VerifyPassword(hash, password) {
		return models.User{}, false
	}
	return s.markLogin(id)
}

func (s *Store) markLogin(userID string) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, false
	}
	u.LastLoginAt = s.now()
	s.persist.SaveUser(*u)
	return *u, true
}
