package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"chatroom/internal/models"
)

const maxAccountHashAttempts = 32

var (
	phrasePattern = regexp.MustCompile(`^[a-z]+[0-9]{0,2}-[a-z]+-[a-z]+-[a-z]+-[0-9]{4}$`)
	wordToken     = regexp.MustCompile(`^[a-z]+[0-9]{0,2}$`)
	legacyNumber  = regexp.MustCompile(`^[0-9]{3,6}$`)
)

// NormalizeAccountHash 把用户输入规范化为可摘要的形式。
// 支持 5 段连字符短语（允许用空格代替连字符）与旧版 10-11 个词的空格短语。
func NormalizeAccountHash(input string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return "", false
	}
	if phrasePattern.MatchString(s) {
		return s, true
	}
	tokens := strings.Fields(strings.ReplaceAll(s, "-", " "))
	if len(tokens) == 5 {
		joined := strings.Join(tokens, "-")
		if phrasePattern.MatchString(joined) {
			return joined, true
		}
		return "", false
	}
	if len(tokens) < 10 || len(tokens) > 11 {
		return "", false
	}
	last := len(tokens) - 1
	if !legacyNumber.MatchString(tokens[last]) {
		return "", false
	}
	for _, t := range tokens[:last] {
		if !wordToken.MatchString(t) {
			return "", false
		}
	}
	return strings.Join(tokens, " "), true
}

// AccountHashDigest 返回规范化短语的 SHA-256 十六进制摘要。
func AccountHashDigest(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func (s *Store) newAccountPhrase() string {
	pick := func() string { return accountHashWords[s.rng.IntN(len(accountHashWords))] }
	first := pick()
	if s.rng.IntN(2) == 0 {
		first += strconv.Itoa(s.rng.IntN(100))
	}
	return fmt.Sprintf("%s-%s-%s-%s-%04d", first, pick(), pick(), pick(), s.rng.IntN(10000))
}

// GenerateAccountHash 生成新的账户短语并替换旧摘要，返回明文短语。
// 明文只在此处返回一次，Store 只保存摘要。
func (s *Store) GenerateAccountHash(userID string) (string, models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return "", models.User{}, ErrUserNotFound
	}
	for i := 0; i < maxAccountHashAttempts; i++ {
		phrase := s.newAccountPhrase()
		digest := AccountHashDigest(phrase)
		if _, taken := s.byAccountHash[digest]; taken {
			continue
		}
		if u.AccountHashDigest != "" {
			delete(s.byAccountHash, u.AccountHashDigest)
		}
		u.AccountHashDigest = digest
		s.byAccountHash[digest] = userID
		s.persist.SaveUser(*u)
		return phrase, *u, nil
	}
	return "", models.User{}, Internal("could not allocate a unique account hash", nil)
}

// AuthenticateByAccountHash 格式错误或无匹配时返回 false。
func (s *Store) AuthenticateByAccountHash(hash string) (models.User, bool) {
	normalized, ok := NormalizeAccountHash(hash)
	if !ok {
		return models.User{}, false
	}
	digest := AccountHashDigest(normalized)
	s.mu.RLock()
	id, ok := s.byAccountHash[digest]
	s.mu.RUnlock()
	if !ok {
		return models.User{}, false
	}
	return s.markLogin(id)
}

func (s *Store) DisableAccountHash(userID string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	if u.AccountHashDigest != "" {
		delete(s.byAccountHash, u.AccountHashDigest)
		u.AccountHashDigest = ""
		s.persist.SaveUser(*u)
	}
	return *u, nil
}
