package service

import (
	"cmp"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"

	"chatroom/internal/models"
)

const (
	DefaultSessionTTL = 30 * 24 * time.Hour

	sessionTouchInterval = time.Minute

	maxIDAttempts = 200
)

// Persister 接收每次内存变更后的记录快照。实现必须保证写入顺序，
// 且调用不能长时间阻塞（调用时持有 Store 的写锁）。
type Persister interface {
	SaveUser(u models.User)
	DeleteUser(userID string)
	SaveRoom(r models.Room)
	DeleteRoom(roomID string)
	SaveMessage(m models.Message)
	DeleteMessage(messageID string)
	DeleteRoomMessages(roomID string)
	SaveSession(s models.Session)
	DeleteSession(sessionID string)
}

// Discard 是不做持久化的 Persister，用于 memory 模式与测试。
type Discard struct{}

func (Discard) SaveUser(models.User)       {}
func (Discard) DeleteUser(string)          {}
func (Discard) SaveRoom(models.Room)       {}
func (Discard) DeleteRoom(string)          {}
func (Discard) SaveMessage(models.Message) {}
func (Discard) DeleteMessage(string)       {}
func (Discard) DeleteRoomMessages(string)  {}
func (Discard) SaveSession(models.Session) {}
func (Discard) DeleteSession(string)       {}

// Store 持有全部可变状态：身份、房间目录与消息日志。
// 所有变更在同一把写锁内完成，读操作不会看到执行到一半的级联变更。
type Store struct {
	mu sync.RWMutex

	users         map[string]*models.User
	byOAuthKey    map[string]string
	byLoginEmail  map[string]string
	byAccountHash map[string]string
	sessions      map[string]*models.Session

	rooms      map[string]*models.Room
	messages   map[string][]*models.Message // roomID -> 按时间排序
	messageIDs map[string]*models.Message
	usedMsgIDs map[string]struct{} // 含已删除消息的 ID
	msgSeq     int64
	latest     map[string]*models.Message

	deletedUserID string

	persist    Persister
	now        func() time.Time
	sessionTTL time.Duration
	rng        *rand.Rand
}

type Option func(*Store)

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithSeed 固定 ID 生成的随机源，测试中用于复现碰撞。
func WithSeed(a, b uint64) Option {
	return func(s *Store) { s.rng = rand.New(rand.NewPCG(a, b)) }
}

func NewStore(p Persister, opts ...Option) *Store {
	if p == nil {
		p = Discard{}
	}
	s := &Store{
		users:         make(map[string]*models.User),
		byOAuthKey:    make(map[string]string),
		byLoginEmail:  make(map[string]string),
		byAccountHash: make(map[string]string),
		sessions:      make(map[string]*models.Session),
		rooms:         make(map[string]*models.Room),
		messages:      make(map[string][]*models.Message),
		messageIDs:    make(map[string]*models.Message),
		usedMsgIDs:    make(map[string]struct{}),
		latest:        make(map[string]*models.Message),
		persist:       p,
		now:           time.Now,
		sessionTTL:    DefaultSessionTTL,
		rng:           rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Snapshot 是启动时从持久层读出的全部记录。
type Snapshot struct {
	Users    []models.User
	Rooms    []models.Room
	Messages []models.Message
	Sessions []models.Session
	// RetiredMessageIDs 是已删除消息的 ID，只用于防止重用。
	RetiredMessageIDs []string
}

// Load 用持久层数据填充 Store，只应在对外服务前调用一次。
func (s *Store) Load(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range snap.Users {
		u := snap.Users[i]
		s.indexUser(&u)
		if u.OAuthKey == deletedUserKey {
			s.deletedUserID = u.ID
		}
	}
	for i := range snap.Rooms {
		r := cloneRoom(snap.Rooms[i])
		s.rooms[r.ID] = &r
	}
	msgs := slices.Clone(snap.Messages)
	slices.SortStableFunc(msgs, func(a, b models.Message) int {
		// 没有序号的旧记录 Seq 为 0，排在最前并按时间排序。
		if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareNumeric(a.ID, b.ID)
	})
	for _, id := range snap.RetiredMessageIDs {
		s.usedMsgIDs[id] = struct{}{}
	}
	for i := range msgs {
		m := msgs[i]
		s.usedMsgIDs[m.ID] = struct{}{}
		s.msgSeq = max(s.msgSeq, m.Seq)
		if _, ok := s.rooms[m.RoomID]; !ok {
			continue
		}
		s.messages[m.RoomID] = append(s.messages[m.RoomID], &m)
		s.messageIDs[m.ID] = &m
		s.latest[m.RoomID] = &m
	}
	for i := range snap.Sessions {
		sess := snap.Sessions[i]
		s.sessions[sess.ID] = &sess
	}
}

// Stats 返回当前内存中的实体数量。
func (s *Store) Stats() (users, rooms, messages int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), len(s.rooms), len(s.messageIDs)
}

func (s *Store) indexUser(u *models.User) {
	s.users[u.ID] = u
	if u.OAuthKey != "" {
		s.byOAuthKey[u.OAuthKey] = u.ID
	}
	if u.PasswordLoginEmail != "" {
		s.byLoginEmail[u.PasswordLoginEmail] = u.ID
	}
	if u.AccountHashDigest != "" {
		s.byAccountHash[u.AccountHashDigest] = u.ID
	}
}

// randomID 在 [lo, hi] 范围内生成一个未被 taken 占用的数字 ID。
func (s *Store) randomID(lo, hi int64, taken func(string) bool) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := strconv.FormatInt(lo+s.rng.Int64N(hi-lo+1), 10)
		if !taken(id) {
			return id, nil
		}
	}
	return "", Internal("id space exhausted", nil)
}

func (s *Store) newUserID() (string, error) {
	return s.randomID(100000, 999999, func(id string) bool { _, ok := s.users[id]; return ok })
}

// newRoomID 优先分配 4 位 ID，拥挤时逐步放宽到更长的位数。
func (s *Store) newRoomID() (string, error) {
	taken := func(id string) bool { _, ok := s.rooms[id]; return ok }
	lo, hi := int64(1000), int64(9999)
	for width := 0; width < 3; width++ {
		if id, err := s.randomID(lo, hi, taken); err == nil {
			return id, nil
		}
		lo, hi = lo*10, hi*10+9
	}
	return "", Internal("room id space exhausted", nil)
}

func (s *Store) newMessageID() (string, error) {
	return s.randomID(1000000000, 9999999999, func(id string) bool { _, ok := s.usedMsgIDs[id]; return ok })
}

func cloneRoom(r models.Room) models.Room {
	r.MemberUserIDs = slices.Clone(r.MemberUserIDs)
	r.PendingUserIDs = slices.Clone(r.PendingUserIDs)
	if r.MemberUserIDs == nil {
		r.MemberUserIDs = []string{}
	}
	if r.PendingUserIDs == nil {
		r.PendingUserIDs = []string{}
	}
	return r
}

func cloneMessage(m *models.Message) models.Message {
	out := *m
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	return out
}

func compareNumeric(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(v string) bool { return v == id })
}
