package ws

import (
	"encoding/json"
	"sync"

	"chatroom/internal/metrics"
	"chatroom/internal/presence"
	"chatroom/internal/service"

	"github.com/rs/zerolog/log"
)

const (
	DefaultHistoryLimit = 200
	sendBuffer          = 256
)

// Client 是一个已认证的连接。send 缓冲满时连接被视为过慢并关闭。
type Client struct {
	id     string
	userID string
	send   chan []byte

	mu     sync.Mutex
	closed bool
}

func NewClient(id, userID string) *Client {
	return &Client{id: id, userID: userID, send: make(chan []byte, sendBuffer)}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// Send 返回只读的发送队列，由写协程消费。
func (c *Client) Send() <-chan []byte { return c.send }

func (c *Client) push(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		c.closed = true
		close(c.send)
		metrics.SlowClientDrops.Inc()
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub 是实时协调器：持有全部连接、房间频道，并把事件扇出给受影响的用户。
type Hub struct {
	store        *service.Store
	presence     *presence.Registry
	historyLimit int
	limiter      SendLimiter

	// presenceMu 串行化成员状态的计算、比较与推送，listMu 串行化房间列表推送，
	// 保证最后送达的快照反映最新状态。二者都不会在 Store 或 Registry 的锁内获取。
	presenceMu sync.Mutex
	listMu     sync.Mutex

	mu           sync.RWMutex
	clients      map[string]*Client
	channels     map[string]map[string]*Client // roomID -> connID -> client
	joined       map[string]string             // connID -> roomID
	lastPresence map[string]string             // roomID -> 上次广播的成员状态
}

type Option func(*Hub)

func WithHistoryLimit(n int) Option {
	return func(h *Hub) {
		if n > 0 && n <= service.MaxPageLimit {
			h.historyLimit = n
		}
	}
}

// SendLimiter 按用户限制消息发送频率，同一用户的多个连接共享额度。
type SendLimiter interface {
	Allow(key string) bool
}

func WithSendLimiter(l SendLimiter) Option {
	return func(h *Hub) { h.limiter = l }
}

func NewHub(store *service.Store, reg *presence.Registry, opts ...Option) *Hub {
	h := &Hub{
		store:        store,
		presence:     reg,
		historyLimit: DefaultHistoryLimit,
		clients:      make(map[string]*Client),
		channels:     make(map[string]map[string]*Client),
		joined:       make(map[string]string),
		lastPresence: make(map[string]string),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Online 返回当前加入 roomID 频道的连接数。
func (h *Hub) Online(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[roomID])
}

func encode(ev Outbound) []byte {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("encode event")
		return nil
	}
	return b
}

func (h *Hub) sendTo(c *Client, ev Outbound) {
	if b := encode(ev); b != nil {
		c.push(b)
	}
}

// joinChannel 把连接移入 roomID 频道，返回之前所在的房间。
func (h *Hub) joinChannel(c *Client, roomID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.leaveChannelLocked(c.id)
	set, ok := h.channels[roomID]
	if !ok {
		set = make(map[string]*Client)
		h.channels[roomID] = set
	}
	set[c.id] = c
	h.joined[c.id] = roomID
	return prev
}

func (h *Hub) leaveChannel(c *Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveChannelLocked(c.id)
}

func (h *Hub) leaveChannelLocked(connID string) string {
	prev, ok := h.joined[connID]
	if !ok {
		return ""
	}
	delete(h.joined, connID)
	if set := h.channels[prev]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.channels, prev)
		}
	}
	return prev
}

func (h *Hub) channelOf(c *Client) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.joined[c.id]
}

// broadcastRoom 把事件发送给当前加入 roomID 频道的全部连接。
func (h *Hub) broadcastRoom(roomID string, ev Outbound, except *Client) {
	b := encode(ev)
	if b == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.channels[roomID] {
		if c == except {
			continue
		}
		c.push(b)
	}
}

// pushToUsers 把同一事件发送给指定用户的全部连接。
func (h *Hub) pushToUsers(ev Outbound, userIDs ...string) {
	b := encode(ev)
	if b == nil {
		return
	}
	conns := h.presence.Connections(userIDs...)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range conns {
		if c, ok := h.clients[id]; ok {
			c.push(b)
		}
	}
}

// pushRoomLists 为每个用户单独计算房间列表并推送到其所有连接。
func (h *Hub) pushRoomLists(userIDs ...string) {
	h.listMu.Lock()
	defer h.listMu.Unlock()
	seen := make(map[string]struct{}, len(userIDs))
	for _, u := range userIDs {
		if _, dup := seen[u]; dup || !h.presence.Online(u) {
			continue
		}
		seen[u] = struct{}{}
		h.pushToUsers(Outbound{Type: OutRoomsList, Data: RoomsData{Rooms: h.store.RoomsForUser(u)}}, u)
	}
}

// evict 把用户的连接移出房间频道并清除焦点，用于失去成员资格时。
func (h *Hub) evict(userID, roomID, reason string) {
	conns := h.presence.Connections(userID)
	h.mu.Lock()
	var removed []*Client
	for _, id := range conns {
		if h.joined[id] == roomID {
			h.leaveChannelLocked(id)
			if c, ok := h.clients[id]; ok {
				removed = append(removed, c)
			}
		}
	}
	h.mu.Unlock()
	h.presence.ClearRoom(userID, roomID)
	for _, c := range removed {
		h.sendTo(c, Outbound{Type: OutRoomRemoved, Data: RemovedData{RoomID: roomID, Reason: reason}})
	}
}

func (h *Hub) membersData(roomID string) (MembersData, bool) {
	members, err := h.store.Members(roomID)
	if err != nil {
		return MembersData{}, false
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	statuses := h.presence.Statuses(roomID, ids)
	out := MembersData{RoomID: roomID, Members: make([]MemberPresence, 0, len(members))}
	for _, m := range members {
		out.Members = append(out.Members, MemberPresence{MemberView: m, Status: statuses[m.UserID]})
	}
	return out, true
}

// refreshPresence 重新计算房间成员状态并广播到房间频道。
// 与上次广播内容相同则跳过，除非 force。
func (h *Hub) refreshPresence(force bool, roomIDs ...string) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()
	for _, roomID := range roomIDs {
		data, ok := h.membersData(roomID)
		if !ok {
			h.mu.Lock()
			delete(h.lastPresence, roomID)
			h.mu.Unlock()
			continue
		}
		b := encode(Outbound{Type: OutRoomMembers, Data: data})
		if b == nil {
			continue
		}
		sig := string(b)
		h.mu.Lock()
		if !force && h.lastPresence[roomID] == sig {
			h.mu.Unlock()
			continue
		}
		h.lastPresence[roomID] = sig
		targets := make([]*Client, 0, len(h.channels[roomID]))
		for _, c := range h.channels[roomID] {
			targets = append(targets, c)
		}
		h.mu.Unlock()
		for _, c := range targets {
			c.push(b)
		}
		metrics.PresenceBroadcasts.Inc()
	}
}

// Attach 登记一个已认证的连接，推送房间列表并刷新其所在房间的在线状态。
func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.presence.Register(c.userID, c.id)
	metrics.WsConnections.Inc()
	log.Debug().Str("conn_id", c.id).Str("user_id", c.userID).Msg("ws attach")

	h.listMu.Lock()
	h.sendTo(c, Outbound{Type: OutRoomsList, Data: RoomsData{Rooms: h.store.RoomsForUser(c.userID)}})
	h.listMu.Unlock()
	h.refreshPresence(false, h.store.MemberRoomIDs(c.userID)...)
}

// sendMembers 向单个连接发送房间成员快照，与广播共用同一把锁以保持顺序。
func (h *Hub) sendMembers(c *Client, roomID string) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()
	if data, ok := h.membersData(roomID); ok {
		h.sendTo(c, Outbound{Type: OutRoomMembers, Data: data})
	}
}

// Detach 在连接断开时调用，重复调用是安全的。
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.leaveChannelLocked(c.id)
	h.mu.Unlock()
	c.close()
	if !ok {
		return
	}
	h.presence.Unregister(c.userID, c.id)
	metrics.WsConnections.Dec()
	log.Debug().Str("conn_id", c.id).Str("user_id", c.userID).Msg("ws detach")
	h.refreshPresence(false, h.store.MemberRoomIDs(c.userID)...)
}

// DisconnectUser 关闭用户的全部连接，例如账户被删除后。
func (h *Hub) DisconnectUser(userID string) {
	conns := h.presence.Connections(userID)
	h.mu.RLock()
	targets := make([]*Client, 0, len(conns))
	for _, id := range conns {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.Detach(c)
	}
}

// CloseAll 关闭全部连接，用于优雅停服。
func (h *Hub) CloseAll() {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.Detach(c)
	}
}

// NotifyRoomsChanged 推送房间列表刷新，供 HTTP 层在变更后调用。
func (h *Hub) NotifyRoomsChanged(userIDs ...string) {
	h.pushRoomLists(userIDs...)
}

// NotifyAccountDeleted 处理账户删除的级联通知。
func (h *Hub) NotifyAccountDeleted(res service.AccountDeletion) {
	h.DisconnectUser(res.UserID)
	for _, roomID := range res.DeletedRoomIDs {
		h.mu.Lock()
		delete(h.lastPresence, roomID)
		h.mu.Unlock()
	}
	h.pushRoomLists(res.ImpactedUserIDs...)
	h.refreshPresence(true, res.UpdatedRoomIDs...)
}

// NotifyMembershipChanged 在 HTTP 层修改房间成员关系后调用：
// 移出失去资格的用户，推送房间列表并刷新在线状态。
func (h *Hub) NotifyMembershipChanged(roomID, reason string, removed ...string) {
	for _, u := range removed {
		h.evict(u, roomID, reason)
	}
	h.pushRoomLists(append(h.store.RelatedUserIDs(roomID), removed...)...)
	h.refreshPresence(true, roomID)
}

// NotifyUserRenamed 让用户所在房间的成员列表与房间列表反映新名字。
func (h *Hub) NotifyUserRenamed(userID string) {
	rooms := h.store.MemberRoomIDs(userID)
	h.refreshPresence(false, rooms...)
	var related []string
	for _, roomID := range rooms {
		related = append(related, h.store.RelatedUserIDs(roomID)...)
	}
	h.pushRoomLists(related...)
}
