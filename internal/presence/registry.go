// Package presence 跟踪每个用户的在线连接及其焦点，并据此计算房间内的在线状态。
package presence

import (
	"slices"
	"sync"
)

// Status 是用户在某个房间内的在线状态。
type Status string

const (
	Active  Status = "active"
	Other   Status = "other"
	Idle    Status = "idle"
	Offline Status = "offline"
)

// AccessChecker 判断用户是否是房间成员，防止把焦点伪造到无权访问的房间。
type AccessChecker interface {
	IsMember(roomID, userID string) bool
}

type connState struct {
	userID       string
	activeRoomID string
	focused      bool
}

// Registry 维护 user -> 连接 的多重映射，只存在于内存中。
type Registry struct {
	mu     sync.RWMutex
	access AccessChecker
	conns  map[string]*connState          // connID -> state
	byUser map[string]map[string]struct{} // userID -> connIDs
}

func NewRegistry(access AccessChecker) *Registry {
	return &Registry{
		access: access,
		conns:  make(map[string]*connState),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Register 记录一个新连接，返回该用户当前的连接数。
func (r *Registry) Register(userID, connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = &connState{userID: userID}
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[connID] = struct{}{}
	return len(set)
}

// Unregister 移除连接，返回该用户剩余的连接数。重复调用是安全的。
func (r *Registry) Unregister(userID, connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connID)
	set := r.byUser[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.byUser, userID)
		return 0
	}
	return len(set)
}

// Focus 是连接当前的焦点状态。
type Focus struct {
	RoomID  string
	Focused bool
}

// SetFocus 更新连接的活动房间与焦点。用户不是该房间成员时焦点被清空。
// 返回更新前后的状态，调用方据此判断是否需要广播。
func (r *Registry) SetFocus(connID, userID, roomID string, focused bool) (before, after Focus) {
	if roomID != "" && (r.access == nil || !r.access.IsMember(roomID, userID)) {
		roomID, focused = "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok || c.userID != userID {
		return Focus{}, Focus{}
	}
	before = Focus{RoomID: c.activeRoomID, Focused: c.focused}
	c.activeRoomID, c.focused = roomID, focused
	return before, Focus{RoomID: roomID, Focused: focused}
}

// FocusOf 返回连接当前的焦点，未知连接返回零值。
func (r *Registry) FocusOf(connID string) Focus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return Focus{}
	}
	return Focus{RoomID: c.activeRoomID, Focused: c.focused}
}

// ClearRoom 清除用户所有连接上指向 roomID 的焦点，用于被踢出或房间被删除。
func (r *Registry) ClearRoom(userID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for id := range r.byUser[userID] {
		c := r.conns[id]
		if c.activeRoomID == roomID {
			c.activeRoomID, c.focused = "", false
			changed = true
		}
	}
	return changed
}

// StatusIn 按 active > other > idle > offline 的优先级合并用户的全部连接。
func (r *Registry) StatusIn(userID, roomID string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statusLocked(userID, roomID)
}

func (r *Registry) statusLocked(userID, roomID string) Status {
	set := r.byUser[userID]
	if len(set) == 0 {
		return Offline
	}
	status := Idle
	for id := range set {
		c := r.conns[id]
		if !c.focused || c.activeRoomID == "" {
			continue
		}
		if c.activeRoomID == roomID {
			return Active
		}
		status = Other
	}
	return status
}

// Statuses 批量计算多个用户在同一房间的状态。
func (r *Registry) Statuses(roomID string, userIDs []string) map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Status, len(userIDs))
	for _, id := range userIDs {
		out[id] = r.statusLocked(id, roomID)
	}
	return out
}

func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Connections 返回给定用户的全部在线连接 ID（去重、排序）。
func (r *Registry) Connections(userIDs ...string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	seen := make(map[string]struct{})
	for _, u := range userIDs {
		for id := range r.byUser[u] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Count 返回当前在线连接总数。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
