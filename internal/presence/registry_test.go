package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type members map[string]map[string]bool // roomID -> userID

func (m members) IsMember(roomID, userID string) bool { return m[roomID][userID] }

func newTestRegistry() *Registry {
	return NewRegistry(members{
		"r1": {"alice": true, "bob": true},
		"r2": {"alice": true},
	})
}

func TestStatusPriority(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *Registry)
		want  Status
	}{
		{"no connections", func(r *Registry) {}, Offline},
		{"connected without focus", func(r *Registry) {
			r.Register("alice", "c1")
		}, Idle},
		{"focused elsewhere", func(r *Registry) {
			r.Register("alice", "c1")
			r.SetFocus("c1", "alice", "r2", true)
		}, Other},
		{"in room but blurred", func(r *Registry) {
			r.Register("alice", "c1")
			r.SetFocus("c1", "alice", "r1", false)
		}, Idle},
		{"focused here", func(r *Registry) {
			r.Register("alice", "c1")
			r.SetFocus("c1", "alice", "r1", true)
		}, Active},
		{"any connection active wins", func(r *Registry) {
			r.Register("alice", "c1")
			r.Register("alice", "c2")
			r.Register("alice", "c3")
			r.SetFocus("c1", "alice", "r2", true)
			r.SetFocus("c2", "alice", "r1", true)
		}, Active},
		{"other beats idle", func(r *Registry) {
			r.Register("alice", "c1")
			r.Register("alice", "c2")
			r.SetFocus("c2", "alice", "r2", true)
		}, Other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry()
			tt.setup(r)
			assert.Equal(t, tt.want, r.StatusIn("alice", "r1"))
		})
	}
}

func TestSetFocus_NonMemberCleared(t *testing.T) {
	r := newTestRegistry()
	r.Register("bob", "c1")

	before, after := r.SetFocus("c1", "bob", "r2", true)
	assert.Equal(t, Focus{}, before)
	assert.Equal(t, Focus{}, after)
	assert.Equal(t, Idle, r.StatusIn("bob", "r2"))

	// 连接不属于该用户时忽略。
	_, after = r.SetFocus("c1", "alice", "r1", true)
	assert.Equal(t, Focus{}, after)
	assert.Equal(t, Focus{}, r.FocusOf("c1"))

	_, after = r.SetFocus("c1", "bob", "r1", true)
	assert.Equal(t, Focus{RoomID: "r1", Focused: true}, after)
	assert.Equal(t, after, r.FocusOf("c1"))
}

func TestUnregister(t *testing.T) {
	r := newTestRegistry()
	assert.Equal(t, 1, r.Register("alice", "c1"))
	assert.Equal(t, 2, r.Register("alice", "c2"))
	r.SetFocus("c1", "alice", "r1", true)

	assert.Equal(t, 1, r.Unregister("alice", "c1"))
	assert.Equal(t, Idle, r.StatusIn("alice", "r1"))
	assert.True(t, r.Online("alice"))

	assert.Equal(t, 0, r.Unregister("alice", "c2"))
	assert.Equal(t, 0, r.Unregister("alice", "c2"))
	assert.False(t, r.Online("alice"))
	assert.Equal(t, Offline, r.StatusIn("alice", "r1"))
	assert.Zero(t, r.Count())
}

func TestClearRoom(t *testing.T) {
	r := newTestRegistry()
	r.Register("alice", "c1")
	r.Register("alice", "c2")
	r.SetFocus("c1", "alice", "r1", true)
	r.SetFocus("c2", "alice", "r2", true)

	assert.True(t, r.ClearRoom("alice", "r1"))
	assert.False(t, r.ClearRoom("alice", "r1"))
	assert.Equal(t, Focus{}, r.FocusOf("c1"))
	assert.Equal(t, Focus{RoomID: "r2", Focused: true}, r.FocusOf("c2"))
	assert.Equal(t, Other, r.StatusIn("alice", "r1"))
}

func TestStatusesAndConnections(t *testing.T) {
	r := newTestRegistry()
	r.Register("alice", "c2")
	r.Register("alice", "c1")
	r.Register("bob", "c3")
	r.SetFocus("c3", "bob", "r1", true)

	assert.Equal(t, map[string]Status{"alice": Idle, "bob": Active, "carol": Offline},
		r.Statuses("r1", []string{"alice", "bob", "carol"}))
	assert.Equal(t, []string{"c1", "c2", "c3"}, r.Connections("bob", "alice", "alice"))
	assert.Empty(t, r.Connections("carol"))
	assert.Equal(t, 3, r.Count())
}
