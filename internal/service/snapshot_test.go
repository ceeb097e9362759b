package service

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomSnapshot_PublicRoomFlow(t *testing.T) {
	s, _ := newTestStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	room := mustRoom(t, s, "lobby", alice.ID, false)
	m, err := s.Append(room.ID, alice.ID, "welcome")
	require.NoError(t, err)

	outsider, err := s.RoomSnapshot(room.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, outsider.CanAccess)
	assert.Equal(t, AccessNone, outsider.AccessStatus)
	assert.True(t, outsider.Room.CanJoin)
	assert.Nil(t, outsider.Room.LatestMessage)
	assert.Empty(t, outsider.Members)
	assert.Empty(t, outsider.Messages)

	_, err = s.Join(room.ID, bob.ID)
	require.NoError(t, err)
	snap, err := s.RoomSnapshot(room.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, snap.CanAccess)
	assert.False(t, snap.IsOwner)
	assert.Len(t, snap.Members, 2)
	assert.Empty(t, snap.PendingUsers)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, m.ID, snap.Messages[0].ID)
	assert.Equal(t, "alice", snap.Messages[0].AuthorName)
	require.NotNil(t, snap.Room.LatestMessage)
	assert.Equal(t, "welcome", snap.Room.LatestMessage.Text)

	_, err = s.RoomSnapshot("0000", bob.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomSnapshot_PendingNeverSeesMessages(t *testing.T) {
	s, _ := newTestStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	room := mustRoom(t, s, "secret", alice.ID, true)
	_, err := s.Join(room.ID, bob.ID)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, err := s.Append(room.ID, alice.ID, "secret "+strconv.Itoa(i))
		require.NoError(t, err)
	}

	snap, err := s.RoomSnapshot(room.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, AccessPending, snap.AccessStatus)
	assert.False(t, snap.CanAccess)
	assert.False(t, snap.Room.CanJoin)
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Members)
	assert.Empty(t, snap.PendingUsers)

	_, err = s.HistoryFor(room.ID, bob.ID, 10, "")
	assert.ErrorIs(t, err, ErrNotRoomMember)
	_, err = s.Append(room.ID, bob.ID, "let me in")
	assert.ErrorIs(t, err, ErrNotRoomMember)

	owner, err := s.RoomSnapshot(room.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, owner.IsOwner)
	require.Len(t, owner.PendingUsers, 1)
	assert.Equal(t, bob.ID, owner.PendingUsers[0].UserID)
	assert.Len(t, owner.Messages, 20)
}

func TestRoomLists(t *testing.T) {
	s, clock := newTestStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	older := mustRoom(t, s, "older", alice.ID, false)
	hidden, err := s.CreateRoom("hidden", alice.ID, false, false)
	require.NoError(t, err)
	newer := mustRoom(t, s, "newer", alice.ID, false)

	rooms := s.RoomsForUser(alice.ID)
	require.Len(t, rooms, 3)
	assert.Equal(t, newer.ID, rooms[0].ID)

	// 新消息把房间顶到最前。
	clock.Advance(1)
	_, err = s.Append(older.ID, alice.ID, "bump")
	require.NoError(t, err)
	rooms = s.RoomsForUser(alice.ID)
	assert.Equal(t, older.ID, rooms[0].ID)
	assert.True(t, rooms[0].IsOwner)

	assert.Empty(t, s.RoomsForUser(bob.ID))
	discover := s.DiscoverableRoomsForUser(bob.ID)
	ids := make([]string, 0, len(discover))
	for _, r := range discover {
		ids = append(ids, r.ID)
		assert.Nil(t, r.LatestMessage)
	}
	assert.ElementsMatch(t, []string{older.ID, newer.ID}, ids)
	assert.NotContains(t, ids, hidden.ID)

	// 已有关系的隐藏房间仍然可见。
	all := s.DiscoverableRoomsForUser(alice.ID)
	assert.Len(t, all, 3)
}

func TestMembers(t *testing.T) {
	s, _ := newTestStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	room := mustRoom(t, s, "lobby", alice.ID, false)
	_, _ = s.Join(room.ID, bob.ID)

	members, err := s.Members(room.ID)
	require.NoError(t, err)
	assert.Equal(t, []MemberView{
		{UserID: alice.ID, DisplayName: "alice", IsOwner: true},
		{UserID: bob.ID, DisplayName: "bob"},
	}, members)

	_, err = s.Members("0000")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}
