package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatroom/internal/auth"
	"chatroom/internal/config"
	"chatroom/internal/mw"
	"chatroom/internal/presence"
	"chatroom/internal/service"
	"chatroom/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type testApp struct {
	engine *gin.Engine
	store  *service.Store
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	return newTestAppEnv(t, "dev")
}

func newTestAppEnv(t *testing.T, env string) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{Port: "0", DatabaseDSN: "memory", JWTSecret: "secret", Env: env, SessionTTLDays: 30, HistoryLimit: 50, WSSendRate: 100}
	store := service.NewStore(service.Discard{})
	hub := ws.NewHub(store, presence.NewRegistry(store), ws.WithHistoryLimit(cfg.HistoryLimit))
	limiter := mw.NewKeyedLimiter(rate.Inf, 1, time.Minute)
	t.Cleanup(limiter.Stop)
	engine := SetupRouter(cfg, Deps{Store: store, Hub: hub, Limiter: limiter})
	return &testApp{engine: engine, store: store}
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type loginResp struct {
	Token string `json:"token"`
	Me    meView `json:"me"`
}

func (a *testApp) login(t *testing.T, name string) loginResp {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/auth/dev-login", "", gin.H{
		"subject": name, "displayName": name, "email": name + "@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cookie bool
	for _, c := range w.Result().Cookies() {
		if c.Name == "chat_session" && c.HttpOnly {
			cookie = true
		}
	}
	assert.True(t, cookie, "session cookie must be set")
	return decodeBody[loginResp](t, w)
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t)
	w := app.do(t, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRequiresAuth(t *testing.T) {
	app := newTestApp(t)
	for _, path := range []string{"/api/v1/me", "/api/v1/rooms", "/api/v1/rooms/1234"} {
		w := app.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestRoomsAPI(t *testing.T) {
	app := newTestApp(t)
	alice := app.login(t, "alice")
	bob := app.login(t, "bob")

	w := app.do(t, http.MethodPost, "/api/v1/rooms", alice.Token, gin.H{"name": "  book club ", "isPrivate": true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	room := decodeBody[struct {
		Room struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"room"`
	}](t, w).Room
	assert.Equal(t, "book club", room.Name)

	w = app.do(t, http.MethodPost, "/api/v1/rooms", alice.Token, gin.H{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/rooms/discover", bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), room.ID)

	w = app.do(t, http.MethodPost, "/api/v1/rooms/"+room.ID+"/join", bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.AccessPending, decodeBody[service.JoinResult](t, w).Status)

	w = app.do(t, http.MethodGet, "/api/v1/rooms/"+room.ID, bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeBody[service.RoomSnapshot](t, w)
	assert.False(t, snap.CanAccess)
	assert.Empty(t, snap.Messages)

	w = app.do(t, http.MethodGet, "/api/v1/rooms/"+room.ID+"/messages", bob.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), string(service.KindForbidden))

	w = app.do(t, http.MethodGet, "/api/v1/rooms/9999999/messages", alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := app.store.Append(room.ID, alice.Me.User.ID, "first")
	require.NoError(t, err)
	_, err = app.store.Append(room.ID, alice.Me.User.ID, "second")
	require.NoError(t, err)
	w = app.do(t, http.MethodGet, "/api/v1/rooms/"+room.ID+"/messages?limit=1", alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decodeBody[service.HistoryPage](t, w)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "second", page.Messages[0].Text)
	assert.True(t, page.HasMore)

	w = app.do(t, http.MethodGet, "/api/v1/rooms/"+room.ID+"/messages?limit=x", alice.Token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodPost, "/api/v1/rooms/"+room.ID+"/leave", bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = app.do(t, http.MethodPost, "/api/v1/rooms/"+room.ID+"/leave", bob.Token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodGet, "/api/v1/rooms", alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rooms := decodeBody[struct {
		Rooms []service.RoomSummary `json:"rooms"`
	}](t, w).Rooms
	require.Len(t, rooms, 1)
	require.NotNil(t, rooms[0].LatestMessage)
	assert.Equal(t, "second", rooms[0].LatestMessage.Text)
}

func TestPasswordAndAccountHashLogin(t *testing.T) {
	app := newTestApp(t)
	alice := app.login(t, "alice")

	w := app.do(t, http.MethodPost, "/api/v1/me/password", alice.Token, gin.H{"password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = app.do(t, http.MethodPost, "/api/v1/me/password", alice.Token, gin.H{"password": "s3cret-pass"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decodeBody[meView](t, w).HasPassword)
	assert.NotContains(t, w.Body.String(), "passwordHash")

	w = app.do(t, http.MethodPost, "/api/v1/auth/password", "", gin.H{"email": "alice@example.com", "password": "s3cret-pass"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, alice.Me.User.ID, decodeBody[loginResp](t, w).Me.User.ID)

	w = app.do(t, http.MethodPost, "/api/v1/auth/password", "", gin.H{"email": "alice@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(t, http.MethodPost, "/api/v1/me/account-hash", alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	phrase := decodeBody[struct {
		Hash string `json:"hash"`
	}](t, w).Hash
	require.NotEmpty(t, phrase)

	w = app.do(t, http.MethodPost, "/api/v1/auth/account-hash", "", gin.H{"hash": strings.ToUpper(phrase)})
	require.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodDelete, "/api/v1/me/account-hash", alice.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = app.do(t, http.MethodPost, "/api/v1/auth/account-hash", "", gin.H{"hash": phrase})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRenameLogoutAndDelete(t *testing.T) {
	app := newTestApp(t)
	alice := app.login(t, "alice")

	w := app.do(t, http.MethodPut, "/api/v1/me/name", alice.Token, gin.H{"displayName": "Alice L."})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Alice L.", decodeBody[meView](t, w).User.DisplayName)

	w = app.do(t, http.MethodPost, "/api/v1/auth/logout", alice.Token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = app.do(t, http.MethodGet, "/api/v1/me", alice.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	again := app.login(t, "alice")
	assert.Equal(t, alice.Me.User.ID, again.Me.User.ID)
	assert.Equal(t, "Alice L.", again.Me.User.DisplayName)

	w = app.do(t, http.MethodDelete, "/api/v1/me", again.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = app.do(t, http.MethodGet, "/api/v1/me", again.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
}

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data"`
}

// next 读取帧直到出现指定类型。
func next(t *testing.T, conn *websocket.Conn, typ string) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var f wsFrame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == typ {
			return f
		}
	}
}

func TestWebsocket_EndToEnd(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.engine)
	defer srv.Close()

	alice := app.login(t, "alice")
	bob := app.login(t, "bob")
	w := app.do(t, http.MethodPost, "/api/v1/rooms", alice.Token, gin.H{"name": "lobby"})
	require.Equal(t, http.StatusCreated, w.Code)
	roomID := decodeBody[struct {
		Room struct {
			ID string `json:"id"`
		} `json:"room"`
	}](t, w).Room.ID
	w = app.do(t, http.MethodPost, "/api/v1/rooms/"+roomID+"/join", bob.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "bogus"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ac, _, err := websocket.DefaultDialer.Dial(wsURL(srv, alice.Token), nil)
	require.NoError(t, err)
	defer ac.Close()
	bc, _, err := websocket.DefaultDialer.Dial(wsURL(srv, bob.Token), nil)
	require.NoError(t, err)
	defer bc.Close()

	next(t, ac, ws.OutRoomsList)
	next(t, bc, ws.OutRoomsList)

	require.NoError(t, ac.WriteJSON(gin.H{"type": ws.EvRoomJoin, "requestId": "j1", "data": gin.H{"roomId": roomID}}))
	assert.Equal(t, "j1", next(t, ac, ws.OutRoomHistory).RequestID)
	require.NoError(t, bc.WriteJSON(gin.H{"type": ws.EvRoomJoin, "data": gin.H{"roomId": roomID}}))
	next(t, bc, ws.OutRoomHistory)

	require.NoError(t, ac.WriteJSON(gin.H{"type": ws.EvMessageSend, "requestId": "s1", "data": gin.H{"roomId": roomID, "text": "hello bob", "clientId": "c-1"}}))
	f := next(t, bc, ws.OutMessageNew)
	var msg ws.MessageData
	require.NoError(t, json.Unmarshal(f.Data, &msg))
	assert.Equal(t, "hello bob", msg.Text)
	assert.Equal(t, "alice", msg.AuthorName)
	assert.Equal(t, "c-1", msg.ClientID)

	// 断开连接后对方看到离线状态。
	require.NoError(t, bc.Close())
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f := next(t, ac, ws.OutRoomMembers)
		var m ws.MembersData
		require.NoError(t, json.Unmarshal(f.Data, &m))
		for _, p := range m.Members {
			if p.UserID == bob.Me.User.ID && p.Status == presence.Offline {
				return
			}
		}
	}
	t.Fatal("bob never went offline")
}

func TestWebsocket_RejectsForeignOrigin(t *testing.T) {
	app := newTestAppEnv(t, "prod")
	srv := httptest.NewServer(app.engine)
	defer srv.Close()

	u, err := app.store.UpsertUser(service.OAuthProfile{Provider: "github", Subject: "1", DisplayName: "alice"})
	require.NoError(t, err)
	sess, err := app.store.CreateSession(u.ID)
	require.NoError(t, err)
	token, err := auth.IssueToken(sess, "secret", time.Hour)
	require.NoError(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, token), http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, token), http.Header{"Origin": {srv.URL}})
	require.NoError(t, err)
	conn.Close()
}
