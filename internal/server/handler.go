package server

import (
	"net/http"
	"strconv"
	"time"

	"chatroom/internal/auth"
	"chatroom/internal/models"
	"chatroom/internal/service"
	"chatroom/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 Store 与实时 Hub。
type Handler struct {
	store      *service.Store
	hub        *ws.Hub
	secret     string
	sessionTTL time.Duration
	secure     bool
}

func NewHandler(store *service.Store, hub *ws.Hub, secret string, sessionTTL time.Duration, secure bool) *Handler {
	return &Handler{store: store, hub: hub, secret: secret, sessionTTL: sessionTTL, secure: secure}
}

var statusByKind = map[service.Kind]int{
	service.KindValidation:      http.StatusBadRequest,
	service.KindNotFound:        http.StatusNotFound,
	service.KindForbidden:       http.StatusForbidden,
	service.KindConflict:        http.StatusConflict,
	service.KindUnauthenticated: http.StatusUnauthorized,
}

// writeError 把领域错误映射为 HTTP 状态码，内部错误只记录日志。
func writeError(c *gin.Context, op string, err error) {
	kind := service.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		log.Error().Err(err).Str("op", op).Str("user_id", auth.GetUserID(c)).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": service.KindInternal})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": kind})
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "code": service.KindValidation})
		return false
	}
	return true
}

type meView struct {
	User           models.User `json:"user"`
	HasPassword    bool        `json:"hasPassword"`
	HasAccountHash bool        `json:"hasAccountHash"`
}

func viewOf(u models.User) meView {
	return meView{User: u, HasPassword: u.HasPassword(), HasAccountHash: u.HasAccountHash()}
}

// startSession 为已验证的用户创建会话，签发令牌并写入 cookie。
func (h *Handler) startSession(c *gin.Context, u models.User) {
	sess, err := h.store.CreateSession(u.ID)
	if err != nil {
		writeError(c, "create session", err)
		return
	}
	token, err := auth.IssueToken(sess, h.secret, h.sessionTTL)
	if err != nil {
		writeError(c, "issue token", service.Internal("issue token", err))
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, token, int(h.sessionTTL.Seconds()), "/", "", h.secure, true)
	c.JSON(http.StatusOK, gin.H{"token": token, "me": viewOf(u)})
}

// LoginPassword 使用邮箱与密码登录。
func (h *Handler) LoginPassword(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !bind(c, &req) {
		return
	}
	u, ok := h.store.AuthenticateByPassword(req.Email, req.Password)
	if !ok {
		writeError(c, "password login", service.ErrInvalidCredentials)
		return
	}
	h.startSession(c, u)
}

// LoginAccountHash 使用账户口令登录。
func (h *Handler) LoginAccountHash(c *gin.Context) {
	var req struct {
		Hash string `json:"hash"`
	}
	if !bind(c, &req) {
		return
	}
	u, ok := h.store.AuthenticateByAccountHash(req.Hash)
	if !ok {
		writeError(c, "account hash login", service.ErrInvalidCredentials)
		return
	}
	h.startSession(c, u)
}

// DevLogin 模拟 OAuth 回调，只在 dev 环境注册。
func (h *Handler) DevLogin(c *gin.Context) {
	var req service.OAuthProfile
	if !bind(c, &req) {
		return
	}
	if req.Provider == "" {
		req.Provider = "dev"
	}
	u, err := h.store.UpsertUser(req)
	if err != nil {
		writeError(c, "dev login", err)
		return
	}
	h.startSession(c, u)
}

func (h *Handler) Logout(c *gin.Context) {
	h.store.DeleteSession(auth.GetSessionID(c))
	c.SetCookie(auth.CookieName, "", -1, "/", "", h.secure, true)
	c.Status(http.StatusNoContent)
}

func (h *Handler) Me(c *gin.Context) {
	u, err := h.store.GetUser(auth.GetUserID(c))
	if err != nil {
		writeError(c, "me", err)
		return
	}
	c.JSON(http.StatusOK, viewOf(u))
}

func (h *Handler) Rename(c *gin.Context) {
	var req struct {
		DisplayName string `json:"displayName"`
	}
	if !bind(c, &req) {
		return
	}
	u, err := h.store.RenameUser(auth.GetUserID(c), req.DisplayName)
	if err != nil {
		writeError(c, "rename", err)
		return
	}
	h.hub.NotifyUserRenamed(u.ID)
	c.JSON(http.StatusOK, viewOf(u))
}

func (h *Handler) SetPassword(c *gin.Context) {
	var req struct {
		Password        string `json:"password"`
		CurrentPassword string `json:"currentPassword"`
	}
	if !bind(c, &req) {
		return
	}
	u, err := h.store.SetPasswordLogin(auth.GetUserID(c), req.Password, req.CurrentPassword)
	if err != nil {
		writeError(c, "set password", err)
		return
	}
	c.JSON(http.StatusOK, viewOf(u))
}

func (h *Handler) DisablePassword(c *gin.Context) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
	}
	if !bind(c, &req) {
		return
	}
	u, err := h.store.DisablePasswordLogin(auth.GetUserID(c), req.CurrentPassword)
	if err != nil {
		writeError(c, "disable password", err)
		return
	}
	c.JSON(http.StatusOK, viewOf(u))
}

// GenerateAccountHash 生成新的账户口令，明文只在这次响应中返回。
func (h *Handler) GenerateAccountHash(c *gin.Context) {
	phrase, u, err := h.store.GenerateAccountHash(auth.GetUserID(c))
	if err != nil {
		writeError(c, "generate account hash", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": phrase, "me": viewOf(u)})
}

func (h *Handler) DisableAccountHash(c *gin.Context) {
	u, err := h.store.DisableAccountHash(auth.GetUserID(c))
	if err != nil {
		writeError(c, "disable account hash", err)
		return
	}
	c.JSON(http.StatusOK, viewOf(u))
}

// DeleteAccount 删除账户并断开其全部实时连接。
func (h *Handler) DeleteAccount(c *gin.Context) {
	res, err := h.store.DeleteAccount(auth.GetUserID(c))
	if err != nil {
		writeError(c, "delete account", err)
		return
	}
	h.hub.NotifyAccountDeleted(res)
	c.SetCookie(auth.CookieName, "", -1, "/", "", h.secure, true)
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.store.RoomsForUser(auth.GetUserID(c))})
}

func (h *Handler) DiscoverRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.store.DiscoverableRoomsForUser(auth.GetUserID(c))})
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		Name           string `json:"name"`
		IsPrivate      bool   `json:"isPrivate"`
		IsDiscoverable *bool  `json:"isDiscoverable"`
	}
	if !bind(c, &req) {
		return
	}
	discoverable := req.IsDiscoverable == nil || *req.IsDiscoverable
	room, err := h.store.CreateRoom(req.Name, auth.GetUserID(c), req.IsPrivate, discoverable)
	if err != nil {
		writeError(c, "create room", err)
		return
	}
	h.hub.NotifyRoomsChanged(room.OwnerUserID)
	c.JSON(http.StatusCreated, gin.H{"room": room})
}

func (h *Handler) RoomSnapshot(c *gin.Context) {
	snap, err := h.store.RoomSnapshot(c.Param("id"), auth.GetUserID(c))
	if err != nil {
		writeError(c, "room snapshot", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ListMessages 以 before 游标向前翻页。
func (h *Handler) ListMessages(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(c, "list messages", service.Invalid("invalid limit"))
			return
		}
		limit = n
	}
	page, err := h.store.HistoryFor(c.Param("id"), auth.GetUserID(c), limit, c.Query("before"))
	if err != nil {
		writeError(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) JoinRoom(c *gin.Context) {
	res, err := h.store.Join(c.Param("id"), auth.GetUserID(c))
	if err != nil {
		writeError(c, "join room", err)
		return
	}
	h.hub.NotifyMembershipChanged(res.Room.ID, "")
	c.JSON(http.StatusOK, res)
}

func (h *Handler) LeaveRoom(c *gin.Context) {
	userID := auth.GetUserID(c)
	room, err := h.store.Leave(c.Param("id"), userID)
	if err != nil {
		writeError(c, "leave room", err)
		return
	}
	h.hub.NotifyMembershipChanged(room.ID, "left", userID)
	c.JSON(http.StatusOK, gin.H{"room": room})
}
