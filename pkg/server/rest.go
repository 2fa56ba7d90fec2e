package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meedsr07/storechat/pkg/auth"
	"github.com/meedsr07/storechat/pkg/database"
	"github.com/meedsr07/storechat/pkg/protocol"
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is lowered by tests
var bcryptCost = bcrypt.DefaultCost

const principalKey = "principal"

type credentialsRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=32"`
	DisplayName string `json:"display_name" binding:"max=64"`
	Password    string `json:"password" binding:"required,min=6,max=72"`
}

// UserView is the public shape of a user
type UserView struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Online      bool   `json:"online"`
}

// GroupView is the public shape of a group
type GroupView struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Members []int64 `json:"members"`
}

// SessionResponse is returned by register and login
type SessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      UserView  `json:"user"`
}

// Router builds the HTTP handler serving the REST API and the /ws endpoint
func (s *Server) Router() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": s.registry.Count()})
	})
	r.POST("/register", s.handleRegister)
	r.POST("/login", s.handleLogin)

	// Token travels in the query; verification happens before the upgrade
	r.GET("/ws", gin.WrapF(s.HandleWebSocket))

	authed := r.Group("/", s.authRequired())
	authed.GET("/me", s.handleMe)
	authed.GET("/users", s.handleListUsers)
	authed.GET("/groups", s.handleListGroups)
	authed.GET("/messages/direct/:peerID", s.handleDirectHistory)
	authed.GET("/messages/group/:groupID", s.handleGroupHistory)
	authed.DELETE("/messages/:id", s.handleDeleteMessage)

	return r
}

// requestLogger writes one debug line per request
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		debugLog.Printf("HTTP %s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// authRequired verifies the bearer token and stores the principal on the context
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := s.verifier.Verify(auth.BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			s.metrics.RecordAuthRejected("rest")
			switch {
			case auth.IsAuthRejected(err):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			case errors.Is(err, auth.ErrUnknownPrincipal):
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unknown user"})
			default:
				errorLog.Printf("REST: token verification failed: %v", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

func principalFrom(c *gin.Context) auth.Principal {
	return c.MustGet(principalKey).(auth.Principal)
}

func (s *Server) userView(u *database.User) UserView {
	return UserView{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Online:      s.registry.IsOnline(u.ID),
	}
}

func (s *Server) issueSession(c *gin.Context, status int, u *database.User) {
	token, exp, err := s.verifier.Issue(auth.Principal{ID: u.ID, DisplayName: u.DisplayName, Handle: u.Username})
	if err != nil {
		errorLog.Printf("REST: failed to issue token for user %d: %v", u.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, SessionResponse{Token: token, ExpiresAt: exp, User: s.userView(u)})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		errorLog.Printf("REST: failed to hash password: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	id, err := s.db.CreateUser(req.Username, strings.TrimSpace(req.DisplayName), string(hash))
	if errors.Is(err, database.ErrUsernameTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		return
	}
	if err != nil {
		errorLog.Printf("REST: failed to create user %q: %v", req.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	u, err := s.db.GetUserByID(id)
	if err != nil {
		errorLog.Printf("REST: failed to load new user %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	s.issueSession(c, http.StatusCreated, u)
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := s.db.GetUserByUsername(strings.ToLower(strings.TrimSpace(req.Username)))
	if err != nil && !errors.Is(err, database.ErrUserNotFound) {
		errorLog.Printf("REST: failed to load user %q: %v", req.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		s.metrics.RecordAuthRejected("login")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}

	s.issueSession(c, http.StatusOK, u)
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, principalFrom(c))
}

func (s *Server) handleListUsers(c *gin.Context) {
	me := principalFrom(c)

	users, err := s.db.ListUsers()
	if err != nil {
		errorLog.Printf("REST: failed to list users: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	views := make([]UserView, 0, len(users))
	for _, u := range users {
		if u.ID == me.ID {
			continue
		}
		views = append(views, s.userView(u))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) handleListGroups(c *gin.Context) {
	me := principalFrom(c)

	groups, err := s.db.ListGroupsForUser(me.ID)
	if err != nil {
		errorLog.Printf("REST: failed to list groups for %d: %v", me.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	views := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		members, err := s.db.GroupMemberIDs(g.ID)
		if err != nil {
			errorLog.Printf("REST: failed to list members of group %d: %v", g.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		views = append(views, GroupView{ID: g.ID, Name: g.Name, Members: members})
	}
	c.JSON(http.StatusOK, views)
}

// historyLimit reads ?limit= capped at the configured maximum
func (s *Server) historyLimit(c *gin.Context) int {
	limit := s.config.HistoryLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n < limit {
			limit = n
		}
	}
	return limit
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func wireMessages(messages []*database.Message) []protocol.Message {
	out := make([]protocol.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, toWireMessage(m))
	}
	return out
}

func (s *Server) handleDirectHistory(c *gin.Context) {
	me := principalFrom(c)
	peerID, ok := pathID(c, "peerID")
	if !ok {
		return
	}

	messages, err := s.db.ListDirectHistory(me.ID, peerID, s.historyLimit(c))
	if err != nil {
		errorLog.Printf("REST: failed to load history %d<->%d: %v", me.ID, peerID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, wireMessages(messages))
}

func (s *Server) handleGroupHistory(c *gin.Context) {
	me := principalFrom(c)
	groupID, ok := pathID(c, "groupID")
	if !ok {
		return
	}

	if _, err := s.db.GetGroup(groupID); err != nil {
		if errors.Is(err, database.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
			return
		}
		errorLog.Printf("REST: failed to load group %d: %v", groupID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	member, err := s.db.IsGroupMember(groupID, me.ID)
	if err != nil {
		errorLog.Printf("REST: membership check failed for group %d: %v", groupID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this group"})
		return
	}

	messages, err := s.db.ListGroupHistory(groupID, s.historyLimit(c))
	if err != nil {
		errorLog.Printf("REST: failed to load group history %d: %v", groupID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, wireMessages(messages))
}

func (s *Server) handleDeleteMessage(c *gin.Context) {
	me := principalFrom(c)
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}

	_, err := s.deletions.HandleDelete(me.ID, messageID)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "only the sender can delete a message"})
	default:
		errorLog.Printf("REST: failed to delete message %d: %v", messageID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
