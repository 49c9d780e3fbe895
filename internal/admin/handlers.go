package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hushroom/server/internal/chat"
	"github.com/hushroom/server/internal/names"
	"github.com/hushroom/server/internal/presence"
)

// Response messages.
const (
	msgServerError   = "Server error"
	msgNotAuthorized = "Not authorized, no token"
	msgTokenFailed   = "Not authorized, token failed"
	msgBadCreds      = "Invalid credentials"
	msgBadRequest    = "Invalid request body"
	msgUserNotFound  = "User not found"
	msgCleared       = "All messages cleared"
)

// maxBody bounds admin request bodies.
const maxBody = 4 << 10

// Room is the part of the coordinator the admin API drives.
// *chat.Coordinator satisfies it.
type Room interface {
	Stats(ctx context.Context) (chat.Stats, error)
	Analytics(ctx context.Context) (chat.Analytics, error)
	OnlineUsers() []presence.Participant
	OnlineCount() int
	KickedUsers() []string
	Kick(connID, reason string) (presence.Participant, error)
	Unkick(name string)
	ClearMessages(ctx context.Context) error
}

// Handler serves /api/admin/*.
type Handler struct {
	room Room
	auth *Authenticator
	log  *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(room Room, auth *Authenticator, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{room: room, auth: auth, log: log}
}

// Register mounts the admin routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/admin/login", h.login)

	mux.Handle("GET /api/admin/stats", h.requireAdmin(h.stats))
	mux.Handle("GET /api/admin/analytics", h.requireAdmin(h.analytics))
	mux.Handle("GET /api/admin/online-users", h.requireAdmin(h.onlineUsers))
	mux.Handle("GET /api/admin/kicked-users", h.requireAdmin(h.kickedUsers))
	mux.Handle("POST /api/admin/kick/{socketId}", h.requireAdmin(h.kick))
	mux.Handle("POST /api/admin/unkick/{username}", h.requireAdmin(h.unkick))
	mux.Handle("DELETE /api/admin/messages", h.requireAdmin(h.clearMessages))
}

// requireAdmin rejects requests without a valid admin bearer token.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, msgNotAuthorized)
			return
		}
		if _, err := h.auth.Verify(strings.TrimSpace(token)); err != nil {
			writeError(w, http.StatusUnauthorized, msgTokenFailed)
			return
		}
		next(w, r)
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	token, err := h.auth.Login(req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		h.log.Info("admin login failed", zap.String("email", req.Email))
		writeError(w, http.StatusUnauthorized, msgBadCreds)
		return
	}
	if err != nil {
		h.log.Error("admin login", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
		"admin":   map[string]string{"email": h.auth.Email()},
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.room.Stats(r.Context())
	if err != nil {
		h.log.Error("stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

func (h *Handler) analytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.room.Analytics(r.Context())
	if err != nil {
		h.log.Error("analytics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "analytics": a})
}

func (h *Handler) onlineUsers(w http.ResponseWriter, _ *http.Request) {
	users := h.room.OnlineUsers()
	if users == nil {
		users = []presence.Participant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": users})
}

func (h *Handler) kickedUsers(w http.ResponseWriter, _ *http.Request) {
	kicked := h.room.KickedUsers()
	if kicked == nil {
		kicked = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "kicked": kicked})
}

type kickRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) kick(w http.ResponseWriter, r *http.Request) {
	var req kickRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	p, err := h.room.Kick(r.PathValue("socketId"), strings.TrimSpace(req.Reason))
	if errors.Is(err, chat.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgUserNotFound)
		return
	}
	if err != nil {
		h.log.Error("kick", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}
	writeMessage(w, p.Name+" has been kicked")
}

func (h *Handler) unkick(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("username")
	h.room.Unkick(name)
	writeMessage(w, name+" has been unkicked")
}

func (h *Handler) clearMessages(w http.ResponseWriter, r *http.Request) {
	if err := h.room.ClearMessages(r.Context()); err != nil {
		h.log.Error("clear messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}
	writeMessage(w, msgCleared)
}

// Public serves the unauthenticated /api endpoints.
type Public struct {
	Room        interface{ OnlineCount() int }
	Connections func() int
	Uptime      func() time.Duration
}

// Register mounts the public routes on mux.
func (p Public) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", p.health)
	mux.HandleFunc("GET /api/generate-name", generateName)
}

func (p Public) health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"success": true, "status": "ok"}
	if p.Connections != nil {
		resp["connections"] = p.Connections()
	}
	if p.Room != nil {
		resp["onlineUsers"] = p.Room.OnlineCount()
	}
	if p.Uptime != nil {
		resp["uptime"] = p.Uptime().Round(time.Second).String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func generateName(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "username": names.Generate()})
}

// decodeBody decodes an optional JSON body; an empty body leaves v as is.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": message})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}
