package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"codesync/internal/execute"
	"codesync/internal/metrics"
	"codesync/internal/protocol"
	"codesync/internal/registry"
	"codesync/internal/session"
	"codesync/internal/utils"
)

type executor interface {
	Run(ctx context.Context, req execute.Request) (execute.Result, error)
}

type sessionStore interface {
	Create(ctx context.Context, name, owner string) (registry.Session, error)
	Get(ctx context.Context, id string) (registry.Session, error)
	ListByOwner(ctx context.Context, owner string) ([]registry.Session, error)
	Delete(ctx context.Context, id string) error
	PublishSessionEnded(ctx context.Context, sessionID string) error
}

type Handlers struct {
	log      *utils.Logger
	hub      *session.Hub
	executor executor
	store    sessionStore
}

func NewHandlers(log *utils.Logger, store *registry.Store, executeAPIURL string) *Handlers {
	return NewHandlersWithDeps(log, session.NewHub(), execute.NewClient(executeAPIURL), store)
}

func NewHandlersWithDeps(log *utils.Logger, hub *session.Hub, exec executor, store sessionStore) *Handlers {
	return &Handlers{log: log, hub: hub, executor: exec, store: store}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

/*** Realtime editor WebSocket ***/

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// EditorWS authenticates the handshake, resolves the target session,
// and attaches the connection to its hub. The identity is taken from
// the verified token, never from the client's say-so.
func (h *Handlers) EditorWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	claims, err := utils.ValidateSessionToken(query.Get("token"))
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}
	identity := claims.Username
	if u := query.Get("username"); u != "" && u != identity {
		http.Error(w, "username does not match token", http.StatusForbidden)
		return
	}

	sessionID := query.Get("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := session.NewClient(conn, identity)
	go client.WritePump()

	sess := h.hub.Attach(sessionID, client)
	h.log.Info("connection attached", "session", sessionID, "user", identity)

	defer func() {
		client.Close()
		if sess.Detach(client) == 0 && h.hub.Delete(sessionID) {
			if h.store != nil {
				if err := h.store.PublishSessionEnded(context.Background(), sessionID); err != nil {
					h.log.Warn("publish session_ended failed", "session", sessionID, "error", err.Error())
				}
			}
		}
		h.log.Info("connection detached", "session", sessionID, "user", identity)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			// Bad frames are dropped; the connection stays open.
			h.log.Warn("dropping undecodable frame", "session", sessionID, "user", identity, "error", err.Error())
			continue
		}
		sess.Handle(client, msg)
	}
}

/*** Code execution proxy ***/

func (h *Handlers) ExecuteCode(w http.ResponseWriter, r *http.Request) {
	var req execute.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, execute.Result{Error: "invalid request body"})
		return
	}
	if req.Language == "" || req.Version == "" || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, execute.Result{Error: "Language, language version, and code cannot be empty."})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	res, err := h.executor.Run(ctx, req)
	if err != nil {
		h.log.Error("execute call failed", "language", req.Language, "error", err.Error())
		metrics.ExecuteRequests.WithLabelValues("transport_error").Inc()
		writeJSON(w, http.StatusInternalServerError, execute.Result{Error: "failed to execute code: " + err.Error()})
		return
	}
	if res.Error != "" {
		metrics.ExecuteRequests.WithLabelValues("upstream_error").Inc()
	} else {
		metrics.ExecuteRequests.WithLabelValues("ok").Inc()
	}
	writeJSON(w, http.StatusOK, res)
}

/*** Session registry (CRUD, external to the realtime core) ***/

type createSessionRequest struct {
	SessionName string `json:"sessionName"`
}

func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionName == "" {
		http.Error(w, "Session name is required.", http.StatusBadRequest)
		return
	}
	sess, err := h.store.Create(r.Context(), req.SessionName, identity)
	if err != nil {
		h.log.Error("create session failed", "error", err.Error())
		http.Error(w, "Failed to create session.", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	sessions, err := h.store.ListByOwner(r.Context(), identity)
	if err != nil {
		h.log.Error("list sessions failed", "owner", identity, "error", err.Error())
		http.Error(w, "Failed to list sessions.", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")
	sess, err := h.store.Get(r.Context(), id)
	if errors.Is(err, registry.ErrNotFound) {
		http.Error(w, "Session not found.", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to fetch session.", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	sess, err := h.store.Get(r.Context(), id)
	if errors.Is(err, registry.ErrNotFound) {
		http.Error(w, "Session not found.", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to fetch session.", http.StatusInternalServerError)
		return
	}
	if sess.Owner != identity {
		http.Error(w, "Only the session owner can delete it.", http.StatusForbidden)
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		http.Error(w, "Failed to delete session.", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token, err := utils.ExtractTokenFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return "", false
	}
	claims, err := utils.ValidateSessionToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return "", false
	}
	return claims.Username, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
