package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-engine/internal/middleware"
	"github.com/stemsi/trivia-engine/internal/model"
	"github.com/stemsi/trivia-engine/internal/response"
	"github.com/stemsi/trivia-engine/internal/session"
	ws "github.com/stemsi/trivia-engine/internal/websocket"
)

const actionTimeout = 10 * time.Second

var errNotBound = fmt.Errorf("connection has not hosted or joined a session: %w", model.ErrInvalidState)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler serves the real-time game channel.
type WSHandler struct {
	manager  *session.Manager
	registry *ws.Registry
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(manager *session.Manager, registry *ws.Registry, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		manager:  manager,
		registry: registry,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions?token=...
// Upgrades to WebSocket. The connection hosts or joins a session with its
// first action and then receives that session's events.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := ws.NewClient(conn, claims.UserID(), claims.Name, h.log)
	h.registry.Register(client)
	h.log.Info().Str("user_id", client.UserID).Str("conn_id", client.ID).Msg("Client connected")

	go client.WritePump()
	client.ReadPump(h.handle, h.disconnect)
}

func (h *WSHandler) handle(client *ws.Client, req ws.RequestEnvelope) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	switch req.Action {
	case ws.ActionPing:
		client.SendMessage(ws.Message{Event: ws.EventPong})
		return
	case ws.ActionHostSession, ws.ActionJoinSession, ws.ActionStartGame, ws.ActionSubmitAnswer,
		ws.ActionAdvanceQuestion, ws.ActionEndGame, ws.ActionRestartSession:
	default:
		client.SendMessage(ws.ErrorCode(req, response.ErrUnknownAction))
		return
	}

	result, err := h.dispatch(ctx, client, req)
	if err != nil {
		if _, code := response.Classify(err); code == response.ErrInternal {
			h.log.Error().Err(err).
				Str("conn_id", client.ID).
				Str("action", string(req.Action)).
				Msg("Action failed")
		}
		client.SendMessage(ws.ErrorFor(req, err))
		return
	}
	client.SendMessage(ws.Ack(req, result))
}

func (h *WSHandler) dispatch(ctx context.Context, client *ws.Client, req ws.RequestEnvelope) (any, error) {
	switch req.Action {
	case ws.ActionHostSession:
		var data ws.HostSessionRequest
		if err := ws.DecodeData(req, &data); err != nil {
			return nil, err
		}
		sessionID, err := uuid.Parse(data.SessionID)
		if err != nil {
			return nil, model.NewValidationError("session_id", "must be a valid UUID")
		}
		prev, bound := h.registry.Lookup(client.ID)
		summary, err := h.manager.Host(ctx, sessionID, client.UserID, client.ID)
		if err == nil && bound {
			h.leave(ctx, client, prev, summary.SessionID)
		}
		return summary, err

	case ws.ActionJoinSession:
		var data ws.JoinSessionRequest
		if err := ws.DecodeData(req, &data); err != nil {
			return nil, err
		}
		prev, bound := h.registry.Lookup(client.ID)
		summary, err := h.manager.Join(ctx, data.JoinCode, client.UserID, client.Name, client.ID)
		if err == nil && bound {
			h.leave(ctx, client, prev, summary.SessionID)
		}
		return summary, err
	}

	sessionID, err := h.targetSession(client, req)
	if err != nil {
		return nil, err
	}

	switch req.Action {
	case ws.ActionStartGame:
		return nil, h.manager.Start(ctx, sessionID, client.UserID)

	case ws.ActionSubmitAnswer:
		var data model.SubmitAnswerRequest
		if err := ws.DecodeData(req, &data); err != nil {
			return nil, err
		}
		cmd, err := submitCommand(client.UserID, data)
		if err != nil {
			return nil, err
		}
		return h.manager.Submit(ctx, sessionID, cmd)

	case ws.ActionAdvanceQuestion:
		var data model.AdvanceRequest
		if len(req.Data) > 0 {
			if err := ws.DecodeData(req, &data); err != nil {
				return nil, err
			}
		}
		return h.manager.Advance(ctx, sessionID, client.UserID, data.ExpectedIndex)

	case ws.ActionEndGame:
		return h.manager.End(ctx, sessionID, client.UserID)

	case ws.ActionRestartSession:
		next, err := h.manager.Restart(ctx, sessionID, client.UserID)
		if err != nil {
			return nil, err
		}
		// The host connection follows the new session.
		return h.manager.Host(ctx, next.SessionID, client.UserID, client.ID)

	default:
		return nil, fmt.Errorf("unhandled action %q", req.Action)
	}
}

// targetSession picks the session an action applies to: an explicit
// data.session_id, otherwise the session the connection is bound to.
func (h *WSHandler) targetSession(client *ws.Client, req ws.RequestEnvelope) (uuid.UUID, error) {
	var ref ws.SessionRef
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &ref); err != nil {
			return uuid.Nil, model.NewValidationError("data", "is not valid JSON")
		}
	}
	if ref.SessionID != "" {
		id, err := uuid.Parse(ref.SessionID)
		if err != nil {
			return uuid.Nil, model.NewValidationError("session_id", "must be a valid UUID")
		}
		return id, nil
	}

	b, ok := h.registry.Lookup(client.ID)
	if !ok {
		return uuid.Nil, errNotBound
	}
	return b.SessionID, nil
}

// leave reports a connection that moved from prev's session to another one
// as gone from the old session.
func (h *WSHandler) leave(ctx context.Context, client *ws.Client, prev ws.Binding, now uuid.UUID) {
	if prev.SessionID == now {
		return
	}
	h.log.Info().
		Str("conn_id", client.ID).
		Str("from_session", prev.SessionID.String()).
		Str("to_session", now.String()).
		Msg("Connection rebound")
	h.manager.Disconnect(ctx, prev.SessionID, prev.UserID, prev.Role == ws.RoleHost)
}

func (h *WSHandler) disconnect(client *ws.Client) {
	b, ok := h.registry.Unregister(client.ID)
	h.log.Info().Str("user_id", client.UserID).Str("conn_id", client.ID).Bool("bound", ok).Msg("Client disconnected")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	h.manager.Disconnect(ctx, b.SessionID, b.UserID, b.Role == ws.RoleHost)
}
