package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/trivia-engine/internal/middleware"
	"github.com/stemsi/trivia-engine/internal/model"
	"github.com/stemsi/trivia-engine/internal/response"
	"github.com/stemsi/trivia-engine/internal/service"
	"github.com/stemsi/trivia-engine/internal/session"
	"github.com/stemsi/trivia-engine/internal/validator"
)

// SessionHandler handles game session endpoints.
type SessionHandler struct {
	manager       *session.Manager
	results       *service.ResultService
	maxSpeedBonus int
}

// NewSessionHandler creates a new SessionHandler. maxSpeedBonus applies when
// a new session does not set its own.
func NewSessionHandler(manager *session.Manager, results *service.ResultService, maxSpeedBonus int) *SessionHandler {
	return &SessionHandler{
		manager:       manager,
		results:       results,
		maxSpeedBonus: maxSpeedBonus,
	}
}

// CreateSession godoc
// POST /api/v1/sessions
// Creates a waiting session hosted by the caller.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, err := h.manager.Create(c.Request.Context(), session.CreateParams{
		HostID:    claims.UserID(),
		HostName:  claims.Name,
		Title:     req.Title,
		Questions: buildQuestions(req.Questions),
		Settings:  h.buildSettings(req.Settings),
	})
	if err != nil {
		response.FailErr(c, err)
		return
	}

	response.Success(c, http.StatusCreated, model.CreateSessionResponse{
		SessionID:     sess.ID.String(),
		JoinCode:      sess.JoinCode,
		QuestionCount: len(sess.Questions),
	})
}

// ListSessions godoc
// GET /api/v1/sessions
// Lists the sessions hosted by the caller, newest first.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessions, err := h.manager.ListByHost(c.Request.Context(), claims.UserID())
	if err != nil {
		response.FailErr(c, err)
		return
	}

	summaries := make([]model.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, s.Summary())
	}
	response.Success(c, http.StatusOK, gin.H{"sessions": summaries})
}

// GetSession godoc
// GET /api/v1/sessions/:session_id
// Returns the host's view of a session.
func (h *SessionHandler) GetSession(c *gin.Context) {
	claims, sessionID, ok := sessionRequest(c)
	if !ok {
		return
	}

	summary, err := h.manager.Host(c.Request.Context(), sessionID, claims.UserID(), "")
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, summary)
}

// JoinSession godoc
// POST /api/v1/sessions/join
// Joins the live session holding a join code.
func (h *SessionHandler) JoinSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.JoinSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	summary, err := h.manager.Join(c.Request.Context(), req.JoinCode, claims.UserID(), claims.Name, "")
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, summary)
}

// StartGame godoc
// POST /api/v1/sessions/:session_id/start
func (h *SessionHandler) StartGame(c *gin.Context) {
	claims, sessionID, ok := sessionRequest(c)
	if !ok {
		return
	}

	if err := h.manager.Start(c.Request.Context(), sessionID, claims.UserID()); err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": model.SessionStatusActive})
}

// AdvanceQuestion godoc
// POST /api/v1/sessions/:session_id/advance
// Moves to the next question, or ends the game after the last one.
func (h *SessionHandler) AdvanceQuestion(c *gin.Context) {
	claims, sessionID, ok := sessionRequest(c)
	if !ok {
		return
	}

	var req model.AdvanceRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	res, err := h.manager.Advance(c.Request.Context(), sessionID, claims.UserID(), req.ExpectedIndex)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// EndGame godoc
// POST /api/v1/sessions/:session_id/end
func (h *SessionHandler) EndGame(c *gin.Context) {
	claims, sessionID, ok := sessionRequest(c)
	if !ok {
		return
	}

	summary, err := h.manager.End(c.Request.Context(), sessionID, claims.UserID())
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, summary)
}

// RestartSession godoc
// POST /api/v1/sessions/:session_id/restart
// Archives an ended session and opens a fresh copy with a new join code.
func (h *SessionHandler) RestartSession(c *gin.Context) {
	claims, sessionID, ok := sessionRequest(c)
	if !ok {
		return
	}

	summary, err := h.manager.Restart(c.Request.Context(), sessionID, claims.UserID())
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusCreated, summary)
}

// DeleteSession godoc
// DELETE /api/v1/sessions/:session_id
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	claims, sessionID, ok := sessionRequest(c)
	if !ok {
		return
	}

	if err := h.manager.Delete(c.Request.Context(), sessionID, claims.UserID()); err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// SubmitAnswer godoc
// POST /api/v1/sessions/:session_id/answers
// Answers the current question. The outcome is only returned to the caller.
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	claims, sessionID, ok := sessionRequest(c)
	if !ok {
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	cmd, err := submitCommand(claims.UserID(), req)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	out, err := h.manager.Submit(c.Request.Context(), sessionID, cmd)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}

// GetLeaderboard godoc
// GET /api/v1/sessions/:session_id/leaderboard
func (h *SessionHandler) GetLeaderboard(c *gin.Context) {
	_, sessionID, ok := sessionRequest(c)
	if !ok {
		return
	}

	board, err := h.results.Leaderboard(c.Request.Context(), sessionID)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"leaderboard": board})
}

// GetSessionResults godoc
// GET /api/v1/sessions/:session_id/results
// Lists archived results. Host and participants only.
func (h *SessionHandler) GetSessionResults(c *gin.Context) {
	claims, sessionID, ok := sessionRequest(c)
	if !ok {
		return
	}

	results, err := h.results.SessionResults(c.Request.Context(), sessionID, claims.UserID())
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// GetMyResults godoc
// GET /api/v1/users/me/results?limit=20
func (h *SessionHandler) GetMyResults(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	results, err := h.results.UserResults(c.Request.Context(), claims.UserID(), limit)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// GetMyStats godoc
// GET /api/v1/users/me/stats
func (h *SessionHandler) GetMyStats(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	st, err := h.results.UserStats(c.Request.Context(), claims.UserID())
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, st)
}

// ─── Helpers ───────────────────────────────────────────────────────────

// sessionRequest reads the caller and the :session_id param, writing the
// failure response itself.
func sessionRequest(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, sessionID, true
}

func buildQuestions(reqs []model.CreateQuestionRequest) []model.Question {
	questions := make([]model.Question, 0, len(reqs))
	for _, q := range reqs {
		points := model.DefaultQuestionPoints
		if q.Points != nil {
			points = *q.Points
		}
		options := make([]string, len(q.Options))
		copy(options, q.Options)
		questions = append(questions, model.Question{
			ID:           uuid.New(),
			Text:         q.Text,
			Options:      options,
			CorrectIndex: *q.CorrectIndex,
			TimeLimit:    q.TimeLimit,
			Points:       points,
			Explanation:  q.Explanation,
		})
	}
	return questions
}

func (h *SessionHandler) buildSettings(req model.SettingsRequest) model.Settings {
	bonus := h.maxSpeedBonus
	if req.MaxSpeedBonus != nil {
		bonus = *req.MaxSpeedBonus
	}
	return model.Settings{
		SpeedBonusEnabled: req.SpeedBonusEnabled,
		MaxSpeedBonus:     bonus,
	}
}

func submitCommand(userID string, req model.SubmitAnswerRequest) (session.SubmitAnswer, error) {
	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		return session.SubmitAnswer{}, model.NewValidationError("question_id", "must be a valid UUID")
	}
	return session.SubmitAnswer{
		UserID:        userID,
		QuestionID:    questionID,
		SelectedIndex: *req.SelectedIndex,
		TimeSpentMs:   req.TimeSpentMs,
	}, nil
}
