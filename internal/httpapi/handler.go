package httpapi

import (
	"fmt"
	"net/http"

	"termhub-engine/pkg/config"
	"termhub-engine/pkg/errutil"
	"termhub-engine/pkg/health"
	"termhub-engine/pkg/middleware"
	"termhub-engine/services/assignment"
	"termhub-engine/services/communitygoal"
	"termhub-engine/services/gamification"
	"termhub-engine/services/translation"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewEngine),
	fx.Invoke(RegisterRoutes),
)

// UserIDHeader carries the acting user resolved by the hosting application.
// Identity resolution itself (sessions, OAuth) stays outside the engine.
const (
	UserIDHeader   = "X-User-ID"
	UsernameHeader = "X-Username"
)

func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.Error())
	return engine
}

type Handler struct {
	translation  *translation.Service
	assignment   *assignment.Service
	gamification *gamification.Service
	goals        *communitygoal.Service
}

type RegisterParams struct {
	fx.In
	Engine       *gin.Engine
	Translation  *translation.Service
	Assignment   *assignment.Service
	Gamification *gamification.Service
	Goals        *communitygoal.Service
	Health       health.HealthService
}

func RegisterRoutes(p RegisterParams) {
	h := &Handler{
		translation:  p.Translation,
		assignment:   p.Assignment,
		gamification: p.Gamification,
		goals:        p.Goals,
	}

	p.Engine.GET("/healthz", p.Health.Liveness)
	p.Engine.GET("/readyz", p.Health.Readiness)

	v1 := p.Engine.Group("/v1")
	{
		v1.POST("/tasks/next", h.NextTask)
		v1.POST("/translations", h.SubmitTranslation)
		v1.POST("/units/:id/review", h.SubmitReviewDecision)
		v1.POST("/units/:id/resubmit", h.Resubmit)
		v1.POST("/units/:id/promote", h.Promote)
		v1.GET("/units/:id", h.GetUnit)
		v1.GET("/units/:id/history", h.History)

		v1.GET("/users/:id/stats", h.UserStats)
		v1.GET("/users/:id/daily-goal", h.DailyGoal)
		v1.GET("/leaderboard", h.Leaderboard)

		v1.POST("/community-goals", h.CreateGoal)
		v1.GET("/community-goals", h.ListGoals)
		v1.GET("/community-goals/:id/progress", h.GoalProgress)
	}
}

func actingUser(c *gin.Context) (string, bool) {
	userID := c.GetHeader(UserIDHeader)
	if userID == "" {
		_ = c.Error(errutil.Unauthorized("missing "+UserIDHeader+" header", nil))
		return "", false
	}
	return userID, true
}

type nextTaskRequest struct {
	Languages []string `json:"languages"`
	Exclude   []string `json:"exclude"`
}

func (h *Handler) NextTask(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}

	var req nextTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	task, err := h.assignment.NextTask(c.Request.Context(), userID, req.Languages, req.Exclude)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if task == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, task)
}

type submitTranslationRequest struct {
	FieldID  string `json:"field_id"`
	Language string `json:"language"`
	Value    string `json:"value"`
}

func (h *Handler) SubmitTranslation(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}

	var req submitTranslationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	unit, err := h.translation.SubmitTranslation(c.Request.Context(), userID, req.FieldID, req.Language, req.Value)
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.respondWithOutcome(c, userID, gamification.OutcomeTranslate, unit)
}

type reviewRequest struct {
	Action string `json:"action"`
	Text   string `json:"text"`
}

func (h *Handler) SubmitReviewDecision(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}

	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	unit, err := h.translation.SubmitReviewDecision(c.Request.Context(), userID, c.Param("id"), translation.ReviewAction(req.Action), req.Text)
	if err != nil {
		_ = c.Error(err)
		return
	}

	outcome := map[translation.ReviewAction]gamification.Outcome{
		translation.ActionApprove: gamification.OutcomeApprove,
		translation.ActionReject:  gamification.OutcomeReject,
		translation.ActionDiscuss: gamification.OutcomeDiscuss,
	}[translation.ReviewAction(req.Action)]

	h.respondWithOutcome(c, userID, outcome, unit)
}

type resubmitRequest struct {
	Value      string `json:"value"`
	Motivation string `json:"motivation"`
}

func (h *Handler) Resubmit(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}

	var req resubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	unit, err := h.translation.Resubmit(c.Request.Context(), userID, c.Param("id"), req.Value, req.Motivation)
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.respondWithOutcome(c, userID, gamification.OutcomeTranslate, unit)
}

// respondWithOutcome reports the outcome to gamification after the transition
// committed. A scoring failure never rolls the transition back; the response
// flags it so the caller can retry only the scoring step.
func (h *Handler) respondWithOutcome(c *gin.Context, userID string, outcome gamification.Outcome, unit *translation.Unit) {
	if username := c.GetHeader(UsernameHeader); username != "" {
		if err := h.gamification.EnsureUser(c.Request.Context(), userID, username); err != nil {
			zap.L().Warn("failed to ensure user stats", zap.String("user_id", userID), zap.Error(err))
		}
	}

	result, err := h.gamification.RecordOutcome(c.Request.Context(), userID, outcome, unit.Language)
	if err != nil {
		zap.L().Error("scoring failed after committed transition",
			zap.String("unit_id", unit.ID),
			zap.String("user_id", userID),
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"unit": unit, "scoring_pending": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unit": unit, "outcome": result})
}

func (h *Handler) Promote(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}

	unit, err := h.translation.Promote(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"unit": unit})
}

func (h *Handler) GetUnit(c *gin.Context) {
	unit, err := h.translation.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unit": unit})
}

func (h *Handler) History(c *gin.Context) {
	entries, err := h.translation.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) UserStats(c *gin.Context) {
	stats, err := h.gamification.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) DailyGoal(c *gin.Context) {
	goal, err := h.gamification.DailyProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, goal)
}

func (h *Handler) Leaderboard(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
			_ = c.Error(errutil.BadRequest("invalid limit", err))
			return
		}
	}

	entries, err := h.gamification.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) CreateGoal(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}

	var goal communitygoal.Goal
	if err := c.ShouldBindJSON(&goal); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	goal.CreatedBy = userID

	created, err := h.goals.Create(c.Request.Context(), &goal)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) ListGoals(c *gin.Context) {
	goals, err := h.goals.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"goals": goals})
}

func (h *Handler) GoalProgress(c *gin.Context) {
	progress, err := h.goals.CurrentProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, progress)
}
