package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"geoattend/internal/attendance"
	"geoattend/internal/reminder"
	"geoattend/internal/report"
)

const (
	maxCodeLength = 50
	maxListLimit  = 500
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Handler serves the attendance HTTP API.
type Handler struct {
	svc      *attendance.Service
	reminder *reminder.Scheduler
	loc      *time.Location
	health   map[string]HealthCheck
	logger   *zap.Logger
}

// Config carries the Handler's collaborators.
type Config struct {
	Service  *attendance.Service
	Reminder *reminder.Scheduler
	Location *time.Location
	Health   map[string]HealthCheck
	Logger   *zap.Logger
}

// New creates a Handler. A nil Location renders times in UTC.
func New(cfg Config) *Handler {
	registerValidators()
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Handler{
		svc:      cfg.Service,
		reminder: cfg.Reminder,
		loc:      cfg.Location,
		health:   cfg.Health,
		logger:   cfg.Logger,
	}
}

var validatorsOnce sync.Once

func registerValidators() {
	validatorsOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("sessioncode", validSessionCode)
		}
	})
}

func validSessionCode(fl validator.FieldLevel) bool {
	code := fl.Field().String()
	if len(code) > maxCodeLength {
		return false
	}
	for _, r := range code {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// Register mounts the API routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.healthz)

	api := r.Group("/api")
	api.POST("/setsession", h.setSession)
	api.GET("/session", h.currentSession)
	api.POST("/attendance", h.checkIn)
	api.GET("/checkins", h.listCheckIns)
	api.GET("/report/late.csv", h.lateReport)
	api.GET("/ping-status", h.pingStatus)
	api.POST("/ping", h.ping)
}

type classroomJSON struct {
	Lat    *float64 `json:"lat" binding:"omitempty,latitude"`
	Lng    *float64 `json:"lng" binding:"omitempty,longitude"`
	Radius *float64 `json:"radius" binding:"omitempty,gt=0"`
}

type setSessionRequest struct {
	Code      string         `json:"code" binding:"omitempty,sessioncode"`
	Classroom *classroomJSON `json:"classroom"`
}

type checkInRequest struct {
	Code      string `json:"code"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Classroom *struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	} `json:"classroom"`
}

func (h *Handler) setSession(c *gin.Context) {
	var req setSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	var fence attendance.GeofenceInput
	if req.Classroom != nil {
		fence = attendance.GeofenceInput{Lat: req.Classroom.Lat, Lng: req.Classroom.Lng, Radius: req.Classroom.Radius}
	}
	sess, err := h.svc.OpenSession(c.Request.Context(), req.Code, fence)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status":     "Success",
		"message":    "attendance code set",
		"session_id": sess.ID,
		"code":       sess.Code,
		"classroom":  sess.Geofence,
		"opened_at":  h.format(sess.OpenedAt),
	})
}

func (h *Handler) currentSession(c *gin.Context) {
	sess, err := h.svc.CurrentSession()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.ID,
		"classroom":  sess.Geofence,
		"opened_at":  h.format(sess.OpenedAt),
	})
}

func (h *Handler) checkIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	in := attendance.CheckInRequest{Code: req.Code, Email: req.Email, Name: req.Name}
	if req.Classroom != nil {
		in.Lat, in.Lng = req.Classroom.Lat, req.Classroom.Lng
	}

	v, err := h.svc.CheckIn(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !v.Accepted {
		c.JSON(http.StatusForbidden, gin.H{
			"status":   "Invalid",
			"message":  fmt.Sprintf("check-in failed, you are too far away (distance: %.2f meters)", v.Distance),
			"distance": v.Distance,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "Valid",
		"message":    "check-in successful, your location is within range",
		"distance":   v.Distance,
		"arrival":    v.Arrival,
		"checkin_id": v.CheckIn.ID,
		"timestamp":  h.format(v.CheckIn.Timestamp),
	})
}

type checkInJSON struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Username  string  `json:"username"`
	Email     string  `json:"email"`
	SessionID string  `json:"session_id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Distance  float64 `json:"distance"`
	Arrival   string  `json:"arrival"`
	Timestamp string  `json:"timestamp"`
}

func (h *Handler) listCheckIns(c *gin.Context) {
	f := attendance.CheckInFilter{SessionID: c.Query("session_id"), Limit: attendance.DefaultListLimit}
	var ok bool
	if f.Limit, ok = queryInt(c, "limit", f.Limit); !ok {
		h.fail(c, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if f.Offset, ok = queryInt(c, "offset", 0); !ok {
		h.fail(c, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	rows, err := h.svc.ListCheckIns(c.Request.Context(), f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]checkInJSON, 0, len(rows))
	for _, r := range rows {
		out = append(out, checkInJSON{
			ID:        r.ID,
			UserID:    r.UserID,
			Username:  r.Username,
			Email:     r.Email,
			SessionID: r.SessionID,
			Lat:       r.Lat,
			Lng:       r.Lng,
			Distance:  r.Distance,
			Arrival:   string(r.Arrival),
			Timestamp: h.format(r.Timestamp),
		})
	}
	c.JSON(http.StatusOK, gin.H{"checkins": out})
}

func (h *Handler) lateReport(c *gin.Context) {
	rows, err := h.svc.LateReport(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="late_report.csv"`)
	c.Status(http.StatusOK)
	if err := report.WriteLateCSV(c.Writer, rows); err != nil {
		h.logger.Error("write late report failed", zap.Error(err))
	}
}

func (h *Handler) pingStatus(c *gin.Context) {
	should, err := h.reminder.ShouldPing(c.Request.Context())
	if err != nil {
		h.writeError(c, fmt.Errorf("read reminder flag: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"shouldPing": should})
}

func (h *Handler) ping(c *gin.Context) {
	if err := h.reminder.Ping(c.Request.Context()); err != nil {
		h.writeError(c, fmt.Errorf("raise reminder flag: %w", err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "Success"})
}

func (h *Handler) healthz(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.health {
		ok := check(c.Request.Context())
		resp[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			resp["status"] = "degraded"
		}
	}
	c.JSON(status, resp)
}

// writeError maps an attendance error kind to its HTTP response.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch attendance.KindOf(err) {
	case attendance.KindValidation, attendance.KindNoActiveSession:
		h.fail(c, http.StatusBadRequest, attendance.MessageOf(err))
	case attendance.KindInvalidCode:
		c.JSON(http.StatusForbidden, gin.H{"status": "Invalid", "message": attendance.MessageOf(err)})
	case attendance.KindDuplicateUser:
		h.logger.Error("user resolution failed", zap.Error(err))
		h.fail(c, http.StatusInternalServerError, attendance.MessageOf(err))
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		h.fail(c, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"status": "Error", "message": msg})
}

func (h *Handler) format(t time.Time) string {
	return t.In(h.loc).Format(time.RFC3339)
}

// queryInt parses a non-negative integer query parameter, returning fallback when absent.
func queryInt(c *gin.Context, key string, fallback int) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "malformed request body"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "sessioncode":
		return fmt.Sprintf("code must be at most %d characters without whitespace", maxCodeLength)
	case "latitude", "longitude":
		return field + " out of range"
	case "gt":
		return field + " must be positive"
	}
	return field + " is invalid"
}
