package medication

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meditrack/reminder-api/internal/handler"
	"github.com/meditrack/reminder-api/internal/repository"
	"github.com/meditrack/reminder-api/internal/service/medication"
	"github.com/meditrack/reminder-api/internal/service/schedule"
)

// Handler exposes dose recording and the schedule-change hooks the
// reminder pipeline reacts to.
type Handler struct {
	service   medication.Service
	meds      repository.MedicationRepository
	scheduler *schedule.Service
}

func NewHandler(service medication.Service, meds repository.MedicationRepository, scheduler *schedule.Service) *Handler {
	return &Handler{service: service, meds: meds, scheduler: scheduler}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	meds := r.Group("/medications")
	{
		meds.POST("/:id/doses", h.RecordDose)
		meds.POST("/:id/changed", h.MedicationChanged)
		meds.GET("/:id/due-doses", h.ListDueDoses)
		meds.GET("/:id/interactions", h.CheckInteractions)
	}
}

type recordDoseRequest struct {
	TakenAt *time.Time `json:"taken_at"`
}

func (h *Handler) RecordDose(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid medication ID"))
		return
	}

	var req recordDoseRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	takenAt := time.Now()
	if req.TakenAt != nil {
		takenAt = *req.TakenAt
	}

	med, err := h.service.RecordDoseTaken(c.Request.Context(), id, takenAt)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(med))
}

// MedicationChanged invalidates pending reminders for the medication and
// re-runs the interaction check under the new schedule.
func (h *Handler) MedicationChanged(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid medication ID"))
		return
	}

	cancelled, err := h.service.MedicationChanged(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	conflicts, err := h.service.CheckInteractions(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"cancelled_reminders": cancelled,
		"conflicts":           conflicts,
	}))
}

func (h *Handler) ListDueDoses(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid medication ID"))
		return
	}

	hours := 24
	if v := c.Query("hours"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 24*7 {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid hours"))
			return
		}
		hours = parsed
	}

	med, err := h.meds.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	now := time.Now()
	doses, err := h.scheduler.DueDoses(med, now, now.Add(time.Duration(hours)*time.Hour), now)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(doses))
}

func (h *Handler) CheckInteractions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid medication ID"))
		return
	}

	conflicts, err := h.service.CheckInteractions(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(conflicts))
}
