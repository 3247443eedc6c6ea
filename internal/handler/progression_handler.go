package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/college-erp-api/internal/models"
	"github.com/noah-isme/college-erp-api/internal/service"
	appErrors "github.com/noah-isme/college-erp-api/pkg/errors"
	"github.com/noah-isme/college-erp-api/pkg/response"
)

// ProgressionHandler exposes semester assignment and progression endpoints.
type ProgressionHandler struct {
	progression *service.ProgressionService
}

// NewProgressionHandler constructs ProgressionHandler.
func NewProgressionHandler(progression *service.ProgressionService) *ProgressionHandler {
	return &ProgressionHandler{progression: progression}
}

// ListByStudent godoc
// @Summary List a student's semester records
// @Tags Progression
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/semesters [get]
func (h *ProgressionHandler) ListByStudent(c *gin.Context) {
	rows, err := h.progression.ListByStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// ListBySemester godoc
// @Summary List a semester's roster
// @Tags Progression
// @Produce json
// @Param id path string true "Semester ID"
// @Param status query string false "Filter by status"
// @Success 200 {object} response.Envelope
// @Router /semesters/{id}/students [get]
func (h *ProgressionHandler) ListBySemester(c *gin.Context) {
	status := models.StudentSemesterStatus(strings.ToUpper(c.Query("status")))
	rows, err := h.progression.ListBySemester(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// Assign godoc
// @Summary Assign a student to a semester
// @Tags Progression
// @Accept json
// @Produce json
// @Param payload body service.AssignSemesterRequest true "Assignment payload"
// @Success 201 {object} response.Envelope
// @Router /student-semesters [post]
func (h *ProgressionHandler) Assign(c *gin.Context) {
	var req service.AssignSemesterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	row, err := h.progression.Assign(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, row)
}

// SetStatus godoc
// @Summary Update a student's semester status
// @Tags Progression
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param semesterId path string true "Semester ID"
// @Param payload body service.SetStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/semesters/{semesterId}/status [put]
func (h *ProgressionHandler) SetStatus(c *gin.Context) {
	var req service.SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.Status = models.StudentSemesterStatus(strings.ToUpper(string(req.Status)))
	row, err := h.progression.SetStatus(c.Request.Context(), c.Param("id"), c.Param("semesterId"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, row, nil)
}

// BulkSetStatus godoc
// @Summary Update many students' status in a semester
// @Tags Progression
// @Accept json
// @Produce json
// @Param id path string true "Semester ID"
// @Param payload body service.BulkSetStatusRequest true "Bulk status payload"
// @Success 200 {object} response.Envelope
// @Router /semesters/{id}/students/status [put]
func (h *ProgressionHandler) BulkSetStatus(c *gin.Context) {
	var req service.BulkSetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.Status = models.StudentSemesterStatus(strings.ToUpper(string(req.Status)))
	result, err := h.progression.BulkSetStatus(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// AutoAssign godoc
// @Summary Auto-assign eligible students to a semester
// @Tags Progression
// @Accept json
// @Produce json
// @Param id path string true "Semester ID"
// @Param payload body service.AutoAssignRequest false "Candidate filters"
// @Success 200 {object} response.Envelope
// @Router /semesters/{id}/auto-assign [post]
func (h *ProgressionHandler) AutoAssign(c *gin.Context) {
	var req service.AutoAssignRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	result, err := h.progression.AutoAssign(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Promote godoc
// @Summary Promote a semester's completed students to the next semester
// @Tags Progression
// @Produce json
// @Param id path string true "Semester ID"
// @Success 200 {object} response.Envelope
// @Router /semesters/{id}/promote [post]
func (h *ProgressionHandler) Promote(c *gin.Context) {
	result, err := h.progression.Promote(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
