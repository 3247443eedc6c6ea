package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/college-erp-api/internal/service"
	appErrors "github.com/noah-isme/college-erp-api/pkg/errors"
	"github.com/noah-isme/college-erp-api/pkg/response"
)

// SubjectSelectionHandler exposes student subject pick endpoints.
type SubjectSelectionHandler struct {
	selections *service.SubjectSelectionService
}

// NewSubjectSelectionHandler constructs SubjectSelectionHandler.
func NewSubjectSelectionHandler(selections *service.SubjectSelectionService) *SubjectSelectionHandler {
	return &SubjectSelectionHandler{selections: selections}
}

// List godoc
// @Summary List a student's subject picks for a semester
// @Tags SubjectSelection
// @Produce json
// @Param id path string true "Student ID"
// @Param semesterId path string true "Semester ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/semesters/{semesterId}/subjects [get]
func (h *SubjectSelectionHandler) List(c *gin.Context) {
	rows, err := h.selections.List(c.Request.Context(), c.Param("id"), c.Param("semesterId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// Assign godoc
// @Summary Assign a subject to a student
// @Tags SubjectSelection
// @Accept json
// @Produce json
// @Param payload body service.AssignSubjectRequest true "Pick payload"
// @Success 201 {object} response.Envelope
// @Router /student-subjects [post]
func (h *SubjectSelectionHandler) Assign(c *gin.Context) {
	var req service.AssignSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	actor, ok := selectionActor(c)
	if !ok {
		return
	}
	row, err := h.selections.Assign(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, row)
}

// BulkAssign godoc
// @Summary Assign several subjects to a student atomically
// @Tags SubjectSelection
// @Accept json
// @Produce json
// @Param payload body service.BulkAssignSubjectsRequest true "Bulk pick payload"
// @Success 201 {object} response.Envelope
// @Router /student-subjects/bulk [post]
func (h *SubjectSelectionHandler) BulkAssign(c *gin.Context) {
	var req service.BulkAssignSubjectsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	actor, ok := selectionActor(c)
	if !ok {
		return
	}
	rows, err := h.selections.BulkAssign(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rows)
}

// Unassign godoc
// @Summary Remove a subject pick
// @Tags SubjectSelection
// @Produce json
// @Param id path string true "Pick ID"
// @Success 204
// @Router /student-subjects/{id} [delete]
func (h *SubjectSelectionHandler) Unassign(c *gin.Context) {
	actor, ok := selectionActor(c)
	if !ok {
		return
	}
	if err := h.selections.Unassign(c.Request.Context(), c.Param("id"), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func selectionActor(c *gin.Context) (service.Actor, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return service.Actor{}, false
	}
	return service.Actor{UserID: claims.UserID, Role: claims.Role, StudentID: claims.StudentID}, true
}
