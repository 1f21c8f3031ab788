package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-rate-engine/internal/domain"
)

// ListJobsResponse wraps a page of recomputation jobs.
type ListJobsResponse struct {
	Jobs       []domain.RecomputationJob `json:"jobs"`
	Pagination Pagination                `json:"pagination"`
}

// ListJobs handles GET /jobs?hotel_id=&status=&page=&page_size=, newest
// first.
func (h *Handlers) ListJobs(c *gin.Context) {
	page, pageSize := clampPagination(c)
	status := domain.JobStatus(strings.ToLower(c.Query("status")))

	items, total, err := h.jobs.ListPage(c.Request.Context(), c.Query("hotel_id"), status, page, pageSize)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, ListJobsResponse{Jobs: items, Pagination: newPagination(page, pageSize, total)})
}

// GetJob handles GET /jobs/{id}.
func (h *Handlers) GetJob(c *gin.Context) {
	id, valid := jobID(c)
	if !valid {
		return
	}
	j, err := h.jobs.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, j)
}

// RequeueJob handles POST /jobs/{id}/requeue. Only dead-lettered jobs can be
// requeued; anything else is a 409.
func (h *Handlers) RequeueJob(c *gin.Context) {
	id, valid := jobID(c)
	if !valid {
		return
	}
	j, err := h.jobs.Requeue(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, j)
}

func jobID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "job id must be a UUID")
		return "", false
	}
	return id, true
}
