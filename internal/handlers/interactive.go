package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/interactive"
	"github.com/zfogg/vidlayer/internal/util"
)

// CreateElement adds a poll, quiz, hotspot, decision or CTA to a video
// POST /api/v1/videos/:id/elements
func (h *Handlers) CreateElement(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	var in interactive.ElementInput
	if !bindJSON(c, &in) {
		return
	}
	element, err := h.container.Interactive().Create(c.Request.Context(), user, c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"element": element})
}

// ListElements returns the timeline of a video. Quiz answers are hidden
// from everyone but the owner.
// GET /api/v1/videos/:id/elements
func (h *Handlers) ListElements(c *gin.Context) {
	elements, err := h.container.Interactive().ListForVideo(c.Request.Context(), util.OptionalUser(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"elements": elements})
}

// UpdateElement replaces an element's definition
// PUT /api/v1/elements/:id
func (h *Handlers) UpdateElement(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	var in interactive.ElementInput
	if !bindJSON(c, &in) {
		return
	}
	element, err := h.container.Interactive().Update(c.Request.Context(), user, c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"element": element})
}

// DeleteElement removes an element
// DELETE /api/v1/elements/:id
func (h *Handlers) DeleteElement(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	if err := h.container.Interactive().Delete(c.Request.Context(), user, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SubmitResponse records a viewer's answer
// POST /api/v1/elements/:id/responses
func (h *Handlers) SubmitResponse(c *gin.Context) {
	var in interactive.SubmitInput
	if !bindJSON(c, &in) {
		return
	}
	result, err := h.container.Interactive().Submit(c.Request.Context(), util.OptionalUser(c), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// ElementResults returns aggregate results to the video owner
// GET /api/v1/elements/:id/results
func (h *Handlers) ElementResults(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	results, err := h.container.Interactive().Results(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}
