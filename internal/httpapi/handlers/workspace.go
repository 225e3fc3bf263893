package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/notes-ai-platform/internal/common"
	"github.com/suPer8Hu/notes-ai-platform/internal/logger"
	"github.com/suPer8Hu/notes-ai-platform/internal/workspace"
)

func (h *Handler) CreateItem(c *gin.Context) {
	uid, ok := mustUserID(c)
	if !ok {
		return
	}
	var req workspace.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	it, err := h.Workspace.Create(c.Request.Context(), uid, c.Param("entity_type"), req)
	if err != nil {
		writeWorkspaceError(c, err)
		return
	}
	common.Created(c, it)
}

func (h *Handler) ListItems(c *gin.Context) {
	uid, ok := mustUserID(c)
	if !ok {
		return
	}
	items, err := h.Workspace.List(c.Request.Context(), uid, c.Param("entity_type"))
	if err != nil {
		writeWorkspaceError(c, err)
		return
	}
	common.OK(c, gin.H{"items": items})
}

func (h *Handler) GetItem(c *gin.Context) {
	uid, ok := mustUserID(c)
	if !ok {
		return
	}
	it, err := h.Workspace.Get(c.Request.Context(), uid, c.Param("entity_type"), c.Param("id"))
	if err != nil {
		writeWorkspaceError(c, err)
		return
	}
	common.OK(c, it)
}

func (h *Handler) UpdateItem(c *gin.Context) {
	uid, ok := mustUserID(c)
	if !ok {
		return
	}
	var req workspace.UpdateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	it, err := h.Workspace.Update(c.Request.Context(), uid, c.Param("entity_type"), c.Param("id"), req)
	if err != nil {
		writeWorkspaceError(c, err)
		return
	}
	common.OK(c, it)
}

type moveItemReq struct {
	ParentID *string `json:"parent_id"`
}

func (h *Handler) MoveItem(c *gin.Context) {
	uid, ok := mustUserID(c)
	if !ok {
		return
	}
	var req moveItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	it, err := h.Workspace.Move(c.Request.Context(), uid, c.Param("entity_type"), c.Param("id"), req.ParentID)
	if err != nil {
		writeWorkspaceError(c, err)
		return
	}
	common.OK(c, it)
}

func (h *Handler) DeleteItem(c *gin.Context) {
	uid, ok := mustUserID(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := h.Workspace.Delete(c.Request.Context(), uid, c.Param("entity_type"), id); err != nil {
		writeWorkspaceError(c, err)
		return
	}
	common.OK(c, gin.H{"id": id, "deleted": true})
}

func writeWorkspaceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, workspace.ErrInvalidEntityType):
		common.Fail(c, http.StatusBadRequest, 40002, "unknown entity type")
	case errors.Is(err, workspace.ErrInvalidInput):
		common.Fail(c, http.StatusBadRequest, 40003, err.Error())
	case errors.Is(err, workspace.ErrItemNotFound):
		common.Fail(c, http.StatusNotFound, 40005, "item not found")
	default:
		logger.FromContext(c.Request.Context()).Error("workspace request failed", "err", err)
		common.Fail(c, http.StatusInternalServerError, 50003, "internal error")
	}
}
