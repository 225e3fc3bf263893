package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/notes-ai-platform/internal/chat"
	"github.com/suPer8Hu/notes-ai-platform/internal/common"
	"github.com/suPer8Hu/notes-ai-platform/internal/lock"
	"github.com/suPer8Hu/notes-ai-platform/internal/logger"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	operationIDHeader    = "X-Operation-ID"
	maxIdempotencyKeyLen = 128
	maxBatchBodyBytes    = 4 << 20
)

type createSessionReq struct {
	Name         string `json:"name"`
	HistoryLimit int    `json:"history_limit"`
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	uid, ok := mustUserID(c)
	if !ok {
		return
	}

	var req createSessionReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
			return
		}
	}
	if len(req.Name) > 255 {
		common.Fail(c, http.StatusBadRequest, 40001, "name too long")
		return
	}

	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), uid, strings.TrimSpace(req.Name), req.HistoryLimit)
	if err != nil {
		writeChatError(c, err)
		return
	}
	common.Created(c, sess)
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	uid, ok := mustUserID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	sessions, err := h.ChatSvc.ListSessions(c.Request.Context(), uid, limit)
	if err != nil {
		writeChatError(c, err)
		return
	}
	common.OK(c, gin.H{"sessions": sessions})
}

func (h *Handler) GetChatSession(c *gin.Context) {
	uid, ok := mustUserID(c)
	if !ok {
		return
	}
	sess, err := h.ChatSvc.GetSession(c.Request.Context(), uid, c.Param("session_id"))
	if err != nil {
		writeChatError(c, err)
		return
	}
	common.OK(c, sess)
}

type updateSessionReq struct {
	Name         *string `json:"name"`
	HistoryLimit *int    `json:"history_limit"`
}

func (h *Handler) UpdateChatSession(c *gin.Context) {
	uid, ok := mustUserID(c)
	if !ok {
		return
	}
	var req updateSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sess, err := h.ChatSvc.UpdateSession(c.Request.Context(), uid, c.Param("session_id"), chat.SessionPatch{
		Name:         req.Name,
		HistoryLimit: req.HistoryLimit,
	})
	if err != nil {
		writeChatError(c, err)
		return
	}
	common.OK(c, sess)
}

func (h *Handler) DeleteChatSession(c *gin.Context) {
	uid, ok := mustUserID(c)
	if !ok {
		return
	}
	sid := c.Param("session_id")
	if err := h.ChatSvc.DeleteSession(c.Request.Context(), uid, sid); err != nil {
		writeChatError(c, err)
		return
	}
	common.OK(c, gin.H{"session_id": sid, "deleted": true})
}

// AppendChatBatch is the write path for a round of chat messages. The body is
// validated against the batch schema before anything touches the session.
func (h *Handler) AppendChatBatch(c *gin.Context) {
	uid, ok := mustUserID(c)
	if !ok {
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBatchBodyBytes))
	if err != nil {
		common.Fail(c, http.StatusRequestEntityTooLarge, 41301, "request body too large")
		return
	}

	idemKey := strings.TrimSpace(c.GetHeader(idempotencyKeyHeader))
	if len(idemKey) > maxIdempotencyKeyLen {
		common.FailWithData(c, http.StatusBadRequest, 40001, "invalid batch", gin.H{
			"violations": []chat.Violation{{
				Index: -1, Field: idempotencyKeyHeader, Rule: "maxLength",
				Message: "must be at most 128 characters",
			}},
		})
		return
	}

	req, err := chat.DecodeBatchRequest(raw)
	if err != nil {
		writeChatError(c, err)
		return
	}

	d := chat.Descriptor{
		OperationID:    req.OperationID,
		RelanceIndex:   req.RelanceIndex,
		IdempotencyKey: idemKey,
	}
	if hdr := strings.TrimSpace(c.GetHeader(operationIDHeader)); hdr != "" {
		d.OperationID = hdr
	}

	res, err := h.ChatSvc.AppendBatch(c.Request.Context(), uid, c.Param("session_id"), req.Messages, d)
	if err != nil {
		writeChatError(c, err)
		return
	}

	if res.Applied {
		common.Created(c, res)
		return
	}
	common.OK(c, res)
}

func (h *Handler) GetChatContext(c *gin.Context) {
	uid, ok := mustUserID(c)
	if !ok {
		return
	}
	msgs, err := h.ChatSvc.ContextWindow(c.Request.Context(), uid, c.Param("session_id"))
	if err != nil {
		writeChatError(c, err)
		return
	}
	common.OK(c, gin.H{"messages": msgs})
}

func writeChatError(c *gin.Context, err error) {
	var schemaErr *chat.SchemaError
	var validationErr *chat.ValidationError

	switch {
	case errors.As(err, &schemaErr):
		common.FailWithData(c, http.StatusBadRequest, 40001, "invalid batch", gin.H{"violations": schemaErr.Violations})
	case errors.As(err, &validationErr):
		common.FailWithData(c, http.StatusUnprocessableEntity, 42201, "invalid tool messages", gin.H{"violations": validationErr.Violations})
	case errors.Is(err, chat.ErrSessionNotFound):
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
	case errors.Is(err, chat.ErrForbidden):
		common.Fail(c, http.StatusForbidden, 40301, "forbidden")
	case errors.Is(err, lock.ErrOperationTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		common.Fail(c, http.StatusServiceUnavailable, 50301, "session busy, retry later")
	case errors.Is(err, chat.ErrPersistence):
		logger.FromContext(c.Request.Context()).Error("chat persistence failed", "err", err)
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to save session")
	default:
		logger.FromContext(c.Request.Context()).Error("chat request failed", "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
