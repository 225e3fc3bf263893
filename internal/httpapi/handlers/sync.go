package handlers

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/notes-ai-platform/internal/common"
	"github.com/suPer8Hu/notes-ai-platform/internal/logger"
	"github.com/suPer8Hu/notes-ai-platform/internal/syncqueue"
)

func entityTypeParam(c *gin.Context) string {
	return strings.ToLower(strings.TrimSpace(c.Param("entity_type")))
}

// GetFamily serves the authoritative snapshot the sync worker fetches.
func (h *Handler) GetFamily(c *gin.Context) {
	uid, ok := mustUserID(c)
	if !ok {
		return
	}
	fam := syncqueue.Family{OwnerID: uid, EntityType: entityTypeParam(c)}

	items, err := h.Fetchers.Fetch(c.Request.Context(), fam)
	if err != nil {
		if errors.Is(err, syncqueue.ErrUnknownEntityType) {
			common.Fail(c, http.StatusBadRequest, 40002, "unknown entity type")
			return
		}
		logger.FromContext(c.Request.Context()).Error("family fetch failed", "family", fam.String(), "err", err)
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to load family")
		return
	}
	common.OK(c, gin.H{"family": fam, "items": items})
}

// GetCachedFamily reads the local cache without touching the database.
func (h *Handler) GetCachedFamily(c *gin.Context) {
	uid, ok := mustUserID(c)
	if !ok {
		return
	}
	fam := syncqueue.Family{OwnerID: uid, EntityType: entityTypeParam(c)}

	items, err := h.Cache.Current(c.Request.Context(), fam)
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("cache read failed", "family", fam.String(), "err", err)
		common.Fail(c, http.StatusInternalServerError, 50005, "failed to read cache")
		return
	}
	resp := gin.H{"family": fam, "items": items}
	if h.Queue != nil {
		if res, ok := h.Queue.Result(fam); ok {
			resp["last_result"] = res
		}
	}
	common.OK(c, resp)
}

// allFamilies as entity_type re-syncs every registered family of the caller.
const allFamilies = "*"

type triggerSyncReq struct {
	EntityType string `json:"entity_type" binding:"required"`
	// Operation defaults to UPDATE.
	Operation string `json:"operation"`
	EntityID  string `json:"entity_id"`
	DelayMs   int64  `json:"delay_ms"`
}

type queuedSync struct {
	ID     string           `json:"id,omitempty"`
	Family syncqueue.Family `json:"family"`
}

func (h *Handler) TriggerSync(c *gin.Context) {
	uid, ok := mustUserID(c)
	if !ok {
		return
	}
	var req triggerSyncReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Operation) == "" {
		req.Operation = string(syncqueue.OpUpdate)
	}
	op, err := syncqueue.ParseOperation(req.Operation)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 40006, err.Error())
		return
	}

	entityType := strings.ToLower(strings.TrimSpace(req.EntityType))
	var types []string
	switch {
	case entityType == allFamilies:
		types = h.Fetchers.EntityTypes()
	case h.Fetchers.Has(entityType):
		types = []string{entityType}
	default:
		common.Fail(c, http.StatusBadRequest, 40002, "unknown entity type")
		return
	}
	if req.DelayMs < 0 {
		req.DelayMs = 0
	}

	queued := make([]queuedSync, 0, len(types))
	for _, et := range types {
		e := syncqueue.Entry{
			EntityType: et,
			Operation:  op,
			EntityID:   req.EntityID,
			OwnerID:    uid,
			Delay:      time.Duration(req.DelayMs) * time.Millisecond,
		}
		qs := queuedSync{Family: e.Family()}
		if h.Queue != nil {
			qs.ID, err = h.Queue.Enqueue(e)
		} else {
			err = h.Notifier.Notify(c.Request.Context(), e)
		}
		if err != nil {
			logger.FromContext(c.Request.Context()).Error("sync trigger failed", "family", e.Family().String(), "err", err)
			common.Fail(c, http.StatusServiceUnavailable, 50302, "sync queue unavailable")
			return
		}
		queued = append(queued, qs)
	}

	common.Write(c, http.StatusAccepted, gin.H{
		"operation": op,
		"priority":  op.Priority(),
		"queued":    queued,
	})
}

func (h *Handler) SyncStatus(c *gin.Context) {
	if h.Queue == nil {
		common.Fail(c, http.StatusNotFound, 40007, "sync queue not running in this process")
		return
	}

	results := make([]syncqueue.Result, 0)
	for _, r := range h.Queue.Results() {
		results = append(results, r)
	}
	slices.SortFunc(results, func(a, b syncqueue.Result) int {
		return strings.Compare(a.Family.String(), b.Family.String())
	})
	common.OK(c, gin.H{"status": h.Queue.Status(), "results": results})
}
