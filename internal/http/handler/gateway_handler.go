package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/credential"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/domain"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/license"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/repository"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/service"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/taxonomy"
)

// GatewayHandler exposes the decision, license, credential, and sync
// endpoints.
type GatewayHandler struct {
	Access      *service.AccessService
	System      *service.SystemService
	Licenses    *license.Validator
	Credentials *credential.Cache
	Sync        *taxonomy.Synchronizer
	Visitors    *service.VisitorService
	Snapshots   repository.SnapshotStore
	Logger      *zap.Logger
}

// NewGatewayHandler creates the handler set.
func NewGatewayHandler(
	accessSvc *service.AccessService,
	system *service.SystemService,
	licenses *license.Validator,
	credentials *credential.Cache,
	sync *taxonomy.Synchronizer,
	visitors *service.VisitorService,
	snapshots repository.SnapshotStore,
	logger *zap.Logger,
) *GatewayHandler {
	return &GatewayHandler{
		Access:      accessSvc,
		System:      system,
		Licenses:    licenses,
		Credentials: credentials,
		Sync:        sync,
		Visitors:    visitors,
		Snapshots:   snapshots,
		Logger:      logger,
	}
}

type decideRequest struct {
	ContentID int64  `json:"content_id" binding:"required"`
	VisitorID *int64 `json:"visitor_id"`
}

// Decide answers whether a visitor may view a content item. While the
// gateway is disabled every item gets 503, never a per-item allow or deny.
func (h *GatewayHandler) Decide(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()})
		return
	}

	decision, err := h.Access.Decide(c.Request.Context(), req.ContentID, req.VisitorID)
	if err != nil {
		if errors.Is(err, domain.ErrSystemDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":             "service_unavailable",
				"error_description": "Membership gateway is disabled.",
			})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

type restrictionResponse struct {
	ContentID    int64   `json:"content_id"`
	LevelIDs     []int64 `json:"level_ids"`
	GroupIDs     []int64 `json:"group_ids"`
	IsRestricted bool    `json:"is_restricted"`
}

func toRestrictionResponse(r domain.ContentRestriction) restrictionResponse {
	return restrictionResponse{
		ContentID:    r.ContentID,
		LevelIDs:     r.LevelIDs.Slice(),
		GroupIDs:     r.GroupIDs.Slice(),
		IsRestricted: r.IsRestricted,
	}
}

// GetRestriction returns the restriction record for a content item.
func (h *GatewayHandler) GetRestriction(c *gin.Context) {
	contentID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	restriction, err := h.Access.GetRestriction(c.Request.Context(), contentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toRestrictionResponse(restriction))
}

type restrictionRequest struct {
	LevelIDs []int64 `json:"level_ids"`
	GroupIDs []int64 `json:"group_ids"`
}

// PutRestriction stores a content owner's restriction edit.
func (h *GatewayHandler) PutRestriction(c *gin.Context) {
	contentID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req restrictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()})
		return
	}
	restriction, err := h.Access.SaveRestriction(c.Request.Context(), contentID, req.LevelIDs, req.GroupIDs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toRestrictionResponse(restriction))
}

// DeleteRestriction removes restriction metadata alongside a deleted item.
func (h *GatewayHandler) DeleteRestriction(c *gin.Context) {
	contentID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if err := h.Access.DeleteRestriction(c.Request.Context(), contentID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type licenseRequest struct {
	Key string `json:"key"`
}

// SubmitLicense validates a key for an add-on slug.
func (h *GatewayHandler) SubmitLicense(c *gin.Context) {
	slug := c.Param("slug")
	var req licenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()})
		return
	}

	// force=true bypasses the unchanged-valid-key short circuit so an
	// operator can demand a fresh remote check.
	force := c.Query("force") == "true"

	ctx := c.Request.Context()
	record, err := h.Licenses.Validate(ctx, slug, req.Key, force)
	if err != nil {
		if domain.IsKind(err, domain.KindValidation) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":             "invalid_key",
				"error_description": err.Error(),
				"status":            record.Status,
			})
			return
		}
		h.System.Observe(ctx, err)
		h.fail(c, err)
		return
	}
	h.System.ObserveSuccess(ctx)
	c.JSON(http.StatusOK, record)
}

// GetLicense returns the stored license state for a slug.
func (h *GatewayHandler) GetLicense(c *gin.Context) {
	record, err := h.Licenses.Status(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// Authorize performs the initial client-credentials exchange. A change of
// the delegated account demotes every stored license.
func (h *GatewayHandler) Authorize(c *gin.Context) {
	ctx := c.Request.Context()

	previousID, err := h.Credentials.AccountID(ctx)
	if err != nil && !errors.Is(err, domain.ErrNoCredential) {
		h.fail(c, err)
		return
	}

	cred, err := h.Credentials.Authorize(ctx)
	if err != nil {
		h.System.Observe(ctx, err)
		h.fail(c, err)
		return
	}
	h.System.ObserveSuccess(ctx)

	if previousID != 0 && previousID != cred.AccountID {
		if err := h.Licenses.MarkAuthChanged(ctx); err != nil {
			h.fail(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"account_id": cred.AccountID, "expires_at": cred.ExpiresAt})
}

// DeleteCredential wipes the stored credential wholesale.
func (h *GatewayHandler) DeleteCredential(c *gin.Context) {
	if err := h.Credentials.Clear(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RunSync triggers a reconcile cycle outside the schedule.
func (h *GatewayHandler) RunSync(c *gin.Context) {
	ctx := c.Request.Context()
	err := h.Sync.Reconcile(ctx)
	switch {
	case err == nil:
		h.System.ObserveSuccess(ctx)
		c.JSON(http.StatusOK, gin.H{"status": "completed"})
	case errors.Is(err, domain.ErrSyncRunning):
		c.JSON(http.StatusConflict, gin.H{
			"error":             "sync_running",
			"error_description": "A reconcile cycle is already in flight.",
		})
	default:
		// Only credential-path failures disable the gateway; a taxonomy
		// pull outage aborts the cycle with the last snapshot still serving.
		if !taxonomy.IsFetchError(err) {
			h.System.Observe(ctx, err)
		}
		h.fail(c, err)
	}
}

// RefreshVisitor re-pulls one contact from Wild Apricot; the content host
// calls this when the visitor signs in.
func (h *GatewayHandler) RefreshVisitor(c *gin.Context) {
	visitorID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	snapshot, err := h.Visitors.Refresh(ctx, visitorID)
	if err != nil {
		h.System.Observe(ctx, err)
		h.fail(c, err)
		return
	}
	h.System.ObserveSuccess(ctx)
	c.JSON(http.StatusOK, gin.H{
		"visitor_id": snapshot.ID,
		"level_id":   snapshot.LevelID,
		"group_ids":  snapshot.GroupIDs.Slice(),
		"status":     snapshot.Status,
		"roles":      snapshot.Roles,
	})
}

// RefreshMembers walks the whole roster.
func (h *GatewayHandler) RefreshMembers(c *gin.Context) {
	ctx := c.Request.Context()
	saved, err := h.Visitors.RefreshAll(ctx)
	if err != nil {
		h.System.Observe(ctx, err)
		h.fail(c, err)
		return
	}
	h.System.ObserveSuccess(ctx)
	c.JSON(http.StatusOK, gin.H{"refreshed": saved})
}

// Status reports the gateway's operational state.
func (h *GatewayHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	disabled, reason := h.System.Disabled(ctx)

	core, err := h.Licenses.Status(ctx, license.CoreSlug)
	if err != nil {
		h.fail(c, err)
		return
	}
	snapshot, err := h.Snapshots.Get(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"disabled":        disabled,
		"disabled_reason": reason,
		"authorized":      h.Credentials.Authorized(ctx),
		"license_status":  core.Status,
		"levels":          len(snapshot.Levels),
		"groups":          len(snapshot.Groups),
	})
}

func (h *GatewayHandler) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

// fail maps typed errors onto HTTP statuses.
func (h *GatewayHandler) fail(c *gin.Context, err error) {
	h.Logger.Error("request failed",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindConnection:
		status = http.StatusBadGateway
	case domain.KindResponse:
		status = http.StatusUnauthorized
	case domain.KindValidation:
		status = http.StatusUnprocessableEntity
	}
	if errors.Is(err, domain.ErrNoCredential) {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": "request_failed", "error_description": err.Error()})
}
