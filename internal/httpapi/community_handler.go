package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"imhub/internal/auth"
	"imhub/internal/membership"
)

// MembershipService is implemented by membership.Service.
type MembershipService interface {
	Join(ctx context.Context, userID, groupID int64) (bool, error)
	Leave(ctx context.Context, userID, groupID int64) (bool, error)
	Groups(ctx context.Context, userID int64) ([]int64, error)
}

type CommunityHandler struct {
	svc MembershipService
}

func NewCommunityHandler(svc MembershipService) *CommunityHandler {
	return &CommunityHandler{svc: svc}
}

func (h *CommunityHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("/:id/join", h.Join)
	rg.DELETE("/:id/join", h.Leave)
}

// Join adds the caller to a community. Connected users start receiving the
// community's messages immediately.
func (h *CommunityHandler) Join(c *gin.Context) {
	h.change(c, h.svc.Join, http.StatusCreated, "joined")
}

// Leave removes the caller from a community.
func (h *CommunityHandler) Leave(c *gin.Context) {
	h.change(c, h.svc.Leave, http.StatusOK, "left")
}

func (h *CommunityHandler) change(
	c *gin.Context,
	op func(ctx context.Context, userID, groupID int64) (bool, error),
	status int,
	verb string,
) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}
	groupID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || groupID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid community id"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	online, err := op(ctx, userID, groupID)
	if err != nil {
		if errors.Is(err, membership.ErrInvalidID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(status, gin.H{
		"message":      verb,
		"community_id": groupID,
		"online":       online,
	})
}

// List returns the caller's communities.
func (h *CommunityHandler) List(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	groups, err := h.svc.Groups(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if groups == nil {
		groups = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"communities": groups})
}
