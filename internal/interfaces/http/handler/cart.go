package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/storefront/cartsync/internal/application/account"
	"github.com/storefront/cartsync/internal/interfaces/http/dto"
)

// Idempotency headers of POST /cart/merge
const (
	IdempotencyKeyHeader     = "Idempotency-Key"
	IdempotentReplayedHeader = "Idempotent-Replayed"
	maxIdempotencyKeyLength  = 255
)

// CartHandler serves the account cart
type CartHandler struct {
	BaseHandler
	accounts *account.Service
}

// NewCartHandler creates a cart handler
func NewCartHandler(accounts *account.Service) *CartHandler {
	return &CartHandler{accounts: accounts}
}

// RegisterRoutes mounts /cart
func (h *CartHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/cart")
	group.GET("", h.Get)
	group.PUT("", h.Replace)
	group.POST("/merge", h.Merge)
}

// Get godoc
// @Summary      Account cart
// @Tags         cart
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} dto.Response{data=dto.CartResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /cart [get]
func (h *CartHandler) Get(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}
	h.Success(c, dto.CartResponse{Items: h.accounts.Cart(userID)})
}

// Replace godoc
// @Summary      Overwrite the account cart
// @Tags         cart
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body dto.CartItemsRequest true "Cart lines"
// @Success      200 {object} dto.Response{data=dto.CartResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /cart [put]
func (h *CartHandler) Replace(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}
	var req dto.CartItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	items, err := h.accounts.ReplaceCart(userID, req.LineItems())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.CartResponse{Items: items})
}

// Merge godoc
// @Summary      Merge a guest cart into the account cart
// @Description  Union by (productId, variantKey), summing quantities. A repeated
// @Description  Idempotency-Key returns the first response without merging again.
// @Tags         cart
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        Idempotency-Key header string false "Merge operation ID"
// @Param        request body dto.CartItemsRequest true "Guest cart lines"
// @Success      200 {object} dto.Response{data=dto.CartResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      422 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /cart/merge [post]
func (h *CartHandler) Merge(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}
	key := c.GetHeader(IdempotencyKeyHeader)
	if len(key) > maxIdempotencyKeyLength {
		h.BadRequest(c, "Idempotency-Key is too long")
		return
	}
	var req dto.CartItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.accounts.MergeCart(c.Request.Context(), userID, key, req.LineItems())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if result.Replayed {
		c.Header(IdempotentReplayedHeader, "true")
	}
	h.Success(c, dto.CartResponse{Items: result.Items})
}
