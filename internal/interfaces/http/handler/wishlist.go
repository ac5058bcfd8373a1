package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/storefront/cartsync/internal/application/account"
	"github.com/storefront/cartsync/internal/domain/wishlist"
	"github.com/storefront/cartsync/internal/interfaces/http/dto"
)

// WishlistHandler serves the account wishlist
type WishlistHandler struct {
	BaseHandler
	accounts *account.Service
}

// NewWishlistHandler creates a wishlist handler
func NewWishlistHandler(accounts *account.Service) *WishlistHandler {
	return &WishlistHandler{accounts: accounts}
}

// RegisterRoutes mounts /wishlist
func (h *WishlistHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/wishlist", h.Get)
	rg.POST("/wishlist", h.Add)
}

// Get godoc
// @Summary      Account wishlist
// @Tags         wishlist
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} dto.Response{data=dto.WishlistResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /wishlist [get]
func (h *WishlistHandler) Get(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}
	h.Success(c, dto.WishlistResponse{Items: h.accounts.Wishlist(userID)})
}

// Add godoc
// @Summary      Save a product to the wishlist
// @Tags         wishlist
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body dto.WishlistItemRequest true "Product"
// @Success      201 {object} dto.Response{data=dto.WishlistResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /wishlist [post]
func (h *WishlistHandler) Add(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}
	var req dto.WishlistItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	items, err := h.accounts.AddToWishlist(userID, wishlist.Item{ProductID: req.ProductID, VariantKey: req.VariantKey})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, dto.WishlistResponse{Items: items})
}
