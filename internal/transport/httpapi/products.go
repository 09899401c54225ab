package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.products.List(c.Request.Context())
	if err != nil {
		h.abortWithError(c, "list_products", err)
		return
	}
	c.JSON(http.StatusOK, toProductResponses(products))
}

func (h *Handler) searchProducts(c *gin.Context) {
	products, err := h.products.Search(c.Request.Context(), c.Query("name"), c.Query("category"))
	if err != nil {
		h.abortWithError(c, "search_products", err)
		return
	}
	c.JSON(http.StatusOK, toProductResponses(products))
}

func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.products.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.abortWithError(c, "get_product", err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

func (h *Handler) createProduct(c *gin.Context) {
	req, ok := h.bindProduct(c)
	if !ok {
		return
	}
	product, err := h.products.Create(c.Request.Context(), req.toInput())
	if err != nil {
		h.abortWithError(c, "create_product", err)
		return
	}
	c.JSON(http.StatusCreated, toProductResponse(product))
}

func (h *Handler) updateProduct(c *gin.Context) {
	req, ok := h.bindProduct(c)
	if !ok {
		return
	}
	product, err := h.products.Update(c.Request.Context(), c.Param("id"), req.toInput())
	if err != nil {
		h.abortWithError(c, "update_product", err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

func (h *Handler) deleteProduct(c *gin.Context) {
	if err := h.products.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.abortWithError(c, "delete_product", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) bindProduct(c *gin.Context) (productRequest, bool) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortWithStatus(c, http.StatusBadRequest, "malformed request body", nil)
		return req, false
	}
	if fields := req.validate(); len(fields) > 0 {
		h.abortValidation(c, fields)
		return req, false
	}
	return req, true
}
