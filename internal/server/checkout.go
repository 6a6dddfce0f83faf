package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/lanes/internal/payment/domain"
	"github.com/smallbiznis/lanes/internal/pricing"
)

type checkoutItemRequest struct {
	Identifier string `json:"identifier"`
	Quantity   int    `json:"quantity"`
}

type startCheckoutRequest struct {
	Purchases []string              `json:"purchases"`
	Items     []checkoutItemRequest `json:"items"`
}

func (s *Server) StartCheckout(c *gin.Context) {
	var req startCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items := make([]pricing.ItemQuantity, 0, len(req.Items))
	for _, item := range req.Items {
		quantity := item.Quantity
		if quantity == 0 {
			quantity = 1
		}
		items = append(items, pricing.ItemQuantity{
			Identifier: strings.TrimSpace(item.Identifier),
			Quantity:   quantity,
		})
	}

	result, err := s.paymentSvc.StartCheckout(c.Request.Context(), c.Param("bowler"), paymentdomain.CheckoutRequest{
		PurchaseIdentifiers: req.Purchases,
		Items:               items,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": gin.H{
		"session": result.Session,
		"url":     result.URL,
		"total":   result.Total,
	}})
}
