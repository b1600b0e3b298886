package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Aidin1998/barterex/internal/orderbook"
	"github.com/Aidin1998/barterex/internal/trading"
	apierrors "github.com/Aidin1998/barterex/pkg/errors"
)

func (s *Server) submitTrade(c *gin.Context) {
	var req trading.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.invalidBody(c, err)
		return
	}
	req.World = s.world(req.World)

	res, err := s.exchange.SubmitOrder(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) listOrders(c *gin.Context) {
	item := c.Query("item")
	if item == "" {
		s.writeProblem(c, apierrors.NewValidationError("item is required", ""))
		return
	}
	asks, bids, err := s.exchange.OrdersForItem(c.Request.Context(), s.world(c.Query("world")), c.Query("account"), item)
	if err != nil {
		s.fail(c, err)
		return
	}
	if asks == nil {
		asks = []orderbook.Entry{}
	}
	if bids == nil {
		bids = []orderbook.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"asks": asks, "bids": bids})
}

func (s *Server) getOrder(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		s.writeProblem(c, apierrors.NewValidationError("order id must be a positive integer", ""))
		return
	}
	order, fills, err := s.exchange.Order(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "fills": fills})
}
