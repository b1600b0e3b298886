package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Aidin1998/barterex/internal/bookkeeper"
	apierrors "github.com/Aidin1998/barterex/pkg/errors"
	"github.com/Aidin1998/barterex/pkg/validation"
)

// bankRequest is the body of deposit and withdraw. UUID names the account.
type bankRequest struct {
	UUID   string `json:"uuid" binding:"required,max=64,name"`
	World  string `json:"world" binding:"max=64,name"`
	Item   string `json:"item" binding:"required,max=128,name"`
	Amount int64  `json:"amount" binding:"required,gt=0,lte=2147483647"`
}

func (s *Server) deposit(c *gin.Context) {
	var req bankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.invalidBody(c, err)
		return
	}
	if err := s.bank.Deposit(c.Request.Context(), req.UUID, s.world(req.World), req.Item, req.Amount); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) withdraw(c *gin.Context) {
	var req bankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.invalidBody(c, err)
		return
	}
	err := s.bank.Withdraw(c.Request.Context(), req.UUID, s.world(req.World), req.Item, req.Amount)
	var short *bookkeeper.InsufficientFundsError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.As(err, &short):
		// success and error keep older bank clients working
		p := apierrors.NewInsufficientFundsError("Not enough items", "", short.Available).
			WithExtra("success", false).
			WithExtra("error", "Not enough items")
		s.writeProblem(c, p)
	default:
		s.fail(c, err)
	}
}

// balance answers one "item: amount" line per held item.
func (s *Server) balance(c *gin.Context) {
	account := c.Query("uuid")
	if !validation.CleanName(account) {
		s.writeProblem(c, apierrors.NewValidationError("uuid is required", ""))
		return
	}
	rows, err := s.bank.Balances(c.Request.Context(), account, s.world(c.Query("world")))
	if err != nil {
		s.fail(c, err)
		return
	}
	lines := make([]string, 0, len(rows))
	for _, b := range rows {
		lines = append(lines, fmt.Sprintf("%s: %d", b.Item, b.Quantity))
	}
	c.String(http.StatusOK, strings.Join(lines, "\n"))
}
