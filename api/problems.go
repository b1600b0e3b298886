package api

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Aidin1998/barterex/internal/bookkeeper"
	"github.com/Aidin1998/barterex/internal/store"
	"github.com/Aidin1998/barterex/internal/trading"
	apierrors "github.com/Aidin1998/barterex/pkg/errors"
)

// problemFor maps a domain error onto its HTTP problem.
func problemFor(err error) *apierrors.ProblemDetails {
	var short *bookkeeper.InsufficientFundsError
	if errors.As(err, &short) {
		return apierrors.NewInsufficientFundsError(short.Error(), "", short.Available)
	}

	switch trading.KindOf(err) {
	case trading.KindInvalidOrder:
		if errors.Is(err, trading.ErrInvalidOrder) {
			return apierrors.NewInvalidOrderError(err.Error(), "")
		}
		return apierrors.NewValidationError(err.Error(), "")
	case trading.KindInsufficientFunds:
		return apierrors.NewInsufficientFundsError(err.Error(), "", 0)
	case trading.KindConcurrencyConflict:
		return apierrors.NewConflictError("another request changed the same orders, retry", "")
	case trading.KindStorageFailure:
		return apierrors.NewServiceUnavailableError("storage unavailable, retry", "")
	}

	// bank operations surface store errors untranslated
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apierrors.NewNotFoundError(err.Error(), "")
	case errors.Is(err, store.ErrConflict):
		return apierrors.NewConflictError("another request changed the same balance, retry", "")
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return apierrors.NewServiceUnavailableError("storage unavailable, retry", "")
	}
	return apierrors.NewInternalError("internal error", "")
}

func (s *Server) fail(c *gin.Context, err error) {
	p := problemFor(err)
	if p.Status >= 500 {
		s.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
	}
	s.writeProblem(c, p)
}

func (s *Server) invalidBody(c *gin.Context, err error) {
	p := apierrors.NewValidationError("invalid request body", "")
	if fields := apierrors.FieldErrors(err); fields != nil {
		p.WithValidationErrors(fields)
	} else {
		p.Detail = err.Error()
	}
	s.writeProblem(c, p)
}

func (s *Server) writeProblem(c *gin.Context, p *apierrors.ProblemDetails) {
	apierrors.Write(c, p.WithTraceID(c.GetString(requestIDKey)))
}
