package handler

import (
	"errors"
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest/httpx"

	"perpcore/internal/types"
	"perpcore/pkg/lifecycle"
)

type badRequestError struct{ err error }

func (e badRequestError) Error() string { return e.err.Error() }
func (e badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error { return badRequestError{err: err} }

func statusOf(err error) int {
	var br badRequestError
	switch {
	case errors.As(err, &br), errors.Is(err, lifecycle.ErrInvalidProposal), errors.Is(err, lifecycle.ErrInvalidStop):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrProposalNotFound), errors.Is(err, lifecycle.ErrUnknownStrategy),
		errors.Is(err, lifecycle.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrNotPending), errors.Is(err, lifecycle.ErrDenied),
		errors.Is(err, lifecycle.ErrStalePosition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		logx.WithContext(r.Context()).Errorf("handler: %s %s: %v", r.Method, r.URL.Path, err)
	}
	httpx.WriteJsonCtx(r.Context(), w, code, types.ErrorResp{Code: code, Message: err.Error()})
}
