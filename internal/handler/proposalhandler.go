package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"perpcore/internal/logic"
	"perpcore/internal/svc"
	"perpcore/internal/types"
)

func ProposeHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ProposeReq
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, badRequest(err))
			return
		}

		l := logic.NewProposalLogic(r.Context(), svcCtx)
		resp, err := l.Propose(&req)
		if err != nil {
			writeError(w, r, err)
		} else {
			httpx.OkJsonCtx(r.Context(), w, resp)
		}
	}
}

func ApproveProposalHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ProposalPath
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, badRequest(err))
			return
		}

		l := logic.NewProposalLogic(r.Context(), svcCtx)
		resp, err := l.Approve(&req)
		if err != nil {
			writeError(w, r, err)
		} else {
			httpx.OkJsonCtx(r.Context(), w, resp)
		}
	}
}

func ModifyProposalHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ModifyProposalReq
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, badRequest(err))
			return
		}

		l := logic.NewProposalLogic(r.Context(), svcCtx)
		resp, err := l.Modify(&req)
		if err != nil {
			writeError(w, r, err)
		} else {
			httpx.OkJsonCtx(r.Context(), w, resp)
		}
	}
}

func RejectProposalHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.RejectProposalReq
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, badRequest(err))
			return
		}

		l := logic.NewProposalLogic(r.Context(), svcCtx)
		resp, err := l.Reject(&req)
		if err != nil {
			writeError(w, r, err)
		} else {
			httpx.OkJsonCtx(r.Context(), w, resp)
		}
	}
}
