package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"perpcore/internal/logic"
	"perpcore/internal/svc"
	"perpcore/internal/types"
)

func PositionsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := logic.NewDeskLogic(r.Context(), svcCtx)
		resp, err := l.Positions()
		if err != nil {
			writeError(w, r, err)
		} else {
			httpx.OkJsonCtx(r.Context(), w, resp)
		}
	}
}

func ClosePositionHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ClosePositionReq
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, badRequest(err))
			return
		}

		l := logic.NewDeskLogic(r.Context(), svcCtx)
		resp, err := l.ClosePosition(&req)
		if err != nil {
			writeError(w, r, err)
		} else {
			httpx.OkJsonCtx(r.Context(), w, resp)
		}
	}
}

func MoveStopHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.MoveStopReq
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, badRequest(err))
			return
		}

		l := logic.NewDeskLogic(r.Context(), svcCtx)
		resp, err := l.MoveStop(&req)
		if err != nil {
			writeError(w, r, err)
		} else {
			httpx.OkJsonCtx(r.Context(), w, resp)
		}
	}
}

func ScanHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ScanReq
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, badRequest(err))
			return
		}

		l := logic.NewDeskLogic(r.Context(), svcCtx)
		resp, err := l.Scan(&req)
		if err != nil {
			writeError(w, r, err)
		} else {
			httpx.OkJsonCtx(r.Context(), w, resp)
		}
	}
}

func PauseStrategyHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.StrategyPath
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, badRequest(err))
			return
		}

		l := logic.NewDeskLogic(r.Context(), svcCtx)
		resp, err := l.Pause(&req)
		if err != nil {
			writeError(w, r, err)
		} else {
			httpx.OkJsonCtx(r.Context(), w, resp)
		}
	}
}

func ResumeStrategyHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.StrategyPath
		if err := httpx.ParsePath(r, &req); err != nil {
			writeError(w, r, badRequest(err))
			return
		}

		l := logic.NewDeskLogic(r.Context(), svcCtx)
		resp, err := l.Resume(req.Name)
		if err != nil {
			writeError(w, r, err)
		} else {
			httpx.OkJsonCtx(r.Context(), w, resp)
		}
	}
}

func ResumeAllHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := logic.NewDeskLogic(r.Context(), svcCtx)
		resp, err := l.Resume("")
		if err != nil {
			writeError(w, r, err)
		} else {
			httpx.OkJsonCtx(r.Context(), w, resp)
		}
	}
}

func FlattenHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.FlattenReq
		if err := httpx.Parse(r, &req); err != nil {
			writeError(w, r, badRequest(err))
			return
		}

		l := logic.NewDeskLogic(r.Context(), svcCtx)
		resp, err := l.Flatten(&req)
		if err != nil {
			writeError(w, r, err)
		} else {
			httpx.OkJsonCtx(r.Context(), w, resp)
		}
	}
}

func MetricsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	h := svcCtx.Metrics.Handler()
	return h.ServeHTTP
}
