package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest"

	"perpcore/internal/svc"
)

func RegisterHandlers(server *rest.Server, serverCtx *svc.ServiceContext) {
	server.AddRoutes(Routes(serverCtx), rest.WithPrefix("/api"))
	if serverCtx.Config.Metrics.Enabled {
		server.AddRoute(rest.Route{
			Method:  http.MethodGet,
			Path:    serverCtx.Config.Metrics.Path,
			Handler: MetricsHandler(serverCtx),
		})
	}
}

// Routes lists the command surface without a prefix.
func Routes(serverCtx *svc.ServiceContext) []rest.Route {
	return []rest.Route{
		{Method: http.MethodPost, Path: "/proposals", Handler: ProposeHandler(serverCtx)},
		{Method: http.MethodPost, Path: "/proposals/:id/approve", Handler: ApproveProposalHandler(serverCtx)},
		{Method: http.MethodPost, Path: "/proposals/:id/modify", Handler: ModifyProposalHandler(serverCtx)},
		{Method: http.MethodPost, Path: "/proposals/:id/reject", Handler: RejectProposalHandler(serverCtx)},
		{Method: http.MethodGet, Path: "/positions", Handler: PositionsHandler(serverCtx)},
		{Method: http.MethodPost, Path: "/positions/:id/close", Handler: ClosePositionHandler(serverCtx)},
		{Method: http.MethodPost, Path: "/positions/:id/stop", Handler: MoveStopHandler(serverCtx)},
		{Method: http.MethodPost, Path: "/scan", Handler: ScanHandler(serverCtx)},
		{Method: http.MethodPost, Path: "/strategies/:name/pause", Handler: PauseStrategyHandler(serverCtx)},
		{Method: http.MethodPost, Path: "/strategies/:name/resume", Handler: ResumeStrategyHandler(serverCtx)},
		{Method: http.MethodPost, Path: "/resume", Handler: ResumeAllHandler(serverCtx)},
		{Method: http.MethodPost, Path: "/flatten", Handler: FlattenHandler(serverCtx)},
	}
}
