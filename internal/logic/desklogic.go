package logic

import (
	"context"
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/internal/svc"
	"perpcore/internal/types"
	"perpcore/pkg/lifecycle"
)

type DeskLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewDeskLogic(ctx context.Context, svcCtx *svc.ServiceContext) *DeskLogic {
	return &DeskLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *DeskLogic) Positions() (*lifecycle.Summary, error) {
	summary := l.svcCtx.Desk.PositionSummary()
	return &summary, nil
}

func (l *DeskLogic) Scan(req *types.ScanReq) (*lifecycle.ScanResult, error) {
	if strings.TrimSpace(req.Symbol) == "" {
		return nil, fmt.Errorf("%w: symbol is required", lifecycle.ErrInvalidProposal)
	}
	res, err := l.svcCtx.Desk.ManualScan(l.ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (l *DeskLogic) Pause(req *types.StrategyPath) (*types.AckResp, error) {
	if _, ok := l.svcCtx.Desk.Strategy(req.Name); !ok {
		return nil, fmt.Errorf("%w: %s", lifecycle.ErrUnknownStrategy, req.Name)
	}
	reason := req.Reason
	if reason == "" {
		reason = "paused by operator"
	}
	l.svcCtx.Desk.Pause(l.ctx, req.Name, reason)
	return &types.AckResp{Ok: true, Message: reason}, nil
}

// Resume resumes one strategy; an empty name also clears the global stop.
func (l *DeskLogic) Resume(name string) (*types.AckResp, error) {
	if err := l.svcCtx.Desk.Resume(l.ctx, name); err != nil {
		return nil, err
	}
	l.Infof("resumed %q", name)
	return &types.AckResp{Ok: true}, nil
}

func (l *DeskLogic) ClosePosition(req *types.ClosePositionReq) (*types.AckResp, error) {
	if err := l.svcCtx.Desk.ClosePosition(l.ctx, req.Id, req.Reason); err != nil {
		return nil, err
	}
	l.Infof("closed position %s: %s", req.Id, req.Reason)
	return &types.AckResp{Ok: true, Message: req.Reason}, nil
}

func (l *DeskLogic) MoveStop(req *types.MoveStopReq) (*types.AckResp, error) {
	if err := l.svcCtx.Desk.MoveStop(l.ctx, req.Id, req.Stop); err != nil {
		return nil, err
	}
	return &types.AckResp{Ok: true, Message: fmt.Sprintf("stop %.4f", req.Stop)}, nil
}

func (l *DeskLogic) Flatten(req *types.FlattenReq) (*types.AckResp, error) {
	l.Infof("flatten requested: %s", req.Reason)
	if err := l.svcCtx.Desk.Flatten(l.ctx, req.Reason); err != nil {
		return nil, err
	}
	return &types.AckResp{Ok: true, Message: req.Reason}, nil
}
