package logic

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/internal/svc"
	"perpcore/internal/types"
	"perpcore/pkg/advisory"
	"perpcore/pkg/lifecycle"
)

type ProposalLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewProposalLogic(ctx context.Context, svcCtx *svc.ServiceContext) *ProposalLogic {
	return &ProposalLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *ProposalLogic) Propose(req *types.ProposeReq) (*lifecycle.TradeProposal, error) {
	trade := advisory.ProposeTrade{
		Symbol:     req.Symbol,
		Side:       advisory.Side(req.Side),
		Entry:      req.Entry,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		SizePct:    req.SizePct,
		Leverage:   req.Leverage,
		Confidence: req.Confidence,
		Rationale:  req.Rationale,
	}
	p, err := l.svcCtx.Desk.Propose(l.ctx, req.Strategy, trade)
	if err != nil {
		return nil, err
	}
	l.Infof("manual proposal %s for %s %s via %s", p.ID, trade.Side, trade.Symbol, req.Strategy)
	return &p, nil
}

func (l *ProposalLogic) Approve(req *types.ProposalPath) (*lifecycle.TradeProposal, error) {
	p, err := l.svcCtx.Desk.Approve(l.ctx, req.Id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (l *ProposalLogic) Modify(req *types.ModifyProposalReq) (*lifecycle.TradeProposal, error) {
	p, err := l.svcCtx.Desk.Modify(l.ctx, req.Id, changesFrom(req))
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (l *ProposalLogic) Reject(req *types.RejectProposalReq) (*lifecycle.TradeProposal, error) {
	p, err := l.svcCtx.Desk.Reject(l.ctx, req.Id, req.Reason)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// changesFrom treats zero fields as unchanged.
func changesFrom(req *types.ModifyProposalReq) lifecycle.Changes {
	var c lifecycle.Changes
	if req.Entry > 0 {
		c.Entry = &req.Entry
	}
	if req.StopLoss > 0 {
		c.StopLoss = &req.StopLoss
	}
	if req.TakeProfit > 0 {
		c.TakeProfit = &req.TakeProfit
	}
	if req.SizePct > 0 {
		c.SizePct = &req.SizePct
	}
	if req.Leverage > 0 {
		c.Leverage = &req.Leverage
	}
	return c
}
