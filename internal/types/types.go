package types

type ProposalPath struct {
	Id string `path:"id"`
}

type ModifyProposalReq struct {
	Id         string  `path:"id"`
	Entry      float64 `json:"entry,optional"`
	StopLoss   float64 `json:"stopLoss,optional"`
	TakeProfit float64 `json:"takeProfit,optional"`
	SizePct    float64 `json:"sizePct,optional"`
	Leverage   int     `json:"leverage,optional"`
}

type RejectProposalReq struct {
	Id     string `path:"id"`
	Reason string `json:"reason,optional"`
}

type ProposeReq struct {
	Strategy   string  `json:"strategy"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side,options=long|short"`
	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stopLoss"`
	TakeProfit float64 `json:"takeProfit"`
	SizePct    float64 `json:"sizePct"`
	Leverage   int     `json:"leverage,default=1"`
	Confidence string  `json:"confidence,default=medium,options=low|medium|high"`
	Rationale  string  `json:"rationale,default=manual entry"`
}

type ClosePositionReq struct {
	Id     string `path:"id"`
	Reason string `json:"reason,default=operator close"`
}

type MoveStopReq struct {
	Id   string  `path:"id"`
	Stop float64 `json:"stop"`
}

type ScanReq struct {
	Symbol string `json:"symbol"`
}

type StrategyPath struct {
	Name   string `path:"name"`
	Reason string `json:"reason,optional"`
}

type FlattenReq struct {
	Reason string `json:"reason,default=operator flatten"`
}

type AckResp struct {
	Ok      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type ErrorResp struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
