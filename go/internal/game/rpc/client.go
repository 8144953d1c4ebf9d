package rpc

import (
	"context"

	"connectrpc.com/connect"
)

// Client calls RoundService.
type Client struct {
	placeBet   *connect.Client[PlaceBetRequest, PlaceBetResponse]
	resolveBet *connect.Client[ResolveBetRequest, ResolveBetResponse]
	advance    *connect.Client[AdvanceRoundTickRequest, AdvanceRoundTickResponse]
	history    *connect.Client[HistoryRequest, HistoryResponse]
	snapshot   *connect.Client[SnapshotRequest, SnapshotResponse]
}

// NewClient creates a client for the service at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &Client{
		placeBet:   connect.NewClient[PlaceBetRequest, PlaceBetResponse](httpClient, baseURL+PlaceBetProcedure, opts...),
		resolveBet: connect.NewClient[ResolveBetRequest, ResolveBetResponse](httpClient, baseURL+ResolveBetProcedure, opts...),
		advance:    connect.NewClient[AdvanceRoundTickRequest, AdvanceRoundTickResponse](httpClient, baseURL+AdvanceRoundTickProcedure, opts...),
		history:    connect.NewClient[HistoryRequest, HistoryResponse](httpClient, baseURL+HistoryProcedure, opts...),
		snapshot:   connect.NewClient[SnapshotRequest, SnapshotResponse](httpClient, baseURL+SnapshotProcedure, opts...),
	}
}

func (c *Client) PlaceBet(ctx context.Context, req PlaceBetRequest) (*PlaceBetResponse, error) {
	res, err := c.placeBet.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) ResolveBet(ctx context.Context, req ResolveBetRequest) (*ResolveBetResponse, error) {
	res, err := c.resolveBet.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) AdvanceRoundTick(ctx context.Context, req AdvanceRoundTickRequest) (*AdvanceRoundTickResponse, error) {
	res, err := c.advance.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) History(ctx context.Context, req HistoryRequest) (*HistoryResponse, error) {
	res, err := c.history.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) Snapshot(ctx context.Context, req SnapshotRequest) (*SnapshotResponse, error) {
	res, err := c.snapshot.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
