package custody

import (
	"context"
	"fmt"
	"time"

	"market_sales/internal/sales"

	"go.uber.org/zap"
	"resty.dev/v3"
)

const transferPayoutPath = "/{service}/transfer_payout"

// Client calls custody services through an HTTP gateway. Each custody service is
// addressed by its identity as the first path segment.
type Client struct {
	client *resty.Client
	logger *zap.Logger
}

// NewClient creates a client for the gateway at baseURL. A zero timeout waits for the
// custody service indefinitely.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &Client{
		client: client,
		logger: logger,
	}
}

// TransferPayout asks the custody service to transfer the asset and returns its raw
// payout response. Non-2xx answers are errors.
func (c *Client) TransferPayout(ctx context.Context, req sales.TransferRequest) ([]byte, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("service", req.ServiceID).
		SetBody(req).
		Post(transferPayoutPath)
	if err != nil {
		c.logger.Error("transfer request failed",
			zap.String("service_id", req.ServiceID),
			zap.String("asset_id", req.AssetID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("error making transfer request to %s: %w", req.ServiceID, err)
	}
	if resp.IsError() {
		c.logger.Warn("custody service rejected transfer",
			zap.String("service_id", req.ServiceID),
			zap.String("asset_id", req.AssetID),
			zap.Int("status", resp.StatusCode()),
		)
		return nil, fmt.Errorf("custody service %s returned unexpected status: %d", req.ServiceID, resp.StatusCode())
	}
	return []byte(resp.String()), nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
