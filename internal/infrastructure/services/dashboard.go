package services

import (
	"context"
	"net/url"

	"github.com/erp/crmsync/internal/domain/dashboard"
)

// DashboardClient reads dashboard aggregates from the services REST API
type DashboardClient struct {
	client *Client
}

// NewDashboardClient creates a DashboardClient
func NewDashboardClient(client *Client) *DashboardClient {
	return &DashboardClient{client: client}
}

// Stats returns the headline numbers for period
func (c *DashboardClient) Stats(ctx context.Context, period dashboard.Period) (*dashboard.Stats, error) {
	var out dashboard.Stats
	query := url.Values{"period": []string{string(period)}}
	if err := c.client.Get(ctx, "/api/v1/dashboard/stats", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pipeline returns lead totals per board column
func (c *DashboardClient) Pipeline(ctx context.Context) ([]dashboard.PipelineColumn, error) {
	var out []dashboard.PipelineColumn
	if err := c.client.Get(ctx, "/api/v1/dashboard/pipeline", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StatusBreakdown returns lead totals per status
func (c *DashboardClient) StatusBreakdown(ctx context.Context) ([]dashboard.StatusCount, error) {
	var out []dashboard.StatusCount
	if err := c.client.Get(ctx, "/api/v1/dashboard/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
