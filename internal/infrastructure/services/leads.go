package services

import (
	"context"
	"net/url"

	"github.com/erp/crmsync/internal/domain/lead"
)

// LeadClient is the lead.Gateway backed by the services REST API
type LeadClient struct {
	client *Client
}

var _ lead.Gateway = (*LeadClient)(nil)

// NewLeadClient creates a LeadClient
func NewLeadClient(client *Client) *LeadClient {
	return &LeadClient{client: client}
}

func leadPath(id string, sub ...string) string {
	p := "/api/v1/leads/" + url.PathEscape(id)
	for _, s := range sub {
		p += "/" + s
	}
	return p
}

// Get loads a lead
func (c *LeadClient) Get(ctx context.Context, id string) (*lead.Lead, error) {
	var out lead.Lead
	if err := c.client.Get(ctx, leadPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateAssignee assigns the lead to userID
func (c *LeadClient) UpdateAssignee(ctx context.Context, id, userID string) (*lead.Lead, error) {
	body := map[string]string{"assigned_to_user_id": userID}
	return c.patch(ctx, leadPath(id, "assignee"), body)
}

// UpdateStatus changes the lead status
func (c *LeadClient) UpdateStatus(ctx context.Context, id string, status lead.Status, reason string) (*lead.Lead, error) {
	body := map[string]string{"status": string(status)}
	if reason != "" {
		body["lost_reason"] = reason
	}
	return c.patch(ctx, leadPath(id, "status"), body)
}

// MoveToColumn moves the lead on the board
func (c *LeadClient) MoveToColumn(ctx context.Context, id, columnID string) (*lead.Lead, error) {
	body := map[string]string{"column_id": columnID}
	return c.patch(ctx, leadPath(id, "column"), body)
}

// UpdateFields writes inline edits
func (c *LeadClient) UpdateFields(ctx context.Context, id string, patch lead.Patch) (*lead.Lead, error) {
	body := make(map[string]any, len(patch))
	for f, v := range patch {
		body[string(f)] = v
	}
	return c.patch(ctx, leadPath(id), body)
}

func (c *LeadClient) patch(ctx context.Context, path string, body any) (*lead.Lead, error) {
	var out lead.Lead
	if err := c.client.Patch(ctx, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
