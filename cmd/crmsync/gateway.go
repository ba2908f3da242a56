package main

import (
	"context"

	"github.com/erp/crmsync/internal/domain/lead"
)

// invalidatingGateway refreshes the dashboard widgets after every lead write
// the services layer accepts, since the aggregates changed with it.
type invalidatingGateway struct {
	lead.Gateway
	invalidate func()
}

var _ lead.Gateway = (*invalidatingGateway)(nil)

func (g *invalidatingGateway) after(l *lead.Lead, err error) (*lead.Lead, error) {
	if err == nil {
		g.invalidate()
	}
	return l, err
}

func (g *invalidatingGateway) UpdateAssignee(ctx context.Context, id, userID string) (*lead.Lead, error) {
	return g.after(g.Gateway.UpdateAssignee(ctx, id, userID))
}

func (g *invalidatingGateway) UpdateStatus(ctx context.Context, id string, status lead.Status, reason string) (*lead.Lead, error) {
	return g.after(g.Gateway.UpdateStatus(ctx, id, status, reason))
}

func (g *invalidatingGateway) MoveToColumn(ctx context.Context, id, columnID string) (*lead.Lead, error) {
	return g.after(g.Gateway.MoveToColumn(ctx, id, columnID))
}

func (g *invalidatingGateway) UpdateFields(ctx context.Context, id string, patch lead.Patch) (*lead.Lead, error) {
	return g.after(g.Gateway.UpdateFields(ctx, id, patch))
}
