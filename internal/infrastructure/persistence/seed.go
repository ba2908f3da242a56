package persistence

import (
	"context"
	"fmt"

	"github.com/erp/crmsync/internal/domain/lead"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type demoLead struct {
	name, company, email string
	value                string
	status               lead.Status
	lostReason           string
	assignee, column     string
}

var demoLeads = []demoLead{
	{"Acme Corp renewal", "Acme Corp", "buyer@acme.example", "12000", lead.StatusOpen, "", "u-1", "col-new"},
	{"Globex pilot", "Globex", "it@globex.example", "4500.50", lead.StatusContacted, "", "u-2", "col-contacted"},
	{"Initech expansion", "Initech", "ops@initech.example", "30000", lead.StatusQualified, "", "u-1", "col-proposal"},
	{"Umbrella onboarding", "Umbrella", "cto@umbrella.example", "8000", lead.StatusWon, "", "u-3", "col-closed"},
	{"Hooli trial", "Hooli", "eng@hooli.example", "2500", lead.StatusLost, "Chose a competitor", "u-2", "col-closed"},
}

// Seed inserts demo leads when the repository is empty. It returns the
// number of leads created.
func Seed(ctx context.Context, repo lead.Repository, logger *zap.Logger) (int, error) {
	count, err := repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count leads: %w", err)
	}
	if count > 0 {
		logger.Debug("Skipping seed, leads already present", zap.Int64("count", count))
		return 0, nil
	}

	for _, d := range demoLeads {
		l, err := lead.NewLead(d.name)
		if err != nil {
			return 0, err
		}
		l.Company = d.company
		l.Email = d.email
		l.Value = decimal.RequireFromString(d.value)
		l.AssignedToUserID = d.assignee
		l.ColumnID = d.column
		if err := l.ChangeStatus(d.status, d.lostReason); err != nil {
			return 0, err
		}
		if err := repo.Create(ctx, l); err != nil {
			return 0, fmt.Errorf("failed to seed lead %q: %w", d.name, err)
		}
	}

	logger.Info("Seeded demo leads", zap.Int("count", len(demoLeads)))
	return len(demoLeads), nil
}
