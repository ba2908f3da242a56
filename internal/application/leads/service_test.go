package leads

import (
	"context"
	"errors"
	"testing"

	"github.com/erp/crmsync/internal/domain/lead"
	"github.com/erp/crmsync/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// MockLeadRepository is a mock implementation of lead.Repository
type MockLeadRepository struct {
	mock.Mock
}

func (m *MockLeadRepository) FindByID(ctx context.Context, id string) (*lead.Lead, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lead.Lead), args.Error(1)
}

func (m *MockLeadRepository) List(ctx context.Context, filter lead.Filter) ([]lead.Lead, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]lead.Lead), args.Error(1)
}

func (m *MockLeadRepository) Create(ctx context.Context, l *lead.Lead) error {
	return m.Called(ctx, l).Error(0)
}

func (m *MockLeadRepository) Save(ctx context.Context, l *lead.Lead) error {
	return m.Called(ctx, l).Error(0)
}

func (m *MockLeadRepository) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func existingLead() *lead.Lead {
	return &lead.Lead{ID: "L1", Name: "Acme", Status: lead.StatusOpen, Value: decimal.NewFromInt(100), ColumnID: "col-new"}
}

func TestService_Create(t *testing.T) {
	repo := new(MockLeadRepository)
	published := 0
	svc := NewService(repo, WithPublisher(PublisherFunc(func(context.Context) error {
		published++
		return nil
	})))

	repo.On("Create", mock.Anything, mock.AnythingOfType("*lead.Lead")).Return(nil)

	l, err := svc.Create(context.Background(), CreateLeadInput{
		Name:     "  Globex  ",
		Email:    "it@globex.example",
		Value:    decimal.NewFromInt(2500),
		ColumnID: "col-new",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, l.ID)
	assert.Equal(t, "Globex", l.Name)
	assert.Equal(t, lead.StatusOpen, l.Status)
	assert.Equal(t, "it@globex.example", l.Email)
	assert.True(t, decimal.NewFromInt(2500).Equal(l.Value))
	assert.Equal(t, "col-new", l.ColumnID)
	assert.Equal(t, 1, published)
	repo.AssertExpectations(t)
}

func TestService_Create_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   CreateLeadInput
		code string
	}{
		{"empty name", CreateLeadInput{Name: " "}, "INVALID_NAME"},
		{"bad email", CreateLeadInput{Name: "Acme", Email: "nope"}, "INVALID_EMAIL"},
		{"negative value", CreateLeadInput{Name: "Acme", Value: decimal.NewFromInt(-1)}, "INVALID_FIELD_VALUE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockLeadRepository)
			svc := NewService(repo)

			_, err := svc.Create(context.Background(), tt.in)

			var de *shared.DomainError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.code, de.Code)
			repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestService_Updates(t *testing.T) {
	tests := []struct {
		name   string
		call   func(*Service) (*lead.Lead, error)
		verify func(*testing.T, *lead.Lead)
	}{
		{
			name: "assign",
			call: func(s *Service) (*lead.Lead, error) { return s.Assign(context.Background(), "L1", "u-9") },
			verify: func(t *testing.T, l *lead.Lead) {
				assert.Equal(t, "u-9", l.AssignedToUserID)
			},
		},
		{
			name: "status with lost reason",
			call: func(s *Service) (*lead.Lead, error) {
				return s.ChangeStatus(context.Background(), "L1", lead.StatusLost, "No budget")
			},
			verify: func(t *testing.T, l *lead.Lead) {
				assert.Equal(t, lead.StatusLost, l.Status)
				assert.Equal(t, "No budget", l.LostReason)
			},
		},
		{
			name: "column",
			call: func(s *Service) (*lead.Lead, error) { return s.MoveToColumn(context.Background(), "L1", "col-won") },
			verify: func(t *testing.T, l *lead.Lead) {
				assert.Equal(t, "col-won", l.ColumnID)
			},
		},
		{
			name: "fields",
			call: func(s *Service) (*lead.Lead, error) {
				return s.UpdateFields(context.Background(), "L1", lead.Patch{
					lead.FieldNotes: "call back friday",
					lead.FieldValue: decimal.NewFromInt(750),
				})
			},
			verify: func(t *testing.T, l *lead.Lead) {
				assert.Equal(t, "call back friday", l.Notes)
				assert.True(t, decimal.NewFromInt(750).Equal(l.Value))
				assert.Equal(t, "Acme", l.Name)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockLeadRepository)
			svc := NewService(repo)

			repo.On("FindByID", mock.Anything, "L1").Return(existingLead(), nil)
			repo.On("Save", mock.Anything, mock.AnythingOfType("*lead.Lead")).Return(nil)

			l, err := tt.call(svc)
			require.NoError(t, err)
			tt.verify(t, l)
			repo.AssertExpectations(t)
		})
	}
}

func TestService_Update_Errors(t *testing.T) {
	t.Run("missing lead", func(t *testing.T) {
		repo := new(MockLeadRepository)
		svc := NewService(repo)
		repo.On("FindByID", mock.Anything, "nope").Return(nil, shared.ErrNotFound)

		_, err := svc.Assign(context.Background(), "nope", "u-1")
		assert.ErrorIs(t, err, shared.ErrNotFound)
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("invalid status is not saved", func(t *testing.T) {
		repo := new(MockLeadRepository)
		svc := NewService(repo)
		repo.On("FindByID", mock.Anything, "L1").Return(existingLead(), nil)

		_, err := svc.ChangeStatus(context.Background(), "L1", lead.Status("archived"), "")
		assert.ErrorIs(t, err, lead.ErrInvalidStatus)
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("publish failure does not fail the write", func(t *testing.T) {
		core, recorded := observer.New(zap.WarnLevel)
		repo := new(MockLeadRepository)
		svc := NewService(repo,
			WithLogger(zap.New(core)),
			WithPublisher(PublisherFunc(func(context.Context) error { return errors.New("redis down") })),
		)
		repo.On("FindByID", mock.Anything, "L1").Return(existingLead(), nil)
		repo.On("Save", mock.Anything, mock.Anything).Return(nil)

		_, err := svc.MoveToColumn(context.Background(), "L1", "col-2")
		require.NoError(t, err)
		assert.Equal(t, 1, recorded.FilterMessage("Failed to publish dashboard snapshots").Len())
	})
}

func TestService_List(t *testing.T) {
	repo := new(MockLeadRepository)
	svc := NewService(repo)

	filter := lead.Filter{Status: lead.StatusOpen, Limit: 10}
	repo.On("List", mock.Anything, filter).Return([]lead.Lead{*existingLead()}, nil)
	repo.On("Count", mock.Anything).Return(int64(7), nil)

	items, total, err := svc.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, int64(7), total)

	_, _, err = svc.List(context.Background(), lead.Filter{Status: "bogus"})
	assert.ErrorIs(t, err, lead.ErrInvalidStatus)
}
