package handler

import (
	"bytes"

	leadapp "github.com/erp/crmsync/internal/application/leads"
	"github.com/erp/crmsync/internal/domain/lead"
	"github.com/erp/crmsync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// defaultListLimit applies when the listing does not ask for a limit
const defaultListLimit = 100

// LeadHandler handles the lead endpoints the CRM client talks to
type LeadHandler struct {
	BaseHandler
	leadService *leadapp.Service
}

// NewLeadHandler creates a new LeadHandler
func NewLeadHandler(leadService *leadapp.Service) *LeadHandler {
	return &LeadHandler{
		leadService: leadService,
	}
}

// CreateLeadRequest represents a request to create a lead
type CreateLeadRequest struct {
	Name             string          `json:"name" binding:"required,max=200"`
	Email            string          `json:"email" binding:"omitempty,max=200"`
	Phone            string          `json:"phone" binding:"omitempty,max=50"`
	Company          string          `json:"company" binding:"omitempty,max=200"`
	Source           string          `json:"source" binding:"omitempty,max=100"`
	Notes            string          `json:"notes"`
	Value            decimal.Decimal `json:"value"`
	AssignedToUserID string          `json:"assigned_to_user_id" binding:"omitempty,max=64"`
	ColumnID         string          `json:"column_id" binding:"omitempty,max=64"`
}

// AssigneeRequest reassigns a lead. An empty user id unassigns it.
type AssigneeRequest struct {
	AssignedToUserID string `json:"assigned_to_user_id" binding:"max=64"`
}

// StatusRequest moves a lead through the pipeline
type StatusRequest struct {
	Status     string `json:"status" binding:"required"`
	LostReason string `json:"lost_reason" binding:"max=200"`
}

// ColumnRequest moves a lead on the board
type ColumnRequest struct {
	ColumnID string `json:"column_id" binding:"required,max=64"`
}

// Get returns a single lead
//
//	GET /leads/:id
func (h *LeadHandler) Get(c *gin.Context) {
	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BindError(c, err)
		return
	}

	l, err := h.leadService.Get(c.Request.Context(), uri.ID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, l)
}

// List returns leads filtered by status, column or assignee
//
//	GET /leads
func (h *LeadHandler) List(c *gin.Context) {
	var req dto.ListLeadsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BindError(c, err)
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultListLimit
	}

	items, total, err := h.leadService.List(c.Request.Context(), lead.Filter{
		Status:           lead.Status(req.Status),
		ColumnID:         req.ColumnID,
		AssignedToUserID: req.AssignedToUserID,
		SortBy:           req.SortBy,
		SortOrder:        req.SortOrder,
		Limit:            req.Limit,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessList(c, items, total, req.Limit)
}

// Create adds a new open lead
//
//	POST /leads
func (h *LeadHandler) Create(c *gin.Context) {
	var req CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	l, err := h.leadService.Create(c.Request.Context(), leadapp.CreateLeadInput{
		Name:             req.Name,
		Email:            req.Email,
		Phone:            req.Phone,
		Company:          req.Company,
		Source:           req.Source,
		Notes:            req.Notes,
		Value:            req.Value,
		AssignedToUserID: req.AssignedToUserID,
		ColumnID:         req.ColumnID,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, l)
}

// UpdateFields applies inline edits. The body maps field names to values.
//
//	PATCH /leads/:id
func (h *LeadHandler) UpdateFields(c *gin.Context) {
	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BindError(c, err)
		return
	}

	raw, err := c.GetRawData()
	if err != nil {
		h.BadRequest(c, "Failed to read request body")
		return
	}
	var values map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		h.BindError(c, err)
		return
	}
	if len(values) == 0 {
		h.BadRequest(c, "At least one field is required")
		return
	}

	patch, err := lead.NewPatch(values)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	l, err := h.leadService.UpdateFields(c.Request.Context(), uri.ID, patch)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, l)
}

// UpdateAssignee reassigns the lead
//
//	PATCH /leads/:id/assignee
func (h *LeadHandler) UpdateAssignee(c *gin.Context) {
	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BindError(c, err)
		return
	}
	var req AssigneeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	l, err := h.leadService.Assign(c.Request.Context(), uri.ID, req.AssignedToUserID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, l)
}

// UpdateStatus changes the pipeline status
//
//	PATCH /leads/:id/status
func (h *LeadHandler) UpdateStatus(c *gin.Context) {
	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BindError(c, err)
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	l, err := h.leadService.ChangeStatus(c.Request.Context(), uri.ID, lead.Status(req.Status), req.LostReason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, l)
}

// MoveToColumn moves the lead on the board
//
//	PATCH /leads/:id/column
func (h *LeadHandler) MoveToColumn(c *gin.Context) {
	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BindError(c, err)
		return
	}
	var req ColumnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	l, err := h.leadService.MoveToColumn(c.Request.Context(), uri.ID, req.ColumnID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, l)
}
