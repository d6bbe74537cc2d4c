package http

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/application/service"
	"github.com/garyjia/club-treasury/internal/domain/entity"
)

// ActorHeader carries the acting member id. Authentication happens upstream.
const ActorHeader = "X-Actor-ID"

const dateLayout = "2006-01-02"

// Handlers contains all HTTP request handlers
type Handlers struct {
	services       Services
	statements     StatementParser
	health         HealthFunc
	maxUploadBytes int64
	logger         Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, statements StatementParser, health HealthFunc, maxUploadBytes int64, logger Logger) *Handlers {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 << 20
	}
	return &Handlers{
		services:       services,
		statements:     statements,
		health:         health,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
}

// CreateClaimRequest is the body of POST /api/v1/claims
type CreateClaimRequest struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	ExpenseDate string          `json:"expense_date"`
	ActivityID  string          `json:"activity_id"`
}

// UpdateClaimRequest is the body of PATCH /api/v1/claims/:id
type UpdateClaimRequest struct {
	Description *string          `json:"description"`
	Amount      *decimal.Decimal `json:"amount"`
	ExpenseDate *string          `json:"expense_date"`
	ActivityID  *string          `json:"activity_id"`
}

// RejectRequest is the body of POST /api/v1/claims/:id/reject
type RejectRequest struct {
	Reason string `json:"reason"`
}

// LinkRequest is the body of POST /api/v1/transactions/:id/links
type LinkRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Confidence int    `json:"confidence"`
}

// ReconciliationRequest is the body of POST /api/v1/reconciliation/run
type ReconciliationRequest struct {
	DryRun bool `json:"dry_run"`
}

// ThresholdRequest is the body of PUT /api/v1/settings/approval-threshold
type ThresholdRequest struct {
	Amount                decimal.Decimal `json:"amount"`
	DoubleApprovalEnabled bool            `json:"double_approval_enabled"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if h.health != nil {
		healthy, components := h.health(c.Request.Context())
		response.Components = components
		if !healthy {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// CreateClaim handles POST /api/v1/claims
func (h *Handlers) CreateClaim(c *gin.Context) {
	var req CreateClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	expenseDate, err := parseDate(req.ExpenseDate)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	claim, err := h.services.Approvals.CreateDraft(c.Request.Context(), service.CreateClaimInput{
		RequesterID: actor(c),
		Description: req.Description,
		Amount:      req.Amount,
		Currency:    req.Currency,
		ExpenseDate: expenseDate,
		ActivityID:  req.ActivityID,
	})
	h.respond(c, http.StatusCreated, claim, err)
}

// ListClaims handles GET /api/v1/claims
func (h *Handlers) ListClaims(c *gin.Context) {
	limit, offset, ok := paging(c)
	if !ok {
		return
	}
	filter := port.ClaimFilter{
		RequesterID:    c.Query("requester_id"),
		ActivityID:     c.Query("activity_id"),
		IncludeDeleted: c.Query("include_deleted") == "true",
		Limit:          limit,
		Offset:         offset,
	}
	if statuses := c.Query("status"); statuses != "" {
		filter.Statuses = strings.Split(statuses, ",")
	}

	claims, err := h.services.Approvals.List(c.Request.Context(), filter)
	h.respond(c, http.StatusOK, claims, err)
}

// GetClaim handles GET /api/v1/claims/:id
func (h *Handlers) GetClaim(c *gin.Context) {
	claim, err := h.services.Approvals.Get(c.Request.Context(), c.Param("id"))
	h.respond(c, http.StatusOK, claim, err)
}

// UpdateClaim handles PATCH /api/v1/claims/:id
func (h *Handlers) UpdateClaim(c *gin.Context) {
	var req UpdateClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	in := service.UpdateDraftInput{
		Description: req.Description,
		Amount:      req.Amount,
		ActivityID:  req.ActivityID,
	}
	if req.ExpenseDate != nil {
		d, err := parseDate(*req.ExpenseDate)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		in.ExpenseDate = &d
	}

	claim, err := h.services.Approvals.UpdateDraft(c.Request.Context(), c.Param("id"), actor(c), in)
	h.respond(c, http.StatusOK, claim, err)
}

// DeleteClaim handles DELETE /api/v1/claims/:id
func (h *Handlers) DeleteClaim(c *gin.Context) {
	result, err := h.services.Approvals.Delete(c.Request.Context(), c.Param("id"), actor(c))
	h.respond(c, http.StatusOK, result, err)
}

// SubmitClaim handles POST /api/v1/claims/:id/submit
func (h *Handlers) SubmitClaim(c *gin.Context) {
	claim, err := h.services.Approvals.Submit(c.Request.Context(), c.Param("id"), actor(c))
	h.respond(c, http.StatusOK, claim, err)
}

// ApproveClaim handles POST /api/v1/claims/:id/approve
func (h *Handlers) ApproveClaim(c *gin.Context) {
	claim, err := h.services.Approvals.Approve(c.Request.Context(), c.Param("id"), actor(c))
	h.respond(c, http.StatusOK, claim, err)
}

// RejectClaim handles POST /api/v1/claims/:id/reject
func (h *Handlers) RejectClaim(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	claim, err := h.services.Approvals.Reject(c.Request.Context(), c.Param("id"), actor(c), req.Reason)
	h.respond(c, http.StatusOK, claim, err)
}

// AttachDocuments handles POST /api/v1/claims/:id/documents (multipart "files", optional "policy")
func (h *Handlers) AttachDocuments(c *gin.Context) {
	uploads, ok := h.readUploads(c)
	if !ok {
		return
	}
	policy, err := service.ParsePolicy(c.PostForm("policy"))
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.services.Documents.AttachDocuments(c.Request.Context(), c.Param("id"), actor(c), uploads, policy)
	h.respond(c, http.StatusOK, result, err)
}

// FindDuplicates handles POST /api/v1/documents/duplicates. Nothing is stored.
func (h *Handlers) FindDuplicates(c *gin.Context) {
	uploads, ok := h.readUploads(c)
	if !ok {
		return
	}
	warnings, err := h.services.Documents.FindDuplicates(c.Request.Context(), uploads)
	h.respond(c, http.StatusOK, warnings, err)
}

// ImportDocuments handles POST /api/v1/documents/import, one draft claim per file
func (h *Handlers) ImportDocuments(c *gin.Context) {
	uploads, ok := h.readUploads(c)
	if !ok {
		return
	}
	policy, err := service.ParsePolicy(c.PostForm("policy"))
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.services.Documents.ImportDocuments(c.Request.Context(), actor(c), uploads, policy)
	h.respond(c, http.StatusOK, result, err)
}

// ListTransactions handles GET /api/v1/transactions
func (h *Handlers) ListTransactions(c *gin.Context) {
	limit, offset, ok := paging(c)
	if !ok {
		return
	}
	filter := port.TransactionFilter{
		WithoutClaimLink: c.Query("without_claim_link") == "true",
		Limit:            limit,
		Offset:           offset,
	}
	if raw := c.Query("reconciled"); raw != "" {
		reconciled, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "reconciled must be true or false")
			return
		}
		filter.Reconciled = &reconciled
	}
	for key, target := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if raw := c.Query(key); raw != "" {
			d, err := parseDate(raw)
			if err != nil {
				badRequest(c, err.Error())
				return
			}
			*target = &d
		}
	}

	txs, err := h.services.Transactions.List(c.Request.Context(), filter)
	h.respond(c, http.StatusOK, txs, err)
}

// GetTransaction handles GET /api/v1/transactions/:id
func (h *Handlers) GetTransaction(c *gin.Context) {
	tx, err := h.services.Transactions.Get(c.Request.Context(), c.Param("id"))
	h.respond(c, http.StatusOK, tx, err)
}

// ImportStatement handles POST /api/v1/transactions/import (multipart "statement")
func (h *Handlers) ImportStatement(c *gin.Context) {
	if h.statements == nil {
		c.JSON(http.StatusNotImplemented, Response{Success: false, Error: "statement import is not configured"})
		return
	}
	header, err := c.FormFile("statement")
	if err != nil {
		badRequest(c, "statement file is required")
		return
	}
	f, err := header.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()

	rows, err := h.statements.Parse(io.LimitReader(f, h.maxUploadBytes))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	report, err := h.services.Transactions.Import(c.Request.Context(), actor(c), rows)
	h.respond(c, http.StatusOK, report, err)
}

// LinkTransaction handles POST /api/v1/transactions/:id/links
func (h *Handlers) LinkTransaction(c *gin.Context) {
	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	confidence := req.Confidence
	if confidence == 0 {
		confidence = entity.MaxConfidence
	}

	tx, err := h.services.Links.Link(c.Request.Context(), service.LinkRequest{
		TransactionID: c.Param("id"),
		Entity:        entity.EntityRef{Type: req.EntityType, ID: req.EntityID},
		Confidence:    confidence,
		MatchedBy:     entity.MatchedByManual,
		Actor:         actor(c),
	})
	h.respond(c, http.StatusOK, tx, err)
}

// UnlinkTransaction handles DELETE /api/v1/transactions/:id/links/:entity_type/:entity_id
func (h *Handlers) UnlinkTransaction(c *gin.Context) {
	ref := entity.EntityRef{Type: c.Param("entity_type"), ID: c.Param("entity_id")}
	tx, err := h.services.Links.Unlink(c.Request.Context(), c.Param("id"), ref, actor(c))
	h.respond(c, http.StatusOK, tx, err)
}

// RunReconciliation handles POST /api/v1/reconciliation/run
func (h *Handlers) RunReconciliation(c *gin.Context) {
	var req ReconciliationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	report, err := h.services.Reconciliation.PerformAutoReconciliation(c.Request.Context(), service.ReconciliationOptions{
		Actor:  actor(c),
		DryRun: req.DryRun,
	})
	h.respond(c, http.StatusOK, report, err)
}

// GetApprovalThreshold handles GET /api/v1/settings/approval-threshold
func (h *Handlers) GetApprovalThreshold(c *gin.Context) {
	threshold, err := h.services.Settings.ApprovalThreshold(c.Request.Context())
	h.respond(c, http.StatusOK, threshold, err)
}

// UpdateApprovalThreshold handles PUT /api/v1/settings/approval-threshold
func (h *Handlers) UpdateApprovalThreshold(c *gin.Context) {
	var req ThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	threshold := entity.ApprovalThreshold{
		Amount:                req.Amount,
		DoubleApprovalEnabled: req.DoubleApprovalEnabled,
	}
	if err := h.services.Settings.UpdateApprovalThreshold(c.Request.Context(), actor(c), threshold); err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, threshold, nil)
}

// readUploads reads every "files" part of a multipart form
func (h *Handlers) readUploads(c *gin.Context) ([]entity.Upload, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "multipart form with files is required")
		return nil, false
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		badRequest(c, "at least one file is required")
		return nil, false
	}

	uploads := make([]entity.Upload, 0, len(headers))
	for _, fh := range headers {
		content, err := readPart(fh)
		if err != nil {
			badRequest(c, fmt.Sprintf("failed to read %s", fh.Filename))
			return nil, false
		}
		uploads = append(uploads, entity.Upload{
			FileName: fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Content:  content,
		})
	}
	return uploads, true
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func actor(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(ActorHeader))
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must use YYYY-MM-DD", raw)
	}
	return d, nil
}

// paging reads limit and offset, capping limit at 500
func paging(c *gin.Context) (int, int, bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		badRequest(c, "limit must be a non-negative integer")
		return 0, 0, false
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		badRequest(c, "offset must be a non-negative integer")
		return 0, 0, false
	}
	if limit > 500 {
		limit = 500
	}
	return limit, offset, true
}
