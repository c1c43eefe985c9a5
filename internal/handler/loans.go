package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/segyhp/loan-ledger/internal/domain"
	"github.com/segyhp/loan-ledger/internal/ledger"
	customError "github.com/segyhp/loan-ledger/pkg/errors"
	"github.com/segyhp/loan-ledger/pkg/response"
	"github.com/shopspring/decimal"
)

// LoanService is what the HTTP layer needs from the lifecycle manager.
type LoanService interface {
	CreateLoan(ctx context.Context, request *domain.CreateLoanRequest) (*domain.Loan, error)
	GetLoan(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error)
	ApproveLoan(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error)
	MarkDefaulted(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error)
	PostRepayment(ctx context.Context, request *domain.RepaymentRequest) (*domain.RepaymentResult, error)
	AccrueFines(ctx context.Context, asOf time.Time, loanID *uuid.UUID) ([]*domain.Fine, error)
	GetStatement(ctx context.Context, loanID uuid.UUID) (*domain.Statement, error)
	GetLedgerSummary(ctx context.Context, filter domain.AccountFilter) ([]domain.AccountBalance, error)
	TrialBalance(ctx context.Context) (*ledger.TrialBalance, error)
	ListProducts(ctx context.Context) ([]*domain.LoanProduct, error)
}

type LoanHandler struct {
	service   LoanService
	validator *validator.Validate
	now       func() time.Time
}

func NewLoanHandler(service LoanService) *LoanHandler {
	return &LoanHandler{
		service:   service,
		validator: validator.New(),
		now:       time.Now,
	}
}

// Dates travel as YYYY-MM-DD.
type createLoanBody struct {
	ProductID        string           `json:"product_id" validate:"required"`
	MemberID         string           `json:"member_id"`
	Principal        decimal.Decimal  `json:"principal"`
	DisbursementDate string           `json:"disbursement_date" validate:"required,datetime=2006-01-02"`
	Direction        domain.Direction `json:"direction" validate:"omitempty,oneof=receivable payable"`
}

type repaymentBody struct {
	Amount    decimal.Decimal      `json:"amount"`
	Date      string               `json:"date" validate:"required,datetime=2006-01-02"`
	Method    domain.PaymentMethod `json:"method" validate:"required"`
	Reference string               `json:"reference" validate:"required,max=64"`
}

type accrueBody struct {
	AsOf   string     `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
	LoanID *uuid.UUID `json:"loan_id"`
}

type AccrualResponse struct {
	AsOf  string         `json:"as_of"`
	Count int            `json:"count"`
	Fines []*domain.Fine `json:"fines"`
}

// RegisterRoutes mounts the loan API on r.
func (h *LoanHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/products", h.ListProducts).Methods(http.MethodGet)
	r.HandleFunc("/loans", h.CreateLoan).Methods(http.MethodPost)
	r.HandleFunc("/loans/{loanId}", h.GetLoan).Methods(http.MethodGet)
	r.HandleFunc("/loans/{loanId}/approve", h.ApproveLoan).Methods(http.MethodPost)
	r.HandleFunc("/loans/{loanId}/default", h.MarkDefaulted).Methods(http.MethodPost)
	r.HandleFunc("/loans/{loanId}/repayments", h.PostRepayment).Methods(http.MethodPost)
	r.HandleFunc("/loans/{loanId}/statement", h.GetStatement).Methods(http.MethodGet)
	r.HandleFunc("/fines/accrue", h.AccrueFines).Methods(http.MethodPost)
	r.HandleFunc("/ledger/accounts", h.GetLedgerSummary).Methods(http.MethodGet)
	r.HandleFunc("/ledger/trial-balance", h.TrialBalance).Methods(http.MethodGet)
}

func (h *LoanHandler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var body createLoanBody
	if err := h.decode(r, &body); err != nil {
		response.FromError(w, err)
		return
	}
	disbursed, _ := time.Parse(time.DateOnly, body.DisbursementDate)

	loan, err := h.service.CreateLoan(r.Context(), &domain.CreateLoanRequest{
		ProductID:        body.ProductID,
		MemberID:         body.MemberID,
		Principal:        body.Principal,
		DisbursementDate: disbursed,
		Direction:        body.Direction,
	})
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, loanResponse(loan))
}

func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathLoanID(r)
	if err != nil {
		response.FromError(w, err)
		return
	}

	loan, err := h.service.GetLoan(r.Context(), loanID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, loanResponse(loan))
}

func (h *LoanHandler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.ApproveLoan)
}

func (h *LoanHandler) MarkDefaulted(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.MarkDefaulted)
}

func (h *LoanHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*domain.Loan, error)) {
	loanID, err := pathLoanID(r)
	if err != nil {
		response.FromError(w, err)
		return
	}

	loan, err := fn(r.Context(), loanID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, loanResponse(loan))
}

// PostRepayment answers 201 for a new repayment and 200 for a replayed one.
func (h *LoanHandler) PostRepayment(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathLoanID(r)
	if err != nil {
		response.FromError(w, err)
		return
	}

	var body repaymentBody
	if err := h.decode(r, &body); err != nil {
		response.FromError(w, err)
		return
	}
	paid, _ := time.Parse(time.DateOnly, body.Date)

	result, err := h.service.PostRepayment(r.Context(), &domain.RepaymentRequest{
		LoanID:    loanID,
		Amount:    body.Amount,
		Date:      paid,
		Method:    body.Method,
		Reference: body.Reference,
	})
	if err != nil {
		response.FromError(w, err)
		return
	}

	if result.Replayed {
		response.Success(w, result)
		return
	}
	response.Created(w, result)
}

func (h *LoanHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathLoanID(r)
	if err != nil {
		response.FromError(w, err)
		return
	}

	statement, err := h.service.GetStatement(r.Context(), loanID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, statement)
}

// AccrueFines runs accrual as of the given date, today by default. An empty
// body is allowed.
func (h *LoanHandler) AccrueFines(w http.ResponseWriter, r *http.Request) {
	var body accrueBody
	if err := h.decodeOptional(r, &body); err != nil {
		response.FromError(w, err)
		return
	}

	asOf := h.now().UTC()
	if body.AsOf != "" {
		asOf, _ = time.Parse(time.DateOnly, body.AsOf)
	}

	fines, err := h.service.AccrueFines(r.Context(), asOf, body.LoanID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, AccrualResponse{
		AsOf:  asOf.Format(time.DateOnly),
		Count: len(fines),
		Fines: fines,
	})
}

// GetLedgerSummary accepts repeated ?code= and a single ?type= filter.
func (h *LoanHandler) GetLedgerSummary(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.AccountFilter{Type: domain.AccountType(query.Get("type"))}
	for _, code := range query["code"] {
		filter.Codes = append(filter.Codes, domain.AccountCode(code))
	}

	balances, err := h.service.GetLedgerSummary(r.Context(), filter)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, balances)
}

func (h *LoanHandler) TrialBalance(w http.ResponseWriter, r *http.Request) {
	tb, err := h.service.TrialBalance(r.Context())
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, tb)
}

func (h *LoanHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Success(w, products)
}

func (h *LoanHandler) decode(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return customError.WrapInvalidRequest("body", "must be valid JSON: "+err.Error())
	}
	return h.validate(dst)
}

// decodeOptional is decode for endpoints whose body may be absent. Chunked
// requests carry no Content-Length, so an empty body shows up as io.EOF.
func (h *LoanHandler) decodeOptional(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return customError.WrapInvalidRequest("body", "must be valid JSON: "+err.Error())
	}
	return h.validate(dst)
}

func (h *LoanHandler) validate(dst interface{}) error {
	if err := h.validator.Struct(dst); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return customError.WrapInvalidRequest(verrs[0].Field(), "failed "+verrs[0].Tag())
		}
		return customError.WrapInvalidRequest("body", err.Error())
	}
	return nil
}

func pathLoanID(r *http.Request) (uuid.UUID, error) {
	loanID, err := uuid.Parse(mux.Vars(r)["loanId"])
	if err != nil {
		return uuid.Nil, customError.WrapInvalidRequest("loanId", "must be a UUID")
	}
	return loanID, nil
}

func loanResponse(loan *domain.Loan) *domain.LoanResponse {
	return &domain.LoanResponse{
		Loan:                 loan,
		OutstandingPrincipal: loan.OutstandingPrincipal(),
	}
}
