package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"renoflow/auth"
	"renoflow/bid"
	"renoflow/inspection"
	"renoflow/request"
)

const dateLayout = "2006-01-02"

type userResponse struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	FullName    string  `json:"full_name"`
	Phone       *string `json:"phone,omitempty"`
	CompanyName *string `json:"company_name,omitempty"`
	Role        string  `json:"role"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		FullName:    u.FullName,
		Phone:       u.Phone,
		CompanyName: u.CompanyName,
		Role:        string(u.Role),
	}
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type requestResponse struct {
	ID                   string     `json:"id"`
	CustomerID           string     `json:"customer_id"`
	Category             string     `json:"category"`
	BudgetMin            int64      `json:"budget_min"`
	BudgetMax            int64      `json:"budget_max"`
	Timeline             string     `json:"timeline,omitempty"`
	PostalPrefix         string     `json:"postal_prefix,omitempty"`
	Address              string     `json:"address,omitempty"`
	Description          string     `json:"description,omitempty"`
	PhotoRefs            []string   `json:"photo_refs"`
	Status               string     `json:"status"`
	InspectionDate       *time.Time `json:"inspection_date,omitempty"`
	InspectionTime       *string    `json:"inspection_time,omitempty"`
	BiddingStartDate     *time.Time `json:"bidding_start_date,omitempty"`
	BiddingEndDate       *time.Time `json:"bidding_end_date,omitempty"`
	SelectedContractorID *string    `json:"selected_contractor_id,omitempty"`
	CancelReason         *string    `json:"cancel_reason,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func toRequestResponse(r request.Request) requestResponse {
	return requestResponse{
		ID:                   r.ID,
		CustomerID:           r.CustomerID,
		Category:             r.Category,
		BudgetMin:            r.BudgetMin,
		BudgetMax:            r.BudgetMax,
		Timeline:             r.Timeline,
		PostalPrefix:         r.PostalPrefix,
		Address:              r.Address,
		Description:          r.Description,
		PhotoRefs:            r.PhotoRefs,
		Status:               string(r.Status),
		InspectionDate:       r.InspectionDate,
		InspectionTime:       r.InspectionTime,
		BiddingStartDate:     r.BiddingStartDate,
		BiddingEndDate:       r.BiddingEndDate,
		SelectedContractorID: r.SelectedContractorID,
		CancelReason:         r.CancelReason,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

type bidResponse struct {
	ID            string        `json:"id"`
	RequestID     string        `json:"request_id"`
	ContractorID  string        `json:"contractor_id"`
	Breakdown     bid.Breakdown `json:"breakdown"`
	TotalAmount   int64         `json:"total_amount"`
	TimelineWeeks int           `json:"timeline_weeks"`
	StartDate     *time.Time    `json:"start_date,omitempty"`
	ScopeIncluded string        `json:"scope_included,omitempty"`
	ScopeExcluded string        `json:"scope_excluded,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	Status        string        `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func toBidResponse(b bid.Bid) bidResponse {
	return bidResponse{
		ID:            b.ID,
		RequestID:     b.RequestID,
		ContractorID:  b.ContractorID,
		Breakdown:     b.Breakdown,
		TotalAmount:   b.TotalAmount,
		TimelineWeeks: b.TimelineWeeks,
		StartDate:     b.StartDate,
		ScopeIncluded: b.ScopeIncluded,
		ScopeExcluded: b.ScopeExcluded,
		Notes:         b.Notes,
		Status:        string(b.Status),
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

type interestResponse struct {
	RequestID       string    `json:"request_id"`
	ContractorID    string    `json:"contractor_id"`
	WillParticipate *bool     `json:"will_participate"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, User: toUserResponse(res.User)})
}

type createRequestBody struct {
	Category     string   `json:"category"`
	BudgetMin    int64    `json:"budget_min"`
	BudgetMax    int64    `json:"budget_max"`
	Timeline     string   `json:"timeline"`
	PostalPrefix string   `json:"postal_prefix"`
	Address      string   `json:"address"`
	Description  string   `json:"description"`
	PhotoRefs    []string `json:"photo_refs"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, auth.RoleCustomer) {
		return
	}
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, _ := callerID(r.Context())
	req, err := s.requestService.Create(r.Context(), request.CreateParams{
		CustomerID:   userID,
		Category:     body.Category,
		BudgetMin:    body.BudgetMin,
		BudgetMax:    body.BudgetMax,
		Timeline:     body.Timeline,
		PostalPrefix: body.PostalPrefix,
		Address:      body.Address,
		Description:  body.Description,
		PhotoRefs:    body.PhotoRefs,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestResponse(req))
}

// handleListRequests scopes the listing by caller: customers see their own
// requests, contractors default to the inspection invitation feed, admins
// browse everything.
func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	userID, _ := callerID(r.Context())
	filters := request.Filters{
		Status: request.Status(r.URL.Query().Get("status")),
	}
	switch callerRole(r.Context()) {
	case auth.RoleCustomer:
		filters.CustomerID = userID
	case auth.RoleContractor:
		if filters.Status == "" {
			filters.Status = request.StatusInspectionScheduled
		}
	}

	reqs, err := s.requestService.List(r.Context(), filters)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]requestResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, toRequestResponse(req))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.requestService.Get(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req))
}

func (s *Server) handleBeginInspection(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, auth.RoleAdmin) {
		return
	}
	req, err := s.requestService.BeginInspection(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req))
}

type scheduleInspectionBody struct {
	InspectionDate string  `json:"inspection_date"`
	InspectionTime *string `json:"inspection_time,omitempty"`
}

func (s *Server) handleScheduleInspection(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, auth.RoleAdmin) {
		return
	}
	var body scheduleInspectionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	date, err := time.Parse(dateLayout, body.InspectionDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "inspection_date must be YYYY-MM-DD")
		return
	}
	req, err := s.requestService.ScheduleInspection(r.Context(), request.ScheduleParams{
		RequestID: chi.URLParam(r, "requestID"),
		Date:      date,
		TimeOfDay: body.InspectionTime,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req))
}

type recordInterestBody struct {
	WillParticipate bool `json:"will_participate"`
}

func (s *Server) handleRecordInterest(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, auth.RoleContractor) {
		return
	}
	var body recordInterestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, _ := callerID(r.Context())
	rec, err := s.interestService.RecordInterest(r.Context(), inspection.RecordParams{
		RequestID:       chi.URLParam(r, "requestID"),
		ContractorID:    userID,
		WillParticipate: body.WillParticipate,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, interestResponse{
		RequestID:       rec.RequestID,
		ContractorID:    rec.ContractorID,
		WillParticipate: rec.WillParticipate,
		UpdatedAt:       rec.UpdatedAt,
	})
}

type cancelRequestBody struct {
	Reason *string `json:"reason,omitempty"`
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	// An empty body just means no reason was given; anything else must parse.
	var body cancelRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, _ := callerID(r.Context())
	req, err := s.requestService.Cancel(r.Context(), request.CancelParams{
		RequestID: chi.URLParam(r, "requestID"),
		ActorID:   userID,
		ActorRole: string(callerRole(r.Context())),
		Reason:    body.Reason,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req))
}

func (s *Server) handleCompleteRequest(w http.ResponseWriter, r *http.Request) {
	userID, _ := callerID(r.Context())
	req, err := s.requestService.Complete(r.Context(), chi.URLParam(r, "requestID"), userID, string(callerRole(r.Context())))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(req))
}

func (s *Server) handleListRequestBids(w http.ResponseWriter, r *http.Request) {
	userID, _ := callerID(r.Context())
	bids, err := s.bidService.ListForRequest(r.Context(), chi.URLParam(r, "requestID"), userID, callerRole(r.Context()) == auth.RoleAdmin)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]bidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, toBidResponse(b))
	}
	writeJSON(w, http.StatusOK, out)
}

type submitBidBody struct {
	Breakdown     bid.Breakdown `json:"breakdown"`
	TimelineWeeks int           `json:"timeline_weeks"`
	StartDate     *string       `json:"start_date,omitempty"`
	ScopeIncluded string        `json:"scope_included"`
	ScopeExcluded string        `json:"scope_excluded"`
	Notes         string        `json:"notes"`
}

func (s *Server) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, auth.RoleContractor) {
		return
	}
	var body submitBidBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var startDate *time.Time
	if body.StartDate != nil {
		parsed, err := time.Parse(dateLayout, *body.StartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
			return
		}
		startDate = &parsed
	}
	userID, _ := callerID(r.Context())
	rec, err := s.bidService.Submit(r.Context(), bid.SubmitParams{
		RequestID:     chi.URLParam(r, "requestID"),
		ContractorID:  userID,
		Breakdown:     body.Breakdown,
		TimelineWeeks: body.TimelineWeeks,
		StartDate:     startDate,
		ScopeIncluded: body.ScopeIncluded,
		ScopeExcluded: body.ScopeExcluded,
		Notes:         body.Notes,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBidResponse(rec))
}

func (s *Server) handleListOwnBids(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, auth.RoleContractor) {
		return
	}
	userID, _ := callerID(r.Context())
	bids, err := s.bidService.ListByContractor(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	out := make([]bidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, toBidResponse(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWithdrawBid(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, auth.RoleContractor) {
		return
	}
	userID, _ := callerID(r.Context())
	if err := s.bidService.Withdraw(r.Context(), chi.URLParam(r, "bidID"), userID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAcceptBid(w http.ResponseWriter, r *http.Request) {
	userID, _ := callerID(r.Context())
	res, err := s.bidService.Accept(r.Context(), chi.URLParam(r, "bidID"), userID, callerRole(r.Context()) == auth.RoleAdmin)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBidResponse(res.Bid))
}

// handleSweep triggers a sweep pass. The caller authenticates with the
// pre-shared sweep secret; the check happens before any store access.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.sweepSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid sweep credentials")
		return
	}
	summary, err := s.sweeper.Run(r.Context())
	if err != nil {
		s.logger.Error("sweep run failed", "err", err)
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) requireRole(w http.ResponseWriter, r *http.Request, roles ...auth.Role) bool {
	role := callerRole(r.Context())
	for _, allowed := range roles {
		if role == allowed || role == auth.RoleAdmin {
			return true
		}
	}
	writeError(w, http.StatusForbidden, "insufficient role")
	return false
}
