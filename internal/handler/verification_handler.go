package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"verify-service/internal/apperr"
	"verify-service/internal/model"
	"verify-service/internal/service"
	"verify-service/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// VerificationHandler handles HTTP requests for the verification flow
type VerificationHandler struct {
	service *service.VerificationService
	logger  *zap.Logger
}

func NewVerificationHandler(svc *service.VerificationService, logger *zap.Logger) *VerificationHandler {
	return &VerificationHandler{
		service: svc,
		logger:  logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// stepKindFromPath maps URL step names onto step kinds.
var stepKindFromPath = map[string]model.StepKind{
	"face":        model.StepFace,
	"fingerprint": model.StepFingerprint,
	"retina":      model.StepRetina,
}

// RegisterRoutes registers all verification routes
func (h *VerificationHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
	})

	router.Route("/verifiers", func(r chi.Router) {
		r.Post("/", h.ProvisionVerifier)
		r.Delete("/{verifierID}", h.DeactivateVerifier)
	})

	router.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.OpenSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.AbandonSession)
			r.Post("/candidate", h.ResolveCandidate)
			r.Post("/steps/{stepKind}", h.RunStep)
			r.Post("/complete", h.CompleteSession)
			r.Get("/candidates/search", h.SearchCandidates)
		})
	})

	router.Route("/candidates", func(r chi.Router) {
		r.Post("/import", h.ImportCandidates)
		r.Get("/{rollNumber}/results", h.ListResults)
	})
}

type loginRequest struct {
	VerifierID string `json:"verifier_id"`
	Password   string `json:"password"`
}

// Login authenticates a verifier. Authentication failures and lockouts
// both come back with deliberately non-specific messages.
func (h *VerificationHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	outcome, err := h.service.Login(ctx, req.VerifierID, req.Password, r.RemoteAddr)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrLockout):
			h.respondWithError(w, http.StatusLocked, apperr.ErrLockout, "Account temporarily locked")
		case errors.Is(err, apperr.ErrAuthentication), errors.Is(err, apperr.ErrNotFound):
			h.respondWithError(w, http.StatusUnauthorized, apperr.ErrAuthentication, "Invalid credentials")
		case errors.Is(err, apperr.ErrInvalidInput):
			h.respondWithError(w, http.StatusBadRequest, apperr.ErrInvalidInput, "Invalid credentials")
		default:
			h.respondWithError(w, http.StatusInternalServerError, errors.New("internal error"), "Login failed")
		}
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(outcome.Verifier, "Login successful"))
	h.logger.Info("Verifier logged in via HTTP",
		util.String("verifier_id", req.VerifierID),
		util.Duration("duration", time.Since(startTime)),
	)
}

type provisionRequest struct {
	VerifierID     string `json:"verifier_id"`
	Name           string `json:"name"`
	Password       string `json:"password"`
	AssignedDate   string `json:"assigned_date"`
	AssignedShift  string `json:"assigned_shift"`
	AssignedCentre string `json:"assigned_centre"`
	Actor          string `json:"actor"`
}

func (h *VerificationHandler) ProvisionVerifier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	verifier := &model.Verifier{
		ID:             req.VerifierID,
		Name:           req.Name,
		AssignedDate:   req.AssignedDate,
		AssignedShift:  req.AssignedShift,
		AssignedCentre: req.AssignedCentre,
	}
	if err := h.service.ProvisionVerifier(ctx, verifier, req.Password, req.Actor, r.RemoteAddr); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to provision verifier")
		return
	}

	verifier.PasswordHash = ""
	h.respondWithJSON(w, http.StatusCreated, successResponse(verifier, "Verifier provisioned"))
}

func (h *VerificationHandler) DeactivateVerifier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	verifierID := chi.URLParam(r, "verifierID")
	actor := r.URL.Query().Get("actor")

	if err := h.service.DeactivateVerifier(ctx, verifierID, actor, r.RemoteAddr); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to deactivate verifier")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Verifier deactivated"))
}

type openSessionRequest struct {
	VerifierID string `json:"verifier_id"`
}

func (h *VerificationHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	snap, err := h.service.OpenSession(ctx, req.VerifierID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to open session")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(snap, "Session opened"))
}

func (h *VerificationHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Session not found")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(snap, "Session retrieved"))
}

type resolveCandidateRequest struct {
	QRPayload string `json:"qr_payload"`
}

// ResolveCandidate attaches a candidate to the session from a scanned QR
// payload or a typed roll number.
func (h *VerificationHandler) ResolveCandidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resolveCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	candidate, err := h.service.ResolveCandidate(ctx, chi.URLParam(r, "sessionID"), req.QRPayload)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to resolve candidate")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(candidate, "Candidate resolved"))
}

type runStepRequest struct {
	// Sample is the base64-encoded live capture from the device.
	Sample string `json:"sample"`
}

func (h *VerificationHandler) RunStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	kind, ok := stepKindFromPath[strings.ToLower(chi.URLParam(r, "stepKind"))]
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, apperr.ErrInvalidInput, "Unknown step")
		return
	}

	var req runStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	sample, err := base64.StdEncoding.DecodeString(req.Sample)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Sample must be base64")
		return
	}

	step, err := h.service.RunStep(ctx, chi.URLParam(r, "sessionID"), kind, sample)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to run step")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(step, "Step recorded"))
}

type completeSessionRequest struct {
	Notes string `json:"notes"`
}

func (h *VerificationHandler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req completeSessionRequest
	if r.Body != nil {
		// Notes are optional; an empty body is fine.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	res, err := h.service.CompleteSession(ctx, chi.URLParam(r, "sessionID"), req.Notes)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to complete session")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(res, "Session completed"))
	h.logger.Info("Session completed via HTTP",
		util.String("roll_number", res.RollNumber),
		util.String("final_status", string(res.FinalStatus)),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *VerificationHandler) AbandonSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.AbandonSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to abandon session")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Session abandoned"))
}

type importRequest struct {
	Actor      string             `json:"actor"`
	Candidates []*model.Candidate `json:"candidates"`
}

// ImportCandidates bulk-loads candidate records. Row failures come back
// in the report instead of failing the batch.
func (h *VerificationHandler) ImportCandidates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	report, err := h.service.ImportCandidates(ctx, req.Candidates, req.Actor, r.RemoteAddr)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to import candidates")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(report, "Import finished"))
	h.logger.Info("Candidates imported via HTTP",
		util.Int("total", len(req.Candidates)),
		util.Int("imported", report.Imported),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *VerificationHandler) SearchCandidates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	name := r.URL.Query().Get("name")
	candidates, err := h.service.SearchCandidates(ctx, chi.URLParam(r, "sessionID"), name)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to search candidates")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(candidates, "Candidates retrieved"))
}

func (h *VerificationHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rollNumber := chi.URLParam(r, "rollNumber")
	if !util.ValidRollNumber(rollNumber) {
		h.respondWithError(w, http.StatusBadRequest, apperr.ErrInvalidInput, "Malformed roll number")
		return
	}

	results, err := h.service.ResultsForRoll(ctx, rollNumber)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to list results")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(results, "Results retrieved"))
}

// respondWithJSON sends a JSON response
func (h *VerificationHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *VerificationHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *VerificationHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrLockout):
		return http.StatusLocked
	case errors.Is(err, apperr.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrDevice):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
