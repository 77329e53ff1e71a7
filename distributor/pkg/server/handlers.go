package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/feevault/distributor/pkg/audit"
	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
)

const (
	maxBodyBytes      = 1 << 20
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type ProgressResponse struct {
	*distribution.Progress
	Phase     distribution.Phase `json:"phase"`
	NextDayAt int64              `json:"next_day_at"`
}

type TreasuryResponse struct {
	Vault   solana.PublicKey `json:"vault"`
	Balance uint64           `json:"balance"`
	Accrued uint64           `json:"accrued"`
}

type AccrueRequest struct {
	Amount uint64 `json:"amount"`
}

type CrankBody struct {
	Page           []distribution.PageEntry `json:"page"`
	IsLastPage     bool                     `json:"is_last_page"`
	ExpectedCursor *uint32                  `json:"expected_cursor,omitempty"`
}

type EventsResponse struct {
	Vault  solana.PublicKey `json:"vault"`
	Events []audit.Record   `json:"events"`
}

// requestError is a malformed request that never reached the engine.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func vaultParam(r *http.Request) (solana.PublicKey, error) {
	raw := chi.URLParam(r, "vault")
	vault, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, badRequest("invalid vault %q", raw)
	}
	return vault, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is required")
		}
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	vault, err := vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	policy, err := s.cfg.Engine.Policy(r.Context(), vault)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, policy)
}

func (s *Server) postPolicy(w http.ResponseWriter, r *http.Request) {
	vault, err := vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var params distribution.InitializePolicyParams
	if err := decodeBody(w, r, &params); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !params.Vault.IsZero() && params.Vault != vault {
		s.writeError(w, r, badRequest("body vault %s does not match path vault %s", params.Vault, vault))
		return
	}
	params.Vault = vault

	policy, err := s.cfg.Engine.InitializePolicy(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, policy)
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	vault, err := vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	position, err := s.cfg.Engine.Position(r.Context(), vault)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, position)
}

func (s *Server) postPosition(w http.ResponseWriter, r *http.Request) {
	vault, err := vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var params distribution.InitializePositionParams
	if err := decodeBody(w, r, &params); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !params.Vault.IsZero() && params.Vault != vault {
		s.writeError(w, r, badRequest("body vault %s does not match path vault %s", params.Vault, vault))
		return
	}
	params.Vault = vault

	position, err := s.cfg.Engine.InitializePosition(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, position)
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	vault, err := vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	progress, err := s.cfg.Engine.Progress(r.Context(), vault)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ProgressResponse{
		Progress:  progress,
		Phase:     progress.Phase(s.cfg.Engine.Now()),
		NextDayAt: progress.NextDayAt(),
	})
}

func (s *Server) postCrank(w http.ResponseWriter, r *http.Request) {
	vault, err := vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body CrankBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.cfg.Engine.Crank(r.Context(), distribution.CrankRequest{
		Vault:          vault,
		Page:           body.Page,
		IsLastPage:     body.IsLastPage,
		ExpectedCursor: body.ExpectedCursor,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) postFees(w http.ResponseWriter, r *http.Request) {
	vault, err := vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body AccrueRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Amount == 0 {
		s.writeError(w, r, badRequest("amount must be positive"))
		return
	}
	// Fees only accrue on vaults that exist.
	if _, err := s.cfg.Engine.Policy(r.Context(), vault); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cfg.Treasury.AccrueFees(r.Context(), vault, body.Amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTreasury(w, r, vault, http.StatusAccepted)
}

func (s *Server) getTreasury(w http.ResponseWriter, r *http.Request) {
	vault, err := vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTreasury(w, r, vault, http.StatusOK)
}

func (s *Server) writeTreasury(w http.ResponseWriter, r *http.Request, vault solana.PublicKey, status int) {
	balance, accrued, err := s.cfg.Treasury.Treasury(r.Context(), vault)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, status, TreasuryResponse{Vault: vault, Balance: balance, Accrued: accrued})
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		s.writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "NotConfigured", Message: "event history is not configured"})
		return
	}
	vault, err := vaultParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxEventLimit {
			s.writeError(w, r, badRequest("limit must be between 1 and %d", maxEventLimit))
			return
		}
	}

	records, err := s.cfg.History.Events(r.Context(), vault, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	s.writeJSON(w, http.StatusOK, EventsResponse{Vault: vault, Events: records})
}

// statusOf maps an error to its HTTP status and public code.
func statusOf(err error) (int, string) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, "InvalidRequest"
	}
	if errors.Is(err, distribution.ErrVaultNotInitialized) {
		return http.StatusNotFound, string(distribution.ErrVaultNotInitialized.Code)
	}
	if errors.Is(err, distribution.ErrPoolNotFound) {
		return http.StatusNotFound, "PoolNotFound"
	}
	code := string(distribution.CodeOf(err))
	switch distribution.KindOf(err) {
	case distribution.KindValidation:
		return http.StatusBadRequest, code
	case distribution.KindState, distribution.KindFunds:
		return http.StatusConflict, code
	case distribution.KindArithmetic:
		return http.StatusUnprocessableEntity, code
	}
	return http.StatusInternalServerError, "Internal"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("server: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if s.cfg.ErrorReporter != nil {
			s.cfg.ErrorReporter(err)
		}
		msg = "internal error"
	}
	s.writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}
