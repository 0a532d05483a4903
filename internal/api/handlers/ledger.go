package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/api/middleware"
	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/dvloznov/settlement-ledger/internal/logger"
	"github.com/dvloznov/settlement-ledger/internal/report"
	"github.com/dvloznov/settlement-ledger/internal/settlement"
	"github.com/dvloznov/settlement-ledger/internal/store"
)

// LedgerHandler serves the reconciliation views over stored facts.
type LedgerHandler struct {
	store  store.FactStore
	loc    *time.Location
	lender report.Lender
	now    func() time.Time
}

// NewLedgerHandler creates a new ledger handler. Day boundaries use loc and
// lender splits releases by recipient.
func NewLedgerHandler(st store.FactStore, loc *time.Location, lender report.Lender) *LedgerHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &LedgerHandler{store: st, loc: loc, lender: lender, now: time.Now}
}

type unmatched struct {
	VirtualCredits []domain.PaymentFact `json:"virtual_credits"`
	Releases       []domain.PaymentFact `json:"releases"`
}

type summaryResponse struct {
	OK          bool                   `json:"ok"`
	From        string                 `json:"from"`
	To          string                 `json:"to"`
	Settlements []settlement.Window    `json:"settlements"`
	Unmatched   unmatched              `json:"unmatched"`
	Grand       settlement.GrandTotals `json:"grand"`
	Totals      report.Totals          `json:"totals"`
}

// Summary handles GET /api/summary
func (h *LedgerHandler) Summary(w http.ResponseWriter, r *http.Request) {
	rng, facts, ok := h.loadRange(w, r)
	if !ok {
		return
	}

	res := settlement.Reconstruct(facts)
	middleware.WriteJSON(w, http.StatusOK, summaryResponse{
		OK:          true,
		From:        rng.From.String(),
		To:          rng.To.String(),
		Settlements: nonNilWindows(res.Settlements),
		Unmatched: unmatched{
			VirtualCredits: nonNilFacts(res.UnmatchedCredits),
			Releases:       nonNilFacts(res.UnmatchedReleases),
		},
		Grand:  res.Grand,
		Totals: report.ComputeTotals(facts, h.lender),
	})
}

// Daily handles GET /api/daily. With by=settlement rows are keyed by release
// date and sum window figures; otherwise they sum raw facts per day.
func (h *LedgerHandler) Daily(w http.ResponseWriter, r *http.Request) {
	by := r.URL.Query().Get("by")
	if by != "" && by != "settlement" && by != "fact" {
		middleware.WriteError(w, http.StatusBadRequest, "by must be fact or settlement")
		return
	}

	rng, facts, ok := h.loadRange(w, r)
	if !ok {
		return
	}

	var rows []report.DailyBucket
	if by == "settlement" {
		rows = report.BucketSettlementsByDay(settlement.Reconstruct(facts).Settlements, rng, h.loc, h.lender)
	} else {
		rows = report.BucketFactsByDay(facts, rng, h.loc, h.lender)
	}
	if rows == nil {
		rows = []report.DailyBucket{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"from": rng.From.String(),
		"to":   rng.To.String(),
		"rows": rows,
	})
}

// Transactions handles GET /api/transactions
func (h *LedgerHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	_, facts, ok := h.loadRange(w, r)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"facts": nonNilFacts(facts),
	})
}

// loadRange parses from/to and loads the facts inside. It writes the error
// response itself and reports whether the caller should continue.
func (h *LedgerHandler) loadRange(w http.ResponseWriter, r *http.Request) (report.Range, []domain.PaymentFact, bool) {
	q := r.URL.Query()
	rng, err := report.ParseRange(q.Get("from"), q.Get("to"), h.loc, h.now())
	if err != nil {
		middleware.WriteError(w, rangeStatus(err), err.Error())
		return report.Range{}, nil, false
	}

	facts, err := h.store.QueryFacts(r.Context(), rng.Start, rng.End)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to query facts")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query facts")
		return report.Range{}, nil, false
	}
	return rng, facts, true
}

// rangeStatus maps range parsing failures to 400.
func rangeStatus(err error) int {
	var rangeErr *report.RangeError
	if errors.As(err, &rangeErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func nonNilFacts(facts []domain.PaymentFact) []domain.PaymentFact {
	if facts == nil {
		return []domain.PaymentFact{}
	}
	return facts
}

func nonNilWindows(windows []settlement.Window) []settlement.Window {
	if windows == nil {
		return []settlement.Window{}
	}
	return windows
}
