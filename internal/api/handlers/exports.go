package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dvloznov/settlement-ledger/internal/api/middleware"
	"github.com/dvloznov/settlement-ledger/internal/logger"
	"github.com/dvloznov/settlement-ledger/internal/report"
	"github.com/dvloznov/settlement-ledger/internal/settlement"
)

// ReportUploader stores a finished export and returns its URI.
type ReportUploader interface {
	UploadReport(ctx context.Context, fileName, contentType string, data []byte) (string, error)
}

// ExportHandler serves CSV and Parquet downloads. When an uploader is set,
// upload=true stores the file and returns its URI instead.
type ExportHandler struct {
	ledger   *LedgerHandler
	uploader ReportUploader
}

// NewExportHandler creates a new export handler. uploader may be nil.
func NewExportHandler(ledger *LedgerHandler, uploader ReportUploader) *ExportHandler {
	return &ExportHandler{ledger: ledger, uploader: uploader}
}

// Facts handles GET /api/export
func (h *ExportHandler) Facts(w http.ResponseWriter, r *http.Request) {
	format, ok := parseFormat(w, r)
	if !ok {
		return
	}
	rng, facts, ok := h.ledger.loadRange(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	var err error
	if format == report.FormatParquet {
		err = report.WriteFactsParquet(&buf, facts, h.ledger.loc)
	} else {
		err = report.WriteFactsCSV(&buf, facts, h.ledger.loc)
	}
	h.finish(w, r, "facts", rng, format, buf.Bytes(), err)
}

// Settlements handles GET /api/export-settlements
func (h *ExportHandler) Settlements(w http.ResponseWriter, r *http.Request) {
	format, ok := parseFormat(w, r)
	if !ok {
		return
	}
	rng, facts, ok := h.ledger.loadRange(w, r)
	if !ok {
		return
	}

	windows := settlement.Reconstruct(facts).Settlements

	var buf bytes.Buffer
	var err error
	if format == report.FormatParquet {
		err = report.WriteSettlementsParquet(&buf, windows, h.ledger.loc)
	} else {
		err = report.WriteSettlementsCSV(&buf, windows, h.ledger.loc)
	}
	h.finish(w, r, "settlements", rng, format, buf.Bytes(), err)
}

// Totals handles GET /api/export-totals
func (h *ExportHandler) Totals(w http.ResponseWriter, r *http.Request) {
	rng, facts, ok := h.ledger.loadRange(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	err := report.WriteTotalsCSV(&buf, rng, report.ComputeTotals(facts, h.ledger.lender))
	h.finish(w, r, "totals", rng, report.FormatCSV, buf.Bytes(), err)
}

func (h *ExportHandler) finish(w http.ResponseWriter, r *http.Request, name string, rng report.Range, format report.Format, data []byte, err error) {
	log := logger.FromContext(r.Context())
	if err != nil {
		log.Error().Err(err).Str("export", name).Msg("Failed to render export")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to render export")
		return
	}

	fileName := fmt.Sprintf("%s_%s_%s.%s", name, rng.From, rng.To, format.Extension())

	if upload, _ := strconv.ParseBool(r.URL.Query().Get("upload")); upload {
		if h.uploader == nil {
			middleware.WriteError(w, http.StatusBadRequest, "report upload is not configured")
			return
		}
		uri, err := h.uploader.UploadReport(r.Context(), fileName, format.ContentType(), data)
		if err != nil {
			log.Error().Err(err).Str("export", name).Msg("Failed to upload export")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to upload export")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "uri": uri})
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseFormat(w http.ResponseWriter, r *http.Request) (report.Format, bool) {
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return format, true
}
