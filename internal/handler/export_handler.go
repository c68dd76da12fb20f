package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shipkit/internal/audit"
	"github.com/hitoshi/shipkit/internal/export"
	"github.com/hitoshi/shipkit/internal/model"
	"github.com/hitoshi/shipkit/internal/repository"
)

const deliveryS3 = "s3"

// ExportServiceInterface はエクスポートハンドラーが必要とするサービスインターフェース。
// admin.Serviceが満たす。
type ExportServiceInterface interface {
	Rows(ctx context.Context, name, query string) ([]string, []repository.Record, error)
}

// ExportRecorder はエクスポート件数を記録する。
type ExportRecorder interface {
	RecordExport(format, delivery string)
}

// ExportHandlerConfig はエクスポートハンドラーの設定。
type ExportHandlerConfig struct {
	URLTTL time.Duration // 署名付きURLの有効期間
}

// ExportHandler はリソースのCSV/JSONエクスポートのHTTPハンドラー。
type ExportHandler struct {
	service ExportServiceInterface
	store   export.ObjectStore
	audit   AuditRecorder
	metrics ExportRecorder
	config  ExportHandlerConfig
	now     func() time.Time
}

// NewExportHandler はExportHandlerを生成する。
// storeがnilの場合、delivery=s3 はEXPORT_UNAVAILABLEになる。
func NewExportHandler(service ExportServiceInterface, store export.ObjectStore, auditor AuditRecorder, metrics ExportRecorder, config ExportHandlerConfig) *ExportHandler {
	if config.URLTTL <= 0 {
		config.URLTTL = 15 * time.Minute
	}
	return &ExportHandler{
		service: service,
		store:   store,
		audit:   auditor,
		metrics: metrics,
		config:  config,
		now:     time.Now,
	}
}

// Export は検索条件に合致する行をエクスポートする。
// 既定ではダウンロードとして返し、delivery=s3 の場合はアップロードして署名付きURLを返す。
// GET /api/data/{resource}?format=csv|json&q=...&delivery=s3
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	q := r.URL.Query()

	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		handleServiceError(w, model.NewInvalidFormatError(q.Get("format")))
		return
	}

	delivery := "download"
	if q.Get("delivery") == deliveryS3 {
		if h.store == nil {
			handleServiceError(w, model.NewExportUnavailableError())
			return
		}
		delivery = deliveryS3
	}

	columns, records, err := h.service.Rows(r.Context(), resource, q.Get("q"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		rows[i] = rec
	}

	now := h.now()
	filename := export.Filename(resource, format, now)

	if delivery == deliveryS3 {
		if !h.deliverToStore(w, r, resource, format, columns, rows, now) {
			return
		}
	} else {
		w.Header().Set("Content-Type", export.ContentType(format))
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		w.Header().Set("Cache-Control", "no-store")
		if err := export.Write(w, format, columns, rows); err != nil {
			// ヘッダー送信後のためステータスは変更できない
			slog.Error("failed to write export",
				slog.String("resource", resource),
				slog.String("error", err.Error()),
			)
			return
		}
	}

	if h.metrics != nil {
		h.metrics.RecordExport(string(format), delivery)
	}
	if h.audit != nil {
		details := map[string]any{
			"format":   string(format),
			"delivery": delivery,
			"rows":     len(rows),
			"query":    q.Get("q"),
		}
		if err := h.audit.Record(r.Context(), r, audit.ActionDataExport, resource, "", details); err != nil {
			slog.Error("failed to record audit log",
				slog.String("action", audit.ActionDataExport),
				slog.String("error", err.Error()),
			)
		}
	}
}

// deliverToStore はオブジェクトストレージへアップロードし、署名付きURLを返す。
// 失敗時はエラーレスポンスを書き込んでfalseを返す。
func (h *ExportHandler) deliverToStore(w http.ResponseWriter, r *http.Request, resource string, format export.Format, columns []string, rows []map[string]any, now time.Time) bool {
	var buf bytes.Buffer
	if err := export.Write(&buf, format, columns, rows); err != nil {
		handleServiceError(w, err)
		return false
	}

	key := export.ObjectKey(resource, format, now)
	if err := h.store.Put(r.Context(), key, &buf, export.ContentType(format)); err != nil {
		handleServiceError(w, err)
		return false
	}
	url, err := h.store.PresignGet(r.Context(), key, h.config.URLTTL)
	if err != nil {
		handleServiceError(w, err)
		return false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"url":        url,
		"key":        key,
		"rows":       len(rows),
		"expires_at": now.Add(h.config.URLTTL).UTC(),
	})
	return true
}
