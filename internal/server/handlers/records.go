package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iudanet/jobsync/internal/metrics"
	"github.com/iudanet/jobsync/internal/server/storage"
	"github.com/iudanet/jobsync/internal/validation"
	"github.com/iudanet/jobsync/pkg/api"
)

// maxBodySize ограничивает размер тела запроса
const maxBodySize = 10 << 20

// RecordStorage определяет интерфейс для работы с записями
type RecordStorage interface {
	Upsert(ctx context.Context, rec *storage.Record, force bool) (*storage.Record, bool, error)
	UpsertBatch(ctx context.Context, recs []*storage.Record, force bool) (int, int64, error)
	ListSince(ctx context.Context, userID, entity string, since int64) ([]*storage.Record, int64, error)
	Delete(ctx context.Context, userID, entity, id string) error
}

// RecordsHandler serves the records API:
//
//	GET    /api/v1/{entity}?since=<ms>
//	POST   /api/v1/{entity}
//	POST   /api/v1/{entity}/sync
//	DELETE /api/v1/{entity}/{id}
type RecordsHandler struct {
	logger  *slog.Logger
	storage RecordStorage
	metrics *metrics.Server
}

// NewRecordsHandler creates a new records handler. m may be nil.
func NewRecordsHandler(logger *slog.Logger, storage RecordStorage, m *metrics.Server) *RecordsHandler {
	return &RecordsHandler{
		logger:  logger,
		storage: storage,
		metrics: m,
	}
}

// recordHeader - служебные поля, которые сервер читает из записи
type recordHeader struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Fetch обрабатывает GET /api/v1/{entity}?since=timestamp
func (h *RecordsHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	userID, entity, ok := h.scope(w, r)
	if !ok {
		return
	}

	var since int64
	if s := r.URL.Query().Get("since"); s != "" {
		var err error
		since, err = strconv.ParseInt(s, 10, 64)
		if err != nil || since < 0 {
			h.logger.Warn("Invalid since parameter", "since", s)
			h.sendError(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
	}

	records, serverTime, err := h.storage.ListSince(r.Context(), userID, entity, since)
	if err != nil {
		h.logger.Error("Failed to list records", "error", err, "user_id", userID, "entity", entity)
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	items := make([]json.RawMessage, 0, len(records))
	for _, rec := range records {
		items = append(items, rec.Data)
	}

	h.logger.Debug("Fetch completed", "user_id", userID, "entity", entity, "since", since, "count", len(items))
	h.sendJSON(w, api.FetchResponse{Items: items, ServerTime: serverTime}, http.StatusOK)
}

// Upsert обрабатывает POST /api/v1/{entity}: одна запись, тело - сама запись
func (h *RecordsHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	userID, entity, ok := h.scope(w, r)
	if !ok {
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&raw); err != nil {
		h.logger.Warn("Failed to decode record", "error", err)
		h.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := toRecord(userID, entity, raw)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	stored, saved, err := h.storage.Upsert(r.Context(), rec, false)
	if err != nil {
		h.logger.Error("Failed to upsert record", "error", err, "user_id", userID, "entity", entity, "id", rec.ID)
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if saved {
		h.metrics.AddRecords(entity, 1)
	} else {
		h.logger.Debug("Record not saved (stored version is newer)", "entity", entity, "id", rec.ID)
	}

	h.sendJSON(w, api.UpsertResponse{Item: stored.Data, ServerTime: stored.ServerTime}, http.StatusOK)
}

// BatchSync обрабатывает POST /api/v1/{entity}/sync.
// Записи, для которых на сервере есть более новая версия, пропускаются:
// клиент получит ее при следующей выборке. Success=false только если пакет
// не был применен.
func (h *RecordsHandler) BatchSync(w http.ResponseWriter, r *http.Request) {
	userID, entity, ok := h.scope(w, r)
	if !ok {
		return
	}

	var req api.BatchSyncRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode batch sync request", "error", err)
		h.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	records := make([]*storage.Record, 0, len(req.Items))
	for i, raw := range req.Items {
		rec, err := toRecord(userID, entity, raw)
		if err != nil {
			h.sendError(w, fmt.Sprintf("item %d: %s", i, err), http.StatusBadRequest)
			return
		}
		records = append(records, rec)
	}

	saved, serverTime, err := h.storage.UpsertBatch(r.Context(), records, req.ForceSync)
	if err != nil {
		h.logger.Error("Failed to apply batch", "error", err, "user_id", userID, "entity", entity)
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.metrics.AddRecords(entity, saved)
	h.logger.Info("Batch sync completed",
		"user_id", userID,
		"entity", entity,
		"device_id", req.DeviceID,
		"received", len(records),
		"saved", saved)

	h.sendJSON(w, api.BatchSyncResponse{Success: true, Synced: saved, ServerTime: serverTime}, http.StatusOK)
}

// Delete обрабатывает DELETE /api/v1/{entity}/{id}
func (h *RecordsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, entity, ok := h.scope(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	if id == "" {
		h.sendError(w, "missing record id", http.StatusBadRequest)
		return
	}

	if err := h.storage.Delete(r.Context(), userID, entity, id); err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			h.sendError(w, "record not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to delete record", "error", err, "user_id", userID, "entity", entity, "id", id)
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Debug("Record deleted", "user_id", userID, "entity", entity, "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// scope извлекает пользователя из контекста и имя коллекции из пути
func (h *RecordsHandler) scope(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	// user_id установлен AuthMiddleware
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.logger.Error("User ID not found in context")
		h.sendError(w, "unauthorized", http.StatusUnauthorized)
		return "", "", false
	}

	entity := r.PathValue("entity")
	if err := validation.ValidateEntity(entity); err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return "", "", false
	}

	return userID, entity, true
}

// toRecord проверяет запись клиента и извлекает служебные поля
func toRecord(userID, entity string, raw json.RawMessage) (*storage.Record, error) {
	var hdr recordHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("record must be a JSON object")
	}
	if hdr.ID == "" {
		return nil, fmt.Errorf("record id is required")
	}

	updatedAt := hdr.UpdatedAt
	if updatedAt == 0 {
		updatedAt = hdr.CreatedAt
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("record must be a JSON object")
	}

	return &storage.Record{
		UserID:    userID,
		Entity:    entity,
		ID:        hdr.ID,
		UpdatedAt: updatedAt,
		Data:      buf.Bytes(),
	}, nil
}

// sendJSON отправляет JSON ответ
func (h *RecordsHandler) sendJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

// sendError отправляет JSON ответ с ошибкой
func (h *RecordsHandler) sendError(w http.ResponseWriter, message string, statusCode int) {
	resp := api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	h.sendJSON(w, resp, statusCode)
}
