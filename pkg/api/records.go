// Package api holds the wire types shared by the sync client and the
// reference server.
package api

import "encoding/json"

// Paths of the records API. {entity} is the collection name, e.g. "jobs".
const (
	PathPrefix = "/api/v1/"
	PathHealth = "/api/v1/health"
)

// FetchResponse представляет ответ на GET /api/v1/{entity}?since=<ms>
type FetchResponse struct {
	Items      []json.RawMessage `json:"items"`      // Записи, измененные после since (все, если since=0)
	ServerTime int64             `json:"serverTime"` // Время сервера на момент выборки, Unix ms
}

// BatchSyncRequest представляет запрос POST /api/v1/{entity}/sync
type BatchSyncRequest struct {
	Items     []json.RawMessage `json:"items"`               // Записи для upsert
	DeviceID  string            `json:"deviceId"`            // Устройство-отправитель
	ForceSync bool              `json:"forceSync,omitempty"` // Перезаписать без сравнения updatedAt
}

// BatchSyncResponse представляет ответ на пакетную синхронизацию
type BatchSyncResponse struct {
	Success    bool  `json:"success"`    // Все записи приняты
	Synced     int   `json:"synced"`     // Количество сохраненных записей
	ServerTime int64 `json:"serverTime"` // Время сервера, Unix ms
}

// UpsertResponse представляет ответ на POST /api/v1/{entity}
type UpsertResponse struct {
	Item       json.RawMessage `json:"item"`       // Сохраненная версия записи
	ServerTime int64           `json:"serverTime"` // Время сервера, Unix ms
}

// HealthResponse представляет ответ на GET /api/v1/health
type HealthResponse struct {
	Status     string `json:"status"`
	ServerTime int64  `json:"serverTime"`
}
