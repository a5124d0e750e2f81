package models

// SyncStatus описывает состояние синхронизации записи.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"  // есть локальные изменения, не подтвержденные сервером
	SyncStatusSynced   SyncStatus = "synced"   // совпадает с облачной копией
	SyncStatusConflict SyncStatus = "conflict" // требует ручного разрешения
)

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSynced, SyncStatusConflict:
		return true
	}
	return false
}

// Meta содержит служебные поля синхронизации, общие для всех записей.
// Встраивается в доменные структуры (см. Job).
// Все временные метки - Unix миллисекунды.
type Meta struct {
	ID         string     `json:"id"`                  // ID глобально уникальный идентификатор
	DeviceID   string     `json:"deviceId"`            // DeviceID устройство, создавшее эту версию
	SyncStatus SyncStatus `json:"syncStatus"`          // SyncStatus pending, synced или conflict
	Checksum   string     `json:"_checksum,omitempty"` // Checksum контрольная сумма содержимого
	CreatedAt  int64      `json:"createdAt"`           // CreatedAt время создания
	UpdatedAt  int64      `json:"updatedAt"`           // UpdatedAt время последнего локального изменения
	SyncedAt   int64      `json:"syncedAt,omitempty"`  // SyncedAt время последнего подтверждения сервером
}

// SyncMeta returns the metadata itself. Records embedding Meta get the
// method promoted, which makes them satisfy Syncable.
func (m *Meta) SyncMeta() *Meta {
	return m
}

// Timestamp returns UpdatedAt, falling back to CreatedAt for records that
// were never modified after creation.
func (m *Meta) Timestamp() int64 {
	if m.UpdatedAt != 0 {
		return m.UpdatedAt
	}
	return m.CreatedAt
}

// Syncable is any entity that carries sync metadata.
type Syncable interface {
	SyncMeta() *Meta
}

// Record is the constraint used by the generic sync components: a syncable
// entity that can produce an independent deep copy of itself.
type Record[T any] interface {
	Syncable
	Clone() T
}
