package models

// EntityJobs is the entity type (and remote collection name) of job records.
const EntityJobs = "jobs"

// JobState константы для состояния работы
const (
	JobStateOpen       = "open"
	JobStateInProgress = "in_progress"
	JobStateDone       = "done"
)

// Job представляет запись о выполненной (или выполняемой) работе.
// Это основная доменная запись, которую клиент создает офлайн.
type Job struct {
	Meta
	Customer    string   `json:"customer"`             // Customer имя клиента
	Vehicle     string   `json:"vehicle,omitempty"`    // Vehicle описание автомобиля (марка, модель, номер)
	Description string   `json:"description"`          // Description описание работ
	State       string   `json:"state"`                // State open, in_progress или done
	Notes       string   `json:"notes,omitempty"`      // Notes заметки исполнителя
	Parts       []string `json:"parts,omitempty"`      // Parts использованные запчасти
	LaborHours  float64  `json:"laborHours,omitempty"` // LaborHours трудозатраты в часах
}

// Clone создает глубокую копию записи
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	if j.Parts != nil {
		clone.Parts = make([]string, len(j.Parts))
		copy(clone.Parts, j.Parts)
	}
	return &clone
}
