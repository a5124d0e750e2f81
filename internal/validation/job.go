package validation

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/iudanet/jobsync/internal/models"
)

const (
	// MaxFieldLen ограничивает длину текстовых полей записи
	MaxFieldLen = 4096
	// MaxParts ограничивает количество запчастей в одной записи
	MaxParts = 200
	// MaxLaborHours верхняя граница трудозатрат по одной записи
	MaxLaborHours = 1000
)

var jobStates = []string{models.JobStateOpen, models.JobStateInProgress, models.JobStateDone}

// ValidateJob проверяет доменные поля записи о работе.
// Возвращает все найденные ошибки, объединенные через errors.Join.
func ValidateJob(j *models.Job) error {
	if j == nil {
		return fmt.Errorf("job cannot be nil")
	}

	var errs []error

	if strings.TrimSpace(j.Customer) == "" {
		errs = append(errs, fmt.Errorf("customer cannot be empty"))
	}

	if !slices.Contains(jobStates, j.State) {
		errs = append(errs, fmt.Errorf("state must be one of %s, got %q", strings.Join(jobStates, ", "), j.State))
	}

	for name, value := range map[string]string{
		"customer":    j.Customer,
		"vehicle":     j.Vehicle,
		"description": j.Description,
		"notes":       j.Notes,
	} {
		if len(value) > MaxFieldLen {
			errs = append(errs, fmt.Errorf("%s must not exceed %d characters", name, MaxFieldLen))
		}
	}

	if len(j.Parts) > MaxParts {
		errs = append(errs, fmt.Errorf("a job can list at most %d parts", MaxParts))
	}

	if math.IsNaN(j.LaborHours) || j.LaborHours < 0 || j.LaborHours > MaxLaborHours {
		errs = append(errs, fmt.Errorf("labor hours must be between 0 and %d", MaxLaborHours))
	}

	if j.UpdatedAt != 0 && j.UpdatedAt < j.CreatedAt {
		errs = append(errs, fmt.Errorf("updatedAt cannot precede createdAt"))
	}

	return errors.Join(errs...)
}
