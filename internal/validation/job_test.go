package validation

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/jobsync/internal/models"
)

func validJob() *models.Job {
	return &models.Job{
		Meta:        models.Meta{ID: "j1", CreatedAt: 10, UpdatedAt: 20},
		Customer:    "ACME",
		Description: "brake pads",
		State:       models.JobStateOpen,
		Parts:       []string{"pads"},
		LaborHours:  1.5,
	}
}

func TestValidateJob(t *testing.T) {
	tests := []struct {
		mutate  func(j *models.Job)
		name    string
		errMsg  string
		wantErr bool
	}{
		{name: "valid", mutate: func(j *models.Job) {}},
		{name: "done state", mutate: func(j *models.Job) { j.State = models.JobStateDone }},
		{name: "never updated", mutate: func(j *models.Job) { j.UpdatedAt = 0 }},
		{
			name:    "blank customer",
			mutate:  func(j *models.Job) { j.Customer = "   " },
			wantErr: true,
			errMsg:  "customer cannot be empty",
		},
		{
			name:    "unknown state",
			mutate:  func(j *models.Job) { j.State = "archived" },
			wantErr: true,
			errMsg:  "state must be one of",
		},
		{
			name:    "notes too long",
			mutate:  func(j *models.Job) { j.Notes = strings.Repeat("x", MaxFieldLen+1) },
			wantErr: true,
			errMsg:  "notes must not exceed",
		},
		{
			name:    "negative labor",
			mutate:  func(j *models.Job) { j.LaborHours = -1 },
			wantErr: true,
			errMsg:  "labor hours",
		},
		{
			name:    "NaN labor",
			mutate:  func(j *models.Job) { j.LaborHours = math.NaN() },
			wantErr: true,
			errMsg:  "labor hours",
		},
		{
			name:    "too many parts",
			mutate:  func(j *models.Job) { j.Parts = make([]string, MaxParts+1) },
			wantErr: true,
			errMsg:  "at most",
		},
		{
			name:    "updated before created",
			mutate:  func(j *models.Job) { j.UpdatedAt = 5 },
			wantErr: true,
			errMsg:  "updatedAt cannot precede createdAt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := validJob()
			tt.mutate(j)

			err := ValidateJob(j)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateJob_ReportsAllErrors(t *testing.T) {
	j := validJob()
	j.Customer = ""
	j.State = ""

	err := ValidateJob(j)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "customer")
	assert.Contains(t, err.Error(), "state")
}

func TestValidateJob_Nil(t *testing.T) {
	assert.Error(t, ValidateJob(nil))
}
