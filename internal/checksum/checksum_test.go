package checksum

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/jobsync/internal/models"
)

func testJob(id string) *models.Job {
	return &models.Job{
		Meta: models.Meta{
			ID:         id,
			DeviceID:   "device-a",
			SyncStatus: models.SyncStatusPending,
			CreatedAt:  1000,
			UpdatedAt:  2000,
		},
		Customer:    "ACME",
		Description: "oil change <5W-30> & filter",
		State:       models.JobStateOpen,
		Parts:       []string{"filter", "oil"},
		LaborHours:  0.75,
	}
}

func TestGenerate_KnownValue(t *testing.T) {
	sum, err := Generate(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)

	// djb2 of `{"a":1,"b":2}`
	assert.Equal(t, "4f9d74cb", sum)
	assert.Len(t, sum, 8)
}

func TestGenerate_KeyOrderIndependent(t *testing.T) {
	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"a":1,"b":2,"nested":{"x":true,"y":[3,1,2]}}`), &first))
	require.NoError(t, json.Unmarshal([]byte(`{"nested":{"y":[3,1,2],"x":true},"b":2,"a":1}`), &second))

	sum1, err := Generate(first)
	require.NoError(t, err)
	sum2, err := Generate(second)
	require.NoError(t, err)

	assert.Equal(t, sum1, sum2)
}

func TestGenerate_ArrayOrderMatters(t *testing.T) {
	sum1, err := Generate(map[string]any{"parts": []any{"a", "b"}})
	require.NoError(t, err)
	sum2, err := Generate(map[string]any{"parts": []any{"b", "a"}})
	require.NoError(t, err)

	assert.NotEqual(t, sum1, sum2)
}

func TestGenerate_StructMatchesEquivalentMap(t *testing.T) {
	job := testJob("job-1")

	raw, err := json.Marshal(job)
	require.NoError(t, err)
	var asMap map[string]any
	require.NoError(t, json.Unmarshal(raw, &asMap))

	fromStruct, err := Generate(job)
	require.NoError(t, err)
	fromMap, err := Generate(asMap)
	require.NoError(t, err)

	assert.Equal(t, fromStruct, fromMap)
}

func TestCanonical_NoHTMLEscaping(t *testing.T) {
	out, err := Canonical(map[string]any{"b": "<&>", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":"<&>"}`, string(out))
}

func TestAddAndVerify_RoundTrip(t *testing.T) {
	job := testJob("job-1")
	require.NoError(t, Add(job))
	require.NotEmpty(t, job.Checksum)

	ok, err := Verify(job)
	require.NoError(t, err)
	assert.True(t, ok)

	// Повторный Add не должен менять сумму: старая сумма исключается из расчета
	first := job.Checksum
	require.NoError(t, Add(job))
	assert.Equal(t, first, job.Checksum)
}

func TestAdd_SurvivesStorageRoundTrip(t *testing.T) {
	job := testJob("job-1")
	require.NoError(t, Add(job))

	raw, err := json.Marshal(job)
	require.NoError(t, err)

	var restored models.Job
	require.NoError(t, json.Unmarshal(raw, &restored))

	ok, err := Verify(&restored)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_DetectsTampering(t *testing.T) {
	job := testJob("job-1")
	require.NoError(t, Add(job))

	job.Customer = "Tampered"

	ok, err := Verify(job)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_MissingChecksumIsValid(t *testing.T) {
	job := testJob("job-1")

	ok, err := Verify(job)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompute_DoesNotMutate(t *testing.T) {
	job := testJob("job-1")
	job.Checksum = "deadbeef"

	_, err := Compute(job)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", job.Checksum)
}

func TestValidate(t *testing.T) {
	job := testJob("job-1")
	require.NoError(t, Add(job))

	raw, err := json.Marshal(job)
	require.NoError(t, err)

	tests := []struct {
		mutate      func(m map[string]any)
		name        string
		wantValid   bool
		wantChecked bool
	}{
		{
			name:        "intact object",
			mutate:      func(m map[string]any) {},
			wantValid:   true,
			wantChecked: true,
		},
		{
			name:        "modified field",
			mutate:      func(m map[string]any) { m["customer"] = "other" },
			wantValid:   false,
			wantChecked: true,
		},
		{
			name:        "no checksum",
			mutate:      func(m map[string]any) { delete(m, Field) },
			wantValid:   true,
			wantChecked: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var obj map[string]any
			require.NoError(t, json.Unmarshal(raw, &obj))
			tt.mutate(obj)

			res, err := Validate(obj)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, res.Valid)
			assert.Equal(t, tt.wantChecked, res.Checked)
		})
	}
}

func TestFindCorrupted(t *testing.T) {
	good := testJob("good")
	require.NoError(t, Add(good))

	bad := testJob("bad")
	require.NoError(t, Add(bad))
	expected := bad.Checksum
	bad.Description = "edited by hand"

	unchecked := testJob("unchecked")

	corrupted := FindCorrupted([]*models.Job{good, bad, unchecked})

	require.Len(t, corrupted, 1)
	assert.Equal(t, "bad", corrupted[0].ID)
	assert.Equal(t, expected, corrupted[0].Expected)
	assert.NotEqual(t, expected, corrupted[0].Actual)
	assert.Len(t, corrupted[0].Actual, 8)
}

func TestFindCorrupted_Empty(t *testing.T) {
	assert.Empty(t, FindCorrupted([]*models.Job{}))
}
