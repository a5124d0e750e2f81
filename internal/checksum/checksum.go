// Package checksum computes deterministic content hashes for syncable records.
//
// The hash is meant to detect storage corruption (a bad sync, a manual edit of
// the local database), not to provide any security guarantee.
package checksum

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/iudanet/jobsync/internal/models"
)

// Field is the JSON key that carries a record checksum.
const Field = "_checksum"

const djb2Seed uint32 = 5381

// Corruption describes a record whose stored checksum does not match its content.
type Corruption struct {
	ID       string `json:"id"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Result is the outcome of validating a raw checksummed object.
type Result struct {
	Expected string
	Actual   string
	Valid    bool
	Checked  bool // false when the object carried no checksum
}

// Generate returns the 8-character lowercase hex checksum of v.
// Two values with identical content produce the same checksum regardless of
// object key order.
func Generate(v any) (string, error) {
	canonical, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%08x", djb2(canonical)), nil
}

// Canonical serializes v as JSON with every object key sorted recursively.
// Arrays keep their element order; numbers keep their textual form.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	// Раскладываем в дерево map/slice, чтобы encoding/json отсортировал ключи
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("failed to encode canonical form: %w", err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// djb2 is the classic multiply-add string hash: h = h*33 + b.
func djb2(data []byte) uint32 {
	h := djb2Seed
	for _, b := range data {
		h = h*33 + uint32(b)
	}
	return h
}

// Add stamps r with a checksum computed over its content without any
// previous checksum.
func Add(r models.Syncable) error {
	meta := r.SyncMeta()
	meta.Checksum = ""

	sum, err := Generate(r)
	if err != nil {
		return fmt.Errorf("failed to generate checksum for %s: %w", meta.ID, err)
	}

	meta.Checksum = sum
	return nil
}

// Compute returns the checksum r should carry, leaving r unchanged.
func Compute(r models.Syncable) (string, error) {
	meta := r.SyncMeta()
	stored := meta.Checksum
	meta.Checksum = ""
	defer func() { meta.Checksum = stored }()

	return Generate(r)
}

// Verify reports whether r matches its stored checksum.
// A record without a checksum is unchecked and therefore valid.
func Verify(r models.Syncable) (bool, error) {
	stored := r.SyncMeta().Checksum
	if stored == "" {
		return true, nil
	}

	actual, err := Compute(r)
	if err != nil {
		return false, err
	}

	return actual == stored, nil
}

// Validate checks a raw JSON object carrying a "_checksum" field.
func Validate(data map[string]any) (Result, error) {
	stored, _ := data[Field].(string)
	if stored == "" {
		return Result{Valid: true}, nil
	}

	content := make(map[string]any, len(data))
	for k, v := range data {
		if k != Field {
			content[k] = v
		}
	}

	actual, err := Generate(content)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Expected: stored,
		Actual:   actual,
		Valid:    stored == actual,
		Checked:  true,
	}, nil
}

// FindCorrupted scans items and reports every checksum mismatch.
// Items without a checksum are skipped. The scan never fails: an item whose
// checksum cannot be computed is reported with an empty Actual value.
func FindCorrupted[T models.Syncable](items []T) []Corruption {
	var corrupted []Corruption

	for _, item := range items {
		meta := item.SyncMeta()
		if meta.Checksum == "" {
			continue
		}

		actual, err := Compute(item)
		if err != nil {
			actual = ""
		}

		if actual != meta.Checksum {
			corrupted = append(corrupted, Corruption{
				ID:       meta.ID,
				Expected: meta.Checksum,
				Actual:   actual,
			})
		}
	}

	return corrupted
}
