package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/iudanet/jobsync/internal/models"
)

func (c *Cli) runList(ctx context.Context, state string) error {
	c.io.Println("=== Jobs ===")
	c.io.Println()

	var jobs []*models.Job
	for _, j := range c.jobs.Items() {
		if state == "" || j.State == state {
			jobs = append(jobs, j)
		}
	}

	if len(jobs) == 0 {
		c.io.Println("No jobs found.")
		c.io.Println()
		c.io.Println("Use 'jobsync add --customer <name>' to add your first job.")
		return nil
	}

	c.io.Printf("Found %d job(s):\n", len(jobs))
	c.io.Println()

	w := tabwriter.NewWriter(c.io, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCUSTOMER\tSTATE\tSYNC\tUPDATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			shortID(j.ID), truncate(j.Customer, 32), j.State, j.SyncStatus, formatMillis(j.Timestamp()))
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write list: %w", err)
	}

	if n := len(c.jobs.Conflicts()); n > 0 {
		c.io.Println()
		c.io.Printf("⚠️  %d job(s) in conflict. Run 'jobsync conflicts' to review.\n", n)
	}

	return nil
}

func (c *Cli) runShow(ctx context.Context, id string) error {
	j, ok := c.jobs.Get(c.resolveID(id))
	if !ok {
		return fmt.Errorf("job not found with ID: %s", id)
	}

	c.io.Println("=== Job Details ===")
	c.printJob(j)
	c.io.Printf("Device:      %s\n", j.DeviceID)
	c.io.Printf("Created:     %s\n", formatMillis(j.CreatedAt))
	c.io.Printf("Synced:      %s\n", formatMillis(j.SyncedAt))
	c.io.Printf("Checksum:    %s\n", j.Checksum)

	return nil
}

func (c *Cli) runRemove(ctx context.Context, id string) error {
	id = c.resolveID(id)
	if err := c.jobs.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	c.io.Printf("✓ Job %s deleted\n", id)
	c.reportPending(ctx)
	return nil
}

// resolveID expands a unique id prefix, as printed by list, to the full id.
// Anything else is returned unchanged.
func (c *Cli) resolveID(id string) string {
	if _, ok := c.jobs.Get(id); ok || id == "" {
		return id
	}

	match := ""
	for _, j := range c.jobs.Items() {
		if strings.HasPrefix(j.ID, id) {
			if match != "" {
				return id
			}
			match = j.ID
		}
	}
	if match == "" {
		return id
	}
	return match
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
