package cli

import (
	"context"
	"fmt"

	"github.com/iudanet/jobsync/internal/merge"
	"github.com/iudanet/jobsync/internal/models"
)

func (c *Cli) runConflicts(ctx context.Context) error {
	c.io.Println("=== Conflicts ===")
	c.io.Println()

	conflicts := c.jobs.Conflicts()
	if len(conflicts) == 0 {
		if n := c.flagged(); n > 0 {
			c.io.Printf("%d job(s) are marked as conflicting, but the server copy is not loaded.\n", n)
			c.io.Println("Run 'jobsync sync' while online to review them.")
			return nil
		}
		c.io.Println("No conflicts.")
		return nil
	}

	for i, pair := range conflicts {
		c.io.Printf("%d. %s\n", i+1, pair.Local.ID)
		c.printSide("local", pair.Local)
		c.printSide("cloud", pair.Cloud)
		c.io.Println()
	}

	c.io.Println("Resolve with: jobsync resolve <id> <local|cloud|merge>")
	c.io.Println("  local  keep this device's copy and push it")
	c.io.Println("  cloud  take the server copy")
	c.io.Println("  merge  take the server copy and keep the local one as a new job")

	return nil
}

// flagged counts records in conflict state
func (c *Cli) flagged() int {
	n := 0
	for _, j := range c.jobs.Items() {
		if j.SyncStatus == models.SyncStatusConflict {
			n++
		}
	}
	return n
}

func (c *Cli) printSide(side string, j *models.Job) {
	c.io.Printf("   %-5s  %s | %s | %s | device %s\n",
		side, formatMillis(j.Timestamp()), j.Customer, j.State, j.DeviceID)
}

func (c *Cli) runResolve(ctx context.Context, id, choice string) error {
	resolution, err := merge.ParseResolution(choice)
	if err != nil {
		return err
	}

	id = c.resolveID(id)
	found := false
	for _, pair := range c.jobs.Conflicts() {
		if pair.Local.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no conflict for job %s", id)
	}

	if err := c.jobs.ResolveConflict(ctx, id, resolution); err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}

	c.io.Printf("✓ Conflict for %s resolved (%s)\n", id, resolution)
	c.reportPending(ctx)
	return nil
}
