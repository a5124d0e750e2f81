package cli

import (
	"context"
	"errors"
	"fmt"

	jobsync "github.com/iudanet/jobsync/internal/client/sync"
)

func (c *Cli) runSync(ctx context.Context, full bool) error {
	c.io.Println("=== Synchronization ===")
	c.io.Println()

	var err error
	if full {
		c.io.Println("Starting full resynchronization...")
		err = c.jobs.ForceFullSync(ctx)
	} else {
		err = c.jobs.Reconcile(ctx)
	}
	if errors.Is(err, jobsync.ErrSyncInProgress) {
		c.io.Println("Another synchronization is in progress, try again later.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("synchronization failed: %w", err)
	}
	c.jobs.Wait()

	switch c.jobs.Status() {
	case jobsync.StatusIdle:
		c.io.Println("Not signed in: records are kept locally.")
		c.io.Println("Run 'jobsync login' to sync with a server.")
		return nil
	case jobsync.StatusOffline:
		c.io.Println("Server unreachable: local changes stay queued.")
	case jobsync.StatusConflict:
		c.io.Printf("⚠️  %d conflict(s) need resolution. Run 'jobsync conflicts'.\n", len(c.jobs.Conflicts()))
	case jobsync.StatusError:
		c.io.Println("⚠️  Synchronization finished with errors, see 'jobsync status'.")
	default:
		c.io.Println("✓ Synchronization completed successfully!")
	}

	state, err := c.jobs.State(ctx)
	if err != nil {
		return fmt.Errorf("failed to read sync state: %w", err)
	}
	c.io.Println()
	c.io.Printf("Records:   %d\n", len(c.jobs.Items()))
	c.io.Printf("Pending:   %d\n", state.PendingCount)
	c.io.Printf("Last sync: %s\n", formatMillis(state.LastCloudSync))

	return nil
}
