package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/iudanet/jobsync/internal/client/auth"
)

func (c *Cli) runStatus(ctx context.Context) error {
	c.io.Println("=== Sync Status ===")
	c.io.Println()

	s, err := c.session.Load(ctx)
	switch {
	case errors.Is(err, auth.ErrNoSession):
		c.io.Println("Session: not signed in, working in local-only mode")
	case err != nil:
		return fmt.Errorf("failed to read session: %w", err)
	case s.Expired(c.now()):
		c.io.Printf("Session: expired for %s at %s\n", s.UserID, time.Unix(s.ExpiresAt, 0).Format(time.RFC3339))
		c.io.Println("⚠️  Run 'jobsync login' with a new token.")
	default:
		c.io.Printf("Session: %s @ %s\n", s.UserID, s.Server)
	}

	state, err := c.jobs.State(ctx)
	if err != nil {
		return fmt.Errorf("failed to read sync state: %w", err)
	}

	c.io.Println()
	c.io.Printf("Device:        %s\n", c.jobs.DeviceID())
	c.io.Printf("Status:        %s\n", c.jobs.Status())
	c.io.Printf("Records:       %d\n", len(c.jobs.Items()))
	c.io.Printf("Last sync:     %s\n", formatMillis(state.LastCloudSync))
	c.io.Printf("Last change:   %s\n", formatMillis(state.LastLocalModified))
	c.io.Printf("Pending:       %d\n", state.PendingCount)

	if n := len(c.jobs.Conflicts()); n > 0 {
		c.io.Printf("⚠️  Conflicts:  %d, run 'jobsync conflicts'\n", n)
	}
	if state.LastError != "" {
		c.io.Printf("Last error:    %s (%s)\n", state.LastError, formatMillis(state.LastErrorTime))
	}

	if len(state.Rejected) > 0 {
		c.io.Println()
		c.io.Printf("⚠️  Held back:  %d record(s) refused by the server\n", len(state.Rejected))
		for _, id := range slices.Sorted(maps.Keys(state.Rejected)) {
			c.io.Printf("  %s  %s\n", shortID(id), state.Rejected[id].Error)
		}
		c.io.Println("Edit the records or run 'jobsync force-sync' to push them again.")
	}

	return nil
}
