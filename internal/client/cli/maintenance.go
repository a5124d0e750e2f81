package cli

import (
	"context"
	"fmt"
	"strings"
)

func (c *Cli) runVerify(ctx context.Context) error {
	c.io.Println("=== Integrity Check ===")
	c.io.Println()

	corrupted, err := c.jobs.VerifyIntegrity(ctx)
	if err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}

	if len(corrupted) == 0 {
		c.io.Printf("✓ All %d record(s) match their checksums\n", len(c.jobs.Items()))
		return nil
	}

	for _, rec := range corrupted {
		c.io.Printf("✗ %s: expected %s, got %s\n", rec.ID, rec.Expected, rec.Actual)
	}
	c.io.Println()
	c.io.Println("Run 'jobsync force-sync' to restore the records from the server.")

	return fmt.Errorf("%d corrupted record(s)", len(corrupted))
}

func (c *Cli) runClearCache(ctx context.Context, yes bool) error {
	c.io.Println("=== Clear Local Cache ===")
	c.io.Println()

	ops, err := c.jobs.PendingOperations(ctx)
	if err != nil {
		return fmt.Errorf("failed to read the queue: %w", err)
	}
	if len(ops) > 0 {
		c.io.Printf("⚠️  %d change(s) have not reached the server and will be lost.\n", len(ops))
	}

	if !yes {
		answer, err := c.io.ReadInput("Delete all local records? Type 'yes' to continue: ")
		if err != nil {
			return fmt.Errorf("failed to read answer: %w", err)
		}
		if !strings.EqualFold(answer, "yes") {
			c.io.Println("Aborted.")
			return nil
		}
	}

	if err := c.jobs.ClearCache(ctx); err != nil {
		return err
	}

	c.io.Println("✓ Local cache cleared. Run 'jobsync sync' to download records again.")
	return nil
}
