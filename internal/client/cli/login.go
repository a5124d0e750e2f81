package cli

import (
	"context"
	"fmt"
	"time"
)

func (c *Cli) runLogin(ctx context.Context, token, userID string) error {
	c.io.Println("=== Login ===")
	c.io.Println()

	if token == "" {
		var err error
		token, err = c.io.ReadPassword("Access token: ")
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
	}

	s, err := c.session.Login(ctx, token, userID, c.server)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	c.io.Println("✓ Login successful!")
	c.io.Printf("User:   %s\n", s.UserID)
	c.io.Printf("Server: %s\n", s.Server)
	if s.ExpiresAt > 0 {
		c.io.Printf("Token expires: %s\n", time.Unix(s.ExpiresAt, 0).Format(time.RFC3339))
	}
	c.io.Println()
	c.io.Println("Run 'jobsync sync' to fetch your records.")

	return nil
}
