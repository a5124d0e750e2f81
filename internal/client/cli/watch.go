package cli

import (
	"context"
	"time"

	"github.com/iudanet/jobsync/internal/client/events"
)

// watchKinds are the events printed by the watch command
var watchKinds = []events.Kind{
	events.Status,
	events.Conflicts,
	events.OperationFailed,
	events.Online,
	events.Offline,
}

// runWatch prints engine notifications from sub until ctx is done
func (c *Cli) runWatch(ctx context.Context, sub *events.Subscription) error {
	c.io.Println("=== Watching ===")
	c.io.Printf("Status: %s, %d record(s)\n", c.jobs.Status(), len(c.jobs.Items()))
	c.io.Println("Press Ctrl+C to stop, send SIGHUP to sync now.")
	c.io.Println()

	for {
		select {
		case <-ctx.Done():
			c.jobs.Wait()
			c.io.Println("Stopped.")
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			c.printEvent(ev)
		}
	}
}

func (c *Cli) printEvent(ev events.Event) {
	ts := c.now().Format(time.TimeOnly)

	switch ev.Kind {
	case events.Status:
		c.io.Printf("[%s] status: %s\n", ts, ev.Status)
	case events.Conflicts:
		c.io.Printf("[%s] conflicts: %d\n", ts, ev.Count)
	case events.OperationFailed:
		c.io.Printf("[%s] ✗ %s failed: %v\n", ts, ev.Op, ev.Err)
	case events.Online:
		c.io.Printf("[%s] network: online\n", ts)
	case events.Offline:
		c.io.Printf("[%s] network: offline\n", ts)
	}
}
