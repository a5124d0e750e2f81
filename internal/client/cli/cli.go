// Package cli implements the jobsync client commands on top of the sync
// engine. Commands only read from and write to the local store; the engine
// pushes changes and reconciles with the server.
package cli

import (
	"context"
	"strings"
	"time"

	"github.com/iudanet/jobsync/internal/checksum"
	"github.com/iudanet/jobsync/internal/client/auth"
	"github.com/iudanet/jobsync/internal/client/iocli"
	"github.com/iudanet/jobsync/internal/client/queue"
	jobsync "github.com/iudanet/jobsync/internal/client/sync"
	"github.com/iudanet/jobsync/internal/client/syncstate"
	"github.com/iudanet/jobsync/internal/merge"
	"github.com/iudanet/jobsync/internal/models"
)

// Jobs is the engine surface used by the commands
type Jobs interface {
	Add(ctx context.Context, item *models.Job) (*models.Job, error)
	Update(ctx context.Context, id string, mutate func(*models.Job)) (*models.Job, error)
	Remove(ctx context.Context, id string) error
	ResolveConflict(ctx context.Context, id string, choice merge.Resolution) error
	Reconcile(ctx context.Context) error
	ForceFullSync(ctx context.Context) error
	ClearCache(ctx context.Context) error
	State(ctx context.Context) (syncstate.State, error)
	PendingOperations(ctx context.Context) ([]queue.Operation, error)
	VerifyIntegrity(ctx context.Context) ([]checksum.Corruption, error)
	Items() []*models.Job
	Get(id string) (*models.Job, bool)
	Conflicts() []merge.Conflict[*models.Job]
	Status() jobsync.Status
	DeviceID() string
	Wait()
}

var _ Jobs = (*jobsync.Engine[*models.Job])(nil)

// Sessions stores the access token
type Sessions interface {
	Login(ctx context.Context, token, userID, server string) (*auth.Session, error)
	Load(ctx context.Context) (*auth.Session, error)
	Delete(ctx context.Context) error
}

var _ Sessions = (*auth.FileSession)(nil)

type Cli struct {
	io      iocli.IO
	jobs    Jobs // nil у команд, которым не нужно локальное хранилище
	session Sessions
	now     func() time.Time
	server  string
}

func New(io iocli.IO, jobs Jobs, session Sessions, server string) *Cli {
	return &Cli{
		io:      io,
		jobs:    jobs,
		session: session,
		server:  server,
		now:     time.Now,
	}
}

// reportPending waits for background pushes and tells the user where the
// last change ended up.
func (c *Cli) reportPending(ctx context.Context) {
	c.jobs.Wait()

	if c.jobs.Status() == jobsync.StatusIdle {
		c.io.Println("Note: stored locally. Run 'jobsync login' to sync with a server.")
		return
	}

	ops, err := c.jobs.PendingOperations(ctx)
	if err != nil {
		c.io.Printf("Warning: failed to read the queue: %v\n", err)
		return
	}
	if len(ops) > 0 {
		c.io.Printf("Note: %d change(s) queued, they are pushed when the server is reachable.\n", len(ops))
		return
	}
	c.io.Println("✓ Synced with server")
}

// formatMillis renders a Unix millisecond timestamp; zero means never
func formatMillis(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(ms).Local().Format(time.DateTime)
}

func shortID(id string) string {
	if len(id) > 8 && strings.Count(id, "-") == 4 {
		return id[:8]
	}
	return id
}
