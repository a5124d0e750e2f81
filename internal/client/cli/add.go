package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iudanet/jobsync/internal/models"
)

// jobFields are the editable job fields taken from flags
type jobFields struct {
	customer    string
	vehicle     string
	description string
	state       string
	notes       string
	parts       []string
	hours       float64
}

func (f *jobFields) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.customer, "customer", "", "customer name")
	fs.StringVar(&f.vehicle, "vehicle", "", "vehicle (make, model, plate)")
	fs.StringVar(&f.description, "description", "", "work description")
	fs.StringVar(&f.state, "state", "", "job state (open|in_progress|done)")
	fs.StringVar(&f.notes, "notes", "", "notes")
	fs.StringSliceVar(&f.parts, "part", nil, "used part, repeatable")
	fs.Float64Var(&f.hours, "hours", 0, "labor hours")
}

// apply copies the fields for which changed reports true
func (f *jobFields) apply(j *models.Job, changed func(name string) bool) {
	if changed("customer") {
		j.Customer = f.customer
	}
	if changed("vehicle") {
		j.Vehicle = f.vehicle
	}
	if changed("description") {
		j.Description = f.description
	}
	if changed("state") {
		j.State = f.state
	}
	if changed("notes") {
		j.Notes = f.notes
	}
	if changed("part") {
		j.Parts = append([]string(nil), f.parts...)
	}
	if changed("hours") {
		j.LaborHours = f.hours
	}
}

func (c *Cli) runAdd(ctx context.Context, f jobFields) error {
	c.io.Println("=== Add Job ===")
	c.io.Println()

	if strings.TrimSpace(f.customer) == "" {
		customer, err := c.io.ReadInput("Customer: ")
		if err != nil {
			return fmt.Errorf("failed to read customer: %w", err)
		}
		if customer == "" {
			return fmt.Errorf("customer cannot be empty")
		}
		f.customer = customer
	}
	if f.state == "" {
		f.state = models.JobStateOpen
	}

	job := &models.Job{}
	f.apply(job, func(string) bool { return true })

	saved, err := c.jobs.Add(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to add job: %w", err)
	}

	c.io.Println("✓ Job added successfully!")
	c.printJob(saved)
	c.reportPending(ctx)

	return nil
}

func (c *Cli) runUpdate(ctx context.Context, id string, f jobFields, changed func(name string) bool) error {
	touched := false
	for _, name := range []string{"customer", "vehicle", "description", "state", "notes", "part", "hours"} {
		touched = touched || changed(name)
	}
	if !touched {
		return fmt.Errorf("nothing to update, pass at least one field flag")
	}

	id = c.resolveID(id)
	saved, err := c.jobs.Update(ctx, id, func(j *models.Job) {
		f.apply(j, changed)
	})
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	c.io.Println("✓ Job updated")
	c.printJob(saved)
	c.reportPending(ctx)

	return nil
}

func (c *Cli) printJob(j *models.Job) {
	c.io.Println()
	c.io.Printf("ID:          %s\n", j.ID)
	c.io.Printf("Customer:    %s\n", j.Customer)
	if j.Vehicle != "" {
		c.io.Printf("Vehicle:     %s\n", j.Vehicle)
	}
	if j.Description != "" {
		c.io.Printf("Description: %s\n", j.Description)
	}
	c.io.Printf("State:       %s\n", j.State)
	if len(j.Parts) > 0 {
		c.io.Printf("Parts:       %s\n", strings.Join(j.Parts, ", "))
	}
	if j.LaborHours > 0 {
		c.io.Printf("Hours:       %.2f\n", j.LaborHours)
	}
	if j.Notes != "" {
		c.io.Printf("Notes:       %s\n", j.Notes)
	}
	c.io.Printf("Sync:        %s\n", j.SyncStatus)
	c.io.Printf("Updated:     %s\n", formatMillis(j.Timestamp()))
	c.io.Println()
}
