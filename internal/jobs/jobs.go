// Package jobs runs the console's background maintenance: a scheduled
// certificate sweep that refreshes every server's cached inventory and
// warns about upcoming expiries, and an hourly prune of old connection
// log rows.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentconn"
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentrest"
	"github.com/EnderKC/BetterMonitor-sub000/internal/database"
)

// sweepTimeout bounds how long one agent may take to answer the sweep.
const sweepTimeout = 30 * time.Second

// Runner owns the cron scheduler and the job implementations.
type Runner struct {
	cron      *cron.Cron
	resolver  agentconn.ServerResolver
	warnAfter time.Duration
	logMaxAge time.Duration
}

// New builds a Runner. warnDays is how far ahead the sweep warns about
// certificate expiry; logMaxAge is how long connection log rows are kept.
func New(resolver agentconn.ServerResolver, warnDays int, logMaxAge time.Duration) *Runner {
	return &Runner{
		cron:      cron.New(),
		resolver:  resolver,
		warnAfter: time.Duration(warnDays) * 24 * time.Hour,
		logMaxAge: logMaxAge,
	}
}

// Start schedules the jobs and starts the scheduler. certSchedule is a
// standard five-field cron expression.
func (r *Runner) Start(certSchedule string) error {
	if _, err := r.cron.AddFunc(certSchedule, r.SweepCertificates); err != nil {
		return fmt.Errorf("schedule certificate sweep: %w", err)
	}
	if _, err := r.cron.AddFunc("@hourly", r.PruneConnectionLogs); err != nil {
		return fmt.Errorf("schedule connection log prune: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any running job to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

// SweepCertificates refreshes the cached certificate inventory of every
// server whose agent answers, then logs a warning for each certificate
// expiring within the warn window. Unreachable agents keep their stale
// cache; the expiry check still sees their last known inventory.
func (r *Runner) SweepCertificates() {
	servers, err := database.ListServers()
	if err != nil {
		log.Printf("Certificate sweep: list servers: %v", err)
		return
	}

	refreshed := 0
	for _, srv := range servers {
		if err := r.refreshServer(srv.ID); err != nil {
			log.Printf("Certificate sweep: server %d (%s): %v", srv.ID, srv.Name, err)
			continue
		}
		refreshed++
	}

	expiring, err := database.ExpiringCertificates(time.Now().Add(r.warnAfter))
	if err != nil {
		log.Printf("Certificate sweep: expiry query: %v", err)
		return
	}
	for _, c := range expiring {
		remaining := time.Until(c.NotAfter)
		if remaining < 0 {
			log.Printf("Certificate EXPIRED: %s on server %d (since %s)",
				c.Domain, c.ServerID, c.NotAfter.Format(time.RFC3339))
			continue
		}
		log.Printf("Certificate expiring soon: %s on server %d in %dd",
			c.Domain, c.ServerID, int(remaining.Hours()/24))
	}

	log.Printf("Certificate sweep done: %d/%d server(s) refreshed, %d certificate(s) expiring within %dd",
		refreshed, len(servers), len(expiring), int(r.warnAfter.Hours()/24))
}

func (r *Runner) refreshServer(serverID uint) error {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	ep, err := r.resolver.ResolveServer(ctx, serverID)
	if err != nil {
		return err
	}
	inventory, err := agentrest.NewClient(ep).ListCertificates(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	rows := make([]database.Certificate, 0, len(inventory))
	for _, c := range inventory {
		rows = append(rows, database.Certificate{
			ServerID:      serverID,
			Domain:        c.Domain,
			Issuer:        c.Issuer,
			NotBefore:     c.NotBefore,
			NotAfter:      c.NotAfter,
			LastCheckedAt: now,
		})
	}
	return database.ReplaceCertificates(serverID, rows)
}

// PruneConnectionLogs deletes connection log rows older than the
// retention window.
func (r *Runner) PruneConnectionLogs() {
	cutoff := time.Now().Add(-r.logMaxAge)
	n, err := database.PruneConnectionLogs(cutoff)
	if err != nil {
		log.Printf("Connection log prune: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Connection log prune: removed %d row(s) older than %s", n, cutoff.Format(time.RFC3339))
	}
}
