package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowdeskhq/flowdesk/internal/models"
	"github.com/flowdeskhq/flowdesk/internal/notify"
	"github.com/flowdeskhq/flowdesk/internal/store"
)

// Sweeper closes pending tickets that have seen no activity for longer
// than maxIdle. Unattended conversations otherwise pile up forever: the
// engine only ever creates and advances tickets, it never closes them.
type Sweeper struct {
	store    store.Store
	notifier notify.Notifier
	logger   *slog.Logger
	cron     *cron.Cron
	spec     string
	maxIdle  time.Duration
	clock    func() time.Time
	entry    cron.EntryID
}

// New creates a sweeper running on the given cron spec ("@every 10m" style
// descriptors included). maxIdle of zero disables sweeping entirely.
func New(log *slog.Logger, st store.Store, notifier notify.Notifier, spec string, maxIdle time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:    st,
		notifier: notifier,
		logger:   log.With(slog.String("component", "sweeper")),
		cron:     cron.New(),
		spec:     spec,
		maxIdle:  maxIdle,
		clock:    time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Sweeper) SetClock(now func() time.Time) { s.clock = now }

// Start validates the spec and begins the periodic sweep.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.maxIdle <= 0 {
		s.logger.Info("ticket sweeper disabled")
		return nil
	}
	entry, err := s.cron.AddFunc(s.spec, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("sweep failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("sweeper: invalid cron spec %q: %w", s.spec, err)
	}
	s.entry = entry
	s.cron.Start()
	s.logger.Info("ticket sweeper started",
		slog.String("spec", s.spec),
		slog.Duration("max_idle", s.maxIdle))
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep closes every pending ticket idle past the cutoff. Failures on one
// ticket do not stop the rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.clock().Add(-s.maxIdle)
	stale, err := s.store.ListStalePendingTickets(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sweeper: list stale tickets: %w", err)
	}

	closed := 0
	status := models.StatusClosed
	for _, ticket := range stale {
		updated, err := s.store.UpdateTicket(ctx, ticket.ID, store.TicketPatch{Status: &status})
		if err != nil {
			s.logger.Error("close stale ticket",
				slog.String("ticket_id", ticket.ID),
				slog.Any("error", err))
			continue
		}
		closed++
		if s.notifier != nil {
			s.notifier.Notify(notify.Event{
				Topic:    notify.TopicTicket,
				TenantID: ticket.TenantID,
				Data:     notify.Marshal(updated),
			})
		}
	}
	if closed > 0 {
		s.logger.Info("closed stale tickets", slog.Int("count", closed))
	}
	return nil
}
