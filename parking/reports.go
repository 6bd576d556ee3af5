package parking

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/everydev1618/pmc/store"
)

// Values written when crowd reports activate a lot.
const (
	ReportedFreeSpots = "Algunos cupos"
	ReportedRange     = "Reportado por usuarios"
	ReportedStatus    = "Disponible según reportes de conductores"
)

// ReportOutcome describes the effect of a crowd report.
type ReportOutcome struct {
	Lot *store.Lot

	// Count is the number of pending reports after this one, or the
	// threshold when this report activated the lot.
	Count     int
	Threshold int

	AlreadyReported bool
	Activated       bool
	Notified        int
}

// Missing is how many more reports are needed to activate the lot.
func (o *ReportOutcome) Missing() int {
	if o.Count >= o.Threshold {
		return 0
	}
	return o.Threshold - o.Count
}

// Report records a driver's claim that a lot has room. Once the threshold
// of distinct drivers is reached the lot is marked available, subscribers
// are notified and the counter restarts.
func (s *Service) Report(ctx context.Context, driverID, lotID string) (*ReportOutcome, error) {
	lot, err := s.store.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}

	unlock := s.lotLocks.Lock(lot.ID)
	defer unlock()

	out := &ReportOutcome{Lot: lot, Threshold: s.cfg.ReportThreshold}

	already, err := s.store.HasPendingReport(ctx, lot.ID, driverID)
	if err != nil {
		return nil, err
	}
	if already {
		out.AlreadyReported = true
		out.Count, err = s.store.CountPendingReports(ctx, lot.ID)
		return out, err
	}

	if err := s.store.CreateReport(ctx, &store.Report{
		ID:        uuid.NewString(),
		LotID:     lot.ID,
		DriverID:  driverID,
		CreatedAt: s.now(),
		Kind:      store.ReportKindSpots,
	}); err != nil {
		return nil, err
	}
	out.Count, err = s.store.CountPendingReports(ctx, lot.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("spots reported", "lot_id", lot.ID, "driver_id", driverID, "count", out.Count)

	if out.Count >= out.Threshold {
		if err := s.activateFromReports(ctx, out); err != nil {
			return nil, err
		}
	}

	s.sendReportReminder(ctx, driverID)
	return out, nil
}

func (s *Service) activateFromReports(ctx context.Context, out *ReportOutcome) error {
	lot, sent, err := s.UpdateSpots(ctx, out.Lot.ID, SpotUpdate{
		FreeSpots: ReportedFreeSpots,
		HasSpots:  true,
		SpotRange: ReportedRange,
		Status:    ReportedStatus,
	}, true)
	if err != nil {
		return err
	}
	if _, err := s.store.MarkReportsProcessed(ctx, lot.ID); err != nil {
		return err
	}
	if _, err := s.store.DeleteReports(ctx, lot.ID); err != nil {
		return err
	}
	out.Lot = lot
	out.Activated = true
	out.Notified = sent
	s.logger.Info("lot activated by reports", "lot_id", lot.ID, "notified", sent)
	return nil
}

func (s *Service) sendReportReminder(ctx context.Context, driverID string) {
	u, err := s.store.GetUser(ctx, driverID)
	if err != nil {
		return
	}
	access, err := s.PremiumAccess(ctx, u)
	if err != nil {
		return
	}
	s.send(ctx, driverID, ReportReminderMessage(u, access, s.cfg.ReferralDays))
}

// PendingReport is a driver's unprocessed report with the lot's current tally.
type PendingReport struct {
	store.Report
	Lot   *store.Lot
	Count int
}

// PendingReports lists the reports a driver made that have not activated a lot yet.
func (s *Service) PendingReports(ctx context.Context, driverID string) ([]PendingReport, error) {
	reports, err := s.store.ListPendingReportsByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	out := make([]PendingReport, 0, len(reports))
	for _, r := range reports {
		lot, err := s.store.GetLot(ctx, r.LotID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		n, err := s.store.CountPendingReports(ctx, r.LotID)
		if err != nil {
			return nil, err
		}
		out = append(out, PendingReport{Report: r, Lot: lot, Count: n})
	}
	return out, nil
}
