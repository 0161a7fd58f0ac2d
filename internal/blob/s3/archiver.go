package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/yieldloop/loopd/internal/domain"
)

// Archive implements domain.Archiver: settled history is serialized to
// JSONL, uploaded to object storage, and only then removed from the primary
// store. Audit entries are copied but never deleted.
type Archive struct {
	writer    domain.BlobWriter
	positions domain.PositionStore
	audit     domain.AuditStore
	logger    *slog.Logger
}

var _ domain.Archiver = (*Archive)(nil)

func NewArchiver(writer domain.BlobWriter, positions domain.PositionStore, audit domain.AuditStore, logger *slog.Logger) *Archive {
	return &Archive{
		writer:    writer,
		positions: positions,
		audit:     audit,
		logger:    logger.With("component", "archiver"),
	}
}

// archivedPosition is the flat JSONL row written for each closed position.
type archivedPosition struct {
	ID                string  `json:"id"`
	Owner             string  `json:"owner"`
	SplittingMarket   string  `json:"splitting_market"`
	LendingVenue      string  `json:"lending_venue"`
	Collateral        string  `json:"collateral_deposited"`
	Debt              string  `json:"debt_outstanding"`
	InitialDeposit    string  `json:"initial_deposit"`
	LoopsExecuted     int     `json:"loops_executed"`
	TargetLeverageBps int64   `json:"target_leverage_bps"`
	MinHealthRatio    float64 `json:"min_health_ratio"`
	State             string  `json:"state"`
	OpenedAt          string  `json:"opened_at"`
	ClosedAt          string  `json:"closed_at,omitempty"`
}

// ArchiveClosedPositions copies closed positions opened before the cutoff
// to archive/positions/YYYY-MM.jsonl and deletes the copied rows. Returns
// the number of rows archived.
func (a *Archive) ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListClosed(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	rows := make([]archivedPosition, 0, len(positions))
	for _, p := range positions {
		row := archivedPosition{
			ID:                p.ID,
			Owner:             p.Owner.Hex(),
			SplittingMarket:   p.SplittingMarket.Hex(),
			LendingVenue:      p.LendingVenue,
			Collateral:        p.CollateralDeposited.String(),
			Debt:              p.DebtOutstanding.String(),
			InitialDeposit:    p.InitialDeposit.String(),
			LoopsExecuted:     p.LoopsExecuted,
			TargetLeverageBps: p.TargetLeverageBps,
			MinHealthRatio:    p.MinHealthRatio,
			State:             string(p.State),
			OpenedAt:          p.OpenedAt.UTC().Format(time.RFC3339),
		}
		if p.ClosedAt != nil {
			row.ClosedAt = p.ClosedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, row)
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}
	path := archivePath("positions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	// Rows come off the primary store only after the upload succeeded.
	var deleted int64
	for _, p := range positions {
		if err := a.positions.Delete(ctx, p.ID); err != nil {
			a.logger.Warn("archived position not deleted", "position", p.ID, "error", err)
			continue
		}
		deleted++
	}

	count := int64(len(rows))
	if err := a.audit.Log(ctx, "archive.positions", map[string]any{
		"path":    path,
		"count":   count,
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive positions audit log: %w", err)
	}
	a.logger.Info("closed positions archived", "path", path, "count", count, "deleted", deleted)
	return count, nil
}

// ArchiveAuditLog copies audit entries created before the cutoff to
// archive/audit/YYYY-MM.jsonl. The primary rows are kept; the audit log is
// append-only.
func (a *Archive) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}
	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(entries))
	a.logger.Info("audit log archived", "path", path, "count", count)
	return count, nil
}

// Run archives on a fixed interval until ctx is canceled, keeping
// retainDays of history in the primary store.
func (a *Archive) Run(ctx context.Context, interval time.Duration, retainDays int) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -retainDays)
			if _, err := a.ArchiveClosedPositions(ctx, cutoff); err != nil {
				a.logger.Warn("position archive pass failed", "error", err)
			}
			if _, err := a.ArchiveAuditLog(ctx, cutoff); err != nil {
				a.logger.Warn("audit archive pass failed", "error", err)
			}
		}
	}
}

// marshalJSONL renders one JSON document per line.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}
