package conflict

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nmscd/warroom/internal/domain"
	"github.com/nmscd/warroom/internal/store"
)

// PlannedTransfer is one claim reassignment the resolver must apply.
type PlannedTransfer struct {
	SystemID      string
	FromPartnerID string
	ToPartnerID   string
}

// TransferResolver atomically reassigns claims when a proposal is accepted.
// All-or-nothing: a single failed reassignment rolls back the whole set, so
// callers never observe a half-applied transfer.
type TransferResolver struct {
	Claims *store.ClaimRepo
	Now    func() time.Time
}

// NewTransferResolver creates a TransferResolver.
func NewTransferResolver() *TransferResolver {
	return &TransferResolver{Claims: &store.ClaimRepo{}, Now: time.Now}
}

// Transfer applies the planned reassignments in a fresh transaction.
func (r *TransferResolver) Transfer(ctx context.Context, db *sql.DB, conflictID string, planned []PlannedTransfer) (*domain.TransferResult, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := r.TransferTx(ctx, tx, conflictID, planned)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.WrapWarRoomError(domain.ErrTransferFailed.Code, "commit transfer", err)
	}
	return result, nil
}

// TransferTx applies the planned reassignments within an existing transaction.
// Each source claim is re-verified under the write lock: if it vanished or
// changed hands since validation, the transfer fails and the caller's rollback
// restores the pre-transfer claim set.
func (r *TransferResolver) TransferTx(ctx context.Context, tx *sql.Tx, conflictID string, planned []PlannedTransfer) (*domain.TransferResult, error) {
	result := &domain.TransferResult{ConflictID: conflictID}
	now := r.Now().Unix()

	for _, p := range planned {
		current, err := r.Claims.GetBySystemTx(ctx, tx, p.SystemID)
		if err != nil {
			return nil, domain.WrapWarRoomError(domain.ErrTransferFailed.Code,
				fmt.Sprintf("source claim on %s unavailable", p.SystemID), err)
		}
		if current.PartnerID != p.FromPartnerID {
			return nil, domain.NewWarRoomError(domain.ErrTransferFailed.Code,
				fmt.Sprintf("system %s is no longer held by %s", p.SystemID, p.FromPartnerID))
		}

		if err := r.Claims.DeleteTx(ctx, tx, current.ID); err != nil {
			return nil, domain.WrapWarRoomError(domain.ErrTransferFailed.Code,
				fmt.Sprintf("release claim on %s", p.SystemID), err)
		}

		// Notes carry over so claim history survives the handover.
		replacement := domain.TerritoryClaim{
			ID:        uuid.NewString(),
			SystemID:  p.SystemID,
			PartnerID: p.ToPartnerID,
			Notes:     current.Notes,
			CreatedAt: now,
		}
		if err := r.Claims.CreateTx(ctx, tx, replacement); err != nil {
			return nil, domain.WrapWarRoomError(domain.ErrTransferFailed.Code,
				fmt.Sprintf("reassign claim on %s", p.SystemID), err)
		}

		result.Reassigned = append(result.Reassigned, domain.ReassignedClaim{
			SystemID:      p.SystemID,
			FromPartnerID: p.FromPartnerID,
			ToPartnerID:   p.ToPartnerID,
			NewClaimID:    replacement.ID,
		})
	}

	return result, nil
}
