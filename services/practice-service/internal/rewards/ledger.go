// Package rewards is the append-only loyalty points ledger. A client's
// balance is the sum of its entries and redemptions never drive it negative.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/apperr"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

type Ledger struct {
	now func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Append writes one entry. A non-empty sourceRef may be used once per
// client; a repeat reports IdempotencyReplay and writes nothing.
func (l *Ledger) Append(ctx context.Context, tx storage.Rewards, org tenant.ID, clientID string, points int64, reason, sourceRef string, multiplier decimal.Decimal) (model.RewardEntry, error) {
	if points == 0 {
		return model.RewardEntry{}, apperr.Validation("reward entry must change the balance")
	}
	e := model.RewardEntry{
		ID:             uuid.NewString(),
		OrganizationID: string(org),
		ClientID:       clientID,
		Points:         points,
		Reason:         reason,
		SourceRef:      sourceRef,
		Multiplier:     multiplier,
		CreatedAt:      l.now().UTC(),
	}
	if err := tx.InsertRewardEntry(ctx, e); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return model.RewardEntry{}, apperr.IdempotencyReplay(sourceRef)
		}
		return model.RewardEntry{}, fmt.Errorf("insert reward entry: %w", err)
	}
	return e, nil
}

func (l *Ledger) Balance(ctx context.Context, tx storage.Rewards, org tenant.ID, clientID string) (int64, error) {
	return tx.RewardBalance(ctx, org, clientID)
}

type Redemption struct {
	Entry   model.RewardEntry `json:"entry"`
	Option  string            `json:"option"`
	Balance int64             `json:"balance"`
}

// Redeem spends an option's cost. The client's account is locked for the
// rest of tx so concurrent redemptions see each other's entries.
func (l *Ledger) Redeem(ctx context.Context, tx storage.Rewards, org tenant.ID, clientID, optionID string) (Redemption, error) {
	if err := tx.LockRewardAccount(ctx, org, clientID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Redemption{}, apperr.NotFound("client")
		}
		return Redemption{}, fmt.Errorf("lock reward account: %w", err)
	}
	opt, err := tx.RewardOption(ctx, org, optionID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !opt.Active) {
		return Redemption{}, apperr.Validation("unknown reward option %q", optionID)
	}
	if err != nil {
		return Redemption{}, fmt.Errorf("load reward option: %w", err)
	}
	if opt.PointsCost <= 0 {
		return Redemption{}, apperr.Validation("reward option %q has no cost", optionID)
	}

	balance, err := tx.RewardBalance(ctx, org, clientID)
	if err != nil {
		return Redemption{}, fmt.Errorf("reward balance: %w", err)
	}
	if balance < opt.PointsCost {
		return Redemption{}, apperr.InsufficientBalance(balance)
	}
	entry, err := l.Append(ctx, tx, org, clientID, -opt.PointsCost, "redeemed "+opt.Name, "", decimal.Zero)
	if err != nil {
		return Redemption{}, err
	}
	return Redemption{Entry: entry, Option: opt.ID, Balance: balance - opt.PointsCost}, nil
}

// Earned is floor(price * baseRate * (1 + multiplier)), never negative.
func Earned(price, baseRate, multiplier decimal.Decimal) int64 {
	pts := price.Mul(baseRate).Mul(decimal.NewFromInt(1).Add(multiplier)).Floor()
	if pts.IsNegative() {
		return 0
	}
	return pts.IntPart()
}
