package rebalance

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Store persists the exclusion table, the current epoch's fee spend, and
// attempt history. Persistence is optional: a nil Store (or nil pool) turns
// every method into a no-op and the daemon runs fully in memory.
type Store struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

func NewStore(db *pgxpool.Pool, logger zerolog.Logger) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db, logger: logger}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec(ctx, `
create table if not exists rebalance_exclusions (
  source_channel_id text not null,
  target_channel_id text not null,
  failures integer not null default 0,
  expires_at timestamptz,
  permanent boolean not null default false,
  last_reason text,
  updated_at timestamptz not null default now(),
  primary key (source_channel_id, target_channel_id)
);

create table if not exists rebalance_epoch_budget (
  epoch_start timestamptz primary key,
  spent_sat bigint not null default 0,
  reserved_sat bigint not null default 0,
  updated_at timestamptz not null default now()
);

create table if not exists rebalance_attempts (
  id text primary key,
  source_channel_id text not null,
  target_channel_id text not null,
  amount_sat bigint not null,
  fee_ceiling_sat bigint not null,
  fee_paid_sat bigint not null default 0,
  status text not null,
  payment_id text,
  payment_hash text,
  fail_reason text,
  created_at timestamptz not null,
  resolved_at timestamptz
);

create index if not exists rebalance_attempts_status_idx on rebalance_attempts (status);
create index if not exists rebalance_attempts_created_idx on rebalance_attempts (created_at desc);
`)
	return err
}

func (s *Store) SaveExclusions(ctx context.Context, entries []ExclusionEntry) {
	if s == nil || s.db == nil {
		return
	}
	if _, err := s.db.Exec(ctx, `delete from rebalance_exclusions`); err != nil {
		s.logger.Warn().Err(err).Msg("failed to clear exclusion table")
		return
	}
	for _, entry := range entries {
		expires := pgtype.Timestamptz{}
		if !entry.ExpiresAt.IsZero() {
			expires = pgtype.Timestamptz{Time: entry.ExpiresAt, Valid: true}
		}
		_, err := s.db.Exec(ctx, `
insert into rebalance_exclusions (source_channel_id, target_channel_id, failures, expires_at, permanent, last_reason, updated_at)
values ($1,$2,$3,$4,$5,$6,now())
 on conflict (source_channel_id, target_channel_id) do update set
  failures = excluded.failures,
  expires_at = excluded.expires_at,
  permanent = excluded.permanent,
  last_reason = excluded.last_reason,
  updated_at = now()
`, entry.Pair.Source, entry.Pair.Target, entry.Failures, expires, entry.Permanent, nullableString(entry.LastReason))
		if err != nil {
			s.logger.Warn().Err(err).Str("pair", entry.Pair.String()).Msg("failed to persist exclusion")
			return
		}
	}
}

func (s *Store) LoadExclusions(ctx context.Context) ([]ExclusionEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
select source_channel_id, target_channel_id, failures, expires_at, permanent, coalesce(last_reason, '')
from rebalance_exclusions
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ExclusionEntry
	for rows.Next() {
		var entry ExclusionEntry
		var expires pgtype.Timestamptz
		if err := rows.Scan(&entry.Pair.Source, &entry.Pair.Target, &entry.Failures, &expires, &entry.Permanent, &entry.LastReason); err != nil {
			return nil, err
		}
		if expires.Valid {
			entry.ExpiresAt = expires.Time
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) SaveEpochBudget(ctx context.Context, epochStart time.Time, spentSat, reservedSat int64) {
	if s == nil || s.db == nil {
		return
	}
	_, err := s.db.Exec(ctx, `
insert into rebalance_epoch_budget (epoch_start, spent_sat, reserved_sat, updated_at)
values ($1,$2,$3,now())
 on conflict (epoch_start) do update set
  spent_sat = excluded.spent_sat,
  reserved_sat = excluded.reserved_sat,
  updated_at = now()
`, epochStart, spentSat, reservedSat)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist epoch budget")
	}
}

func (s *Store) LoadEpochBudget(ctx context.Context, epochStart time.Time) (int64, int64, bool, error) {
	if s == nil || s.db == nil {
		return 0, 0, false, nil
	}
	var spent, reserved int64
	err := s.db.QueryRow(ctx, `
select spent_sat, reserved_sat from rebalance_epoch_budget where epoch_start=$1
`, epochStart).Scan(&spent, &reserved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}
	return spent, reserved, true, nil
}

func (s *Store) RecordAttempt(ctx context.Context, attempt *Attempt) {
	if s == nil || s.db == nil || attempt == nil {
		return
	}
	resolved := pgtype.Timestamptz{}
	if !attempt.ResolvedAt.IsZero() {
		resolved = pgtype.Timestamptz{Time: attempt.ResolvedAt, Valid: true}
	}
	_, err := s.db.Exec(ctx, `
insert into rebalance_attempts (
  id, source_channel_id, target_channel_id, amount_sat, fee_ceiling_sat, fee_paid_sat,
  status, payment_id, payment_hash, fail_reason, created_at, resolved_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
 on conflict (id) do update set
  fee_paid_sat = excluded.fee_paid_sat,
  status = excluded.status,
  fail_reason = excluded.fail_reason,
  resolved_at = excluded.resolved_at
`, attempt.ID, attempt.SourceChannelID, attempt.TargetChannelID, attempt.AmountSat,
		attempt.FeeCeilingSat, attempt.FeePaidSat, attempt.Status,
		nullableString(attempt.PaymentID), nullableString(attempt.PaymentHash),
		nullableString(attempt.FailReason), attempt.CreatedAt, resolved)
	if err != nil {
		s.logger.Warn().Err(err).Str("attempt", attempt.ID).Msg("failed to record attempt")
	}
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
