package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/rukunkita/ipl-recon/internal/domain/lifecycle"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrStateConflict is returned when a mutation update loses its state
// precondition to a concurrent writer.
var ErrStateConflict = errors.New("mutation state changed concurrently")

// Storage provides SQLite database access for the reconciliation engine.
// It implements the Repository interface.
type Storage struct {
	db *sql.DB
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// NewStorage creates a new storage instance with SQLite database.
// Transactions are opened in immediate mode so concurrent writers against
// the same mutation are serialized by the database.
func NewStorage(dbPath string) (*Storage, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{db: db}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// CreateMutationTx inserts a mutation, its initial audit entry, and alias
// observations in one transaction.
func (s *Storage) CreateMutationTx(ctx context.Context, mut *BankMutation, audit *MutationVerification, aliases []AliasObservation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create mutation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if mut.CreatedAt.IsZero() {
		mut.CreatedAt = time.Now().UTC()
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO bank_mutations
		(date, description, reference, amount, balance, tx_type, category,
		 state, omit_reason, verified_at, verified_by, resident_id, payment_id,
		 match_score, match_strategy, raw_data, batch_id, source_file, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mut.Date,
		mut.Description,
		mut.Reference,
		mut.Amount.String(),
		mut.Balance.String(),
		mut.TxType,
		mut.Category,
		string(mut.State),
		mut.OmitReason,
		mut.VerifiedAt,
		mut.VerifiedBy,
		nullInt64(mut.ResidentID),
		nullInt64(mut.PaymentID),
		mut.MatchScore,
		mut.MatchStrategy,
		mut.RawData,
		mut.BatchID,
		mut.SourceFile,
		mut.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert mutation: %w", err)
	}

	mut.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("mutation id: %w", err)
	}

	if audit != nil {
		audit.MutationID = mut.ID
		if err := insertVerification(ctx, tx, audit); err != nil {
			return err
		}
	}

	for _, obs := range aliases {
		if err := upsertAlias(ctx, tx, obs); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// UpdateMutationTx applies a transition atomically with one audit entry and
// optional alias upserts. The update only lands if the mutation is still in
// the state the caller validated against; a row changed underneath returns
// ErrStateConflict and writes nothing.
func (s *Storage) UpdateMutationTx(ctx context.Context, mutationID int64, from lifecycle.State, upd MutationUpdate, audit *MutationVerification, aliases []AliasObservation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update mutation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE bank_mutations
		SET state = ?, omit_reason = ?, verified_at = ?, verified_by = ?,
		    resident_id = ?, payment_id = ?, match_score = ?, match_strategy = ?
		WHERE id = ? AND state = ?`,
		string(upd.State),
		upd.OmitReason,
		upd.VerifiedAt,
		upd.VerifiedBy,
		nullInt64(upd.ResidentID),
		nullInt64(upd.PaymentID),
		upd.MatchScore,
		upd.MatchStrategy,
		mutationID,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("update mutation %d: %w", mutationID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bank_mutations WHERE id = ?`, mutationID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("mutation %d: %w", mutationID, ErrNotFound)
		}
		return fmt.Errorf("mutation %d: %w", mutationID, ErrStateConflict)
	}

	if audit != nil {
		audit.MutationID = mutationID
		if err := insertVerification(ctx, tx, audit); err != nil {
			return err
		}
	}

	for _, obs := range aliases {
		if err := upsertAlias(ctx, tx, obs); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertVerification(ctx context.Context, tx *sql.Tx, v *MutationVerification) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO mutation_verifications
		(mutation_id, action, confidence, actor, payment_id_before, payment_id_after, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.MutationID,
		string(v.Action),
		v.Confidence,
		v.Actor,
		nullInt64(v.PaymentIDBefore),
		nullInt64(v.PaymentIDAfter),
		v.Notes,
		v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert verification: %w", err)
	}
	v.ID, _ = result.LastInsertId()
	return nil
}

func upsertAlias(ctx context.Context, tx *sql.Tx, obs AliasObservation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO resident_aliases (resident_id, alias, frequency, last_seen_at, verified)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(resident_id, alias) DO UPDATE SET
			frequency = frequency + 1,
			last_seen_at = excluded.last_seen_at,
			verified = verified OR excluded.verified`,
		obs.ResidentID,
		strings.ToUpper(strings.TrimSpace(obs.Alias)),
		time.Now().UTC(),
		obs.Verified,
	)
	if err != nil {
		return fmt.Errorf("upsert alias %q: %w", obs.Alias, err)
	}
	return nil
}

const mutationColumns = `
	id, date, description, reference, amount, balance, tx_type, category,
	state, omit_reason, verified_at, verified_by, resident_id, payment_id,
	match_score, match_strategy, raw_data, batch_id, source_file, created_at`

func scanMutation(scanner interface{ Scan(...any) error }) (*BankMutation, error) {
	mut := &BankMutation{}
	var (
		amount, balance, state string
		verifiedAt             sql.NullTime
		residentID, paymentID  sql.NullInt64
	)

	err := scanner.Scan(
		&mut.ID,
		&mut.Date,
		&mut.Description,
		&mut.Reference,
		&amount,
		&balance,
		&mut.TxType,
		&mut.Category,
		&state,
		&mut.OmitReason,
		&verifiedAt,
		&mut.VerifiedBy,
		&residentID,
		&paymentID,
		&mut.MatchScore,
		&mut.MatchStrategy,
		&mut.RawData,
		&mut.BatchID,
		&mut.SourceFile,
		&mut.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	mut.State = lifecycle.State(state)
	if mut.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("mutation %d amount %q: %w", mut.ID, amount, err)
	}
	if mut.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("mutation %d balance %q: %w", mut.ID, balance, err)
	}
	if verifiedAt.Valid {
		mut.VerifiedAt = &verifiedAt.Time
	}
	if residentID.Valid {
		mut.ResidentID = &residentID.Int64
	}
	if paymentID.Valid {
		mut.PaymentID = &paymentID.Int64
	}

	return mut, nil
}

// GetMutation retrieves a mutation by id
func (s *Storage) GetMutation(ctx context.Context, id int64) (*BankMutation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+mutationColumns+` FROM bank_mutations WHERE id = ?`, id)

	mut, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mutation %d: %w", id, ErrNotFound)
	}
	return mut, err
}

// ListMutations returns mutations matching the given filters with pagination
func (s *Storage) ListMutations(ctx context.Context, filters MutationFilters) (*MutationListResult, error) {
	where, args := buildMutationFilters(filters)

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM bank_mutations` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count mutations: %w", err)
	}

	query := `SELECT` + mutationColumns + ` FROM bank_mutations` + where +
		` ORDER BY date DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, filters.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("list mutations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	mutations := make([]*BankMutation, 0)
	for rows.Next() {
		mut, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		mutations = append(mutations, mut)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &MutationListResult{
		Mutations:  mutations,
		TotalCount: total,
		Limit:      limit,
		Offset:     filters.Offset,
	}, nil
}

func buildMutationFilters(filters MutationFilters) (string, []any) {
	conds := make([]string, 0, 6)
	args := make([]any, 0, 6)

	if filters.Year > 0 {
		conds = append(conds, `CAST(strftime('%Y', date) AS INTEGER) = ?`)
		args = append(args, filters.Year)
	}
	if filters.Month > 0 {
		conds = append(conds, `CAST(strftime('%m', date) AS INTEGER) = ?`)
		args = append(args, filters.Month)
	}
	if filters.State != "" {
		conds = append(conds, `state = ?`)
		args = append(args, string(filters.State))
	}
	if filters.Verified != nil {
		if *filters.Verified {
			conds = append(conds, `state = 'VERIFIED'`)
		} else {
			conds = append(conds, `state != 'VERIFIED'`)
		}
	}
	if filters.Omitted != nil {
		if *filters.Omitted {
			conds = append(conds, `state = 'OMITTED'`)
		} else {
			conds = append(conds, `state != 'OMITTED'`)
		}
	}
	if filters.Matched != nil {
		if *filters.Matched {
			conds = append(conds, `resident_id IS NOT NULL`)
		} else {
			conds = append(conds, `resident_id IS NULL`)
		}
	}
	if filters.Search != "" {
		conds = append(conds, `(description LIKE ? OR reference LIKE ?)`)
		pattern := "%" + filters.Search + "%"
		args = append(args, pattern, pattern)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// DeleteMutationsForPeriod removes all mutations (and their audit entries)
// for a statement period. Only the re-import replace path may call this.
func (s *Storage) DeleteMutationsForPeriod(ctx context.Context, year, month int) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM mutation_verifications WHERE mutation_id IN (
			SELECT id FROM bank_mutations
			WHERE CAST(strftime('%Y', date) AS INTEGER) = ?
			  AND CAST(strftime('%m', date) AS INTEGER) = ?
		)`, year, month)
	if err != nil {
		return 0, fmt.Errorf("delete verifications for period: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM bank_mutations
		WHERE CAST(strftime('%Y', date) AS INTEGER) = ?
		  AND CAST(strftime('%m', date) AS INTEGER) = ?`, year, month)
	if err != nil {
		return 0, fmt.Errorf("delete mutations for period: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return deleted, tx.Commit()
}

// GetStats returns aggregate statistics
func (s *Storage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		TotalAmount:       decimal.Zero,
		CategoryBreakdown: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT state, category, amount FROM bank_mutations`)
	if err != nil {
		return nil, fmt.Errorf("stats query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var state, category, amount string
		if err := rows.Scan(&state, &category, &amount); err != nil {
			return nil, err
		}

		stats.Total++
		stats.CategoryBreakdown[category]++

		switch lifecycle.State(state) {
		case lifecycle.StateMatchedPending:
			stats.Matched++
		case lifecycle.StateMatchedAuto:
			stats.Matched++
			stats.AutoMatched++
		case lifecycle.StateVerified:
			stats.Matched++
			stats.Verified++
		case lifecycle.StateOmitted:
			stats.Omitted++
		default:
			stats.Unmatched++
		}

		amt, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("stats amount %q: %w", amount, err)
		}
		stats.TotalAmount = stats.TotalAmount.Add(amt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if batch, err := s.GetLastBatch(ctx); err == nil && batch != nil {
		stats.LastUploadAt = &batch.StartedAt
	}

	return stats, nil
}

// ListVerifications returns all audit entries for a mutation, oldest first
func (s *Storage) ListVerifications(ctx context.Context, mutationID int64) ([]*MutationVerification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mutation_id, action, confidence, actor,
		       payment_id_before, payment_id_after, notes, created_at
		FROM mutation_verifications
		WHERE mutation_id = ?
		ORDER BY id ASC`, mutationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	entries := make([]*MutationVerification, 0)
	for rows.Next() {
		v := &MutationVerification{}
		var action string
		var before, after sql.NullInt64
		err := rows.Scan(&v.ID, &v.MutationID, &action, &v.Confidence, &v.Actor, &before, &after, &v.Notes, &v.CreatedAt)
		if err != nil {
			return nil, err
		}
		v.Action = lifecycle.Action(action)
		if before.Valid {
			v.PaymentIDBefore = &before.Int64
		}
		if after.Valid {
			v.PaymentIDAfter = &after.Int64
		}
		entries = append(entries, v)
	}

	return entries, rows.Err()
}

// ListAliases returns all learned aliases, most frequent first
func (s *Storage) ListAliases(ctx context.Context) ([]*ResidentAlias, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resident_id, alias, frequency, last_seen_at, verified
		FROM resident_aliases
		ORDER BY frequency DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	aliases := make([]*ResidentAlias, 0)
	for rows.Next() {
		a := &ResidentAlias{}
		if err := rows.Scan(&a.ID, &a.ResidentID, &a.Alias, &a.Frequency, &a.LastSeenAt, &a.Verified); err != nil {
			return nil, err
		}
		aliases = append(aliases, a)
	}

	return aliases, rows.Err()
}

// UpsertAlias records one alias observation outside a mutation write
func (s *Storage) UpsertAlias(ctx context.Context, obs AliasObservation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertAlias(ctx, tx, obs); err != nil {
		return err
	}
	return tx.Commit()
}

// ListActiveResidents returns all active residents
func (s *Storage) ListActiveResidents(ctx context.Context) ([]*Resident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, payment_index, block, house_number, active
		FROM residents
		WHERE active = 1
		ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	residents := make([]*Resident, 0)
	for rows.Next() {
		r, err := scanResident(rows)
		if err != nil {
			return nil, err
		}
		residents = append(residents, r)
	}

	return residents, rows.Err()
}

// GetResident retrieves a resident by id
func (s *Storage) GetResident(ctx context.Context, id int64) (*Resident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, payment_index, block, house_number, active
		FROM residents WHERE id = ?`, id)

	r, err := scanResident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resident %d: %w", id, ErrNotFound)
	}
	return r, err
}

func scanResident(scanner interface{ Scan(...any) error }) (*Resident, error) {
	r := &Resident{}
	var index sql.NullInt64
	if err := scanner.Scan(&r.ID, &r.Name, &index, &r.Block, &r.HouseNumber, &r.Active); err != nil {
		return nil, err
	}
	if index.Valid {
		idx := int(index.Int64)
		r.PaymentIndex = &idx
	}
	return r, nil
}

// ListPaymentsBetween returns payments dated within [from, to]
func (s *Storage) ListPaymentsBetween(ctx context.Context, from, to time.Time) ([]*Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resident_id, amount, paid_at
		FROM payments
		WHERE paid_at >= ? AND paid_at <= ?
		ORDER BY paid_at ASC`, from, to)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	payments := make([]*Payment, 0)
	for rows.Next() {
		p := &Payment{}
		var amount string
		if err := rows.Scan(&p.ID, &p.ResidentID, &amount, &p.PaidAt); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("payment %d amount %q: %w", p.ID, amount, err)
		}
		payments = append(payments, p)
	}

	return payments, rows.Err()
}

// SeedResident inserts or replaces a resident snapshot row
func (s *Storage) SeedResident(ctx context.Context, r *Resident) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO residents (id, name, payment_index, block, house_number, active)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, nullInt(r.PaymentIndex), r.Block, r.HouseNumber, r.Active)
	return err
}

// SeedPayment inserts or replaces a payment snapshot row
func (s *Storage) SeedPayment(ctx context.Context, p *Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO payments (id, resident_id, amount, paid_at)
		VALUES (?, ?, ?, ?)`,
		p.ID, p.ResidentID, p.Amount.String(), p.PaidAt)
	return err
}

// StartBatch records the start of an upload batch
func (s *Storage) StartBatch(ctx context.Context, batch *UploadBatch) error {
	if batch.StartedAt.IsZero() {
		batch.StartedAt = time.Now().UTC()
	}
	if batch.Status == "" {
		batch.Status = "running"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upload_batches (id, file_name, started_at, status)
		VALUES (?, ?, ?, ?)`,
		batch.ID, batch.FileName, batch.StartedAt, batch.Status)
	return err
}

// CompleteBatch records the completion of an upload batch
func (s *Storage) CompleteBatch(ctx context.Context, batchID string, imported, skipped, errored int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE upload_batches
		SET completed_at = ?,
		    imported = ?,
		    skipped = ?,
		    errored = ?,
		    status = CASE WHEN ? > 0 THEN 'completed_with_errors' ELSE 'completed' END
		WHERE id = ?`,
		time.Now().UTC(), imported, skipped, errored, errored, batchID)
	return err
}

// GetLastBatch returns the most recently started batch, or nil
func (s *Storage) GetLastBatch(ctx context.Context) (*UploadBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_name, started_at, completed_at, imported, skipped, errored, status
		FROM upload_batches
		ORDER BY started_at DESC, id DESC
		LIMIT 1`)

	batch := &UploadBatch{}
	var completedAt sql.NullTime
	err := row.Scan(&batch.ID, &batch.FileName, &batch.StartedAt, &completedAt,
		&batch.Imported, &batch.Skipped, &batch.Errored, &batch.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		batch.CompletedAt = &completedAt.Time
	}

	return batch, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
