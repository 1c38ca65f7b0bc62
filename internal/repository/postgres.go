package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voltwatch/upsmonitor/internal/upsmodel"
)

// PostgresRepository is the real Repository + DeviceRepository, grounded on
// the NoteService shape: a thin struct over *pgxpool.Pool. Snapshot writes
// run in an explicit pgx.Tx that re-reads the authoritative row after
// mutating it; device writes are single statements on the pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)
var _ DeviceRepository = (*PostgresRepository)(nil)

const snapshotColumns = `ups_id, data_source, status, ups_status_raw,
	battery_percent, runtime_minutes, runtime_seconds, load_percent,
	input_voltage, output_voltage, battery_charge_low, battery_charge_warn,
	battery_runtime_low, battery_type, battery_voltage, battery_voltage_nom,
	input_voltage_nom, input_transfer_low, input_transfer_high,
	ups_realpower_nominal, ups_beeper_status, ups_model, ups_manufacturer,
	ups_serial, driver_name, driver_version, driver_poll_interval,
	driver_poll_freq, ups_vendor_id, ups_product_id, ups_timer_shutdown,
	ups_timer_start, ups_timer_reboot, ups_delay_shutdown, ups_delay_start,
	consecutive_failures, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (upsmodel.Snapshot, error) {
	var s upsmodel.Snapshot
	err := row.Scan(
		&s.UPSID, &s.DataSource, &s.Status, &s.StatusRaw,
		&s.BatteryPercent, &s.RuntimeMinutes, &s.RuntimeSeconds, &s.LoadPercent,
		&s.InputVoltage, &s.OutputVoltage, &s.BatteryChargeLow, &s.BatteryChargeWarn,
		&s.BatteryRuntimeLow, &s.BatteryType, &s.BatteryVoltage, &s.BatteryVoltageNom,
		&s.InputVoltageNom, &s.InputTransferLow, &s.InputTransferHigh,
		&s.UPSRealPowerNominal, &s.UPSBeeperStatus, &s.UPSModel, &s.UPSManufacturer,
		&s.UPSSerial, &s.DriverName, &s.DriverVersion, &s.DriverPollInterval,
		&s.DriverPollFreq, &s.UPSVendorID, &s.UPSProductID, &s.UPSTimerShutdown,
		&s.UPSTimerStart, &s.UPSTimerReboot, &s.UPSDelayShutdown, &s.UPSDelayStart,
		&s.ConsecutiveFailures, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

// Upsert writes s inside a transaction, reading the prior status first so
// the caller gets an accurate "previous" value even though the UPDATE has
// already overwritten the row by the time Upsert returns.
func (r *PostgresRepository) Upsert(ctx context.Context, s upsmodel.Snapshot) (upsmodel.Snapshot, *upsmodel.Status, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return upsmodel.Snapshot{}, nil, fmt.Errorf("repository: begin upsert tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var previous *upsmodel.Status
	var prevStatus upsmodel.Status
	err = tx.QueryRow(ctx, `SELECT status FROM ups WHERE ups_id = $1 FOR UPDATE`, s.UPSID).Scan(&prevStatus)
	switch {
	case err == nil:
		previous = &prevStatus
	case err == pgx.ErrNoRows:
		previous = nil
	default:
		return upsmodel.Snapshot{}, nil, fmt.Errorf("repository: read previous status: %w", err)
	}

	now := time.Now()
	row := tx.QueryRow(ctx, `
		INSERT INTO ups (
			ups_id, data_source, status, ups_status_raw,
			battery_percent, runtime_minutes, runtime_seconds, load_percent,
			input_voltage, output_voltage, battery_charge_low, battery_charge_warn,
			battery_runtime_low, battery_type, battery_voltage, battery_voltage_nom,
			input_voltage_nom, input_transfer_low, input_transfer_high,
			ups_realpower_nominal, ups_beeper_status, ups_model, ups_manufacturer,
			ups_serial, driver_name, driver_version, driver_poll_interval,
			driver_poll_freq, ups_vendor_id, ups_product_id, ups_timer_shutdown,
			ups_timer_start, ups_timer_reboot, ups_delay_shutdown, ups_delay_start,
			consecutive_failures, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, $35, 0, $36, $36
		)
		ON CONFLICT (ups_id) DO UPDATE SET
			data_source = EXCLUDED.data_source,
			status = EXCLUDED.status,
			ups_status_raw = EXCLUDED.ups_status_raw,
			battery_percent = EXCLUDED.battery_percent,
			runtime_minutes = EXCLUDED.runtime_minutes,
			runtime_seconds = EXCLUDED.runtime_seconds,
			load_percent = EXCLUDED.load_percent,
			input_voltage = EXCLUDED.input_voltage,
			output_voltage = EXCLUDED.output_voltage,
			battery_charge_low = EXCLUDED.battery_charge_low,
			battery_charge_warn = EXCLUDED.battery_charge_warn,
			battery_runtime_low = EXCLUDED.battery_runtime_low,
			battery_type = EXCLUDED.battery_type,
			battery_voltage = EXCLUDED.battery_voltage,
			battery_voltage_nom = EXCLUDED.battery_voltage_nom,
			input_voltage_nom = EXCLUDED.input_voltage_nom,
			input_transfer_low = EXCLUDED.input_transfer_low,
			input_transfer_high = EXCLUDED.input_transfer_high,
			ups_realpower_nominal = EXCLUDED.ups_realpower_nominal,
			ups_beeper_status = EXCLUDED.ups_beeper_status,
			ups_model = EXCLUDED.ups_model,
			ups_manufacturer = EXCLUDED.ups_manufacturer,
			ups_serial = EXCLUDED.ups_serial,
			driver_name = EXCLUDED.driver_name,
			driver_version = EXCLUDED.driver_version,
			driver_poll_interval = EXCLUDED.driver_poll_interval,
			driver_poll_freq = EXCLUDED.driver_poll_freq,
			ups_vendor_id = EXCLUDED.ups_vendor_id,
			ups_product_id = EXCLUDED.ups_product_id,
			ups_timer_shutdown = EXCLUDED.ups_timer_shutdown,
			ups_timer_start = EXCLUDED.ups_timer_start,
			ups_timer_reboot = EXCLUDED.ups_timer_reboot,
			ups_delay_shutdown = EXCLUDED.ups_delay_shutdown,
			ups_delay_start = EXCLUDED.ups_delay_start,
			consecutive_failures = 0,
			updated_at = EXCLUDED.updated_at
		RETURNING `+snapshotColumns,
		s.UPSID, s.DataSource, s.Status, s.StatusRaw,
		s.BatteryPercent, s.RuntimeMinutes, s.RuntimeSeconds, s.LoadPercent,
		s.InputVoltage, s.OutputVoltage, s.BatteryChargeLow, s.BatteryChargeWarn,
		s.BatteryRuntimeLow, s.BatteryType, s.BatteryVoltage, s.BatteryVoltageNom,
		s.InputVoltageNom, s.InputTransferLow, s.InputTransferHigh,
		s.UPSRealPowerNominal, s.UPSBeeperStatus, s.UPSModel, s.UPSManufacturer,
		s.UPSSerial, s.DriverName, s.DriverVersion, s.DriverPollInterval,
		s.DriverPollFreq, s.UPSVendorID, s.UPSProductID, s.UPSTimerShutdown,
		s.UPSTimerStart, s.UPSTimerReboot, s.UPSDelayShutdown, s.UPSDelayStart,
		now,
	)
	stored, err := scanSnapshot(row)
	if err != nil {
		return upsmodel.Snapshot{}, nil, fmt.Errorf("repository: upsert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return upsmodel.Snapshot{}, nil, fmt.Errorf("repository: commit upsert: %w", err)
	}
	return stored, previous, nil
}

// RegisterFailure implements §4.3's atomic increment-then-maybe-offline rule
// as a SELECT ... FOR UPDATE followed by a conditional UPDATE in the same
// transaction.
func (r *PostgresRepository) RegisterFailure(ctx context.Context, upsID string) (*upsmodel.Snapshot, *upsmodel.Status, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, false, fmt.Errorf("repository: begin registerfailure tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM ups WHERE ups_id = $1 FOR UPDATE`, upsID)
	current, err := scanSnapshot(row)
	if err == pgx.ErrNoRows {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("repository: read for failure: %w", err)
	}

	previous := current.Status
	newFailures := current.ConsecutiveFailures + 1
	changed := false

	var updated upsmodel.Snapshot
	if newFailures >= 3 && current.Status != upsmodel.StatusOffline {
		updated = offlineSnapshot(current, newFailures)
		changed = true
		row = tx.QueryRow(ctx, `
			UPDATE ups SET
				status = $2, ups_status_raw = '',
				battery_percent = NULL, runtime_minutes = NULL, runtime_seconds = NULL,
				load_percent = NULL, input_voltage = NULL, output_voltage = NULL,
				battery_charge_low = NULL, battery_charge_warn = NULL, battery_runtime_low = NULL,
				battery_type = NULL, battery_voltage = NULL, battery_voltage_nom = NULL,
				input_voltage_nom = NULL, input_transfer_low = NULL, input_transfer_high = NULL,
				ups_realpower_nominal = NULL, ups_beeper_status = NULL, ups_model = NULL,
				ups_manufacturer = NULL, ups_serial = NULL, driver_name = NULL, driver_version = NULL,
				driver_poll_interval = NULL, driver_poll_freq = NULL, ups_vendor_id = NULL,
				ups_product_id = NULL, ups_timer_shutdown = NULL, ups_timer_start = NULL,
				ups_timer_reboot = NULL, ups_delay_shutdown = NULL, ups_delay_start = NULL,
				consecutive_failures = $3, updated_at = $4
			WHERE ups_id = $1
			RETURNING `+snapshotColumns,
			upsID, upsmodel.StatusOffline, newFailures, updated.UpdatedAt,
		)
	} else {
		row = tx.QueryRow(ctx, `
			UPDATE ups SET consecutive_failures = $2, updated_at = $3
			WHERE ups_id = $1
			RETURNING `+snapshotColumns,
			upsID, newFailures, time.Now(),
		)
	}

	stored, err := scanSnapshot(row)
	if err != nil {
		return nil, nil, false, fmt.Errorf("repository: update for failure: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, false, fmt.Errorf("repository: commit failure update: %w", err)
	}
	return &stored, &previous, changed, nil
}

func (r *PostgresRepository) Get(ctx context.Context, upsID string) (*upsmodel.Snapshot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM ups WHERE ups_id = $1`, upsID)
	s, err := scanSnapshot(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get %q: %w", upsID, err)
	}
	return &s, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]upsmodel.Snapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM ups ORDER BY ups_id`)
	if err != nil {
		return nil, fmt.Errorf("repository: list: %w", err)
	}
	defer rows.Close()

	var out []upsmodel.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: list scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Register upserts a device row keyed on (token_hash, ups_id, environment,
// server_id, installation_id) per §3's "newer logic" logical key.
func (r *PostgresRepository) Register(ctx context.Context, d upsmodel.DeviceRegistration) (bool, error) {
	// xmax is 0 only for a freshly inserted row version, so it tells a new
	// row apart from one rewritten by the ON CONFLICT branch.
	var inserted bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO devices (
			ups_id, ups_alias, device_token, token_hash,
			installation_id, server_id, ups_hidden, environment, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (token_hash, ups_id, environment, server_id, installation_id) DO UPDATE SET
			ups_alias = EXCLUDED.ups_alias,
			device_token = EXCLUDED.device_token,
			ups_hidden = EXCLUDED.ups_hidden
		RETURNING (xmax = 0)
	`, d.UPSID, d.UPSAlias, d.DeviceToken, d.TokenHash,
		d.InstallationID, d.ServerID, d.UPSHidden, d.Environment, d.CreatedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("repository: register device: %w", err)
	}
	return inserted, nil
}

func (r *PostgresRepository) Unregister(ctx context.Context, upsID, tokenHash string, environment upsmodel.Environment) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM devices WHERE ups_id = $1 AND token_hash = $2 AND environment = $3
	`, upsID, tokenHash, environment)
	if err != nil {
		return fmt.Errorf("repository: unregister device: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CountByEnvironment(ctx context.Context, environment upsmodel.Environment) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM devices WHERE environment = $1`, environment).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("repository: count devices: %w", err)
	}
	return n, nil
}
