package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DeviceConfig is the persisted configuration for one Android TV device.
type DeviceConfig struct {
	ID           string
	Name         string
	Address      string // IP or hostname, without port
	Port         int    // remote service port, default 6466
	Manufacturer string
	Model        string
	MACAddress   string

	// AuthError records that the device rejected our certificate and needs
	// re-pairing. Survives restarts so the UI can surface it immediately.
	AuthError bool

	// UseExternalMetadata prefers app-store metadata over cast metadata for
	// the source attribute when both are available.
	UseExternalMetadata bool

	// UseChromecast enables the cast media-status subscription.
	UseChromecast bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

const defaultRemotePort = 6466

// Store defines the interface for device-config persistence. The SQLite
// implementation is the production one; tests may substitute their own.
type Store interface {
	// GetByID retrieves a device config by id.
	// Returns ErrUnknownDevice if the device does not exist.
	GetByID(ctx context.Context, id string) (*DeviceConfig, error)

	// List retrieves all configured devices.
	List(ctx context.Context) ([]DeviceConfig, error)

	// Create inserts a new device config.
	// Returns ErrDeviceExists if the id is already taken.
	Create(ctx context.Context, cfg *DeviceConfig) error

	// Update modifies an existing device config.
	// Returns ErrUnknownDevice if the device does not exist.
	Update(ctx context.Context, cfg *DeviceConfig) error

	// Delete removes a device config by id.
	// Returns ErrUnknownDevice if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateAddress updates only the network endpoint, used when the device
	// reappears under a new address after rediscovery.
	UpdateAddress(ctx context.Context, id, address string, port int) error

	// SetAuthError flags or clears the persisted re-pairing marker.
	SetAuthError(ctx context.Context, id string, authError bool) error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed device-config store.
// The db parameter should be an open SQLite connection with the devices
// table migrated.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const deviceColumns = `id, name, address, port, manufacturer, model, mac_address,
		auth_error, use_external_metadata, use_chromecast, created_at, updated_at`

// GetByID retrieves a device config by id.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*DeviceConfig, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	cfg, err := scanDeviceConfig(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnknownDevice
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return cfg, nil
}

// List retrieves all configured devices ordered by name.
func (s *SQLiteStore) List(ctx context.Context) ([]DeviceConfig, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var configs []DeviceConfig
	for rows.Next() {
		cfg, err := scanDeviceConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		configs = append(configs, *cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return configs, nil
}

// Create inserts a new device config.
func (s *SQLiteStore) Create(ctx context.Context, cfg *DeviceConfig) error {
	if cfg.Port == 0 {
		cfg.Port = defaultRemotePort
	}

	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, name, address, port, manufacturer, model, mac_address,
			auth_error, use_external_metadata, use_chromecast,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		cfg.ID,
		cfg.Name,
		cfg.Address,
		cfg.Port,
		cfg.Manufacturer,
		cfg.Model,
		cfg.MACAddress,
		boolToInt(cfg.AuthError),
		boolToInt(cfg.UseExternalMetadata),
		boolToInt(cfg.UseChromecast),
		cfg.CreatedAt.Format(time.RFC3339),
		cfg.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update modifies an existing device config.
func (s *SQLiteStore) Update(ctx context.Context, cfg *DeviceConfig) error {
	if cfg.Port == 0 {
		cfg.Port = defaultRemotePort
	}
	cfg.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, address = ?, port = ?, manufacturer = ?, model = ?,
			mac_address = ?, auth_error = ?, use_external_metadata = ?,
			use_chromecast = ?, updated_at = ?
		WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		cfg.Name,
		cfg.Address,
		cfg.Port,
		cfg.Manufacturer,
		cfg.Model,
		cfg.MACAddress,
		boolToInt(cfg.AuthError),
		boolToInt(cfg.UseExternalMetadata),
		boolToInt(cfg.UseChromecast),
		cfg.UpdatedAt.Format(time.RFC3339),
		cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	return checkRowsAffected(result)
}

// Delete removes a device config by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	return checkRowsAffected(result)
}

// UpdateAddress updates only the network endpoint of a device.
func (s *SQLiteStore) UpdateAddress(ctx context.Context, id, address string, port int) error {
	if port == 0 {
		port = defaultRemotePort
	}

	query := `
		UPDATE devices
		SET address = ?, port = ?, updated_at = ?
		WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		address,
		port,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device address: %w", err)
	}

	return checkRowsAffected(result)
}

// SetAuthError flags or clears the persisted re-pairing marker.
func (s *SQLiteStore) SetAuthError(ctx context.Context, id string, authError bool) error {
	query := `
		UPDATE devices
		SET auth_error = ?, updated_at = ?
		WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		boolToInt(authError),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device auth flag: %w", err)
	}

	return checkRowsAffected(result)
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceConfig scans a row or rows result into a DeviceConfig.
func scanDeviceConfig(scanner rowScanner) (*DeviceConfig, error) {
	var cfg DeviceConfig
	var authError, useExternal, useChromecast int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&cfg.ID,
		&cfg.Name,
		&cfg.Address,
		&cfg.Port,
		&cfg.Manufacturer,
		&cfg.Model,
		&cfg.MACAddress,
		&authError,
		&useExternal,
		&useChromecast,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.AuthError = authError != 0
	cfg.UseExternalMetadata = useExternal != 0
	cfg.UseChromecast = useChromecast != 0

	var parseErr error
	cfg.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	cfg.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &cfg, nil
}

// checkRowsAffected maps a zero-row write to ErrUnknownDevice.
func checkRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUnknownDevice
	}
	return nil
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint
// violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
