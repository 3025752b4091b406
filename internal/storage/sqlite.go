package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const maxJSONLen = 100_000
const maxErrorLen = 4000

// Store wraps a SQLite database with methods for licenses, installations,
// extract-action items, and the API request audit log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "popouts.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... [truncated]"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// --- Licenses ---

const licenseColumns = "id, email, license_key, expiry_date, status, created_at"

func scanLicense(row interface{ Scan(...any) error }) (License, error) {
	var l License
	var expiry, created string
	if err := row.Scan(&l.ID, &l.Email, &l.LicenseKey, &expiry, &l.Status, &created); err != nil {
		return License{}, err
	}
	var err error
	if l.ExpiryDate, err = parseTime(expiry); err != nil {
		return License{}, fmt.Errorf("parsing expiry_date: %w", err)
	}
	if l.CreatedAt, err = parseTime(created); err != nil {
		return License{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return l, nil
}

// GetLicenseByKey returns the active license with the given key.
func (s *Store) GetLicenseByKey(key string) (License, error) {
	row := s.db.QueryRow(`
		SELECT `+licenseColumns+` FROM licenses
		WHERE license_key = ? AND status = 'active'`, key)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return License{}, ErrNotFound
	}
	if err != nil {
		return License{}, err
	}
	return l, nil
}

// GetLicenseByID returns a license row regardless of status.
func (s *Store) GetLicenseByID(id int64) (License, error) {
	row := s.db.QueryRow(`SELECT `+licenseColumns+` FROM licenses WHERE id = ?`, id)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return License{}, ErrNotFound
	}
	if err != nil {
		return License{}, err
	}
	return l, nil
}

// GetLicenseByEmail returns the most recently created active license for the email.
func (s *Store) GetLicenseByEmail(email string) (License, error) {
	row := s.db.QueryRow(`
		SELECT `+licenseColumns+` FROM licenses
		WHERE email = ? AND status = 'active'
		ORDER BY created_at DESC, id DESC LIMIT 1`, strings.ToLower(email))
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return License{}, ErrNotFound
	}
	if err != nil {
		return License{}, err
	}
	return l, nil
}

// CreateLicense inserts a license, or refreshes expiry and status when the
// key already exists (upsert by license_key).
func (s *Store) CreateLicense(email, key string, expiry time.Time, status string) (License, error) {
	if status == "" {
		status = LicenseActive
	}
	email = strings.ToLower(email)
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO licenses (email, license_key, expiry_date, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(license_key) DO UPDATE SET
			expiry_date = excluded.expiry_date,
			status = excluded.status`,
		email, key, formatTime(expiry), status, formatTime(now),
	)
	if err != nil {
		return License{}, err
	}
	row := s.db.QueryRow(`SELECT `+licenseColumns+` FROM licenses WHERE license_key = ?`, key)
	return scanLicense(row)
}

// UpdateLicense overwrites email, key, and expiry of an existing license row.
func (s *Store) UpdateLicense(id int64, email, key string, expiry time.Time) error {
	res, err := s.db.Exec(`
		UPDATE licenses SET email = ?, license_key = ?, expiry_date = ? WHERE id = ?`,
		strings.ToLower(email), key, formatTime(expiry), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLicense removes a license row (admin cleanup).
func (s *Store) DeleteLicense(id int64) error {
	res, err := s.db.Exec(`DELETE FROM licenses WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLicenses returns all licenses, most recently created first.
func (s *Store) ListLicenses() ([]License, error) {
	rows, err := s.db.Query(`SELECT ` + licenseColumns + ` FROM licenses ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

// --- Installations ---

const installationColumns = "id, email, installation_id, activated_at, last_seen"

func scanInstallation(row interface{ Scan(...any) error }) (Installation, error) {
	var inst Installation
	var activated string
	var lastSeen sql.NullString
	if err := row.Scan(&inst.ID, &inst.Email, &inst.InstallationID, &activated, &lastSeen); err != nil {
		return Installation{}, err
	}
	var err error
	if inst.ActivatedAt, err = parseTime(activated); err != nil {
		return Installation{}, fmt.Errorf("parsing activated_at: %w", err)
	}
	if lastSeen.Valid {
		if inst.LastSeen, err = parseTime(lastSeen.String); err != nil {
			return Installation{}, fmt.Errorf("parsing last_seen: %w", err)
		}
	}
	return inst, nil
}

// GetInstallation returns the installation row for (email, installationID).
func (s *Store) GetInstallation(email, installationID string) (Installation, error) {
	row := s.db.QueryRow(`
		SELECT `+installationColumns+` FROM installations
		WHERE email = ? AND installation_id = ?`, strings.ToLower(email), installationID)
	inst, err := scanInstallation(row)
	if err == sql.ErrNoRows {
		return Installation{}, ErrNotFound
	}
	if err != nil {
		return Installation{}, err
	}
	return inst, nil
}

// ListInstallationsOldestFirst returns all installations for the email ordered
// by last_seen ascending. Rows with NULL last_seen sort first; ties break on
// row id ascending so eviction order is deterministic.
func (s *Store) ListInstallationsOldestFirst(email string) ([]Installation, error) {
	return s.listInstallations(email, "last_seen ASC, id ASC")
}

// ListInstallations returns all installations for the email, most recently seen first.
func (s *Store) ListInstallations(email string) ([]Installation, error) {
	return s.listInstallations(email, "last_seen DESC, id DESC")
}

func (s *Store) listInstallations(email, order string) ([]Installation, error) {
	rows, err := s.db.Query(`
		SELECT `+installationColumns+` FROM installations
		WHERE email = ? ORDER BY `+order, strings.ToLower(email))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Installation
	for rows.Next() {
		inst, err := scanInstallation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, inst)
	}
	return results, rows.Err()
}

// InsertInstallation creates a new installation slot with activated_at and
// last_seen set to now. Returns ErrConflict when (email, installation_id)
// already exists.
func (s *Store) InsertInstallation(email, installationID string, now time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO installations (email, installation_id, activated_at, last_seen)
		VALUES (?, ?, ?, ?)`,
		strings.ToLower(email), installationID, formatTime(now), formatTime(now))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// ReplaceInstallationSlot overwrites an existing row in place with a new
// installation ID, preserving row identity. Used when evicting the oldest slot.
func (s *Store) ReplaceInstallationSlot(rowID int64, newInstallationID string, now time.Time) error {
	res, err := s.db.Exec(`
		UPDATE installations
		SET installation_id = ?, activated_at = ?, last_seen = ?
		WHERE id = ?`,
		newInstallationID, formatTime(now), formatTime(now), rowID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastSeen updates last_seen for (email, installationID).
func (s *Store) TouchLastSeen(email, installationID string, now time.Time) error {
	res, err := s.db.Exec(`
		UPDATE installations SET last_seen = ? WHERE email = ? AND installation_id = ?`,
		formatTime(now), strings.ToLower(email), installationID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Extract action items ---

const extractColumns = `id, correlation_id, created_at, updated_at, license_key,
	installation_id, input_json, input_hash, output_json, status, error_message,
	http_status_code, duration_ms`

func scanExtractItem(row interface{ Scan(...any) error }) (ExtractItem, error) {
	var item ExtractItem
	var created, updated string
	var licenseKey, installationID, inputJSON, inputHash, outputJSON, errMsg sql.NullString
	var httpCode, durationMS sql.NullInt64
	err := row.Scan(&item.ID, &item.CorrelationID, &created, &updated, &licenseKey,
		&installationID, &inputJSON, &inputHash, &outputJSON, &item.Status, &errMsg,
		&httpCode, &durationMS)
	if err != nil {
		return ExtractItem{}, err
	}
	if item.CreatedAt, err = parseTime(created); err != nil {
		return ExtractItem{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if item.UpdatedAt, err = parseTime(updated); err != nil {
		return ExtractItem{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	item.LicenseKey = licenseKey.String
	item.InstallationID = installationID.String
	item.InputJSON = inputJSON.String
	item.InputHash = inputHash.String
	item.OutputJSON = outputJSON.String
	item.ErrorMessage = errMsg.String
	item.HTTPStatusCode = int(httpCode.Int64)
	item.DurationMS = durationMS.Int64
	return item, nil
}

// GetExtractItemByHash returns the extract item with the given input hash.
func (s *Store) GetExtractItemByHash(hash string) (ExtractItem, error) {
	row := s.db.QueryRow(`SELECT `+extractColumns+` FROM extract_action_items WHERE input_hash = ?`, hash)
	item, err := scanExtractItem(row)
	if err == sql.ErrNoRows {
		return ExtractItem{}, ErrNotFound
	}
	if err != nil {
		return ExtractItem{}, err
	}
	return item, nil
}

// GetExtractItemByCorrelationID returns the extract item with the given correlation ID.
func (s *Store) GetExtractItemByCorrelationID(correlationID string) (ExtractItem, error) {
	row := s.db.QueryRow(`SELECT `+extractColumns+` FROM extract_action_items WHERE correlation_id = ?`, correlationID)
	item, err := scanExtractItem(row)
	if err == sql.ErrNoRows {
		return ExtractItem{}, ErrNotFound
	}
	if err != nil {
		return ExtractItem{}, err
	}
	return item, nil
}

// CreateExtractItem inserts a new pending extract item. When the input hash
// collides with an existing row, the existing row is returned with
// created=false; the caller lost the creation race and must not start its own
// extraction.
func (s *Store) CreateExtractItem(correlationID, licenseKey, installationID, inputJSON, inputHash string) (ExtractItem, bool, error) {
	now := formatTime(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO extract_action_items
			(correlation_id, created_at, updated_at, license_key, installation_id, input_json, input_hash, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending')`,
		correlationID, now, now,
		nullable(licenseKey), nullable(installationID),
		nullable(truncate(inputJSON, maxJSONLen)), nullable(inputHash),
	)
	if isUniqueViolation(err) && inputHash != "" {
		existing, getErr := s.GetExtractItemByHash(inputHash)
		if getErr == nil {
			return existing, false, nil
		}
		// Collision on correlation_id, not input_hash.
		return ExtractItem{}, false, err
	}
	if err != nil {
		return ExtractItem{}, false, err
	}
	item, err := s.GetExtractItemByCorrelationID(correlationID)
	if err != nil {
		return ExtractItem{}, false, err
	}
	return item, true, nil
}

// CompleteExtractItem marks the item completed with its output and timing.
func (s *Store) CompleteExtractItem(correlationID, outputJSON string, httpCode int, durationMS int64) error {
	return s.updateExtractItem(correlationID, `
		UPDATE extract_action_items
		SET updated_at = ?, output_json = ?, status = 'completed', http_status_code = ?, duration_ms = ?
		WHERE correlation_id = ?`,
		formatTime(time.Now()), truncate(outputJSON, maxJSONLen), httpCode, durationMS, correlationID)
}

// FailExtractItem marks the item failed with an error message and timing.
func (s *Store) FailExtractItem(correlationID, errMsg string, httpCode int, durationMS int64) error {
	return s.updateExtractItem(correlationID, `
		UPDATE extract_action_items
		SET updated_at = ?, error_message = ?, status = 'failed', http_status_code = ?, duration_ms = ?
		WHERE correlation_id = ?`,
		formatTime(time.Now()), truncate(errMsg, maxErrorLen), httpCode, durationMS, correlationID)
}

func (s *Store) updateExtractItem(correlationID, query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExtractItems returns extract items newest first, optionally filtered by
// status and a case-insensitive search over license_key and installation_id.
// The second return value is the total matching count before paging.
func (s *Store) ListExtractItems(limit, offset int, status, search string) ([]ExtractItem, int, error) {
	where := []string{"1=1"}
	var args []any
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}
	if strings.TrimSpace(search) != "" {
		term := "%" + strings.ToLower(strings.TrimSpace(search)) + "%"
		where = append(where, "(LOWER(COALESCE(license_key, '')) LIKE ? OR LOWER(COALESCE(installation_id, '')) LIKE ?)")
		args = append(args, term, term)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM extract_action_items WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`SELECT `+extractColumns+` FROM extract_action_items WHERE `+cond+`
		ORDER BY id DESC LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []ExtractItem
	for rows.Next() {
		item, err := scanExtractItem(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, item)
	}
	return results, total, rows.Err()
}

// --- API request audit log ---

// InsertAPIRequest appends one audit log entry and returns its row id.
func (s *Store) InsertAPIRequest(r APIRequest) (int64, error) {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	res, err := s.db.Exec(`
		INSERT INTO api_requests
			(timestamp, service, endpoint, method, user_identifier, request_body, response_body, status_code, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(ts), r.Service, r.Endpoint, r.Method,
		nullable(r.UserIdentifier), nullable(r.RequestBody), nullable(r.ResponseBody),
		r.StatusCode, r.DurationMS)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListAPIRequests returns audit entries newest first, optionally filtered by
// service. The second return value is the total matching count before paging.
func (s *Store) ListAPIRequests(limit, offset int, service string) ([]APIRequest, int, error) {
	cond := "1=1"
	var args []any
	if service != "" {
		cond = "service = ?"
		args = append(args, service)
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM api_requests WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT id, timestamp, service, endpoint, method, user_identifier, request_body, response_body, status_code, duration_ms
		FROM api_requests WHERE `+cond+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []APIRequest
	for rows.Next() {
		var r APIRequest
		var ts string
		var user, reqBody, respBody sql.NullString
		var statusCode, durationMS sql.NullInt64
		if err := rows.Scan(&r.ID, &ts, &r.Service, &r.Endpoint, &r.Method, &user, &reqBody, &respBody, &statusCode, &durationMS); err != nil {
			return nil, 0, err
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, 0, fmt.Errorf("parsing timestamp: %w", err)
		}
		r.Timestamp = t
		r.UserIdentifier = user.String
		r.RequestBody = reqBody.String
		r.ResponseBody = respBody.String
		r.StatusCode = int(statusCode.Int64)
		r.DurationMS = durationMS.Int64
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// nullable maps "" to NULL so empty optional fields don't collide with the
// unique constraint on input_hash.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
