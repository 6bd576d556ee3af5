package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure Go).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// busy_timeout must be set on every pooled connection, so it goes in the DSN.
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Init creates the schema tables.
func (s *SQLiteStore) Init(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id                    TEXT PRIMARY KEY,
		name                  TEXT NOT NULL DEFAULT '',
		role                  TEXT NOT NULL,
		chat_last_interaction INTEGER NOT NULL DEFAULT 0,
		chat_step             TEXT NOT NULL DEFAULT '',
		chat_context          TEXT NOT NULL DEFAULT '{}',
		registration          TEXT NOT NULL DEFAULT '',
		premium               INTEGER NOT NULL DEFAULT 0,
		premium_expires_at    INTEGER,
		referral_code         TEXT NOT NULL DEFAULT '',
		referred_by           TEXT NOT NULL DEFAULT '',
		referral_count        INTEGER NOT NULL DEFAULT 0,
		lot_id                TEXT NOT NULL DEFAULT '',
		created_at            INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lots (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL UNIQUE,
		location         TEXT NOT NULL DEFAULT '',
		capacity         INTEGER NOT NULL DEFAULT 0,
		has_spots        INTEGER NOT NULL DEFAULT 1,
		free_spots       TEXT NOT NULL DEFAULT '0',
		spot_range       TEXT NOT NULL DEFAULT '',
		occupancy_status TEXT NOT NULL DEFAULT '',
		updated_at       INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		driver_id  TEXT NOT NULL,
		lot_id     TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		active     INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS reports (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		lot_id     TEXT NOT NULL,
		driver_id  TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		processed  INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS conversation_messages (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		user_id    TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		active     INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS inbound_messages (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		channel     TEXT NOT NULL DEFAULT '',
		text        TEXT NOT NULL DEFAULT '',
		received_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lot_embeddings (
		lot_id     TEXT PRIMARY KEY,
		model      TEXT NOT NULL,
		document   TEXT NOT NULL,
		vector     BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_referral_code ON users(referral_code) WHERE referral_code <> '';
	CREATE INDEX IF NOT EXISTS idx_lots_available ON lots(has_spots, updated_at);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_driver ON subscriptions(driver_id, active);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_lot ON subscriptions(lot_id, active);
	CREATE INDEX IF NOT EXISTS idx_reports_lot ON reports(lot_id, processed);
	CREATE INDEX IF NOT EXISTS idx_reports_driver ON reports(driver_id, processed);
	CREATE INDEX IF NOT EXISTS idx_conversation_user_active ON conversation_messages(user_id, active, created_at DESC);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func rowsAffected(res sql.Result, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- users ---

const userColumns = `id, name, role, chat_last_interaction, chat_step, chat_context, registration,
	premium, premium_expires_at, referral_code, referred_by, referral_count, lot_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u        User
		last     int64
		chatCtx  string
		premium  int
		expires  sql.NullInt64
		created  int64
		roleText string
		regText  string
	)
	err := row.Scan(&u.ID, &u.Name, &roleText, &last, &u.Chat.Step, &chatCtx, &regText,
		&premium, &expires, &u.ReferralCode, &u.ReferredBy, &u.ReferralCount, &u.LotID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = Role(roleText)
	u.Registration = Registration(regText)
	u.Chat.LastInteraction = fromNanos(last)
	u.Premium = premium == 1
	u.CreatedAt = fromNanos(created)
	if expires.Valid {
		t := fromNanos(expires.Int64)
		u.PremiumExpiresAt = &t
	}
	if chatCtx != "" && chatCtx != "{}" {
		if err := json.Unmarshal([]byte(chatCtx), &u.Chat.Context); err != nil {
			return nil, fmt.Errorf("decode chat context for %s: %w", u.ID, err)
		}
	}
	return &u, nil
}

func userArgs(u *User) ([]any, error) {
	chatCtx := []byte("{}")
	if len(u.Chat.Context) > 0 {
		var err error
		if chatCtx, err = json.Marshal(u.Chat.Context); err != nil {
			return nil, err
		}
	}
	var expires any
	if u.PremiumExpiresAt != nil {
		expires = nanos(*u.PremiumExpiresAt)
	}
	return []any{u.ID, u.Name, string(u.Role), nanos(u.Chat.LastInteraction), u.Chat.Step, string(chatCtx),
		string(u.Registration), boolInt(u.Premium), expires, u.ReferralCode, u.ReferredBy, u.ReferralCount,
		u.LotID, nanos(u.CreatedAt)}, nil
}

// GetUser returns a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// CreateUser inserts a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	args, err := userArgs(u)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", u.ID, ErrDuplicate)
	}
	return err
}

// UpdateUser replaces every field of an existing user.
func (s *SQLiteStore) UpdateUser(ctx context.Context, u *User) error {
	args, err := userArgs(u)
	if err != nil {
		return err
	}
	// id goes last for the WHERE clause.
	args = append(args[1:], u.ID)
	n, err := rowsAffected(s.db.ExecContext(ctx,
		`UPDATE users SET name = ?, role = ?, chat_last_interaction = ?, chat_step = ?, chat_context = ?,
		 registration = ?, premium = ?, premium_expires_at = ?, referral_code = ?, referred_by = ?,
		 referral_count = ?, lot_id = ?, created_at = ? WHERE id = ?`, args...))
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s referral code: %w", u.ID, ErrDuplicate)
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindUserByReferralCode returns the owner of a referral code.
func (s *SQLiteStore) FindUserByReferralCode(ctx context.Context, code string) (*User, error) {
	if code == "" {
		return nil, ErrNotFound
	}
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = ?`, code))
}

// ListExpiredPremium returns premium users whose expiry has passed.
func (s *SQLiteStore) ListExpiredPremium(ctx context.Context, now time.Time) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users
		WHERE premium = 1 AND premium_expires_at IS NOT NULL AND premium_expires_at < ? ORDER BY id`, nanos(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// --- lots ---

const lotColumns = `id, name, location, capacity, has_spots, free_spots, spot_range, occupancy_status, updated_at`

func scanLot(row rowScanner) (*Lot, error) {
	var (
		l        Lot
		hasSpots int
		updated  int64
	)
	err := row.Scan(&l.ID, &l.Name, &l.Location, &l.Capacity, &hasSpots, &l.FreeSpots, &l.SpotRange, &l.OccupancyStatus, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.HasSpots = hasSpots == 1
	l.UpdatedAt = fromNanos(updated)
	return &l, nil
}

func (s *SQLiteStore) queryLots(ctx context.Context, query string, args ...any) ([]Lot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *l)
	}
	return lots, rows.Err()
}

// GetLot returns a lot by id.
func (s *SQLiteStore) GetLot(ctx context.Context, id string) (*Lot, error) {
	return scanLot(s.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = ?`, id))
}

// FindLotByName returns the lot with exactly this name.
func (s *SQLiteStore) FindLotByName(ctx context.Context, name string) (*Lot, error) {
	return scanLot(s.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE name = ?`, name))
}

// CreateLot inserts a lot.
func (s *SQLiteStore) CreateLot(ctx context.Context, l *Lot) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO lots (`+lotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.Location, l.Capacity, boolInt(l.HasSpots), l.FreeSpots, l.SpotRange, l.OccupancyStatus, nanos(l.UpdatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("lot %q: %w", l.Name, ErrDuplicate)
	}
	return err
}

// UpdateLot replaces every field of an existing lot.
func (s *SQLiteStore) UpdateLot(ctx context.Context, l *Lot) error {
	n, err := rowsAffected(s.db.ExecContext(ctx,
		`UPDATE lots SET name = ?, location = ?, capacity = ?, has_spots = ?, free_spots = ?,
		 spot_range = ?, occupancy_status = ?, updated_at = ? WHERE id = ?`,
		l.Name, l.Location, l.Capacity, boolInt(l.HasSpots), l.FreeSpots, l.SpotRange, l.OccupancyStatus, nanos(l.UpdatedAt), l.ID))
	if isUniqueViolation(err) {
		return fmt.Errorf("lot %q: %w", l.Name, ErrDuplicate)
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLots returns every lot ordered by name.
func (s *SQLiteStore) ListLots(ctx context.Context) ([]Lot, error) {
	return s.queryLots(ctx, `SELECT `+lotColumns+` FROM lots ORDER BY name`)
}

// ListAvailableLots returns lots with spots, most recently updated first.
func (s *SQLiteStore) ListAvailableLots(ctx context.Context) ([]Lot, error) {
	return s.queryLots(ctx, `SELECT `+lotColumns+` FROM lots WHERE has_spots = 1 ORDER BY updated_at DESC, name`)
}

// --- subscriptions ---

const subscriptionColumns = `id, driver_id, lot_id, created_at, active`

func (s *SQLiteStore) querySubscriptions(ctx context.Context, query string, args ...any) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var (
			sub     Subscription
			created int64
			active  int
		)
		if err := rows.Scan(&sub.ID, &sub.DriverID, &sub.LotID, &created, &active); err != nil {
			return nil, err
		}
		sub.CreatedAt = fromNanos(created)
		sub.Active = active == 1
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// FindActiveSubscription returns the driver's active subscription to lotID.
func (s *SQLiteStore) FindActiveSubscription(ctx context.Context, driverID, lotID string) (*Subscription, error) {
	subs, err := s.querySubscriptions(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE driver_id = ? AND lot_id = ? AND active = 1 ORDER BY seq DESC LIMIT 1`, driverID, lotID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNotFound
	}
	return &subs[0], nil
}

// CreateSubscription inserts a subscription.
func (s *SQLiteStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES (?, ?, ?, ?, ?)`,
		sub.ID, sub.DriverID, sub.LotID, nanos(sub.CreatedAt), boolInt(sub.Active))
	return err
}

// DeactivateSubscription deactivates the driver's subscription to lotID.
func (s *SQLiteStore) DeactivateSubscription(ctx context.Context, driverID, lotID string) (bool, error) {
	n, err := rowsAffected(s.db.ExecContext(ctx,
		`UPDATE subscriptions SET active = 0 WHERE driver_id = ? AND lot_id = ? AND active = 1`, driverID, lotID))
	return n > 0, err
}

// DeactivateAllSubscriptions deactivates every active subscription of the driver.
func (s *SQLiteStore) DeactivateAllSubscriptions(ctx context.Context, driverID string) (int, error) {
	return rowsAffected(s.db.ExecContext(ctx,
		`UPDATE subscriptions SET active = 0 WHERE driver_id = ? AND active = 1`, driverID))
}

// ListActiveSubscriptions returns the driver's active subscriptions, oldest first.
func (s *SQLiteStore) ListActiveSubscriptions(ctx context.Context, driverID string) ([]Subscription, error) {
	return s.querySubscriptions(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE driver_id = ? AND active = 1 ORDER BY seq`, driverID)
}

// ListLotSubscribers returns active subscriptions to lotID or to all lots.
func (s *SQLiteStore) ListLotSubscribers(ctx context.Context, lotID string) ([]Subscription, error) {
	return s.querySubscriptions(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE active = 1 AND (lot_id = ? OR lot_id = '') ORDER BY seq`, lotID)
}

// --- reports ---

// CreateReport inserts a crowd report.
func (s *SQLiteStore) CreateReport(ctx context.Context, r *Report) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO reports (id, lot_id, driver_id, created_at, kind, processed)
		VALUES (?, ?, ?, ?, ?, ?)`, r.ID, r.LotID, r.DriverID, nanos(r.CreatedAt), r.Kind, boolInt(r.Processed))
	return err
}

// HasPendingReport reports whether the driver has an unprocessed report for the lot.
func (s *SQLiteStore) HasPendingReport(ctx context.Context, lotID, driverID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE lot_id = ? AND driver_id = ? AND processed = 0`,
		lotID, driverID).Scan(&n)
	return n > 0, err
}

// CountPendingReports counts unprocessed reports for the lot.
func (s *SQLiteStore) CountPendingReports(ctx context.Context, lotID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE lot_id = ? AND processed = 0`, lotID).Scan(&n)
	return n, err
}

// ListPendingReportsByDriver returns the driver's unprocessed reports, oldest first.
func (s *SQLiteStore) ListPendingReportsByDriver(ctx context.Context, driverID string) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, lot_id, driver_id, created_at, kind, processed FROM reports
		WHERE driver_id = ? AND processed = 0 ORDER BY seq`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var (
			r         Report
			created   int64
			processed int
		)
		if err := rows.Scan(&r.ID, &r.LotID, &r.DriverID, &created, &r.Kind, &processed); err != nil {
			return nil, err
		}
		r.CreatedAt = fromNanos(created)
		r.Processed = processed == 1
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// MarkReportsProcessed marks every pending report for the lot processed.
func (s *SQLiteStore) MarkReportsProcessed(ctx context.Context, lotID string) (int, error) {
	return rowsAffected(s.db.ExecContext(ctx, `UPDATE reports SET processed = 1 WHERE lot_id = ? AND processed = 0`, lotID))
}

// DeleteReports removes every report for the lot.
func (s *SQLiteStore) DeleteReports(ctx context.Context, lotID string) (int, error) {
	return rowsAffected(s.db.ExecContext(ctx, `DELETE FROM reports WHERE lot_id = ?`, lotID))
}

// --- conversation ---

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []ConversationMessage
	for rows.Next() {
		var (
			m       ConversationMessage
			role    string
			created int64
			active  int
		)
		if err := rows.Scan(&m.ID, &m.UserID, &role, &m.Content, &created, &active); err != nil {
			return nil, err
		}
		m.Role = MessageRole(role)
		m.CreatedAt = fromNanos(created)
		m.Active = active == 1
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AppendMessage stores a conversation message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, m *ConversationMessage) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO conversation_messages (id, user_id, role, content, created_at, active)
		VALUES (?, ?, ?, ?, ?, ?)`, m.ID, m.UserID, string(m.Role), m.Content, nanos(m.CreatedAt), boolInt(m.Active))
	return err
}

// RecentMessages returns the last n active messages, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, userID string, n int) ([]ConversationMessage, error) {
	msgs, err := s.queryMessages(ctx, `SELECT id, user_id, role, content, created_at, active FROM conversation_messages
		WHERE user_id = ? AND active = 1 ORDER BY created_at DESC, seq DESC LIMIT ?`, userID, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ClearConversation marks every active message of the user inactive.
func (s *SQLiteStore) ClearConversation(ctx context.Context, userID string) (int, error) {
	return rowsAffected(s.db.ExecContext(ctx,
		`UPDATE conversation_messages SET active = 0 WHERE user_id = ? AND active = 1`, userID))
}

// CountMessages counts the user's messages.
func (s *SQLiteStore) CountMessages(ctx context.Context, userID string, activeOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM conversation_messages WHERE user_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	var n int
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&n)
	return n, err
}

// DeactivateOlderMessages keeps only the newest keep active messages.
func (s *SQLiteStore) DeactivateOlderMessages(ctx context.Context, userID string, keep int) (int, error) {
	return rowsAffected(s.db.ExecContext(ctx, `UPDATE conversation_messages SET active = 0
		WHERE user_id = ? AND active = 1 AND seq NOT IN (
			SELECT seq FROM conversation_messages WHERE user_id = ? AND active = 1
			ORDER BY created_at DESC, seq DESC LIMIT ?)`, userID, userID, keep))
}

// ConversationHistory returns every message of the user, oldest first.
func (s *SQLiteStore) ConversationHistory(ctx context.Context, userID string) ([]ConversationMessage, error) {
	return s.queryMessages(ctx, `SELECT id, user_id, role, content, created_at, active FROM conversation_messages
		WHERE user_id = ? ORDER BY created_at, seq`, userID)
}

// ReactivateMessages re-activates the newest n inactive messages.
func (s *SQLiteStore) ReactivateMessages(ctx context.Context, userID string, n int) (int, error) {
	return rowsAffected(s.db.ExecContext(ctx, `UPDATE conversation_messages SET active = 1
		WHERE seq IN (
			SELECT seq FROM conversation_messages WHERE user_id = ? AND active = 0
			ORDER BY created_at DESC, seq DESC LIMIT ?)`, userID, n))
}

// ListConversationUsers returns users with more than minActive active messages.
func (s *SQLiteStore) ListConversationUsers(ctx context.Context, minActive int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM conversation_messages WHERE active = 1
		GROUP BY user_id HAVING COUNT(*) > ? ORDER BY user_id`, minActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- inbound ---

// RecordInbound stores a received message id; ErrDuplicate on redelivery.
func (s *SQLiteStore) RecordInbound(ctx context.Context, m InboundMessage) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO inbound_messages (id, user_id, channel, text, received_at)
		VALUES (?, ?, ?, ?, ?)`, m.ID, m.UserID, m.Channel, m.Text, nanos(m.ReceivedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("inbound %s: %w", m.ID, ErrDuplicate)
	}
	return err
}

// --- embeddings ---

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

// UpsertEmbedding stores or replaces a lot's vector.
func (s *SQLiteStore) UpsertEmbedding(ctx context.Context, e *LotEmbedding) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO lot_embeddings (lot_id, model, document, vector, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(lot_id) DO UPDATE SET model = excluded.model, document = excluded.document,
			vector = excluded.vector, updated_at = excluded.updated_at`,
		e.LotID, e.Model, e.Document, encodeVector(e.Vector), nanos(e.UpdatedAt))
	return err
}

// DeleteEmbedding removes a lot's vector.
func (s *SQLiteStore) DeleteEmbedding(ctx context.Context, lotID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM lot_embeddings WHERE lot_id = ?`, lotID)
	return err
}

// ListEmbeddings returns every stored vector.
func (s *SQLiteStore) ListEmbeddings(ctx context.Context) ([]LotEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT lot_id, model, document, vector, updated_at FROM lot_embeddings ORDER BY lot_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LotEmbedding
	for rows.Next() {
		var (
			e       LotEmbedding
			blob    []byte
			updated int64
		)
		if err := rows.Scan(&e.LotID, &e.Model, &e.Document, &blob, &updated); err != nil {
			return nil, err
		}
		e.Vector = decodeVector(blob)
		e.UpdatedAt = fromNanos(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}
