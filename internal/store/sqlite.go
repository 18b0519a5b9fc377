package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// A single connection serializes writers; sqlite returns busy errors
	// otherwise.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS customer_states (
			customer_id   TEXT PRIMARY KEY,
			is_active     INTEGER NOT NULL DEFAULT 0,
			is_notified   INTEGER NOT NULL DEFAULT 0,
			manager_id    TEXT NOT NULL DEFAULT '',
			last_activity TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS manager_assignments (
			manager_id         TEXT PRIMARY KEY,
			active_customer_id TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL REFERENCES customer_states(customer_id) ON DELETE CASCADE,
			sender      TEXT NOT NULL,
			body        TEXT NOT NULL,
			timestamp   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS orders (
			order_id    TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			status      TEXT NOT NULL,
			price       INTEGER NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bonus_accounts (
			customer_id TEXT PRIMARY KEY,
			external_id TEXT NOT NULL DEFAULT '',
			balance     INTEGER NOT NULL DEFAULT 0,
			updated_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bonus_codes (
			id          TEXT PRIMARY KEY,
			code        TEXT NOT NULL UNIQUE,
			value       INTEGER NOT NULL,
			active      INTEGER NOT NULL DEFAULT 1,
			external_id TEXT NOT NULL DEFAULT '',
			redeemed_by TEXT NOT NULL DEFAULT '',
			redeemed_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_messages_customer ON messages(customer_id);
		CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id);
		CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
		CREATE INDEX IF NOT EXISTS idx_states_pending ON customer_states(is_active, manager_id);
	`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// --- customer states ---

func (s *SQLiteStore) GetCustomerState(customerID string) (*CustomerState, error) {
	row := s.db.QueryRow(`SELECT customer_id, is_active, is_notified, manager_id, last_activity
		FROM customer_states WHERE customer_id = ?`, customerID)

	var cs CustomerState
	var lastActivity string
	err := row.Scan(&cs.CustomerID, &cs.IsActive, &cs.IsNotified, &cs.ManagerID, &lastActivity)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get customer state: %w", err)
	}
	cs.LastActivity, _ = time.Parse(time.RFC3339Nano, lastActivity)
	return &cs, nil
}

func (s *SQLiteStore) PutCustomerState(cs *CustomerState) error {
	_, err := s.db.Exec(`
		INSERT INTO customer_states (customer_id, is_active, is_notified, manager_id, last_activity)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET
			is_active=excluded.is_active, is_notified=excluded.is_notified,
			manager_id=excluded.manager_id, last_activity=excluded.last_activity
	`, cs.CustomerID, cs.IsActive, cs.IsNotified, cs.ManagerID,
		cs.LastActivity.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: put customer state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetManager(customerID, managerID, expectedPrev string) error {
	result, err := s.db.Exec(`
		UPDATE customer_states SET manager_id = ?, last_activity = ?
		WHERE customer_id = ? AND is_active = 1 AND manager_id = ?
	`, managerID, time.Now().Format(time.RFC3339Nano), customerID, expectedPrev)
	if err != nil {
		return fmt.Errorf("store: set manager: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStore) TouchCustomer(customerID string) error {
	_, err := s.db.Exec(`UPDATE customer_states SET last_activity = ? WHERE customer_id = ?`,
		time.Now().Format(time.RFC3339Nano), customerID)
	if err != nil {
		return fmt.Errorf("store: touch customer: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkNotified(customerID string) error {
	result, err := s.db.Exec(`
		UPDATE customer_states SET is_notified = 1
		WHERE customer_id = ? AND is_active = 1 AND is_notified = 0
	`, customerID)
	if err != nil {
		return fmt.Errorf("store: mark notified: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStore) ListPendingCustomers() ([]*CustomerState, error) {
	rows, err := s.db.Query(`SELECT customer_id, is_active, is_notified, manager_id, last_activity
		FROM customer_states
		WHERE is_active = 1 AND manager_id = ''
		ORDER BY last_activity ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list pending: %w", err)
	}
	defer rows.Close()

	var pending []*CustomerState
	for rows.Next() {
		var cs CustomerState
		var lastActivity string
		if err := rows.Scan(&cs.CustomerID, &cs.IsActive, &cs.IsNotified, &cs.ManagerID, &lastActivity); err != nil {
			return nil, fmt.Errorf("store: scan pending: %w", err)
		}
		cs.LastActivity, _ = time.Parse(time.RFC3339Nano, lastActivity)
		pending = append(pending, &cs)
	}
	return pending, rows.Err()
}

// --- manager assignments ---

func (s *SQLiteStore) GetAssignment(managerID string) (*ManagerAssignment, error) {
	row := s.db.QueryRow(`SELECT active_customer_id FROM manager_assignments WHERE manager_id = ?`, managerID)

	a := ManagerAssignment{ManagerID: managerID}
	err := row.Scan(&a.ActiveCustomerID)
	if err == sql.ErrNoRows {
		return &a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get assignment: %w", err)
	}
	return &a, nil
}

func (s *SQLiteStore) PutAssignment(a *ManagerAssignment) error {
	_, err := s.db.Exec(`
		INSERT INTO manager_assignments (manager_id, active_customer_id) VALUES (?, ?)
		ON CONFLICT(manager_id) DO UPDATE SET active_customer_id=excluded.active_customer_id
	`, a.ManagerID, a.ActiveCustomerID)
	if err != nil {
		return fmt.Errorf("store: put assignment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetActiveCustomer(managerID, customerID, expectedPrev string) error {
	var result sql.Result
	var err error
	if expectedPrev == "" {
		// The manager may have no row yet; an insert counts as "was empty".
		result, err = s.db.Exec(`
			INSERT INTO manager_assignments (manager_id, active_customer_id) VALUES (?, ?)
			ON CONFLICT(manager_id) DO UPDATE SET active_customer_id=excluded.active_customer_id
			WHERE manager_assignments.active_customer_id = ''
		`, managerID, customerID)
	} else {
		result, err = s.db.Exec(`
			UPDATE manager_assignments SET active_customer_id = ?
			WHERE manager_id = ? AND active_customer_id = ?
		`, customerID, managerID, expectedPrev)
	}
	if err != nil {
		return fmt.Errorf("store: set active customer: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// --- messages ---

func (s *SQLiteStore) AppendMessage(m Message) error {
	_, err := s.db.Exec(`INSERT INTO messages (id, customer_id, sender, body, timestamp) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.CustomerID, string(m.Sender), m.Text, m.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(customerID string) ([]Message, error) {
	rows, err := s.db.Query(`SELECT id, sender, body, timestamp FROM messages
		WHERE customer_id = ? ORDER BY timestamp ASC, rowid ASC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var sender, ts string
		if err := rows.Scan(&m.ID, &sender, &m.Text, &ts); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.CustomerID = customerID
		m.Sender = Sender(sender)
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- orders ---

func (s *SQLiteStore) CreateOrder(o *Order) error {
	_, err := s.db.Exec(`
		INSERT INTO orders (order_id, customer_id, status, price, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO NOTHING
	`, o.ID, o.CustomerID, string(o.Status), o.Price, o.Description,
		o.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: create order: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetOrder(id string) (*Order, error) {
	row := s.db.QueryRow(`SELECT order_id, customer_id, status, price, description, created_at
		FROM orders WHERE order_id = ?`, id)

	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get order: %w", err)
	}
	return o, nil
}

func (s *SQLiteStore) UpdateOrderStatus(id string, status OrderStatus) error {
	result, err := s.db.Exec(`UPDATE orders SET status = ? WHERE order_id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("store: update order status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListOrdersByCustomer(customerID string) ([]*Order, error) {
	return s.listOrders(`SELECT order_id, customer_id, status, price, description, created_at
		FROM orders WHERE customer_id = ? ORDER BY created_at DESC`, customerID)
}

func (s *SQLiteStore) ListOpenOrders() ([]*Order, error) {
	return s.listOrders(`SELECT order_id, customer_id, status, price, description, created_at
		FROM orders WHERE status != ? ORDER BY created_at DESC`, string(StatusCompleted))
}

func (s *SQLiteStore) listOrders(query string, args ...any) ([]*Order, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// --- bonus accounts ---

func (s *SQLiteStore) EnsureBonusAccount(customerID string) (*BonusAccount, bool, error) {
	result, err := s.db.Exec(`
		INSERT INTO bonus_accounts (customer_id, external_id, balance, updated_at)
		VALUES (?, '', 0, ?)
		ON CONFLICT(customer_id) DO NOTHING
	`, customerID, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return nil, false, fmt.Errorf("store: ensure bonus account: %w", err)
	}
	created, _ := result.RowsAffected()

	row := s.db.QueryRow(`SELECT customer_id, external_id, balance, updated_at
		FROM bonus_accounts WHERE customer_id = ?`, customerID)
	var acct BonusAccount
	var updatedAt string
	if err := row.Scan(&acct.CustomerID, &acct.ExternalID, &acct.Balance, &updatedAt); err != nil {
		return nil, false, fmt.Errorf("store: get bonus account: %w", err)
	}
	acct.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &acct, created > 0, nil
}

func (s *SQLiteStore) AdjustBonusBalance(customerID string, delta int64) (int64, error) {
	_, err := s.db.Exec(`UPDATE bonus_accounts SET balance = balance + ?, updated_at = ? WHERE customer_id = ?`,
		delta, time.Now().Format(time.RFC3339Nano), customerID)
	if err != nil {
		return 0, fmt.Errorf("store: adjust bonus balance: %w", err)
	}

	var balance int64
	err = s.db.QueryRow(`SELECT balance FROM bonus_accounts WHERE customer_id = ?`, customerID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("store: read bonus balance: %w", err)
	}
	return balance, nil
}

func (s *SQLiteStore) SetBonusBalance(customerID string, balance int64) error {
	result, err := s.db.Exec(`UPDATE bonus_accounts SET balance = ?, updated_at = ? WHERE customer_id = ?`,
		balance, time.Now().Format(time.RFC3339Nano), customerID)
	if err != nil {
		return fmt.Errorf("store: set bonus balance: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) LinkExternalAccount(customerID, externalID string) error {
	result, err := s.db.Exec(`UPDATE bonus_accounts SET external_id = ?, updated_at = ? WHERE customer_id = ?`,
		externalID, time.Now().Format(time.RFC3339Nano), customerID)
	if err != nil {
		return fmt.Errorf("store: link external account: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- bonus codes ---

func (s *SQLiteStore) GetBonusCode(code string) (*BonusCode, error) {
	row := s.db.QueryRow(`SELECT id, code, value, active, external_id, redeemed_by, redeemed_at
		FROM bonus_codes WHERE code = ?`, code)

	var bc BonusCode
	var redeemedAt *string
	err := row.Scan(&bc.ID, &bc.Code, &bc.Value, &bc.Active, &bc.ExternalID, &bc.RedeemedBy, &redeemedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get bonus code: %w", err)
	}
	if redeemedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *redeemedAt)
		bc.RedeemedAt = &t
	}
	return &bc, nil
}

func (s *SQLiteStore) RedeemBonusCode(codeID, customerID string) error {
	result, err := s.db.Exec(`
		UPDATE bonus_codes SET active = 0, redeemed_by = ?, redeemed_at = ?
		WHERE id = ? AND active = 1
	`, customerID, time.Now().Format(time.RFC3339Nano), codeID)
	if err != nil {
		return fmt.Errorf("store: redeem bonus code: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// SaveBonusCode inserts or replaces a voucher. Used by operators seeding
// codes and by tests.
func (s *SQLiteStore) SaveBonusCode(bc *BonusCode) error {
	var redeemedAt *string
	if bc.RedeemedAt != nil {
		v := bc.RedeemedAt.Format(time.RFC3339Nano)
		redeemedAt = &v
	}
	_, err := s.db.Exec(`
		INSERT INTO bonus_codes (id, code, value, active, external_id, redeemed_by, redeemed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code=excluded.code, value=excluded.value, active=excluded.active,
			external_id=excluded.external_id, redeemed_by=excluded.redeemed_by,
			redeemed_at=excluded.redeemed_at
	`, bc.ID, bc.Code, bc.Value, bc.Active, bc.ExternalID, bc.RedeemedBy, redeemedAt)
	if err != nil {
		return fmt.Errorf("store: save bonus code: %w", err)
	}
	return nil
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanOrder(row scannable) (*Order, error) {
	var o Order
	var status, createdAt string
	if err := row.Scan(&o.ID, &o.CustomerID, &status, &o.Price, &o.Description, &createdAt); err != nil {
		return nil, err
	}
	o.Status = OrderStatus(status)
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &o, nil
}
