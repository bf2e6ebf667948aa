// Package postgres implements store.Repository on PostgreSQL. Expected
// schema: items (id bigserial, code unique), transactions (id bigserial),
// transaction_lines (transaction_id, line_no), audit_logs, users.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirpos/backend/internal/domain"
	"kasirpos/backend/internal/store"
	"kasirpos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, cost_price, sale_price, initial_stock, remaining_stock, profit
		FROM items
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanItems(rows)
}

func (s *Store) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (*domain.Item, error) {
	if req.Code == "" || req.Name == "" || req.CostPrice < 0 || req.SalePrice < 0 || req.InitialStock < 0 {
		return nil, store.ErrInvalidInput
	}

	var item domain.Item
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO items (code, name, cost_price, sale_price, initial_stock, remaining_stock, profit, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5,0,now(),now())
		RETURNING id, code, name, cost_price, sale_price, initial_stock, remaining_stock, profit
	`, req.Code, req.Name, req.CostPrice, req.SalePrice, req.InitialStock).Scan(
		&item.ID, &item.Code, &item.Name, &item.CostPrice, &item.SalePrice,
		&item.InitialStock, &item.RemainingStock, &item.Profit)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &store.DuplicateCodeError{Code: req.Code}
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetItemByCode(ctx context.Context, code string) (*domain.Item, error) {
	item, err := s.getItem(ctx, s.db, `code = $1`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.ItemNotFoundError{Code: code}
		}
		return nil, err
	}
	return item, nil
}

func (s *Store) GetItemByID(ctx context.Context, id int64) (*domain.Item, error) {
	item, err := s.getItem(ctx, s.db, `id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.ItemNotFoundError{ID: id}
		}
		return nil, err
	}
	return item, nil
}

func (s *Store) UpdateItem(ctx context.Context, id int64, req domain.ItemUpdateRequest) (*domain.Item, error) {
	if req.Code == "" || req.Name == "" || req.CostPrice < 0 || req.SalePrice < 0 || req.RemainingStock < 0 {
		return nil, store.ErrInvalidInput
	}

	var item domain.Item
	err := s.db.QueryRowContext(ctx, `
		UPDATE items
		SET code = $2, name = $3, cost_price = $4, sale_price = $5,
		    remaining_stock = $6,
		    profit = ($5 - $4) * (initial_stock - $6),
		    updated_at = now()
		WHERE id = $1
		RETURNING id, code, name, cost_price, sale_price, initial_stock, remaining_stock, profit
	`, id, req.Code, req.Name, req.CostPrice, req.SalePrice, req.RemainingStock).Scan(
		&item.ID, &item.Code, &item.Name, &item.CostPrice, &item.SalePrice,
		&item.InitialStock, &item.RemainingStock, &item.Profit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.ItemNotFoundError{ID: id}
		}
		if isUniqueViolation(err) {
			return nil, &store.DuplicateCodeError{Code: req.Code}
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &store.ItemNotFoundError{ID: id}
	}
	return nil
}

func (s *Store) DecrementStock(ctx context.Context, id int64, quantity int) (*domain.Item, error) {
	if quantity < 1 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var item domain.Item
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, code, name, cost_price, sale_price, initial_stock, remaining_stock, profit
		FROM items
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&item.ID, &item.Code, &item.Name, &item.CostPrice, &item.SalePrice,
		&item.InitialStock, &item.RemainingStock, &item.Profit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.ItemNotFoundError{ID: id}
		}
		return nil, err
	}
	if quantity > item.RemainingStock {
		return nil, &store.InsufficientStockError{
			Code:      item.Code,
			Requested: quantity,
			Available: item.RemainingStock,
		}
	}

	item.RemainingStock -= quantity
	item.Profit = (item.SalePrice - item.CostPrice) * int64(item.InitialStock-item.RemainingStock)
	_, err = pgTx.ExecContext(ctx, `
		UPDATE items
		SET remaining_stock = $2, profit = $3, updated_at = now()
		WHERE id = $1
	`, item.ID, item.RemainingStock, item.Profit)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SearchItems(ctx context.Context, query string) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, cost_price, sale_price, initial_stock, remaining_stock, profit
		FROM items
		WHERE remaining_stock > 0
		  AND (code ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%')
		ORDER BY id
	`, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanItems(rows)
}

// CreateSale runs the full validate-then-apply sequence inside one
// SERIALIZABLE transaction, locking every referenced item row up front.
// Requested quantities are accumulated per code before any update so a cart
// naming the same item twice cannot drive stock negative mid-apply.
func (s *Store) CreateSale(ctx context.Context, lines []domain.CartLine, paymentAmount int64) (*domain.Transaction, error) {
	if len(lines) == 0 {
		return nil, store.ErrEmptyCart
	}
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
	}
	if paymentAmount < 0 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	codes := uniqueCodes(lines)
	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT id, code, name, cost_price, sale_price, initial_stock, remaining_stock, profit
		FROM items
		WHERE code = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, codes)
	if err != nil {
		return nil, err
	}
	itemsByCode := make(map[string]domain.Item, len(codes))
	for itemRows.Next() {
		var item domain.Item
		if err := itemRows.Scan(&item.ID, &item.Code, &item.Name, &item.CostPrice, &item.SalePrice,
			&item.InitialStock, &item.RemainingStock, &item.Profit); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		itemsByCode[item.Code] = item
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	// Validation pass.
	requested := make(map[string]int, len(lines))
	for _, line := range lines {
		item, ok := itemsByCode[line.Code]
		if !ok {
			return nil, &store.ItemNotFoundError{Code: line.Code}
		}
		requested[line.Code] += line.Quantity
		if requested[line.Code] > item.RemainingStock {
			return nil, &store.InsufficientStockError{
				Code:      line.Code,
				Requested: requested[line.Code],
				Available: item.RemainingStock,
			}
		}
	}

	// Apply pass.
	txLines := make([]domain.TransactionLine, 0, len(lines))
	var total, profit int64
	for _, line := range lines {
		item := itemsByCode[line.Code]
		item.RemainingStock -= line.Quantity
		item.Profit = (item.SalePrice - item.CostPrice) * int64(item.InitialStock-item.RemainingStock)
		itemsByCode[line.Code] = item

		subtotal := item.SalePrice * int64(line.Quantity)
		txLines = append(txLines, domain.TransactionLine{
			Code:      item.Code,
			Name:      item.Name,
			SalePrice: item.SalePrice,
			Quantity:  line.Quantity,
			Subtotal:  subtotal,
		})
		total += subtotal
		profit += (item.SalePrice - item.CostPrice) * int64(line.Quantity)
	}
	for _, code := range codes {
		item := itemsByCode[code]
		_, err = pgTx.ExecContext(ctx, `
			UPDATE items
			SET remaining_stock = $2, profit = $3, updated_at = now()
			WHERE id = $1
		`, item.ID, item.RemainingStock, item.Profit)
		if err != nil {
			return nil, err
		}
	}

	change := paymentAmount - total
	if change < 0 {
		change = 0
	}
	timestamp := time.Now().UTC().Truncate(time.Second)

	var txID int64
	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO transactions (created_at, total, profit, payment_amount, change_amount)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, timestamp, total, profit, paymentAmount, change).Scan(&txID)
	if err != nil {
		return nil, err
	}

	for lineNo, line := range txLines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_lines (transaction_id, line_no, code, name, sale_price, quantity, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, txID, lineNo, line.Code, line.Name, line.SalePrice, line.Quantity, line.Subtotal)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &domain.Transaction{
		ID:            txID,
		Timestamp:     timestamp,
		Lines:         txLines,
		Total:         total,
		Profit:        profit,
		PaymentAmount: paymentAmount,
		Change:        change,
	}, nil
}

func (s *Store) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT id, created_at, total, profit, payment_amount, change_amount
		FROM transactions
		ORDER BY id DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query+` LIMIT $1`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, 64)
	ids := make([]int64, 0, 64)
	index := make(map[int64]int, 64)
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(&tx.ID, &tx.Timestamp, &tx.Total, &tx.Profit, &tx.PaymentAmount, &tx.Change); err != nil {
			return nil, err
		}
		tx.Timestamp = tx.Timestamp.UTC()
		tx.Lines = make([]domain.TransactionLine, 0, 4)
		index[tx.ID] = len(transactions)
		transactions = append(transactions, tx)
		ids = append(ids, tx.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return transactions, nil
	}

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, code, name, sale_price, quantity, subtotal
		FROM transaction_lines
		WHERE transaction_id = ANY($1)
		ORDER BY transaction_id, line_no
	`, ids)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var txID int64
		var line domain.TransactionLine
		if err := lineRows.Scan(&txID, &line.Code, &line.Name, &line.SalePrice, &line.Quantity, &line.Subtotal); err != nil {
			return nil, err
		}
		if pos, ok := index[txID]; ok {
			transactions[pos].Lines = append(transactions[pos].Lines, line)
		}
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	return transactions, nil
}

func (s *Store) DailySummaries(ctx context.Context) ([]domain.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(created_at, 'YYYY-MM-DD') AS day,
		       COALESCE(SUM(total), 0), COALESCE(SUM(profit), 0), COUNT(*)
		FROM transactions
		GROUP BY day
		ORDER BY day
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]domain.DailySummary, 0, 32)
	for rows.Next() {
		var summary domain.DailySummary
		if err := rows.Scan(&summary.Date, &summary.Total, &summary.Profit, &summary.Count); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *Store) TopSellingItems(ctx context.Context, n int) ([]domain.TopItem, error) {
	if n < 1 {
		n = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT code,
		       (array_agg(name ORDER BY transaction_id, line_no))[1],
		       SUM(quantity), SUM(subtotal)
		FROM transaction_lines
		GROUP BY code
		ORDER BY SUM(quantity) DESC, MIN(transaction_id), MIN(line_no)
		LIMIT $1
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TopItem, 0, n)
	for rows.Next() {
		var item domain.TopItem
		if err := rows.Scan(&item.Code, &item.Name, &item.QuantitySold, &item.Revenue); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidInput
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getItem(ctx context.Context, q queryRower, where string, arg any) (*domain.Item, error) {
	var item domain.Item
	err := q.QueryRowContext(ctx, `
		SELECT id, code, name, cost_price, sale_price, initial_stock, remaining_stock, profit
		FROM items
		WHERE `+where, arg).Scan(
		&item.ID, &item.Code, &item.Name, &item.CostPrice, &item.SalePrice,
		&item.InitialStock, &item.RemainingStock, &item.Profit)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]domain.Item, error) {
	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Code, &item.Name, &item.CostPrice, &item.SalePrice,
			&item.InitialStock, &item.RemainingStock, &item.Profit); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func uniqueCodes(lines []domain.CartLine) []string {
	seen := make(map[string]bool, len(lines))
	codes := make([]string, 0, len(lines))
	for _, line := range lines {
		if seen[line.Code] {
			continue
		}
		seen[line.Code] = true
		codes = append(codes, line.Code)
	}
	return codes
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
