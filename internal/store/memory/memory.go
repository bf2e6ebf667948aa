package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirpos/backend/internal/domain"
	"kasirpos/backend/internal/store"
	"kasirpos/backend/internal/xid"
)

// Store keeps the whole catalog and transaction log behind a single mutex.
// Every mutating operation, CreateSale included, runs start-to-finish under
// the write lock, which is what makes the two-phase sale atomic.
type Store struct {
	mu           sync.RWMutex
	items        map[int64]domain.Item
	itemOrder    []int64
	transactions []domain.Transaction
	auditLogs    []domain.AuditLog
	users        map[string]domain.UserAccount
	nextItemID   int64
	nextTxID     int64
}

func New() *Store {
	return &Store{
		items:        make(map[int64]domain.Item),
		itemOrder:    make([]int64, 0, 64),
		transactions: make([]domain.Transaction, 0, 128),
		auditLogs:    make([]domain.AuditLog, 0, 128),
		users:        make(map[string]domain.UserAccount),
		nextItemID:   1,
		nextTxID:     1,
	}
}

// NewSeeded returns a store preloaded with the demo catalog and the default
// admin/cashier accounts for dev mode.
func NewSeeded() *Store {
	s := New()
	seed := []domain.ItemCreateRequest{
		{Code: "BRG001", Name: "Buku Tulis", CostPrice: 3000, SalePrice: 5000, InitialStock: 50},
		{Code: "BRG002", Name: "Pulpen", CostPrice: 2000, SalePrice: 3500, InitialStock: 100},
		{Code: "BRG003", Name: "Penggaris", CostPrice: 5000, SalePrice: 8000, InitialStock: 30},
	}
	for _, req := range seed {
		if _, err := s.CreateItem(context.Background(), req); err != nil {
			log.Fatalf("[memory-store] failed to seed item %s: %v", req.Code, err)
		}
	}
	s.users = seedUsers()
	return s
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func itemProfit(item domain.Item) int64 {
	sold := int64(item.InitialStock - item.RemainingStock)
	return (item.SalePrice - item.CostPrice) * sold
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.itemOrder))
	for _, id := range s.itemOrder {
		items = append(items, s.items[id])
	}
	return items, nil
}

func (s *Store) CreateItem(_ context.Context, req domain.ItemCreateRequest) (*domain.Item, error) {
	if req.Code == "" || req.Name == "" || req.CostPrice < 0 || req.SalePrice < 0 || req.InitialStock < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.findByCodeLocked(req.Code); ok {
		return nil, &store.DuplicateCodeError{Code: req.Code}
	}

	item := domain.Item{
		ID:             s.nextItemID,
		Code:           req.Code,
		Name:           req.Name,
		CostPrice:      req.CostPrice,
		SalePrice:      req.SalePrice,
		InitialStock:   req.InitialStock,
		RemainingStock: req.InitialStock,
		Profit:         0,
	}
	s.nextItemID++
	s.items[item.ID] = item
	s.itemOrder = append(s.itemOrder, item.ID)

	created := item
	return &created, nil
}

func (s *Store) GetItemByCode(_ context.Context, code string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.findByCodeLocked(code)
	if !ok {
		return nil, &store.ItemNotFoundError{Code: code}
	}
	found := item
	return &found, nil
}

func (s *Store) GetItemByID(_ context.Context, id int64) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, &store.ItemNotFoundError{ID: id}
	}
	found := item
	return &found, nil
}

func (s *Store) UpdateItem(_ context.Context, id int64, req domain.ItemUpdateRequest) (*domain.Item, error) {
	if req.Code == "" || req.Name == "" || req.CostPrice < 0 || req.SalePrice < 0 || req.RemainingStock < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, &store.ItemNotFoundError{ID: id}
	}
	if other, ok := s.findByCodeLocked(req.Code); ok && other.ID != id {
		return nil, &store.DuplicateCodeError{Code: req.Code}
	}

	item.Code = req.Code
	item.Name = req.Name
	item.CostPrice = req.CostPrice
	item.SalePrice = req.SalePrice
	item.RemainingStock = req.RemainingStock
	item.Profit = itemProfit(item)
	s.items[id] = item

	updated := item
	return &updated, nil
}

func (s *Store) DeleteItem(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return &store.ItemNotFoundError{ID: id}
	}
	delete(s.items, id)
	for i, orderedID := range s.itemOrder {
		if orderedID == id {
			s.itemOrder = append(s.itemOrder[:i], s.itemOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) DecrementStock(_ context.Context, id int64, quantity int) (*domain.Item, error) {
	if quantity < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, &store.ItemNotFoundError{ID: id}
	}
	if quantity > item.RemainingStock {
		return nil, &store.InsufficientStockError{
			Code:      item.Code,
			Requested: quantity,
			Available: item.RemainingStock,
		}
	}

	item.RemainingStock -= quantity
	item.Profit = itemProfit(item)
	s.items[id] = item

	updated := item
	return &updated, nil
}

func (s *Store) SearchItems(_ context.Context, query string) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	results := make([]domain.Item, 0, 16)
	for _, id := range s.itemOrder {
		item := s.items[id]
		if item.RemainingStock < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(item.Code), q) || strings.Contains(strings.ToLower(item.Name), q) {
			results = append(results, item)
		}
	}
	return results, nil
}

// CreateSale validates and applies the whole cart under one write-lock
// section. The validation pass accumulates requested quantities per code so
// a cart that names the same item twice cannot pass validation and then
// drive stock negative during the apply pass.
func (s *Store) CreateSale(_ context.Context, lines []domain.CartLine, paymentAmount int64) (*domain.Transaction, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validation pass: no mutation.
	requested := make(map[string]int, len(lines))
	for _, line := range lines {
		item, ok := s.findByCodeLocked(line.Code)
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

	// Apply pass: decrement stock and snapshot each line at sale time.
	txLines := make([]domain.TransactionLine, 0, len(lines))
	var total, profit int64
	for _, line := range lines {
		item, _ := s.findByCodeLocked(line.Code)
		item.RemainingStock -= line.Quantity
		item.Profit = itemProfit(item)
		s.items[item.ID] = item

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

	change := paymentAmount - total
	if change < 0 {
		change = 0
	}

	tx := domain.Transaction{
		ID:            s.nextTxID,
		Timestamp:     time.Now().UTC().Truncate(time.Second),
		Lines:         txLines,
		Total:         total,
		Profit:        profit,
		PaymentAmount: paymentAmount,
		Change:        change,
	}
	s.nextTxID++
	s.transactions = append(s.transactions, tx)

	created := cloneTransaction(tx)
	return &created, nil
}

// ListTransactions returns the log newest first. A limit below 1 returns
// the full log.
func (s *Store) ListTransactions(_ context.Context, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, len(s.transactions))
	for i := len(s.transactions) - 1; i >= 0; i-- {
		result = append(result, cloneTransaction(s.transactions[i]))
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) DailySummaries(_ context.Context) ([]domain.DailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDate := make(map[string]*domain.DailySummary)
	for _, tx := range s.transactions {
		date := tx.Timestamp.Format("2006-01-02")
		summary, ok := byDate[date]
		if !ok {
			summary = &domain.DailySummary{Date: date}
			byDate[date] = summary
		}
		summary.Total += tx.Total
		summary.Profit += tx.Profit
		summary.Count++
	}

	result := make([]domain.DailySummary, 0, len(byDate))
	for _, summary := range byDate {
		result = append(result, *summary)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date < result[j].Date })
	return result, nil
}

func (s *Store) TopSellingItems(_ context.Context, n int) ([]domain.TopItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n < 1 {
		n = 10
	}

	type ranked struct {
		domain.TopItem
		firstSeen int
	}
	byCode := make(map[string]*ranked)
	order := 0
	for _, tx := range s.transactions {
		for _, line := range tx.Lines {
			entry, ok := byCode[line.Code]
			if !ok {
				entry = &ranked{TopItem: domain.TopItem{Code: line.Code, Name: line.Name}, firstSeen: order}
				byCode[line.Code] = entry
				order++
			}
			entry.QuantitySold += line.Quantity
			entry.Revenue += line.Subtotal
		}
	}

	all := make([]*ranked, 0, len(byCode))
	for _, entry := range byCode {
		all = append(all, entry)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].QuantitySold != all[j].QuantitySold {
			return all[i].QuantitySold > all[j].QuantitySold
		}
		return all[i].firstSeen < all[j].firstSeen
	})

	if len(all) > n {
		all = all[:n]
	}
	result := make([]domain.TopItem, 0, len(all))
	for _, entry := range all {
		result = append(result, entry.TopItem)
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		result = append(result, s.auditLogs[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return store.ErrInvalidInput
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func (s *Store) findByCodeLocked(code string) (domain.Item, bool) {
	for _, id := range s.itemOrder {
		if item := s.items[id]; item.Code == code {
			return item, true
		}
	}
	return domain.Item{}, false
}

func cloneTransaction(tx domain.Transaction) domain.Transaction {
	cloned := tx
	cloned.Lines = make([]domain.TransactionLine, len(tx.Lines))
	copy(cloned.Lines, tx.Lines)
	return cloned
}
