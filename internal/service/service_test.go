package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kasirpos/backend/internal/domain"
	"kasirpos/backend/internal/store"
	"kasirpos/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, nil, 0), repo
}

func TestProcessSaleReceipt(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	receipt, err := svc.ProcessSale(ctx, domain.SaleRequest{
		Lines: []domain.CartLine{
			{Code: "BRG001", Quantity: 2},
			{Code: "BRG002", Quantity: 3},
		},
		PaymentAmount: 25000,
	})
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}
	if receipt.TransactionID != 1 {
		t.Fatalf("expected first transaction id 1, got %d", receipt.TransactionID)
	}
	if receipt.Total != 20500 || receipt.Change != 4500 {
		t.Fatalf("unexpected receipt totals: %+v", receipt)
	}
	if len(receipt.Lines) != 2 {
		t.Fatalf("expected 2 receipt lines, got %d", len(receipt.Lines))
	}
	if receipt.Timestamp.IsZero() {
		t.Fatalf("receipt must carry the sale timestamp")
	}
}

func TestProcessSaleValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.ProcessSale(ctx, domain.SaleRequest{PaymentAmount: 1000}); !errors.Is(err, store.ErrEmptyCart) {
		t.Fatalf("empty cart: expected ErrEmptyCart, got %v", err)
	}
	if _, err := svc.ProcessSale(ctx, domain.SaleRequest{
		Lines:         []domain.CartLine{{Code: "BRG001", Quantity: 0}},
		PaymentAmount: 1000,
	}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("zero quantity: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.ProcessSale(ctx, domain.SaleRequest{
		Lines:         []domain.CartLine{{Code: "", Quantity: 1}},
		PaymentAmount: 1000,
	}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("blank code: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.ProcessSale(ctx, domain.SaleRequest{
		Lines:         []domain.CartLine{{Code: "BRG001", Quantity: 1}},
		PaymentAmount: -1,
	}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("negative payment: expected ErrInvalidInput, got %v", err)
	}
}

func TestTransactionHistoryCounts(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	carts := [][]domain.CartLine{
		{{Code: "BRG001", Quantity: 2}},
		{{Code: "BRG002", Quantity: 3}},
		{{Code: "BRG001", Quantity: 1}, {Code: "BRG003", Quantity: 1}},
	}
	for i, cart := range carts {
		if _, err := svc.ProcessSale(ctx, domain.SaleRequest{Lines: cart, PaymentAmount: 100000}); err != nil {
			t.Fatalf("sale %d: %v", i, err)
		}
	}

	history, err := svc.TransactionHistory(ctx, 2)
	if err != nil {
		t.Fatalf("transaction history: %v", err)
	}
	if len(history.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(history.Transactions))
	}
	if history.Transactions[0].ID != 3 || history.Transactions[1].ID != 2 {
		t.Fatalf("expected newest first, got ids %d, %d", history.Transactions[0].ID, history.Transactions[1].ID)
	}
	// Third sale: 1 + 1 units, total 5000+8000.
	if history.Transactions[0].ItemCount != 2 {
		t.Fatalf("expected item count 2, got %d", history.Transactions[0].ItemCount)
	}
	if history.Summary.TotalTransactions != 2 || history.Summary.TotalItemsSold != 5 {
		t.Fatalf("summary must cover only the returned window: %+v", history.Summary)
	}
	if history.Summary.TotalRevenue != 23500 {
		t.Fatalf("expected revenue 23500 over the window, got %d", history.Summary.TotalRevenue)
	}
}

func TestTransactionHistoryCap(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 55; i++ {
		if _, err := svc.ProcessSale(ctx, domain.SaleRequest{
			Lines:         []domain.CartLine{{Code: "BRG002", Quantity: 1}},
			PaymentAmount: 3500,
		}); err != nil {
			t.Fatalf("sale %d: %v", i, err)
		}
	}

	for _, limit := range []int{0, 200} {
		history, err := svc.TransactionHistory(ctx, limit)
		if err != nil {
			t.Fatalf("history with limit %d: %v", limit, err)
		}
		if len(history.Transactions) != 50 {
			t.Fatalf("limit %d must be capped at 50, got %d", limit, len(history.Transactions))
		}
		if history.Transactions[0].ID != 55 {
			t.Fatalf("expected newest id 55 first, got %d", history.Transactions[0].ID)
		}
	}
}

type countingCache struct {
	mu      sync.Mutex
	reports map[string]*domain.SalesReport
	hits    int
	sets    int
}

func (c *countingCache) Get(ctx context.Context, key string) (*domain.SalesReport, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	report, ok := c.reports[key]
	if !ok {
		return nil, false, nil
	}
	c.hits++
	return report, true, nil
}

func (c *countingCache) Set(ctx context.Context, key string, value *domain.SalesReport, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reports == nil {
		c.reports = make(map[string]*domain.SalesReport)
	}
	c.reports[key] = value
	c.sets++
	return nil
}

func TestSalesReportUsesCache(t *testing.T) {
	repo := memory.NewSeeded()
	reportCache := &countingCache{}
	svc := New(repo, reportCache, 30*time.Second)
	ctx := context.Background()

	if _, err := svc.ProcessSale(ctx, domain.SaleRequest{
		Lines: []domain.CartLine{
			{Code: "BRG001", Quantity: 2},
			{Code: "BRG002", Quantity: 1},
		},
		PaymentAmount: 20000,
	}); err != nil {
		t.Fatalf("sale: %v", err)
	}

	first, err := svc.SalesReport(ctx, 10)
	if err != nil {
		t.Fatalf("first report: %v", err)
	}
	if len(first.Daily) != 1 || len(first.TopItems) != 2 {
		t.Fatalf("unexpected report: %+v", first)
	}
	if reportCache.sets != 1 {
		t.Fatalf("expected the miss to populate the cache, sets=%d", reportCache.sets)
	}

	if _, err := svc.SalesReport(ctx, 10); err != nil {
		t.Fatalf("second report: %v", err)
	}
	if reportCache.hits != 1 || reportCache.sets != 1 {
		t.Fatalf("repeat call must be served from cache: hits=%d sets=%d", reportCache.hits, reportCache.sets)
	}
}

func TestSalesReportCacheKeyedByTopN(t *testing.T) {
	repo := memory.NewSeeded()
	reportCache := &countingCache{}
	svc := New(repo, reportCache, 30*time.Second)
	ctx := context.Background()

	if _, err := svc.ProcessSale(ctx, domain.SaleRequest{
		Lines: []domain.CartLine{
			{Code: "BRG001", Quantity: 2},
			{Code: "BRG002", Quantity: 1},
		},
		PaymentAmount: 20000,
	}); err != nil {
		t.Fatalf("sale: %v", err)
	}

	wide, err := svc.SalesReport(ctx, 10)
	if err != nil {
		t.Fatalf("report n=10: %v", err)
	}
	if len(wide.TopItems) != 2 {
		t.Fatalf("expected 2 top items for n=10, got %d", len(wide.TopItems))
	}

	// A smaller n must not be answered with the wider cached report.
	narrow, err := svc.SalesReport(ctx, 1)
	if err != nil {
		t.Fatalf("report n=1: %v", err)
	}
	if len(narrow.TopItems) != 1 {
		t.Fatalf("expected 1 top item for n=1, got %d", len(narrow.TopItems))
	}
	if reportCache.sets != 2 {
		t.Fatalf("each n must get its own cache entry, sets=%d", reportCache.sets)
	}

	again, err := svc.SalesReport(ctx, 1)
	if err != nil {
		t.Fatalf("repeat report n=1: %v", err)
	}
	if len(again.TopItems) != 1 || reportCache.hits != 1 {
		t.Fatalf("repeat n=1 must hit its own entry: items=%d hits=%d", len(again.TopItems), reportCache.hits)
	}
}

func TestDashboardStats(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	if _, err := svc.ProcessSale(ctx, domain.SaleRequest{
		Lines:         []domain.CartLine{{Code: "BRG001", Quantity: 2}},
		PaymentAmount: 10000,
	}); err != nil {
		t.Fatalf("sale: %v", err)
	}

	item, err := repo.GetItemByCode(ctx, "BRG003")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if _, err := repo.UpdateItem(ctx, item.ID, domain.ItemUpdateRequest{
		Code: "BRG003", Name: "Penggaris", CostPrice: 5000, SalePrice: 8000, RemainingStock: 2,
	}); err != nil {
		t.Fatalf("update item: %v", err)
	}

	stats, err := svc.DashboardStats(ctx)
	if err != nil {
		t.Fatalf("dashboard stats: %v", err)
	}
	if stats.TotalItems != 3 || stats.TotalTransactions != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.TotalRevenue != 10000 || stats.TotalProfit != 4000 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if stats.LowStockCount != 1 || stats.LowStockItems[0].Code != "BRG003" {
		t.Fatalf("expected BRG003 flagged as low stock: %+v", stats.LowStockItems)
	}
}

func TestAuditTrail(t *testing.T) {
	svc, _ := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})

	item, err := svc.CreateItem(ctx, domain.ItemCreateRequest{
		Code: "BRG010", Name: "Spidol", CostPrice: 4000, SalePrice: 6500, InitialStock: 20,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, err := svc.ProcessSale(ctx, domain.SaleRequest{
		Lines:         []domain.CartLine{{Code: item.Code, Quantity: 1}},
		PaymentAmount: 6500,
	}); err != nil {
		t.Fatalf("sale: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(logs))
	}
	if logs[0].Action != "process_sale" || logs[1].Action != "create_item" {
		t.Fatalf("expected newest first, got %s then %s", logs[0].Action, logs[1].Action)
	}
	for _, entry := range logs {
		if entry.ActorUsername != "admin" || entry.ActorRole != "admin" {
			t.Fatalf("entry must record the acting user: %+v", entry)
		}
		if entry.ID == "" || entry.CreatedAt.IsZero() {
			t.Fatalf("entry must carry an id and timestamp: %+v", entry)
		}
	}
}

func TestGetItemByCodeRejectsBlank(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.GetItemByCode(context.Background(), ""); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
