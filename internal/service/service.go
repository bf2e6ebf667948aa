package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"kasirpos/backend/internal/cache"
	"kasirpos/backend/internal/domain"
	"kasirpos/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	// historyLimit caps how many transactions the history endpoint returns.
	historyLimit = 50

	salesReportCacheKeyPrefix = "reports:sales"
)

type Service struct {
	repo      store.Repository
	reports   cache.ReportCache
	reportTTL time.Duration
}

func New(repo store.Repository, reports cache.ReportCache, reportTTL time.Duration) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	return &Service{repo: repo, reports: reports, reportTTL: reportTTL}
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) GetItemByCode(ctx context.Context, code string) (*domain.Item, error) {
	if code == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.GetItemByCode(ctx, code)
}

func (s *Service) GetItemByID(ctx context.Context, id int64) (*domain.Item, error) {
	return s.repo.GetItemByID(ctx, id)
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	item, err := s.repo.CreateItem(ctx, req)
	if err != nil {
		return domain.Item{}, err
	}

	s.logAudit(ctx, "create_item", "item", strconv.FormatInt(item.ID, 10),
		fmt.Sprintf("code=%s,cost=%d,sale=%d,stock=%d", item.Code, item.CostPrice, item.SalePrice, item.InitialStock))
	return *item, nil
}

func (s *Service) UpdateItem(ctx context.Context, id int64, req domain.ItemUpdateRequest) (domain.Item, error) {
	item, err := s.repo.UpdateItem(ctx, id, req)
	if err != nil {
		return domain.Item{}, err
	}

	s.logAudit(ctx, "update_item", "item", strconv.FormatInt(item.ID, 10),
		fmt.Sprintf("code=%s,cost=%d,sale=%d,remaining=%d", item.Code, item.CostPrice, item.SalePrice, item.RemainingStock))
	return *item, nil
}

func (s *Service) DeleteItem(ctx context.Context, id int64) error {
	if err := s.repo.DeleteItem(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "delete_item", "item", strconv.FormatInt(id, 10), "")
	return nil
}

func (s *Service) SearchItems(ctx context.Context, query string) ([]domain.Item, error) {
	return s.repo.SearchItems(ctx, query)
}

// ProcessSale validates and commits the cart as one unit. Either every line
// is applied and one transaction is appended, or the store is left
// untouched; the repository guarantees that under its own lock scope.
func (s *Service) ProcessSale(ctx context.Context, req domain.SaleRequest) (domain.SaleReceipt, error) {
	if len(req.Lines) == 0 {
		return domain.SaleReceipt{}, store.ErrEmptyCart
	}
	for _, line := range req.Lines {
		if line.Code == "" || line.Quantity < 1 {
			return domain.SaleReceipt{}, store.ErrInvalidInput
		}
	}
	if req.PaymentAmount < 0 {
		return domain.SaleReceipt{}, store.ErrInvalidInput
	}

	tx, err := s.repo.CreateSale(ctx, req.Lines, req.PaymentAmount)
	if err != nil {
		return domain.SaleReceipt{}, err
	}

	s.logAudit(ctx, "process_sale", "transaction", strconv.FormatInt(tx.ID, 10),
		fmt.Sprintf("total=%d,profit=%d,payment=%d,change=%d,lines=%d", tx.Total, tx.Profit, tx.PaymentAmount, tx.Change, len(tx.Lines)))

	return domain.SaleReceipt{
		TransactionID: tx.ID,
		Timestamp:     tx.Timestamp,
		Total:         tx.Total,
		PaymentAmount: tx.PaymentAmount,
		Change:        tx.Change,
		Lines:         tx.Lines,
	}, nil
}

// TransactionHistory returns the most recent transactions, newest first,
// with a derived per-transaction item count and aggregate totals over the
// returned window.
func (s *Service) TransactionHistory(ctx context.Context, limit int) (domain.TransactionHistory, error) {
	if limit < 1 || limit > historyLimit {
		limit = historyLimit
	}

	transactions, err := s.repo.ListTransactions(ctx, limit)
	if err != nil {
		return domain.TransactionHistory{}, err
	}

	history := domain.TransactionHistory{
		Transactions: make([]domain.TransactionView, 0, len(transactions)),
	}
	for _, tx := range transactions {
		itemCount := 0
		for _, line := range tx.Lines {
			itemCount += line.Quantity
		}
		history.Transactions = append(history.Transactions, domain.TransactionView{
			Transaction: tx,
			ItemCount:   itemCount,
		})
		history.Summary.TotalTransactions++
		history.Summary.TotalItemsSold += itemCount
		history.Summary.TotalRevenue += tx.Total
		history.Summary.TotalProfit += tx.Profit
	}
	return history, nil
}

func (s *Service) SummarizeByDay(ctx context.Context) ([]domain.DailySummary, error) {
	return s.repo.DailySummaries(ctx)
}

func (s *Service) TopSellingItems(ctx context.Context, n int) ([]domain.TopItem, error) {
	return s.repo.TopSellingItems(ctx, n)
}

// SalesReport bundles the daily summaries and top sellers, served from the
// report cache when a fresh copy exists. The key carries topN so requests
// for different sizes never share an entry.
func (s *Service) SalesReport(ctx context.Context, topN int) (domain.SalesReport, error) {
	key := fmt.Sprintf("%s:%d", salesReportCacheKeyPrefix, topN)
	if cached, ok, err := s.reports.Get(ctx, key); err == nil && ok {
		return *cached, nil
	}

	daily, err := s.repo.DailySummaries(ctx)
	if err != nil {
		return domain.SalesReport{}, err
	}
	top, err := s.repo.TopSellingItems(ctx, topN)
	if err != nil {
		return domain.SalesReport{}, err
	}

	report := domain.SalesReport{Daily: daily, TopItems: top}
	if s.reportTTL > 0 {
		_ = s.reports.Set(ctx, key, &report, s.reportTTL)
	}
	return report, nil
}

func (s *Service) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	transactions, err := s.repo.ListTransactions(ctx, 0)
	if err != nil {
		return domain.DashboardStats{}, err
	}

	stats := domain.DashboardStats{
		TotalItems:        len(items),
		TotalTransactions: len(transactions),
		LowStockItems:     make([]domain.Item, 0, 8),
	}
	for _, tx := range transactions {
		stats.TotalRevenue += tx.Total
		stats.TotalProfit += tx.Profit
	}
	for _, item := range items {
		if item.RemainingStock < 5 {
			stats.LowStockItems = append(stats.LowStockItems, item)
		}
	}
	stats.LowStockCount = len(stats.LowStockItems)
	return stats, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	_ = s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
}
