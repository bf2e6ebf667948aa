package store

import (
	"context"
	"errors"
	"fmt"

	"kasirpos/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrEmptyCart    = errors.New("cart is empty")
	ErrInvalidInput = errors.New("invalid input")
)

// DuplicateCodeError is returned when a create or edit would give an item a
// code already held by a different live item. Matching is case-sensitive.
type DuplicateCodeError struct {
	Code string
}

func (e *DuplicateCodeError) Error() string {
	return fmt.Sprintf("item code %q is already in use", e.Code)
}

// ItemNotFoundError carries whichever key the caller looked up by.
type ItemNotFoundError struct {
	Code string
	ID   int64
}

func (e *ItemNotFoundError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("item %q not found", e.Code)
	}
	return fmt.Sprintf("item id %d not found", e.ID)
}

type InsufficientStockError struct {
	Code      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Code, e.Requested, e.Available)
}

// Repository owns the catalog, the append-only transaction log, audit
// entries and user accounts. Implementations must serialize CreateSale
// against every other mutation so its validate-then-apply sequence can
// never observe or leave half-applied state.
type Repository interface {
	ListItems(ctx context.Context) ([]domain.Item, error)
	CreateItem(ctx context.Context, req domain.ItemCreateRequest) (*domain.Item, error)
	GetItemByCode(ctx context.Context, code string) (*domain.Item, error)
	GetItemByID(ctx context.Context, id int64) (*domain.Item, error)
	UpdateItem(ctx context.Context, id int64, req domain.ItemUpdateRequest) (*domain.Item, error)
	DeleteItem(ctx context.Context, id int64) error
	DecrementStock(ctx context.Context, id int64, quantity int) (*domain.Item, error)
	SearchItems(ctx context.Context, query string) ([]domain.Item, error)

	CreateSale(ctx context.Context, lines []domain.CartLine, paymentAmount int64) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error)
	DailySummaries(ctx context.Context) ([]domain.DailySummary, error)
	TopSellingItems(ctx context.Context, n int) ([]domain.TopItem, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
