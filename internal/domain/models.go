package domain

import "time"

// Item is a catalog entry. Money fields are integers in the smallest
// currency unit. Profit is always recomputed from the stock delta, so it
// reflects units sold to date rather than a running ledger sum.
type Item struct {
	ID             int64  `json:"id"`
	Code           string `json:"code"`
	Name           string `json:"name"`
	CostPrice      int64  `json:"cost_price"`
	SalePrice      int64  `json:"sale_price"`
	InitialStock   int    `json:"initial_stock"`
	RemainingStock int    `json:"remaining_stock"`
	Profit         int64  `json:"profit"`
}

type ItemCreateRequest struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	CostPrice    int64  `json:"cost_price"`
	SalePrice    int64  `json:"sale_price"`
	InitialStock int    `json:"initial_stock"`
}

// ItemUpdateRequest overwrites every supplied field including the remaining
// stock (an admin recount). The initial stock is never altered by an edit.
type ItemUpdateRequest struct {
	Code           string `json:"code"`
	Name           string `json:"name"`
	CostPrice      int64  `json:"cost_price"`
	SalePrice      int64  `json:"sale_price"`
	RemainingStock int    `json:"remaining_stock"`
}

type CartLine struct {
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`
}

type SaleRequest struct {
	Lines         []CartLine `json:"items"`
	PaymentAmount int64      `json:"payment_amount"`
}

// TransactionLine snapshots the item at sale time. Later price or name
// edits never retroactively alter historical receipts.
type TransactionLine struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	SalePrice int64  `json:"sale_price"`
	Quantity  int    `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
}

type Transaction struct {
	ID            int64             `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Lines         []TransactionLine `json:"items"`
	Total         int64             `json:"total"`
	Profit        int64             `json:"profit"`
	PaymentAmount int64             `json:"payment_amount"`
	Change        int64             `json:"change"`
}

type SaleReceipt struct {
	TransactionID int64             `json:"transaction_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Total         int64             `json:"total"`
	PaymentAmount int64             `json:"payment_amount"`
	Change        int64             `json:"change"`
	Lines         []TransactionLine `json:"items"`
}

type TransactionView struct {
	Transaction
	ItemCount int `json:"item_count"`
}

type HistorySummary struct {
	TotalTransactions int   `json:"total_transactions"`
	TotalItemsSold    int   `json:"total_items_sold"`
	TotalRevenue      int64 `json:"total_revenue"`
	TotalProfit       int64 `json:"total_profit"`
}

type TransactionHistory struct {
	Summary      HistorySummary    `json:"summary"`
	Transactions []TransactionView `json:"transactions"`
}

type DailySummary struct {
	Date   string `json:"date"`
	Total  int64  `json:"total"`
	Profit int64  `json:"profit"`
	Count  int    `json:"count"`
}

type TopItem struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	QuantitySold int    `json:"quantity_sold"`
	Revenue      int64  `json:"revenue"`
}

type SalesReport struct {
	Daily    []DailySummary `json:"daily"`
	TopItems []TopItem      `json:"top_items"`
}

type DashboardStats struct {
	TotalItems        int    `json:"total_items"`
	TotalTransactions int    `json:"total_transactions"`
	TotalRevenue      int64  `json:"total_revenue"`
	TotalProfit       int64  `json:"total_profit"`
	LowStockCount     int    `json:"low_stock_count"`
	LowStockItems     []Item `json:"low_stock_items"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
