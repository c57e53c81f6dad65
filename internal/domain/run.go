package domain

import "time"

// RunSummary is the archived account of one bot run.
type RunSummary struct {
	RunID           string        `json:"run_id"`
	MarketID        string        `json:"market_id,omitempty"`
	MarketTitle     string        `json:"market_title,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	Phase           string        `json:"phase"`
	Outcome         string        `json:"outcome"`
	InitialPrice    int64         `json:"initial_price,omitempty"`
	InitialQuantity int64         `json:"initial_quantity,omitempty"`
	Events          int           `json:"events"`
	Replacements    int           `json:"replacements"`
	Recovered       int           `json:"recovered"`
	FinalOrder      *Order        `json:"final_order,omitempty"`
	Error           string        `json:"error,omitempty"`
	Orders          []OrderRecord `json:"orders,omitempty"`
	Audit           []AuditEntry  `json:"audit,omitempty"`
}
