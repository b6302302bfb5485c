package models

// Типы тарифов, которые заводятся миграцией.
const (
	PlanFree  = "free"
	PlanTier2 = "tier2"
	PlanTier3 = "tier3"
)

// PlanLimit дневные лимиты и флаги тарифа.
// Отсутствие операции в DailyLimits означает нулевой лимит, nil означает безлимит.
type PlanLimit struct {
	PlanType    string          `json:"plan_type"`
	DailyLimits map[string]*int `json:"daily_limits"`
	Features    map[string]bool `json:"features,omitempty"`
}

// LimitFor возвращает лимит операции и признак безлимита.
func (p PlanLimit) LimitFor(operationType string) (limit int, unlimited bool) {
	v, ok := p.DailyLimits[operationType]
	if !ok {
		return 0, false
	}
	if v == nil {
		return 0, true
	}
	return *v, false
}

// QuotaRemaining остаток дневной квоты.
type QuotaRemaining struct {
	OperationType string `json:"operation_type"`
	PlanType      string `json:"plan_type"`
	Unlimited     bool   `json:"unlimited"`
	Limit         int    `json:"limit"`
	Used          int    `json:"used"`
	Remaining     int    `json:"remaining"`
}
