package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationRecord captures one delivered alert for auditing and the show
// command.
type NotificationRecord struct {
	ID        int64
	Owner     string
	Fuel      string
	Condition string
	Threshold decimal.Decimal
	Observed  decimal.Decimal
	FiredAt   time.Time
	CreatedAt time.Time
}
