package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SalesOrder is a read-only input to the mapping engine; owned by the
// billing workflow.
type SalesOrder struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"index;not null" json:"business_id" binding:"required"`
	CustomerId  int             `gorm:"index;not null" json:"customer_id" binding:"required"`
	OrderNumber string          `gorm:"size:255;not null" json:"order_number" binding:"required"`
	OrderDate   time.Time       `gorm:"not null" json:"order_date" binding:"required"`
	OrderTotal  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"order_total"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetSalesOrderById(ctx context.Context, db *gorm.DB, businessId string, id int) (*SalesOrder, error) {
	if db == nil {
		db = config.GetDB().WithContext(ctx)
	}
	var order SalesOrder
	if err := db.Where("business_id = ? AND id = ?", businessId, id).Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (s SalesOrder) GetCursor() string {
	return s.CreatedAt.String()
}
