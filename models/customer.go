package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"gorm.io/gorm"
)

// Customer is a read-only input to the mapping engine; the pipeline never
// mutates it.
type Customer struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"index;not null" json:"business_id" binding:"required"`
	Name        string    `gorm:"size:100;not null" json:"name" binding:"required"`
	ContactName string    `gorm:"size:100" json:"contact_name"`
	Email       string    `gorm:"size:100" json:"email"`
	Phone       string    `gorm:"size:20" json:"phone"`
	TaxId       string    `gorm:"size:64" json:"tax_id"`
	Address     string    `gorm:"size:255" json:"address"`
	City        string    `gorm:"size:100" json:"city"`
	Country     string    `gorm:"size:2;default:'UY'" json:"country"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetCustomerById(ctx context.Context, db *gorm.DB, businessId string, id int) (*Customer, error) {
	if db == nil {
		db = config.GetDB().WithContext(ctx)
	}
	var customer Customer
	if err := db.Where("business_id = ? AND id = ?", businessId, id).Take(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func (c Customer) GetCursor() string {
	return c.CreatedAt.String()
}
