package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Invoice struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id" binding:"required"`
	CustomerId      int             `gorm:"index;not null" json:"customer_id" binding:"required"`
	SalesOrderId    int             `gorm:"index;default:null" json:"sales_order_id"`
	InvoiceNumber   string          `gorm:"size:255;not null;index" json:"invoice_number" binding:"required"`
	InvoiceDate     time.Time       `gorm:"not null" json:"invoice_date" binding:"required"`
	Currency        string          `gorm:"size:3;not null;default:'UYU'" json:"currency"`
	InvoiceSubtotal decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"invoice_subtotal"`
	InvoiceTax      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"invoice_tax"`
	InvoiceDiscount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"invoice_discount"`
	InvoiceTotal    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"invoice_total"`
	CurrentStatus   InvoiceStatus   `gorm:"size:30;not null;default:'Draft';index" json:"current_status"`

	// PendingValidation marks the invoice eligible for the validation queue.
	// Cleared once a validation job reaches a terminal outcome.
	PendingValidation *bool `gorm:"not null;default:false;index" json:"pending_validation"`

	// Observations carries the last human-readable failure reason; full
	// technical detail lives in ValidationLogEntry.
	Observations string `gorm:"type:text" json:"observations"`

	// External-system fields, populated only after a successful mapping
	// extraction or a webhook correction.
	AuthorizationCode string `gorm:"size:255" json:"authorization_code"`
	ExternalReference string `gorm:"size:255;index" json:"external_reference"`
	QrPayload         string `gorm:"type:text" json:"qr_payload"`
	IssuerName        string `gorm:"size:255" json:"issuer_name"`
	IssuerTaxId       string `gorm:"size:64" json:"issuer_tax_id"`

	// PDF metadata delivered via webhook; the payload itself is stored in GCS.
	PdfObjectKey string `gorm:"size:512" json:"pdf_object_key"`
	PdfFilename  string `gorm:"size:255" json:"pdf_filename"`
	PdfSize      int64  `gorm:"default:0" json:"pdf_size"`

	Items     []InvoiceItem `gorm:"foreignKey:InvoiceId" json:"items"`
	CreatedAt time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

type InvoiceItem struct {
	ID          int             `gorm:"primary_key" json:"id"`
	InvoiceId   int             `gorm:"index;not null" json:"invoice_id" binding:"required"`
	ProductId   int             `gorm:"index" json:"product_id"`
	Name        string          `gorm:"size:100" json:"name" binding:"required"`
	Description string          `gorm:"size:255;default:null" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity" binding:"required"`
	UnitRate    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_rate" binding:"required"`
	TaxAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetInvoiceById(ctx context.Context, db *gorm.DB, businessId string, id int) (*Invoice, error) {
	if db == nil {
		db = config.GetDB().WithContext(ctx)
	}
	var invoice Invoice
	if err := db.Preload("Items").
		Where("business_id = ? AND id = ?", businessId, id).
		Take(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetInvoiceByNumber is the business-key fallback used by webhook
// reconciliation when no invoice id is present in the callback.
func GetInvoiceByNumber(ctx context.Context, db *gorm.DB, businessId string, invoiceNumber string) (*Invoice, error) {
	if db == nil {
		db = config.GetDB().WithContext(ctx)
	}
	if invoiceNumber == "" {
		return nil, errors.New("invoice number is required")
	}
	var invoice Invoice
	if err := db.Preload("Items").
		Where("business_id = ? AND invoice_number = ?", businessId, invoiceNumber).
		Take(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

// returns decoded cursor string
func (i Invoice) GetCursor() string {
	return i.CreatedAt.String()
}

func (i *Invoice) GetID() int {
	return i.ID
}
