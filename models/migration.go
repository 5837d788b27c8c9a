package models

import (
	"log"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Customer{}, &SalesOrder{},
		&Invoice{}, &InvoiceItem{},
		&IntegrationConfig{}, &InvoiceQueueJob{}, &ValidationLogEntry{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
