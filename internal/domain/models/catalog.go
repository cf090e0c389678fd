package models

import (
	"time"
)

// CatalogEntry представляет локальную карточку товара, синхронизируемую с поставщиком.
// Задания синхронизации изменяют только остаток, цены, идентификатор варианта и UpdatedAt;
// флаг Active синхронизацией никогда не снимается: товар без остатка остаётся
// видимым с нулевым количеством.
// SupplierVariantID пуст, пока вариант не разрешён: в схеме это NOT NULL
// DEFAULT '', а не NULL.
type CatalogEntry struct {
	ID                string    `db:"id" json:"id"`
	SupplierProductID string    `db:"supplier_product_id" json:"supplier_product_id"`
	SupplierVariantID string    `db:"supplier_variant_id" json:"supplier_variant_id,omitempty"`
	Name              string    `db:"name" json:"name"`
	Description       string    `db:"description" json:"description,omitempty"`
	CostPrice         float64   `db:"cost_price" json:"cost_price"`
	RetailPrice       float64   `db:"retail_price" json:"retail_price"`
	Active            bool      `db:"active" json:"active"`
	StockQuantity     int       `db:"stock_quantity" json:"stock_quantity"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// WarehouseStock представляет остаток товара на одном складе поставщика.
// Набор записей для товара полностью заменяется при каждом проходе
// синхронизации остатков: склад, пропавший из ответа поставщика, удаляется.
type WarehouseStock struct {
	EntryID          string    `db:"entry_id" json:"entry_id"`
	WarehouseID      string    `db:"warehouse_id" json:"warehouse_id"`
	WarehouseName    string    `db:"warehouse_name" json:"warehouse_name"`
	CountryCode      string    `db:"country_code" json:"country_code"`
	SupplierQuantity int       `db:"supplier_quantity" json:"supplier_quantity"`
	FactoryQuantity  int       `db:"factory_quantity" json:"factory_quantity"`
	TotalQuantity    int       `db:"total_quantity" json:"total_quantity"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}
