package supplier

// authResponse тело ответа на запрос выдачи или обновления токена
type authResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	TokenType        string `json:"token_type"`
}

// apiErrorBody тело ошибочного ответа API поставщика
type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ProductDetail карточка товара в каталоге поставщика
type ProductDetail struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Brand       string    `json:"brand"`
	Variants    []Variant `json:"variants"`
}

// Variant вариант исполнения товара поставщика
type Variant struct {
	ID      string `json:"id"`
	SKU     string `json:"sku"`
	Barcode string `json:"barcode"`
}

// VariantWarehouse остаток варианта на одном складе поставщика.
// Quantity это количество, готовое к отгрузке со склада поставщика;
// FactoryQuantity находится в производстве и к отгрузке не готово
type VariantWarehouse struct {
	WarehouseID     string `json:"warehouse_id"`
	WarehouseName   string `json:"warehouse_name"`
	CountryCode     string `json:"country_code"`
	Quantity        int    `json:"quantity"`
	FactoryQuantity int    `json:"factory_quantity"`
}

// ProductPrice текущая закупочная цена товара у поставщика
type ProductPrice struct {
	ProductID string  `json:"product_id"`
	CostPrice float64 `json:"cost_price"`
	Currency  string  `json:"currency"`
}

// SearchItem элемент результата поиска по каталогу поставщика
type SearchItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SearchResult результат поиска по каталогу поставщика
type SearchResult struct {
	Items []SearchItem `json:"items"`
	Total int          `json:"total"`
}
