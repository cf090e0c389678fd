package supplier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Client типизированный доступ к операциям API поставщика.
// Чистая зависимость движков синхронизации, семантики каталога не знает
type Client struct {
	gateway *Gateway
}

// NewClient создает новый экземпляр Client
func NewClient(gateway *Gateway) *Client {
	return &Client{gateway: gateway}
}

// GetProductDetail возвращает карточку товара поставщика.
// Ответ кэшируется: карточка нужна только для разрешения варианта
// и меняется редко
func (c *Client) GetProductDetail(ctx context.Context, productID string) (*ProductDetail, error) {
	var detail ProductDetail
	endpoint := fmt.Sprintf("/api/v2/products/%s", url.PathEscape(productID))
	if err := c.gateway.CallCached(ctx, endpoint, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// GetVariantWarehouses возвращает складские остатки варианта.
// Не кэшируется: актуальность остатков и есть цель синхронизации
func (c *Client) GetVariantWarehouses(ctx context.Context, variantID string) ([]VariantWarehouse, error) {
	var warehouses []VariantWarehouse
	endpoint := fmt.Sprintf("/api/v2/variants/%s/warehouses", url.PathEscape(variantID))
	if err := c.gateway.Call(ctx, http.MethodGet, endpoint, nil, nil, &warehouses); err != nil {
		return nil, err
	}
	return warehouses, nil
}

// GetProductPrice возвращает текущую закупочную цену товара.
// Не кэшируется по той же причине, что и остатки
func (c *Client) GetProductPrice(ctx context.Context, productID string) (*ProductPrice, error) {
	var price ProductPrice
	endpoint := fmt.Sprintf("/api/v2/products/%s/price", url.PathEscape(productID))
	if err := c.gateway.Call(ctx, http.MethodGet, endpoint, nil, nil, &price); err != nil {
		return nil, err
	}
	return &price, nil
}

// SearchProducts ищет товары в каталоге поставщика.
// Ответ кэшируется, чтобы повторные запросы не тратили дневную квоту
func (c *Client) SearchProducts(ctx context.Context, queryText string, limit int) (*SearchResult, error) {
	var result SearchResult
	query := url.Values{"query": {queryText}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if err := c.gateway.CallCached(ctx, "/api/v2/products/search", query, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
