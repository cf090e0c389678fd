package supplier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/athebyme/gomarket-platform/supplier-service/internal/metrics"
	"github.com/athebyme/gomarket-platform/supplier-service/pkg/interfaces"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Gateway единая точка исходящих вызовов к API поставщика.
// Все вызовы процесса, включая выдачу токена, проходят через общий
// лимитер: квота поставщика учитывается на аккаунт, а не на задание
type Gateway struct {
	baseURL      string
	client       *http.Client
	limiter      *rate.Limiter
	tokens       *TokenManager
	maxAttempts  int
	baseInterval time.Duration

	cache      *gocache.Cache
	maxEntries int

	log interfaces.LoggerPort
}

// NewGateway создает новый экземпляр Gateway
func NewGateway(baseURL string, client *http.Client, limiter *rate.Limiter, tokens *TokenManager, maxAttempts int, baseInterval, cacheTTL time.Duration, cacheMaxEntries int, log interfaces.LoggerPort) *Gateway {
	return &Gateway{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		limiter:      limiter,
		tokens:       tokens,
		maxAttempts:  maxAttempts,
		baseInterval: baseInterval,
		cache:        gocache.New(cacheTTL, 2*cacheTTL),
		maxEntries:   cacheMaxEntries,
		log:          log,
	}
}

// Call выполняет вызов API поставщика и декодирует ответ в out.
// out может быть nil, если тело ответа не нужно.
// При ответе о превышении квоты вызов повторяется до maxAttempts раз
// с экспоненциальной задержкой от 2x базового интервала. Прочие ошибки
// API возвращаются вызывающему как *Error без повторов
func (g *Gateway) Call(ctx context.Context, method, endpoint string, query url.Values, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	requestURL := g.baseURL + endpoint
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	forcedAuth := false
	attempt := 1

	for {
		data, err := g.doAttempt(ctx, method, requestURL, endpoint, payload)
		if err == nil {
			if out != nil {
				if err := json.Unmarshal(data, out); err != nil {
					return fmt.Errorf("failed to unmarshal response: %w", err)
				}
			}
			return nil
		}

		supplierErr, ok := AsError(err)
		if !ok {
			return err
		}

		// Однократное принудительное обновление токена при 401:
		// токен мог быть отозван между проверкой срока и вызовом
		if supplierErr.Status == http.StatusUnauthorized && !forcedAuth {
			forcedAuth = true
			if _, tokenErr := g.tokens.GetAccessToken(ctx, true); tokenErr != nil {
				return tokenErr
			}
			continue
		}

		if supplierErr.IsRateLimit() && attempt < g.maxAttempts {
			delay := g.backoff(attempt)
			g.log.WarnWithContext(ctx, "Квота поставщика исчерпана, повтор вызова",
				interfaces.LogField{Key: "endpoint", Value: endpoint},
				interfaces.LogField{Key: "attempt", Value: attempt},
				interfaces.LogField{Key: "delay", Value: delay.String()},
			)
			metrics.RecordSupplierRetry()
			if err := sleepContext(ctx, delay); err != nil {
				return err
			}
			attempt++
			continue
		}

		return supplierErr
	}
}

// CallCached выполняет идемпотентный GET с кэшированием ответа.
// Ключ кэша включает полный набор параметров запроса, чтобы разные
// запросы к одному endpoint не подменяли друг друга
func (g *Gateway) CallCached(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	key := endpoint
	if len(query) > 0 {
		key += "?" + query.Encode()
	}

	if cached, found := g.cache.Get(key); found {
		metrics.RecordCacheLookup(true)
		if out != nil {
			if err := json.Unmarshal(cached.([]byte), out); err != nil {
				return fmt.Errorf("failed to unmarshal cached response: %w", err)
			}
		}
		return nil
	}
	metrics.RecordCacheLookup(false)

	var raw json.RawMessage
	if err := g.Call(ctx, http.MethodGet, endpoint, query, nil, &raw); err != nil {
		return err
	}

	g.storeCached(key, raw)

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// doAttempt выполняет одну попытку вызова.
// Токен запрашивается до ожидания лимитера: его выдача сама проходит
// через лимитер и занимает отдельный слот квоты
func (g *Gateway) doAttempt(ctx context.Context, method, requestURL, endpoint string, payload []byte) ([]byte, error) {
	token, err := g.tokens.GetAccessToken(ctx, false)
	if err != nil {
		return nil, err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("request was cancelled: %w", ctx.Err())
		default:
			return nil, fmt.Errorf("failed to execute request: %w", err)
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	metrics.RecordSupplierRequest(endpoint, resp.StatusCode, time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, endpoint, data)
	}

	return data, nil
}

// backoff возвращает задержку перед повтором: 2x базового интервала
// после первой попытки, далее удваивается
func (g *Gateway) backoff(attempt int) time.Duration {
	return g.baseInterval * time.Duration(1<<attempt)
}

// storeCached кладёт ответ в кэш. При достижении предела вытесняется
// ближайшая к истечению запись, то есть самая старая из вставленных
func (g *Gateway) storeCached(key string, data []byte) {
	if g.cache.ItemCount() >= g.maxEntries {
		g.evictOldest()
	}
	g.cache.Set(key, []byte(data), gocache.DefaultExpiration)
}

func (g *Gateway) evictOldest() {
	var oldestKey string
	var oldestExpiration int64
	for key, item := range g.cache.Items() {
		if oldestKey == "" || item.Expiration < oldestExpiration {
			oldestKey = key
			oldestExpiration = item.Expiration
		}
	}
	if oldestKey != "" {
		g.cache.Delete(oldestKey)
	}
}

// sleepContext ждёт delay или отмены контекста
func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
