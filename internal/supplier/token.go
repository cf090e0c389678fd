package supplier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/supplier-service/pkg/interfaces"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// TokenState состояние учётных данных поставщика.
// Живёт только в памяти процесса и никогда не сохраняется
type TokenState struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// TokenManager управляет жизненным циклом токена поставщика.
// Все запросы выдачи токена проходят через общий лимитер вызовов,
// так как квота поставщика учитывает и аутентификацию
type TokenManager struct {
	tokenURL     string
	username     string
	password     string
	expiryBuffer time.Duration
	defaultTTL   time.Duration

	limiter *rate.Limiter
	client  *http.Client
	log     interfaces.LoggerPort

	mu    sync.Mutex
	state TokenState
}

// NewTokenManager создает новый экземпляр TokenManager
func NewTokenManager(tokenURL, username, password string, expiryBuffer, defaultTTL time.Duration, limiter *rate.Limiter, client *http.Client, log interfaces.LoggerPort) *TokenManager {
	return &TokenManager{
		tokenURL:     tokenURL,
		username:     username,
		password:     password,
		expiryBuffer: expiryBuffer,
		defaultTTL:   defaultTTL,
		limiter:      limiter,
		client:       client,
		log:          log,
	}
}

// Seed заполняет состояние заранее выданными учётными данными
func (m *TokenManager) Seed(state TokenState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// GetAccessToken возвращает действующий токен доступа.
// Кэшированный токен переиспользуется, пока до его истечения остаётся
// больше буфера. Иначе выполняется обновление по refresh-токену, при
// неудаче полная аутентификация. Если полная аутентификация отклонена
// из-за квоты и в кэше есть старый токен, возвращается он: устаревший
// токен с большей вероятностью сработает, чем его отсутствие.
// force пропускает проверку кэша и сразу запрашивает новый токен
func (m *TokenManager) GetAccessToken(ctx context.Context, force bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if !force && m.state.AccessToken != "" && now.Add(m.expiryBuffer).Before(m.state.AccessExpiresAt) {
		return m.state.AccessToken, nil
	}

	// Пробуем обновление, пока refresh-токен сам не истёк
	if m.state.RefreshToken != "" && now.Add(m.expiryBuffer).Before(m.state.RefreshExpiresAt) {
		err := m.requestToken(ctx, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {m.state.RefreshToken},
		})
		if err == nil {
			return m.state.AccessToken, nil
		}
		m.log.WarnWithContext(ctx, "Обновление токена не удалось, выполняется полная аутентификация",
			interfaces.LogField{Key: "error", Value: err.Error()},
		)
	}

	// Полная аутентификация по логину и паролю
	err := m.requestToken(ctx, url.Values{
		"grant_type": {"password"},
		"username":   {m.username},
		"password":   {m.password},
	})
	if err == nil {
		return m.state.AccessToken, nil
	}

	if IsRateLimited(err) && m.state.AccessToken != "" {
		m.log.WarnWithContext(ctx, "Квота поставщика исчерпана, используется устаревший токен",
			interfaces.LogField{Key: "expires_at", Value: m.state.AccessExpiresAt.Format(time.RFC3339)},
		)
		return m.state.AccessToken, nil
	}

	return "", fmt.Errorf("failed to obtain access token: %w", err)
}

// requestToken выполняет запрос выдачи токена и обновляет состояние
func (m *TokenManager) requestToken(ctx context.Context, form url.Values) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return newAPIError(resp.StatusCode, "token", body)
	}

	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return fmt.Errorf("failed to unmarshal token response: %w", err)
	}
	if auth.AccessToken == "" {
		return fmt.Errorf("token response has no access token")
	}

	now := time.Now()
	m.state.AccessToken = auth.AccessToken
	m.state.AccessExpiresAt = m.resolveExpiry(auth.AccessToken, auth.ExpiresIn, now)
	if auth.RefreshToken != "" {
		m.state.RefreshToken = auth.RefreshToken
		if auth.RefreshExpiresIn > 0 {
			m.state.RefreshExpiresAt = now.Add(time.Duration(auth.RefreshExpiresIn) * time.Second)
		} else {
			m.state.RefreshExpiresAt = m.state.AccessExpiresAt
		}
	}

	return nil
}

// resolveExpiry определяет срок жизни токена: из expires_in ответа,
// иначе из exp внутри самого JWT, иначе срок по умолчанию
func (m *TokenManager) resolveExpiry(token string, expiresIn int64, now time.Time) time.Time {
	if expiresIn > 0 {
		return now.Add(time.Duration(expiresIn) * time.Second)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}

	return now.Add(m.defaultTTL)
}
