package supplier

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// rateLimitCode код ошибки, которым поставщик сопровождает исчерпание квоты
const rateLimitCode = "TOO_MANY_REQUESTS"

// Error описывает ошибочный ответ API поставщика
type Error struct {
	Status   int
	Code     string
	Message  string
	Body     string
	Endpoint string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supplier api %s: status %d (%s): %s", e.Endpoint, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supplier api %s: status %d: %s", e.Endpoint, e.Status, e.Message)
}

// IsRateLimit сообщает, что поставщик отклонил вызов из-за исчерпания квоты.
// Квота учитывается по статусу 429 либо по коду ошибки в теле ответа
func (e *Error) IsRateLimit() bool {
	return e.Status == http.StatusTooManyRequests || e.Code == rateLimitCode
}

// AsError извлекает *Error из цепочки ошибок
func AsError(err error) (*Error, bool) {
	var supplierErr *Error
	if errors.As(err, &supplierErr) {
		return supplierErr, true
	}
	return nil, false
}

// IsRateLimited сообщает, вызвана ли ошибка исчерпанием квоты поставщика
func IsRateLimited(err error) bool {
	if supplierErr, ok := AsError(err); ok {
		return supplierErr.IsRateLimit()
	}
	return false
}

// IsNotFound сообщает, что поставщик не знает запрошенный ресурс
func IsNotFound(err error) bool {
	if supplierErr, ok := AsError(err); ok {
		return supplierErr.Status == http.StatusNotFound
	}
	return false
}

// newAPIError собирает *Error из статуса и тела ответа поставщика.
// Тело сохраняется как есть, код и сообщение берутся из JSON, если он там
func newAPIError(status int, endpoint string, body []byte) *Error {
	apiErr := &Error{
		Status:   status,
		Endpoint: endpoint,
		Body:     string(body),
	}

	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	return apiErr
}
