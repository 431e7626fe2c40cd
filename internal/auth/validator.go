package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidToken токен не найден или отклонен
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Validator проверяет токены операторов: сначала статический список,
// затем кеш и внешний сервис, если он настроен
type Validator struct {
	static      map[string]*Operator
	apiEndpoint string
	httpClient  *http.Client
	cache       *Cache
	logger      *logrus.Entry
}

// NewValidator создает валидатор токенов
func NewValidator(static map[string]*Operator, apiEndpoint string, cache *Cache, logger *logrus.Entry) *Validator {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Validator{
		static:      static,
		apiEndpoint: apiEndpoint,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		cache:  cache,
		logger: logger.WithField("component", "auth"),
	}
}

// Enabled включена ли проверка токенов
func (v *Validator) Enabled() bool {
	return v != nil && (len(v.static) > 0 || v.apiEndpoint != "")
}

// ValidateToken возвращает оператора по токену
func (v *Validator) ValidateToken(ctx context.Context, token string) (*Operator, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	for known, op := range v.static {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return op, nil
		}
	}

	if v.apiEndpoint == "" {
		return nil, ErrInvalidToken
	}

	if op, err := v.cache.GetOperator(ctx, token); err != nil {
		v.logger.WithError(err).Warn("Failed to get operator from cache")
	} else if op != nil {
		v.logger.WithField("operator", op.ID).Debug("Operator found in cache")
		return op, nil
	}

	op, err := v.validateWithAPI(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := v.cache.SetOperator(ctx, token, op); err != nil {
		v.logger.WithError(err).Warn("Failed to cache operator")
	}

	v.logger.WithField("operator", op.ID).Debug("Operator validated and cached")
	return op, nil
}

// validateWithAPI проверяет токен через внешний сервис учетных записей
func (v *Validator) validateWithAPI(ctx context.Context, token string) (*Operator, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.apiEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "drone-sim/1.0")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach auth endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var op Operator
		if err := json.Unmarshal(body, &op); err != nil {
			return nil, fmt.Errorf("failed to parse operator data: %w", err)
		}
		if op.ID == "" {
			return nil, fmt.Errorf("auth endpoint returned operator without id")
		}
		if op.Role == "" {
			op.Role = RoleOperator
		}
		return &op, nil

	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrInvalidToken

	default:
		v.logger.WithField("status_code", resp.StatusCode).Error("Unexpected response from auth endpoint")
		return nil, fmt.Errorf("auth endpoint returned status %d", resp.StatusCode)
	}
}

// InvalidateToken удаляет токен из кеша (при logout)
func (v *Validator) InvalidateToken(ctx context.Context, token string) error {
	return v.cache.DeleteOperator(ctx, token)
}
