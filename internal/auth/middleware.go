package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const operatorKey = "operator"

// Middleware аутентификация операторов для gin
type Middleware struct {
	validator *Validator
	logger    *logrus.Entry
}

// NewMiddleware создает middleware; выключенный валидатор пропускает все запросы
func NewMiddleware(validator *Validator, logger *logrus.Entry) *Middleware {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Middleware{
		validator: validator,
		logger:    logger.WithField("component", "auth"),
	}
}

// Enabled требует ли сервер токен для управления
func (m *Middleware) Enabled() bool {
	return m != nil && m.validator.Enabled()
}

// RequireOperator пропускает только операторов с правом управления
func (m *Middleware) RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			m.logger.WithField("ip", c.ClientIP()).Warn("Missing authentication token")
			abort(c, http.StatusUnauthorized, "missing_token", "Missing authentication token")
			return
		}

		op, err := m.validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			m.logger.WithFields(logrus.Fields{
				"ip":    c.ClientIP(),
				"error": err.Error(),
			}).Warn("Token validation failed")
			abort(c, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
			return
		}

		if !op.CanControl() {
			abort(c, http.StatusForbidden, "insufficient_permissions", "Operator role required")
			return
		}

		c.Set(operatorKey, op)
		m.logger.WithFields(logrus.Fields{
			"operator": op.ID,
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
		}).Debug("Authenticated request")

		c.Next()
	}
}

// OptionalOperator определяет оператора, если передан токен, но не требует его
func (m *Middleware) OptionalOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			c.Next()
			return
		}

		op, err := m.validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			m.logger.WithError(err).Debug("Optional token validation failed")
			c.Next()
			return
		}

		c.Set(operatorKey, op)
		c.Next()
	}
}

// Logout удаляет токен запроса из кеша, следующий запрос с ним снова
// проверяется внешним сервисом. Статические токены не затрагиваются.
func (m *Middleware) Logout(c *gin.Context) {
	if !m.Enabled() {
		c.Status(http.StatusNoContent)
		return
	}

	token := extractToken(c)
	if token == "" {
		abort(c, http.StatusUnauthorized, "missing_token", "Missing authentication token")
		return
	}
	if err := m.validator.InvalidateToken(c.Request.Context(), token); err != nil {
		m.logger.WithError(err).Error("Failed to invalidate token")
		abort(c, http.StatusInternalServerError, "internal_error", "Failed to invalidate token")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetOperator возвращает оператора из контекста gin
func GetOperator(c *gin.Context) (*Operator, bool) {
	if v, exists := c.Get(operatorKey); exists {
		if op, ok := v.(*Operator); ok {
			return op, true
		}
	}
	return nil, false
}

// extractToken ищет токен в заголовке Authorization или параметре token
func extractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// Браузерный WebSocket не умеет ставить заголовки
	return c.Query("token")
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":    code,
		"message": message,
	})
}
