package auth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Роли операторов
const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Operator владелец токена управления симуляцией
type Operator struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// ToJSON сериализует оператора для кеширования
func (o *Operator) ToJSON() ([]byte, error) {
	return json.Marshal(o)
}

// OperatorFromJSON десериализует оператора из кеша
func OperatorFromJSON(data []byte) (*Operator, error) {
	var op Operator
	err := json.Unmarshal(data, &op)
	return &op, err
}

// CanControl может ли оператор менять маршрут и состояние симуляции
func (o *Operator) CanControl() bool {
	return o != nil && o.Role != RoleViewer
}

// ParseStaticTokens разбирает список вида "name:token[:role],..."
func ParseStaticTokens(raw string) (map[string]*Operator, error) {
	tokens := make(map[string]*Operator)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid token entry %q, expected name:token[:role]", entry)
		}

		role := RoleOperator
		if len(parts) == 3 {
			role = strings.ToLower(parts[2])
			if role != RoleOperator && role != RoleViewer {
				return nil, fmt.Errorf("unknown role %q for %s", parts[2], parts[0])
			}
		}
		if _, dup := tokens[parts[1]]; dup {
			return nil, fmt.Errorf("duplicate token for %s", parts[0])
		}
		tokens[parts[1]] = &Operator{ID: parts[0], Name: parts[0], Role: role}
	}
	return tokens, nil
}
