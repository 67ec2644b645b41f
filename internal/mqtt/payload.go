package mqtt

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"charge-controller/internal/models"
)

// valueMessage est la forme JSON acceptée en plus des valeurs brutes.
type valueMessage struct {
	Value json.RawMessage `json:"value"`
}

// unwrap extrait le champ "value" d'un objet JSON, ou renvoie le payload tel quel.
func unwrap(payload []byte) string {
	raw := strings.TrimSpace(string(payload))
	if !strings.HasPrefix(raw, "{") {
		return raw
	}

	var msg valueMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil || msg.Value == nil {
		return raw
	}

	var s string
	if err := json.Unmarshal(msg.Value, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(msg.Value))
}

// ParseNumber renvoie nil avec une erreur si la valeur est absente ou non
// numérique ; le relevé correspondant est alors effacé.
func ParseNumber(payload []byte) (*float64, error) {
	raw := unwrap(payload)
	switch strings.ToLower(raw) {
	case "", "unknown", "unavailable", "null", "none":
		return nil, fmt.Errorf("no value")
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", raw, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("invalid number %q", raw)
	}
	return &value, nil
}

func ParseBool(payload []byte) (bool, error) {
	raw := strings.ToLower(unwrap(payload))
	switch raw {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", raw)
}

func ParseStatus(payload []byte) (models.ChargerStatus, error) {
	raw := unwrap(payload)
	if raw == "" {
		return models.StatusUnknown, fmt.Errorf("empty status")
	}
	return models.ParseChargerStatus(raw), nil
}

func FormatNumber(value float64) string {
	if value == math.Trunc(value) {
		return strconv.FormatFloat(value, 'f', 0, 64)
	}
	return strconv.FormatFloat(value, 'f', 2, 64)
}

func FormatBool(value bool) string {
	if value {
		return "on"
	}
	return "off"
}
