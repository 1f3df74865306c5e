package rules

// Settings are per rule tuning values, keyed by dotted names such as
// "session.retries".
type Settings map[string]interface{}

func (s Settings) String(k string) (string, bool) {
	val, found := s[k]

	if found {
		s, ok := val.(string)
		return s, ok
	} else {
		return "", false
	}
}

func (s Settings) Boolean(k string) (bool, bool) {
	val, found := s[k]

	if found {
		b, ok := val.(bool)
		return b, ok
	} else {
		return false, false
	}
}

func (s Settings) Int(k string) (int, bool) {
	val, found := s[k]

	if !found {
		return 0, false
	}

	switch v := val.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

// Float also accepts integer values, YAML gives "30" and "30.0" different types.
func (s Settings) Float(k string) (float64, bool) {
	val, found := s[k]

	if !found {
		return 0.0, false
	}

	switch v := val.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0.0, false
	}
}

func (s Settings) StringOr(k string, def string) string {
	if v, ok := s.String(k); ok {
		return v
	}

	return def
}

func (s Settings) IntOr(k string, def int) int {
	if v, ok := s.Int(k); ok {
		return v
	}

	return def
}

func (s Settings) FloatOr(k string, def float64) float64 {
	if v, ok := s.Float(k); ok {
		return v
	}

	return def
}

func (s Settings) BooleanOr(k string, def bool) bool {
	if v, ok := s.Boolean(k); ok {
		return v
	}

	return def
}
