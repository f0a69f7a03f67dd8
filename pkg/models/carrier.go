package models

import "strings"

// NormalizeCarrier folds a carrier name into its lookup key: lower case, without spaces or
// underscores. "Mondial Relay", "mondial_relay" and "MONDIALRELAY" share one key.
func NormalizeCarrier(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if r == ' ' || r == '_' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CarrierCode is the short upper-case carrier tag used inside claim references.
func CarrierCode(name string) string {
	key := strings.ToUpper(NormalizeCarrier(name))
	if len(key) > 3 {
		key = key[:3]
	}
	if key == "" {
		return "UNK"
	}
	return key
}
