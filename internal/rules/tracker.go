package rules

import "strings"

// MissingFields returns the required fields that have no non-empty value yet,
// in schema order. Values for fields outside the schema are left alone.
func MissingFields(required []string, values map[string]string) []string {
	if len(required) == 0 {
		return nil
	}
	var missing []string
	for _, name := range required {
		if strings.TrimSpace(values[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Resolved reports whether a field has a recorded non-empty value.
func Resolved(values map[string]string, name string) bool {
	return strings.TrimSpace(values[name]) != ""
}
