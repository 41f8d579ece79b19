package logging

import "strings"

const redactedPlaceholder = "[REDACTED]"

// Redact masks a secret for display, keeping the last four characters of
// long values so operators can tell keys apart.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return redactedPlaceholder
	}
	return redactedPlaceholder + secret[len(secret)-4:]
}

func redact(message string, secrets []string) string {
	for _, s := range secrets {
		if strings.Contains(message, s) {
			message = strings.ReplaceAll(message, s, Redact(s))
		}
	}
	return message
}
