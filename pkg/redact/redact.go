// Package redact masks secret-shaped substrings before they can reach
// logs or error messages. Every outward-facing failure message in the
// SDK passes through Redact; this includes response bodies forwarded
// inside wrapped errors.
package redact

import "regexp"

// Mask is the replacement marker. Callers and tests key off this value.
const Mask = "[REDACTED]"

var patterns = []*regexp.Regexp{
	// Authorization header / prose bearer tokens.
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`),
	// client_secret=... in query strings, form bodies and prose.
	regexp.MustCompile(`(?i)(client_secret=)[^&\s"']+`),
	// Signed-URL query parameters (SAS-style signatures).
	regexp.MustCompile(`(?i)([?&](?:sig|sasig|signature)=)[^&\s"']+`),
	// Token fields inside JSON payloads.
	regexp.MustCompile(`(?i)("(?:access_token|refresh_token|id_token|apiKey|api_key)"\s*:\s*")[^"]*`),
	// Loose access_token":"..." fragments that survive truncation.
	regexp.MustCompile(`(?i)((?:access_token|refresh_token)"?\s*[:=]\s*"?)[A-Za-z0-9._~+/=-]+`),
}

// Redact returns text with every secret-shaped substring replaced by
// the Mask marker. Safe on arbitrary input; never fails.
func Redact(text string) string {
	out := text
	for _, re := range patterns {
		out = re.ReplaceAllString(out, "${1}"+Mask)
	}
	return out
}

// Error redacts an error's message, tolerating nil.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return Redact(err.Error())
}
