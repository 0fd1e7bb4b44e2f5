package opensearch

import (
	"context"
	"fmt"
	"regexp"
)

// Logger ships system log entries to OpenSearch
type Logger struct {
	client *Client
}

// NewLogger creates a new OpenSearch logger
func NewLogger(client *Client) *Logger {
	return &Logger{
		client: client,
	}
}

// LogSystemEvent indexes a system log entry
func (l *Logger) LogSystemEvent(ctx context.Context, entry any) error {
	if err := l.client.IndexDocument(ctx, SystemLogIndex, "", entry); err != nil {
		return fmt.Errorf("system log: %w", err)
	}
	return nil
}

var sensitiveFields = []string{
	"password", "username", "credentials", "encrypted_credentials",
	"apiKey", "api_key", "checksumKey", "checksum_key", "secret_key",
	"token", "authorization", "x-api-key", "signature",
}

var (
	jsonPatterns  = compileSensitive(`(?i)"%s"\s*:\s*("[^"]*"|\{[^}]*\})`)
	paramPatterns = compileSensitive(`(?i)\b%s=[^&\s]+`)
)

func compileSensitive(format string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(sensitiveFields))
	for _, field := range sensitiveFields {
		patterns = append(patterns, regexp.MustCompile(fmt.Sprintf(format, regexp.QuoteMeta(field))))
	}
	return patterns
}

// SanitizeForLog redacts secrets from a payload before it is logged
func SanitizeForLog(data string) string {
	result := data
	for _, re := range jsonPatterns {
		result = re.ReplaceAllStringFunc(result, redactJSON)
	}
	for _, re := range paramPatterns {
		result = re.ReplaceAllStringFunc(result, redactParam)
	}
	return result
}

var (
	jsonKey  = regexp.MustCompile(`^"[^"]*"`)
	paramKey = regexp.MustCompile(`^[^=]+`)
)

func redactJSON(match string) string {
	return jsonKey.FindString(match) + `:"***REDACTED***"`
}

func redactParam(match string) string {
	return paramKey.FindString(match) + "=***REDACTED***"
}
