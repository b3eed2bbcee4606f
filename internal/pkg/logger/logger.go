// Package logger builds the zap logger shared by every component and carries
// the PII redaction helpers used when contact data shows up in log fields.
package logger

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ignite/contact-import/internal/config"
)

// New builds a JSON production logger, or a console development logger when
// cfg.Development is set.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Email is a zap field that logs an address in redacted form.
func Email(key, email string) zap.Field {
	return zap.String(key, RedactEmail(email))
}

// Redacted is a zap field that masks any email addresses embedded in val.
func Redacted(key, val string) zap.Field {
	return zap.String(key, RedactText(val))
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// RedactText masks every email address found in s.
func RedactText(s string) string {
	if !strings.Contains(s, "@") {
		return s
	}
	return emailRegex.ReplaceAllStringFunc(s, RedactEmail)
}

// RedactEmail masks the local part of an address, keeping its first two
// characters when it is longer than two: "john.doe@example.com" becomes
// "jo***@example.com". Anything that is not a single-@ address becomes
// "***@***".
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
