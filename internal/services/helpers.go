package services

import (
	"context"
	"os"
	"strings"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func sanitizePathFragment(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	fragment = strings.ToLower(fragment)
	fragment = strings.ReplaceAll(fragment, "..", "")
	fragment = strings.ReplaceAll(fragment, string(os.PathSeparator), "-")
	fragment = strings.ReplaceAll(fragment, "/", "-")
	fragment = strings.ReplaceAll(fragment, "\\", "-")
	fragment = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, fragment)
	fragment = strings.Trim(fragment, "-")
	if fragment == "" {
		return "qrcode"
	}
	return fragment
}
