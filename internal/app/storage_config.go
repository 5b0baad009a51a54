package app

import (
	"strings"

	"github.com/charlesng35/inviteqr/internal/services"
	"github.com/charlesng35/inviteqr/internal/telemetry"
)

// Archive drivers accepted by storage.archive.driver.
const (
	ArchiveDriverNone       = "none"
	ArchiveDriverFilesystem = "filesystem"
	ArchiveDriverS3         = "s3"
)

// NormalizedDriver returns the lower-cased archive driver, treating empty as none.
func (c ArchiveConfig) NormalizedDriver() string {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" {
		return ArchiveDriverNone
	}
	return driver
}

// S3Config converts the s3 section into the services representation.
func (c ArchiveConfig) S3Config() services.S3ArchiveConfig {
	return services.S3ArchiveConfig{
		Bucket:   strings.TrimSpace(c.S3.Bucket),
		Region:   strings.TrimSpace(c.S3.Region),
		Prefix:   strings.Trim(strings.TrimSpace(c.S3.Prefix), "/"),
		Endpoint: strings.TrimSpace(c.S3.Endpoint),
	}
}

// TelemetryConfig converts the tracing section into the telemetry representation.
func (c MonitoringConfig) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:     c.Tracing.Enabled,
		Endpoint:    strings.TrimSpace(c.Tracing.Endpoint),
		ServiceName: strings.TrimSpace(c.Tracing.ServiceName),
	}
}
