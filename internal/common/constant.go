// Package common contains shared constants and sentinel errors used across
// BizKeeper sync components.
package common

const (
	// AuthorizationHeader carries the bearer credential on sync requests.
	AuthorizationHeader = "Authorization"

	// BearerPrefix is the scheme prefix expected in AuthorizationHeader.
	BearerPrefix = "Bearer "
)

// Keys under which the client engine persists its state in the local
// metadata store.
const (
	// MetaDeviceID stores the stable per-install device UUID.
	MetaDeviceID = "cloudDeviceId"

	// MetaWatermarkPrefix prefixes per-table pull watermarks,
	// e.g. "lastSync_clients".
	MetaWatermarkPrefix = "lastSync_"

	// MetaLocalIDPrefix prefixes per-table local id allocation floors,
	// e.g. "nextLocalId_budgets".
	MetaLocalIDPrefix = "nextLocalId_"
)

// WatermarkKey returns the metadata key holding the pull watermark for table.
func WatermarkKey(table string) string {
	return MetaWatermarkPrefix + table
}

// LocalIDKey returns the metadata key holding the id allocation floor for table.
func LocalIDKey(table string) string {
	return MetaLocalIDPrefix + table
}
