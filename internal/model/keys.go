package model

import (
	"regexp"
	"strings"
)

// Fixed key namespace for persisted local state. Stable across versions;
// no migration is in scope.
const (
	KeyWings       = "entities/wings"
	KeyUnits       = "entities/units"
	KeyLandlords   = "entities/landlords"
	KeyTenants     = "entities/tenants"
	KeyTenancies   = "entities/tenancies"
	KeyFamily      = "entities/family"
	KeyWingConfigs = "entities/wingConfigs"
	KeyReadings    = "entities/readings"
	KeyBillLines   = "entities/billLines"
	KeyPayments    = "entities/payments"
	KeyAttachments = "entities/attachments"
	KeyClauses     = "entities/clauses"

	// Rent revisions are stored per tenancy under this prefix.
	KeyRevisionsPrefix = "revisions/"

	// Cache envelopes live under their own prefix so a full-sync wipe
	// never touches the normalized entities.
	KeyCachePrefix = "cache/"
)

// RevisionsKey returns the storage key for a tenancy's rent revisions.
func RevisionsKey(tenancyID string) string {
	return KeyRevisionsPrefix + tenancyID
}

var monthKeyRe = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ValidMonthKey reports whether s is a YYYY-MM month key.
func ValidMonthKey(s string) bool {
	return monthKeyRe.MatchString(s)
}

// NormalizeWing returns the comparison form of a wing name: trimmed,
// inner whitespace collapsed, upper-cased.
func NormalizeWing(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// SameWing compares two wing names under normalization.
func SameWing(a, b string) bool {
	return NormalizeWing(a) == NormalizeWing(b)
}
