package syncer

import "context"

// invalidations maps a write action to the read actions whose cached
// responses it stales. Flush consults this after each delivered job.
var invalidations = map[string][]string{
	"addWing":           {"getWings", "getUnitConfigs"},
	"removeWing":        {"getWings", "getUnitConfigs"},
	"saveUnitConfig":    {"getUnitConfigs", "getTenantDirectory"},
	"deleteUnitConfig":  {"getUnitConfigs", "getTenantDirectory"},
	"saveLandlord":      {"getLandlords", "getUnitConfigs"},
	"deleteLandlord":    {"getLandlords", "getUnitConfigs"},
	"saveTenant":        {"getTenantDirectory", "getUnitConfigs", "getBillingRecord"},
	"endTenancy":        {"getTenantDirectory", "getUnitConfigs", "getBillingRecord"},
	"saveRentRevision":  {"getRentRevisions", "getGeneratedBills"},
	"saveBillingRecord": {"getBillingRecord", "getGeneratedBills"},
	"savePayment":       {"getGeneratedBills", "getPayments"},
	"deleteAttachment":  {"getGeneratedBills", "getPayments"},
	"saveClause":        {"getClauses"},
	"deleteClause":      {"getClauses"},
}

// invalidateFor drops every cached read affected by the given write action.
// Cache keys are prefixed by the read action name, so a prefix delete
// covers every parameter combination.
func (e *Engine) invalidateFor(ctx context.Context, action string) {
	for _, read := range invalidations[action] {
		e.cache.DeletePrefix(ctx, read)
	}
}
