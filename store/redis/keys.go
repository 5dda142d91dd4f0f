package redis

// Entity keys wrap the ID in a hash tag so an entity and its counters land
// in the same cluster slot, which the Lua scripts require.

// Key prefixes for primary entity storage.
const (
	prefixCredential   = "relay:cred:"
	prefixSubscription = "relay:sub:"
	prefixRecord       = "relay:rec:"
	prefixAudit        = "relay:audit:"
)

// Key prefixes for counter hashes kept beside the JSON entity.
const (
	prefixCredentialUsage    = "relay:h:cred:"
	prefixSubscriptionHealth = "relay:h:sub:"
)

// Key prefixes for unique indexes.
const (
	uniqueCredentialHash = "relay:u:cred:hash:"
)

// Key prefixes for sorted set indexes.
const (
	zCredentialTenant   = "relay:z:cred:tenant:"  // + tenant ID
	zSubscriptionTenant = "relay:z:sub:tenant:"   // + tenant ID
	zRecordSubscription = "relay:z:rec:sub:"      // + subscription ID
	zAuditTenant        = "relay:z:audit:tenant:" // + tenant ID
	zRateWindow         = "relay:rl:"             // + limiter key
)

// Key prefixes for set indexes.
const (
	sSubscriptionEvent = "relay:s:sub:" // + tenantID + ":" + event
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + "{" + id + "}"
}

// eventSetKey returns the set of subscriptions in tenantID listing event.
func eventSetKey(tenantID, event string) string {
	return sSubscriptionEvent + tenantID + ":" + event
}
