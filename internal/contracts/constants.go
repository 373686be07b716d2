// README: Exchange, queue and routing names shared by publishers and consumers.
package contracts

// Exchanges
const (
	ExchangeMatchingTopic = "matching_topic"
	ExchangeBillingTopic  = "billing_topic"
)

// Queues
const (
	QueueMatchGeneration = "match_generation"
	QueueBillingTriggers = "billing_triggers"
)

// Routing keys
const (
	RouteGenerateMatches = "matching.generate"
	RouteMatchCommitted  = "billing.match_committed"
)

const Producer = "freightmatch"
