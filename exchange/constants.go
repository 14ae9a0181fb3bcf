package exchange

// Exchange 属性名.
const (
	PropertyCorrelationID         = "CorrelationID"
	PropertyMulticastIndex        = "MulticastIndex"
	PropertyMulticastComplete     = "MulticastComplete"
	PropertySplitIndex            = "SplitIndex"
	PropertySplitSize             = "SplitSize"
	PropertySplitComplete         = "SplitComplete"
	PropertyAggregatedSize        = "AggregatedSize"
	PropertyAggregatedCompletedBy = "AggregatedCompletedBy"
	PropertyAggregatedCorrelation = "AggregatedCorrelationKey"
	PropertyDuplicateMessage      = "DuplicateMessage"
	PropertyExceptionCaught       = "ExceptionCaught"
	PropertyFailureEndpoint       = "FailureEndpoint"
	PropertyFailureRouteID        = "FailureRouteID"
	PropertyFilterMatched         = "FilterMatched"
	PropertyLoadBalancerStickyKey = "LoadBalancerStickyKey"
	PropertyLoadBalancerTarget    = "LoadBalancerTarget"
	PropertyRecipientEndpoint     = "RecipientListEndpoint"
	PropertyToEndpoint            = "ToEndpoint"
	PropertyTimerName             = "TimerName"
	PropertyTimerFiredTime        = "TimerFiredTime"
	PropertyTimerCounter          = "TimerCounter"
	PropertyCircuitBreakerState   = "CircuitBreakerState"
	PropertyIdempotentKeys        = "IdempotentKeys"
	PropertyOriginalMessage       = "OriginalMessage"
	PropertyRedeliveryExhausted   = "RedeliveryExhausted"
)

// 消息头名.
const (
	HeaderRedelivered          = "Redelivered"
	HeaderRedeliveryCounter    = "RedeliveryCounter"
	HeaderRedeliveryMaxCounter = "RedeliveryMaxCounter"
	HeaderRedeliveryDelay      = "RedeliveryDelay"
	HeaderContentType          = "Content-Type"
)
