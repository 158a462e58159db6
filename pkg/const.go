package pkg

const (
	HeaderTraceId   string = "X-Trace-Id"
	HeaderRequestId string = "X-Request-Id"
	// HeaderClientId is stamped on inbound queue messages by the authenticating gateway.
	HeaderClientId string = "client-id"
)

// Log field keys
const (
	TraceId        string = "trace_id"
	RequestId      string = "request_id"
	IdempotencyKey string = "idempotency_key"
	ClientId       string = "client_id"
	CoinSymbol     string = "coin_symbol"
	DepositId      string = "deposit_id"
	TxHash         string = "tx_hash"
	Family         string = "family"
)

// Queue (topic) names shared with producers and downstream consumers.
const (
	QueueWithdrawalCreation string = "withdrawal_creation"
	QueueWithdrawalUpdate   string = "withdrawal_update"
	QueueDepositCreation    string = "deposit_creation"
	QueueDepositUpdate      string = "deposit_update"
)

// OutboundQueues are declared at startup so consumers can subscribe before the first event.
var OutboundQueues = []string{QueueDepositCreation, QueueDepositUpdate, QueueWithdrawalUpdate}

type DepositStatus string

const (
	DepositStatusUnconfirmed DepositStatus = "unconfirmed"
	DepositStatusConfirmed   DepositStatus = "confirmed"
)

// BalancePolicy decides what happens when a withdrawal exceeds the locked balance.
type BalancePolicy string

const (
	BalancePolicyReject BalancePolicy = "reject"
	BalancePolicyAllow  BalancePolicy = "allow"
)
