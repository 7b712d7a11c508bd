package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	CodeRequiredField   Code = "REQUIRED_FIELD"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"

	// Configuration
	CodeConfigurationError Code = "CONFIGURATION_ERROR"

	// External service errors
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceTimeout       Code = "SERVICE_TIMEOUT"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"

	// System errors
	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// Arbitrage-engine error codes
const (
	// Chain / RPC errors
	CodeRPCConnectionFailed Code = "RPC_CONNECTION_FAILED"
	CodeRPCError            Code = "RPC_ERROR"
	CodeContractCallFailed  Code = "CONTRACT_CALL_FAILED"
	CodeGasEstimationFailed Code = "GAS_ESTIMATION_FAILED"
	CodeGasOracleDegraded   Code = "GAS_ORACLE_DEGRADED"

	// Venue errors (transient, recovered by batch exclusion)
	CodeVenueQuoteFailed  Code = "VENUE_QUOTE_FAILED"
	CodeVenueTimeout      Code = "VENUE_TIMEOUT"
	CodeVenuePoolNotFound Code = "VENUE_POOL_NOT_FOUND"
	CodeInvalidQuote      Code = "INVALID_QUOTE"
	CodeNoLiquidity       Code = "NO_LIQUIDITY"

	// Price feed errors
	CodePriceFeedDegraded Code = "PRICE_FEED_DEGRADED"
	CodePriceFeedTimeout  Code = "PRICE_FEED_TIMEOUT"

	// WebSocket errors
	CodeWebSocketConnectionError Code = "WEBSOCKET_CONNECTION_ERROR"
	CodeWebSocketClosed          Code = "WEBSOCKET_CLOSED"
	CodeWebSocketSendError       Code = "WEBSOCKET_SEND_ERROR"

	// Evaluation errors
	CodeSpreadCalculationError Code = "SPREAD_CALCULATION_ERROR"
	CodeInsufficientVenues     Code = "INSUFFICIENT_VENUES"
	CodeInvalidTradeSize       Code = "INVALID_TRADE_SIZE"

	// Risk errors
	CodeRiskDenied         Code = "RISK_DENIED"
	CodeRiskBreakerTripped Code = "RISK_BREAKER_TRIPPED"
	CodeRiskLimitsInvalid  Code = "RISK_LIMITS_INVALID"

	// Execution errors
	CodeNonceAssignmentFailed Code = "NONCE_ASSIGNMENT_FAILED"
	CodeSubmissionFailed      Code = "SUBMISSION_FAILED"
	CodeMempoolUnsupported    Code = "MEMPOOL_UNSUPPORTED"
	CodeRelayUnavailable      Code = "RELAY_UNAVAILABLE"

	// Scheduler errors
	CodeScanInProgress Code = "SCAN_IN_PROGRESS"
	CodeScanTimeout    Code = "SCAN_TIMEOUT"

	// Circuit breaker (dependency breaker, not the risk breaker)
	CodeCircuitOpen Code = "CIRCUIT_OPEN"
)
