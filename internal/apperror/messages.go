package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	// General validation
	CodeRequiredField:   "Required field is missing",
	CodeInvalidInput:    "Invalid input provided",
	CodeInvalidState:    "Invalid state for this operation",
	CodeNotFound:        "Resource not found",
	CodeValidationError: "Validation error",

	// Configuration
	CodeConfigurationError: "Configuration error",

	// External service errors
	CodeExternalServiceError: "External service error",
	CodeServiceTimeout:       "Service request timeout",
	CodeServiceUnavailable:   "Service temporarily unavailable",
	CodeRateLimitExceeded:    "Rate limit exceeded",

	// System errors
	CodeInternalError: "Internal server error",
	CodeUnknownError:  "An unknown error occurred",

	// Chain / RPC errors
	CodeRPCConnectionFailed: "Failed to connect to RPC node",
	CodeRPCError:            "RPC call failed",
	CodeContractCallFailed:  "Smart contract call failed",
	CodeGasEstimationFailed: "Gas estimation failed",
	CodeGasOracleDegraded:   "Gas oracle degraded, using fallback tiers",

	// Venue errors
	CodeVenueQuoteFailed:  "Venue quote request failed",
	CodeVenueTimeout:      "Venue quote timed out",
	CodeVenuePoolNotFound: "No pool found for token pair on venue",
	CodeInvalidQuote:      "Invalid quote data",
	CodeNoLiquidity:       "Insufficient liquidity for trade size",

	// Price feed errors
	CodePriceFeedDegraded: "Native asset price feed degraded, using last known price",
	CodePriceFeedTimeout:  "Price feed request timed out",

	// WebSocket errors
	CodeWebSocketConnectionError: "WebSocket connection error",
	CodeWebSocketClosed:          "WebSocket connection closed",
	CodeWebSocketSendError:       "Failed to send WebSocket message",

	// Evaluation errors
	CodeSpreadCalculationError: "Spread calculation error",
	CodeInsufficientVenues:     "Fewer than two venues quoted the pair",
	CodeInvalidTradeSize:       "Invalid trade size",

	// Risk errors
	CodeRiskDenied:         "Opportunity denied by risk checks",
	CodeRiskBreakerTripped: "Risk circuit breaker is tripped",
	CodeRiskLimitsInvalid:  "Risk limits configuration is invalid",

	// Execution errors
	CodeNonceAssignmentFailed: "Failed to assign transaction nonce",
	CodeSubmissionFailed:      "Transaction submission failed",
	CodeMempoolUnsupported:    "Pending pool query not supported by RPC provider",
	CodeRelayUnavailable:      "No private relay endpoint available",

	// Scheduler errors
	CodeScanInProgress: "A scan is already in progress",
	CodeScanTimeout:    "Scan exceeded its deadline",

	// Circuit breaker errors
	CodeCircuitOpen: "Circuit breaker is open",
}
