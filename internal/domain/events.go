package domain

// Event names published on the signal bus and recorded in the audit log.
const (
	EventPositionOpened     = "position_opened"
	EventLoopExecuted       = "loop_executed"
	EventPositionRebalanced = "position_rebalanced"
	EventPositionClosed     = "position_closed"
	EventPositionLiquidated = "position_liquidated"
	EventRegistryUpdated    = "registry_updated"
	EventStrategyUpdated    = "strategy_updated"
	EventEmergencyAction    = "emergency_action"
	EventLedgerDrift        = "ledger_drift"
)

// Bus channels. The WebSocket hub fans these out to connected clients.
const (
	ChannelPositions = "positions"
	ChannelLoops     = "loops"
	ChannelAdmin     = "admin"
	ChannelDrift     = "drift"
)
