package infra

// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
const RedisNamespace = "aag"

// Каналы Pub/Sub (события)
const (
	// RedisChanApprovalDecisions — канал для трансляции решений оператора (HITL).
	// Формат сообщения: "<session_id>|<command_id>|<reviewer>|<approve|reject>".
	// Разделитель "|", потому что command_id макро-шагов содержит ":".
	RedisChanApprovalDecisions = RedisNamespace + ":approvals"

	// RedisChanPolicyUpdate — сигнал инвалидации кэша политик на шлюзах.
	RedisChanPolicyUpdate = RedisNamespace + ":policies:update"

	// RedisChanAgentKillSwitch — мгновенная остановка агента рантайма.
	// Payload — имя агента.
	RedisChanAgentKillSwitch = RedisNamespace + ":agents:kill-switch"
)
