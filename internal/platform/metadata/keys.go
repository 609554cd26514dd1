package metadata

// 元数据表中使用的键
const (
	// RoundNonceKey 存储最近创建的回合的nonce。
	// 下一回合使用其值+1，因此重启后nonce也不会重复。
	RoundNonceKey = "round_nonce"

	// LastRecoveryKey 存储最近一次未完成回合恢复的时间（RFC3339）。
	LastRecoveryKey = "last_round_recovery"
)
