package config

type WorkerKeyStruct struct {
	RecordGameResultQueue string
	// UserStatsAMQPQueue is the RabbitMQ queue consumed by the user service.
	UserStatsAMQPQueue string
}

var WorkerKey = &WorkerKeyStruct{
	RecordGameResultQueue: "record_game_result_queue",
	UserStatsAMQPQueue:    "user_stats.record_game_result",
}
