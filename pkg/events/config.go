package events

// Config describes [events] section: relay schedule and sinks.
type Config struct {
	// Schedule is a cron expression for outbox delivery
	Schedule string `toml:"schedule"`
	// BatchSize limits the number of events delivered per run
	BatchSize int `toml:"batch_size"`
	// Log writes every event to the application log
	Log   bool         `toml:"log"`
	Hooks []*ExecHook  `toml:"hooks"`
	Redis *RedisConfig `toml:"redis"`
}

type RedisConfig struct {
	URL     string `toml:"url"`
	Channel string `toml:"channel"`
}
