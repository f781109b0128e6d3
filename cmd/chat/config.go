package main

import "time"

type Config struct {
	APIBaseURL        string        `env:"API_BASE_URL,required=true"`
	RealtimeURL       string        `env:"REALTIME_URL,required=true"`
	AuthToken         string        `env:"AUTH_TOKEN,required=true"`
	UserID            string        `env:"USER_ID"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel          string        `env:"LOG_LEVEL,required=true"`
	QueueCapacity     int           `env:"QUEUE_CAPACITY,default=200"`
	LimitMessages     *int          `env:"LIMIT_MESSAGES"`
	MaxCachedPerChat  int           `env:"MAX_CACHED_PER_CHAT,default=500"`
	HistoryLimit      int           `env:"HISTORY_LIMIT,default=50"`
	CallTimeout       time.Duration `env:"CALL_TIMEOUT,default=10s"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS,default=3"`
	SendTimeout       time.Duration `env:"SEND_TIMEOUT,default=10s"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=5s"`
	CacheRetention    time.Duration `env:"CACHE_RETENTION,default=720h"`
	PurgeInterval     time.Duration `env:"PURGE_INTERVAL,default=1h"`
	BadgerGCInterval  time.Duration `env:"BADGER_GC_INTERVAL,default=10m"`
}
