package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overlays BURROW_* environment variables onto cfg. Values that do
// not parse are ignored.
func FromEnv(cfg *Config) {
	if v := os.Getenv("BURROW_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("BURROW_GRPC_ADDR"); v != "" {
		cfg.GRPCAddr = v
	}
	if v := os.Getenv("BURROW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("BURROW_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Log.JSON = b
		}
	}
	if v := os.Getenv("BURROW_CHANNEL_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Channel.QueueSize = n
		}
	}
	if v := os.Getenv("BURROW_CHANNEL_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Channel.BufferSize = n
		}
	}
	if v := os.Getenv("BURROW_CHANNEL_LAG_POLICY"); v != "" {
		cfg.Channel.LagPolicy = v
	}
	if v := os.Getenv("BURROW_SINK_MAILBOX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sink.MailboxSize = n
		}
	}
	if v := os.Getenv("BURROW_SINK_STOP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sink.StopTimeout = d
		}
	}
	if v := os.Getenv("BURROW_API_PUBLISH_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.API.PublishRate = f
		}
	}
	if v := os.Getenv("BURROW_API_PUBLISH_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.PublishBurst = n
		}
	}
	if v := os.Getenv("BURROW_API_DELETE_USER_ON_DISCONNECT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.API.DeleteUserOnDisconnect = b
		}
	}
	if v := os.Getenv("BURROW_API_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.API.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("BURROW_API_CORS_ORIGINS"); v != "" {
		cfg.API.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("BURROW_METRICS_COLLECT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Metrics.CollectInterval = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
