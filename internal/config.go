// Package internal holds process-level configuration shared by the binaries.
package internal

import "time"

// Config is loaded from the environment at startup. Every field is
// required; a missing variable fails the boot.
type Config struct {
	Host string `env:"HOST,required=true"`
	Port int    `env:"PORT,required=true"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	LogLevel       string `env:"LOG_LEVEL,required=true"`

	// Fanout pipeline
	BufferSize           int           `env:"BUFFER_SIZE,required=true"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,required=true"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,required=true"`

	// Live connections
	HandshakeWindow   time.Duration `env:"HANDSHAKE_WINDOW,required=true"`
	PingInterval      time.Duration `env:"PING_INTERVAL,required=true"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT,required=true"`
	LivenessTimeout   time.Duration `env:"LIVENESS_TIMEOUT,required=true"`
	LivenessInterval  time.Duration `env:"LIVENESS_INTERVAL,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,required=true"`

	MetricInterval time.Duration `env:"METRIC_INTERVAL,required=true"`
}
