// Package config holds the shared server/client configuration and its
// decoding from a generic map, as would arrive from a loaded config
// file or command-line flags.
package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/hyurl/alar/wire"
)

// Config is the shared configuration surface for both Server and
// Client.
type Config struct {
	// Host to bind (server) or dial (client) for the rpc:// scheme.
	// Defaults to "0.0.0.0" on the server and is required on the client.
	Host string `mapstructure:"host"`
	// Port to bind/dial for the rpc:// scheme. Defaults to 9000.
	Port int `mapstructure:"port"`
	// Path, if set, selects the ipc:// (Unix domain socket) scheme and
	// overrides Host/Port.
	Path string `mapstructure:"path"`
	// Secret, if non-empty, is the pre-shared handshake secret: the
	// first raw bytes on the socket, before any framed tuple.
	Secret string `mapstructure:"secret"`
	// ID is this endpoint's published id. Defaults to the endpoint DSN
	// on the server, and to a generated uuid on the client (see
	// EffectiveID).
	ID string `mapstructure:"id"`
	// Timeout bounds connection opens and per-call replies. Defaults to
	// 5s.
	Timeout time.Duration `mapstructure:"timeout"`
	// PingInterval is the client liveness probe cadence. Defaults to 5s.
	PingInterval time.Duration `mapstructure:"pingInterval"`
	// Codec selects the wire serializer. Defaults to CLONE.
	Codec wire.Codec `mapstructure:"codec"`
}

// Decode builds a Config from a generic map (e.g. parsed JSON/YAML),
// applying defaults, the way an application's config loader would feed
// this core (ambient config-decoding stack, not part of the wire
// protocol itself).
func Decode(raw map[string]interface{}) (Config, error) {
	cfg := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Config{}, fmt.Errorf("config: build decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with every field at its documented default.
func Default() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         9000,
		Timeout:      5 * time.Second,
		PingInterval: 5 * time.Second,
		Codec:        wire.CodecClone,
	}
}

// IsLocal reports whether this Config selects the ipc:// local-domain
// endpoint scheme instead of rpc://.
func (c Config) IsLocal() bool { return c.Path != "" }

// DSN is the data-source name derived from the endpoint: used as the
// default server id until a real id is set.
func (c Config) DSN() string {
	if c.IsLocal() {
		return "ipc://" + c.Path
	}
	return fmt.Sprintf("rpc://%s:%d", c.Host, c.Port)
}

// EffectiveID returns c.ID if set, otherwise a freshly generated uuid.
func (c Config) EffectiveID() string {
	if c.ID != "" {
		return c.ID
	}
	return uuid.NewString()
}
