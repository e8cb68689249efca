package core

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"

	"github.com/lisuiheng/pcmlink-go/audio"
	"github.com/lisuiheng/pcmlink-go/certs"
	"github.com/lisuiheng/pcmlink-go/events"
	"github.com/lisuiheng/pcmlink-go/logger"
	"github.com/lisuiheng/pcmlink-go/pkg/interfaces"
)

// Config 是客户端和服务端共用的配置结构（与 YAML 文件结构一致）
type Config struct {
	Network NetworkConfig `mapstructure:"network"`
	Audio   AudioConfig   `mapstructure:"audio"`
	TLS     TLSConfig     `mapstructure:"tls"`
	Logging logger.Config `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Events  events.Config `mapstructure:"events"`
}

type NetworkConfig struct {
	Transport string `mapstructure:"transport"` // tcp / websocket
	// Address 客户端为服务端地址，服务端为监听地址
	Address string `mapstructure:"address"`
	// URL 仅 websocket 客户端使用，为空时由 Address 和 Path 拼出
	URL          string        `mapstructure:"url"`
	Path         string        `mapstructure:"path"`
	Framing      string        `mapstructure:"framing"` // line / raw
	MaxLineBytes int           `mapstructure:"max_line_bytes"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	Reconnect    struct {
		MaxAttempts  int           `mapstructure:"max_attempts"`
		InitialDelay time.Duration `mapstructure:"initial_delay"`
		MaxDelay     time.Duration `mapstructure:"max_delay"`
	} `mapstructure:"reconnect"`
}

type AudioConfig struct {
	SampleRate       int                `mapstructure:"sample_rate"`
	Channels         int                `mapstructure:"channels"`
	CaptureChunkSize int                `mapstructure:"capture_chunk_size"`
	OutputBlockSize  int                `mapstructure:"output_block_size"`
	ReadCeiling      int                `mapstructure:"read_ceiling"`
	QueueCapacity    int                `mapstructure:"queue_capacity"`
	Filter           audio.FilterConfig `mapstructure:"filter"`
}

type TLSConfig struct {
	Enabled bool               `mapstructure:"enabled"`
	Server  certs.Config       `mapstructure:"server"`
	Client  certs.ClientConfig `mapstructure:"client"`
}

type MetricsConfig struct {
	// Address 为空时不暴露 /metrics
	Address string `mapstructure:"address"`
}

// SetDefaults 注册所有默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("network.transport", "tcp")
	v.SetDefault("network.address", "127.0.0.1:5000")
	v.SetDefault("network.path", "/stream")
	v.SetDefault("network.framing", string(interfaces.FramingLine))
	v.SetDefault("network.max_line_bytes", 64*1024)
	v.SetDefault("network.dial_timeout", "10s")
	v.SetDefault("network.reconnect.max_attempts", 1)
	v.SetDefault("network.reconnect.initial_delay", "1s")
	v.SetDefault("network.reconnect.max_delay", "30s")

	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.capture_chunk_size", 256)
	v.SetDefault("audio.output_block_size", 128)
	v.SetDefault("audio.read_ceiling", DefaultReadCeiling)
	v.SetDefault("audio.queue_capacity", 0)
	v.SetDefault("audio.filter.window_size", 10)
	v.SetDefault("audio.filter.noise_threshold_rms", 100)

	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.server.dir", "tls")
	v.SetDefault("tls.server.key_path", "tls/private.key")
	v.SetDefault("tls.server.cert_path", "tls/certificate.crt")
	v.SetDefault("tls.server.subject", "localhost")
	v.SetDefault("tls.server.valid_days", 365)
	v.SetDefault("tls.client.ca_file", "")
	v.SetDefault("tls.client.server_name", "")
	v.SetDefault("tls.client.insecure_skip_verify", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputs", []string{"stdout"})

	v.SetDefault("metrics.address", "")

	// 注册空值以便 PCMLINK_ 环境变量能覆盖
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "pcmlink.sessions")
}

// Validate 检查配置并返回所有问题
func (c *Config) Validate(role string) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch c.Network.Transport {
	case "tcp":
		if _, err := interfaces.ParseFramingMode(c.Network.Framing); err != nil {
			add("network.framing: %v", err)
		}
		if c.Network.Address == "" {
			add("network.address is required")
		}
	case "websocket":
		if role == RoleClient && c.Network.URL != "" {
			if u, err := url.Parse(c.Network.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
				add("network.url must be a ws:// or wss:// URL, got %q", c.Network.URL)
			}
		} else if c.Network.Address == "" {
			add("network.address is required")
		}
	default:
		add("network.transport: %v %q", interfaces.ErrUnsupportedProtocol, c.Network.Transport)
	}

	if c.Audio.SampleRate <= 0 {
		add("audio.sample_rate must be > 0")
	}
	if c.Audio.Channels != 1 {
		add("audio.channels must be 1, got %d", c.Audio.Channels)
	}
	switch role {
	case RoleClient:
		if c.Audio.CaptureChunkSize <= 0 {
			add("audio.capture_chunk_size must be > 0")
		}
		if c.Audio.QueueCapacity < 0 {
			add("audio.queue_capacity must be >= 0")
		}
		if _, err := audio.NewFilter(c.Audio.Filter); err != nil {
			add("audio.filter: %v", err)
		}
	case RoleServer:
		if c.Audio.OutputBlockSize <= 0 {
			add("audio.output_block_size must be > 0")
		}
		if c.Audio.ReadCeiling < audio.BytesPerSample {
			add("audio.read_ceiling must be >= %d bytes", audio.BytesPerSample)
		}
		if c.TLS.Enabled {
			if c.TLS.Server.KeyPath == "" || c.TLS.Server.CertPath == "" {
				add("tls.server.key_path and tls.server.cert_path are required")
			}
			if c.TLS.Server.ValidDays <= 0 {
				add("tls.server.valid_days must be > 0")
			}
		}
	default:
		add("unknown role %q", role)
	}

	return errors.Join(errs...)
}
