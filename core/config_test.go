package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisuiheng/pcmlink-go/logger"
	"github.com/lisuiheng/pcmlink-go/pkg/interfaces"
	"github.com/lisuiheng/pcmlink-go/protocols/tcp"
	"github.com/lisuiheng/pcmlink-go/protocols/websocket"
)

func defaultConfig(t *testing.T) Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return cfg
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, 44100, cfg.Audio.SampleRate)
	assert.Equal(t, 1, cfg.Audio.Channels)
	assert.Equal(t, 256, cfg.Audio.CaptureChunkSize)
	assert.Equal(t, 128, cfg.Audio.OutputBlockSize)
	assert.Equal(t, 60, cfg.Audio.ReadCeiling)
	assert.Equal(t, 10, cfg.Audio.Filter.WindowSize)
	assert.Equal(t, 10*time.Second, cfg.Network.DialTimeout)
	assert.Equal(t, "localhost", cfg.TLS.Server.Subject)
	assert.Equal(t, 365, cfg.TLS.Server.ValidDays)
	assert.Equal(t, []string{"stdout"}, cfg.Logging.Outputs)

	assert.NoError(t, cfg.Validate(RoleClient))
	assert.NoError(t, cfg.Validate(RoleServer))
}

func TestConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
network:
  transport: websocket
  url: wss://audio.example.com/stream
audio:
  queue_capacity: 32
  filter:
    window_size: 5
    noise_threshold_rms: 250.5
tls:
  enabled: true
  client:
    insecure_skip_verify: true
events:
  nats_url: nats://127.0.0.1:4222
`), 0o644))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "websocket", cfg.Network.Transport)
	assert.Equal(t, 32, cfg.Audio.QueueCapacity)
	assert.Equal(t, 5, cfg.Audio.Filter.WindowSize)
	assert.InDelta(t, 250.5, cfg.Audio.Filter.NoiseThresholdRMS, 1e-9)
	assert.True(t, cfg.TLS.Client.InsecureSkipVerify)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Events.NATSURL)
	assert.Equal(t, "pcmlink.sessions", cfg.Events.SubjectPrefix)
	assert.NoError(t, cfg.Validate(RoleClient))
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Network.Framing = "length-prefixed"
	cfg.Audio.Channels = 2
	cfg.Audio.Filter.WindowSize = 0
	cfg.Audio.CaptureChunkSize = 0

	err := cfg.Validate(RoleClient)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	for _, want := range []string{"network.framing", "audio.channels", "audio.filter", "audio.capture_chunk_size"} {
		assert.Contains(t, err.Error(), want)
	}

	cfg = defaultConfig(t)
	cfg.Network.Transport = "udp"
	cfg.Audio.ReadCeiling = 1
	err = cfg.Validate(RoleServer)
	assert.Contains(t, err.Error(), "unsupported protocol")
	assert.Contains(t, err.Error(), "audio.read_ceiling")
}

func TestNewProtocolSelectsTransport(t *testing.T) {
	cfg := defaultConfig(t)
	log := logger.Discard()

	tr, err := NewProtocol(cfg, nil, log)
	require.NoError(t, err)
	assert.IsType(t, &tcp.Dialer{}, tr)
	assert.Equal(t, "tcp", tr.ProtocolType())

	cfg.Network.Transport = "websocket"
	tr, err = NewProtocol(cfg, nil, log)
	require.NoError(t, err)
	assert.IsType(t, &websocket.Dialer{}, tr)

	ln, err := NewListener(cfg, nil, log)
	require.NoError(t, err)
	assert.Equal(t, "websocket", ln.ProtocolType())

	cfg.Network.Transport = "mqtt"
	_, err = NewProtocol(cfg, nil, log)
	assert.ErrorIs(t, err, interfaces.ErrUnsupportedProtocol)
	_, err = NewListener(cfg, nil, log)
	assert.ErrorIs(t, err, interfaces.ErrUnsupportedProtocol)
}

func TestWebsocketURL(t *testing.T) {
	n := NetworkConfig{Address: "10.0.0.1:9000"}
	assert.Equal(t, "ws://10.0.0.1:9000/stream", websocketURL(n, false))
	n.Path = "/audio"
	assert.Equal(t, "wss://10.0.0.1:9000/audio", websocketURL(n, true))
	n.URL = "ws://override/x"
	assert.Equal(t, "ws://override/x", websocketURL(n, true))
}
