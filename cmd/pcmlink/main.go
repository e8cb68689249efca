package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/lisuiheng/pcmlink-go/audio"
	"github.com/lisuiheng/pcmlink-go/core"
	"github.com/lisuiheng/pcmlink-go/events"
	"github.com/lisuiheng/pcmlink-go/logger"
	"github.com/lisuiheng/pcmlink-go/observe"
)

var (
	version  = "0.1.0"
	cfgFile  string
	debugLog bool
)

var rootCmd = &cobra.Command{
	Use:           "pcmlink",
	Short:         "Stream microphone PCM to a remote speaker",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Capture audio and stream it to a server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(core.RoleClient)
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Accept streams and play them on the local speaker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(core.RoleServer)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pcmlink v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default searches ./config.yaml, ./config/config.yaml, /etc/pcmlink/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "force debug logging to stdout")

	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("pcmlink exited", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(role string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := initLogger(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	if err := cfg.Validate(role); err != nil {
		return err
	}

	log := logger.Logger().With("role", role)

	provider, err := observe.InitProvider(observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	metrics, err := observe.NewMetrics(provider.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	publisher, err := events.New(cfg.Events, log)
	if err != nil {
		return fmt.Errorf("failed to connect event bus: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("Failed to close event publisher", "error", err)
		}
	}()

	deps := core.Deps{Logger: log, Metrics: metrics, Events: publisher}
	device := audio.NewSystemDevice(log)

	var runner interface{ Run(context.Context) error }
	switch role {
	case core.RoleClient:
		runner, err = core.NewClient(cfg, device, nil, deps)
	default:
		runner, err = core.NewServer(cfg, device, deps)
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Address != "" {
		g.Go(func() error {
			return provider.Serve(gctx, cfg.Metrics.Address, log)
		})
	}
	g.Go(func() error {
		defer stop()
		log.Info("Starting pcmlink", "version", version, "transport", cfg.Network.Transport, "address", cfg.Network.Address)
		return runner.Run(gctx)
	})

	err = g.Wait()
	log.Info("Service shutdown completed")
	return err
}

// loadConfig 加载配置文件，未找到配置文件时只使用默认值和环境变量
func loadConfig(configPath string) (core.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return core.Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	core.SetDefaults(v)

	v.SetEnvPrefix("PCMLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pcmlink")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return core.Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg core.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return core.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// initLogger 初始化日志系统
func initLogger(cfg core.Config) error {
	logCfg := cfg.Logging

	// 调试模式覆盖配置
	if debugLog {
		logCfg.Level = "debug"
		logCfg.Outputs = []string{"stdout"}
	}

	return logger.Init(logCfg)
}
