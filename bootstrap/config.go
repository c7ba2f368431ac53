package bootstrap

import (
	"fmt"
	"os"

	"education/config"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BindHostFlags registers the host flags (--environment, --urls, --config) on fs
// and binds them into v so they take precedence over the config file and env vars.
func BindHostFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	fs.String("environment", "", "Hosting environment (Development, Staging, Production)")
	fs.String("urls", "", "Semicolon separated listen URLs, e.g. http://localhost:5000")
	fs.String("config", "", "Path to a config file")

	for key, flag := range map[string]string{
		"environment": "environment",
		"server.urls": "urls",
		"config":      "config",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", flag, err)
		}
	}
	return nil
}

// InitConfig parses the process arguments and loads the application configuration.
func InitConfig(args []string) (*config.Config, *viper.Viper, error) {
	v := config.NewViper()

	fs := pflag.NewFlagSet("education", pflag.ContinueOnError)
	if err := BindHostFlags(fs, v); err != nil {
		return nil, nil, err
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, fmt.Errorf("failed to parse arguments: %w", err)
	}

	cfg, err := config.LoadConfig(v)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, v, nil
}

// InitLogger initializes the zap logger. Development gets colored console output at
// debug level; other environments get JSON at the configured level.
func InitLogger(cfg *config.Config) (*zap.Logger, *zap.SugaredLogger, error) {
	if cfg.IsDevelopment() {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			zapcore.DebugLevel,
		)
		logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
		return logger, logger.Sugar(), nil
	}

	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}
