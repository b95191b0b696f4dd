package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/version"
)

// InitLogger 按全局配置构建 logger：JSON 或 text 格式，文件输出走 lumberjack 轮转，
// 目录不可用时退回 stdout 并记录一条 logger_fallback 警告。
// 返回的 logger 同时同步到 logrus 标准实例，便于第三方库沿用同一输出。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}
	formatter, err := buildFormatter(cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	output, outErr := openOutput(cfg)
	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(formatter)
	logger.AddHook(versionHook{version: version.Version})

	std := logrus.StandardLogger()
	std.SetFormatter(formatter)
	std.SetOutput(output)
	std.SetLevel(level)

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}

	return logger, nil
}

// Discard 返回丢弃所有输出的 logger，供测试与未注入 logger 的组件使用。
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func buildFormatter(format string) (logrus.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}, nil
	case "text":
		return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339}, nil
	default:
		return nil, fmt.Errorf("不支持的日志格式: %s", format)
	}
}

func openOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

// versionHook 给每条日志补上构建版本，已显式设置的字段不覆盖。
type versionHook struct {
	version string
}

func (versionHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h versionHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["version"]; !ok {
		entry.Data["version"] = h.version
	}
	return nil
}
