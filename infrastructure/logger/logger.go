package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 在 zap 之上附加再平衡相关的事件方法
type Logger struct {
	*zap.Logger
	config Config
	files  []*os.File
}

// Config 日志配置
type Config struct {
	Level      string   `yaml:"level"`       // debug, info, warn, error
	Outputs    []string `yaml:"outputs"`     // stdout, file, journal
	OutputFile string   `yaml:"output_file"` // 日志文件路径
	ErrorFile  string   `yaml:"error_file"`  // 错误日志单独文件
	Format     string   `yaml:"format"`      // json 或 console
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Outputs: []string{"stdout"},
		Format:  "json",
	}
}

// New 按配置组装输出。journal 输出仅在 systemd journal 可用时生效。
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	console := cfg.Format == "console"
	if console {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	l := &Logger{config: cfg}
	var cores []zapcore.Core
	if contains(cfg.Outputs, "stdout") {
		enc := zapcore.NewJSONEncoder(encCfg)
		if console {
			enc = zapcore.NewConsoleEncoder(encCfg)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), level))
	}
	if contains(cfg.Outputs, "file") && cfg.OutputFile != "" {
		f, err := l.open(cfg.OutputFile)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), f, level))
	}
	if cfg.ErrorFile != "" {
		f, err := l.open(cfg.ErrorFile)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), f, zapcore.ErrorLevel))
	}
	if contains(cfg.Outputs, "journal") && journal.Enabled() {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), journalWriter{}, level))
	}

	l.Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return l, nil
}

// Wrap 包装已有的 zap.Logger，测试中配合 zaptest/observer 使用。
func Wrap(z *zap.Logger) *Logger {
	return &Logger{Logger: z, config: DefaultConfig()}
}

func (l *Logger) open(path string) (zapcore.WriteSyncer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s failed: %w", path, err)
	}
	l.files = append(l.files, f)
	return zapcore.AddSync(f), nil
}

// journalWriter 把编码后的一行写入 systemd journal。
type journalWriter struct{}

func (journalWriter) Write(p []byte) (int, error) {
	pri := journal.PriInfo
	switch {
	case strings.Contains(string(p), `"level":"error"`):
		pri = journal.PriErr
	case strings.Contains(string(p), `"level":"warn"`):
		pri = journal.PriWarning
	case strings.Contains(string(p), `"level":"debug"`):
		pri = journal.PriDebug
	}
	if err := journal.Send(strings.TrimRight(string(p), "\n"), pri, nil); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (journalWriter) Sync() error { return nil }

// WithFields 添加字段返回新的logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return &Logger{
		Logger: l.Logger.With(zapFields...),
		config: l.config,
	}
}

// LogRebalance 记录再平衡轮次事件（开始、目标抬高、指数移除）
func (l *Logger) LogRebalance(event string, index string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["event"] = event
	fields["index"] = index
	l.Info("rebalance_event", l.fields(fields)...)
}

// LogTrade 记录成交
func (l *Logger) LogTrade(event string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["event"] = event
	l.Info("trade_event", l.fields(fields)...)
}

// LogReject 记录被拒绝的交易或配置操作
func (l *Logger) LogReject(reason string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["reason"] = reason
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Warn("reject_event", l.fields(fields)...)
}

// LogError 记录错误并附带上下文
func (l *Logger) LogError(err error, context map[string]interface{}) {
	if context == nil {
		context = make(map[string]interface{})
	}
	context["error"] = err.Error()
	l.Error("error_event", l.fields(context)...)
}

func (l *Logger) fields(m map[string]interface{}) []zap.Field {
	m["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	out := make([]zap.Field, 0, len(m))
	for k, v := range m {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// Close 刷新缓冲并关闭打开的日志文件
func (l *Logger) Close() error {
	err := l.Sync()
	for _, f := range l.files {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	l.files = nil
	return err
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
