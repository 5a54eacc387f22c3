package tracing

import (
	"time"

	"github.com/tokmz/linkup/pkg/errors"
)

// 导出器类型
const (
	ExporterStdout   = "stdout"
	ExporterOTLP     = "otlp"      // OTLP/HTTP
	ExporterOTLPGRPC = "otlp-grpc" // OTLP/gRPC
	ExporterNoop     = "noop"
)

// Config 链路追踪配置
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	Exporter string            // stdout, otlp, otlp-grpc, noop
	Endpoint string            // collector 地址，空时读取 OTEL_EXPORTER_OTLP_ENDPOINT
	Headers  map[string]string // 导出请求头（认证）
	Insecure bool

	// 采样率 0.0-1.0，按父 span 决策
	SamplingRate float64

	Enabled bool

	BatchTimeout       time.Duration
	MaxExportBatchSize int
	MaxQueueSize       int
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ServiceName:        "linkup",
		ServiceVersion:     "dev",
		Environment:        "development",
		Exporter:           ExporterStdout,
		SamplingRate:       1.0,
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
	}
}

var ErrInvalidConfig = errors.New(errors.KindInternal, "TRACING_INVALID_CONFIG", "invalid tracing config")

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrInvalidConfig.WithMessage("service name is required")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return ErrInvalidConfig.WithMessage("sampling rate must be between 0.0 and 1.0")
	}
	switch c.Exporter {
	case ExporterStdout, ExporterOTLP, ExporterOTLPGRPC, ExporterNoop:
	default:
		return ErrInvalidConfig.WithMessage("invalid exporter: " + c.Exporter)
	}
	return nil
}
