package config

import "github.com/tokmz/linkup/pkg/errors"

// 配置包专用错误定义
var (
	ErrConfigNotFound   = errors.New(errors.KindInternal, "CONFIG_NOT_FOUND", "config file not found")
	ErrConfigReadFailed = errors.New(errors.KindInternal, "CONFIG_READ_FAILED", "config read failed")
	ErrConfigInvalid    = errors.New(errors.KindInternal, "CONFIG_INVALID", "invalid config")
)
