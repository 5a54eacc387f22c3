package config

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Watch 开始监控配置文件，变更后重新读取并依次触发回调
// viper 无法停止底层 fsnotify watcher，StopWatch 仅屏蔽回调
func (c *Config) Watch() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watching {
		return nil
	}
	if c.viper.ConfigFileUsed() == "" {
		return ErrConfigNotFound.WithMessage("no config file to watch")
	}

	c.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		c.mu.RLock()
		watching := c.watching
		callbacks := append([]func(){}, c.onChange...)
		c.mu.RUnlock()

		if !watching {
			return
		}
		for _, fn := range callbacks {
			c.safeCall(fn)
		}
	})
	c.viper.WatchConfig()
	c.watching = true
	return nil
}

// StopWatch 停止触发变更回调
func (c *Config) StopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching = false
}

// OnChange 追加变更回调
func (c *Config) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

func (c *Config) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.reportError(fmt.Errorf("config change callback panic: %v", r))
		}
	}()
	fn()
}

func (c *Config) reportError(err error) {
	c.mu.RLock()
	onError := c.onError
	c.mu.RUnlock()

	if onError != nil {
		onError(err)
		return
	}
	fmt.Fprintf(os.Stderr, "[config] %v\n", err)
}
