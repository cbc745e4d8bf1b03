package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix 是所有环境变量的前缀，例如 REVERSE_PROXY_PORT。
const EnvPrefix = "REVERSE_PROXY"

// EnvWorkerID 存在时表示当前进程是 supervisor 派生的 worker。
const EnvWorkerID = EnvPrefix + "_WORKER_ID"

// BindFlags 在给定 FlagSet 上注册全部运行参数。
func BindFlags(fs *pflag.FlagSet) {
	fs.StringP("address", "a", DefaultAddress, "address that the reverse proxy should run on")
	fs.IntP("port", "p", DefaultPort, "port that the reverse proxy should run on")
	fs.StringP("target", "t", "", "location of the server the proxy will target (a port or a URL)")
	fs.StringP("config", "c", "", "location of the configuration file for the reverse proxy")
	fs.IntP("workers", "w", 0, "number of worker processes (0 = ceil(cpus/2))")
	fs.StringP("user", "u", "", "user to drop privileges to once the servers are started")
	fs.String("environment", "", "runtime environment (development, test, production)")
	fs.Duration("kill-timeout", DefaultKillTimeout, "grace period before a stopping worker is killed")
	fs.String("status-address", "", "optional listen address of the status endpoint (e.g. 127.0.0.1:9090)")
	fs.Bool("check-config", false, "validate the configuration and exit")
	fs.Bool("silent", false, "silence the log output from the reverse proxy")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-file", "", "write logs to this file instead of stdout")
	fs.Int("log-max-size", 100, "maximum size in megabytes of the log file before rotation")
	fs.Int("log-max-backups", 10, "maximum number of rotated log files to keep")
	fs.Bool("log-compress", true, "compress rotated log files")
}

// LoadOptions 合并 flag、环境变量与默认值，优先级为 flag > 环境变量 > 默认值。
func LoadOptions(fs *pflag.FlagSet) (RuntimeOptions, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("environment", EnvPrefix+"_ENV"); err != nil {
		return RuntimeOptions{}, err
	}
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return RuntimeOptions{}, fmt.Errorf("绑定命令行参数失败: %w", err)
		}
	}

	var opts RuntimeOptions
	if err := v.Unmarshal(&opts, viper.DecodeHook(durationDecodeHook())); err != nil {
		return RuntimeOptions{}, fmt.Errorf("解析运行参数失败: %w", err)
	}
	opts.Address = strings.TrimSpace(opts.Address)
	if opts.Address == "" {
		opts.Address = DefaultAddress
	}
	if opts.Port < 0 {
		opts.Port = 0
	}
	return opts, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("address", DefaultAddress)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("target", "")
	v.SetDefault("config", "")
	v.SetDefault("workers", 0)
	v.SetDefault("user", "")
	v.SetDefault("environment", "")
	v.SetDefault("kill-timeout", DefaultKillTimeout.String())
	v.SetDefault("status-address", "")
	v.SetDefault("check-config", false)
	v.SetDefault("silent", false)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", "")
	v.SetDefault("log-max-size", 100)
	v.SetDefault("log-max-backups", 10)
	v.SetDefault("log-compress", true)
}
