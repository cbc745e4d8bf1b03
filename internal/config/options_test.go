package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func newFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("reverse-proxy", pflag.ContinueOnError)
	BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("解析参数失败: %v", err)
	}
	return fs
}

func TestLoadOptionsDefaults(t *testing.T) {
	opts, err := LoadOptions(newFlagSet(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Address != DefaultAddress || opts.Port != DefaultPort {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	if opts.KillTimeout.DurationValue() != DefaultKillTimeout {
		t.Fatalf("unexpected kill timeout: %s", opts.KillTimeout.DurationValue())
	}
	if opts.Log.Level != "info" || opts.Log.Silent {
		t.Fatalf("unexpected log defaults: %+v", opts.Log)
	}
}

func TestLoadOptionsFlagsOverrideEnv(t *testing.T) {
	t.Setenv("REVERSE_PROXY_PORT", "9000")
	t.Setenv("REVERSE_PROXY_TARGET", "4000")
	t.Setenv("REVERSE_PROXY_KILL_TIMEOUT", "5s")

	opts, err := LoadOptions(newFlagSet(t, "-p", "9100", "--silent", "-w", "3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Port != 9100 {
		t.Fatalf("flag 应高于环境变量，得到 %d", opts.Port)
	}
	if opts.Target != "4000" {
		t.Fatalf("未设置 flag 时应使用环境变量，得到 %q", opts.Target)
	}
	if opts.KillTimeout.DurationValue() != 5*time.Second {
		t.Fatalf("unexpected kill timeout: %s", opts.KillTimeout.DurationValue())
	}
	if !opts.Log.Silent || opts.Workers != 3 {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestLoadOptionsEnvironment(t *testing.T) {
	t.Setenv("REVERSE_PROXY_ENV", "production")
	opts, err := LoadOptions(newFlagSet(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Environment != "production" || opts.Debug() {
		t.Fatalf("production 环境不应开启 debug: %+v", opts)
	}
	if !(RuntimeOptions{}).Debug() {
		t.Fatalf("未设置环境时应视为 development")
	}
}

func TestRuntimeOptionsValidate(t *testing.T) {
	valid := RuntimeOptions{Address: DefaultAddress, Port: 80, Target: "3000"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]RuntimeOptions{
		"no target": {Address: DefaultAddress, Port: 80},
		"port":      {Address: DefaultAddress, Port: 70000, Target: "1"},
		"workers":   {Address: DefaultAddress, Port: 80, Target: "1", Workers: -1},
		"kill":      {Address: DefaultAddress, Port: 80, Target: "1", KillTimeout: Duration(-time.Second)},
	}
	for name, opts := range cases {
		if err := opts.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("3")); err != nil || d.DurationValue() != 3*time.Second {
		t.Fatalf("纯数字应按秒解析: %v %s", err, d.DurationValue())
	}
	if err := d.UnmarshalText([]byte("1500ms")); err != nil || d.DurationValue() != 1500*time.Millisecond {
		t.Fatalf("unexpected duration: %v %s", err, d.DurationValue())
	}
	if err := d.UnmarshalText([]byte("boom")); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}
