package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// ErrCodeNotFound 表示 --config 指定的文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段（含环境变量）不合法。
	ErrCodeInvalid = "config_invalid"
)

// DefaultFileName 是 cwd 下自动发现的配置文件名。
const DefaultFileName = "bookfinder.yaml"

const (
	DefaultListen        = ":3001"
	DefaultHTTPTimeout   = 10 * time.Second
	DefaultProbeTimeout  = 10 * time.Second
	DefaultRatePerSecond = 1.0
	DefaultBurst         = 2
	DefaultLogLevel      = "info"
)

// CLIArgs 是 CLI 暴露的覆盖项，并保留“是否显式指定”的信息。
// 这能保证 --log-level=info 可以覆盖环境变量里的 debug。
type CLIArgs struct {
	// ConfigPath 非空时该文件必须存在。
	ConfigPath string

	Listen    string
	ListenSet bool

	Mirror    string
	MirrorSet bool

	LogLevel    string
	LogLevelSet bool

	StaticDir    string
	StaticDirSet bool
}

// FileConfig 对应 bookfinder.yaml 的解析结构。
type FileConfig struct {
	Listen          string        `yaml:"listen"`
	StaticDir       string        `yaml:"static_dir"`
	Mirror          MirrorConfig  `yaml:"mirror"`
	HTTP            HTTPConfig    `yaml:"http"`
	DownloadMarkers []string      `yaml:"download_markers"`
	Log             LogConfig     `yaml:"log"`
	Metrics         MetricsConfig `yaml:"metrics"`
}

type MirrorConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Candidates   []string      `yaml:"candidates"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	ProxyURL      string        `yaml:"proxy_url"`
	RatePerSecond *float64      `yaml:"rate_per_second"` // 显式 0 表示不限速
	Burst         int           `yaml:"burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  *bool  `yaml:"json"`
}

type MetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// EnvConfig 是环境变量覆盖项。全部按字符串读取，由 merge 统一解析与报错。
type EnvConfig struct {
	Port        string `envconfig:"PORT"`
	Mirror      string `envconfig:"LIBGEN_MIRROR"`
	LogLevel    string `envconfig:"BOOKFINDER_LOG_LEVEL"`
	LogJSON     string `envconfig:"BOOKFINDER_LOG_JSON"`
	ProxyURL    string `envconfig:"BOOKFINDER_PROXY_URL"`
	HTTPTimeout string `envconfig:"BOOKFINDER_HTTP_TIMEOUT"`
}

// EffectiveConfig 是合并并规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	// ConfigPath 是实际读取的配置文件；没有读取任何文件时为空。
	ConfigPath string

	Listen    string
	StaticDir string

	// MirrorBaseURL 非空时固定使用该镜像，不做探测。
	MirrorBaseURL    string
	MirrorCandidates []string
	ProbeTimeout     time.Duration

	HTTPTimeout   time.Duration
	ProxyURL      string
	RatePerSecond float64
	Burst         int

	DownloadMarkers []string

	LogLevel       string
	LogJSON        bool
	MetricsEnabled bool
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Path == "" {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件、读取环境变量，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须存在
// 2) 否则尝试 <cwd>/bookfinder.yaml（可选）
//
// 覆盖优先级（固定）：CLI > 环境变量 > 配置文件 > 默认值。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, DefaultFileName)
	required := false
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		required = true
	}

	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists {
		if required {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
		cfgPath = ""
	}

	env, err := LoadEnv()
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Err: err}
	}

	return merge(cwdAbs, cli, env, fc, cfgPath)
}

// LoadEnv 读取环境变量覆盖项。
func LoadEnv() (EnvConfig, error) {
	var ec EnvConfig
	if err := envconfig.Process("", &ec); err != nil {
		return EnvConfig{}, err
	}
	return ec, nil
}

func merge(cwdAbs string, cli CLIArgs, env EnvConfig, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(format string, args ...any) error {
		return &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf(format, args...)}
	}

	eff := EffectiveConfig{
		ConfigPath:     cfgPath,
		Listen:         DefaultListen,
		ProbeTimeout:   DefaultProbeTimeout,
		HTTPTimeout:    DefaultHTTPTimeout,
		RatePerSecond:  DefaultRatePerSecond,
		Burst:          DefaultBurst,
		LogLevel:       DefaultLogLevel,
		MetricsEnabled: true,
	}

	// listen：CLI > PORT > config > 默认
	switch {
	case cli.ListenSet:
		eff.Listen = strings.TrimSpace(cli.Listen)
	case strings.TrimSpace(env.Port) != "":
		eff.Listen = listenFromPort(env.Port)
	case strings.TrimSpace(fc.Listen) != "":
		eff.Listen = strings.TrimSpace(fc.Listen)
	}
	if eff.Listen == "" {
		return EffectiveConfig{}, invalid("listen 不能为空")
	}

	// static_dir：CLI > config；相对路径以 cwd 为基准
	staticDir := strings.TrimSpace(fc.StaticDir)
	if cli.StaticDirSet {
		staticDir = strings.TrimSpace(cli.StaticDir)
	}
	if staticDir != "" {
		eff.StaticDir = absCleanFrom(cwdAbs, staticDir)
	}

	// mirror：CLI > LIBGEN_MIRROR > config.mirror.base_url
	switch {
	case cli.MirrorSet:
		eff.MirrorBaseURL = strings.TrimSpace(cli.Mirror)
	case strings.TrimSpace(env.Mirror) != "":
		eff.MirrorBaseURL = strings.TrimSpace(env.Mirror)
	default:
		eff.MirrorBaseURL = strings.TrimSpace(fc.Mirror.BaseURL)
	}
	if eff.MirrorBaseURL != "" {
		if err := validateHTTPURL(eff.MirrorBaseURL); err != nil {
			return EffectiveConfig{}, invalid("mirror.base_url 无效：%w", err)
		}
	}
	for _, c := range fc.Mirror.Candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if err := validateHTTPURL(c); err != nil {
			return EffectiveConfig{}, invalid("mirror.candidates 无效：%w", err)
		}
		eff.MirrorCandidates = append(eff.MirrorCandidates, c)
	}
	if fc.Mirror.ProbeTimeout != 0 {
		eff.ProbeTimeout = fc.Mirror.ProbeTimeout
	}
	if eff.ProbeTimeout < 0 {
		return EffectiveConfig{}, invalid("mirror.probe_timeout 不能为负数")
	}

	// http
	if fc.HTTP.Timeout != 0 {
		eff.HTTPTimeout = fc.HTTP.Timeout
	}
	if s := strings.TrimSpace(env.HTTPTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return EffectiveConfig{}, invalid("BOOKFINDER_HTTP_TIMEOUT 无效：%w", err)
		}
		eff.HTTPTimeout = d
	}
	if eff.HTTPTimeout <= 0 {
		return EffectiveConfig{}, invalid("http.timeout 必须大于 0")
	}

	eff.ProxyURL = strings.TrimSpace(fc.HTTP.ProxyURL)
	if s := strings.TrimSpace(env.ProxyURL); s != "" {
		eff.ProxyURL = s
	}
	if eff.ProxyURL != "" {
		u, err := url.Parse(eff.ProxyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return EffectiveConfig{}, invalid("http.proxy_url 无效：%q", eff.ProxyURL)
		}
	}

	if fc.HTTP.RatePerSecond != nil {
		eff.RatePerSecond = *fc.HTTP.RatePerSecond
	}
	if eff.RatePerSecond < 0 {
		return EffectiveConfig{}, invalid("http.rate_per_second 不能为负数")
	}
	if fc.HTTP.Burst != 0 {
		eff.Burst = fc.HTTP.Burst
	}
	if eff.Burst < 1 {
		return EffectiveConfig{}, invalid("http.burst 至少为 1")
	}

	for _, m := range fc.DownloadMarkers {
		if m = strings.TrimSpace(m); m != "" {
			eff.DownloadMarkers = append(eff.DownloadMarkers, m)
		}
	}

	// log
	switch {
	case cli.LogLevelSet:
		eff.LogLevel = strings.TrimSpace(cli.LogLevel)
	case strings.TrimSpace(env.LogLevel) != "":
		eff.LogLevel = strings.TrimSpace(env.LogLevel)
	case strings.TrimSpace(fc.Log.Level) != "":
		eff.LogLevel = strings.TrimSpace(fc.Log.Level)
	}
	if _, err := logrus.ParseLevel(eff.LogLevel); err != nil {
		return EffectiveConfig{}, invalid("log.level 无效：%q", eff.LogLevel)
	}
	if fc.Log.JSON != nil {
		eff.LogJSON = *fc.Log.JSON
	}
	if s := strings.TrimSpace(env.LogJSON); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return EffectiveConfig{}, invalid("BOOKFINDER_LOG_JSON 无效：%q", s)
		}
		eff.LogJSON = b
	}

	if fc.Metrics.Enabled != nil {
		eff.MetricsEnabled = *fc.Metrics.Enabled
	}

	return eff, nil
}

// listenFromPort 把 PORT=3001 转成 ":3001"；已带 host 的地址原样返回。
func listenFromPort(p string) string {
	p = strings.TrimSpace(p)
	if strings.Contains(p, ":") {
		return p
	}
	return ":" + p
}

func validateHTTPURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("必须是 http/https：%q", s)
	}
	if u.Host == "" {
		return fmt.Errorf("缺少 host：%q", s)
	}
	return nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 YAML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
