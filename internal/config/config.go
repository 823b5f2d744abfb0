package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/John-Robertt/imgpipe/internal/domain"
)

const (
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingKey 表示需要 Unsplash access key 但环境与 .env 中都没有。
	ErrCodeMissingKey = "config_missing_key"
)

const (
	FileName = "imgpipe.json"
	EnvFile  = ".env"

	// EnvAccessKey 是 Unsplash access key 的环境变量名。
	EnvAccessKey = "UNSPLASH_ACCESS_KEY"
	// EnvSecretKey 仅为模板保留；当前所有请求只需要 access key。
	EnvSecretKey = "UNSPLASH_SECRET_KEY"
)

const (
	DefaultDataDir     = "data"
	DefaultSource      = "unsplash"
	DefaultCount       = 1500
	DefaultPageSize    = 30
	DefaultThumbWidth  = 128
	DefaultThumbHeight = 128
	DefaultTimeout     = 20 * time.Second
	MaxConcurrency     = 64
	MaxRetry           = 5
)

// Sources 是支持的 source 名称。
var Sources = []string{"unsplash", "picsum", "gallery"}

// CLIArgs 是命令行可覆盖的字段；字符串为空表示未指定，数值字段用 *Set 标记是否显式指定。
type CLIArgs struct {
	DataDir string
	Source  string
	Quality string
	Mode    string

	Count    int
	CountSet bool

	PageSize    int
	PageSizeSet bool

	Concurrency    int
	ConcurrencySet bool

	ThumbWidth   int
	ThumbHeight  int
	ThumbSizeSet bool
}

// FileConfig 对应 imgpipe.json 的解析结构；数值为 0 表示使用默认值。
type FileConfig struct {
	DataDir        string        `json:"data_dir"`
	Source         string        `json:"source"`
	Count          int           `json:"count"`
	PageSize       int           `json:"page_size"`
	Quality        string        `json:"quality"`
	Mode           string        `json:"mode"`
	Concurrency    int           `json:"concurrency"`
	ThumbWidth     int           `json:"thumb_width"`
	ThumbHeight    int           `json:"thumb_height"`
	TimeoutSeconds int           `json:"timeout_seconds"`
	RetryMax       int           `json:"retry_max"`
	Proxy          *ProxyConfig  `json:"proxy,omitempty"`
	UnsplashBase   string        `json:"unsplash_base_url,omitempty"`
	PicsumBase     string        `json:"picsum_base_url,omitempty"`
	GalleryURL     string        `json:"gallery_url,omitempty"`
	Mirror         *MirrorConfig `json:"mirror,omitempty"`
}

type ProxyConfig struct {
	URL string `json:"url"`
}

// MirrorConfig 描述可选的 S3 镜像；Bucket 为空表示不启用。
type MirrorConfig struct {
	Bucket   string `json:"bucket"`
	Prefix   string `json:"prefix"`
	Region   string `json:"region"`
	Endpoint string `json:"endpoint"`
}

// Layout 是 data 目录下的固定布局。
type Layout struct {
	Root         string
	JSONDir      string
	MetadataPath string
	ImagesDir    string
	ThumbsDir    string
}

// NewLayout 由 data 根目录推导出各子路径。
func NewLayout(root string) Layout {
	jsonDir := filepath.Join(root, "json")
	return Layout{
		Root:         root,
		JSONDir:      jsonDir,
		MetadataPath: filepath.Join(jsonDir, "images.json"),
		ImagesDir:    filepath.Join(root, "images"),
		ThumbsDir:    filepath.Join(root, "thumbnails"),
	}
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Layout Layout

	Source   string
	Count    int
	PageSize int
	Quality  domain.Quality
	Mode     domain.Mode

	Concurrency int
	ThumbWidth  int
	ThumbHeight int

	Timeout  time.Duration
	RetryMax int
	ProxyURL string

	UnsplashBaseURL   string
	UnsplashAccessKey string
	PicsumBaseURL     string
	GalleryURL        string

	Mirror MirrorConfig
	// ConfigPath 为实际读取到的配置文件；不存在时为空。
	ConfigPath string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeMissingKey:
		return fmt.Sprintf("%s：未配置 %s（可写入环境变量或 %s）", e.Code, EnvAccessKey, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
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

// LoadEffective 读取 <cwd>/imgpipe.json（可选）与 <cwd>/.env（可选），并与 CLI 参数合并。
//
// 覆盖优先级（固定）：
// - 一般字段：CLI > config > 默认
// - access key：进程环境变量 > .env
// - 其他字段（timeout/retry/proxy/base url/mirror）：仅由 config 控制
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, FileName)
	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	envPath := filepath.Join(cwdAbs, EnvFile)
	env, err := readEnvFile(envPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: envPath, Err: err}
	}

	eff, err := merge(cwdAbs, cli, fc, cfgPath)
	if err != nil {
		return EffectiveConfig{}, err
	}
	if exists {
		eff.ConfigPath = cfgPath
	}

	key := strings.TrimSpace(os.Getenv(EnvAccessKey))
	if key == "" {
		key = strings.TrimSpace(env[EnvAccessKey])
	}
	eff.UnsplashAccessKey = key
	return eff, nil
}

// RequireAccessKey 在使用 unsplash source 前调用。
func (e EffectiveConfig) RequireAccessKey() error {
	if strings.TrimSpace(e.UnsplashAccessKey) == "" {
		return &Error{Code: ErrCodeMissingKey, Path: EnvFile}
	}
	return nil
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(format string, args ...any) error {
		return &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf(format, args...)}
	}

	dataDir := pickString(cli.DataDir, fc.DataDir, DefaultDataDir)

	source := strings.ToLower(pickString(cli.Source, fc.Source, DefaultSource))
	if !isSource(source) {
		return EffectiveConfig{}, invalid("source 只能是 %s，实际是 %q", strings.Join(Sources, "/"), source)
	}

	count := pickInt(cli.CountSet, cli.Count, fc.Count, DefaultCount)
	if count < 1 {
		return EffectiveConfig{}, invalid("count 必须 >= 1：%d", count)
	}
	pageSize := pickInt(cli.PageSizeSet, cli.PageSize, fc.PageSize, DefaultPageSize)
	if pageSize < 1 {
		return EffectiveConfig{}, invalid("page_size 必须 >= 1：%d", pageSize)
	}

	qs := pickString(cli.Quality, fc.Quality, string(domain.DefaultQuality))
	quality, ok := domain.ParseQuality(qs)
	if !ok {
		return EffectiveConfig{}, invalid("quality 只能是 raw/full/regular/small/thumb，实际是 %q", qs)
	}

	ms := strings.ToLower(pickString(cli.Mode, fc.Mode, string(domain.ModeParallel)))
	mode, ok := domain.ParseMode(ms)
	if !ok {
		return EffectiveConfig{}, invalid("mode 只能是 serial 或 parallel，实际是 %q", ms)
	}

	concurrency := fc.Concurrency
	if cli.ConcurrencySet {
		concurrency = cli.Concurrency
	}
	if concurrency == 0 {
		concurrency = runtime.NumCPU()
	}
	// 超出范围截断，不报错。
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}

	tw, th := fc.ThumbWidth, fc.ThumbHeight
	if tw == 0 {
		tw = DefaultThumbWidth
	}
	if th == 0 {
		th = DefaultThumbHeight
	}
	if cli.ThumbSizeSet {
		tw, th = cli.ThumbWidth, cli.ThumbHeight
	}
	if tw < 1 || th < 1 {
		return EffectiveConfig{}, invalid("缩略图尺寸无效：%dx%d", tw, th)
	}

	if fc.TimeoutSeconds < 0 {
		return EffectiveConfig{}, invalid("timeout_seconds 不能为负数：%d", fc.TimeoutSeconds)
	}
	timeout := DefaultTimeout
	if fc.TimeoutSeconds > 0 {
		timeout = time.Duration(fc.TimeoutSeconds) * time.Second
	}

	if fc.RetryMax < 0 || fc.RetryMax > MaxRetry {
		return EffectiveConfig{}, invalid("retry_max 必须在 [0, %d]：%d", MaxRetry, fc.RetryMax)
	}

	proxyURL := ""
	if fc.Proxy != nil {
		proxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return EffectiveConfig{}, invalid("proxy.url 无效：%q", proxyURL)
		}
	}

	urls := map[string]string{
		"unsplash_base_url": strings.TrimSpace(fc.UnsplashBase),
		"picsum_base_url":   strings.TrimSpace(fc.PicsumBase),
		"gallery_url":       strings.TrimSpace(fc.GalleryURL),
	}
	for name, v := range urls {
		if v == "" {
			continue
		}
		if err := validateHTTPURL(v); err != nil {
			return EffectiveConfig{}, invalid("%s %v", name, err)
		}
	}
	if source == "gallery" && urls["gallery_url"] == "" {
		return EffectiveConfig{}, invalid("source=gallery 但 gallery_url 为空")
	}

	var mirror MirrorConfig
	if fc.Mirror != nil {
		mirror = MirrorConfig{
			Bucket:   strings.TrimSpace(fc.Mirror.Bucket),
			Prefix:   strings.TrimSpace(fc.Mirror.Prefix),
			Region:   strings.TrimSpace(fc.Mirror.Region),
			Endpoint: strings.TrimSpace(fc.Mirror.Endpoint),
		}
		if mirror.Endpoint != "" {
			if err := validateHTTPURL(mirror.Endpoint); err != nil {
				return EffectiveConfig{}, invalid("mirror.endpoint %v", err)
			}
		}
		if mirror.Bucket == "" && (mirror.Prefix != "" || mirror.Endpoint != "") {
			return EffectiveConfig{}, invalid("mirror 缺少 bucket")
		}
	}

	return EffectiveConfig{
		Layout:          NewLayout(absCleanFrom(cwdAbs, dataDir)),
		Source:          source,
		Count:           count,
		PageSize:        pageSize,
		Quality:         quality,
		Mode:            mode,
		Concurrency:     concurrency,
		ThumbWidth:      tw,
		ThumbHeight:     th,
		Timeout:         timeout,
		RetryMax:        fc.RetryMax,
		ProxyURL:        proxyURL,
		UnsplashBaseURL: urls["unsplash_base_url"],
		PicsumBaseURL:   urls["picsum_base_url"],
		GalleryURL:      urls["gallery_url"],
		Mirror:          mirror,
	}, nil
}

func pickString(cli, file, def string) string {
	if v := strings.TrimSpace(cli); v != "" {
		return v
	}
	if v := strings.TrimSpace(file); v != "" {
		return v
	}
	return def
}

func pickInt(cliSet bool, cli, file, def int) int {
	if cliSet {
		return cli
	}
	if file != 0 {
		return file
	}
	return def
}

func isSource(s string) bool {
	for _, x := range Sources {
		if s == x {
			return true
		}
	}
	return false
}

func validateHTTPURL(v string) error {
	u, err := url.Parse(v)
	if err != nil || u.Host == "" {
		return fmt.Errorf("无效：%q", v)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("必须是 http/https：%q", v)
	}
	return nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}

// readEnvFile 用 godotenv 解析 .env，但不写入进程环境（避免测试之间互相污染）。
func readEnvFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return godotenv.Read(path)
}
