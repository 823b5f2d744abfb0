package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/John-Robertt/imgpipe/internal/app/fetch"
	"github.com/John-Robertt/imgpipe/internal/app/run"
	"github.com/John-Robertt/imgpipe/internal/config"
	"github.com/John-Robertt/imgpipe/internal/domain"
	"github.com/John-Robertt/imgpipe/internal/infra/httpx"
	"github.com/John-Robertt/imgpipe/internal/infra/sink"
	"github.com/John-Robertt/imgpipe/internal/metadata"
	"github.com/John-Robertt/imgpipe/internal/source"
	"github.com/John-Robertt/imgpipe/internal/source/gallery"
	"github.com/John-Robertt/imgpipe/internal/source/picsum"
	"github.com/John-Robertt/imgpipe/internal/source/unsplash"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	var code int
	switch args[0] {
	case "init":
		code = initCmd(args[1:])
	case "fetch":
		code = stageCmd("fetch", args[1:])
	case "download":
		code = stageCmd("download", args[1:])
	case "thumbs":
		code = stageCmd("thumbs", args[1:])
	case "bench":
		code = benchCmd(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		code = 2
	}
	if code != 0 {
		os.Exit(code)
	}
}

func initCmd(args []string) int {
	if len(args) > 0 {
		if isHelp(args[0]) {
			printUsage()
			return 0
		}
		return usageError(fmt.Errorf("init 不接受参数：%q", args[0]))
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}
	created, err := config.WriteTemplate(cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "创建配置模板失败：%v\n", err)
		return 1
	}
	for _, p := range created {
		fmt.Fprintf(os.Stderr, "已创建：%s\n", p)
	}

	eff, err := config.LoadEffective(cwd, config.CLIArgs{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if eff.RequireAccessKey() != nil {
		fmt.Fprintf(os.Stderr, "未提供 access key：请在 %s 中填写 %s\n", config.EnvFile, config.EnvAccessKey)
		return 0
	}
	fmt.Fprintln(os.Stderr, "配置完成。")
	return 0
}

// stageCmd 执行单个阶段：fetch/download/thumbs。
func stageCmd(name string, args []string) int {
	cli, rest, err := parseArgs(args)
	if err != nil {
		return usageError(err)
	}
	if cli.help {
		printUsage()
		return 0
	}
	if len(rest) > 0 {
		return usageError(fmt.Errorf("%s 不接受位置参数：%q", name, rest[0]))
	}

	env, code := prepare(cli.CLIArgs)
	if code != 0 {
		return code
	}

	switch name {
	case "fetch":
		return doFetch(env)
	case "download":
		recs, err := metadata.LoadDir(env.eff.Layout.JSONDir)
		if err != nil {
			return emitError(name, domain.ErrCodeIOFailed, fmt.Errorf("读取元数据失败：%w", err))
		}
		rep := run.Download(context.Background(), downloadOptions(env, recs), env.obs)
		return emitStage(rep)
	default:
		rep := run.Thumbnails(context.Background(), thumbnailOptions(env), env.obs)
		return emitStage(rep)
	}
}

func benchCmd(args []string) int {
	cli, rest, err := parseArgs(args)
	if err != nil {
		return usageError(err)
	}
	if cli.help {
		printUsage()
		return 0
	}
	if len(rest) != 1 || (rest[0] != "download" && rest[0] != "thumbs") {
		return usageError(errors.New("bench 需要且只需要一个阶段：download|thumbs"))
	}

	env, code := prepare(cli.CLIArgs)
	if code != 0 {
		return code
	}

	var br domain.BenchReport
	if rest[0] == "download" {
		recs, err := metadata.LoadDir(env.eff.Layout.JSONDir)
		if err != nil {
			return emitError("bench", domain.ErrCodeIOFailed, fmt.Errorf("读取元数据失败：%w", err))
		}
		br = run.BenchDownload(context.Background(), downloadOptions(env, recs), env.obs)
	} else {
		br = run.BenchThumbnails(context.Background(), thumbnailOptions(env), env.obs)
	}

	summary := fmt.Sprintf("完成：stage=%s serial=%s parallel=%s speedup=%.2fx\n",
		br.Stage, formatShortDuration(br.Serial.Elapsed()), formatShortDuration(br.Parallel.Elapsed()), br.Speedup)
	emitJSON(br, summary)
	if br.Serial.Summary.Failed == 0 && br.Parallel.Summary.Failed == 0 {
		return 0
	}
	return 1
}

// cmdEnv 是各阶段共用的运行环境。
type cmdEnv struct {
	eff    config.EffectiveConfig
	client *http.Client
	mirror sink.Sink
	ui     *progressUI
	obs    run.Observer
}

func prepare(cli config.CLIArgs) (cmdEnv, int) {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return cmdEnv{}, 1
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		return cmdEnv{}, emitError("config", config.Code(err), err)
	}

	client, err := httpx.NewClient(httpx.Options{
		ProxyURL:        eff.ProxyURL,
		Timeout:         eff.Timeout,
		RetryMax:        eff.RetryMax,
		MaxConnsPerHost: eff.Concurrency,
	})
	if err != nil {
		return cmdEnv{}, emitError("config", config.ErrCodeInvalid, err)
	}

	env := cmdEnv{eff: eff, client: client}

	m := sink.Options(eff.Mirror)
	if m.Enabled() {
		s3s, err := sink.NewS3(context.Background(), m)
		if err != nil {
			return cmdEnv{}, emitError("config", config.ErrCodeInvalid, err)
		}
		env.mirror = s3s
	}

	if w, interactive := pickProgressWriter(); interactive {
		env.ui = newProgressUI(w)
		env.ui.printConfig(eff)
		env.obs = env.ui
	}
	return env, 0
}

func doFetch(env cmdEnv) int {
	reg, err := buildRegistry(env.eff)
	if err != nil {
		return emitError("fetch", config.ErrCodeInvalid, err)
	}
	src, ok := reg.Get(env.eff.Source)
	if !ok {
		if env.eff.Source == "unsplash" {
			err := env.eff.RequireAccessKey()
			return emitError("fetch", config.Code(err), err)
		}
		return emitError("fetch", config.ErrCodeInvalid, fmt.Errorf("source %q 不可用（已注册：%s）", env.eff.Source, strings.Join(reg.Names(), ",")))
	}

	pageSize := env.eff.PageSize
	if pageSize > src.MaxPageSize() {
		pageSize = src.MaxPageSize()
	}

	var obs fetch.Observer
	if env.ui != nil {
		obs = env.ui
	}
	res, _, err := fetch.Run(context.Background(), fetch.Options{
		Source:   src,
		Client:   env.client,
		Count:    env.eff.Count,
		PageSize: pageSize,
		OutPath:  env.eff.Layout.MetadataPath,
	}, obs)
	if err != nil {
		code := domain.ErrCodeFetchFailed
		var hs *source.HTTPStatusError
		if errors.As(err, &hs) || source.IsRateLimited(err) {
			code = domain.ErrCodeHTTPStatus
		}
		return emitError("fetch", code, err)
	}

	summary := fmt.Sprintf("完成：records=%d pages=%d short_pages=%d elapsed=%s\n",
		res.Records, res.Pages, res.ShortPages, formatShortDuration(msDuration(res.ElapsedMS)))
	emitJSON(res, summary)
	return 0
}

// buildRegistry 注册当前配置下可用的 source：unsplash 需要 key，gallery 需要页面地址。
func buildRegistry(eff config.EffectiveConfig) (source.Registry, error) {
	srcs := []source.Source{picsum.New(eff.PicsumBaseURL)}
	if eff.UnsplashAccessKey != "" {
		u, err := unsplash.New(eff.UnsplashBaseURL, eff.UnsplashAccessKey)
		if err != nil {
			return source.Registry{}, err
		}
		srcs = append(srcs, u)
	}
	if eff.GalleryURL != "" {
		g, err := gallery.New(eff.GalleryURL)
		if err != nil {
			return source.Registry{}, err
		}
		srcs = append(srcs, g)
	}
	return source.NewRegistry(srcs...)
}

func downloadOptions(env cmdEnv, recs domain.Collection) run.DownloadOptions {
	return run.DownloadOptions{
		Records:   recs,
		Quality:   env.eff.Quality,
		ImagesDir: env.eff.Layout.ImagesDir,
		Mode:      env.eff.Mode,
		Workers:   env.eff.Concurrency,
		Client:    env.client,
		Mirror:    env.mirror,
	}
}

func thumbnailOptions(env cmdEnv) run.ThumbnailOptions {
	return run.ThumbnailOptions{
		ImagesDir: env.eff.Layout.ImagesDir,
		ThumbsDir: env.eff.Layout.ThumbsDir,
		Width:     env.eff.ThumbWidth,
		Height:    env.eff.ThumbHeight,
		Mode:      env.eff.Mode,
		Workers:   env.eff.Concurrency,
		Mirror:    env.mirror,
	}
}

type cliArgs struct {
	config.CLIArgs
	help bool
}

// parseArgs 解析 --flag value 与 --flag=value 两种写法；其余参数作为位置参数返回。
func parseArgs(args []string) (cliArgs, []string, error) {
	var out cliArgs
	var rest []string

	for i := 0; i < len(args); i++ {
		a := args[i]
		if isHelp(a) {
			out.help = true
			continue
		}
		if !strings.HasPrefix(a, "--") {
			if strings.HasPrefix(a, "-") {
				return cliArgs{}, nil, fmt.Errorf("未知参数 %q", a)
			}
			rest = append(rest, a)
			continue
		}

		name, val, hasVal := strings.Cut(strings.TrimPrefix(a, "--"), "=")
		if !hasVal {
			if i+1 >= len(args) {
				return cliArgs{}, nil, fmt.Errorf("--%s 需要一个值", name)
			}
			i++
			val = args[i]
		}

		switch name {
		case "data":
			out.DataDir = val
		case "source":
			out.Source = val
		case "quality":
			out.Quality = val
		case "mode":
			out.Mode = val
		case "count", "page-size", "concurrency":
			n, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return cliArgs{}, nil, fmt.Errorf("--%s 必须是整数，实际是 %q", name, val)
			}
			switch name {
			case "count":
				out.Count, out.CountSet = n, true
			case "page-size":
				out.PageSize, out.PageSizeSet = n, true
			default:
				out.Concurrency, out.ConcurrencySet = n, true
			}
		case "size":
			w, h, err := parseSize(val)
			if err != nil {
				return cliArgs{}, nil, err
			}
			out.ThumbWidth, out.ThumbHeight, out.ThumbSizeSet = w, h, true
		default:
			return cliArgs{}, nil, fmt.Errorf("未知参数 %q", a)
		}
	}
	return out, rest, nil
}

// parseSize 解析 WxH（例如 128x128）。
func parseSize(v string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(v)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("--size 格式应为 WxH，实际是 %q", v)
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w < 1 || h < 1 {
		return 0, 0, fmt.Errorf("--size 格式应为 WxH（正整数），实际是 %q", v)
	}
	return w, h, nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func usageError(err error) int {
	fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
	printUsage()
	return 2
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  imgpipe init
  imgpipe fetch    [--source unsplash|picsum|gallery] [--count N] [--page-size P]
  imgpipe download [--quality raw|full|regular|small|thumb] [--mode serial|parallel] [--concurrency N]
  imgpipe thumbs   [--size WxH] [--mode serial|parallel] [--concurrency N]
  imgpipe bench    download|thumbs [同上参数]

通用参数：
  --data DIR  数据目录（默认 data；产物位于 json/ images/ thumbnails/）
  -h, --help  显示帮助

配置：当前目录下的 imgpipe.json 与 .env（UNSPLASH_ACCESS_KEY）均为可选；CLI 参数优先。
`)
}

// errorReport 是阶段无法完成时 stdout 的唯一 JSON。
type errorReport struct {
	Stage     string `json:"stage"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	Page      *int   `json:"page,omitempty"`
}

func emitError(stage, code string, err error) int {
	rep := errorReport{Stage: stage, ErrorCode: code, ErrorMsg: err.Error()}
	var pe *fetch.PageError
	if errors.As(err, &pe) {
		p := pe.Page
		rep.Page = &p
	}
	if isTTY(os.Stdout) {
		fmt.Fprintf(os.Stderr, "失败：%s %s: %s\n", stage, code, err)
		return 1
	}
	_ = json.NewEncoder(os.Stdout).Encode(rep)
	fmt.Fprintf(os.Stderr, "失败：%s %s\n", stage, code)
	return 1
}

func emitStage(rep domain.StageReport) int {
	summary := fmt.Sprintf("完成：total=%d ok=%d failed=%d elapsed=%s\n",
		rep.Summary.Total, rep.Summary.Succeeded, rep.Summary.Failed, formatShortDuration(rep.Elapsed()))

	if isTTY(os.Stdout) {
		fmt.Fprint(os.Stdout, summary)
		writeFailures(os.Stderr, rep)
	} else {
		emitJSON(rep, summary)
	}
	if rep.Summary.Failed == 0 {
		return 0
	}
	return 1
}

// emitJSON：stdout 非 TTY 时 stdout 必须且仅输出一个 JSON（摘要走 stderr）。
func emitJSON(v any, summary string) {
	if isTTY(os.Stdout) {
		fmt.Fprint(os.Stdout, summary)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(v)
	fmt.Fprint(os.Stderr, summary)
}

func writeFailures(w io.Writer, rep domain.StageReport) {
	for _, it := range rep.Items {
		if it.Status != domain.StatusFailed {
			continue
		}
		key := it.ID
		if key == "" {
			key = it.Source
		}
		if key == "" {
			key = "<unknown>"
		}
		fmt.Fprintf(w, "%s %s: %s\n", key, it.ErrorCode, it.ErrorMsg)
	}
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}
