package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/John-Robertt/imgpipe/internal/app/fetch"
	"github.com/John-Robertt/imgpipe/internal/app/run"
	"github.com/John-Robertt/imgpipe/internal/config"
	"github.com/John-Robertt/imgpipe/internal/domain"
)

var (
	_ run.Observer   = (*progressUI)(nil)
	_ fetch.Observer = (*progressUI)(nil)
)

// progressUI 是一个“简洁版”的交互终端进度输出。
//
// 设计目标：
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run/fetch 只发事件，CLI 决定如何展示
// - keepalive：长时间无条目完成时也会定期输出一行
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	stage   string
	workers int
	total   int
	done    int
	ok      int
	fail    int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) printConfig(eff config.EffectiveConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg := eff.ConfigPath
	if cfg == "" {
		cfg = "(无，使用默认值)"
	}

	fmt.Fprintf(p.w, "[%s] imgpipe\n", time.Now().Format("15:04:05"))
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  config: %s\n", cfg)
	fmt.Fprintf(p.w, "  data: %s\n", eff.Layout.Root)
	fmt.Fprintf(p.w, "  source: %s (count=%d page_size=%d key=%s)\n", eff.Source, eff.Count, eff.PageSize, onOff(eff.UnsplashAccessKey != ""))
	fmt.Fprintf(p.w, "  quality: %s\n", eff.Quality)
	fmt.Fprintf(p.w, "  mode: %s concurrency=%d\n", eff.Mode, eff.Concurrency)
	fmt.Fprintf(p.w, "  thumb: %dx%d\n", eff.ThumbWidth, eff.ThumbHeight)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	fmt.Fprintf(p.w, "  mirror: %s\n", formatMirror(eff.Mirror))
	fmt.Fprintln(p.w)
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPage(page, got, collected, total int, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "fetch 第 %d 页: got=%d collected=%d/%d (%s)\n", page, got, collected, total, formatShortDuration(dur))
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnStart(stage string, mode domain.Mode, workers, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startedAt = time.Now()
	p.stage = stage
	p.workers = workers
	p.total = total
	p.done, p.ok, p.fail = 0, 0, 0

	fmt.Fprintf(p.w, "[%s] %s: mode=%s workers=%d total=%d\n", p.startedAt.Format("15:04:05"), stage, mode, workers, total)
	if total > 0 && !p.tickerStarted {
		p.startTickerLocked()
	}
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total

	key := res.ID
	if key == "" {
		key = res.Source
	}

	switch res.Status {
	case domain.StatusOK:
		p.ok++
		fmt.Fprintf(p.w, "[%d/%d] %s OK %s (%s)\n", idx, total, key, formatBytes(res.Bytes), formatShortDuration(dur))
	default:
		p.fail++
		fmt.Fprintf(p.w, "[%d/%d] %s FAIL %s: %s (%s)\n", idx, total, key, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur))
	}
	p.lastPrinted = time.Now()

	// 最后一条完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.tickerStarted && p.done >= p.total {
		p.stopTickerLocked()
	}
}

func (p *progressUI) OnStageDone(rep domain.StageReport) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tickerStarted {
		p.stopTickerLocked()
	}
	fmt.Fprintf(p.w, "%s 结束: ok=%d failed=%d elapsed=%s\n\n", rep.Stage, rep.Summary.Succeeded, rep.Summary.Failed, formatElapsed(rep.Elapsed()))
	p.lastPrinted = time.Now()
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stop := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					active := p.workers
					if remain := p.total - p.done; remain < active {
						active = remain
					}
					fmt.Fprintf(p.w, "进度: %s done=%d/%d ok=%d fail=%d active=%d elapsed=%s\n",
						p.stage, p.done, p.total, p.ok, p.fail, active, formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (p *progressUI) stopTickerLocked() {
	close(p.stopCh)
	p.tickerStarted = false
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func formatMirror(m config.MirrorConfig) string {
	if m.Bucket == "" {
		return "off"
	}
	s := "s3://" + m.Bucket
	if p := strings.Trim(m.Prefix, "/"); p != "" {
		s += "/" + p
	}
	if m.Endpoint != "" {
		s += " endpoint=" + truncate(m.Endpoint, 80)
	}
	return s
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	suffix := "..."
	cut := max - 3
	if max <= 3 {
		suffix, cut = "", max
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func msDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
