package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StageFetch     = "fetch"
	StageDownload  = "download"
	StageThumbnail = "thumbnail"
)

// Mode 决定阶段内条目的调度方式。
type Mode string

const (
	ModeSerial   Mode = "serial"
	ModeParallel Mode = "parallel"
)

// ParseMode 校验调度方式名称。
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeSerial, ModeParallel:
		return Mode(s), true
	default:
		return "", false
	}
}

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

const (
	ErrCodeMissingURL    = "missing_url"
	ErrCodeInvalidURL    = "invalid_url"
	ErrCodeInvalidRecord = "invalid_record"
	ErrCodeFetchFailed   = "fetch_failed"
	ErrCodeHTTPStatus    = "http_status"
	ErrCodeIOFailed      = "io_failed"
	ErrCodeDecodeFailed  = "decode_failed"
	ErrCodeEncodeFailed  = "encode_failed"
	ErrCodeMirrorFailed  = "mirror_failed"
)

// StageReport 是 download/thumbnail 阶段的对外稳定输出。
type StageReport struct {
	Stage   string `json:"stage"`
	Mode    Mode   `json:"mode"`
	Workers int    `json:"workers"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	ElapsedMS  int64     `json:"elapsed_ms"`

	Summary StageSummary `json:"summary"`
	Items   []ItemResult `json:"items"`
}

type StageSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type ItemResult struct {
	// ID 是记录标识；thumbnail 阶段为源文件的相对路径。
	ID     string `json:"id"`
	Source string `json:"source"`
	Output string `json:"output"`
	Bytes  int64  `json:"bytes"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	DurationMS int64 `json:"duration_ms"`
}

// Elapsed 返回阶段耗时。
func (r StageReport) Elapsed() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Finalize 做三件事：
// 1) 时间统一为 UTC，并计算 elapsed_ms
// 2) items 稳定排序：按 id 字典序；id=="" 的条目排在最后
// 3) summary 由 items 计算得出
func (r *StageReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	r.ElapsedMS = r.Elapsed().Milliseconds()

	sort.SliceStable(r.Items, func(i, j int) bool {
		a := r.Items[i].ID
		b := r.Items[j].ID
		if a == "" {
			return false
		}
		if b == "" {
			return true
		}
		return a < b
	})

	s := StageSummary{Total: len(r.Items)}
	for _, it := range r.Items {
		switch it.Status {
		case StatusOK:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// FetchResult 描述一次成功的 fetch（失败的 fetch 只返回 error）。
type FetchResult struct {
	Source     string `json:"source"`
	Requested  int    `json:"requested"`
	PageSize   int    `json:"page_size"`
	Pages      int    `json:"pages"`
	ShortPages int    `json:"short_pages"`
	Records    int    `json:"records"`
	Output     string `json:"output"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	ElapsedMS  int64     `json:"elapsed_ms"`
}

// BenchReport 把同一阶段的串行与并行结果放在一起对比。
type BenchReport struct {
	Stage    string      `json:"stage"`
	Serial   StageReport `json:"serial"`
	Parallel StageReport `json:"parallel"`
	// Speedup = serial 耗时 / parallel 耗时；parallel 耗时为 0 时为 0。
	Speedup float64 `json:"speedup"`
}

// MarshalJSON 仅用于集中约束输出的稳定性（items 为空时输出 [] 而不是 null）。
func (r StageReport) MarshalJSON() ([]byte, error) {
	type Alias StageReport
	a := Alias(r)
	if a.Items == nil {
		a.Items = []ItemResult{}
	}
	return json.Marshal(a)
}
