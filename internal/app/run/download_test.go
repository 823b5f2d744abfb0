package run

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/imgpipe/internal/domain"
)

// imageServer 对 /img/<name> 返回确定的字节；/missing/* 返回 404。
func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/img/"):
			name := strings.TrimPrefix(r.URL.Path, "/img/")
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(imageBody(name))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func imageBody(name string) []byte {
	// 包含 0x00/0xff 等字节，确保不是文本。
	var b bytes.Buffer
	for i := 0; i < 4096; i++ {
		b.WriteByte(byte((i * 31) ^ len(name)))
	}
	b.WriteString(name)
	return b.Bytes()
}

func record(t *testing.T, id string, urls map[domain.Quality]string) domain.ImageRecord {
	t.Helper()
	r, err := domain.NewRecord(id, urls, map[string]any{"width": 100})
	if err != nil {
		t.Fatalf("构造记录失败：%v", err)
	}
	return r
}

func fiveRecordsOneMissing(t *testing.T, base string) domain.Collection {
	t.Helper()
	var c domain.Collection
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("img%d", i)
		u := base + "/img/" + id
		if i == 2 {
			u = base + "/missing/" + id
		}
		c = append(c, record(t, id, map[domain.Quality]string{domain.QualityRegular: u}))
	}
	return c
}

func TestDownload_OneNotFound(t *testing.T) {
	for _, mode := range []domain.Mode{domain.ModeSerial, domain.ModeParallel} {
		t.Run(string(mode), func(t *testing.T) {
			srv := imageServer(t)
			dir := filepath.Join(t.TempDir(), "images")

			rep := Download(context.Background(), DownloadOptions{
				Records:   fiveRecordsOneMissing(t, srv.URL),
				Quality:   domain.QualityRegular,
				ImagesDir: dir,
				Mode:      mode,
				Workers:   3,
				Client:    srv.Client(),
			}, nil)

			if rep.Summary.Total != 5 || rep.Summary.Succeeded != 4 || rep.Summary.Failed != 1 {
				t.Fatalf("summary 不符合预期：%+v", rep.Summary)
			}
			files := readTree(t, dir)
			if len(files) != 4 {
				t.Fatalf("期望 4 个文件，实际 %d：%v", len(files), files)
			}
			it, ok := itemByID(rep, "img2")
			if !ok || it.Status != domain.StatusFailed || it.ErrorCode != domain.ErrCodeHTTPStatus {
				t.Fatalf("img2 应以 http_status 失败：%+v", it)
			}
			if _, err := os.Stat(filepath.Join(dir, "img2-regular.jpg")); !os.IsNotExist(err) {
				t.Fatalf("失败条目不应产生文件，Stat err=%v", err)
			}
		})
	}
}

func TestDownload_ByteFidelity(t *testing.T) {
	srv := imageServer(t)
	dir := t.TempDir()

	rep := Download(context.Background(), DownloadOptions{
		Records:   domain.Collection{record(t, "abc_1", map[domain.Quality]string{domain.QualitySmall: srv.URL + "/img/abc_1"})},
		Quality:   domain.QualitySmall,
		ImagesDir: dir,
		Mode:      domain.ModeParallel,
		Client:    srv.Client(),
	}, nil)

	if rep.Summary.Succeeded != 1 {
		t.Fatalf("期望成功：%+v", rep.Items)
	}
	got, err := os.ReadFile(filepath.Join(dir, "abc_1-small.jpg"))
	if err != nil {
		t.Fatalf("读取结果失败：%v", err)
	}
	if !bytes.Equal(got, imageBody("abc_1")) {
		t.Fatalf("文件内容应与响应 body 逐字节一致")
	}
	if rep.Items[0].Bytes != int64(len(got)) {
		t.Fatalf("bytes 字段不符合预期：%d", rep.Items[0].Bytes)
	}
}

func TestDownload_SerialAndParallelProduceSameFiles(t *testing.T) {
	srv := imageServer(t)
	recs := fiveRecordsOneMissing(t, srv.URL)

	serialDir := t.TempDir()
	parallelDir := t.TempDir()

	a := Download(context.Background(), DownloadOptions{Records: recs, ImagesDir: serialDir, Mode: domain.ModeSerial, Client: srv.Client()}, nil)
	b := Download(context.Background(), DownloadOptions{Records: recs, ImagesDir: parallelDir, Mode: domain.ModeParallel, Workers: 4, Client: srv.Client()}, nil)

	if a.Summary != b.Summary {
		t.Fatalf("summary 应一致：serial=%+v parallel=%+v", a.Summary, b.Summary)
	}
	if a.Workers != 1 || b.Workers != 4 {
		t.Fatalf("workers 不符合预期：serial=%d parallel=%d", a.Workers, b.Workers)
	}

	sa := readTree(t, serialDir)
	sb := readTree(t, parallelDir)
	if len(sa) != len(sb) {
		t.Fatalf("文件集合不一致：%d vs %d", len(sa), len(sb))
	}
	for name, content := range sa {
		if !bytes.Equal(content, sb[name]) {
			t.Fatalf("%s 内容不一致", name)
		}
	}
}

func TestDownload_InvalidRecordsCountedOnce(t *testing.T) {
	srv := imageServer(t)

	noID := domain.ImageRecord{"urls": json.RawMessage(`{"regular":"` + srv.URL + `/img/x"}`)}
	badScheme := record(t, "bad1", map[domain.Quality]string{domain.QualityRegular: "ftp://example.test/a.jpg"})
	unparsable := record(t, "bad2", map[domain.Quality]string{domain.QualityRegular: "http://[::1"})
	noTier := record(t, "bad3", map[domain.Quality]string{domain.QualityRaw: srv.URL + "/img/bad3"})
	good := record(t, "good", map[domain.Quality]string{domain.QualityRegular: srv.URL + "/img/good"})

	rep := Download(context.Background(), DownloadOptions{
		Records:   domain.Collection{noID, badScheme, unparsable, noTier, good},
		ImagesDir: t.TempDir(),
		Mode:      domain.ModeParallel,
		Workers:   2,
		Client:    srv.Client(),
	}, nil)

	if rep.Summary.Total != 5 || rep.Summary.Failed != 4 || rep.Summary.Succeeded != 1 {
		t.Fatalf("每条坏记录只应计一次失败：%+v", rep.Summary)
	}

	want := map[string]string{
		"bad1": domain.ErrCodeInvalidURL,
		"bad2": domain.ErrCodeInvalidURL,
		"bad3": domain.ErrCodeMissingURL,
	}
	for id, code := range want {
		it, ok := itemByID(rep, id)
		if !ok || it.ErrorCode != code {
			t.Fatalf("%s 期望 %s，实际 %+v", id, code, it)
		}
	}
	// 缺少 id 的条目 ID 为空，排在最后。
	last := rep.Items[len(rep.Items)-1]
	if last.ID != "" || last.ErrorCode != domain.ErrCodeInvalidRecord || last.Source != "records[0]" {
		t.Fatalf("缺少 id 的条目不符合预期：%+v", last)
	}
}

func TestDownload_NetworkErrorIsFetchFailed(t *testing.T) {
	srv := imageServer(t)
	u := srv.URL + "/img/gone"
	srv.Close()

	rep := Download(context.Background(), DownloadOptions{
		Records:   domain.Collection{record(t, "gone", map[domain.Quality]string{domain.QualityRegular: u})},
		ImagesDir: t.TempDir(),
		Mode:      domain.ModeSerial,
		Client:    &http.Client{},
	}, nil)

	if rep.Summary.Failed != 1 || rep.Items[0].ErrorCode != domain.ErrCodeFetchFailed {
		t.Fatalf("期望 fetch_failed：%+v", rep.Items)
	}
}

func TestDownload_Mirror(t *testing.T) {
	srv := imageServer(t)
	recs := domain.Collection{record(t, "m1", map[domain.Quality]string{domain.QualityRegular: srv.URL + "/img/m1"})}

	ok := &memSink{}
	rep := Download(context.Background(), DownloadOptions{Records: recs, ImagesDir: t.TempDir(), Client: srv.Client(), Mirror: ok}, nil)
	if rep.Summary.Succeeded != 1 {
		t.Fatalf("期望成功：%+v", rep.Items)
	}
	if !bytes.Equal(ok.puts["download/m1-regular.jpg"], imageBody("m1")) {
		t.Fatalf("镜像内容不符合预期：%v", ok.puts)
	}

	dir := t.TempDir()
	rep = Download(context.Background(), DownloadOptions{Records: recs, ImagesDir: dir, Client: srv.Client(), Mirror: &memSink{err: errMirror}}, nil)
	if rep.Summary.Failed != 1 || rep.Items[0].ErrorCode != domain.ErrCodeMirrorFailed {
		t.Fatalf("期望 mirror_failed：%+v", rep.Items)
	}
	if _, err := os.Stat(filepath.Join(dir, "m1-regular.jpg")); err != nil {
		t.Fatalf("镜像失败时本地文件应保留：%v", err)
	}
}

func TestDownload_EmitsObserverEvents(t *testing.T) {
	srv := imageServer(t)
	obs := &recordObserver{}

	_ = Download(context.Background(), DownloadOptions{
		Records:   fiveRecordsOneMissing(t, srv.URL),
		ImagesDir: t.TempDir(),
		Mode:      domain.ModeParallel,
		Workers:   2,
		Client:    srv.Client(),
	}, obs)

	if len(obs.starts) != 1 || obs.starts[0] != "download/parallel" {
		t.Fatalf("OnStart 不符合预期：%v", obs.starts)
	}
	if len(obs.items) != 5 {
		t.Fatalf("期望 5 次 OnItemDone，实际 %d", len(obs.items))
	}
	if len(obs.done) != 1 || obs.done[0].Summary.Total != 5 {
		t.Fatalf("OnStageDone 不符合预期：%+v", obs.done)
	}
}

func TestDownload_NilClient(t *testing.T) {
	rep := Download(context.Background(), DownloadOptions{ImagesDir: t.TempDir()}, nil)
	if rep.Summary.Failed != 1 || rep.Items[0].ID != "" {
		t.Fatalf("期望一条合成失败：%+v", rep.Items)
	}
}
