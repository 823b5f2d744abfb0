package run

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/John-Robertt/imgpipe/internal/domain"
)

type recordObserver struct {
	mu sync.Mutex

	starts []string
	items  []string
	done   []domain.StageReport
}

func (o *recordObserver) OnStart(stage string, mode domain.Mode, workers, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts = append(o.starts, stage+"/"+string(mode))
}

func (o *recordObserver) OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, res.ID)
}

func (o *recordObserver) OnStageDone(rep domain.StageReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done = append(o.done, rep)
}

type memSink struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func (s *memSink) Put(ctx context.Context, stage, name string, data []byte) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.puts == nil {
		s.puts = map[string][]byte{}
	}
	s.puts[stage+"/"+name] = append([]byte(nil), data...)
	return nil
}

var errMirror = errors.New("mirror down")

func makeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("编码 JPEG 失败：%v", err)
	}
	return buf.Bytes()
}

func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 251)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("编码 PNG 失败：%v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}

// readTree 返回 dir 下所有普通文件：相对路径 -> 内容。
func readTree(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	out := map[string][]byte{}
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = b
		return nil
	})
	if err != nil {
		t.Fatalf("遍历 %s 失败：%v", dir, err)
	}
	return out
}

func itemByID(rep domain.StageReport, id string) (domain.ItemResult, bool) {
	for _, it := range rep.Items {
		if it.ID == id {
			return it, true
		}
	}
	return domain.ItemResult{}, false
}
