package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/imgpipe/internal/domain"
)

func TestCLI_NoTTY_StdoutOnlyStageReportJSON(t *testing.T) {
	// 锁定对外契约：stdout 非 TTY 时只能输出一个 StageReport JSON（进度/摘要走 stderr）。
	data := t.TempDir()
	images := filepath.Join(data, "images")
	if err := os.MkdirAll(images, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 60, 40))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("编码失败：%v", err)
	}
	if err := os.WriteFile(filepath.Join(images, "a-regular.jpg"), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("写入图片失败：%v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("读取 cwd 失败：%v", err)
	}
	repoRoot := filepath.Clean(filepath.Join(wd, "..", ".."))

	cmd := exec.Command("go", "run", "./cmd/imgpipe", "thumbs", "--data", data, "--size", "30x30", "--mode", "serial")
	cmd.Dir = repoRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.Fatalf("命令执行失败：%v\nstderr=%s\nstdout=%s", err, stderr.String(), stdout.String())
	}

	var rep domain.StageReport
	if err := json.Unmarshal(stdout.Bytes(), &rep); err != nil {
		t.Fatalf("stdout 不是合法的 StageReport JSON：%v\nstdout=%q", err, stdout.String())
	}
	if rep.Stage != domain.StageThumbnail || rep.Summary.Succeeded != 1 {
		t.Fatalf("report 不符合预期：%+v", rep)
	}
	if strings.Contains(stdout.String(), "配置（生效）") || strings.Contains(stdout.String(), "进度:") {
		t.Fatalf("stdout 不应包含进度/配置输出：%q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "完成：total=1 ok=1 failed=0") {
		t.Fatalf("stderr 缺少完成摘要：%q", stderr.String())
	}
	if _, err := os.Stat(filepath.Join(data, "thumbnails", "a-regular.jpg")); err != nil {
		t.Fatalf("缩略图未生成：%v", err)
	}
}
