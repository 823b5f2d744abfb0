// Package metadata 负责 ImageRecordCollection 的落盘与读取。
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/imgpipe/internal/domain"
	"github.com/John-Robertt/imgpipe/internal/infra/fsx"
)

// Save 把 collection 编码为缩进 JSON 数组，原子替换 path。
func Save(path string, c domain.Collection) error {
	if c == nil {
		c = domain.Collection{}
	}
	b, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomic(filepath.Dir(path), filepath.Base(path), b)
}

// Load 读取单个 JSON 数组文件。
func Load(path string) (domain.Collection, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c domain.Collection
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("解析 %q 失败：%w", path, err)
	}
	if c == nil {
		c = domain.Collection{}
	}
	return c, nil
}

// LoadDir 按文件名字典序读取 dir 下全部 *.json 并拼接成一个 collection。
// 以 '.' 开头的文件（包括原子写入的临时文件）会被忽略。
func LoadDir(dir string) (domain.Collection, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := domain.Collection{}
	for _, name := range names {
		c, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, c...)
	}
	return out, nil
}
