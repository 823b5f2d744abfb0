package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/John-Robertt/imgpipe/internal/domain"
	"github.com/John-Robertt/imgpipe/internal/infra/fsx"
)

// WriteTemplate 在 cwd 下创建 imgpipe.json 与 .env 模板；已存在的文件保持不变。
// 返回实际新建的文件（绝对路径）。
func WriteTemplate(cwd string) ([]string, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return nil, err
	}

	fc := FileConfig{
		DataDir:     DefaultDataDir,
		Source:      DefaultSource,
		Count:       DefaultCount,
		PageSize:    DefaultPageSize,
		Quality:     string(domain.DefaultQuality),
		Mode:        string(domain.ModeParallel),
		ThumbWidth:  DefaultThumbWidth,
		ThumbHeight: DefaultThumbHeight,
	}
	cfg, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return nil, err
	}
	cfg = append(cfg, '\n')

	env, err := godotenv.Marshal(map[string]string{EnvAccessKey: "", EnvSecretKey: ""})
	if err != nil {
		return nil, err
	}

	files := []struct {
		name string
		data []byte
	}{
		{FileName, cfg},
		{EnvFile, []byte(env + "\n")},
	}

	created := make([]string, 0, len(files))
	for _, f := range files {
		p := filepath.Join(cwdAbs, f.name)
		if _, err := os.Stat(p); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return created, err
		}
		if err := fsx.WriteFileAtomic(cwdAbs, f.name, f.data); err != nil {
			return created, err
		}
		created = append(created, p)
	}
	return created, nil
}
