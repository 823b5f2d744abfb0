package scan

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// ImageFile 是 images 目录下的一个待处理文件。
type ImageFile struct {
	AbsPath string
	// RelPath 相对扫描根目录；缩略图按同一相对路径写入 thumbnails 目录。
	RelPath string
	Size    int64
}

// ScanImages 扫描 root 下的图片文件，并应用目录排除规则。
//
// 规则：
// - excludeDirs 若是相对路径，则相对 root；通常传入 thumbnails 目录，避免把产物当输入
// - 以 '.' 开头的文件/目录一律跳过（包括原子写入的临时文件）
// - 只按扩展名筛选，不读文件内容；损坏文件由 resize 阶段识别
func ScanImages(root string, excludeDirs []string) ([]ImageFile, error) {
	root = filepath.Clean(root)
	excluded := buildExcluded(root, excludeDirs)

	files := make([]ImageFile, 0, 128)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if path != root && (strings.HasPrefix(d.Name(), ".") || isExcluded(path, excluded)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !isImageExt(strings.ToLower(filepath.Ext(d.Name()))) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, ImageFile{
			AbsPath: path,
			RelPath: rel,
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 强制稳定输出，避免不同平台/文件系统行为差异带来的不确定性。
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif":
		return true
	default:
		return false
	}
}

func buildExcluded(root string, excludeDirs []string) []string {
	excluded := make([]string, 0, len(excludeDirs))
	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if filepath.IsAbs(x) {
			excluded = append(excluded, filepath.Clean(x))
			continue
		}
		excluded = append(excluded, filepath.Clean(filepath.Join(root, x)))
	}
	sort.Strings(excluded)
	return excluded
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if isUnder(path, base) {
			return true
		}
	}
	return false
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(filepath.Separator))
}
