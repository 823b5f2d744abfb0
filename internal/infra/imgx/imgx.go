package imgx

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// JPEGQuality 是缩略图 JPEG 编码质量（固定值，保证重复运行输出字节一致）。
const JPEGQuality = 85

// DecodeError 表示输入不是可识别的图片（损坏/截断/格式不支持）。
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "图片解码失败：" + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

func IsDecode(err error) bool {
	var e *DecodeError
	return errors.As(err, &e)
}

// FitSize 计算把 srcW x srcH 放进 boxW x boxH 的目标尺寸。
//
// 规则：
// - 保持宽高比；受限的那一边恰好等于对应边界（允许放大）
// - 另一边按四舍五入取整，且至少为 1
func FitSize(srcW, srcH, boxW, boxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 || boxW <= 0 || boxH <= 0 {
		return 0, 0
	}
	// boxW/srcW <= boxH/srcH 等价于 boxW*srcH <= boxH*srcW（避免浮点误差）。
	if boxW*srcH <= boxH*srcW {
		h := (srcH*boxW*2 + srcW) / (2 * srcW)
		if h < 1 {
			h = 1
		}
		return boxW, h
	}
	w := (srcW*boxH*2 + srcH) / (2 * srcH)
	if w < 1 {
		w = 1
	}
	return w, boxH
}

// Thumbnail 把 src 缩放进 boxW x boxH，并按 name 的扩展名编码（未知扩展名回退 JPEG）。
//
// 约束：
// - 输入允许 JPEG/PNG/GIF（按内容识别，不看扩展名）；EXIF 方向会被应用
// - 缩放使用 Lanczos，结果确定：相同输入 => 相同输出字节
func Thumbnail(src []byte, name string, boxW, boxH int) ([]byte, image.Point, error) {
	if len(src) == 0 {
		return nil, image.Point{}, &DecodeError{Err: errors.New("输入为空")}
	}
	if boxW <= 0 || boxH <= 0 {
		return nil, image.Point{}, fmt.Errorf("缩略图尺寸无效：%dx%d", boxW, boxH)
	}

	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, image.Point{}, &DecodeError{Err: err}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, image.Point{}, &DecodeError{Err: errors.New("图片尺寸无效")}
	}

	w, h := FitSize(b.Dx(), b.Dy(), boxW, boxH)
	dst := imaging.Resize(img, w, h, imaging.Lanczos)

	format, err := imaging.FormatFromFilename(name)
	if err != nil {
		format = imaging.JPEG
	}

	var out bytes.Buffer
	if err := imaging.Encode(&out, dst, format, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return nil, image.Point{}, err
	}
	return out.Bytes(), image.Pt(w, h), nil
}
