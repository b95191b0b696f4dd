package export

import (
	"context"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"io"
)

// ErrFormatUnavailable 表示当前运行环境无法生成某种格式。
var ErrFormatUnavailable = errors.New("export: format unavailable")

const (
	// ScaleStandard 用于 PNG/JPEG/WEBP 与标准 PDF。
	ScaleStandard = 2.5
	// ScaleOptimized 用于体积更小的 PDF。
	ScaleOptimized = 1.8

	imageJPEGQuality = 90
	pdfJPEGQuality   = 82
)

// Rasterizer 把渲染好的证书容器按倍率栅格化。
type Rasterizer interface {
	Rasterize(ctx context.Context, scale float64) (image.Image, error)
}

// ImageEncoder 把位图编码为某种图片格式。
type ImageEncoder interface {
	Encode(w io.Writer, img image.Image) error
}

// PDFWriter 把一张已编码的图片铺满 A4 横版单页 PDF。
type PDFWriter interface {
	WritePage(w io.Writer, encoded []byte, mime string) error
}

// PNGEncoder 使用标准库编码 PNG。
type PNGEncoder struct{}

func (PNGEncoder) Encode(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

// JPEGEncoder 使用标准库编码 JPEG，Quality 取值 1-100。
type JPEGEncoder struct {
	Quality int
}

func (e JPEGEncoder) Encode(w io.Writer, img image.Image) error {
	quality := e.Quality
	if quality <= 0 {
		quality = jpeg.DefaultQuality
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}
