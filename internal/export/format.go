package export

// Format 是导出产物的类型标识。
type Format string

const (
	FormatPDFStandard  Format = "pdf-standard"
	FormatPDFOptimized Format = "pdf-optimized"
	FormatPNG          Format = "png"
	FormatJPEG         Format = "jpeg"
	FormatWEBP         Format = "webp"
	FormatHTML         Format = "html"
	FormatJSON         Format = "json"
)

// Formats 按下载菜单的顺序列出全部格式。
var Formats = []Format{
	FormatPDFStandard,
	FormatPDFOptimized,
	FormatPNG,
	FormatJPEG,
	FormatWEBP,
	FormatHTML,
	FormatJSON,
}

// Ext 返回下载文件扩展名。
func (f Format) Ext() string {
	switch f {
	case FormatPDFStandard, FormatPDFOptimized:
		return "pdf"
	case FormatJPEG:
		return "jpg"
	default:
		return string(f)
	}
}

// MIME 返回产物的内容类型。
func (f Format) MIME() string {
	switch f {
	case FormatPDFStandard, FormatPDFOptimized:
		return "application/pdf"
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatWEBP:
		return "image/webp"
	case FormatHTML:
		return "text/html"
	case FormatJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
