package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/certgen/certgen/internal/logging"
)

const htmlHead = `<!doctype html><html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>Certificate</title><style>html,body{margin:0;padding:0;background:#fff}</style></head><body>`

// Publisher 把标准 PDF 提交到发布接口，publish.Uploader 是生产实现。
type Publisher interface {
	Upload(ctx context.Context, certificateID, filename string, pdf []byte) error
}

// Options 配置导出管线。WEBP 与 PDF 为空时对应格式标记为不可用。
type Options struct {
	Rasterizer  Rasterizer
	WEBP        ImageEncoder
	PDF         PDFWriter
	Publisher   Publisher
	AutoPublish bool
	Logger      *logrus.Logger
}

// Pipeline 协调栅格化、编码与可选的自动发布。
type Pipeline struct {
	rasterizer  Rasterizer
	webp        ImageEncoder
	pdf         PDFWriter
	publisher   Publisher
	autoPublish bool
	logger      *logrus.Logger
}

// Artifact 是单个导出产物。
type Artifact struct {
	Format   Format
	Filename string
	Bytes    []byte
}

// MIME 返回内容类型。
func (a *Artifact) MIME() string { return a.Format.MIME() }

// Size 返回字节数。
func (a *Artifact) Size() int64 { return int64(len(a.Bytes)) }

// SizeLabel 返回人类可读的大小。
func (a *Artifact) SizeLabel() string { return FormatBytes(a.Size()) }

// Bundle 汇总一次导出的全部产物。
type Bundle struct {
	CertificateID string
	Artifacts     map[Format]*Artifact
	Unavailable   []Format
	Published     bool
	PublishErr    error
}

// Get 返回指定格式的产物。
func (b *Bundle) Get(f Format) (*Artifact, bool) {
	a, ok := b.Artifacts[f]
	return a, ok
}

// SizeLabel 返回菜单里展示的大小，不可用的格式显示 N/A。
func (b *Bundle) SizeLabel(f Format) string {
	if a, ok := b.Artifacts[f]; ok {
		return a.SizeLabel()
	}
	return "N/A"
}

// NewPipeline 构造导出管线。
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Rasterizer == nil {
		return nil, errors.New("export: rasterizer is required")
	}
	if opts.AutoPublish && opts.Publisher == nil {
		return nil, errors.New("export: auto publish requires a publisher")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pipeline{
		rasterizer:  opts.Rasterizer,
		webp:        opts.WEBP,
		pdf:         opts.PDF,
		publisher:   opts.Publisher,
		autoPublish: opts.AutoPublish,
		logger:      logger,
	}, nil
}

// HTMLDocument 把证书容器的 outerHTML 包装成独立文档。
func HTMLDocument(markup string) []byte {
	return []byte(htmlHead + markup + "</body></html>")
}

// Export 生成全部格式。栅格化或 PNG/JPEG 编码失败时整体失败；
// WEBP 与 PDF 不可用只会记录在 Bundle.Unavailable 中。
func (p *Pipeline) Export(ctx context.Context, state State, markup string) (*Bundle, error) {
	if state.CertificateID == "" {
		return nil, errors.New("export: certificate id is required")
	}

	var standard, optimized image.Image
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		standard, err = p.rasterize(gctx, ScaleStandard)
		return err
	})
	g.Go(func() (err error) {
		optimized, err = p.rasterize(gctx, ScaleOptimized)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		pngBytes, jpegBytes, webpBytes []byte
		pdfStd, pdfOpt                 []byte
		webpErr, pdfStdErr, pdfOptErr  error
	)
	g = new(errgroup.Group)
	g.Go(func() (err error) {
		pngBytes, err = encode(PNGEncoder{}, standard)
		if err != nil {
			return fmt.Errorf("encode png: %w", err)
		}
		pdfStd, pdfStdErr = p.page(pngBytes, FormatPNG.MIME())
		return nil
	})
	g.Go(func() (err error) {
		jpegBytes, err = encode(JPEGEncoder{Quality: imageJPEGQuality}, standard)
		if err != nil {
			return fmt.Errorf("encode jpeg: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if p.webp == nil {
			webpErr = ErrFormatUnavailable
			return nil
		}
		webpBytes, webpErr = encode(p.webp, standard)
		return nil
	})
	g.Go(func() (err error) {
		optJPEG, err := encode(JPEGEncoder{Quality: pdfJPEGQuality}, optimized)
		if err != nil {
			return fmt.Errorf("encode optimized jpeg: %w", err)
		}
		pdfOpt, pdfOptErr = p.page(optJPEG, FormatJPEG.MIME())
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stateJSON, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}

	bundle := &Bundle{
		CertificateID: state.CertificateID,
		Artifacts:     make(map[Format]*Artifact, len(Formats)),
	}
	results := map[Format]struct {
		data []byte
		err  error
	}{
		FormatPDFStandard:  {pdfStd, pdfStdErr},
		FormatPDFOptimized: {pdfOpt, pdfOptErr},
		FormatPNG:          {pngBytes, nil},
		FormatJPEG:         {jpegBytes, nil},
		FormatWEBP:         {webpBytes, webpErr},
		FormatHTML:         {HTMLDocument(markup), nil},
		FormatJSON:         {stateJSON, nil},
	}
	for _, f := range Formats {
		res := results[f]
		if res.err != nil {
			p.logger.WithFields(logrus.Fields{
				"action":         "export",
				"format":         string(f),
				"certificate_id": state.CertificateID,
			}).WithError(res.err).Debug("export_format_unavailable")
			bundle.Unavailable = append(bundle.Unavailable, f)
			continue
		}
		bundle.Artifacts[f] = &Artifact{
			Format:   f,
			Filename: Filename(state.RecipientName, f),
			Bytes:    res.data,
		}
	}

	if p.autoPublish {
		p.publish(ctx, bundle)
	}
	return bundle, nil
}

func (p *Pipeline) rasterize(ctx context.Context, scale float64) (image.Image, error) {
	img, err := p.rasterizer.Rasterize(ctx, scale)
	if err != nil {
		return nil, fmt.Errorf("rasterize at %.1fx: %w", scale, err)
	}
	if img == nil {
		return nil, fmt.Errorf("rasterize at %.1fx: empty image", scale)
	}
	return img, nil
}

func (p *Pipeline) page(encoded []byte, mime string) ([]byte, error) {
	if p.pdf == nil {
		return nil, ErrFormatUnavailable
	}
	var buf bytes.Buffer
	if err := p.pdf.WritePage(&buf, encoded, mime); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// publish 失败只记录在 Bundle 上，导出结果依然可用。
func (p *Pipeline) publish(ctx context.Context, bundle *Bundle) {
	fields := logrus.Fields{"action": "export_publish", "certificate_id": bundle.CertificateID}
	pdf, ok := bundle.Get(FormatPDFStandard)
	if !ok {
		bundle.PublishErr = fmt.Errorf("%s: %w", FormatPDFStandard, ErrFormatUnavailable)
		p.logger.WithFields(fields).Warn("export_publish_skipped")
		return
	}
	if err := p.publisher.Upload(ctx, bundle.CertificateID, bundle.CertificateID+".pdf", pdf.Bytes); err != nil {
		bundle.PublishErr = err
		p.logger.WithFields(fields).WithError(err).Warn("export_publish_failed")
		return
	}
	bundle.Published = true
	p.logger.WithFields(fields).Info("export_publish_complete")
}

func encode(enc ImageEncoder, img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
