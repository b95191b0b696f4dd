package publish

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// UploadError 表示发布接口返回了非 2xx。
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("publish endpoint status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Uploader 把 PDF 以 base64 形式 POST 到发布接口。
type Uploader struct {
	endpoint string
	secret   string
	client   *http.Client
}

// NewUploader 构造上传客户端；secret 非空时附带 x-api-key 头。
func NewUploader(endpoint, secret string, client *http.Client) (*Uploader, error) {
	if endpoint == "" {
		return nil, errors.New("publish endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Uploader{endpoint: endpoint, secret: secret, client: client}, nil
}

// Upload 发送一次发布请求。
func (u *Uploader) Upload(ctx context.Context, certificateID, filename string, pdf []byte) error {
	body, err := json.Marshal(Request{
		CertificateID: certificateID,
		Filename:      filename,
		ContentBase64: base64.StdEncoding.EncodeToString(pdf),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if u.secret != "" {
		req.Header.Set("x-api-key", u.secret)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish %s: %w", filename, err)
	}
	defer resp.Body.Close()
	text, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UploadError{StatusCode: resp.StatusCode, Body: string(text)}
	}
	return nil
}
