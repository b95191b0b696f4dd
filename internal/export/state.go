package export

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// State 是表单状态的 JSON 导出形态，字段名与前端保持一致。
type State struct {
	RecipientName    string  `json:"recipientName"`
	CourseTitle      string  `json:"courseTitle"`
	IssuerName       string  `json:"issuerName"`
	InstructorName   string  `json:"instructorName"`
	InstructorTitle  string  `json:"instructorTitle"`
	StartDate        string  `json:"startDate"`
	CompletionDate   string  `json:"completionDate"`
	Accent           string  `json:"accent"`
	BorderStyle      string  `json:"borderStyle"`
	CertificateID    string  `json:"certificateId"`
	VerifyURL        string  `json:"verifyUrl"`
	LogoDataURL      *string `json:"logoDataUrl"`
	SignatureDataURL *string `json:"signatureDataUrl"`
}

// NewCertificateID 生成 CERT-YYYYMMDD-XXXXX 形式的编号，后缀取自随机 UUID。
func NewCertificateID(now time.Time) string {
	raw := uuid.New()
	suffix := make([]byte, 5)
	for i := range suffix {
		suffix[i] = idAlphabet[int(raw[i])%len(idAlphabet)]
	}
	return fmt.Sprintf("CERT-%s-%s", now.Format("20060102"), suffix)
}

// DefaultVerifyBase 是未配置 VerifyBaseURL 时的校验页地址。
func DefaultVerifyBase(origin, scope string) string {
	return strings.TrimRight(origin, "/") + scope + "verify"
}

// VerifyURL 返回 <base>?cid=<id>。
func VerifyURL(base, certificateID string) string {
	return base + "?cid=" + url.QueryEscape(certificateID)
}

// PDFPublicURL 是发布后 PDF 在站点上的公开地址。
func PDFPublicURL(origin, scope, certificateID string) string {
	return strings.TrimRight(origin, "/") + scope + "certs/" + url.PathEscape(certificateID) + ".pdf"
}

var whitespace = regexp.MustCompile(`\s+`)

// Filename 返回建议的下载文件名，例如 Certificate-Arun_M.pdf。
func Filename(recipient string, format Format) string {
	return fmt.Sprintf("Certificate-%s.%s", whitespace.ReplaceAllString(recipient, "_"), format.Ext())
}
