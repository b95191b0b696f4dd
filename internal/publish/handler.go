package publish

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/certgen/certgen/internal/logging"
)

// Request 是上传接口的请求体。
type Request struct {
	CertificateID string `json:"certificateId"`
	Filename      string `json:"filename"`
	ContentBase64 string `json:"contentBase64"`
}

// Committer 把 base64 内容提交到仓库路径，GitHubClient 是生产实现。
type Committer interface {
	Upsert(ctx context.Context, path, message, contentBase64 string) error
}

// StatusRecorder 记录每次请求的响应码。
type StatusRecorder interface {
	Publish(status int)
}

// HandlerOptions 配置发布接口。
type HandlerOptions struct {
	Committer Committer
	APIKey    string
	TargetDir string
	Logger    *logrus.Logger
	Recorder  StatusRecorder
}

// Handler 实现 POST 上传接口：鉴权、校验、提交，并始终附带 CORS 头。
type Handler struct {
	committer Committer
	apiKey    string
	targetDir string
	logger    *logrus.Logger
	recorder  StatusRecorder
}

// NewHandler 构造发布接口。
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Committer == nil {
		return nil, errors.New("committer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	targetDir := strings.Trim(opts.TargetDir, "/")
	if targetDir == "" {
		targetDir = "public/certs"
	}
	return &Handler{
		committer: opts.Committer,
		apiKey:    opts.APIKey,
		targetDir: targetDir,
		logger:    logger,
		recorder:  opts.Recorder,
	}, nil
}

// CommitMessage 生成提交说明。
func CommitMessage(filename, certificateID string) string {
	return fmt.Sprintf("chore(cert): publish %s for %s", filename, certificateID)
}

// Handle 是 Fiber handler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	origin := c.Get(fiber.HeaderOrigin)
	if origin == "" {
		origin = "*"
	}
	c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
	c.Set(fiber.HeaderAccessControlAllowMethods, "POST, OPTIONS")
	c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type, x-api-key")
	if origin != "*" {
		c.Set(fiber.HeaderVary, fiber.HeaderOrigin)
	}

	switch c.Method() {
	case fiber.MethodOptions:
		return h.reply(c, fiber.StatusNoContent, "", nil, started)
	case fiber.MethodPost:
	default:
		return h.reply(c, fiber.StatusMethodNotAllowed, "Method Not Allowed", nil, started)
	}

	if h.apiKey != "" && subtle.ConstantTimeCompare([]byte(c.Get("x-api-key")), []byte(h.apiKey)) != 1 {
		return h.reply(c, fiber.StatusUnauthorized, "Unauthorized", nil, started)
	}

	var payload Request
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return h.reply(c, fiber.StatusBadRequest, "Missing fields", nil, started)
	}
	if payload.CertificateID == "" || payload.Filename == "" || payload.ContentBase64 == "" {
		return h.reply(c, fiber.StatusBadRequest, "Missing fields", &payload, started)
	}
	if !validFilename(payload.Filename) {
		return h.reply(c, fiber.StatusBadRequest, "Invalid filename", &payload, started)
	}

	path := h.targetDir + "/" + payload.Filename
	err := h.committer.Upsert(c.Context(), path, CommitMessage(payload.Filename, payload.CertificateID), payload.ContentBase64)
	if err != nil {
		if apiErr, ok := IsAPIError(err); ok {
			text := apiErr.Body
			if text == "" {
				text = "GitHub API error"
			}
			return h.replyErr(c, apiErr.StatusCode, text, &payload, started, err)
		}
		return h.replyErr(c, fiber.StatusInternalServerError, "Server Error", &payload, started, err)
	}
	return h.reply(c, fiber.StatusOK, "OK", &payload, started)
}

// validFilename 只允许单层文件名，避免写到目标目录之外。
func validFilename(name string) bool {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return strings.TrimSpace(name) == name
}

func (h *Handler) reply(c fiber.Ctx, status int, text string, payload *Request, started time.Time) error {
	return h.replyErr(c, status, text, payload, started, nil)
}

func (h *Handler) replyErr(c fiber.Ctx, status int, text string, payload *Request, started time.Time, err error) error {
	if h.recorder != nil {
		h.recorder.Publish(status)
	}
	if status != fiber.StatusNoContent {
		fields := logrus.Fields{
			"action":     "publish",
			"status":     status,
			"elapsed_ms": time.Since(started).Milliseconds(),
		}
		if payload != nil {
			fields["certificate_id"] = payload.CertificateID
			fields["filename"] = payload.Filename
		}
		entry := h.logger.WithFields(fields)
		switch {
		case err != nil:
			entry.WithError(err).Warn("publish_failed")
		case status >= 400:
			entry.Info("publish_rejected")
		default:
			entry.Info("publish_complete")
		}
	}
	if text == "" {
		return c.SendStatus(status)
	}
	return c.Status(status).SendString(text)
}
