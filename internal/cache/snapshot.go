package cache

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
)

const snapshotPrefix = "CERTGEN-SNAPSHOT/1\n"

// ErrBadSnapshot 表示存储内容不是可识别的响应快照。
var ErrBadSnapshot = errors.New("invalid response snapshot")

// Snapshot 是一次响应的完整拷贝（状态码、头、正文），作为缓存条目的值。
type Snapshot struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Capture 读出响应正文生成快照，并把 resp.Body 换成内存副本，调用方仍可继续返回 resp。
func Capture(resp *http.Response) (*Snapshot, error) {
	var body []byte
	if resp.Body != nil {
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		body = data
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return &Snapshot{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// Encode 以 HTTP/1.1 报文格式序列化快照，前缀用于识别格式版本。
func (s *Snapshot) Encode() ([]byte, error) {
	header := s.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	resp := &http.Response{
		Status:        fmt.Sprintf("%d %s", s.StatusCode, http.StatusText(s.StatusCode)),
		StatusCode:    s.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
	}
	dump, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return nil, err
	}
	return append([]byte(snapshotPrefix), dump...), nil
}

// DecodeSnapshot 还原 Encode 写出的内容。
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	br := bufio.NewReader(r)
	prefix := make([]byte, len(snapshotPrefix))
	if _, err := io.ReadFull(br, prefix); err != nil || string(prefix) != snapshotPrefix {
		return nil, ErrBadSnapshot
	}
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	resp.Header.Del("Content-Length")
	return &Snapshot{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Response 基于快照构造一个新的 *http.Response，每次调用都拥有独立的 Body。
func (s *Snapshot) Response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.StatusCode, http.StatusText(s.StatusCode)),
		StatusCode:    s.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}
