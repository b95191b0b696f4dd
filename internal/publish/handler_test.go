package publish

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommitter struct {
	path    string
	message string
	content string
	err     error
	calls   int
}

func (f *fakeCommitter) Upsert(_ context.Context, path, message, content string) error {
	f.calls++
	f.path, f.message, f.content = path, message, content
	return f.err
}

func newPublishApp(t *testing.T, committer Committer, apiKey string) *fiber.App {
	t.Helper()
	h, err := NewHandler(HandlerOptions{Committer: committer, APIKey: apiKey})
	require.NoError(t, err)
	app := fiber.New()
	app.All("/api/upload-cert", h.Handle)
	return app
}

func doPublish(t *testing.T, app *fiber.App, method, body string, headers map[string]string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(method, "/api/upload-cert", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, string(data)
}

const validBody = `{"certificateId":"CERT-20261014-AB12C","filename":"CERT-20261014-AB12C.pdf","contentBase64":"JVBERi0="}`

func TestPublishSuccess(t *testing.T) {
	committer := &fakeCommitter{}
	app := newPublishApp(t, committer, "")

	resp, body := doPublish(t, app, http.MethodPost, validBody, map[string]string{"Origin": "https://certs.example.com"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)
	assert.Equal(t, "https://certs.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, x-api-key", resp.Header.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "public/certs/CERT-20261014-AB12C.pdf", committer.path)
	assert.Equal(t, "chore(cert): publish CERT-20261014-AB12C.pdf for CERT-20261014-AB12C", committer.message)
	assert.Equal(t, "JVBERi0=", committer.content)
}

func TestPublishWildcardOriginWithoutHeader(t *testing.T) {
	app := newPublishApp(t, &fakeCommitter{}, "")
	resp, _ := doPublish(t, app, http.MethodPost, validBody, nil)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestPublishPreflight(t *testing.T) {
	committer := &fakeCommitter{}
	app := newPublishApp(t, committer, "secret")
	resp, _ := doPublish(t, app, http.MethodOptions, "", map[string]string{"Origin": "https://certs.example.com"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://certs.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Zero(t, committer.calls)
}

func TestPublishRejectsOtherMethods(t *testing.T) {
	app := newPublishApp(t, &fakeCommitter{}, "")
	resp, body := doPublish(t, app, http.MethodGet, "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "Method Not Allowed", body)
}

func TestPublishRequiresAPIKey(t *testing.T) {
	committer := &fakeCommitter{}
	app := newPublishApp(t, committer, "secret")

	resp, body := doPublish(t, app, http.MethodPost, validBody, map[string]string{"x-api-key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Unauthorized", body)
	assert.Zero(t, committer.calls)

	resp, _ = doPublish(t, app, http.MethodPost, validBody, map[string]string{"x-api-key": "secret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPublishValidatesBody(t *testing.T) {
	cases := map[string]struct {
		body   string
		status int
		text   string
	}{
		"missing id":    {`{"filename":"a.pdf","contentBase64":"eA=="}`, http.StatusBadRequest, "Missing fields"},
		"empty content": {`{"certificateId":"C","filename":"a.pdf","contentBase64":""}`, http.StatusBadRequest, "Missing fields"},
		"malformed":     {`{not json`, http.StatusBadRequest, "Missing fields"},
		"traversal":     {`{"certificateId":"C","filename":"../../etc/passwd","contentBase64":"eA=="}`, http.StatusBadRequest, "Invalid filename"},
		"nested":        {`{"certificateId":"C","filename":"sub/a.pdf","contentBase64":"eA=="}`, http.StatusBadRequest, "Invalid filename"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			committer := &fakeCommitter{}
			app := newPublishApp(t, committer, "")
			resp, body := doPublish(t, app, http.MethodPost, tc.body, nil)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.text, body)
			assert.Zero(t, committer.calls)
		})
	}
}

func TestPublishPassesThroughUpstreamStatus(t *testing.T) {
	app := newPublishApp(t, &fakeCommitter{err: &APIError{StatusCode: http.StatusUnprocessableEntity, Body: `{"message":"Invalid request"}`}}, "")
	resp, body := doPublish(t, app, http.MethodPost, validBody, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, `{"message":"Invalid request"}`, body)

	app = newPublishApp(t, &fakeCommitter{err: &APIError{StatusCode: http.StatusForbidden}}, "")
	resp, body = doPublish(t, app, http.MethodPost, validBody, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "GitHub API error", body)
}

func TestPublishUnexpectedFailure(t *testing.T) {
	app := newPublishApp(t, &fakeCommitter{err: errors.New("connection reset")}, "")
	resp, body := doPublish(t, app, http.MethodPost, validBody, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Server Error", body)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"), "CORS headers accompany every response")
}

func TestPublishEndToEndWithGitHub(t *testing.T) {
	client, mock := newMockedClient(t)
	mock.RegisterResponderWithQuery(http.MethodGet, contentsURL, "ref=main", httpmock.NewStringResponder(http.StatusOK, `{"sha":"prior-sha"}`))
	var putBody string
	mock.RegisterResponder(http.MethodPut, contentsURL, func(req *http.Request) (*http.Response, error) {
		data, _ := io.ReadAll(req.Body)
		putBody = string(data)
		return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
	})

	app := newPublishApp(t, client, "")
	resp, body := doPublish(t, app, http.MethodPost, validBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, putBody, `"sha":"prior-sha"`)
	assert.Contains(t, putBody, `"message":"chore(cert): publish CERT-20261014-AB12C.pdf for CERT-20261014-AB12C"`)
}
