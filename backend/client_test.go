package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:    srv.URL + "/v1alpha",
		AuthURL:    srv.URL + "/auth/getoxsrf",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_InvalidProxy(t *testing.T) {
	_, err := NewClient(Config{ProxyURL: "::bad"})
	require.Error(t, err)

	c, err := NewClient(Config{ProxyURL: "socks5://127.0.0.1:1080"})
	require.NoError(t, err)
	require.Equal(t, "https://biz-discoveryengine.googleapis.com/v1alpha/locations/global/widgetStreamAssist", c.endpoint("widgetStreamAssist"))
}

func TestExchangeKey_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/getoxsrf", r.URL.Path)
		require.Equal(t, "42", r.URL.Query().Get("csesidx"))
		require.Equal(t, "__Secure-C_SES=ses; __Host-C_OSES=oses", r.Header.Get("Cookie"))
		require.Equal(t, "test-ua", r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, ")]}'\n"+`{"keyId":"kid-1","xsrfToken":"MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY"}`)
	}))
	defer srv.Close()

	key, err := newTestClient(t, srv).ExchangeKey(context.Background(), Credentials{
		SecureCSES: "ses",
		HostCOSES:  "oses",
		CSESIdx:    "42",
		UserAgent:  "test-ua",
	})
	require.NoError(t, err)
	require.Equal(t, "kid-1", key.ID)
	require.Equal(t, testSecret, key.Secret)
}

func TestExchangeKey_Errors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		detail string
	}{
		{name: "non-2xx with message", status: http.StatusForbidden, body: `{"message":"cookie expired"}`, detail: "cookie expired"},
		{name: "non-2xx plain body", status: http.StatusBadGateway, body: "upstream down", detail: "upstream down"},
		{name: "missing xsrfToken", status: http.StatusOK, body: `)]}'{"keyId":"k","message":"login required"}`, detail: "login required"},
		{name: "missing keyId", status: http.StatusOK, body: `{"xsrfToken":"AQIDBAU"}`, detail: "missing keyId"},
		{name: "not json", status: http.StatusOK, body: "<html>", detail: "invalid response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv).ExchangeKey(context.Background(), Credentials{SecureCSES: "s", CSESIdx: "1"})
			require.Error(t, err)
			var exErr *AuthExchangeError
			require.True(t, errors.As(err, &exErr))
			require.Contains(t, err.Error(), tc.detail)
		})
	}
}

func TestExchangeKey_MissingCredentials(t *testing.T) {
	c, err := NewClient(Config{})
	require.NoError(t, err)
	_, err = c.ExchangeKey(context.Background(), Credentials{CSESIdx: "1"})
	var exErr *AuthExchangeError
	require.True(t, errors.As(err, &exErr))
}

func TestOpenSession(t *testing.T) {
	var gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1alpha/locations/global/widgetCreateSession", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.Equal(t, "1800", r.Header.Get("X-Server-Timeout"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "team-1", body["configId"])
		require.Equal(t, map[string]any{"token": "-"}, body["additionalParams"])
		session := body["createSessionRequest"].(map[string]any)["session"].(map[string]any)
		gotName = session["name"].(string)
		require.Equal(t, gotName, session["displayName"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"session": map[string]any{"name": "collections/default/sessions/" + gotName},
		})
	}))
	defer srv.Close()

	name, err := newTestClient(t, srv).OpenSession(context.Background(), "tok", "team-1")
	require.NoError(t, err)
	require.Len(t, gotName, 12)
	require.Equal(t, "collections/default/sessions/"+gotName, name)
}

func TestOpenSession_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, strings.Repeat("x", 1000))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).OpenSession(context.Background(), "tok", "team-1")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrSessionUnauthorized))

	var sErr *SessionCreateError
	require.True(t, errors.As(err, &sErr))
	require.Equal(t, http.StatusUnauthorized, sErr.Status)
	require.Len(t, sErr.Body, maxErrBodyBytes+len("..."))
	require.Contains(t, err.Error(), "team_id")
}

func TestOpenSession_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).OpenSession(context.Background(), "tok", "team-1")
	var sErr *SessionCreateError
	require.True(t, errors.As(err, &sErr))
	require.False(t, errors.Is(err, ErrSessionUnauthorized))
}

func TestNewSessionName(t *testing.T) {
	a, b := NewSessionName(), NewSessionName()
	require.Len(t, a, 12)
	require.NotEqual(t, a, b)
}

func TestStreamAssist(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	resp := []map[string]any{
		{"streamAssistResponse": map[string]any{
			"sessionInfo": map[string]any{"session": "sessions/abc"},
			"answer": map[string]any{"replies": []any{
				map[string]any{"groundedContent": map[string]any{"content": map[string]any{"text": "thinking", "thought": true}}},
				map[string]any{"groundedContent": map[string]any{"content": map[string]any{"text": "hello "}}},
			}},
		}},
		{"streamAssistResponse": map[string]any{
			"answer": map[string]any{
				"generatedImages": []any{map[string]any{"image": map[string]any{"bytesBase64Encoded": base64.StdEncoding.EncodeToString(png)}}},
				"replies": []any{
					map[string]any{"groundedContent": map[string]any{"content": map[string]any{
						"text": "world",
						"file": map[string]any{"fileId": "f1", "mimeType": "image/jpeg", "name": "cat.jpg"},
					}}},
				},
			},
		}},
		{"other": true},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1alpha/locations/global/widgetStreamAssist", r.URL.Path)
		var body streamAssistBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "team-1", body.ConfigID)
		require.Equal(t, "sessions/abc", body.StreamAssistRequest.Session)
		require.Equal(t, "hi", body.StreamAssistRequest.Query.Parts[0].Text)
		require.Equal(t, []string{"g1"}, body.StreamAssistRequest.FileIDs)
		require.Equal(t, "default_tool_registry", body.StreamAssistRequest.ToolsSpec.ToolRegistry)
		require.Equal(t, "REQUEST_ASSIST", body.StreamAssistRequest.AssistSkippingMode)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	out, err := newTestClient(t, srv).StreamAssist(context.Background(), "tok", ChatRequest{
		Session:  "sessions/abc",
		ConfigID: "team-1",
		Query:    "hi",
		FileIDs:  []string{"g1"},
	})
	require.NoError(t, err)
	require.Equal(t, "hello world", out.Text)
	require.Equal(t, []string{"thinking"}, out.Thoughts)
	require.Equal(t, "sessions/abc", out.Session)
	require.Equal(t, []FileRef{{FileID: "f1", MIMEType: "image/jpeg", Name: "cat.jpg"}}, out.Files)
	require.Len(t, out.Images, 1)
	require.Equal(t, png, out.Images[0].Data)
	require.Equal(t, "image/png", out.Images[0].MIMEType)
}

func TestStreamAssist_Errors(t *testing.T) {
	status := http.StatusServiceUnavailable
	body := "busy"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.StreamAssist(context.Background(), "tok", ChatRequest{Session: "s"})
	var stErr *StatusError
	require.True(t, errors.As(err, &stErr))
	require.Equal(t, http.StatusServiceUnavailable, stErr.Status)

	status, body = http.StatusOK, "not json"
	_, err = c.StreamAssist(context.Background(), "tok", ChatRequest{Session: "s"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "malformed")
}

func TestAddContextFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1alpha/locations/global/widgetAddContextFile", r.URL.Path)
		var body addContextFileBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "aGk=", body.AddContextFileRequest.FileContents)
		require.Equal(t, "a.txt", body.AddContextFileRequest.FileName)
		require.Equal(t, "sessions/s", body.AddContextFileRequest.Name)
		require.Equal(t, "team", body.ConfigID)
		_, _ = io.WriteString(w, `{"addContextFileResponse":{"fileId":"gid-1"}}`)
	}))
	defer srv.Close()

	id, err := newTestClient(t, srv).AddContextFile(context.Background(), "tok", "sessions/s", "team", InlineFile{
		Name: "a.txt", MIMEType: "text/plain", Data: []byte("hi"),
	})
	require.NoError(t, err)
	require.Equal(t, "gid-1", id)
}

func TestListSessionFilesAndDownload(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "widgetListSessionFileMetadata"):
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			req := body["listSessionFileMetadataRequest"].(map[string]any)
			require.Equal(t, "file_origin_type = AI_GENERATED", req["filter"])
			_, _ = io.WriteString(w, `{"listSessionFileMetadataResponse":{"fileMetadata":[{"fileId":"f1","name":"cat.jpg","session":"sessions/other"},{"name":"no-id"}]}}`)
		case strings.HasSuffix(r.URL.Path, ":downloadFile"):
			require.Equal(t, "/v1alpha/sessions/other:downloadFile", r.URL.Path)
			require.Equal(t, "f1", r.URL.Query().Get("fileId"))
			require.Equal(t, "media", r.URL.Query().Get("alt"))
			_, _ = io.WriteString(w, base64.StdEncoding.EncodeToString(jpeg))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	meta, err := c.ListSessionFiles(context.Background(), "tok", "sessions/abc", "team")
	require.NoError(t, err)
	require.Len(t, meta, 1)
	require.Equal(t, "sessions/other", meta["f1"].Session)

	data, err := c.DownloadFile(context.Background(), "tok", meta["f1"].Session, "f1")
	require.NoError(t, err)
	require.Equal(t, jpeg, data)
}

func TestMaybeBase64Image(t *testing.T) {
	raw := []byte("plain bytes")
	require.Equal(t, raw, maybeBase64Image(raw))
	require.Equal(t, []byte("iVBORw0KGgo!!"), maybeBase64Image([]byte("iVBORw0KGgo!!")))
}

func TestParseDataURL(t *testing.T) {
	f, ok := ParseDataURL("data:image/jpeg;base64,aGk=")
	require.True(t, ok)
	require.Equal(t, "image/jpeg", f.MIMEType)
	require.Equal(t, []byte("hi"), f.Data)
	require.True(t, strings.HasPrefix(f.Name, "inline_"))
	require.True(t, strings.HasSuffix(f.Name, ".jpg"))

	_, ok = ParseDataURL("https://example.com/a.png")
	require.False(t, ok)
	_, ok = ParseDataURL("data:image/png,notbase64")
	require.False(t, ok)
}
