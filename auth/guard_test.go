package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newRequest(headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestGuard_Disabled(t *testing.T) {
	require.NoError(t, Guard{}.Check(newRequest(nil)))
	require.NoError(t, Guard{APIKey: "k"}.Check(newRequest(nil)))
}

func TestGuard_Check(t *testing.T) {
	g := Guard{RequireAuth: true, APIKey: "secret"}

	cases := []struct {
		name    string
		headers map[string]string
		typ     string
		status  int
	}{
		{name: "bearer", headers: map[string]string{"Authorization": "Bearer secret"}},
		{name: "api-key prefix", headers: map[string]string{"Authorization": "Api-Key secret"}},
		{name: "raw", headers: map[string]string{"Authorization": "secret"}},
		{name: "x-api-key", headers: map[string]string{"X-API-Key": "secret"}},
		{name: "missing", typ: TypeRequired, status: http.StatusUnauthorized},
		{name: "wrong", headers: map[string]string{"Authorization": "Bearer nope"}, typ: TypeFailed, status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := g.Check(newRequest(tc.headers))
			if tc.typ == "" {
				require.NoError(t, err)
				return
			}
			var authErr *Error
			require.True(t, errors.As(err, &authErr))
			require.Equal(t, tc.typ, authErr.Type)
			require.Equal(t, tc.status, authErr.Status)
		})
	}
}

func TestGuard_NotConfigured(t *testing.T) {
	err := Guard{RequireAuth: true}.Check(newRequest(map[string]string{"Authorization": "Bearer x"}))
	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	require.Equal(t, TypeConfiguration, authErr.Type)
	require.Equal(t, http.StatusServiceUnavailable, authErr.Status)
}
