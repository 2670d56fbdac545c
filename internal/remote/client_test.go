package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/bridgeq/internal/dispatch"
	"github.com/mattjoyce/bridgeq/internal/log"
	"github.com/mattjoyce/bridgeq/internal/remote"
	"github.com/mattjoyce/bridgeq/internal/remote/mocks"
	"github.com/mattjoyce/bridgeq/internal/retry"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type memTokens struct {
	mu    sync.Mutex
	token string
	sets  []string
}

func (m *memTokens) Token(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *memTokens) SetToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.sets = append(m.sets, token)
	return nil
}

func fastRetry(maxRetries int) retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = maxRetries
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return cfg
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func okBody(next string, rows ...map[string]any) map[string]any {
	sets := []any{map[string]any{"data": []any{map[string]any{"nextRequestToken": next}}}}
	if len(rows) > 0 {
		data := make([]any, len(rows))
		for i, r := range rows {
			data[i] = r
		}
		sets = append(sets, map[string]any{"data": data})
	}
	return map[string]any{"failure": 0, "resultSets": sets}
}

func newClient(t *testing.T, url string, tokens remote.TokenStore, cfg remote.Config) *remote.Client {
	t.Helper()
	cfg.BaseURL = url
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry = fastRetry(0)
	}
	return remote.New(cfg, tokens)
}

func TestCallRotatesToken(t *testing.T) {
	var seen []string
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/StoredProcedure/Ping", r.URL.Path)
		seen = append(seen, r.Header.Get(remote.HeaderRequestToken))
		next := []string{"t2", "t3"}[n.Add(1)-1]
		writeJSON(t, w, http.StatusOK, okBody(next))
	}))
	defer srv.Close()

	tokens := &memTokens{token: "t1"}
	c := newClient(t, srv.URL+"/", tokens, remote.Config{})

	_, err := c.Call(context.Background(), "Ping", nil)
	require.NoError(t, err)
	_, err = c.Call(context.Background(), "Ping", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"t1", "t2"}, seen)
	assert.Equal(t, "t3", tokens.token)
	assert.Equal(t, srv.URL, c.APIURL())
}

func TestTokenSavedBeforeFailureCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := okBody("rotated")
		body["failure"] = 409
		body["errors"] = []string{"", "Bridge already has a running task"}
		writeJSON(t, w, http.StatusOK, body)
	}))
	defer srv.Close()

	ctrl := gomock.NewController(t)
	tokens := mocks.NewMockTokenStore(ctrl)
	gomock.InOrder(
		tokens.EXPECT().Token(gomock.Any()).Return("t1", nil),
		tokens.EXPECT().SetToken(gomock.Any(), "rotated").Return(nil),
	)

	c := newClient(t, srv.URL, tokens, remote.Config{})
	_, err := c.Call(context.Background(), "CreateQueueItem", map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrConflict)

	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, remote.CodeConflict, apiErr.Code)
	assert.Equal(t, 409, apiErr.Status)
	assert.Equal(t, "Bridge already has a running task", apiErr.Message)
}

func TestTokenLoadFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokens := mocks.NewMockTokenStore(ctrl)
	tokens.EXPECT().Token(gomock.Any()).Return("", errors.New("db closed"))

	c := newClient(t, "http://127.0.0.1:1", tokens, remote.Config{})
	_, err := c.Call(context.Background(), "Ping", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load request token")
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		status  int
		want    error
		code    remote.Code
		message string
	}{
		{http.StatusUnauthorized, remote.ErrUnauthorized, remote.CodeUnauthorized, "Authentication required"},
		{http.StatusForbidden, remote.ErrForbidden, remote.CodeForbidden, "Permission denied"},
		{http.StatusNotFound, remote.ErrNotFound, remote.CodeNotFound, "Resource not found"},
		{http.StatusInternalServerError, remote.ErrServer, remote.CodeServer, "Server error. Please try again later."},
		{http.StatusTeapot, remote.ErrGeneral, remote.CodeGeneral, "Request failed"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("<html>nope</html>"))
			}))
			defer srv.Close()

			c := newClient(t, srv.URL, &memTokens{}, remote.Config{})
			_, err := c.Call(context.Background(), "Ping", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var apiErr *remote.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestHTTPErrorWithAPIBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, map[string]any{
			"failure": 400,
			"message": "vault content is not valid JSON",
		})
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, &memTokens{}, remote.Config{})
	_, err := c.Call(context.Background(), "CreateQueueItem", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrBadRequest)
	assert.Contains(t, err.Error(), "vault content is not valid JSON")
}

func TestRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(t, w, http.StatusOK, okBody("next"))
	}))
	defer srv.Close()

	var retries atomic.Int32
	c := newClient(t, srv.URL, &memTokens{token: "t"}, remote.Config{
		Retry:   fastRetry(2),
		OnRetry: func(int, time.Duration, error) { retries.Add(1) },
	})

	_, err := c.Call(context.Background(), "Ping", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 1, retries.Load())
}

func TestNoRetryOnBodyFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusOK, map[string]any{"failure": 503, "message": "busy"})
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, &memTokens{}, remote.Config{Retry: fastRetry(3)})
	_, err := c.Call(context.Background(), "Ping", nil)
	assert.ErrorIs(t, err, remote.ErrServer)
	assert.EqualValues(t, 1, calls.Load())
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newClient(t, url, &memTokens{}, remote.Config{Retry: fastRetry(1)})
	_, err := c.Call(context.Background(), "Ping", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrNetwork)
	assert.ErrorIs(t, err, retry.ErrNoResponse)

	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, strings.HasPrefix(apiErr.Message, "Network error: "))
	assert.Zero(t, apiErr.Status)
}

func TestMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, &memTokens{}, remote.Config{})
	_, err := c.Call(context.Background(), "Ping", nil)
	assert.ErrorIs(t, err, remote.ErrGeneral)
}

func TestCallsAreSerialized(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		writeJSON(t, w, http.StatusOK, okBody("next"))
	}))
	defer srv.Close()

	var observed atomic.Int32
	c := newClient(t, srv.URL, &memTokens{}, remote.Config{
		OnCall: func(proc string, code remote.Code, _ time.Duration) {
			assert.Equal(t, "Ping", proc)
			assert.Empty(t, code)
			observed.Add(1)
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Call(context.Background(), "Ping", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxInFlight.Load())
	assert.EqualValues(t, 5, observed.Load())
	assert.Zero(t, c.Pending())
}

func TestSubmitFunc(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/StoredProcedure/CreateQueueItem", r.URL.Path)
		var params map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, "Private Team", params["teamName"])
		assert.Equal(t, "m1", params["machineName"])
		assert.Equal(t, "b1", params["bridgeName"])
		assert.Equal(t, `{"task":{}}`, params["vaultContent"])
		assert.EqualValues(t, 1, params["priority"])
		writeJSON(t, w, http.StatusOK, okBody("next", map[string]any{"taskId": "task-1", "status": "PENDING"}))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, &memTokens{}, remote.Config{})
	submit := c.SubmitFunc()
	res, err := submit(context.Background(), dispatch.Data{
		Team:     "Private Team",
		Machine:  "m1",
		Bridge:   "b1",
		Priority: 1,
		Vault:    `{"task":{}}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "task-1", res.TaskID)
	assert.True(t, res.IsQueued)
}

func TestSubmitFuncWithoutTaskID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, okBody("next"))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, &memTokens{}, remote.Config{})
	res, err := c.SubmitFunc()(context.Background(), dispatch.Data{Priority: 3})
	require.NoError(t, err)
	assert.Empty(t, res.TaskID)
	assert.False(t, res.IsQueued)
}

func TestTaskStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		row     map[string]any
		want    dispatch.Status
		wantErr error
	}{
		{"completed", 200, map[string]any{"status": "COMPLETED"}, dispatch.StatusCompleted, nil},
		{"failed", 200, map[string]any{"status": "FAILED"}, dispatch.StatusFailed, nil},
		{"cancelled", 200, map[string]any{"Status": "CANCELLED"}, dispatch.StatusCancelled, nil},
		{"permanently failed", 200, map[string]any{"status": "PENDING", "permanentlyFailed": true}, dispatch.StatusFailed, nil},
		{"running", 200, map[string]any{"status": "PROCESSING"}, dispatch.StatusSubmitted, nil},
		{"no row", 200, nil, "", dispatch.ErrTaskNotFound},
		{"http not found", 404, nil, "", dispatch.ErrTaskNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/StoredProcedure/GetQueueItemTrace", r.URL.Path)
				var params map[string]any
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&params))
				assert.Equal(t, "task-9", params["taskId"])
				if tt.status != 200 {
					w.WriteHeader(tt.status)
					return
				}
				if tt.row == nil {
					writeJSON(t, w, http.StatusOK, okBody("next"))
					return
				}
				writeJSON(t, w, http.StatusOK, okBody("next", tt.row))
			}))
			defer srv.Close()

			c := newClient(t, srv.URL, &memTokens{}, remote.Config{})
			got, err := c.TaskStatus(context.Background(), "task-9")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRowLookup(t *testing.T) {
	row := remote.Row{"TaskId": "abc", "count": float64(3), "ok": true}
	assert.Equal(t, "abc", row.String("taskId"))
	assert.Equal(t, "3", row.String("count"))
	assert.Equal(t, "true", row.String("ok"))
	assert.True(t, row.Bool("ok"))
	assert.Empty(t, row.String("missing"))

	var resp *remote.Response
	assert.Nil(t, resp.Row(0, 0))
	assert.Empty(t, resp.NextToken())
}
