package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agrisync/internal/config"
	"agrisync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newTestClient(t *testing.T, baseURL string, timeout time.Duration) *Client {
	t.Helper()
	logger := zerolog.Nop()
	return NewClient(config.BackendConfig{
		BaseURL:        baseURL,
		RequestTimeout: timeout,
		AuthHeader:     "Authorization",
	}, staticToken("tok-123"), &logger)
}

func TestCreateFieldSuccess(t *testing.T) {
	var gotAuth, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/fields", r.URL.Path)

		var in models.FieldCreate
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.Field{ID: "f1", Name: in.Name, Area: in.Area})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5*time.Second)
	field, err := c.CreateField(context.Background(), models.FieldCreate{
		Name: "North Plot", Area: 1.5, SoilType: "Loamy", Irrigation: "Drip",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "f1", field.ID)
	assert.Equal(t, "North Plot", field.Name)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
}

func TestHTTPErrorPrefersServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"Area must be greater than 0"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5*time.Second)
	_, err := c.CreateField(context.Background(), models.FieldCreate{Name: "x"}, "")
	require.Error(t, err)

	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, 422, he.Status)
	assert.Equal(t, "Area must be greater than 0", he.Message)
	assert.JSONEq(t, `{"error":"Area must be greater than 0"}`, string(he.Details))
	assert.False(t, IsRetryable(err))
}

func TestHTTPErrorFallsBackToStatusText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5*time.Second)
	_, err := c.ListFields(context.Background())

	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadGateway, he.Status)
	assert.Equal(t, http.StatusText(http.StatusBadGateway), he.Message)
}

func TestTimeoutIsNotHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 50*time.Millisecond)
	_, err := c.ListFields(context.Background())
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsRetryable(err))
	var he *HTTPError
	assert.False(t, errors.As(err, &he))
}

func TestConnectionRefusedIsNetworkError(t *testing.T) {
	// Grab a port nothing listens on.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url, 2*time.Second)
	_, err := c.ListFields(context.Background())
	require.Error(t, err)

	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.True(t, IsRetryable(err))
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestCallerCancellationIsNotRetryable(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := c.ListFields(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
}

func TestNonJSONSuccessReturnsRawText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5*time.Second)
	var out string
	err := c.call(context.Background(), "ping", http.MethodGet, "/ping", nil, nil, nil, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "pong", out)
}

func TestDetectDiseaseSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "leaf.jpg", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(DetectionResult{Disease: "leaf_blight", Confidence: 0.93})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5*time.Second)
	res, err := c.DetectDisease(context.Background(), "leaf.jpg", strings.NewReader("fake-image-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "leaf_blight", res.Disease)
	assert.InDelta(t, 0.93, res.Confidence, 1e-9)
}

func TestChatMultipartOnlyWithImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "multipart/form-data") {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "what is this spot?", r.FormValue("message"))
			_, _, err := r.FormFile("image")
			require.NoError(t, err)
		} else {
			assert.Equal(t, "application/json", ct)
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "hello", body["message"])
			assert.Equal(t, "hi", body["lang"])
			assert.Equal(t, "wheat", body["crop"])
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatReply{Reply: "ok"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5*time.Second)

	_, err := c.Chat(context.Background(), models.ChatMessage{
		Message: "hello", Lang: "hi", Context: map[string]string{"crop": "wheat"},
	}, "", nil)
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), models.ChatMessage{
		Message: "what is this spot?", Lang: "en",
	}, "spot.jpg", strings.NewReader("img"))
	require.NoError(t, err)
}

func TestIdempotencyKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.Field{ID: "f1"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5*time.Second)
	_, err := c.CreateField(context.Background(), models.FieldCreate{Name: "x"}, "key-abc")
	require.NoError(t, err)
	assert.Equal(t, "key-abc", gotKey)
}

func TestWeatherForecastQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/weather/forecast", r.URL.Path)
		assert.Equal(t, "26.15", r.URL.Query().Get("lat"))
		assert.Equal(t, "81.81", r.URL.Query().Get("lon"))
		assert.Equal(t, "7", r.URL.Query().Get("days"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"days":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5*time.Second)
	out, err := c.WeatherForecast(context.Background(), 26.15, 81.81, 7)
	require.NoError(t, err)
	assert.JSONEq(t, `{"days":[]}`, string(out))
}

func TestAuthEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/request-otp":
			w.WriteHeader(http.StatusNoContent)
		case "/auth/verify-otp", "/auth/login", "/auth/register":
			json.NewEncoder(w).Encode(map[string]any{
				"token": "tok-new",
				"user":  map[string]string{"id": "u1", "name": "Ravi"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5*time.Second)
	ctx := context.Background()

	require.NoError(t, c.RequestOTP(ctx, "+911234567890"))

	s, err := c.VerifyOTP(ctx, "+911234567890", "123456")
	require.NoError(t, err)
	assert.Equal(t, "tok-new", s.Token)
	require.NotNil(t, s.User)
	assert.Equal(t, "Ravi", s.User.Name)

	s, err = c.Login(ctx, "+911234567890", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-new", s.Token)
}
