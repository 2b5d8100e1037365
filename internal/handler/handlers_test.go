package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Schera-ole/shapementor/internal/config"
	internalerrors "github.com/Schera-ole/shapementor/internal/errors"
	models "github.com/Schera-ole/shapementor/internal/model"
	"github.com/Schera-ole/shapementor/internal/repository"
	"github.com/Schera-ole/shapementor/internal/service"
	"github.com/Schera-ole/shapementor/internal/session"
)

// MockedStorage fails every call with the configured error.
type MockedStorage struct {
	Err error
}

func (m *MockedStorage) LookupMetric(ctx context.Context, index string) (models.MetricDefinition, error) {
	return models.MetricDefinition{}, m.Err
}

func (m *MockedStorage) ListDefinitions(ctx context.Context) ([]models.MetricDefinition, error) {
	return nil, m.Err
}

func (m *MockedStorage) ListObservations(ctx context.Context, userID int64) ([]models.MetricRecord, error) {
	return nil, m.Err
}

func (m *MockedStorage) AddObservation(ctx context.Context, obs models.MetricObservation) error {
	return m.Err
}

func (m *MockedStorage) DeleteObservation(ctx context.Context, userID int64, ts time.Time, index string) error {
	return m.Err
}

func (m *MockedStorage) FindUserByID(ctx context.Context, id int64) (models.User, error) {
	return models.User{}, m.Err
}

func (m *MockedStorage) Ping(ctx context.Context) error {
	return m.Err
}

func testConfig() *config.ServerConfig {
	return &config.ServerConfig{
		Address:        "localhost:8080",
		SessionKey:     "test-key",
		SessionTTL:     time.Hour,
		RequestTimeout: 5 * time.Second,
		LogLevel:       "debug",
	}
}

func newTestServer(t *testing.T, metricsRepo service.MetricsRepository, usersRepo repository.UserRepository) *httptest.Server {
	t.Helper()
	cfg := testConfig()
	sessions, err := session.NewManager([]byte(cfg.SessionKey), cfg.SessionTTL)
	require.NoError(t, err)

	router := Router(zap.NewNop().Sugar(), cfg, service.NewUserService(usersRepo), service.NewMetricsService(metricsRepo), sessions)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func newMemServer(t *testing.T) *httptest.Server {
	storage := repository.NewMemStorage()
	return newTestServer(t, storage, storage)
}

// newClient returns a client with its own cookie jar, i.e. its own session.
func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func doRequest(t *testing.T, client *http.Client, method, target string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, target, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func TestIndexAndPing(t *testing.T) {
	server := newMemServer(t)
	client := newClient(t)

	resp, err := client.Get(server.URL + "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello Tracker", readBody(t, resp))

	resp, err = client.Get(server.URL + "/ping")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(server.URL + "/metrics/catalog")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.DefaultCatalog, decode[[]models.MetricDefinition](t, resp))
}

func TestProfileFlow(t *testing.T) {
	server := newMemServer(t)
	client := newClient(t)

	// Unbound client has no current user
	resp, err := client.Get(server.URL + "/user/profile")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = client.Get(server.URL + "/user_email/a.b@x.com/profile")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/user/profile", resp.Request.URL.Path)
	user := decode[models.User](t, resp)
	assert.Equal(t, "a.b", user.UserName)
	assert.Equal(t, "a.b@x.com", user.Email)
	assert.True(t, user.Activated)

	// Resolving the same email again yields the same id
	resp, err = client.Get(server.URL + "/user_email/a.b@x.com/profile")
	require.NoError(t, err)
	assert.Equal(t, user.ID, decode[models.User](t, resp).ID)

	form := url.Values{
		"new_user_name": {"Alex"},
		"new_dob":       {"1990-05-17"},
		"new_gender":    {"female"},
		"new_email":     {""},
	}
	resp, err = client.PostForm(fmt.Sprintf("%s/users/%d/profile/request_edit", server.URL, user.ID), form)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	edited := decode[models.User](t, resp)
	assert.Equal(t, "Alex", edited.UserName)
	assert.Equal(t, "a.b@x.com", edited.Email)
	require.NotNil(t, edited.DOB)
	assert.Equal(t, "1990-05-17", edited.DOB.String())
	require.NotNil(t, edited.Gender)
	assert.Equal(t, "female", *edited.Gender)

	resp = doRequest(t, client, http.MethodPut, fmt.Sprintf("%s/users/%d/profile/edit", server.URL, user.ID),
		strings.NewReader(`{"gender":"","phone_number":"+1 555 0100"}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	patched := decode[models.User](t, resp)
	assert.Nil(t, patched.Gender)
	require.NotNil(t, patched.PhoneNumber)
	assert.Equal(t, "+1 555 0100", *patched.PhoneNumber)
	assert.Equal(t, "Alex", patched.UserName)
}

func TestResolveEmail_EscapedPath(t *testing.T) {
	server := newMemServer(t)
	client := newClient(t)

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "escaped percent", path: "/user_email/a%2541@x.com/profile", want: "a%41@x.com"},
		{name: "escaped slash", path: "/user_email/a%2Fb@x.com/profile", want: "a/b@x.com"},
		{name: "plain", path: "/user_email/aA@x.com/profile", want: "aA@x.com"},
	}
	ids := make(map[int64]string)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Get(server.URL + tt.path)
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			user := decode[models.User](t, resp)
			assert.Equal(t, tt.want, user.Email)
			ids[user.ID] = user.Email
		})
	}
	// Every email resolved to its own user
	assert.Len(t, ids, len(tests))
}

func TestProfileErrors(t *testing.T) {
	server := newMemServer(t)
	client := newClient(t)

	resp, err := client.Get(server.URL + "/user_email/u@x.com/profile")
	require.NoError(t, err)
	user := decode[models.User](t, resp)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		ctype  string
		want   int
	}{
		{name: "bind unknown user", method: http.MethodGet, path: "/users/999/profile", want: http.StatusNotFound},
		{name: "bind malformed id", method: http.MethodGet, path: "/users/abc/metrics", want: http.StatusBadRequest},
		{name: "edit unknown user", method: http.MethodPut, path: "/users/999/profile/edit", body: `{"user_name":"X"}`, ctype: "application/json", want: http.StatusNotFound},
		{name: "edit unknown field", method: http.MethodPut, path: fmt.Sprintf("/users/%d/profile/edit", user.ID), body: `{"nickname":"X"}`, ctype: "application/json", want: http.StatusBadRequest},
		{name: "edit bad json", method: http.MethodPut, path: fmt.Sprintf("/users/%d/profile/edit", user.ID), body: `{`, ctype: "application/json", want: http.StatusBadRequest},
		{name: "edit empty name", method: http.MethodPut, path: fmt.Sprintf("/users/%d/profile/edit", user.ID), body: `{"user_name":""}`, ctype: "application/json", want: http.StatusBadRequest},
		{name: "form bad dob", method: http.MethodPost, path: fmt.Sprintf("/users/%d/profile/request_edit", user.ID), body: "new_dob=17.05.1990", ctype: "application/x-www-form-urlencoded", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, client, tt.method, server.URL+tt.path, strings.NewReader(tt.body), tt.ctype)
			readBody(t, resp)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	// Duplicate email
	resp, err = client.Get(server.URL + "/user_email/other@x.com/profile")
	require.NoError(t, err)
	readBody(t, resp)
	resp = doRequest(t, client, http.MethodPut, fmt.Sprintf("%s/users/%d/profile/edit", server.URL, user.ID),
		strings.NewReader(`{"email":"other@x.com"}`), "application/json")
	readBody(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMetricsFlow(t *testing.T) {
	server := newMemServer(t)
	client := newClient(t)

	resp, err := client.Get(server.URL + "/user_email/a.b@x.com/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/user/metrics", resp.Request.URL.Path)
	page := decode[MetricsPage](t, resp)
	assert.Empty(t, page.Metrics)
	userID := page.UserID

	addURL := fmt.Sprintf("%s/users/%d/metrics/add", server.URL, userID)
	resp, err = client.PostForm(addURL, url.Values{
		"metric_index": {"weight_kg"},
		"value":        {"70.5"},
		"timestamp":    {"2024-03-01 08:30:00.123456"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = decode[MetricsPage](t, resp)
	require.Len(t, page.Metrics, 1)
	assert.Equal(t, models.MetricRecordDTO{
		Timestamp:   "2024-03-01 08:30:00.123456",
		MetricIndex: "weight_kg",
		Value:       70.5,
		MetricName:  "Weight",
		MetricUnit:  "kg",
	}, page.Metrics[0])

	// Without a timestamp the current time is used
	resp, err = client.PostForm(addURL, url.Values{"metric_index": {"height_cm"}, "value": {"180"}})
	require.NoError(t, err)
	page = decode[MetricsPage](t, resp)
	require.Len(t, page.Metrics, 2)
	assert.Equal(t, "height_cm", page.Metrics[1].MetricIndex)

	addErrors := []struct {
		name string
		form url.Values
		want int
	}{
		{name: "duplicate key", form: url.Values{"metric_index": {"weight_kg"}, "value": {"71"}, "timestamp": {"2024-03-01 08:30:00.123456"}}, want: http.StatusConflict},
		{name: "unknown metric", form: url.Values{"metric_index": {"shoe_size"}, "value": {"42"}}, want: http.StatusBadRequest},
		{name: "bad value", form: url.Values{"metric_index": {"bmi"}, "value": {"heavy"}}, want: http.StatusBadRequest},
		{name: "bad timestamp", form: url.Values{"metric_index": {"bmi"}, "value": {"22"}, "timestamp": {"01/03/2024"}}, want: http.StatusBadRequest},
	}
	for _, tt := range addErrors {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.PostForm(addURL, tt.form)
			require.NoError(t, err)
			readBody(t, resp)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	// Delete through the form with the exact listed timestamp
	resp, err = client.PostForm(fmt.Sprintf("%s/users/%d/metrics/request_delete", server.URL, userID), url.Values{
		"delete_timestamp":    {page.Metrics[0].Timestamp},
		"delete_metric_index": {"weight_kg"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = decode[MetricsPage](t, resp)
	require.Len(t, page.Metrics, 1)
	heightTS := page.Metrics[0].Timestamp

	// Delete through the JSON endpoint
	query := url.Values{"timestamp": {heightTS}, "metric_index": {"height_cm"}}
	deleteURL := fmt.Sprintf("%s/users/%d/metrics/delete?%s", server.URL, userID, query.Encode())
	resp = doRequest(t, client, http.MethodDelete, deleteURL, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, DeleteConfirmation{Deleted: true, UserID: userID, Timestamp: heightTS, MetricIndex: "height_cm"},
		decode[DeleteConfirmation](t, resp))

	resp = doRequest(t, client, http.MethodDelete, deleteURL, nil, "")
	readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, client, http.MethodDelete,
		fmt.Sprintf("%s/users/%d/metrics/delete?timestamp=yesterday&metric_index=bmi", server.URL, userID), nil, "")
	readBody(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = client.Get(server.URL + "/user/metrics")
	require.NoError(t, err)
	assert.Empty(t, decode[MetricsPage](t, resp).Metrics)
}

func TestSessionsAreIsolated(t *testing.T) {
	server := newMemServer(t)
	alice := newClient(t)
	bob := newClient(t)

	resp, err := alice.Get(server.URL + "/user_email/alice@x.com/profile")
	require.NoError(t, err)
	aliceUser := decode[models.User](t, resp)

	resp, err = bob.Get(server.URL + "/user_email/bob@x.com/profile")
	require.NoError(t, err)
	bobUser := decode[models.User](t, resp)
	require.NotEqual(t, aliceUser.ID, bobUser.ID)

	// Bob's binding does not leak into Alice's session
	resp, err = alice.Get(server.URL + "/user/profile")
	require.NoError(t, err)
	assert.Equal(t, aliceUser.ID, decode[models.User](t, resp).ID)

	resp, err = bob.Get(server.URL + "/user/profile")
	require.NoError(t, err)
	assert.Equal(t, bobUser.ID, decode[models.User](t, resp).ID)

	// Rebinding switches only the caller's current user
	resp, err = alice.Get(fmt.Sprintf("%s/users/%d/profile", server.URL, bobUser.ID))
	require.NoError(t, err)
	assert.Equal(t, bobUser.ID, decode[models.User](t, resp).ID)

	resp, err = bob.Get(server.URL + "/user/profile")
	require.NoError(t, err)
	assert.Equal(t, bobUser.ID, decode[models.User](t, resp).ID)
}

func TestStorageUnavailable(t *testing.T) {
	failing := &MockedStorage{Err: fmt.Errorf("%w: connection refused", internalerrors.ErrStorageUnavailable)}
	server := newTestServer(t, failing, repository.NewMemStorage())
	client := newClient(t)

	for _, path := range []string{"/ping", "/metrics/catalog"} {
		resp, err := client.Get(server.URL + path)
		require.NoError(t, err)
		readBody(t, resp)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}

	resp, err := client.PostForm(server.URL+"/users/1/metrics/add", url.Values{"metric_index": {"bmi"}, "value": {"22"}})
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: internalerrors.ErrUserNotFound, want: http.StatusNotFound},
		{err: fmt.Errorf("wrapped: %w", internalerrors.ErrObservationNotFound), want: http.StatusNotFound},
		{err: internalerrors.ErrNoCurrentUser, want: http.StatusNotFound},
		{err: internalerrors.ErrUnknownMetric, want: http.StatusBadRequest},
		{err: internalerrors.ErrInvalidTimestamp, want: http.StatusBadRequest},
		{err: internalerrors.ErrConflict, want: http.StatusConflict},
		{err: internalerrors.ErrDuplicateEmail, want: http.StatusConflict},
		{err: internalerrors.ErrStorageUnavailable, want: http.StatusServiceUnavailable},
		{err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{err: fmt.Errorf("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFromError(tt.err))
		})
	}
}
