package client_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/fedora-infra/fasjson-client/internal/client"
	"github.com/fedora-infra/fasjson-client/internal/testutil"
	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

func newTestClient(t *testing.T, server *testutil.Server, provider fasjson.CredentialProvider) *Client {
	t.Helper()

	client, err := New(context.Background(), &fasjson.Config{
		URL:                server.URL,
		Principal:          "admin@EXAMPLE.TEST",
		CredentialProvider: provider,
	})
	require.NoError(t, err)

	return client
}

func users(n int) []interface{} {
	records := make([]interface{}, 0, n)
	for i := 1; i <= n; i++ {
		records = append(records, map[string]interface{}{"username": fmt.Sprintf("user%d", i)})
	}

	return records
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestNew(t *testing.T) {
	t.Parallel()
	t.Run("requires a URL", func(t *testing.T) {
		t.Parallel()

		_, err := New(context.Background(), &fasjson.Config{})
		require.ErrorIs(t, err, fasjson.ErrInvalidConfig)
	})

	t.Run("requires an http URL", func(t *testing.T) {
		t.Parallel()

		_, err := New(context.Background(), &fasjson.Config{URL: "ftp://fasjson.example.test"})
		require.ErrorIs(t, err, fasjson.ErrInvalidConfig)
		assert.True(t, fasjson.IsClientError(err))
	})

	t.Run("requires a config", func(t *testing.T) {
		t.Parallel()

		_, err := New(context.Background(), nil)
		require.ErrorIs(t, err, fasjson.ErrInvalidConfig)
	})

	t.Run("loads the spec", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		client := newTestClient(t, server, testutil.NewFakeProvider())

		assert.Equal(t, []string{
			"whoami", "list_users", "get_user", "list_user_groups", "list_groups",
			"get_group", "list_group_members", "search_users", "sign_csr", "get_cert",
		}, client.Operations())

		info := client.Spec()
		assert.Equal(t, "FASJSON", info.Title)
		assert.Equal(t, "swagger 2.0", info.Dialect)
		assert.Equal(t, server.SpecURL(), info.SpecURL)
		assert.Equal(t, server.URL+"/v1", info.ServerURL)
		assert.Equal(t, 10, info.Operations)
		assert.Equal(t, 0, server.APICalls())
	})

	t.Run("spec not found", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.SetSpec(http.StatusNotFound, []byte("not here"))

		_, err := New(context.Background(), &fasjson.Config{URL: server.URL, CredentialProvider: testutil.NewFakeProvider()})
		require.ErrorIs(t, err, fasjson.ErrSpecUnreachable)

		var clientErr *fasjson.ClientError
		require.ErrorAs(t, err, &clientErr)
		assert.Equal(t, http.StatusNotFound, clientErr.Data["status_code"])
	})

	t.Run("expired credentials", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)

		_, err := New(context.Background(), &fasjson.Config{
			URL:                server.URL,
			CredentialProvider: &testutil.FakeProvider{Lifetime: 0},
		})
		require.ErrorIs(t, err, fasjson.ErrAuthenticationExpired)
		assert.Empty(t, server.Requests())
	})

	t.Run("falls back to the versioned URL", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.SetSpec(http.StatusOK, []byte(strings.Replace(string(testutil.SpecJSON), `"basePath": "/v1",`, "", 1)))
		server.JSON(http.MethodGet, "/me/", http.StatusOK, map[string]interface{}{"result": "ok"})

		client := newTestClient(t, server, testutil.NewFakeProvider())
		assert.Equal(t, server.URL+"/v1", client.Spec().ServerURL)

		resp, err := client.Call(context.Background(), "whoami", nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Result())
	})

	t.Run("uses the spec cache", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		cache := fasjson.NewMemoryCache(4)
		config := &fasjson.Config{
			URL:                server.URL,
			CredentialProvider: testutil.NewFakeProvider(),
			SpecCache:          cache,
			SpecCacheTTL:       time.Hour,
		}

		_, err := New(context.Background(), config)
		require.NoError(t, err)
		_, err = New(context.Background(), config)
		require.NoError(t, err)

		assert.Len(t, server.Requests(), 1)
	})
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestClient_Call(t *testing.T) {
	t.Parallel()
	t.Run("unknown operation", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		client := newTestClient(t, server, testutil.NewFakeProvider())

		_, err := client.Call(context.Background(), "delete_everything", nil)
		require.Error(t, err)
		assert.True(t, fasjson.IsUnknownOperation(err))
		assert.False(t, fasjson.IsAPIError(err))
		assert.Equal(t, 0, server.APICalls())

		_, err = client.Operation("delete_everything")
		require.ErrorIs(t, err, fasjson.ErrUnknownOperation)
	})

	t.Run("result extraction", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.Handle(http.MethodGet, "/me/", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Negotiate fake-token", r.Header.Get("Authorization"))
			assert.Equal(t, "username,uri", r.Header.Get("X-Fields"))
			testutil.WriteJSON(w, http.StatusOK, map[string]interface{}{
				"result": map[string]interface{}{"username": "admin", "uri": "http://example.test/v1/users/admin/"},
			})
		})

		client := newTestClient(t, server, testutil.NewFakeProvider())

		resp, err := client.Call(context.Background(), "whoami", fasjson.Args{"X-Fields": []string{"username", "uri"}})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode())
		assert.Nil(t, resp.Page())
		assert.Equal(t, "whoami", resp.Operation().Name())

		var me struct {
			Username string `json:"username"`
		}

		require.NoError(t, resp.Decode(&me))
		assert.Equal(t, "admin", me.Username)
	})

	t.Run("whole body without result key", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.JSON(http.MethodGet, "/groups/infra/", http.StatusOK, map[string]interface{}{"groupname": "infra"})

		client := newTestClient(t, server, testutil.NewFakeProvider())

		resp, err := client.Call(context.Background(), "get_group", fasjson.Args{"groupname": "infra"})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"groupname": "infra"}, resp.Result())
	})

	t.Run("text body", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.Handle(http.MethodGet, "/certs/7/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte("-----BEGIN CERTIFICATE-----"))
		})

		client := newTestClient(t, server, testutil.NewFakeProvider())

		resp, err := client.Call(context.Background(), "get_cert", fasjson.Args{"serial_number": 7})
		require.NoError(t, err)
		assert.Equal(t, "-----BEGIN CERTIFICATE-----", resp.Result())
	})

	t.Run("form body", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.Handle(http.MethodPost, "/certs/", func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "admin", r.PostForm.Get("user"))
			testutil.WriteJSON(w, http.StatusOK, map[string]interface{}{"result": map[string]interface{}{"serial_number": 1}})
		})

		client := newTestClient(t, server, testutil.NewFakeProvider())

		resp, err := client.Call(context.Background(), "sign_csr", fasjson.Args{"user": "admin", "csr": "PEM"})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"serial_number": float64(1)}, resp.Result())
	})

	t.Run("usage errors make no call", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		client := newTestClient(t, server, testutil.NewFakeProvider())

		_, err := client.Call(context.Background(), "get_user", fasjson.Args{"name": "admin"})
		require.ErrorIs(t, err, fasjson.ErrUsage)
		assert.Equal(t, 0, server.APICalls())
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.JSON(http.MethodGet, "/users/nobody/", http.StatusNotFound, map[string]interface{}{
			"message": "User does not exist",
			"name":    "nobody",
		})

		client := newTestClient(t, server, testutil.NewFakeProvider())

		_, err := client.Call(context.Background(), "get_user", fasjson.Args{"username": "nobody"})
		require.Error(t, err)
		assert.True(t, fasjson.IsNotFound(err))

		var apiErr *fasjson.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "User does not exist", apiErr.Message)
		assert.Equal(t, map[string]interface{}{"message": "User does not exist", "name": "nobody"}, apiErr.Body())
		assert.NotNil(t, apiErr.Response())
	})

	t.Run("server error with message", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.JSON(http.MethodGet, "/me/", http.StatusInternalServerError, map[string]string{"message": "X"})

		client := newTestClient(t, server, testutil.NewFakeProvider())

		_, err := client.Call(context.Background(), "whoami", nil)

		var apiErr *fasjson.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "X", apiErr.Message)
		assert.Equal(t, 500, apiErr.Code)
		assert.False(t, fasjson.IsClientError(err))
	})

	t.Run("server error without JSON", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.Handle(http.MethodGet, "/me/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("Y"))
		})

		client := newTestClient(t, server, testutil.NewFakeProvider())

		_, err := client.Call(context.Background(), "whoami", nil)

		var apiErr *fasjson.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "500 Internal Server Error", apiErr.Message)
		assert.Equal(t, 500, apiErr.Code)
		assert.Equal(t, "Y", apiErr.Data["body"])
	})

	t.Run("unfollowed redirect", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.JSON(http.MethodGet, "/me/", http.StatusMultipleChoices, map[string]string{"message": "pick one"})

		client := newTestClient(t, server, testutil.NewFakeProvider())

		resp, err := client.Call(context.Background(), "whoami", nil)
		assert.Nil(t, resp)

		var apiErr *fasjson.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusMultipleChoices, apiErr.Code)
		assert.Equal(t, "pick one", apiErr.Message)
	})

	t.Run("invalid JSON in success body", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.Handle(http.MethodGet, "/me/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("{nope"))
		})

		client := newTestClient(t, server, testutil.NewFakeProvider())

		_, err := client.Call(context.Background(), "whoami", nil)

		var apiErr *fasjson.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusOK, apiErr.Code)
		assert.Equal(t, "{nope", apiErr.Data["body"])
	})

	t.Run("expired credentials before any request", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		provider := testutil.NewFakeProvider()
		client := newTestClient(t, server, provider)

		provider.Lifetime = -time.Second

		_, err := client.Call(context.Background(), "whoami", nil)
		require.ErrorIs(t, err, fasjson.ErrAuthenticationExpired)
		assert.True(t, fasjson.IsClientError(err))
		assert.Equal(t, 0, server.APICalls())
	})

	t.Run("authentication failure", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		provider := testutil.NewFakeProvider()
		client := newTestClient(t, server, provider)

		provider.Err = errors.New("ticket expired")

		_, err := client.Call(context.Background(), "whoami", nil)
		require.ErrorIs(t, err, fasjson.ErrAuthenticationFailed)

		var clientErr *fasjson.ClientError
		require.ErrorAs(t, err, &clientErr)
		assert.Equal(t, "ticket expired", clientErr.Data["error"])
	})

	t.Run("transport failure", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		client := newTestClient(t, server, testutil.NewFakeProvider())
		server.Close()

		_, err := client.Call(context.Background(), "whoami", nil)

		var apiErr *fasjson.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 0, apiErr.Code)
		assert.NotNil(t, apiErr.Data["error"])
	})

	t.Run("concurrent calls", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		for i := range 8 {
			name := fmt.Sprintf("user%d", i)
			server.JSON(http.MethodGet, "/users/"+name+"/", http.StatusOK, map[string]interface{}{
				"result": map[string]string{"username": name},
			})
		}

		client := newTestClient(t, server, testutil.NewFakeProvider())

		var wg sync.WaitGroup

		for i := range 8 {
			wg.Add(1)

			go func(i int) {
				defer wg.Done()

				name := fmt.Sprintf("user%d", i)

				resp, err := client.Call(context.Background(), "get_user", fasjson.Args{"username": name})
				if assert.NoError(t, err) {
					assert.Equal(t, map[string]interface{}{"username": name}, resp.Result())
				}
			}(i)
		}

		wg.Wait()
		assert.Equal(t, 8, server.APICalls())
	})
}

func TestClient_Retries(t *testing.T) {
	t.Parallel()

	newRetryingClient := func(t *testing.T, server *testutil.Server) *Client {
		t.Helper()

		client, err := New(context.Background(), &fasjson.Config{
			URL:                server.URL,
			Principal:          "admin@EXAMPLE.TEST",
			CredentialProvider: testutil.NewFakeProvider(),
			RetryMax:           2,
			RetryWaitMin:       time.Millisecond,
			RetryWaitMax:       2 * time.Millisecond,
		})
		require.NoError(t, err)

		return client
	}

	t.Run("certificate signing is sent once", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.JSON(http.MethodPost, "/certs/", http.StatusServiceUnavailable, map[string]string{"message": "busy"})

		client := newRetryingClient(t, server)

		_, err := client.Call(context.Background(), "sign_csr", fasjson.Args{"user": "admin", "csr": "PEM"})

		var apiErr *fasjson.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.Code)
		assert.Equal(t, 1, server.APICalls())
	})

	t.Run("reads are retried", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32

		server := testutil.NewServer(t)
		server.Handle(http.MethodGet, "/me/", func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				testutil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "busy"})

				return
			}

			testutil.WriteJSON(w, http.StatusOK, map[string]interface{}{"result": map[string]string{"username": "admin"}})
		})

		client := newRetryingClient(t, server)

		resp, err := client.Call(context.Background(), "whoami", nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"username": "admin"}, resp.Result())
		assert.Equal(t, 2, server.APICalls())
	})
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestClient_Pagination(t *testing.T) {
	t.Parallel()
	t.Run("list all entities", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.Paginated("/users/", users(5))

		client := newTestClient(t, server, testutil.NewFakeProvider())

		it, err := client.ListAllEntities(context.Background(), "users", 2)
		require.NoError(t, err)
		assert.Equal(t, 0, server.APICalls())

		records, err := it.All()
		require.NoError(t, err)
		assert.Equal(t, users(5), records)
		assert.Equal(t, 3, server.APICalls())
		assert.Equal(t, 3, it.Pages())

		for i, req := range server.Requests()[1:] {
			assert.Equal(t, "2", req.Query["page_size"][0])
			assert.Equal(t, fmt.Sprint(i+1), req.Query["page_number"][0])
		}
	})

	t.Run("abandoned iteration fetches nothing more", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.Paginated("/users/", users(5))

		client := newTestClient(t, server, testutil.NewFakeProvider())

		it, err := client.ListAllEntities(context.Background(), "users", 2)
		require.NoError(t, err)

		for record, err := range it.Seq() {
			require.NoError(t, err)
			assert.Equal(t, users(1)[0], record)

			break
		}

		assert.Equal(t, 1, server.APICalls())
	})

	t.Run("default page size", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.Paginated("/groups/", []interface{}{map[string]interface{}{"groupname": "infra"}})

		client := newTestClient(t, server, testutil.NewFakeProvider())

		it, err := client.ListAllEntities(context.Background(), "groups", 0)
		require.NoError(t, err)

		records, err := it.All()
		require.NoError(t, err)
		assert.Len(t, records, 1)
		assert.Equal(t, "1000", server.Requests()[1].Query["page_size"][0])
	})

	t.Run("unknown entity", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		client := newTestClient(t, server, testutil.NewFakeProvider())

		_, err := client.ListAllEntities(context.Background(), "things", 10)
		require.ErrorIs(t, err, fasjson.ErrUsage)
		assert.False(t, fasjson.IsPaginationError(err))
		assert.Equal(t, 0, server.APICalls())
	})

	t.Run("negative page size", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		client := newTestClient(t, server, testutil.NewFakeProvider())

		_, err := client.ListAllEntities(context.Background(), "users", -1)
		require.ErrorIs(t, err, fasjson.ErrUsage)
	})

	t.Run("next and previous pages", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.Paginated("/users/", users(5))

		client := newTestClient(t, server, testutil.NewFakeProvider())

		first, err := client.Call(context.Background(), "list_users", fasjson.Args{"page_size": 2})
		require.NoError(t, err)
		require.NotNil(t, first.Page())
		assert.Equal(t, 1, first.Page().PageNumber)
		assert.Equal(t, 3, first.Page().TotalPages)

		_, err = first.PrevPage(context.Background())
		require.ErrorIs(t, err, fasjson.ErrPageOutOfRange)
		assert.Equal(t, "There is no page 0", err.Error())

		second, err := first.NextPage(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, second.Page().PageNumber)
		assert.Equal(t, fasjson.Args{"page_size": 2, "page_number": 2}, second.Args())

		third, err := second.NextPage(context.Background())
		require.NoError(t, err)

		calls := server.APICalls()

		_, err = third.NextPage(context.Background())
		require.Error(t, err)
		assert.True(t, fasjson.IsPaginationError(err))
		assert.Equal(t, calls, server.APICalls())

		back, err := third.PrevPage(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, back.Page().PageNumber)
	})

	t.Run("no pagination", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.JSON(http.MethodGet, "/me/", http.StatusOK, map[string]interface{}{"result": map[string]string{"username": "admin"}})

		client := newTestClient(t, server, testutil.NewFakeProvider())

		resp, err := client.Call(context.Background(), "whoami", nil)
		require.NoError(t, err)

		_, err = resp.NextPage(context.Background())
		require.ErrorIs(t, err, fasjson.ErrNoPagination)
		assert.Equal(t, "No pagination available", err.Error())
		assert.Equal(t, 1, server.APICalls())
	})

	t.Run("partial page metadata", func(t *testing.T) {
		t.Parallel()

		server := testutil.NewServer(t)
		server.Handle(http.MethodGet, "/groups/", func(w http.ResponseWriter, _ *http.Request) {
			testutil.WriteJSON(w, http.StatusOK, map[string]interface{}{
				"result": []string{"infra"},
				"page":   map[string]interface{}{"page_size": 1000},
			})
		})

		client := newTestClient(t, server, testutil.NewFakeProvider())

		resp, err := client.Call(context.Background(), "list_groups", nil)
		require.NoError(t, err)
		assert.Equal(t, &fasjson.Page{PageNumber: 1, PageSize: 1000, TotalPages: 1}, resp.Page())

		_, err = resp.NextPage(context.Background())
		require.ErrorIs(t, err, fasjson.ErrPageOutOfRange)
	})
}
