package fasjson_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

func intPtr(i int) *int { return &i }

func TestDecodePage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		expected *fasjson.Page
	}{
		{"absent", "", nil},
		{"null", "null", nil},
		{"not an object", "5", nil},
		{
			name:     "complete",
			raw:      `{"page_number": 2, "page_size": 40, "total_pages": 3, "total_results": 101}`,
			expected: &fasjson.Page{PageNumber: 2, PageSize: 40, TotalPages: 3, TotalResults: intPtr(101)},
		},
		{
			name:     "missing page number",
			raw:      `{"total_pages": 3}`,
			expected: &fasjson.Page{PageNumber: 1, TotalPages: 3},
		},
		{
			name:     "missing total is the last page",
			raw:      `{"page_number": 4, "page_size": 10}`,
			expected: &fasjson.Page{PageNumber: 4, PageSize: 10, TotalPages: 4},
		},
		{
			name:     "empty object",
			raw:      `{}`,
			expected: &fasjson.Page{PageNumber: 1, TotalPages: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, fasjson.DecodePage(json.RawMessage(tt.raw)))
		})
	}
}

func TestPage_Navigation(t *testing.T) {
	t.Parallel()

	var none *fasjson.Page
	assert.False(t, none.HasNext())
	assert.False(t, none.HasPrev())

	first := &fasjson.Page{PageNumber: 1, TotalPages: 2}
	assert.True(t, first.HasNext())
	assert.False(t, first.HasPrev())

	last := &fasjson.Page{PageNumber: 2, TotalPages: 2}
	assert.False(t, last.HasNext())
	assert.True(t, last.HasPrev())
}

func TestResponse_Accessors(t *testing.T) {
	t.Parallel()

	args := fasjson.Args{"username": "admin"}
	header := http.Header{"Content-Type": []string{"application/json"}}
	body := []byte(`{"result": {"username": "admin"}}`)

	resp := fasjson.NewResponse(fasjson.ResponseParams{
		Operation:  &pagedOperation{},
		Args:       args,
		Result:     map[string]interface{}{"username": "admin"},
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       body,
	})

	// Inputs are copied
	args["username"] = "changed"
	header.Set("Content-Type", "text/plain")
	body[0] = 'X'

	assert.Equal(t, fasjson.Args{"username": "admin"}, resp.Args())
	assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))
	assert.Equal(t, `{"result": {"username": "admin"}}`, string(resp.RawBody()))
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "list_users", resp.Operation().Name())
	assert.Nil(t, resp.Page())
	assert.Equal(t, "map[username:admin]", resp.String())
	assert.Equal(t, "<Response for list_users(username=admin)>", fmt.Sprintf("%#v", resp))

	var user struct {
		Username string `json:"username"`
	}

	require.NoError(t, resp.Decode(&user))
	assert.Equal(t, "admin", user.Username)

	_, err := resp.Records()
	require.ErrorIs(t, err, fasjson.ErrNotACollection)
}

func TestResponse_Page(t *testing.T) {
	t.Parallel()

	page := &fasjson.Page{PageNumber: 1, PageSize: 2, TotalPages: 3}
	resp := fasjson.NewResponse(fasjson.ResponseParams{Page: page})

	page.PageNumber = 9

	got := resp.Page()
	require.NotNil(t, got)
	assert.Equal(t, 1, got.PageNumber)

	got.PageNumber = 7
	assert.Equal(t, 1, resp.Page().PageNumber, "Page returns a copy")
}

func TestResponse_NextPrevPage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	op := &pagedOperation{records: records(5)}

	first, err := op.Call(ctx, fasjson.Args{fasjson.PageSizeArg: 2, "X-Fields": "username"})
	require.NoError(t, err)

	second, err := first.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Page().PageNumber)
	assert.Equal(t, records(5)[2:4], second.Result())
	assert.Equal(t, "username", second.Args()["X-Fields"], "the original arguments are kept")

	back, err := second.PrevPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, back.Page().PageNumber)

	_, err = first.PrevPage(ctx)
	require.ErrorIs(t, err, fasjson.ErrPageOutOfRange)
	assert.Equal(t, "There is no page 0", err.Error())

	third, err := second.NextPage(ctx)
	require.NoError(t, err)

	_, err = third.NextPage(ctx)
	require.ErrorIs(t, err, fasjson.ErrPageOutOfRange)
	assert.Equal(t, "There is no page 4", err.Error())
	assert.True(t, fasjson.IsPaginationError(err))

	assert.Equal(t, int32(4), op.calls.Load())
}

func TestResponse_NoPagination(t *testing.T) {
	t.Parallel()

	resp := fasjson.NewResponse(fasjson.ResponseParams{Operation: &pagedOperation{}, Result: "ok"})

	_, err := resp.NextPage(context.Background())
	require.ErrorIs(t, err, fasjson.ErrNoPagination)
	assert.Equal(t, "No pagination available", err.Error())

	_, err = resp.PrevPage(context.Background())
	require.ErrorIs(t, err, fasjson.ErrNoPagination)
}

func TestArgs(t *testing.T) {
	t.Parallel()

	args := fasjson.Args{"page_size": 2, "groupname": "sysadmin"}

	assert.Equal(t, "groupname=sysadmin, page_size=2", args.String())

	clone := args.Clone()
	clone["page_size"] = 3
	assert.Equal(t, 2, args["page_size"])

	var empty fasjson.Args
	assert.Empty(t, empty.Clone())
	assert.Empty(t, empty.String())
}
