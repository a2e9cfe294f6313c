package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterhq/roster/errors"
)

func TestClientScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/followers", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`[
			{"id": "101", "username": "alpha", "full_name": "Alpha One"},
			{"id": "", "username": "beta"},
			{"id": "103", "username": ""}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second)
	records, err := c.Scrape(context.Background(), Request{Accounts: []string{"src"}, PerAccountMax: 5})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Record{ProfileID: "101", Username: "alpha", FullName: "Alpha One"}, records[0])
	// Missing ID falls back to the username; missing username is dropped.
	assert.Equal(t, "beta", records[1].ProfileID)
}

func TestClientScrapeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second)
	_, err := c.Scrape(context.Background(), Request{Accounts: []string{"src"}, PerAccountMax: 5})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestClientScrapeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second)
	_, err := c.Scrape(context.Background(), Request{Accounts: []string{"src"}, PerAccountMax: 5})
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
}
