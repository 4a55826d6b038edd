package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/and161185/securelink/internal/model"
	"github.com/stretchr/testify/require"
)

func TestHTTPLocator_Success(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"status":"success","country":"Germany","regionName":"Berlin","city":"Berlin","lat":52.52,"lon":13.4}`))
	}))
	defer srv.Close()

	l := NewHTTPLocator(srv.URL+"/", time.Second)
	loc, err := l.Locate(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	require.Equal(t, "/8.8.8.8", gotPath)
	require.Equal(t, "Germany", loc.Country)
	require.Equal(t, "Berlin", loc.City)
	require.Equal(t, "Berlin", loc.Region)
	require.Equal(t, model.LocationFromIP, loc.Source)
	require.NotNil(t, loc.Lat)
	require.InDelta(t, 52.52, *loc.Lat, 0.001)
}

func TestHTTPLocator_FailStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPLocator(srv.URL, time.Second).Locate(context.Background(), "8.8.8.8")
	require.Error(t, err)
}

func TestHTTPLocator_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPLocator(srv.URL, time.Second).Locate(context.Background(), "1.1.1.1")
	require.Error(t, err)
}

func TestHTTPLocator_PrivateAddressesSkipNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	l := NewHTTPLocator(srv.URL, time.Second)
	for _, ip := range []string{"127.0.0.1", "10.1.2.3", "192.168.0.5", "::1", "not-an-ip", ""} {
		_, err := l.Locate(context.Background(), ip)
		require.True(t, errors.Is(err, ErrPrivateAddress), "ip %q", ip)
	}
	require.False(t, called)
}

func TestHTTPLocator_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTPLocator(srv.URL, 5*time.Second).Locate(ctx, "8.8.8.8")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
