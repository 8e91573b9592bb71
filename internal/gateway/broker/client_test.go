package broker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"tradedesk/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(config.BrokerConfig{APIURL: srv.URL, APIKey: "key", APISecret: "secret", TimeoutSeconds: 5})
	require.NoError(t, err)
	return c
}

func TestSubmit(t *testing.T) {
	var got OrderPayload
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/trading/accounts/ba-1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"b-123","status":"accepted","symbol":"AAPL"}`))
	})

	ack, err := c.Submit(context.Background(), "ba-1", OrderPayload{
		Symbol: "AAPL", Qty: "10", Side: "buy", Type: "limit", TimeInForce: "day", LimitPrice: "147.5",
	})
	require.NoError(t, err)
	assert.Equal(t, "b-123", ack.BrokerOrderID)
	assert.Equal(t, "accepted", ack.Status)
	assert.JSONEq(t, `{"id":"b-123","status":"accepted","symbol":"AAPL"}`, string(ack.Raw))
	assert.Equal(t, "147.5", got.LimitPrice)
	assert.Empty(t, got.StopPrice)
}

func TestSubmitRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":40310000,"message":"insufficient buying power"}`))
	})

	_, err := c.Submit(context.Background(), "ba-1", OrderPayload{Symbol: "AAPL", Qty: "1", Side: "buy", Type: "market", TimeInForce: "day"})
	require.ErrorIs(t, err, ErrBrokerRejected)
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, http.StatusForbidden, rej.StatusCode)
	assert.Equal(t, "insufficient buying power", rej.Message)
	assert.JSONEq(t, `{"code":40310000,"message":"insufficient buying power"}`, string(rej.Payload))
}

func TestSubmitMissingID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"accepted"}`))
	})
	_, err := c.Submit(context.Background(), "ba-1", OrderPayload{})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrBrokerRejected)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCancel(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		want    bool
		wantErr bool
	}{
		{"no content", http.StatusNoContent, true, false},
		{"ok is not a cancel ack", http.StatusOK, false, false},
		{"unprocessable", http.StatusUnprocessableEntity, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				assert.Equal(t, "/v1/trading/accounts/ba-1/orders/b-1", r.URL.Path)
				w.WriteHeader(tc.status)
			})
			ok, err := c.Cancel(context.Background(), "ba-1", "b-1")
			assert.Equal(t, tc.want, ok)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrBrokerRejected)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRejectedNonJSONBody(t *testing.T) {
	e := rejected(http.StatusBadGateway, []byte("<html>bad gateway</html>"))
	assert.JSONEq(t, `"<html>bad gateway</html>"`, string(e.Payload))
	assert.Contains(t, e.Error(), "502")
}
