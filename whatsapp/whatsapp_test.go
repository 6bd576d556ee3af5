package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "1029",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550001", "phone_number_id": "9911"},
        "contacts": [{"wa_id": "573001112233", "profile": {"name": "Ana"}}],
        "messages": [
          {"from": "573001112233", "id": "wamid.1", "timestamp": "1710428400", "type": "text", "text": {"body": "Hola"}},
          {"from": "573001112233", "id": "wamid.2", "timestamp": "1710428401", "type": "interactive",
           "interactive": {"type": "button_reply", "button_reply": {"id": "VER_CUPOS", "title": "Ver cupos"}}},
          {"from": "573001112233", "id": "wamid.3", "timestamp": "1710428402", "type": "interactive",
           "interactive": {"type": "list_reply", "list_reply": {"id": "lot-1", "title": "Tequendama"}}},
          {"from": "573001112233", "id": "wamid.4", "timestamp": "1710428403", "type": "image"}
        ]
      }
    }]
  }]
}`

func TestParse(t *testing.T) {
	msgs, err := Parse([]byte(samplePayload))
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, Incoming{
		ID:       "wamid.1",
		From:     "573001112233",
		Name:     "Ana",
		Text:     "Hola",
		Received: time.Unix(1710428400, 0),
	}, msgs[0])
	assert.Equal(t, "VER_CUPOS", msgs[1].ReplyID)
	assert.Equal(t, "lot-1", msgs[2].ReplyID)
	assert.Equal(t, "Tequendama", msgs[2].Text)

	msgs, err = Parse([]byte(`{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"statuses":[{"id":"x"}]}}]}]}`))
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = Parse([]byte(`{`))
	assert.Error(t, err)
}

func TestVerifySubscription(t *testing.T) {
	q := url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"secreto"}, "hub.challenge": {"1158201444"}}
	challenge, ok := VerifySubscription(q, "secreto")
	assert.True(t, ok)
	assert.Equal(t, "1158201444", challenge)

	_, ok = VerifySubscription(q, "otro")
	assert.False(t, ok)

	q.Set("hub.mode", "unsubscribe")
	_, ok = VerifySubscription(q, "secreto")
	assert.False(t, ok)

	_, ok = VerifySubscription(url.Values{"hub.mode": {"subscribe"}}, "")
	assert.False(t, ok)
}

func TestSignature(t *testing.T) {
	body := []byte(samplePayload)
	sig := Sign(body, "app-secret")
	assert.True(t, strings.HasPrefix(sig, "sha256="))
	assert.True(t, ValidSignature(body, sig, "app-secret"))
	assert.False(t, ValidSignature(body, sig, "other"))
	assert.False(t, ValidSignature(append(body, ' '), sig, "app-secret"))
	assert.False(t, ValidSignature(body, "sha1=abc", "app-secret"))
	assert.False(t, ValidSignature(body, "sha256=zz", "app-secret"))
}

type capturedRequest struct {
	path, auth string
	msg        outgoingMessage
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, n int)) (*Client, *[]capturedRequest) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []capturedRequest
		n     atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var msg outgoingMessage
		_ = json.Unmarshal(raw, &msg)
		mu.Lock()
		calls = append(calls, capturedRequest{path: r.URL.Path, auth: r.Header.Get("Authorization"), msg: msg})
		mu.Unlock()
		handler(w, int(n.Add(1)))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		Token:         "tok",
		PhoneNumberID: "9911",
		BaseURL:       srv.URL,
		MaxElapsed:    5 * time.Second,
	})
	require.NoError(t, err)
	return c, &calls
}

func TestSendConvertsAndSplits(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ int) {
		w.Write([]byte(`{"messages":[{"id":"wamid.x"}]}`))
	})

	require.NoError(t, c.Send(context.Background(), "573001112233", "**Hola** ~~no~~"))
	require.Len(t, *calls, 1)
	got := (*calls)[0]
	assert.Equal(t, "/"+DefaultAPIVersion+"/9911/messages", got.path)
	assert.Equal(t, "Bearer tok", got.auth)
	assert.Equal(t, "whatsapp", got.msg.MessagingProduct)
	assert.Equal(t, "573001112233", got.msg.To)
	assert.Equal(t, "*Hola* ~no~", got.msg.Text.Body)

	long := strings.Repeat("palabra ", 1100)
	require.NoError(t, c.Send(context.Background(), "573001112233", long))
	require.Len(t, *calls, 4)
	for _, call := range (*calls)[1:] {
		assert.LessOrEqual(t, len(call.msg.Text.Body), MaxMessageLength)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, n int) {
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	})

	require.NoError(t, c.Send(context.Background(), "573001112233", "hola"))
	assert.Len(t, *calls, 3)
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, _ int) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"invalid recipient"}}`))
	})

	err := c.Send(context.Background(), "bad", "hola")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Len(t, *calls, 1)
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{Token: "tok"})
	assert.Error(t, err)
}
