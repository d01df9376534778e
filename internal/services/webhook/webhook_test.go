package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
)

type fakeStore struct {
	mu         sync.Mutex
	webhooks   []models.Webhook
	deliveries map[string]models.WebhookDelivery
	gotKey     string
}

func (f *fakeStore) GetActiveWebhooksForEvent(_ context.Context, apiKeyID, event string) ([]models.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotKey = apiKeyID
	var out []models.Webhook
	for _, w := range f.webhooks {
		for _, e := range w.Events {
			if e == event {
				out = append(out, w)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) CreateWebhookDelivery(_ context.Context, d *models.WebhookDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.ID = d.WebhookID + "-delivery"
	f.deliveries[d.ID] = *d
	return nil
}

func (f *fakeStore) UpdateWebhookDelivery(_ context.Context, d *models.WebhookDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries[d.ID] = *d
	return nil
}

func (f *fakeStore) delivery(id string) models.WebhookDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deliveries[id]
}

func TestSignPayload(t *testing.T) {
	a := SignPayload([]byte(`{"event":"series.completed"}`), "secret")
	assert.Len(t, a, 64)
	assert.Equal(t, a, SignPayload([]byte(`{"event":"series.completed"}`), "secret"))
	assert.NotEqual(t, a, SignPayload([]byte(`{"event":"series.completed"}`), "other"))
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestNotifyEvent_DeliversSigned(t *testing.T) {
	type received struct {
		body      []byte
		signature string
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{body, r.Header.Get("X-Webhook-Signature")}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store := &fakeStore{
		webhooks: []models.Webhook{
			{ID: "wh1", URL: srv.URL, Events: []string{models.EventSeriesCompleted}, Secret: "s3cret", Active: true},
			{ID: "wh2", URL: srv.URL, Events: []string{models.EventSeriesFailed}, Secret: "x", Active: true},
		},
		deliveries: map[string]models.WebhookDelivery{},
	}
	s := New(store)
	s.NotifyEvent(context.Background(), "key-1", models.EventSeriesCompleted, map[string]string{"run_id": "r1"})

	var r received
	select {
	case r = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
	s.Shutdown()

	assert.Equal(t, "key-1", store.gotKey)
	assert.Equal(t, SignPayload(r.body, "s3cret"), r.signature)

	var payload struct {
		Event string            `json:"event"`
		Data  map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(r.body, &payload))
	assert.Equal(t, models.EventSeriesCompleted, payload.Event)
	assert.Equal(t, "r1", payload.Data["run_id"])

	d := store.delivery("wh1-delivery")
	assert.Equal(t, "success", d.Status)
	assert.Equal(t, 1, d.Attempts)
	assert.Equal(t, http.StatusNoContent, d.ResponseCode)
}

func TestNotifyEvent_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := &fakeStore{
		webhooks:   []models.Webhook{{ID: "wh", URL: srv.URL, Events: []string{models.EventSeriesFailed}, Active: true}},
		deliveries: map[string]models.WebhookDelivery{},
	}
	s := New(store)
	s.retryDelays = []time.Duration{0, time.Millisecond, time.Millisecond}

	s.NotifyEvent(context.Background(), "key", models.EventSeriesFailed, nil)
	require.Eventually(t, func() bool {
		return store.delivery("wh-delivery").Status == "failed"
	}, 2*time.Second, 5*time.Millisecond)
	s.Shutdown()

	assert.Equal(t, int32(3), calls.Load())
	d := store.delivery("wh-delivery")
	assert.Equal(t, 3, d.Attempts)
	assert.Equal(t, "HTTP 500", d.LastError)
}
