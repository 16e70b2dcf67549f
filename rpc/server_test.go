package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dnldd/candlebot/bot"
	"github.com/dnldd/candlebot/client"
	"github.com/dnldd/candlebot/shared"
	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

func dial(t *testing.T, url string, token string) *client.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, &client.Config{
		URL:     url,
		Version: "v1",
		Token:   token,
		Logger:  &log.Logger,
	})
	assert.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c
}

func setupServer(t *testing.T) string {
	dispatcher, hub := setupDispatcher(t)

	server, err := NewServer(&ServerConfig{
		Address:    ":0",
		Version:    "v1",
		Dispatcher: dispatcher,
		Hub:        hub,
		Logger:     &log.Logger,
	})
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(server.Handler(ctx))
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})

	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestNewServer(t *testing.T) {
	// Ensure an invalid server config is rejected.
	_, err := NewServer(&ServerConfig{})
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestServer(t *testing.T) {
	url := setupServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Ensure clients without a token are denied.
	anon := dial(t, url, "")
	_, err := anon.IDs(ctx, "")
	var failure *client.Error
	assert.True(t, errors.As(err, &failure))
	assert.Equal(t, failure.Name, "AuthorizationError")
	assert.Equal(t, failure.Status, 401)
	assert.True(t, errors.Is(err, shared.ErrAuthorization))

	version, err := anon.Version(ctx)
	assert.NoError(t, err)
	assert.Equal(t, version, "v1")

	// Ensure malformed frames are answered with a validation error.
	raw, _, err := websocket.DefaultDialer.Dial(url+"/v1", http.Header{tokenHeader: []string{adminToken}})
	assert.NoError(t, err)
	defer raw.Close()
	assert.NoError(t, raw.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.NoError(t, raw.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := raw.ReadMessage()
	assert.NoError(t, err)
	frame := gjson.ParseBytes(data)
	assert.Equal(t, frame.Get("id").Int(), int64(0))
	assert.Equal(t, frame.Get("error.name").String(), "ValidationError")

	// Ensure the reserved name is rejected over the wire.
	owner := dial(t, url, adminToken)
	err = owner.NewBot(ctx, "master", json.RawMessage(botConfig))
	assert.True(t, errors.Is(err, shared.ErrValidation))
	assert.True(t, errors.As(err, &failure))
	assert.Equal(t, failure.Status, 400)

	// Ensure a bot is created and run to completion.
	assert.NoError(t, owner.NewBot(ctx, "alpha", json.RawMessage(botConfig)))

	exists, err := owner.BeBot(ctx, "alpha")
	assert.NoError(t, err)
	assert.True(t, exists)

	status, err := owner.Start(ctx, "alpha")
	assert.NoError(t, err)
	assert.Equal(t, status.Progress, 5)
	assert.Equal(t, status.State, bot.Done)
	assert.Equal(t, status.Err, "")

	var kinds []shared.EventKind
	var progress []int
	for {
		event, err := owner.Next(ctx)
		assert.NoError(t, err)
		assert.Equal(t, event.Bot, "alpha")
		kinds = append(kinds, event.Kind)
		if event.Kind == shared.EventProgress {
			progress = append(progress, event.Progress)
		}
		if event.Kind == shared.EventStopped {
			break
		}
	}
	assert.Equal(t, kinds[0], shared.EventStarted)
	assert.Equal(t, progress, []int{2, 4, 5})

	// Ensure other clients must subscribe before driving the bot.
	other := dial(t, url, adminToken)
	_, err = other.Stop(ctx, "alpha")
	assert.True(t, errors.Is(err, shared.ErrAuthorization))

	assert.NoError(t, other.GetBot(ctx, "alpha"))

	res, err := other.Stop(ctx, "alpha")
	assert.NoError(t, err)
	assert.Equal(t, res, "done")

	status, err = other.Status(ctx, "alpha")
	assert.NoError(t, err)
	assert.Equal(t, status.State, bot.Done)

	_, err = other.Start(ctx, "alpha")
	assert.True(t, errors.Is(err, shared.ErrStateConflict))

	ids, err := other.IDs(ctx, "alpha")
	assert.NoError(t, err)
	assert.Equal(t, len(ids), 2)

	// Ensure the subscriber set follows connections.
	assert.NoError(t, anon.Close())
	assert.NoError(t, other.Close())
	assert.NoError(t, raw.Close())

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ids, err = owner.IDs(ctx, "")
		assert.NoError(t, err)
		if len(ids) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, len(ids), 1)

	// Ensure calls on a closed client fail.
	_, err = other.Version(ctx)
	assert.True(t, errors.Is(err, client.ErrClosed))
}

func TestSessionToken(t *testing.T) {
	header := http.Header{tokenHeader: []string{"header"}}
	req := httptest.NewRequest(http.MethodGet, "/v1?token=query", nil)

	// Ensure the token query is the fallback of the token header.
	assert.Equal(t, token(req), "query")
	req.Header = header
	assert.Equal(t, token(req), "header")
}
