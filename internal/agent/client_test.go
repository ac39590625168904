package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basketly/engage/internal/profile"
)

func TestRespondCreatesThreadAndInvokes(t *testing.T) {
	var gotKey string
	var gotRun runRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		switch r.URL.Path {
		case "/threads":
			_, _ = w.Write([]byte(`{"thread_id":"th_1"}`))
		case "/threads/th_1/runs/wait":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRun))
			_, _ = w.Write([]byte(`{"messages":[{"role":"assistant","content":"two for one on milk"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(nil, srv.URL, "rt-key", 5*time.Second)
	prof := profile.Profile{Phone: "+31612345678", CountryCode: "NL", Language: "nl"}
	reply := client.Respond(context.Background(), "asst_1", "", "@bb milk deals?", prof)

	assert.False(t, reply.Fallback)
	assert.Equal(t, "two for one on milk", reply.Text)
	assert.Equal(t, "th_1", reply.ThreadID)
	assert.Equal(t, "rt-key", gotKey)
	assert.Equal(t, "asst_1", gotRun.AssistantID)
	require.Len(t, gotRun.Input.Messages, 1)
	assert.Equal(t, "user", gotRun.Input.Messages[0].Role)
	assert.Equal(t, "@bb milk deals?", gotRun.Input.Messages[0].Content)
}

func TestRespondSendsProfileContext(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`"noted"`))
	}))
	defer srv.Close()

	client := NewClient(nil, srv.URL, "k", 5*time.Second)
	prof := profile.Profile{
		Phone:         "+31612345678",
		CountryCode:   "NL",
		Language:      "nl",
		Dietary:       []string{"vegetarian"},
		BudgetLevel:   "low",
		HouseholdSize: 3,
		Stores:        []string{"Jumbo"},
	}
	reply := client.Respond(context.Background(), "asst_1", "th_1", "cheap dinner ideas", prof)
	require.False(t, reply.Fallback)

	cfg, ok := gotBody["config"].(map[string]any)
	require.True(t, ok, "run request must carry a config block")
	configurable, ok := cfg["configurable"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "+31612345678", configurable["user_id"])
	assert.Equal(t, "NL", configurable["country_code"])
	assert.Equal(t, "nl", configurable["language_code"])
	assert.Equal(t, "vegetarian", configurable["dietary_restrictions"])
	assert.Equal(t, "low", configurable["budget_level"])
	assert.Equal(t, float64(3), configurable["household_size"])
	assert.Equal(t, "Jumbo", configurable["store_preference"])
	assert.Equal(t, "jumbo.com", configurable["store_websites"])
}

func TestRespondReusesThread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/threads" {
			t.Error("should not create a thread when one is supplied")
		}
		_, _ = w.Write([]byte(`"ok"`))
	}))
	defer srv.Close()

	client := NewClient(nil, srv.URL, "k", 5*time.Second)
	reply := client.Respond(context.Background(), "asst_1", "th_existing", "hi", profile.Profile{})
	assert.False(t, reply.Fallback)
	assert.Equal(t, "th_existing", reply.ThreadID)
	assert.Equal(t, "ok", reply.Text)
}

func TestRespondFallsBackWithinTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block // never answers
	}))
	defer srv.Close()
	// LIFO: must run before srv.Close or Close waits on the parked handler.
	defer close(block)

	client := NewClient(nil, srv.URL, "k", 200*time.Millisecond)
	start := time.Now()
	reply := client.Respond(context.Background(), "asst_1", "th_1", "hi", profile.Profile{})
	elapsed := time.Since(start)

	assert.True(t, reply.Fallback)
	assert.Equal(t, FallbackReply, reply.Text)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestRespondFallsBackOnRuntimeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(nil, srv.URL, "k", time.Second)
	reply := client.Respond(context.Background(), "asst_1", "th_1", "hi", profile.Profile{})
	assert.True(t, reply.Fallback)
	assert.Equal(t, FallbackReply, reply.Text)
}

func TestRespondFallsBackOnUnreadableShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"done"}`))
	}))
	defer srv.Close()

	client := NewClient(nil, srv.URL, "k", time.Second)
	reply := client.Respond(context.Background(), "asst_1", "th_1", "hi", profile.Profile{})
	assert.True(t, reply.Fallback)
}

func TestInvokeErrorCarriesSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(nil, srv.URL, "k", time.Second)
	_, err := client.Invoke(context.Background(), "asst_1", "th_1", "hi", nil)
	assert.ErrorIs(t, err, ErrRuntime)
}
