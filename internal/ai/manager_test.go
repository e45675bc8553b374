package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name    string
	pingErr error
	chatErr error
	reply   string
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) StreamChat(ctx context.Context, messages []Message, options StreamOptions) (<-chan StreamResponse, error) {
	f.calls++
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	ch := make(chan StreamResponse, 2)
	ch <- StreamResponse{Content: f.reply}
	ch <- StreamResponse{Finished: true}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) Ping(context.Context) error { return f.pingErr }

func (f *fakeProvider) DefaultModel() string { return f.name + "-model" }

func TestManager_Routing(t *testing.T) {
	tests := []struct {
		name        string
		primary     *fakeProvider
		backup      *fakeProvider
		wantReply   string
		wantErr     error
		wantCurrent string
	}{
		{
			name:        "healthy default answers",
			primary:     &fakeProvider{name: "openai", reply: "from openai"},
			backup:      &fakeProvider{name: "ollama", reply: "from ollama"},
			wantReply:   "from openai",
			wantCurrent: "openai-model",
		},
		{
			name:        "unhealthy default is skipped",
			primary:     &fakeProvider{name: "openai", pingErr: errors.New("401")},
			backup:      &fakeProvider{name: "ollama", reply: "from ollama"},
			wantReply:   "from ollama",
			wantCurrent: "ollama-model",
		},
		{
			name:        "refused request falls back",
			primary:     &fakeProvider{name: "openai", chatErr: errors.New("bad request")},
			backup:      &fakeProvider{name: "ollama", reply: "from ollama"},
			wantReply:   "from ollama",
			wantCurrent: "ollama-model",
		},
		{
			name:    "nothing healthy",
			primary: &fakeProvider{name: "openai", pingErr: errors.New("down")},
			backup:  &fakeProvider{name: "ollama", pingErr: errors.New("down")},
			wantErr: ErrNoProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManagerWithProviders(Config{FallbackProviders: []string{"ollama"}}, tt.primary, tt.backup)
			defer m.Close()

			got, err := m.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hello"}}, StreamOptions{})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantReply, got)
			assert.Equal(t, tt.wantCurrent, m.CurrentModel())
		})
	}
}

func TestManager_Status(t *testing.T) {
	primary := &fakeProvider{name: "openai"}
	backup := &fakeProvider{name: "ollama", pingErr: errors.New("model llama3 is not pulled")}
	extra := &fakeProvider{name: "local"}

	m := NewManagerWithProviders(Config{FallbackProviders: []string{"ollama"}}, primary, backup, extra)
	defer m.Close()

	status := m.Status()
	require.Len(t, status, 3)

	assert.Equal(t, "openai", status[0].Name)
	assert.True(t, status[0].Available)
	assert.True(t, status[0].Current)

	assert.Equal(t, "ollama", status[1].Name)
	assert.False(t, status[1].Available)
	assert.Equal(t, "model llama3 is not pulled", status[1].Error)

	// Healthy but not in the routing order, so never current.
	assert.Equal(t, "local", status[2].Name)
	assert.False(t, status[2].Current)
}

func TestNewManager_UnbuildableProviderIsReported(t *testing.T) {
	m := NewManager(Config{
		DefaultProvider: "openai",
		Providers: map[string]ProviderConfig{
			"openai": {},
			"gemini": {},
		},
	})
	defer m.Close()

	byName := map[string]ProviderStatus{}
	for _, st := range m.Status() {
		byName[st.Name] = st
	}
	assert.Contains(t, byName["openai"].Error, "API key is required")
	assert.Contains(t, byName["gemini"].Error, "unknown provider type")

	_, err := m.Complete(context.Background(), nil, StreamOptions{})
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestOllamaProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusOK)
		case "/api/tags":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"models":[{"name":"llama3:latest"},{"name":"nomic-embed-text:latest"}]}`))
		case "/v1/chat/completions":
			assert.Empty(t, r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Any fever?\"},\"finish_reason\":\"stop\"}]}\n\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(ProviderConfig{Endpoint: srv.URL + "/"})
	require.NoError(t, err)
	assert.Equal(t, "llama3", p.DefaultModel())

	require.NoError(t, p.Ping(context.Background()))

	models, err := p.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3:latest", "nomic-embed-text:latest"}, models)

	ch, err := p.StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "I feel sick"}}, StreamOptions{})
	require.NoError(t, err)
	text, err := Collect(ch)
	require.NoError(t, err)
	assert.Equal(t, "Any fever?", text)

	missing, err := NewOllamaProvider(ProviderConfig{Endpoint: srv.URL, DefaultModel: "mistral"})
	require.NoError(t, err)
	assert.ErrorContains(t, missing.Ping(context.Background()), "mistral is not pulled")
}
