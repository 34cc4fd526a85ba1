package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilClientDisabled(t *testing.T) {
	c := NewClient("", 10)
	assert.False(t, c.Enabled())
	_, err := c.Complete(context.Background(), "", "hi", 10)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestCompleteAgainstServer(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"content":[{"text":"Astrid: \"Morning, Bram!\"\nShe waves."}],"usage":{"input_tokens":3,"output_tokens":4}}`))
	}))
	defer srv.Close()

	c := NewClient("key", 1)
	c.url = srv.URL

	line, err := GenerateMessage(context.Background(), c, KindStart, &ConversationContext{
		Name:      "Astrid",
		OtherName: "Bram",
		Memories:  []string{"I sold Bram a loaf yesterday."},
	}, 64)
	require.NoError(t, err)
	assert.Equal(t, "Morning, Bram!", line)
	assert.Equal(t, 64, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content, "I sold Bram a loaf yesterday.")
	assert.Contains(t, got.Messages[0].Content, "Open the conversation")

	_, err = c.Complete(context.Background(), "", "again", 10)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("key", 10)
	c.url = srv.URL
	_, err := c.Complete(context.Background(), "", "hi", 10)
	assert.ErrorContains(t, err, "status 503")
}

func TestCleanLine(t *testing.T) {
	assert.Equal(t, "Hello there", CleanLine("  \"Hello there\"  ", "Finn"))
	assert.Equal(t, "Hi", CleanLine("Finn: Hi\nmore", "Finn"))
	assert.Equal(t, "Greta: Hi", CleanLine("Greta: Hi", "Finn"))
	assert.Empty(t, CleanLine("   ", "Finn"))
}

func TestParseImportance(t *testing.T) {
	for in, want := range map[string]float64{
		"7":                  7,
		"I'd say 3.5.":       3.5,
		"12":                 9,
		"Rating: 0 (boring)": 0,
	} {
		got, err := ParseImportance(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseImportance("very")
	assert.Error(t, err)
}

type fixed string

func (fixed) Enabled() bool { return true }
func (f fixed) Complete(context.Context, string, string, int) (string, error) {
	return string(f), nil
}

func TestChooseActivity(t *testing.T) {
	opts := []string{"reading", "daydreaming", "gardening"}
	i, err := ChooseActivity(context.Background(), fixed("2"), "Elara", "", "", opts)
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	_, err = ChooseActivity(context.Background(), fixed("5"), "Elara", "", "", opts)
	assert.Error(t, err)
}
