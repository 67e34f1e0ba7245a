package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "bare object",
			response: `{"title":"Foo"}`,
			want:     `{"title":"Foo"}`,
		},
		{
			name:     "fenced json block",
			response: "Here you go:\n```json\n[{\"title\":\"A\"}]\n```\nEnjoy.",
			want:     `[{"title":"A"}]`,
		},
		{
			name:     "untagged fence",
			response: "```\n{\"a\":1}\n```",
			want:     `{"a":1}`,
		},
		{
			name:     "object embedded in prose",
			response: `Sure! {"title":"Brackets } in strings","n":[1,2]} Hope this helps.`,
			want:     `{"title":"Brackets } in strings","n":[1,2]}`,
		},
		{
			name:     "skips invalid leading bracket",
			response: `[draft] {"ok":true}`,
			want:     `{"ok":true}`,
		},
		{
			name:     "non-json fence ignored",
			response: "```go\nfmt.Println(x)\n```\n[1,2,3]",
			want:     `[1,2,3]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractJSON(tt.response)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
		})
	}
}

func TestExtractJSON_UnclosedBrackets(t *testing.T) {
	t.Parallel()

	t.Run("object after many unclosed openers", func(t *testing.T) {
		t.Parallel()
		response := strings.Repeat("{[", 50000) + `{"ok":true}`
		got, err := ExtractJSON(response)
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, got)
	})

	t.Run("object inside an invalid outer span", func(t *testing.T) {
		t.Parallel()
		got, err := ExtractJSON(`[see {"ok":true} below]`)
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, got)
	})

	t.Run("stray quote in prose ends at the line", func(t *testing.T) {
		t.Parallel()
		got, err := ExtractJSON("{say \"hi\n{\"ok\":true}")
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, got)
	})
}

func TestExtractJSON_NoJSON(t *testing.T) {
	t.Parallel()

	for _, response := range []string{"", "just prose", "{unterminated", "```json\nnot json\n```"} {
		_, err := ExtractJSON(response)
		assert.ErrorIs(t, err, ErrInvalidResponse, "response %q", response)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	var out struct {
		Title string `json:"title"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"title\":\"Foo\"}\n```", &out))
	assert.Equal(t, "Foo", out.Title)

	var wrongShape []string
	err := DecodeJSON(`{"title":"Foo"}`, &wrongShape)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestWordCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, WordCount("   "))
	assert.Equal(t, 4, WordCount("one two\nthree\tfour"))
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTransient(ErrTransientFailure))
	assert.True(t, IsTransient(fmt.Errorf("call: %w", ErrTransientFailure)))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(ErrInvalidResponse))
	assert.False(t, IsTransient(fmt.Errorf("%w: %w", ErrTransientFailure, ErrContentBlocked)))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(errors.New("unclassified")))
	assert.False(t, IsTransient(ErrGenerationFailed))
}
