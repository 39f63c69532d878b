package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		input string
		words int
		want  string
	}{
		{"Favorite Color", 3, "favorite_color"},
		{"my dog's name is Rex", 3, "my_dog_s"},
		{"  Café  au lait!! ", 3, "café_au_lait"},
		{"one two three four five", 0, "one_two_three_four_five"},
		{"---", 3, ""},
		{"Tokyo 2025 trip", 2, "tokyo_2025"},
	}
	for _, tt := range tests {
		got := NormalizeKey(tt.input, tt.words)
		if got != tt.want {
			t.Errorf("NormalizeKey(%q, %d) = %q, want %q", tt.input, tt.words, got, tt.want)
		}
	}
}

func TestExtractExplicit(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantKey   string
		wantValue string
		wantOK    bool
	}{
		{"remember that", "Please, remember that my sister lives in Porto.", "my_sister_lives", "my sister lives in Porto", true},
		{"please remember", "please remember: dentist on fridays", "dentist_on_fridays", "dentist on fridays", true},
		{"remember colon", "Remember: 42 is the answer", "42_is_the", "42 is the answer", true},
		{"dont forget", "Don't forget that I am vegetarian!", "i_am_vegetarian", "I am vegetarian", true},
		{"note that", "note that the wifi password changed", "the_wifi_password", "the wifi password changed", true},
		{"my x is y", "My favorite color is teal", "favorite_color", "teal", true},
		{"prefer", "I prefer green tea in the morning", "green_tea_in", "prefers green tea in the morning", true},
		{"like", "i really like jazz", "jazz", "likes jazz", true},
		{"love", "I love hiking.", "hiking", "loves hiking", true},
		{"dislike", "I dislike cilantro", "cilantro", "dislikes cilantro", true},
		{"fallback key", "remember that !!! ???", "", "", false},
		{"symbols only remainder", "remember that ¿¡ ok", "ok", "¿¡ ok", true},
		{"no rule", "What's the weather tomorrow?", "", "", false},
		{"empty", "   ", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, value, ok := ExtractExplicit(tt.input)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.wantKey, key)
			require.Equal(t, tt.wantValue, value)
		})
	}
}

func TestExtractExplicitIgnoresNegatedRequests(t *testing.T) {
	for _, in := range []string{
		"I don't remember that movie at all",
		"I do not remember that place",
		"honestly I can’t remember that song",
		"we never note that kind of thing",
		"I don't really remember that trip",
	} {
		_, _, ok := ExtractExplicit(in)
		require.False(t, ok, in)
	}

	// a later rule can still match
	key, value, ok := ExtractExplicit("I don't remember that, but my locker code is 4411")
	require.True(t, ok)
	require.Equal(t, "locker_code", key)
	require.Equal(t, "4411", value)

	_, value, ok = ExtractExplicit("Remember that I never eat pork")
	require.True(t, ok)
	require.Equal(t, "I never eat pork", value)
}

func TestExtractExplicitFallbackKey(t *testing.T) {
	key, value, ok := ExtractExplicit("remember that ★★★")
	require.True(t, ok)
	require.Equal(t, FallbackKey, key)
	require.Equal(t, "★★★", value)
}

func TestExtractExplicitFirstRuleWins(t *testing.T) {
	// "remember that" is ordered before the "my ... is" rule
	key, value, ok := ExtractExplicit("remember that my car is blue")
	require.True(t, ok)
	require.Equal(t, "my_car_is", key)
	require.Equal(t, "my car is blue", value)
}

func TestExtractExplicitIsIdempotent(t *testing.T) {
	inputs := []string{
		"Remember that I moved to Berlin in 2021",
		"I prefer aisle seats",
		"my cat is called Miso",
	}
	for _, in := range inputs {
		k1, v1, ok1 := ExtractExplicit(in)
		k2, v2, ok2 := ExtractExplicit(in)
		require.Equal(t, ok1, ok2)
		require.Equal(t, k1, k2)
		require.Equal(t, v1, v2)
	}
}
