package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertColorCodes(t *testing.T) {
	assert.Equal(t, "&ahello &bworld", ConvertColorCodes("%ahello %bworld"))
	assert.Equal(t, "100%", ConvertColorCodes("100%"))
	assert.Equal(t, "%z", ConvertColorCodes("%z"))
}

func TestStripColorCodes(t *testing.T) {
	assert.Equal(t, "Alice joined the game", StripColorCodes("&eAlice joined the game"))
	assert.Equal(t, "a & b", StripColorCodes("a & b"))
}

func TestWrapMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, WrapMessage("short"))

	words := strings.Repeat("word ", 20)
	lines := WrapMessage("&c" + strings.TrimSpace(words))
	assert.Greater(t, len(lines), 1)
	for _, l := range lines {
		assert.LessOrEqual(t, len([]rune(l)), LineWidth)
	}
	for _, l := range lines[1:] {
		assert.True(t, strings.HasPrefix(l, "&c"), "line %q lost its colour", l)
	}

	unbroken := strings.Repeat("a", 150)
	lines = WrapMessage(unbroken)
	assert.Equal(t, []string{unbroken[:64], unbroken[64:128], unbroken[128:]}, lines)
}

func TestDowngradeCP437(t *testing.T) {
	assert.Equal(t, "caf?", DowngradeCP437("café"))
	assert.Equal(t, "plain", DowngradeCP437("plain"))
}
