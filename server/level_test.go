package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextLevel(t *testing.T) {
	tests := []struct {
		current string
		want    string
	}{
		{"one", "two"},
		{"eleven", "tweleve"},
		{"tweleve", "thirteen"},
		{"nineteen", "twenty"},
		{"twenty", "one"},
		{"clancysTempLevel", "tempLevel"},
		{"tempName", "tempLevel"},
		{"bonusStage", "bonusStage"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.current, func(t *testing.T) {
			assert.Equal(t, tt.want, NextLevel(tt.current))
		})
	}
}

func TestNextLevel_CoversWholeSequence(t *testing.T) {
	seen := map[string]bool{}
	level := FirstLevel
	for i := 0; i < len(levelOrder); i++ {
		assert.False(t, seen[level], "level %q visited twice", level)
		seen[level] = true
		level = NextLevel(level)
	}
	assert.Equal(t, FirstLevel, level)
	assert.Len(t, seen, 20)
}

func TestKnownLevel(t *testing.T) {
	assert.True(t, KnownLevel("one"))
	assert.True(t, KnownLevel("tweleve"))
	assert.True(t, KnownLevel("tempLevel"))
	assert.True(t, KnownLevel("clancysTempLevel"))
	assert.False(t, KnownLevel("twelve"))
	assert.False(t, KnownLevel(""))
}
