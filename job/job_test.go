package job

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plateful/plateful/channel"
)

func TestStatusForStage(t *testing.T) {
	tests := []struct {
		stage string
		want  Status
	}{
		{channel.StageQueued, StatusPending},
		{channel.StageCompleted, StatusCompleted},
		{channel.StageFailed, StatusFailed},
		{"analyzing", StatusRunning},
		{"extracting", StatusRunning},
		{"searching_saved", StatusRunning},
		{"searching_all", StatusRunning},
		{"planning", StatusRunning},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForStage(tt.stage))
		})
	}
}
