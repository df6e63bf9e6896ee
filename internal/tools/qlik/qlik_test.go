package qlik

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/datakitchen/observability-agent/internal/tools/common"
)

func TestMapStatus(t *testing.T) {
	cases := map[int]string{
		0:  common.StatusRunning,
		1:  common.StatusRunning,
		2:  common.StatusRunning,
		3:  common.StatusRunning,
		4:  common.StatusRunning,
		5:  common.StatusRunning,
		6:  common.StatusFailed,
		7:  common.StatusCompleted,
		8:  common.StatusFailed,
		9:  common.StatusCompletedWithWarnings,
		42: common.StatusUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapStatus(in), "status %d", in)
	}
}
