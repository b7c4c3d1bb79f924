package logsvc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trezcool/maker/core"
	"github.com/trezcool/maker/core/user"
)

func TestRollbarLogger(t *testing.T) {
	obsCore, logs := observer.New(zap.DebugLevel)
	logger := NewRollbarLogger(zap.New(obsCore), core.NewTestConfig())
	logger.Enable(false)

	usr := user.User{ID: "u1", Username: "ada", Email: "ada@maker.test"}
	logger.Error("verifying code", errors.New("boom"), map[string]interface{}{"code": "ABC234"}, usr)
	logger.Info("started")

	entries := logs.AllUntimed()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "verifying code", entries[0].Message)
		assert.Equal(t, zap.ErrorLevel, entries[0].Level)
		ctx := entries[0].ContextMap()
		assert.Equal(t, "boom", ctx["error"])
		assert.Equal(t, "ABC234", ctx["code"])
		assert.Equal(t, "u1", ctx["user_id"])
		assert.NotContains(t, ctx, "email")

		assert.Equal(t, "started", entries[1].Message)
		assert.Equal(t, zap.InfoLevel, entries[1].Level)
	}
}
