package envtest_test

import (
	"testing"

	"github.com/hupe1980/envgo"
	"github.com/hupe1980/envgo/envtest"
)

// The suite is validated against the two reference environments. Backend
// packages run it from their own tests.

func TestMemEnvConformance(t *testing.T) {
	envtest.TestEnv(t, func(t *testing.T) envgo.Env {
		return envgo.NewMemEnv()
	})
}

func TestLocalEnvConformance(t *testing.T) {
	envtest.TestEnv(t, func(t *testing.T) envgo.Env {
		return envgo.NewLocalEnv()
	})
}
