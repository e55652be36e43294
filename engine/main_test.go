package engine

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/joeycumines/go-catrate.(*Limiter).worker"),
		goleak.IgnoreTopFunction("os/signal.signal_recv"),
	)
}
