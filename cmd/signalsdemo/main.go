// Command signalsdemo wires up two declared signals, a throttled
// notification, and a queue pump, with the throttle interval taken from a
// small TOML scenario file, to exercise the dispatch core end to end.
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
	signals "github.com/joeycumines/go-signals"
	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"
)

// scenario is the shape of the demo's TOML configuration file.
type scenario struct {
	ThrottleIntervalMS int      `toml:"throttle_interval_ms"`
	Signals            []string `toml:"signals"`
}

func loadScenario(path string) (scenario, error) {
	var sc scenario
	if path == "" {
		return scenario{ThrottleIntervalMS: 50, Signals: []string{"Changed", "Closed"}}, nil
	}
	_, err := toml.DecodeFile(path, &sc)
	return sc, err
}

type widget struct {
	Changed *signals.SignalInstance
	Closed  *signals.SignalInstance
}

var (
	changedSignal = signals.New(signals.WithCheckNArgs(true))
	closedSignal  = signals.New()
)

func newWidget() *widget {
	w := &widget{}
	w.Changed = changedSignal.Bind(w, "Changed")
	w.Closed = closedSignal.Bind(w, "Closed")
	return w
}

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})); err != nil {
		fmt.Fprintln(os.Stderr, "signalsdemo: maxprocs.Set:", err)
	}

	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	logger := logiface.New[*izerolog.Event](
		izerolog.WithZerolog(zl),
		logiface.WithLevel(logiface.LevelDebug),
	)
	sink := signals.NewLogifaceLogger(logger)

	var configPath string
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	sc, err := loadScenario(configPath)
	if err != nil {
		logger.Err().Err(err).Log("signalsdemo: loading scenario")
		os.Exit(1)
	}
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Log("signalsdemo: starting")

	w := newWidget()
	_, _ = w.Changed.Connect(func(args ...any) {
		logger.Info().Any("args", args).Log("signalsdemo: Changed fired")
	})
	_, _ = w.Closed.Connect(func(args ...any) {
		logger.Info().Log("signalsdemo: Closed fired")
	})

	queue := signals.NewQueue(sink)
	stopPump := signals.StartPump(queue, 25*time.Millisecond)
	defer stopPump()

	interval := time.Duration(sc.ThrottleIntervalMS) * time.Millisecond
	throttled := signals.NewThrottler(func(args []any) {
		logger.Info().Any("args", args).Log("signalsdemo: throttled notification fired")
	}, interval, signals.PolicyTrailing, signals.WithThrottleLogger(sink))

	for i := 0; i < 5; i++ {
		throttled.Call(i)
		_ = w.Changed.Emit(i)
	}
	throttled.Flush()
	_ = w.Closed.Emit()

	logger.Info().Log("signalsdemo: done")
}
