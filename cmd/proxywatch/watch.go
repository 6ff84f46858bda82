package main

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/cuemby/proxywatch/pkg/api"
	"github.com/cuemby/proxywatch/pkg/events"
	"github.com/cuemby/proxywatch/pkg/log"
	"github.com/cuemby/proxywatch/pkg/render"
	"github.com/cuemby/proxywatch/pkg/stream"
	"github.com/cuemby/proxywatch/pkg/types"
)

// watcher is the runtime shared by the live commands: an event broker the
// sessions publish to, the renderer subscribed to it, and the optional
// status server.
type watcher struct {
	broker *events.Broker
	sub    events.Subscriber
	server *api.StatusServer
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	sessions map[string]func() api.SessionInfo

	// failed receives the channel name of every session whose connection
	// gave up reconnecting
	failed chan string
}

func newWatcher(showSource bool) *watcher {
	w := &watcher{
		broker:   events.NewBroker(),
		done:     make(chan struct{}),
		sessions: make(map[string]func() api.SessionInfo),
		failed:   make(chan string, 8),
	}
	w.broker.Start()

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	sub := w.broker.Subscribe()
	w.sub = sub
	go func() {
		defer close(w.done)
		if cli.output == "json" {
			render.NewJSONLines(os.Stdout).Run(ctx, sub)
			return
		}
		render.NewConsole(os.Stdout, render.Options{
			NoColor:    cli.noColor,
			ShowSource: showSource,
		}).Run(ctx, sub)
	}()

	if addr := cli.cfg.MetricsAddr; addr != "" {
		w.server = api.NewStatusServer(w.list)
		go func() {
			if err := w.server.Start(addr); err != nil {
				log.Logger.Error().Err(err).Str("addr", addr).Msg("Status server failed")
			}
		}()
		log.Logger.Info().Str("addr", addr).Msg("Status server listening")
	}

	return w
}

func (w *watcher) streamOptions() []stream.Option {
	return []stream.Option{stream.WithPolicy(cli.cfg.Policy())}
}

// register makes a session visible on /sessions
func (w *watcher) register(id string, info func() api.SessionInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessions[id] = info
}

func (w *watcher) list() []api.SessionInfo {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]api.SessionInfo, 0, len(w.sessions))
	for _, info := range w.sessions {
		out = append(out, info())
	}
	return out
}

// stateHandler publishes transitions and reports terminal failures
func (w *watcher) stateHandler(source string) func(types.StateChange) {
	return func(change types.StateChange) {
		w.broker.Publish(events.NewStateEvent(source, change))
		if change.To == types.StateFailed {
			select {
			case w.failed <- source:
			default:
			}
		}
	}
}

func (w *watcher) noticeHandler(source string) func(error) {
	return func(err error) {
		w.broker.Publish(events.NewNoticeEvent(source, err))
	}
}

// close flushes pending events to the renderer and stops the status server
func (w *watcher) close() {
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.server.Shutdown(ctx); err != nil {
			log.Logger.Warn().Err(err).Msg("Status server shutdown")
		}
		cancel()
	}

	// Unsubscribing closes the channel; the renderer drains what is
	// buffered before it returns.
	w.broker.Stop()
	w.broker.Unsubscribe(w.sub)
	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		w.cancel()
		<-w.done
	}
	w.cancel()
}
