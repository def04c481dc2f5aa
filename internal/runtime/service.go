package runtime

import (
	"context"
	"net/http"
	"time"

	"sfdc-subscriber/internal/bayeux"
	"sfdc-subscriber/internal/config"
	"sfdc-subscriber/internal/dispatch"
	"sfdc-subscriber/internal/logging"
	"sfdc-subscriber/internal/oauth"
	"sfdc-subscriber/internal/runstatus"
	"sfdc-subscriber/internal/subscriber"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	shutdownTimeout    = 10 * time.Second
)

type Service interface {
	RunContext(ctx context.Context) error
}

// Hooks lets the caller observe the running subscriber. OnEvent replaces the
// default handler, which logs each event. OnLog receives every published log
// event while RunContext runs.
type Hooks struct {
	OnEvent       dispatch.Handler
	OnStateChange func(from, to runstatus.State)
	OnLog         func(logging.Event)
}

type service struct {
	opts    config.Options
	logger  *logging.Logger
	client  *subscriber.Client
	handler dispatch.Handler
	onLog   func(logging.Event)
}

func NewService(opts config.Options, logger *logging.Logger) (Service, error) {
	return NewServiceWithHooks(opts, logger, Hooks{})
}

func NewServiceWithHooks(opts config.Options, logger *logging.Logger, hooks Hooks) (Service, error) {
	if logger == nil {
		panic("runtime.NewServiceWithHooks: logger must not be nil")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	provider, err := oauth.NewProvider(httpClient, oauth.Credentials{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		LoginURL:     opts.LoginURL,
	}, logger.With(logging.Field("component", "oauth")))
	if err != nil {
		return nil, err
	}
	logger.Debug("constructed endpoints",
		logging.Field("token_url", provider.TokenURL),
		logging.Field("api_version", opts.APIVersion),
		logging.Field("channels", opts.Channels),
	)

	transport := bayeux.NewTransport(httpClient, opts.APIVersion, logger.With(logging.Field("component", "bayeux")))
	transport.ForceHTTP1 = opts.ForceHTTP1

	client := subscriber.New(provider, transport, subscriber.Options{
		Backoff: subscriber.BackoffSettings{
			Initial: opts.BackoffInitial,
			Max:     opts.BackoffMax,
			Jitter:  opts.BackoffJitter,
		},
		MaxAttempts:   opts.MaxAttempts,
		AsyncDispatch: opts.AsyncDispatch,
		OnStateChange: hooks.OnStateChange,
	}, logger.With(logging.Field("component", "subscriber")))

	handler := hooks.OnEvent
	if handler == nil {
		handler = logEventHandler(logger)
	}
	return &service{opts: opts, logger: logger, client: client, handler: handler, onLog: hooks.OnLog}, nil
}

// RunContext subscribes the configured channels and streams until ctx ends
// or the client gives up.
func (s *service) RunContext(ctx context.Context) error {
	if s.onLog != nil {
		unsubscribe := s.logger.Subscribe(s.onLog)
		defer unsubscribe()
	}
	for _, channel := range s.opts.Channels {
		if err := s.client.Subscribe(ctx, channel, s.handler); err != nil {
			return err
		}
	}
	s.logger.Info("starting subscriber", logging.Field("channels", s.opts.Channels))
	s.client.Connect(ctx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.client.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("subscriber did not stop in time", logging.Field("error", err))
		}
		if state := s.client.State(); state.Active() {
			s.logger.Warn("subscriber loop still owns the connection", logging.Field("state", state.String()))
		}
		s.logger.Info("subscriber stopped")
		return ctx.Err()
	case <-s.client.Done():
		err := s.client.Err()
		s.logger.Error("subscriber stopped", logging.Field("state", s.client.State().String()), logging.Field("error", err))
		return err
	}
}

func logEventHandler(logger *logging.Logger) dispatch.Handler {
	return func(_ context.Context, ev bayeux.Event) error {
		logger.Info("event received",
			logging.Field("channel", ev.Channel),
			logging.Field("id", ev.ID),
			logging.Field("replay_id", ev.ReplayID),
			logging.Field("payload", logging.FormatHTTPPayload(ev.Data)),
		)
		return nil
	}
}
