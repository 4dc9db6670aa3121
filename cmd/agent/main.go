// Command agent is a headless call client: it rings for incoming invitations,
// answers them according to a fixed policy and can place one outbound call.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	callmem "github.com/Wyydra/yacall/internal/adapter/driven/call/memory"
	"github.com/Wyydra/yacall/internal/adapter/driven/realtime/wsclient"
	"github.com/Wyydra/yacall/internal/adapter/driven/store/api"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/Wyydra/yacall/internal/platform/bearer"
	"github.com/Wyydra/yacall/internal/platform/config"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type autoAnswer string

const (
	answerNone    autoAnswer = "none"
	answerAccept  autoAnswer = "accept"
	answerDecline autoAnswer = "decline"
)

type agentConfig struct {
	APIURL           string        `env:"YA_API_URL" envDefault:"http://localhost:8080"`
	WSURL            string        `env:"YA_WS_URL" envDefault:"ws://localhost:8080/realtime"`
	Token            string        `env:"YA_TOKEN"`
	TokenFile        string        `env:"YA_TOKEN_FILE"`
	UserID           string        `env:"YA_USER_ID,required"`
	RingTimeout      time.Duration `env:"YA_RING_TIMEOUT" envDefault:"60s"`
	CallTimeout      time.Duration `env:"YA_CALL_TIMEOUT" envDefault:"60s"`
	PropagationDelay time.Duration `env:"YA_PROPAGATION_DELAY" envDefault:"400ms"`
	AuthRetryDelay   time.Duration `env:"YA_AUTH_RETRY_DELAY" envDefault:"1s"`
	AutoAnswer       autoAnswer    `env:"YA_AUTO_ANSWER" envDefault:"none"`
	CallMeeting      string        `env:"YA_CALL_MEETING"`
	CallUser         string        `env:"YA_CALL_USER"`
	LogLevel         string        `env:"YA_LOG_LEVEL" envDefault:"info"`
}

func main() {
	var cfg agentConfig
	if err := config.ParseEnv(&cfg); err != nil {
		config.Exitf("agent: %v", err)
	}
	switch cfg.AutoAnswer {
	case answerNone, answerAccept, answerDecline:
	default:
		config.Exitf("agent: YA_AUTO_ANSWER must be none, accept or decline, got %q", cfg.AutoAnswer)
	}
	user, err := domain.ParseUserID(cfg.UserID)
	if err != nil {
		config.Exitf("agent: YA_USER_ID: %v", err)
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		config.Exitf("agent: log level %q: %v", cfg.LogLevel, err)
	}

	w := zerolog.ConsoleWriter{Out: os.Stdout}
	log.Logger = zerolog.New(w).Level(level).With().Timestamp().Caller().Str("user_id", user.String()).Logger()
	l := log.Logger

	tokens, closeTokens, err := tokenSource(cfg)
	if err != nil {
		config.Exitf("agent: %v", err)
	}
	defer closeTokens()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, err := wsclient.Dial(ctx, wsclient.Config{URL: cfg.WSURL})
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to connect")
	}

	clk := clock.New()
	loop := service.NewLoop()
	gateway := service.NewGateway(transport, service.NewConnection(tokens), loop, clk, service.GatewayConfig{
		PropagationDelay: cfg.PropagationDelay,
		AuthRetryDelay:   cfg.AuthRetryDelay,
	})
	gateway.OnDegraded(func(err error) {
		l.Warn().Err(err).Msg("Realtime delivery degraded, relying on reconciliation")
	})

	store := api.NewClient(cfg.APIURL, tokens, nil)
	registry := service.NewRegistry(sessionConference{Conference: callmem.NewConference(), store: store})
	callee := service.NewCallee(user, service.CalleeDeps{
		Store:    store,
		Ringer:   callmem.NewRinger(),
		Registry: registry,
		Gateway:  gateway,
		Loop:     loop,
		Clock:    clk,
	}, service.CalleeConfig{RingTimeout: cfg.RingTimeout})

	answered := ""
	callee.OnView(func(v service.CalleeView) {
		l.Info().
			Str("state", string(v.State)).
			Str("caller", v.CallerName).
			Str("title", v.MeetingTitle).
			Str("presentation", string(v.Offer.Presentation)).
			Msg("Incoming call")
		if !v.Ringing() || answered == v.Invitation.ParticipantID.String() {
			return
		}
		answered = v.Invitation.ParticipantID.String()
		switch cfg.AutoAnswer {
		case answerAccept:
			_ = callee.Accept()
		case answerDecline:
			_ = callee.Decline()
		}
	})
	callee.OnError(func(err error) {
		l.Error().Err(err).Msg("Call answer not recorded")
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(loop.Run(gctx)) })
	g.Go(func() error {
		if err := ignoreCanceled(gateway.Run(gctx)); err != nil {
			return err
		}
		if gctx.Err() == nil {
			return errors.New("realtime connection closed")
		}
		return nil
	})
	g.Go(func() error {
		if err := callee.Start(gctx); err != nil {
			l.Warn().Err(err).Msg("Listening for invitations without realtime")
		}
		if cfg.CallMeeting == "" || cfg.CallUser == "" {
			return nil
		}
		return placeCall(gctx, cfg, store, service.CallerDeps{
			Store:    store,
			Gateway:  gateway,
			Registry: registry,
			Loop:     loop,
			Clock:    clk,
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := gateway.Close(cctx); err != nil {
			l.Warn().Err(err).Msg("Close realtime connection failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		l.Error().Err(err).Msg("Agent failed")
		os.Exit(1)
	}
	l.Info().Msg("Agent exited")
}

func placeCall(ctx context.Context, cfg agentConfig, store port.Store, deps service.CallerDeps) error {
	meeting, err := domain.ParseMeetingID(cfg.CallMeeting)
	if err != nil {
		return err
	}
	callee, err := domain.ParseUserID(cfg.CallUser)
	if err != nil {
		return err
	}

	l := log.With().Str("callee", callee.String()).Logger()
	invite, err := service.Dial(ctx, store, meeting, callee)
	if err != nil {
		l.Error().Err(err).Msg("Outgoing call not placed")
		return nil
	}
	caller := service.NewCaller(invite, deps, service.CallerConfig{CallTimeout: cfg.CallTimeout})
	caller.OnState(func(s service.CallerState) {
		l.Info().Str("state", string(s)).Msg("Outgoing call")
	})
	// The call timeout still resolves the call when the status channel is down.
	if err := caller.Start(ctx); err != nil {
		l.Warn().Err(err).Msg("Call status unavailable, waiting for timeout")
	}
	return nil
}

func tokenSource(cfg agentConfig) (port.TokenSource, func(), error) {
	switch {
	case cfg.TokenFile != "":
		f, err := bearer.WatchFile(cfg.TokenFile)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { _ = f.Close() }, nil
	case cfg.Token != "":
		return port.StaticToken(cfg.Token), func() {}, nil
	}
	return nil, nil, errors.New("one of YA_TOKEN or YA_TOKEN_FILE is required")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type sessionLeaver interface {
	Leave(ctx context.Context, meeting domain.MeetingID) (domain.Participant, error)
}

// sessionConference records every session exit in the store once the engine
// has left. The exit stands locally even when the record fails.
type sessionConference struct {
	port.Conference
	store sessionLeaver
}

func (c sessionConference) Leave(ctx context.Context, meeting domain.MeetingID) error {
	if err := c.Conference.Leave(ctx, meeting); err != nil {
		return err
	}
	if _, err := c.store.Leave(ctx, meeting); err != nil {
		log.Warn().Err(err).Str("meeting_id", meeting.String()).Msg("Leave not recorded")
	}
	return nil
}
