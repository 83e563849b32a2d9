package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ncecere/voice_translator/internal/apiclient"
	"github.com/ncecere/voice_translator/internal/audio"
	"github.com/ncecere/voice_translator/internal/auth"
	"github.com/ncecere/voice_translator/internal/config"
	"github.com/ncecere/voice_translator/internal/connectivity"
	"github.com/ncecere/voice_translator/internal/credits"
	"github.com/ncecere/voice_translator/internal/direction"
	"github.com/ncecere/voice_translator/internal/health"
	"github.com/ncecere/voice_translator/internal/redisclient"
	"github.com/ncecere/voice_translator/internal/translation"
)

const usage = `usage: translatorctl [flags] COMMAND [ARGS]

commands:
  translate FILE         submit a WAV or raw PCM recording in the active direction
  balance                print the server balance
  entitle PRODUCT [TXID] credit a verified purchase of a catalog product
  health                 probe the backend once
  languages              list the languages the backend accepts
  direction [show|swap|set SRC TGT|favorite]
  token [TTL]            issue a bearer token for -user (needs auth.jwt_secret)

flags:
`

type session struct {
	cfg      *config.Config
	userID   string
	logger   *slog.Logger
	client   *apiclient.Client
	probe    *health.Probe
	coord    *translation.Coordinator
	registry *direction.Registry
}

func main() {
	configFile := flag.String("config", "", "path to translator.yaml")
	userID := flag.String("user", os.Getenv("TRANSLATOR_USER_ID"), "user id to act as")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "token" {
		if err := issueToken(cfg, *userID, args); err != nil {
			log.Fatal(err)
		}
		return
	}

	if err := cfg.ValidateClient(); err != nil {
		log.Fatalf("validate config: %v", err)
	}
	s, err := newSession(ctx, cfg, *userID, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer s.coord.Close()

	switch cmd {
	case "translate":
		err = s.translate(ctx, args)
	case "balance":
		err = s.balance(ctx)
	case "entitle":
		err = s.entitle(ctx, args)
	case "health":
		err = s.health(ctx)
	case "languages":
		err = s.languages(ctx)
	case "direction":
		err = s.direction(args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func newSession(ctx context.Context, cfg *config.Config, userID string, logger *slog.Logger) (*session, error) {
	client, err := apiclient.New(apiclient.Options{
		BaseURL:   cfg.Client.BaseURL,
		AuthToken: cfg.Client.AuthToken,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	probe := health.NewProbe(health.Options{
		Checker:         client,
		Timeout:         cfg.Client.QuickCheckTimeout,
		HealthyWindow:   cfg.Client.CacheValidDuration,
		UnhealthyWindow: cfg.Client.UnhealthyCacheDuration,
		Interval:        cfg.Client.ProbeInterval,
		Logger:          logger,
	})
	network, err := connectivity.NewDialMonitor(cfg.Client.BaseURL, cfg.Client.ConnectivityInterval, cfg.Client.QuickCheckTimeout, logger)
	if err != nil {
		return nil, err
	}
	network.Poll(ctx)
	network.Subscribe(probe.OnConnectivityChange)

	coord, err := translation.New(translation.Options{
		API:          client,
		Probe:        probe,
		Connectivity: network,
		Config:       cfg.Client,
		Logger:       logger,
		OnRetry: func(attempt int, delay time.Duration) {
			logger.Info("retrying translation", "attempt", attempt, "delay", delay)
		},
	})
	if err != nil {
		return nil, err
	}

	var mirror direction.Mirror
	if rc := redisclient.New(cfg.Redis); rc != nil && userID != "" {
		mirror = direction.NewRedisMirror(rc, cfg.Client.MirrorKeyPrefix, userID)
	}
	registry := direction.NewRegistry(ctx, direction.Options{Mirror: mirror, Logger: logger})

	return &session{
		cfg:      cfg,
		userID:   userID,
		logger:   logger,
		client:   client,
		probe:    probe,
		coord:    coord,
		registry: registry,
	}, nil
}

func (s *session) requireUser() error {
	if s.userID == "" {
		return errors.New("-user or TRANSLATOR_USER_ID is required")
	}
	return nil
}

func (s *session) translate(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("translate: expected one audio file")
	}
	if err := s.requireUser(); err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read recording: %w", err)
	}
	payload := audio.NewPayload(data)
	d := s.registry.Active()
	res, err := s.coord.Submit(ctx, payload, d, s.userID)
	if err != nil {
		var terr *translation.Error
		if errors.As(err, &terr) && terr.Kind == translation.KindAmbiguous {
			return fmt.Errorf("outcome unknown, balance will be reconciled: %w", err)
		}
		return err
	}
	fmt.Printf("[%s] %s\n", res.Direction.Source, res.SourceText)
	fmt.Printf("[%s] %s\n", res.Direction.Target, res.TargetText)
	fmt.Printf("request=%s duration=%smin charged=%s replayed=%t attempts=%d\n",
		res.RequestID, res.DurationMinutes.String(), res.CreditsCharged.String(), res.Replayed, res.Attempts)
	printSnapshot(res.Balance)
	return nil
}

func (s *session) balance(ctx context.Context) error {
	if err := s.requireUser(); err != nil {
		return err
	}
	snap, err := s.coord.RefreshBalance(ctx, s.userID)
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

func (s *session) entitle(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("entitle: expected PRODUCT [TXID]")
	}
	if err := s.requireUser(); err != nil {
		return err
	}
	txID := uuid.NewString()
	if len(args) == 2 {
		txID = args[1]
	}
	snap, err := s.coord.ApplyEntitlement(ctx, translation.Entitlement{
		UserID:        s.userID,
		ProductID:     args[0],
		TransactionID: txID,
	})
	if err != nil {
		return err
	}
	fmt.Printf("transaction=%s applied\n", txID)
	printSnapshot(snap)
	return nil
}

func (s *session) health(ctx context.Context) error {
	v, err := s.probe.Check(ctx)
	fmt.Printf("state=%s\n", v.State)
	return err
}

func (s *session) languages(ctx context.Context) error {
	langs, err := s.client.Languages(ctx)
	if err != nil {
		return err
	}
	for _, l := range langs {
		fmt.Printf("%-4s %-8s %s\n", l.Code, l.Locale, l.Name)
	}
	return nil
}

func (s *session) direction(args []string) error {
	sub := "show"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "show":
	case "swap":
		s.registry.Swap()
	case "set":
		if len(args) != 3 {
			return errors.New("direction set: expected SRC TGT")
		}
		if err := s.registry.SetActive(direction.New(args[1], args[2])); err != nil {
			return err
		}
	case "favorite":
		if _, err := s.registry.ToggleFavorite(s.registry.Active()); err != nil {
			return err
		}
	default:
		return fmt.Errorf("direction: unknown subcommand %q", sub)
	}
	fmt.Printf("active=%s\n", s.registry.Active().Key())
	for _, d := range s.registry.Favorites() {
		fmt.Printf("favorite=%s\n", d.Key())
	}
	for _, d := range s.registry.Recents() {
		fmt.Printf("recent=%s\n", d.Key())
	}
	return nil
}

func issueToken(cfg *config.Config, userID string, args []string) error {
	if userID == "" {
		return errors.New("-user or TRANSLATOR_USER_ID is required")
	}
	tm, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	ttl := 24 * time.Hour
	if len(args) > 0 {
		if ttl, err = time.ParseDuration(args[0]); err != nil {
			return fmt.Errorf("token ttl: %w", err)
		}
	}
	token, exp, err := tm.Issue(userID, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
	return nil
}

func printSnapshot(s credits.Snapshot) {
	switch {
	case s.IsUnlimited || s.IsAdmin:
		fmt.Printf("balance: unlimited (used %s min)\n", s.UsedMinutes.String())
	default:
		fmt.Printf("balance: %s min remaining, %s used, %s purchased (v%d)\n",
			s.RemainingMinutes.String(), s.UsedMinutes.String(), s.TotalPurchasedMinutes.String(), s.Version)
	}
}
