package main

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/gatekeeper/app/auth"
	"github.com/umputun/gatekeeper/app/registry"
	"github.com/umputun/gatekeeper/app/server"
	"github.com/umputun/gatekeeper/app/store"
)

// SharedOptions contains options shared between all commands
type SharedOptions struct {
	DB    string `short:"d" long:"db" env:"GATEKEEPER_DB" default:"gatekeeper.db" description:"database URL (sqlite file or postgres://...)"`
	Debug bool   `long:"dbg" env:"DEBUG" description:"debug mode"`
}

// openStore makes the store for the command, logs are set up first
func (o SharedOptions) openStore() (*store.Store, error) {
	setupLogs(o.Debug)
	st, err := store.New(o.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return st, nil
}

// ServerCmd implements the server subcommand
type ServerCmd struct {
	SharedOptions

	Server struct {
		Address         string        `long:"address" env:"ADDRESS" default:":8080" description:"server listen address"`
		ReadTimeout     time.Duration `long:"read-timeout" env:"READ_TIMEOUT" default:"5s" description:"read timeout"`
		WriteTimeout    time.Duration `long:"write-timeout" env:"WRITE_TIMEOUT" default:"30s" description:"write timeout"`
		IdleTimeout     time.Duration `long:"idle-timeout" env:"IDLE_TIMEOUT" default:"60s" description:"idle timeout"`
		ShutdownTimeout time.Duration `long:"shutdown-timeout" env:"SHUTDOWN_TIMEOUT" default:"5s" description:"graceful shutdown timeout"`
		BodyLimit       int64         `long:"body-limit" env:"BODY_LIMIT" default:"1048576" description:"max request body size in bytes"`
		RequestsPerSec  int64         `long:"rps" env:"RPS" default:"1000" description:"max requests per second"`
	} `group:"server" namespace:"server" env-namespace:"GATEKEEPER_SERVER"`

	Token struct {
		Algorithm     string        `long:"alg" env:"ALG" default:"HS256" description:"pinned token signing algorithm (HS256, RS256, ES256)"`
		Secret        string        `long:"secret" env:"SECRET" description:"shared secret for HS256"`
		PublicKeyFile string        `long:"public-key" env:"PUBLIC_KEY" description:"PEM public key file for RS256 and ES256"`
		Issuer        string        `long:"issuer" env:"ISSUER" description:"expected token issuer"`
		Audience      string        `long:"audience" env:"AUDIENCE" description:"expected token audience"`
		Leeway        time.Duration `long:"leeway" env:"LEEWAY" default:"5s" description:"clock skew allowance"`
	} `group:"token" namespace:"token" env-namespace:"GATEKEEPER_TOKEN"`

	Scoped struct {
		Enabled bool          `long:"enabled" env:"ENABLED" description:"allow per-resource policy mode (static half of the flag)"`
		Flag    string        `long:"flag" env:"FLAG" default:"scoped_auth" description:"persisted flag name"`
		TTL     time.Duration `long:"ttl" env:"TTL" default:"60s" description:"persisted flag cache ttl"`
	} `group:"scoped" namespace:"scoped" env-namespace:"GATEKEEPER_SCOPED"`

	HMAC struct {
		Secret    string        `long:"secret" env:"SECRET" description:"request signing secret"`
		Tolerance time.Duration `long:"tolerance" env:"TOLERANCE" default:"5m" description:"max signature timestamp skew"`
	} `group:"hmac" namespace:"hmac" env-namespace:"GATEKEEPER_HMAC"`

	Registry struct {
		File      string `long:"file" env:"FILE" description:"registry file with resources and flags (yml)"`
		HotReload bool   `long:"hot-reload" env:"HOT_RELOAD" description:"watch registry file for changes and sync"`
	} `group:"registry" namespace:"registry" env-namespace:"GATEKEEPER_REGISTRY"`

	Cache struct {
		Size int           `long:"size" env:"SIZE" default:"1000" description:"max cached resource policies"`
		TTL  time.Duration `long:"ttl" env:"TTL" default:"30s" description:"resource policy cache ttl"`
	} `group:"cache" namespace:"cache" env-namespace:"GATEKEEPER_CACHE"`

	Limit struct {
		Requests int           `long:"requests" env:"REQUESTS" description:"max requests per subject in a window, 0 disables"`
		Window   time.Duration `long:"window" env:"WINDOW" default:"1m" description:"rate limit window"`
	} `group:"limit" namespace:"limit" env-namespace:"GATEKEEPER_LIMIT"`

	Production bool `long:"production" env:"GATEKEEPER_PRODUCTION" description:"production mode, no digest previews in logs"`

	ctx    context.Context
	cancel context.CancelFunc
}

// Execute runs the server command
func (s *ServerCmd) Execute(_ []string) error {
	setupLogs(s.Debug)

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		signals(s.cancel)
	}

	return s.run(s.ctx)
}

func (s *ServerCmd) run(ctx context.Context) error {
	log.Printf("[INFO] starting gatekeeper server on %s", s.Server.Address)

	st, err := s.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	policies, err := store.NewCachedRegistry(st, s.Cache.Size, s.Cache.TTL)
	if err != nil {
		return fmt.Errorf("failed to initialize policy cache: %w", err)
	}
	defer policies.Close()

	reg := registry.New(s.Registry.File, policies, st)
	if reg != nil {
		if err := reg.Sync(ctx); err != nil {
			return fmt.Errorf("failed to sync registry: %w", err)
		}
	}

	dispatcher, err := s.makeDispatcher(st, policies)
	if err != nil {
		return err
	}

	params := server.Params{Auth: dispatcher, Store: st}
	if reg != nil {
		params.Registry = reg
	}
	if s.Limit.Requests > 0 {
		params.Limiter = auth.NewRateLimiter(s.Limit.Requests, s.Limit.Window, 0)
		log.Printf("[INFO] rate limit %d requests per %v", s.Limit.Requests, s.Limit.Window)
	}

	srv, err := server.New(params, server.Config{
		Address:           s.Server.Address,
		ReadTimeout:       s.Server.ReadTimeout,
		WriteTimeout:      s.Server.WriteTimeout,
		IdleTimeout:       s.Server.IdleTimeout,
		ShutdownTimeout:   s.Server.ShutdownTimeout,
		Version:           revision,
		RegistryHotReload: s.Registry.HotReload,
		BodySizeLimit:     s.Server.BodyLimit,
		RequestsPerSec:    s.Server.RequestsPerSec,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// makeDispatcher wires verifiers, flag gate and resolver from the options
func (s *ServerCmd) makeDispatcher(st *store.Store, policies auth.Registry) (*auth.Dispatcher, error) {
	params := auth.DispatcherParams{
		Keys:     auth.NewKeyVerifier(st, s.Production),
		Gate:     auth.NewFlagGate(st, auth.FlagGateConfig{Static: s.Scoped.Enabled, TTL: s.Scoped.TTL}),
		FlagName: s.Scoped.Flag,
		Resolver: auth.NewPolicyResolver(policies),
		HMAC:     auth.NewHMACVerifier([]byte(s.HMAC.Secret), s.HMAC.Tolerance),
	}

	tokens, err := s.makeTokenVerifier()
	if err != nil {
		return nil, err
	}
	if tokens != nil {
		params.Tokens = tokens
		log.Printf("[INFO] bearer tokens enabled, alg=%s", tokens.Algorithm())
	} else {
		log.Printf("[WARN] no token secret or public key, bearer tokens disabled")
	}

	if s.Scoped.Enabled {
		log.Printf("[INFO] scoped mode allowed, persisted flag %q, ttl %v", s.Scoped.Flag, s.Scoped.TTL)
	}
	if s.HMAC.Secret != "" {
		log.Printf("[DEBUG] hmac secret %s", maskSecret(s.HMAC.Secret))
	}

	d, err := auth.NewDispatcher(params)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	return d, nil
}

// makeTokenVerifier returns nil verifier if no key material is configured
func (s *ServerCmd) makeTokenVerifier() (*auth.TokenVerifier, error) {
	cfg := auth.TokenConfig{Algorithm: s.Token.Algorithm, Issuer: s.Token.Issuer, Audience: s.Token.Audience,
		Leeway: s.Token.Leeway}
	switch {
	case s.Token.PublicKeyFile != "":
		pem, err := os.ReadFile(s.Token.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read token public key: %w", err)
		}
		cfg.PublicKeyPEM = pem
	case s.Token.Secret != "":
		cfg.Secret = []byte(s.Token.Secret)
	default:
		return nil, nil
	}

	tv, err := auth.NewTokenVerifier(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}
	return tv, nil
}

// SyncCmd implements the sync subcommand
type SyncCmd struct {
	SharedOptions

	File string `short:"f" long:"file" env:"GATEKEEPER_REGISTRY_FILE" required:"true" description:"registry file (yml)"`
}

// Execute syncs the registry file once
func (c *SyncCmd) Execute(_ []string) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := registry.New(c.File, st, st).Sync(context.Background()); err != nil {
		return fmt.Errorf("failed to sync registry: %w", err)
	}
	return nil
}

// maskSecret shows only the first 4 characters
func maskSecret(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + "****"
}
