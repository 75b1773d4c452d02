// Package app assembles the engine from configuration for the CLI and the HTTP server.
package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/rezonia/einvoicing/internal/config"
	"github.com/rezonia/einvoicing/internal/gateway"
	"github.com/rezonia/einvoicing/internal/jurisdiction"
	"github.com/rezonia/einvoicing/internal/jurisdiction/france"
	"github.com/rezonia/einvoicing/internal/jurisdiction/germany"
	"github.com/rezonia/einvoicing/internal/jurisdiction/spain"
	"github.com/rezonia/einvoicing/internal/jurisdiction/supported"
	"github.com/rezonia/einvoicing/internal/ledger"
	"github.com/rezonia/einvoicing/internal/ledger/gormstore"
	"github.com/rezonia/einvoicing/internal/logger"
	"github.com/rezonia/einvoicing/internal/processor"
	"github.com/rezonia/einvoicing/internal/signature"
	"github.com/rezonia/einvoicing/internal/signature/trust"
	sigxml "github.com/rezonia/einvoicing/internal/signature/xml"
)

// App is an assembled engine
type App struct {
	Pipeline *processor.Pipeline
	Registry *jurisdiction.Registry
	Gateway  *gateway.Gateway
	// Metrics holds the engine's collectors, served on /metrics
	Metrics *prometheus.Registry
}

// New wires the ledger, transport channels, signing material and jurisdictions described by cfg
func New(cfg *config.Config) (*App, error) {
	log := logger.WithComponent("app")

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}

	gwLog := logger.WithComponent("gateway")
	gw := gateway.New(gateway.Config{
		Timeout:    cfg.Send.Timeout,
		Timeouts:   cfg.Send.Timeouts,
		Backoff:    cfg.Send.Retry,
		Store:      store,
		Registerer: metrics,
		Logger:     &gwLog,
	})

	deps, err := jurisdictionDeps(cfg, gw)
	if err != nil {
		return nil, err
	}
	registry, err := supported.NewRegistry(deps)
	if err != nil {
		return nil, err
	}

	opts := []processor.PipelineOption{processor.WithLogger(logger.WithComponent("processor"))}
	if cfg.Signing.TrustCAFile != "" {
		ts, err := trust.NewTrustStore(trust.WithCAFile(cfg.Signing.TrustCAFile))
		if err != nil {
			return nil, fmt.Errorf("trust store: %w", err)
		}
		opts = append(opts, processor.WithVerifiers(signature.NewVerifierRegistry(sigxml.NewXMLVerifier(ts))))
		log.Info().Int("roots", len(ts.RootCerts())).Msg("signature verification enabled")
	}

	log.Info().
		Interface("countries", registry.Countries()).
		Bool("persistent_ledger", cfg.Database.DSN != "").
		Msg("engine ready")

	return &App{
		Pipeline: processor.NewPipeline(registry, opts...),
		Registry: registry,
		Gateway:  gw,
		Metrics:  metrics,
	}, nil
}

func openStore(cfg *config.Config, log zerolog.Logger) (ledger.Store, error) {
	if cfg.Database.DSN == "" {
		log.Debug().Msg("using in-memory submission ledger")
		return ledger.NewMemoryStore(), nil
	}
	store, err := gormstore.Open(cfg.Database.DSN, cfg.App.Debug)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func jurisdictionDeps(cfg *config.Config, gw *gateway.Gateway) (supported.Deps, error) {
	frLog := logger.WithComponent("chorus")
	deLog := logger.WithComponent("xrechnung")
	esLog := logger.WithComponent("aeat")
	base := logger.WithComponent("jurisdiction")

	deps := supported.Deps{
		Gateway: gw,
		Logger:  &base,
		France: []france.Option{
			france.WithProfile(cfg.FacturXProfile),
			france.WithChorus(france.NewChorusChannel(france.ChorusConfig{
				Env:     cfg.Chorus.Env,
				BaseURL: cfg.Chorus.BaseURL,
				Token:   cfg.Chorus.Token,
				Timeout: cfg.Send.Timeout,
				Logger:  &frLog,
			})),
		},
		Germany: []germany.Option{
			germany.WithXRechnung(germany.NewXRechnungChannel(germany.XRechnungConfig{
				BaseURL: cfg.XRechnung.BaseURL,
				Token:   cfg.XRechnung.Token,
				Timeout: cfg.Send.Timeout,
				Logger:  &deLog,
			})),
		},
		Spain: []spain.Option{
			spain.WithChannel(spain.NewAEATChannel(spain.AEATConfig{
				Env:     cfg.AEAT.Env,
				URL:     cfg.AEAT.BaseURL,
				Timeout: cfg.Send.Timeout,
				Logger:  &esLog,
			})),
		},
	}

	if cfg.Signing.CertFile != "" {
		signer, err := sigxml.LoadSignerFiles(cfg.Signing.CertFile, cfg.Signing.KeyFile)
		if err != nil {
			return deps, err
		}
		deps.Spain = append(deps.Spain, spain.WithSigner(signer))
	}
	return deps, nil
}
