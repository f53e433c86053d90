package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadfunnel/internal/api"
	"github.com/sells-group/leadfunnel/internal/conversion"
	"github.com/sells-group/leadfunnel/internal/crm"
	"github.com/sells-group/leadfunnel/internal/funnel"
	"github.com/sells-group/leadfunnel/internal/leadlog"
	"github.com/sells-group/leadfunnel/internal/resilience"
	"github.com/sells-group/leadfunnel/internal/store"
	"github.com/sells-group/leadfunnel/pkg/brevo"
	"github.com/sells-group/leadfunnel/pkg/metacapi"
	"github.com/sells-group/leadfunnel/pkg/sheets"
)

// appEnv holds the initialized store, integrations and funnel needed by the
// serve command.
type appEnv struct {
	Store    store.Store
	Funnel   *funnel.Funnel
	CRM      *crm.Syncer
	Log      *leadlog.Log
	Reporter *conversion.Reporter
	Breakers *resilience.Breakers
}

// Close waits for in-flight conversion events and releases the store.
func (ae *appEnv) Close() {
	if ae.Funnel != nil {
		ae.Funnel.Wait()
	}
	if ae.Store != nil {
		_ = ae.Store.Close()
	}
}

// Server builds the HTTP API over the environment.
func (ae *appEnv) Server() *api.Server {
	return api.New(api.Deps{
		Funnel:   ae.Funnel,
		CRM:      ae.CRM,
		Log:      ae.Log,
		Reporter: ae.Reporter,
		Breakers: ae.Breakers,
	}, api.Options{
		PublicBaseURL:  cfg.Server.PublicBaseURL,
		CountryCode:    cfg.Funnel.CountryCode,
		CookieName:     cfg.Session.CookieName,
		CookieSecure:   cfg.Session.CookieSecure,
		SessionTTL:     sessionTTL(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
}

func sessionTTL() time.Duration {
	return time.Duration(cfg.Session.TTLHours) * time.Hour
}

// initStore opens and migrates the session store selected by config.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Session.Driver, cfg.Session.DatabaseURL, sessionTTL())
	if err != nil {
		return nil, eris.Wrap(err, "open session store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate session store")
	}
	return st, nil
}

// initSheets returns the Sheets client, or nil when the lead log is not
// configured.
func initSheets(ctx context.Context) (sheets.Client, error) {
	if !cfg.SheetsConfigured() {
		return nil, nil
	}
	opts := []sheets.Option{sheets.WithRateLimit(cfg.Sheets.RateLimit)}
	if cfg.Sheets.CredentialsJSON != "" {
		opts = append(opts, sheets.WithCredentialsJSON([]byte(cfg.Sheets.CredentialsJSON)))
	} else {
		opts = append(opts, sheets.WithCredentialsFile(cfg.Sheets.CredentialsFile))
	}
	client, err := sheets.NewClient(ctx, cfg.Sheets.SpreadsheetID, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "init google sheets")
	}
	return client, nil
}

// initApp wires every integration and the funnel. Unconfigured integrations
// are left nil and reported as such. Callers should defer env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	if err := cfg.Validate("serve"); err != nil {
		return nil, err
	}

	routes, err := funnel.ParseRoutes(cfg.Funnel.Routes)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	breakers := resilience.NewBreakers(resilience.FromConfig(cfg.Resilience.FailureThreshold, cfg.Resilience.ResetTimeoutSecs))

	var brevoClient brevo.Client
	if cfg.CRMConfigured() {
		brevoClient = brevo.NewClient(cfg.Brevo.APIKey,
			brevo.WithBaseURL(cfg.Brevo.BaseURL),
			brevo.WithRateLimit(cfg.Brevo.RateLimit),
		)
	} else {
		zap.L().Warn("brevo api key not set, crm sync disabled")
	}

	sheetsClient, err := initSheets(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if sheetsClient == nil {
		zap.L().Warn("google sheets not configured, lead log disabled")
	}

	var capiClient metacapi.Client
	if cfg.MetaConfigured() {
		capiClient = metacapi.NewClient(cfg.Meta.PixelID, cfg.Meta.AccessToken,
			metacapi.WithBaseURL(cfg.Meta.BaseURL),
			metacapi.WithAPIVersion(cfg.Meta.APIVersion),
		)
	} else {
		zap.L().Warn("meta pixel not configured, conversion reporting disabled")
	}

	env := &appEnv{
		Store:    st,
		CRM:      crm.New(brevoClient, cfg.Brevo.ListID),
		Log:      leadlog.New(sheetsClient, cfg.Sheets.SheetName),
		Reporter: conversion.New(capiClient, cfg.Meta.DefaultSourceURL, conversion.WithBreaker(breakers.Get(resilience.IntegrationConversion))),
		Breakers: breakers,
	}
	env.Funnel = funnel.New(funnel.Deps{
		Store:         env.Store,
		CRM:           env.CRM,
		Log:           env.Log,
		Reporter:      env.Reporter,
		Breakers:      env.Breakers,
		CountryCode:   cfg.Funnel.CountryCode,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		VideoID:       cfg.Funnel.VideoID,
		Routes:        routes,
	})

	zap.L().Info("funnel initialized",
		zap.String("session_driver", cfg.Session.Driver),
		zap.Bool("crm", cfg.CRMConfigured()),
		zap.Bool("sheets", sheetsClient != nil),
		zap.Bool("conversions", cfg.MetaConfigured()),
	)
	return env, nil
}
