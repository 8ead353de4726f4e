package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nodegeo/nodegeo/provider"
	"github.com/nodegeo/nodegeo/resolver"
	"github.com/nodegeo/nodegeo/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve lookups over HTTP",
	Run:   execServe,
}

// Engine is the part of the resolver the API needs.
type Engine interface {
	Query(ctx context.Context, address string, opts resolver.QueryOptions) *utils.GeoResult
	Stats() resolver.Stats
	ProviderUsage() []*provider.UsageStats
	ResetStats()
	ClearCache(ctx context.Context)
	EnableOnlineServices(enabled bool)
	SetFallbackCooldown(cooldown time.Duration)
	LocalDatabaseInfo() (provider.Metadata, bool)
	RefreshLocal(ctx context.Context) error
}

var _ Engine = (*resolver.Resolver)(nil)

type statsResponse struct {
	Resolver  resolver.Stats         `json:"resolver"`
	Providers []*provider.UsageStats `json:"providers"`
}

type api struct {
	engine Engine
}

func init() {
	serveCmd.PersistentFlags().String("binding", "0.0.0.0", "API binding")
	serveCmd.PersistentFlags().Int("port", 9912, "API port")
	serveCmd.PersistentFlags().Duration("refresh", 24*time.Hour, "local database refresh interval, 0 disables it")

	viper.BindPFlag("api.binding", serveCmd.PersistentFlags().Lookup("binding"))
	viper.BindPFlag("api.port", serveCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("local.refresh", serveCmd.PersistentFlags().Lookup("refresh"))

	rootCmd.AddCommand(serveCmd)
}

func boolParam(c echo.Context, name string, def bool) (bool, error) {
	value := c.QueryParam(name)
	if value == "" {
		return def, nil
	}

	return cast.ToBoolE(value)
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, utils.ErrorResponse{Error: err.Error()})
}

func (a *api) getIP(c echo.Context) error {
	ctx := c.Request().Context()
	address := c.Param("address")

	class := utils.Classify(address)
	if class == utils.Invalid {
		return badRequest(c, utils.IpAddressError{})
	}
	if !class.IsPublic() {
		log.Debug().Str("address", address).Str("class", class.String()).Msg("not a public address")
		return c.JSON(http.StatusOK, utils.UnknownLocation(address))
	}

	online, err := boolParam(c, "online", false)
	if err != nil {
		return badRequest(c, err)
	}
	fallback, err := boolParam(c, "fallback", true)
	if err != nil {
		return badRequest(c, err)
	}

	result := a.engine.Query(ctx, address, resolver.QueryOptions{ForceOnline: online, EnableFallback: fallback})
	if result == nil {
		if online {
			sentry.CaptureMessage(fmt.Sprintf("online providers exhausted for %s", address))
		}
		return c.JSON(http.StatusNotFound, utils.ErrorResponse{Error: "no location found"})
	}

	return c.JSON(http.StatusOK, result)
}

func (a *api) getStats(c echo.Context) error {
	return c.JSON(http.StatusOK, statsResponse{
		Resolver:  a.engine.Stats(),
		Providers: a.engine.ProviderUsage(),
	})
}

func (a *api) resetStats(c echo.Context) error {
	a.engine.ResetStats()
	return c.NoContent(http.StatusNoContent)
}

func (a *api) getDatabase(c echo.Context) error {
	meta, ok := a.engine.LocalDatabaseInfo()
	if !ok {
		return c.JSON(http.StatusNotFound, utils.ErrorResponse{Error: utils.DatabaseUnavailableError{}.Error()})
	}

	return c.JSON(http.StatusOK, meta)
}

func (a *api) clearCache(c echo.Context) error {
	a.engine.ClearCache(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

func (a *api) setOnline(c echo.Context) error {
	enabled, err := cast.ToBoolE(c.QueryParam("enabled"))
	if err != nil {
		return badRequest(c, err)
	}

	a.engine.EnableOnlineServices(enabled)
	log.Info().Bool("enabled", enabled).Msg("online services switched")

	return c.JSON(http.StatusOK, a.engine.Stats())
}

func (a *api) setCooldown(c echo.Context) error {
	seconds, err := cast.ToFloat64E(c.QueryParam("seconds"))
	if err != nil {
		return badRequest(c, err)
	}
	if seconds < 0 {
		return badRequest(c, fmt.Errorf("cooldown must not be negative"))
	}

	a.engine.SetFallbackCooldown(time.Duration(seconds * float64(time.Second)))
	log.Info().Float64("seconds", seconds).Msg("fallback cooldown changed")

	return c.JSON(http.StatusOK, a.engine.Stats())
}

func ping(c echo.Context) error {
	return c.String(http.StatusOK, "pong")
}

func newServer(engine Engine) *echo.Echo {
	a := &api{engine: engine}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestID())
	e.Use(utils.RequestLogger(&log.Logger, "/_ping", "/metrics"))

	e.GET("/_ping", ping)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/v1/ip/:address", a.getIP)
	e.GET("/v1/stats", a.getStats)
	e.DELETE("/v1/stats", a.resetStats)
	e.GET("/v1/database", a.getDatabase)
	e.DELETE("/v1/cache", a.clearCache)
	e.PUT("/v1/online", a.setOnline)
	e.PUT("/v1/cooldown", a.setCooldown)

	return e
}

func execServe(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	engine, _, err := newEngine(ctx, resolver.NewMetrics())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build the resolver")
	}
	defer engine.Close()

	if err := startServer(ctx, engine); err != nil {
		log.Fatal().Err(err).Msg("failed to start the api server")
	}
}

// refreshLocal downloads a fresh database when a source is configured and
// reopens it.
func refreshLocal(ctx context.Context, engine Engine) {
	if source, ok := databaseSource(); ok {
		if _, err := downloadDatabase(ctx, source); err != nil {
			log.Error().Err(err).Msg("failed to download the local database")
			sentry.CaptureException(err)
			return
		}
	}

	if err := engine.RefreshLocal(ctx); err != nil {
		log.Error().Err(err).Msg("failed to refresh the local database")
	}
}

func startServer(ctx context.Context, engine Engine) error {
	e := newServer(engine)
	address := fmt.Sprintf("%s:%d", viper.GetString("api.binding"), viper.GetInt("api.port"))

	go func() {
		log.Info().Str("address", address).Msg("api server listening")
		if err := e.Start(address); err != nil {
			if err != http.ErrServerClosed {
				log.Error().Err(err).Msg("failed to start the server")
			}
		}
	}()

	refreshCtx, stopRefresh := context.WithCancel(ctx)
	defer stopRefresh()

	if interval := viper.GetDuration("local.refresh"); interval > 0 {
		ticker := time.NewTicker(interval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					log.Info().Msg("refreshing local database")
					refreshLocal(refreshCtx, engine)
				case <-refreshCtx.Done():
					log.Info().Msg("stopping refresh")
					return
				}
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	stopRefresh()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return e.Shutdown(shutdownCtx)
}
