package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/9seconds/ipgeo/geolib"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
)

const (
	version = "1.0.0"

	defaultEnvFile  = ".env"
	shutdownTimeout = 10 * time.Second
)

var (
	app = kingpin.New(
		"ipgeo",
		"Caching IP geolocation service")

	debug = app.Flag("debug", "Run in debug mode.").
		Short('d').
		Envar("IPGEO_DEBUG").
		Bool()
	envFile = app.Flag("env-file", "Path to the dotenv file.").
		Default(defaultEnvFile).
		String()

	serveCommand = app.Command("serve", "Run HTTP server.")
	serveConfig  = serveCommand.Arg("config-path", "Path to the config.").
			Required().
			File()

	lookupCommand = app.Command("lookup", "Lookup IP addresses and print results.")
	lookupConfig  = lookupCommand.Arg("config-path", "Path to the config.").
			Required().
			File()
	lookupIPs = lookupCommand.Arg("ip", "IP addresses to lookup.").
			Required().
			Strings()

	checkCommand = app.Command("check", "Check that config is valid and providers are ready.")
	checkConfig  = checkCommand.Arg("config-path", "Path to the config.").
			Required().
			File()
)

func init() {
	app.Version(version)
}

// envFileFromArgs extracts a value of --env-file before kingpin parses
// arguments: envars have to be loaded before flags are resolved.
func envFileFromArgs(args []string) string {
	for i, v := range args {
		switch {
		case v == "--env-file" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(v, "--env-file="):
			return strings.TrimPrefix(v, "--env-file=")
		}
	}

	return defaultEnvFile
}

func loadEnvFile(fs afero.Fs, path string) error {
	file, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("cannot open env file: %w", err)
	}

	defer file.Close()

	values, err := godotenv.Parse(file)
	if err != nil {
		return fmt.Errorf("cannot parse env file: %w", err)
	}

	for k, v := range values {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}

		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("cannot set %s: %w", k, err)
		}
	}

	return nil
}

func main() {
	fs := afero.NewOsFs()

	if err := loadEnvFile(fs, envFileFromArgs(os.Args[1:])); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	log := newLogger(os.Stderr, *debug)

	var err error

	switch command {
	case serveCommand.FullCommand():
		err = runServe(fs, *serveConfig, log)
	case lookupCommand.FullCommand():
		err = runLookup(fs, *lookupConfig, *lookupIPs, log)
	case checkCommand.FullCommand():
		err = runCheck(fs, *checkConfig, log)
	}

	if err != nil {
		log.appLog.Fatal().Err(err).Msg("command has failed")
	}
}

func readConfig(file *os.File) (*config, error) {
	defer file.Close()

	return parseConfig(file)
}

func runServe(fs afero.Fs, file *os.File, log *logger) error {
	conf, err := readConfig(file)
	if err != nil {
		return fmt.Errorf("cannot read config: %w", err)
	}

	ctx, cancel := makeRootContext()
	defer cancel()

	cache, reloaders, closeCache, err := makeLookupCache(fs, conf, log)
	if err != nil {
		return err
	}

	defer closeCache()

	sched, err := newScheduler(conf, cache, reloaders, log)
	if err != nil {
		return err
	}

	sched.Start()
	defer sched.Stop()

	mtrcs := newMetrics(cache)
	router := chi.NewRouter()

	router.Use(log.AccessLog, mtrcs.Middleware)
	router.Method(http.MethodGet, "/metrics", mtrcs.Handler())
	router.Mount("/", geolib.NewHTTPHandler(cache, newBasicAuth(conf.Admin)))

	srv := &http.Server{
		Addr:              conf.GetListen(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	shutdownDone := make(chan struct{})

	go func() {
		defer close(shutdownDone)

		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		srv.Shutdown(shutdownCtx) // nolint: errcheck
	}()

	log.appLog.Info().
		Str("listen", conf.GetListen()).
		Str("provider", cache.ProviderName()).
		Msg("starting server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server has failed: %w", err)
	}

	// in-flight requests still use the cache
	<-shutdownDone

	return nil
}

func runLookup(fs afero.Fs, file *os.File, ips []string, log *logger) error {
	conf, err := readConfig(file)
	if err != nil {
		return fmt.Errorf("cannot read config: %w", err)
	}

	ctx, cancel := makeRootContext()
	defer cancel()

	cache, _, closeCache, err := makeLookupCache(fs, conf, log)
	if err != nil {
		return err
	}

	defer closeCache()

	encoder := json.NewEncoder(os.Stdout)

	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")

	if len(ips) == 1 {
		result, err := cache.Lookup(ctx, ips[0])
		if err != nil {
			return fmt.Errorf("cannot lookup %s: %w", ips[0], err)
		}

		return encoder.Encode(result)
	}

	results, err := cache.LookupBatch(ctx, ips)
	if err != nil {
		return fmt.Errorf("cannot lookup addresses: %w", err)
	}

	return encoder.Encode(results)
}

func runCheck(fs afero.Fs, file *os.File, log *logger) error {
	conf, err := readConfig(file)
	if err != nil {
		return fmt.Errorf("cannot read config: %w", err)
	}

	cache, _, closeCache, err := makeLookupCache(fs, conf, log)
	if err != nil {
		return err
	}

	defer closeCache()

	if err := cache.Ready(); err != nil {
		return fmt.Errorf("provider is not ready: %w", err)
	}

	log.appLog.Info().Str("provider", cache.ProviderName()).Msg("config is valid")

	return nil
}
