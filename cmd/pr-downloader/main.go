// Command pr-downloader is the CLI entry point: it parses flags with the
// standard library's flag package (deliberately not a framework, mirroring
// xssnick-tonutils-storage-provider's own cmd/main.go), loads Config,
// builds the process-wide transfer engine and its collaborators, and
// drives one resolver operation to completion before exiting with the
// matching status code.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/beyond-all-reason/pr-downloader/internal/cache"
	"github.com/beyond-all-reason/pr-downloader/internal/certs"
	"github.com/beyond-all-reason/pr-downloader/internal/config"
	"github.com/beyond-all-reason/pr-downloader/internal/extract"
	"github.com/beyond-all-reason/pr-downloader/internal/rapid/repo"
	"github.com/beyond-all-reason/pr-downloader/internal/rapid/sdp"
	"github.com/beyond-all-reason/pr-downloader/internal/resolver"
	"github.com/beyond-all-reason/pr-downloader/internal/search"
	"github.com/beyond-all-reason/pr-downloader/internal/transfer"
)

var (
	springDir           = flag.String("spring-dir", "", "Spring directory to download into (overrides config)")
	configPath          = flag.String("config", "", "Path to a JSON/JSONC config file")
	envPath             = flag.String("env-file", ".env", "Path to a .env file")
	verbosity           = flag.Int("verbosity", 0, "Debug logs (0-3)")
	downloadGame        = flag.String("download-game", "", "Rapid or springname tag of a game to download")
	downloadMap         = flag.String("download-map", "", "Springname of a map to download")
	downloadEngine      = flag.String("download-engine", "", "Version tag of an engine to download")
	rapidValidate       = flag.String("rapid-validate", "", "Validate every pool object under the given rapid root")
	deleteName          = flag.String("delete", "", "Delete a previously downloaded asset by name")
	validateSDPPath     = flag.String("validate-sdp", "", "Check an SDP descriptor's self-consistency")
	dumpSDPPath         = flag.String("dump-sdp", "", "Dump an SDP descriptor's entries to stdout")
	disableFetchDepends = flag.Bool("disable-fetch-depends", false, "Skip transitive dependency resolution")
)

func main() {
	flag.Parse()

	log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger().Level(zerolog.InfoLevel)
	if *verbosity > 0 {
		lvl := zerolog.DebugLevel
		if *verbosity > 1 {
			lvl = zerolog.TraceLevel
		}
		log.Logger = log.Logger.Level(lvl)
	}

	fs := afero.NewOsFs()

	if *validateSDPPath != "" {
		os.Exit(runValidateSDP(fs, *validateSDPPath))
	}
	if *dumpSDPPath != "" {
		os.Exit(runDumpSDP(fs, *dumpSDPPath))
	}
	if *rapidValidate != "" {
		os.Exit(runRapidValidate(fs, *rapidValidate))
	}
	if *deleteName != "" {
		os.Exit(runDelete(fs, *deleteName))
	}

	cfg, err := config.Load(fs, *envPath, *configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *springDir != "" {
		cfg.SpringDir = *springDir
	}

	res, closeDB := buildResolver(fs, cfg)
	defer closeDB()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	items := collectItems()
	if len(items) == 0 {
		log.Error().Msg("nothing to do: pass -download-game, -download-map, or -download-engine")
		os.Exit(resolver.ExitNothingToDo)
	}

	n, err := res.Search(ctx, items)
	if err != nil {
		log.Fatal().Err(err).Msg("search failed")
	}
	if n == 0 {
		log.Error().Msg("no matching candidates found")
		os.Exit(resolver.ExitNothingToDo)
	}
	for _, c := range res.Candidates() {
		if err := res.Add(c.ID); err != nil {
			log.Fatal().Err(err).Msg("failed to select candidate")
		}
	}

	code, err := res.Start(ctx)
	if err != nil {
		log.Error().Err(err).Msg("download finished with errors")
	}
	os.Exit(code)
}

func collectItems() []resolver.Item {
	var items []resolver.Item
	if *downloadGame != "" {
		items = append(items, resolver.Item{Category: "game", Name: *downloadGame})
	}
	if *downloadMap != "" {
		items = append(items, resolver.Item{Category: "map", Name: *downloadMap})
	}
	if *downloadEngine != "" {
		items = append(items, resolver.Item{Category: "engine", Name: *downloadEngine})
	}
	return items
}

// buildResolver wires the process-wide singletons: the shared
// *http.Client (its multiplexed, connection-pooling Transport configured
// once from the certificate settings), the transfer engine, the search
// client and the leveldb-backed rapid index. The returned closer tears down
// the leveldb handle, the one singleton here with an explicit teardown.
func buildResolver(fs afero.Fs, cfg config.Config) (*resolver.Resolver, func()) {
	tlsCfg, err := certs.TLSConfig(fs, certs.Options{
		DisableCertCheck: cfg.DisableCertCheck,
		SSLCertFile:      cfg.SSLCertFile,
		SSLCertDir:       cfg.SSLCertDir,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build TLS config")
	}

	httpClient := transfer.NewClient(tlsCfg)

	engine := transfer.New(transfer.Options{
		Client:        httpClient,
		Fs:            fs,
		Logger:        log.Logger.With().Str("component", "transfer").Logger(),
		RatePerSecond: cfg.MaxHTTPRequestsPerSecond,
	})

	store, err := cache.Open(cfg.SpringDir + "/rapid-index.db")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open rapid index cache")
	}

	res := resolver.New(resolver.Options{
		Config:              cfg,
		Fs:                  fs,
		HTTPClient:          httpClient,
		SearchClient:        search.NewClient(cfg.SearchURL, httpClient),
		Engine:              engine,
		Index:               repo.NewIndex(store),
		Extractor:           extract.Noop{},
		Logger:              log.Logger.With().Str("component", "resolver").Logger(),
		DisableFetchDepends: *disableFetchDepends,
	})
	return res, func() { _ = store.Close() }
}

func runValidateSDP(fs afero.Fs, path string) int {
	ok, err := sdp.ValidateSDP(fs, path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("validate-sdp failed")
		return resolver.ExitDownloadFailed
	}
	if !ok {
		fmt.Println("inconsistent")
		return resolver.ExitDownloadFailed
	}
	fmt.Println("ok")
	return resolver.ExitSuccess
}

func runDumpSDP(fs afero.Fs, path string) int {
	if err := sdp.DumpSDP(fs, path, os.Stdout); err != nil {
		log.Error().Err(err).Str("path", path).Msg("dump-sdp failed")
		return resolver.ExitDownloadFailed
	}
	return resolver.ExitSuccess
}

func runRapidValidate(fs afero.Fs, poolRoot string) int {
	broken, err := repo.ValidatePool(fs, poolRoot)
	if err != nil {
		log.Error().Err(err).Str("root", poolRoot).Msg("rapid-validate failed")
		return resolver.ExitDownloadFailed
	}
	for _, b := range broken {
		fmt.Printf("%s\t%s\t%s\n", b.Descriptor, b.Name, b.MD5)
	}
	if len(broken) > 0 {
		return resolver.ExitDownloadFailed
	}
	return resolver.ExitSuccess
}

func runDelete(fs afero.Fs, name string) int {
	if err := fs.RemoveAll(name); err != nil {
		log.Error().Err(err).Str("name", name).Msg("delete failed")
		return resolver.ExitDownloadFailed
	}
	return resolver.ExitSuccess
}
