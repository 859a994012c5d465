package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"coursewatcher/lib/configutil"
	"coursewatcher/lib/restyutil"
	"coursewatcher/lib/scrapers/udemy/browser"
	"coursewatcher/lib/scrapers/udemy/catalog"
	"coursewatcher/lib/scrapers/udemy/completion"
	"coursewatcher/lib/scrapers/udemy/core"
	"coursewatcher/lib/scrapers/udemy/enroll"
	"coursewatcher/lib/scrapers/udemy/solver"
	"coursewatcher/lib/scrapers/udemy/watcher"
	"coursewatcher/lib/serviceutil"
	"coursewatcher/lib/stats"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"
)

type Config struct {
	// the udemy subdomain, e.g. "www" or a business tenant name
	Domain      string           `json:"domain"`
	Credentials core.Credentials `json:"credentials"`

	// accepted course languages/categories, empty accepts everything
	Languages  []string `json:"languages"`
	Categories []string `json:"categories"`

	Headless   bool   `json:"headless"`
	ChromePath string `json:"chrome_path"`

	// optional paths, empty disables the feature
	CacheDb     string `json:"cache_db"`
	RestyOutput string `json:"resty_output"`
}

var linksFile *string

func init() {
	linksFile = watchCmd.Flags().String("links", "", "A text file of course links to process, one per line. Defaults to every enrolled course.")
	rootCmd.AddCommand(watchCmd)
}

func createClient(cfg Config) *core.Client {
	client, err := core.NewClient(core.ClientOptions{
		Domain:      cfg.Domain,
		Credentials: cfg.Credentials,
	})
	if err != nil {
		serviceutil.Fatal("failed to initialize udemy client", err)
	}
	if cfg.RestyOutput != "" {
		restyutil.InstrumentClient(client.Http, restyutil.NewFilesystemOutput(cfg.RestyOutput))
	}
	return client
}

func createBrowser(ctx context.Context, cfg Config) *browser.Chrome {
	startCtx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	chrome, err := browser.NewChrome(startCtx, browser.ChromeOptions{
		ExecPath: cfg.ChromePath,
		Headless: cfg.Headless,
	})
	if err != nil {
		serviceutil.Fatal("failed to start browser", err)
	}

	cookieDomain := "." + cfg.Domain + ".udemy.com"
	err = chrome.SetCookies(startCtx, []browser.Cookie{
		{Name: "access_token", Value: cfg.Credentials.AccessToken, Domain: cookieDomain},
		{Name: "client_id", Value: cfg.Credentials.ClientId, Domain: cookieDomain},
		{Name: "csrftoken", Value: cfg.Credentials.CsrfToken, Domain: cookieDomain},
	})
	if err != nil {
		serviceutil.Fatal("failed to set session cookies", err)
	}
	return chrome
}

var watchCmd = &cobra.Command{
	Use:   "watch [--links <path/to/links.txt>]",
	Short: "Enrolls in the given course links and completes every course.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		client := createClient(cfg)
		chrome := createBrowser(ctx, cfg)
		defer chrome.Close(context.Background())

		var cache *badger.DB
		if cfg.CacheDb != "" {
			cache, err = badger.Open(badger.DefaultOptions(cfg.CacheDb))
			if err != nil {
				serviceutil.Fatal("failed to open cache db", err)
			}
			defer cache.Close()
		}

		st := stats.New()
		resolver := catalog.NewResolver(client, chrome, catalog.ResolverOptions{Cache: cache})
		tracker := completion.NewTracker(client, solver.New(client, chrome))
		enroller := enroll.New(chrome, st, enroll.Options{
			Languages:  cfg.Languages,
			Categories: cfg.Categories,
		})
		w := watcher.New(client, resolver, tracker, enroller, st)

		var links []string
		if *linksFile != "" {
			links, err = watcher.ReadLinksFile(*linksFile)
			if err != nil {
				serviceutil.Fatal("failed to read links file", err)
			}
		} else {
			links, err = w.EnrolledCourseLinks(ctx)
			if err != nil {
				serviceutil.Fatal("failed to list enrolled courses", err)
			}
		}

		errorLinks, err := w.Run(ctx, links)
		st.Table()

		if err != nil && !errors.Is(err, context.Canceled) {
			serviceutil.Fatal("watch run aborted", err)
		}
		if len(errorLinks) > 0 {
			slog.Warn("some courses could not be completed", "links", errorLinks)
		}
	},
}
