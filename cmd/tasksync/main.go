package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/agentworkforce/tasksync/internal/credential"
	"github.com/agentworkforce/tasksync/internal/httpapi"
	"github.com/agentworkforce/tasksync/internal/procsync"
	"github.com/agentworkforce/tasksync/internal/tracker"
)

func main() {
	addr := os.Getenv("TASKSYNC_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	logger := log.Default()

	taskStore, links, credentialStore, err := buildStoresFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}

	validator, err := tracker.NewPayloadValidator()
	if err != nil {
		log.Fatalf("failed to compile tracker schemas: %v", err)
	}
	client := tracker.NewHTTPClient(tracker.ClientOptions{
		BaseURL:    os.Getenv("TASKSYNC_TRACKER_BASE_URL"),
		HTTPClient: &http.Client{Timeout: durationEnv("TASKSYNC_TRACKER_TIMEOUT", 20*time.Second)},
		UserAgent:  "tasksync/1.0",
		Validator:  validator,
	})
	fetcher, err := tracker.NewFetcher(client, logger)
	if err != nil {
		log.Fatalf("failed to build fetcher: %v", err)
	}

	manager, err := credential.NewManager(credential.ManagerOptions{
		Store:           credentialStore,
		OAuth:           oauthConfigFromEnv(),
		FreshnessWindow: durationEnv("TASKSYNC_CREDENTIAL_FRESHNESS", 0),
		Logger:          logger,
	})
	if err != nil {
		log.Fatalf("failed to build credential manager: %v", err)
	}

	syncer, err := procsync.NewSyncer(procsync.SyncerOptions{
		Store:       taskStore,
		Links:       links,
		Credentials: manager,
		Fetcher:     fetcher,
		Directory:   client,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("failed to build syncer: %v", err)
	}

	server := httpapi.NewServer(syncer, httpapi.ServerConfig{
		JWTSecret:       os.Getenv("TASKSYNC_JWT_SECRET"),
		RateLimitMax:    intEnv("TASKSYNC_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("TASKSYNC_RATE_LIMIT_WINDOW", time.Minute),
		SyncTimeout:     durationEnv("TASKSYNC_SYNC_TIMEOUT", 2*time.Minute),
	})

	log.Printf("tasksync listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func buildStoresFromEnv() (procsync.TaskStore, procsync.ProcessLinks, credential.Store, error) {
	dsn := strings.TrimSpace(os.Getenv("TASKSYNC_DB_DSN"))
	if dsn != "" {
		store, err := procsync.NewPostgresStore(dsn)
		if err != nil {
			return nil, nil, nil, err
		}
		credStore, err := credential.NewPostgresStore(dsn)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, credStore, nil
	}

	log.Printf("TASKSYNC_DB_DSN not set; using in-memory stores")
	links := procsync.NewMemoryLinks()
	for _, link := range parseDevLinks(os.Getenv("TASKSYNC_DEV_LINKS")) {
		links.Set(link)
	}
	return procsync.NewMemoryStore(), links, credential.NewMemoryStore(), nil
}

func oauthConfigFromEnv() *oauth2.Config {
	tokenURL := strings.TrimSpace(os.Getenv("TASKSYNC_OAUTH_TOKEN_URL"))
	if tokenURL == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     os.Getenv("TASKSYNC_OAUTH_CLIENT_ID"),
		ClientSecret: os.Getenv("TASKSYNC_OAUTH_CLIENT_SECRET"),
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// parseDevLinks reads comma-separated processID:projectID:ownerID triples.
func parseDevLinks(raw string) []procsync.ProcessLink {
	var links []procsync.ProcessLink
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ":")
		if len(fields) != 3 {
			log.Printf("skipping malformed TASKSYNC_DEV_LINKS entry %q", entry)
			continue
		}
		links = append(links, procsync.ProcessLink{
			ProcessID: strings.TrimSpace(fields[0]),
			ProjectID: strings.TrimSpace(fields[1]),
			OwnerID:   strings.TrimSpace(fields[2]),
		})
	}
	return links
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
