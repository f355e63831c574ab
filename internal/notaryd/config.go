package notaryd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Config is the notary's full runtime configuration, assembled from
// environment variables per spec §6. No implicit globals, no runtime
// mutation: once loaded, a Config is passed by value into the service.
type Config struct {
	SecretKeyHex        string
	PublicKeyHex        string
	RelayURLs           []string
	DBPath              string
	FederationPath      string
	SinceSecs           int64
	GiftwrapSince       int64
	IOTimeoutSecs       int
	Debug               bool
	TrustedCoordinators map[string]struct{}
}

func defaultConfig() Config {
	return Config{
		DBPath:         "notary.sqlite3",
		FederationPath: "frontend/static/federation.json",
		IOTimeoutSecs:  15,
	}
}

// LoadConfig reads the notary's configuration from the process environment,
// best-effort preloading a .env file first (local-dev convenience only; it
// never overrides variables already exported into the process). envPath, if
// non-empty, overrides the default ".env" lookup location.
func LoadConfig(envPath string) (Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := defaultConfig()

	cfg.SecretKeyHex = strings.TrimSpace(os.Getenv("NOTARY_NSEC"))
	if cfg.SecretKeyHex == "" {
		return Config{}, fmt.Errorf("missing NOTARY_NSEC")
	}
	sk, err := decodeSecretKey(cfg.SecretKeyHex)
	if err != nil {
		return Config{}, fmt.Errorf("invalid NOTARY_NSEC: %w", err)
	}
	cfg.SecretKeyHex = sk
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return Config{}, fmt.Errorf("deriving notary public key: %w", err)
	}
	cfg.PublicKeyHex = strings.ToLower(pk)

	cfg.RelayURLs = parseRelayURLs()
	if len(cfg.RelayURLs) == 0 {
		return Config{}, fmt.Errorf("missing NOTARY_RELAY_URL or NOTARY_RELAY_URLS")
	}

	if v := os.Getenv("NOTARY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FEDERATION_JSON_PATH"); v != "" {
		cfg.FederationPath = v
	}

	cfg.SinceSecs = getEnvInt64("NOTARY_SINCE_SECS", 0)
	cfg.GiftwrapSince = getEnvInt64("NOTARY_GIFTWRAP_SINCE_SECS", 0)
	cfg.IOTimeoutSecs = int(getEnvInt64("NOTARY_IO_TIMEOUT_SECS", 15))
	cfg.Debug = getEnvBool("NOTARY_DEBUG", false)

	trusted, err := loadTrustedCoordinators(cfg.FederationPath)
	if err != nil {
		return Config{}, fmt.Errorf("loading %s: %w", cfg.FederationPath, err)
	}
	if len(trusted) == 0 {
		return Config{}, fmt.Errorf("no trusted coordinator pubkeys loaded from %s", cfg.FederationPath)
	}
	cfg.TrustedCoordinators = trusted

	return cfg, nil
}

// decodeSecretKey accepts either a bech32 nsec or a raw 64-hex secret key.
func decodeSecretKey(raw string) (string, error) {
	if strings.HasPrefix(raw, "nsec") {
		prefix, val, err := nip19.Decode(raw)
		if err != nil {
			return "", fmt.Errorf("decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return "", fmt.Errorf("expected nsec prefix, got %s", prefix)
		}
		return val.(string), nil
	}
	if !isHexPubkey(raw) {
		return "", fmt.Errorf("expected nsec1... or 64-hex secret key")
	}
	return strings.ToLower(raw), nil
}

func parseRelayURLs() []string {
	if v := strings.TrimSpace(os.Getenv("NOTARY_RELAY_URLS")); v != "" {
		var urls []string
		for _, u := range strings.Split(v, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				urls = append(urls, u)
			}
		}
		return urls
	}
	if v := strings.TrimSpace(os.Getenv("NOTARY_RELAY_URL")); v != "" {
		return []string{v}
	}
	return nil
}

func getEnvInt64(name string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(name string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// federationEntry is one coordinator's record in the allowlist JSON file.
type federationEntry struct {
	NostrHexPubkey string `json:"nostrHexPubkey"`
}

// loadTrustedCoordinators reads the allowlist file (spec §6): a JSON object
// keyed by coordinator alias, each value carrying a nostrHexPubkey field.
// Entries failing hex validation are skipped rather than rejected.
func loadTrustedCoordinators(path string) (map[string]struct{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]federationEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse federation JSON: %w", err)
	}

	trusted := make(map[string]struct{}, len(raw))
	for _, entry := range raw {
		if isHexPubkey(entry.NostrHexPubkey) {
			trusted[strings.ToLower(entry.NostrHexPubkey)] = struct{}{}
		}
	}
	return trusted, nil
}

// isHexPubkey reports whether v is a 64-character hex string.
func isHexPubkey(v string) bool {
	if len(v) != 64 {
		return false
	}
	for _, c := range strings.ToLower(v) {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
