package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

const (
	DefaultAPIVersion = "65.0"
	DefaultChannel    = "/event/Order_Event__e"

	tokenPath = "/services/oauth2/token"
)

type Options struct {
	LoginURL     string   `long:"login-url" env:"SF_LOGIN_URL" description:"OAuth login base URL (e.g. https://login.salesforce.com)"`
	ClientID     string   `long:"client-id" env:"SF_CLIENT_ID" description:"Connected app consumer key"`
	ClientSecret string   `long:"client-secret" env:"SF_CLIENT_SECRET" description:"Connected app consumer secret"`
	APIVersion   string   `long:"api-version" env:"SF_API_VERSION" default:"65.0" description:"Streaming API version"`
	Channels     []string `long:"channel" env:"SF_CHANNELS" env-delim:"," description:"Channel to subscribe (repeatable, e.g. /event/Order_Event__e)"`

	BackoffInitial time.Duration `long:"backoff-initial" env:"SF_BACKOFF_INITIAL" default:"1s" description:"First reconnect delay"`
	BackoffMax     time.Duration `long:"backoff-max" env:"SF_BACKOFF_MAX" default:"60s" description:"Reconnect delay cap"`
	BackoffJitter  float64       `long:"backoff-jitter" env:"SF_BACKOFF_JITTER" default:"0.2" description:"Reconnect delay randomization factor (0-1)"`
	MaxAttempts    int           `long:"max-attempts" env:"SF_MAX_ATTEMPTS" default:"0" description:"Consecutive failed connect cycles before giving up (0 = retry forever)"`

	ForceHTTP1    bool `long:"force-http1" env:"SF_FORCE_HTTP1" description:"Disable HTTP/2 for long-poll requests"`
	AsyncDispatch bool `long:"async-dispatch" env:"SF_ASYNC_DISPATCH" description:"Hand events to a background worker instead of running handlers on the poll loop"`
	LogToFile     bool `long:"log-to-file" env:"SF_LOG_TO_FILE" description:"Also write JSONL logs to the user cache directory"`
	Debug         bool `long:"debug" env:"SF_DEBUG" description:"Enable verbose debug output"`
}

type Endpoints struct {
	LoginURL string
	TokenURL string
}

// ParseOptions loads .env (when present) and then parses args. A nil args
// slice parses the process arguments.
func ParseOptions(args []string) (Options, error) {
	_ = godotenv.Load()
	if args == nil {
		args = os.Args[1:]
	}
	return parseArgs(args, flags.Default)
}

func parseArgs(args []string, parserOpts flags.Options) (Options, error) {
	opts := Options{}
	parser := flags.NewParser(&opts, parserOpts)
	if _, err := parser.ParseArgs(args); err != nil {
		return Options{}, err
	}
	opts.Channels = normalizeChannels(opts.Channels)
	if len(opts.Channels) == 0 {
		opts.Channels = []string{DefaultChannel}
	}
	opts.APIVersion = strings.TrimPrefix(strings.TrimSpace(opts.APIVersion), "v")
	return opts, nil
}

func ValidateRequired(opts Options) error {
	if strings.TrimSpace(opts.LoginURL) == "" {
		return errors.New("login URL is required")
	}
	if strings.TrimSpace(opts.ClientID) == "" {
		return errors.New("client id is required")
	}
	if strings.TrimSpace(opts.ClientSecret) == "" {
		return errors.New("client secret is required")
	}
	if _, err := strconv.ParseFloat(opts.APIVersion, 64); err != nil {
		return fmt.Errorf("api version %q is not a number like %s", opts.APIVersion, DefaultAPIVersion)
	}
	if opts.BackoffInitial <= 0 || opts.BackoffMax < opts.BackoffInitial {
		return errors.New("backoff delays must be positive and the cap must not be below the initial delay")
	}
	if opts.BackoffJitter < 0 || opts.BackoffJitter > 1 {
		return errors.New("backoff jitter must be between 0 and 1")
	}
	if opts.MaxAttempts < 0 {
		return errors.New("max attempts must not be negative")
	}
	for _, channel := range opts.Channels {
		if !strings.HasPrefix(channel, "/") || strings.HasPrefix(channel, "/meta/") {
			return fmt.Errorf("invalid channel %q", channel)
		}
	}
	return nil
}

func BuildEndpoints(rawLoginURL string) (Endpoints, error) {
	base, err := normalizeBaseURL(rawLoginURL)
	if err != nil {
		return Endpoints{}, err
	}
	return Endpoints{
		LoginURL: base,
		TokenURL: base + tokenPath,
	}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	parsed, err := url.Parse(value)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.New("expected absolute URL like https://login.salesforce.com")
	}
	if !strings.EqualFold(parsed.Scheme, "http") && !strings.EqualFold(parsed.Scheme, "https") {
		return "", errors.New("login URL scheme must be http or https")
	}

	// Pasted token endpoints and other paths collapse to the host root.
	parsed.Path = ""
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.User = nil

	return strings.TrimRight(parsed.String(), "/"), nil
}

func normalizeChannels(channels []string) []string {
	seen := make(map[string]struct{}, len(channels))
	out := make([]string, 0, len(channels))
	for _, channel := range channels {
		name := strings.TrimSpace(channel)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
