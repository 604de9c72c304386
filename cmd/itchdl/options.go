package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"itchdl/shared/config"
)

// cliOptions are the parsed command line arguments. Only flags the user
// actually passed override the loaded configuration.
type cliOptions struct {
	input     string
	configDir string
	profile   string

	apiKey      string
	userAgent   string
	downloadTo  string
	parallel    int
	savePage    bool
	urlsOnly    bool
	filterGlob  string
	filterRegex string
	verbose     bool
	logFormat   string
	metrics     string
	metricsFile string
	storage     string
	s3Bucket    string
	s3Prefix    string

	set map[string]bool
}

const usageHeader = `Usage: itchdl [flags] <url_or_path>

Downloads every game behind a jam, browse page, collection, creator profile,
your library, a single game page, or a local entries/URL list file.

Flags:
`

func parseArgs(args []string, output io.Writer) (*cliOptions, error) {
	opts := &cliOptions{set: make(map[string]bool)}

	fs := flag.NewFlagSet("itchdl", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, usageHeader)
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.configDir, "config-dir", "", "Directory holding config.json and profiles/")
	fs.StringVar(&opts.profile, "profile", "", "Settings profile to apply on top of config.json")
	fs.StringVar(&opts.apiKey, "api-key", "", "itch.io API key")
	fs.StringVar(&opts.userAgent, "user-agent", "", "User-Agent sent with every request")
	fs.StringVar(&opts.downloadTo, "download-to", "", "Directory to download into")
	fs.IntVar(&opts.parallel, "parallel", 0, "Number of files downloaded at the same time")
	fs.BoolVar(&opts.savePage, "save-page", false, "Save each game page as index.html")
	fs.BoolVar(&opts.savePage, "mirror-web", false, "Alias of -save-page")
	fs.BoolVar(&opts.urlsOnly, "urls-only", false, "Print the resolved game URLs and exit")
	fs.StringVar(&opts.filterGlob, "filter-files-glob", "", "Only download files whose name matches this glob")
	fs.StringVar(&opts.filterRegex, "filter-files-regex", "", "Only download files whose name matches this regex")
	fs.BoolVar(&opts.verbose, "verbose", false, "Log debug output")
	fs.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	fs.StringVar(&opts.metrics, "metrics", "", "Metrics adapter: noop, stdout or prometheus")
	fs.StringVar(&opts.metricsFile, "metrics-file", "", "Textfile written by the prometheus adapter on exit")
	fs.StringVar(&opts.storage, "storage", "", "Storage provider: filesystem or s3")
	fs.StringVar(&opts.s3Bucket, "s3-bucket", "", "Bucket used by the s3 storage provider")
	fs.StringVar(&opts.s3Prefix, "s3-prefix", "", "Key prefix used by the s3 storage provider")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch fs.NArg() {
	case 1:
		opts.input = fs.Arg(0)
	case 0:
		fs.Usage()
		return nil, errors.New("missing url_or_path argument")
	default:
		return nil, fmt.Errorf("expected one url_or_path argument, got %d", fs.NArg())
	}

	fs.Visit(func(f *flag.Flag) {
		opts.set[f.Name] = true
	})
	if opts.set["mirror-web"] {
		opts.set["save-page"] = true
	}

	return opts, nil
}

// apply overlays the flags that were passed on cfg
func (o *cliOptions) apply(cfg *config.Config) {
	if o.set["api-key"] {
		cfg.Itch.APIKey = o.apiKey
	}
	if o.set["user-agent"] {
		cfg.HTTP.UserAgent = o.userAgent
	}
	if o.set["download-to"] {
		cfg.Download.Dir = o.downloadTo
	}
	if o.set["parallel"] {
		cfg.Download.Parallel = o.parallel
	}
	if o.set["save-page"] {
		cfg.Download.SavePage = o.savePage
	}
	if o.set["urls-only"] {
		cfg.Download.URLsOnly = o.urlsOnly
	}
	if o.set["filter-files-glob"] {
		cfg.Download.FilterGlob = o.filterGlob
	}
	if o.set["filter-files-regex"] {
		cfg.Download.FilterRegex = o.filterRegex
	}
	if o.set["verbose"] && o.verbose {
		cfg.LogLevel = "debug"
	}
	if o.set["log-format"] {
		cfg.LogFormat = o.logFormat
	}
	if o.set["metrics"] {
		cfg.Observability.MetricsProvider = o.metrics
	}
	if o.set["metrics-file"] {
		cfg.Observability.MetricsFile = o.metricsFile
	}
	if o.set["storage"] {
		cfg.Storage.Provider = o.storage
	}
	if o.set["s3-bucket"] {
		cfg.Storage.S3.Bucket = o.s3Bucket
	}
	if o.set["s3-prefix"] {
		cfg.Storage.S3.Prefix = o.s3Prefix
	}
}
