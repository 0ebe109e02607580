// Package scraper drives a whole scrape: enumeration, rendering, rewriting,
// media download and archive finalization, phase by phase.
package scraper

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/wikiscrape/wikiscrape/rewrite"
)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// defaultAPIRequestsPerSecond keeps api.php traffic polite without slowing
// small wikis down.
const defaultAPIRequestsPerSecond = 30

// Config is the end-user configuration of one run.
type Config struct {
	// WikiURL is the root of the wiki to mirror, e.g. https://en.wikipedia.org/.
	WikiURL string
	// APIPath is the api.php path under WikiURL.
	APIPath string
	// AdminEmail goes into the User-Agent so wiki operators can reach us.
	AdminEmail string
	// MWUsername and MWPassword are optional bot credentials. When set, the
	// scrape logs in before anything else so restricted pages render.
	MWUsername string
	MWPassword string
	// ArticleList is an optional line-per-title file restricting the scrape.
	ArticleList string
	// CustomMainPage overrides the wiki's main page as the archive welcome page.
	CustomMainPage string
	// Format selects content stripping: any of nopic/novid/nodet/nozim as
	// substrings, e.g. "nopic,nodet".
	Format string
	// Speed is the base worker count; the downloader multiplies it per pool.
	Speed int
	// APIRequestsPerSecond throttles api.php queries.
	APIRequestsPerSecond float64
	// OutputDir receives the finished archive.
	OutputDir string
	// ScratchDir holds the run database and response cache. Empty picks a
	// fresh directory under the system temp dir.
	ScratchDir string
	// SkipCacheCleaning keeps the response cache across runs.
	SkipCacheCleaning bool

	// S3Endpoint, S3Region and S3Bucket configure the optional blob cache.
	S3Endpoint string
	S3Region   string
	S3Bucket   string

	Verbose bool
}

// RegisterFlags binds the configuration to a pflag set.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.WikiURL, "mwUrl", "", "root URL of the wiki to mirror (required)")
	fs.StringVar(&c.APIPath, "mwApiPath", "w/api.php", "api.php path under the wiki root")
	fs.StringVar(&c.AdminEmail, "adminEmail", "", "contact email advertised in the User-Agent (required)")
	fs.StringVar(&c.MWUsername, "mwUsername", "", "wiki account to log in with")
	fs.StringVar(&c.MWPassword, "mwPassword", "", "password for mwUsername")
	fs.StringVar(&c.ArticleList, "articleList", "", "file with one article title per line")
	fs.StringVar(&c.CustomMainPage, "customMainPage", "", "article to use as the archive welcome page")
	fs.StringVar(&c.Format, "format", "", "content stripping flags: nopic, novid, nodet, nozim")
	fs.IntVar(&c.Speed, "speed", 1, "base worker count")
	fs.Float64Var(&c.APIRequestsPerSecond, "apiRequestsPerSecond", defaultAPIRequestsPerSecond, "maximum api.php queries per second")
	fs.StringVar(&c.OutputDir, "outputDirectory", "out", "directory receiving the finished archive")
	fs.StringVar(&c.ScratchDir, "tmpDirectory", "", "scratch directory (default: a fresh temp dir)")
	fs.BoolVar(&c.SkipCacheCleaning, "skipCacheCleaning", false, "keep the response cache across runs")
	fs.StringVar(&c.S3Endpoint, "s3Endpoint", "", "S3-compatible endpoint for the media blob cache")
	fs.StringVar(&c.S3Region, "s3Region", "us-east-1", "blob cache bucket region")
	fs.StringVar(&c.S3Bucket, "s3Bucket", "", "blob cache bucket name")
	fs.BoolVar(&c.Verbose, "verbose", false, "debug logging")
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	if c.WikiURL == "" {
		return fmt.Errorf("%w: mwUrl is required", errdefs.ErrInvalidArgument)
	}
	if !strings.HasSuffix(c.WikiURL, "/") {
		c.WikiURL += "/"
	}
	if c.AdminEmail == "" || !emailRe.MatchString(c.AdminEmail) {
		return fmt.Errorf("%w: adminEmail %q is not a valid email address", errdefs.ErrInvalidArgument, c.AdminEmail)
	}
	if (c.MWUsername == "") != (c.MWPassword == "") {
		return fmt.Errorf("%w: mwUsername and mwPassword must be given together", errdefs.ErrInvalidArgument)
	}
	if c.Speed < 1 {
		c.Speed = 1
	}
	if c.APIRequestsPerSecond <= 0 {
		c.APIRequestsPerSecond = defaultAPIRequestsPerSecond
	}
	if c.ScratchDir == "" {
		c.ScratchDir = filepath.Join(os.TempDir(), "wikiscrape-"+uuid.NewString())
	}
	return nil
}

// Flags derives the orthogonal stripping booleans from the format token.
func (c *Config) Flags() rewrite.Flags {
	return rewrite.Flags{
		NoPic: strings.Contains(c.Format, "nopic"),
		NoVid: strings.Contains(c.Format, "novid"),
		NoDet: strings.Contains(c.Format, "nodet"),
		NoZim: strings.Contains(c.Format, "nozim"),
	}
}

// UserAgent advertises who to contact about the scrape traffic.
func (c *Config) UserAgent() string {
	return fmt.Sprintf("wikiscrape (%s)", c.AdminEmail)
}
