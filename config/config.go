package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Repo identifies a file inside a GitHub repository.
type Repo struct {
	Owner string
	Name  string
	Path  string
}

func (r Repo) Configured() bool {
	return r.Owner != "" && r.Name != "" && r.Path != ""
}

// Config 全ての設定を格納
type Config struct {
	Discord struct {
		Token          string
		GuildID        string
		UserID         string
		ChannelID      string
		WaitForCommand bool
		CommandWindow  time.Duration
	}
	GitHub struct {
		Token          string
		Branch         string
		CommitterName  string
		CommitterEmail string
		SiteRepo       Repo
		CodeRepo       Repo
		StateRepo      Repo
	}
	Twitter struct {
		ConsumerKey    string
		ConsumerSecret string
		AccessToken    string
		AccessSecret   string
	}
	Music struct {
		ClientID     string
		ClientSecret string
		RefreshToken string
		TokenURL     string
		UploadURL    string
	}
	Cleanup struct {
		Owner    string
		Repo     string
		Workflow string
	}
	DetectMode    string
	LogPath       string
	LogMaxEntries int
	DBPath        string
	RunTimeout    time.Duration
}

// fileConfig is the optional TOML layer. Secrets always come from the
// environment; the file only carries non-secret identifiers.
type fileConfig struct {
	Discord struct {
		GuildID        string `toml:"guild_id"`
		UserID         string `toml:"user_id"`
		ChannelID      string `toml:"channel_id"`
		WaitForCommand bool   `toml:"wait_for_command"`
	} `toml:"discord"`
	GitHub struct {
		Branch         string `toml:"branch"`
		CommitterName  string `toml:"committer_name"`
		CommitterEmail string `toml:"committer_email"`
		SiteRepo       string `toml:"site_repo"`
		SitePath       string `toml:"site_path"`
		CodeRepo       string `toml:"code_repo"`
		CodePath       string `toml:"code_path"`
		StateRepo      string `toml:"state_repo"`
		StatePath      string `toml:"state_path"`
	} `toml:"github"`
	Cleanup struct {
		Repo     string `toml:"repo"`
		Workflow string `toml:"workflow"`
	} `toml:"cleanup"`
	DetectMode string `toml:"detect_mode"`
	LogPath    string `toml:"log_path"`
	DBPath     string `toml:"db_path"`
}

// Load builds the configuration once at process start. A .env file is
// read if present, then the optional TOML file, then plain environment
// variables override everything.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment variables")
	}

	conf := &Config{}
	conf.GitHub.Branch = "main"
	conf.GitHub.CommitterName = "avatarsync-bot"
	conf.GitHub.CommitterEmail = "avatarsync-bot@users.noreply.github.com"
	conf.Cleanup.Workflow = "bot-run.yml"
	conf.DetectMode = "hash"
	conf.LogPath = "logs.json"
	conf.LogMaxEntries = 5
	conf.DBPath = "avatarsync.db"
	conf.RunTimeout = 60 * time.Second
	conf.Discord.CommandWindow = 5 * time.Minute

	if path != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		applyFile(conf, &fc)
	}
	applyEnv(conf)

	if conf.DetectMode != "hash" && conf.DetectMode != "url" {
		return nil, fmt.Errorf("invalid detect mode %q (want hash or url)", conf.DetectMode)
	}
	return conf, nil
}

// ValidateBot checks the settings the sync run cannot start without.
func (c *Config) ValidateBot() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("DISCORD_TOKEN is required")
	}
	if c.Discord.GuildID == "" || c.Discord.UserID == "" {
		return fmt.Errorf("DISCORD_GUILD_ID and DISCORD_USER_ID are required")
	}
	if c.GitHub.Token == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	if !c.GitHub.StateRepo.Configured() {
		return fmt.Errorf("GITHUB_STATE_REPO and GITHUB_STATE_PATH are required")
	}
	if c.Music.ClientID != "" && (c.Music.TokenURL == "" || c.Music.UploadURL == "") {
		return fmt.Errorf("MUSIC_TOKEN_URL and MUSIC_UPLOAD_URL are required when MUSIC_CLIENT_ID is set")
	}
	return nil
}

// ValidateCleanup checks the settings the cleanup run cannot start
// without.
func (c *Config) ValidateCleanup() error {
	if c.GitHub.Token == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	if c.Cleanup.Owner == "" || c.Cleanup.Repo == "" {
		return fmt.Errorf("CLEANUP_REPO is required (owner/name)")
	}
	if c.Cleanup.Workflow == "" {
		return fmt.Errorf("CLEANUP_WORKFLOW is required")
	}
	return nil
}

func applyFile(conf *Config, fc *fileConfig) {
	setStr(&conf.Discord.GuildID, fc.Discord.GuildID)
	setStr(&conf.Discord.UserID, fc.Discord.UserID)
	setStr(&conf.Discord.ChannelID, fc.Discord.ChannelID)
	if fc.Discord.WaitForCommand {
		conf.Discord.WaitForCommand = true
	}
	setStr(&conf.GitHub.Branch, fc.GitHub.Branch)
	setStr(&conf.GitHub.CommitterName, fc.GitHub.CommitterName)
	setStr(&conf.GitHub.CommitterEmail, fc.GitHub.CommitterEmail)
	setRepo(&conf.GitHub.SiteRepo, fc.GitHub.SiteRepo, fc.GitHub.SitePath)
	setRepo(&conf.GitHub.CodeRepo, fc.GitHub.CodeRepo, fc.GitHub.CodePath)
	setRepo(&conf.GitHub.StateRepo, fc.GitHub.StateRepo, fc.GitHub.StatePath)
	if owner, name, ok := splitRepo(fc.Cleanup.Repo); ok {
		conf.Cleanup.Owner = owner
		conf.Cleanup.Repo = name
	}
	setStr(&conf.Cleanup.Workflow, fc.Cleanup.Workflow)
	setStr(&conf.DetectMode, fc.DetectMode)
	setStr(&conf.LogPath, fc.LogPath)
	setStr(&conf.DBPath, fc.DBPath)
}

func applyEnv(conf *Config) {
	setStr(&conf.Discord.Token, os.Getenv("DISCORD_TOKEN"))
	setStr(&conf.Discord.GuildID, os.Getenv("DISCORD_GUILD_ID"))
	setStr(&conf.Discord.UserID, os.Getenv("DISCORD_USER_ID"))
	setStr(&conf.Discord.ChannelID, os.Getenv("DISCORD_CHANNEL_ID"))
	if v := os.Getenv("DISCORD_WAIT_FOR_COMMAND"); v != "" {
		conf.Discord.WaitForCommand, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("DISCORD_COMMAND_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			conf.Discord.CommandWindow = d
		}
	}

	setStr(&conf.GitHub.Token, os.Getenv("GITHUB_TOKEN"))
	setStr(&conf.GitHub.Branch, os.Getenv("GITHUB_BRANCH"))
	if owner, name, ok := splitRepo(os.Getenv("GITHUB_SITE_REPO")); ok {
		conf.GitHub.SiteRepo.Owner = owner
		conf.GitHub.SiteRepo.Name = name
	}
	setStr(&conf.GitHub.SiteRepo.Path, os.Getenv("GITHUB_SITE_PATH"))
	if owner, name, ok := splitRepo(os.Getenv("GITHUB_CODE_REPO")); ok {
		conf.GitHub.CodeRepo.Owner = owner
		conf.GitHub.CodeRepo.Name = name
	}
	setStr(&conf.GitHub.CodeRepo.Path, os.Getenv("GITHUB_CODE_PATH"))
	if owner, name, ok := splitRepo(os.Getenv("GITHUB_STATE_REPO")); ok {
		conf.GitHub.StateRepo.Owner = owner
		conf.GitHub.StateRepo.Name = name
	}
	setStr(&conf.GitHub.StateRepo.Path, os.Getenv("GITHUB_STATE_PATH"))

	setStr(&conf.Twitter.ConsumerKey, os.Getenv("TWITTER_CONSUMER_KEY"))
	setStr(&conf.Twitter.ConsumerSecret, os.Getenv("TWITTER_CONSUMER_SECRET"))
	setStr(&conf.Twitter.AccessToken, os.Getenv("TWITTER_ACCESS_TOKEN"))
	setStr(&conf.Twitter.AccessSecret, os.Getenv("TWITTER_ACCESS_SECRET"))

	setStr(&conf.Music.ClientID, os.Getenv("MUSIC_CLIENT_ID"))
	setStr(&conf.Music.ClientSecret, os.Getenv("MUSIC_CLIENT_SECRET"))
	setStr(&conf.Music.RefreshToken, os.Getenv("MUSIC_REFRESH_TOKEN"))
	setStr(&conf.Music.TokenURL, os.Getenv("MUSIC_TOKEN_URL"))
	setStr(&conf.Music.UploadURL, os.Getenv("MUSIC_UPLOAD_URL"))

	if owner, name, ok := splitRepo(os.Getenv("CLEANUP_REPO")); ok {
		conf.Cleanup.Owner = owner
		conf.Cleanup.Repo = name
	}
	setStr(&conf.Cleanup.Workflow, os.Getenv("CLEANUP_WORKFLOW"))

	setStr(&conf.DetectMode, os.Getenv("DETECT_MODE"))
	setStr(&conf.LogPath, os.Getenv("LOG_PATH"))
	if v := os.Getenv("LOG_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			conf.LogMaxEntries = n
		}
	}
	setStr(&conf.DBPath, os.Getenv("DB_PATH"))
	if v := os.Getenv("RUN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			conf.RunTimeout = d
		}
	}
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setRepo(dst *Repo, repo, path string) {
	if owner, name, ok := splitRepo(repo); ok {
		dst.Owner = owner
		dst.Name = name
	}
	setStr(&dst.Path, path)
}

// splitRepo parses "owner/name".
func splitRepo(s string) (owner, name string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			if i == 0 || i == len(s)-1 {
				return "", "", false
			}
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
