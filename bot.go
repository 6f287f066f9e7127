package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/darui3018823/discordgo"
	"github.com/google/go-github/v66/github"

	"github.com/u16-io/avatarsync/config"
	"github.com/u16-io/avatarsync/db"
	"github.com/u16-io/avatarsync/detect"
	"github.com/u16-io/avatarsync/fetch"
	"github.com/u16-io/avatarsync/notify"
	"github.com/u16-io/avatarsync/pipeline"
	"github.com/u16-io/avatarsync/runlog"
	"github.com/u16-io/avatarsync/service"
	"github.com/u16-io/avatarsync/state"
	"github.com/u16-io/avatarsync/target"
)

var errIdentityNotFound = errors.New("identity not found")

type bot struct {
	conf *config.Config
	logs *runlog.Store
}

// runBot opens a Discord session, runs one sync pass when the ready
// event fires and closes. A watchdog bounds the whole invocation so a
// hung network call cannot keep the scheduled job alive.
func runBot(conf *config.Config) error {
	if err := conf.ValidateBot(); err != nil {
		return err
	}
	if err := db.Init(conf.DBPath); err != nil {
		log.Printf("[Bot] Avatar cache unavailable: %v", err)
	} else {
		defer db.Close()
	}

	b := &bot{conf: conf, logs: runlog.NewStore(conf.LogPath, conf.LogMaxEntries)}

	session, err := discordgo.New("Bot " + conf.Discord.Token)
	if err != nil {
		return fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	done := make(chan struct{})
	session.AddHandlerOnce(func(s *discordgo.Session, _ *discordgo.Ready) {
		go func() {
			defer close(done)
			b.run(s)
		}()
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer session.Close()

	budget := conf.RunTimeout + 10*time.Second
	if conf.Discord.WaitForCommand {
		// one extension is allowed, hence twice the window
		budget += 2 * conf.Discord.CommandWindow
	}
	select {
	case <-done:
	case <-time.After(budget):
		log.Printf("[Bot] Wall-clock budget exceeded, forcing close")
	}
	return nil
}

// run is the whole pipeline for one invocation. Exactly one run log
// entry is appended no matter how the run ends.
func (b *bot) run(s *discordgo.Session) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), b.conf.RunTimeout)
	defer cancel()

	entry := runlog.Entry{Event: runlog.EventBotRun, Detail: map[string]any{}}
	var notifier *notify.Notifier

	defer func() {
		if r := recover(); r != nil {
			entry.Success = false
			entry.Error = fmt.Sprintf("panic: %v", r)
			if notifier != nil {
				notifier.Post(fmt.Sprintf("Run aborted unexpectedly: %v", r))
			}
		}
		entry.DurationMS = time.Since(start).Milliseconds()
		if err := b.logs.Append(entry); err != nil {
			log.Printf("[Bot] Failed to append run log: %v", err)
		}
	}()

	sub, notifier, err := b.resolve(s)
	if err != nil {
		log.Printf("[Bot] %v", err)
		entry.Error = err.Error()
		if notifier != nil {
			notifier.Post(fmt.Sprintf("Run aborted: %v", err))
		}
		return
	}
	entry.Detail["subject"] = sub.Username
	log.Printf("[Bot] Watching %s (%s)", sub.Username, sub.ID)

	pipe, err := b.buildPipeline()
	if err != nil {
		entry.Error = err.Error()
		notifier.Post(fmt.Sprintf("Run aborted: %v", err))
		return
	}

	res := pipe.Run(ctx, sub)
	entry.Success = res.Success()
	entry.Detail["changed"] = res.Changed
	entry.Detail["published"] = res.Published()
	entry.Detail["attempted"] = len(res.Outcomes)
	if res.FetchErr != nil {
		entry.Error = res.FetchErr.Error()
	} else if failed := res.Failed(); len(failed) > 0 {
		var parts []string
		for _, o := range failed {
			parts = append(parts, o.Err.Error())
		}
		entry.Error = strings.Join(parts, "; ")
	} else if res.StateErr != nil {
		entry.Error = res.StateErr.Error()
	}

	if err := service.SaveAvatarURL(sub.ID, sub.AvatarURL); err != nil {
		log.Printf("[Bot] Failed to cache avatar URL: %v", err)
	}

	message := summarize(sub, res)
	if res.Changed && res.Published() > 0 && res.Image != nil {
		err = notifier.PostWithFile(message, "avatar.png", res.Image)
	} else {
		err = notifier.Post(message)
	}
	if err != nil {
		log.Printf("[Bot] Failed to notify: %v", err)
	}

	if b.conf.Discord.WaitForCommand {
		b.waitForCommand(s)
	}
}

// resolve looks up the subject member and the notification channel.
// The channel may come back usable even when the subject lookup
// fails, so abort paths can still post an explanation.
func (b *bot) resolve(s *discordgo.Session) (pipeline.Subject, *notify.Notifier, error) {
	conf := b.conf.Discord

	channelID, chanErr := b.resolveChannel(s)
	var notifier *notify.Notifier
	if chanErr == nil {
		notifier = notify.New(s, channelID)
	}

	guild, err := s.Guild(conf.GuildID)
	if err != nil {
		return pipeline.Subject{}, notifier, fmt.Errorf("%w: guild %s: %v", errIdentityNotFound, conf.GuildID, err)
	}
	member, err := s.GuildMember(guild.ID, conf.UserID)
	if err != nil || member.User == nil {
		return pipeline.Subject{}, notifier, fmt.Errorf("%w: member %s in guild %s: %v", errIdentityNotFound, conf.UserID, guild.ID, err)
	}
	if chanErr != nil {
		return pipeline.Subject{}, nil, chanErr
	}

	user := member.User
	sub := pipeline.Subject{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: displayName(member, user),
		AvatarURL:   memberAvatarURL(member, user),
	}
	return sub, notifier, nil
}

// resolveChannel accepts either a numeric channel id or a channel name
// within the guild.
func (b *bot) resolveChannel(s *discordgo.Session) (string, error) {
	conf := b.conf.Discord
	if conf.ChannelID == "" {
		return "", fmt.Errorf("%w: no notification channel configured", errIdentityNotFound)
	}
	if isDigits(conf.ChannelID) {
		if _, err := s.Channel(conf.ChannelID); err != nil {
			return "", fmt.Errorf("%w: channel %s: %v", errIdentityNotFound, conf.ChannelID, err)
		}
		return conf.ChannelID, nil
	}
	channels, err := s.GuildChannels(conf.GuildID)
	if err != nil {
		return "", fmt.Errorf("%w: channels of guild %s: %v", errIdentityNotFound, conf.GuildID, err)
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == conf.ChannelID {
			return ch.ID, nil
		}
	}
	return "", fmt.Errorf("%w: no text channel named %q", errIdentityNotFound, conf.ChannelID)
}

func (b *bot) buildPipeline() (*pipeline.Pipeline, error) {
	conf := b.conf
	gh := github.NewClient(nil).WithAuthToken(conf.GitHub.Token)

	var targets []target.Target
	if conf.GitHub.SiteRepo.Configured() {
		targets = append(targets, b.store(gh, "site", conf.GitHub.SiteRepo))
	}
	if conf.GitHub.CodeRepo.Configured() {
		targets = append(targets, b.store(gh, "code", conf.GitHub.CodeRepo))
	}
	if conf.Twitter.ConsumerKey != "" {
		targets = append(targets, target.NewTwitter(
			conf.Twitter.ConsumerKey, conf.Twitter.ConsumerSecret,
			conf.Twitter.AccessToken, conf.Twitter.AccessSecret))
	}
	if conf.Music.ClientID != "" {
		targets = append(targets, target.NewMusic(
			conf.Music.ClientID, conf.Music.ClientSecret, conf.Music.RefreshToken,
			conf.Music.TokenURL, conf.Music.UploadURL))
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no publish targets configured")
	}

	return &pipeline.Pipeline{
		Detector: detect.Detector{Mode: detect.Mode(conf.DetectMode)},
		Fetcher:  fetch.New(),
		State:    state.New(b.store(gh, "state", conf.GitHub.StateRepo)),
		Cache:    service.GetAvatarURL,
		Targets:  targets,
	}, nil
}

func (b *bot) store(gh *github.Client, name string, repo config.Repo) *target.GitHubStore {
	return target.NewGitHubStore(name, gh, repo.Owner, repo.Name, repo.Path, b.conf.GitHub.Branch,
		b.conf.GitHub.CommitterName, b.conf.GitHub.CommitterEmail)
}

// waitOutcome says why the command wait ended.
type waitOutcome int

const (
	waitStopped   waitOutcome = iota // subject said stop
	waitExhausted                    // second continue-class command
	waitTimedOut                     // window elapsed
)

// recognizedCommand normalizes a follow-up message into a command.
// stop=true means close immediately; any other recognized command is
// continue-class.
func recognizedCommand(content string) (stop bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(content)) {
	case "stop":
		return true, true
	case "go", "continue", "resume", "!continue", "!update":
		return false, true
	}
	return false, false
}

// waitForCommand keeps the process alive for one follow-up message
// from the subject. "stop" closes immediately; a continue-class
// command extends the window once. The window elapsing closes too.
func (b *bot) waitForCommand(s *discordgo.Session) {
	window := b.conf.Discord.CommandWindow
	log.Printf("[Bot] Waiting %v for a command from the subject", window)

	cmds := make(chan string, 1)
	remove := s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID != b.conf.Discord.UserID {
			return
		}
		if _, ok := recognizedCommand(m.Content); !ok {
			return
		}
		select {
		case cmds <- m.Content:
		default:
		}
	})
	defer remove()

	awaitCommand(cmds, window)
}

// awaitCommand blocks until the subject says stop, a continue-class
// command arrives after the single allowed extension, or the window
// elapses. This is the only place the run blocks on an external actor
// and it always ends by timeout at the latest.
func awaitCommand(cmds <-chan string, window time.Duration) waitOutcome {
	timer := time.NewTimer(window)
	defer timer.Stop()
	extended := false
	for {
		select {
		case cmd := <-cmds:
			stop, ok := recognizedCommand(cmd)
			if !ok {
				continue
			}
			if stop {
				log.Printf("[Bot] Received stop, closing")
				return waitStopped
			}
			if extended {
				log.Printf("[Bot] Received %q but the window was already extended, closing", cmd)
				return waitExhausted
			}
			extended = true
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(window)
			log.Printf("[Bot] Received %q, extending wait window by %v", cmd, window)
		case <-timer.C:
			log.Printf("[Bot] Command window elapsed, closing")
			return waitTimedOut
		}
	}
}

func summarize(sub pipeline.Subject, res pipeline.Result) string {
	if res.FetchErr != nil {
		return fmt.Sprintf("Failed to retrieve %s's avatar: %v", sub.DisplayName, res.FetchErr)
	}
	if !res.Changed {
		return fmt.Sprintf("No updates: %s's avatar is unchanged.", sub.DisplayName)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s's avatar changed. Published to %d/%d targets.\n", sub.DisplayName, res.Published(), len(res.Outcomes))
	if failed := res.Failed(); len(failed) > 0 {
		sb.WriteString("```\n")
		for _, o := range failed {
			fmt.Fprintf(&sb, "%s: %v\n", o.Target, o.Err)
		}
		sb.WriteString("```")
	}
	if res.StateErr != nil {
		fmt.Fprintf(&sb, "\nAvatar record was not updated: %v", res.StateErr)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// memberAvatarURL prioritizes Guild Avatar -> User Avatar
func memberAvatarURL(member *discordgo.Member, user *discordgo.User) string {
	if member != nil && member.Avatar != "" {
		return fmt.Sprintf("https://cdn.discordapp.com/guilds/%s/users/%s/avatars/%s.png?size=1024", member.GuildID, user.ID, member.Avatar)
	}
	return user.AvatarURL("1024")
}

func displayName(member *discordgo.Member, user *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
