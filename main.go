package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/AlecAivazis/survey/v2"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/skip2/go-qrcode"
	"github.com/urfave/cli/v3"

	"github.com/xeptore/qqgrab/config"
	"github.com/xeptore/qqgrab/constant"
	"github.com/xeptore/qqgrab/log"
	"github.com/xeptore/qqgrab/qq"
	"github.com/xeptore/qqgrab/qq/auth"
	"github.com/xeptore/qqgrab/qq/types"
)

func main() {
	logger := log.NewDefault()

	//nolint:exhaustruct
	app := &cli.Command{
		Name:    "qqgrab",
		Version: constant.Version,
		Metadata: map[string]any{
			"compiled_at": constant.CompileTime,
		},
		Suggest:                    true,
		Usage:                      "QQ Music Downloader",
		EnableShellCompletion:      true,
		ShellCompletionCommandName: "shell-completion",
		AllowExtFlags:              false,
		Flags: []cli.Flag{
			//nolint:exhaustruct
			&cli.StringFlag{
				Name:     "config",
				Usage:    "Config file path",
				Required: false,
			},
		},
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:  "login",
				Usage: "Login with a QR code",
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:  "provider",
						Usage: "Login provider: 'qq' or 'wx'",
						Value: "qq",
					},
				},
				Action: login,
			},
			{
				Name:  "creds",
				Usage: "Credential commands",
				Commands: []*cli.Command{
					//nolint:exhaustruct
					{
						Name:   "status",
						Usage:  "Show credential state",
						Action: credsStatus,
					},
					{
						Name:   "refresh",
						Usage:  "Force a credential refresh",
						Action: credsRefresh,
					},
					{
						Name:   "show",
						Usage:  "Show stored credentials (secrets redacted)",
						Action: credsShow,
					},
					{
						Name:   "logout",
						Usage:  "Discard stored credentials",
						Action: credsLogout,
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search songs and download a selected one",
				ArgsUsage: "<keyword>",
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: 20,
					},
				},
				Action: search,
			},
			{
				Name:      "playlist",
				Usage:     "Download all tracks of a playlist",
				ArgsUsage: "<playlist-id>",
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:  "user",
						Usage: "List the playlists created by this QQ number and pick one instead of passing a playlist id",
					},
				},
				Action: playlist,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			os.Exit(1)
		}

		var exitCode exitCodeError
		if errors.As(err, &exitCode) {
			os.Exit(int(exitCode))
		}

		logger.Error().Err(err).Msg("Application exited with error")
		os.Exit(10)
	}
}

type exitCodeError int

func (e exitCodeError) Error() string {
	return "error with exit code: " + strconv.Itoa(int(e))
}

func initialize(cmd *cli.Command) (zerolog.Logger, *config.Config, error) {
	logger := log.NewDefault()

	if err := godotenv.Load(); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return logger, nil, fmt.Errorf("load .env file: %v", err)
		}
		logger.Debug().Msg(".env file was not found")
	} else {
		logger.Debug().Msg(".env file was loaded")
	}

	conf, err := config.Load(cmd.String("config"))
	if nil != err {
		return logger, nil, fmt.Errorf("load config: %v", err)
	}

	logger = log.FromConfig(conf.Log)

	logger.Debug().Dict("config", conf.ToDict()).Msg("Config loaded")

	return logger, conf, nil
}

func login(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, conf, err := initialize(cmd)
	if nil != err {
		return err
	}

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		logger.Error().Msg("No TTY detected. The QR code needs an interactive terminal to be scannable.")
		return exitCodeError(1)
	}

	var provider auth.Provider
	switch p := cmd.String("provider"); p {
	case "qq":
		provider = auth.ProviderQQ
	case "wx":
		provider = auth.ProviderWechat
	default:
		return fmt.Errorf("invalid login provider %q, must be 'qq' or 'wx'", p)
	}

	client, err := qq.NewClient(logger, conf)
	if nil != err {
		return fmt.Errorf("create client: %v", err)
	}
	defer func() {
		if closeErr := client.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close client")
		}
	}()

	qr, wait, err := client.TryInitiateLoginFlow(ctx, logger, provider)
	if nil != err {
		if errors.Is(err, qq.ErrLoginInProgress) {
			logger.Error().Msg("Another login is already in progress")
			return exitCodeError(2)
		}

		return fmt.Errorf("initiate login flow: %w", err)
	}

	code, err := qrcode.New(qr.Content, qrcode.Medium)
	if nil != err {
		return fmt.Errorf("create qr code: %v", err)
	}

	const noInverseColor = false
	rendered := code.ToSmallString(noInverseColor)
	lines := strings.Count(rendered, "\n")

	fmt.Fprint(os.Stdout, rendered)
	fmt.Fprintf(os.Stdout, "Scan within %s to login.\n", qr.ExpiresIn)

	res := <-wait

	// Clear the QR code from the console.
	var out strings.Builder
	out.WriteString(text.CursorUp.Sprintn(lines + 1))
	for range lines + 1 {
		out.WriteString(text.EraseLine.Sprint())
		out.WriteString(text.CursorDown.Sprint())
	}
	out.WriteString(text.CursorUp.Sprintn(lines + 1))
	fmt.Fprint(os.Stdout, out.String())

	if err := res.Err(); nil != err {
		if errors.Is(err, qq.ErrLoginLinkExpired) {
			logger.Error().Msg("QR code expired before it was scanned. Run login again.")
			return exitCodeError(3)
		}

		if errors.Is(err, qq.ErrLoginRefused) {
			logger.Error().Msg("Login was refused on the phone.")
			return exitCodeError(4)
		}

		return fmt.Errorf("login: %w", err)
	}

	creds := res.Unwrap()
	logger.Info().Dict("credentials", creds.ToDict()).Msg("Logged in successfully")

	return nil
}

func credsStatus(ctx context.Context, cmd *cli.Command) error {
	_, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, conf, err := initialize(cmd)
	if nil != err {
		return err
	}

	client, err := qq.NewClient(logger, conf)
	if nil != err {
		return fmt.Errorf("create client: %v", err)
	}
	defer func() {
		if closeErr := client.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close client")
		}
	}()

	state := client.Credentials().State()
	logger.Info().Str("state", string(state)).Msg("Credential state")

	return nil
}

func credsRefresh(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, conf, err := initialize(cmd)
	if nil != err {
		return err
	}

	client, err := qq.NewClient(logger, conf)
	if nil != err {
		return fmt.Errorf("create client: %v", err)
	}
	defer func() {
		if closeErr := client.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close client")
		}
	}()

	if err := client.RefreshCredentials(ctx, logger); nil != err {
		if errors.Is(err, qq.ErrLoginRequired) {
			logger.Error().Msg("Stored credentials cannot be refreshed. Run login again.")
			return exitCodeError(2)
		}

		return fmt.Errorf("refresh credentials: %w", err)
	}

	logger.Info().Dict("credentials", client.Credentials().ToDict()).Msg("Credentials refreshed")

	return nil
}

func credsShow(ctx context.Context, cmd *cli.Command) error {
	_, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, conf, err := initialize(cmd)
	if nil != err {
		return err
	}

	client, err := qq.NewClient(logger, conf)
	if nil != err {
		return fmt.Errorf("create client: %v", err)
	}
	defer func() {
		if closeErr := client.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close client")
		}
	}()

	creds := client.Credentials()
	if creds.Absent() {
		logger.Info().Msg("No stored credentials. Run login first.")
		return nil
	}

	logger.Info().Dict("credentials", creds.ToDict()).Msg("Stored credentials")

	return nil
}

func credsLogout(ctx context.Context, cmd *cli.Command) error {
	_, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, conf, err := initialize(cmd)
	if nil != err {
		return err
	}

	client, err := qq.NewClient(logger, conf)
	if nil != err {
		return fmt.Errorf("create client: %v", err)
	}
	defer func() {
		if closeErr := client.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close client")
		}
	}()

	if err := client.Logout(); nil != err {
		return fmt.Errorf("logout: %w", err)
	}

	logger.Info().Msg("Stored credentials discarded")

	return nil
}

func search(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, conf, err := initialize(cmd)
	if nil != err {
		return err
	}

	keyword := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if keyword == "" {
		return errors.New("search keyword is required")
	}

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		logger.Error().Msg("No TTY detected. Result selection needs an interactive terminal.")
		return exitCodeError(1)
	}

	client, err := qq.NewClient(logger, conf)
	if nil != err {
		return fmt.Errorf("create client: %v", err)
	}
	defer func() {
		if closeErr := client.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close client")
		}
	}()

	tracks, err := client.Search(ctx, keyword, int(cmd.Int("limit")))
	if nil != err {
		return fmt.Errorf("search songs: %w", err)
	}
	if len(tracks) == 0 {
		logger.Info().Str("keyword", keyword).Msg("No songs found")
		return nil
	}

	options := lo.Map(tracks, func(t types.Track, _ int) string {
		label := fmt.Sprintf("%s - %s (%s)", t.Artist, t.Title, t.Album)
		if t.VIP {
			label += " [VIP]"
		}

		return label
	})

	var selected int
	prompt := &survey.Select{ //nolint:exhaustruct
		Message:  "Select a song to download:",
		Options:  options,
		PageSize: 10,
	}
	askOpts := []survey.AskOpt{
		survey.WithStdio(os.Stdin, os.Stdout, os.Stdout),
		survey.WithShowCursor(true),
	}
	if err := survey.AskOne(prompt, &selected, askOpts...); nil != err {
		return fmt.Errorf("ask for song selection: %v", err)
	}

	summary, err := client.TryDownloadTrack(ctx, logger, tracks[selected])
	if nil != err {
		return downloadErr(logger, err)
	}

	printSummary(summary)

	return nil
}

func playlist(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, conf, err := initialize(cmd)
	if nil != err {
		return err
	}

	uin := strings.TrimSpace(cmd.String("user"))

	var id int64
	if uin == "" {
		rawID := cmd.Args().First()
		if rawID == "" {
			return errors.New("playlist id is required")
		}
		parsed, err := strconv.ParseInt(rawID, 10, 64)
		if nil != err {
			return fmt.Errorf("invalid playlist id %q: %v", rawID, err)
		}
		id = parsed
	} else if !isatty.IsTerminal(os.Stdout.Fd()) {
		logger.Error().Msg("No TTY detected. Playlist selection needs an interactive terminal.")
		return exitCodeError(1)
	}

	client, err := qq.NewClient(logger, conf)
	if nil != err {
		return fmt.Errorf("create client: %v", err)
	}
	defer func() {
		if closeErr := client.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close client")
		}
	}()

	if uin != "" {
		refs, err := client.UserPlaylists(ctx, uin)
		if nil != err {
			return fmt.Errorf("list user playlists: %w", err)
		}
		if len(refs) == 0 {
			logger.Info().Str("uin", uin).Msg("User has no public playlists")
			return nil
		}

		options := lo.Map(refs, func(r types.PlaylistRef, _ int) string {
			return fmt.Sprintf("%s (%d tracks)", r.Title, r.TrackCount)
		})

		var selected int
		prompt := &survey.Select{ //nolint:exhaustruct
			Message:  "Select a playlist to download:",
			Options:  options,
			PageSize: 10,
		}
		askOpts := []survey.AskOpt{
			survey.WithStdio(os.Stdin, os.Stdout, os.Stdout),
			survey.WithShowCursor(true),
		}
		if err := survey.AskOne(prompt, &selected, askOpts...); nil != err {
			return fmt.Errorf("ask for playlist selection: %v", err)
		}

		id = refs[selected].ID
	}

	summary, err := client.TryDownloadPlaylist(ctx, logger, id)
	if nil != err {
		return downloadErr(logger, err)
	}

	printSummary(summary)

	if summary.Failed > 0 {
		return exitCodeError(5)
	}

	return nil
}

func downloadErr(logger zerolog.Logger, err error) error {
	if errors.Is(err, qq.ErrLoginRequired) {
		logger.Error().Msg("Not logged in or credentials cannot be refreshed. Run login first.")
		return exitCodeError(2)
	}

	if errors.Is(err, qq.ErrDownloadInProgress) {
		logger.Error().Msg("Another download is already in progress")
		return exitCodeError(6)
	}

	return fmt.Errorf("download: %w", err)
}

func printSummary(s *types.BatchSummary) {
	w := table.NewWriter()
	w.SetOutputMirror(os.Stdout)
	w.AppendHeader(table.Row{"Track", "Artist", "Outcome", "Quality", "Reason"})
	for _, r := range s.Results {
		quality := ""
		if r.Outcome == types.OutcomeSucceeded || r.Outcome == types.OutcomeSkipped {
			quality = r.Quality.String()
		}
		w.AppendRow(table.Row{r.Track.Title, r.Track.Artist, r.Outcome.String(), quality, r.Reason})
	}
	w.AppendFooter(table.Row{
		"",
		"",
		fmt.Sprintf("%d ok / %d failed / %d skipped", s.Succeeded, s.Failed, s.Skipped),
		"",
		"",
	})
	w.Render()
}
