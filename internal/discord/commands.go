package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/livescribe/internal/session"
	"github.com/MrWong99/livescribe/internal/subtitle"
)

// Controller is the part of [session.Controller] the slash commands drive.
type Controller interface {
	StartRecording(ctx context.Context) (string, error)
	StopRecording(ctx context.Context) error
	Transcript() session.Transcript
}

// commandTimeout bounds deferred start and stop work. Stopping waits for
// the final transcription pass.
const commandTimeout = 2 * time.Minute

// maxEmbedText is the part of the live transcript shown by /transcribe status.
const maxEmbedText = 1000

// TranscribeCommands holds the dependencies for /transcribe slash commands.
type TranscribeCommands struct {
	ctrl  Controller
	perms *PermissionChecker
}

// NewTranscribeCommands creates a TranscribeCommands and registers its
// handlers with the bot's router.
func NewTranscribeCommands(bot *Bot, ctrl Controller) *TranscribeCommands {
	tc := &TranscribeCommands{ctrl: ctrl, perms: bot.Permissions()}
	tc.Register(bot.Router())
	return tc
}

// Register registers the /transcribe command group with router.
func (tc *TranscribeCommands) Register(router *CommandRouter) {
	router.RegisterCommand("transcribe", tc.Definition(), func(r Responder, i *discordgo.InteractionCreate) {
		RespondEphemeral(r, i, "Please use a subcommand: `/transcribe start`, `stop`, `status` or `export`.")
	})
	router.RegisterHandler("transcribe/start", tc.handleStart)
	router.RegisterHandler("transcribe/stop", tc.handleStop)
	router.RegisterHandler("transcribe/status", tc.handleStatus)
	router.RegisterHandler("transcribe/export", tc.handleExport)
}

// Definition returns the ApplicationCommand definition for Discord.
func (tc *TranscribeCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "transcribe",
		Description: "Control the live transcription",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "start",
				Description: "Start recording and transcribing",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "stop",
				Description: "Stop the active recording",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show the recording state and live transcript",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "export",
				Description: "Post the transcript as a file",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "format",
						Description: "File format (default srt)",
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "SubRip subtitles", Value: string(subtitle.FormatSRT)},
							{Name: "Plain text", Value: string(subtitle.FormatText)},
						},
					},
				},
			},
		},
	}
}

func (tc *TranscribeCommands) handleStart(r Responder, i *discordgo.InteractionCreate) {
	if !tc.perms.CanControl(i) {
		RespondEphemeral(r, i, "You need the control role to start a recording.")
		return
	}
	DeferReply(r, i)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	id, err := tc.ctrl.StartRecording(ctx)
	if err != nil {
		FollowUp(r, i, userMessage(err))
		return
	}
	FollowUp(r, i, fmt.Sprintf("Recording started (session `%s`).", id))
}

func (tc *TranscribeCommands) handleStop(r Responder, i *discordgo.InteractionCreate) {
	if !tc.perms.CanControl(i) {
		RespondEphemeral(r, i, "You need the control role to stop a recording.")
		return
	}
	DeferReply(r, i)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := tc.ctrl.StopRecording(ctx); err != nil {
		FollowUp(r, i, userMessage(err))
		return
	}
	t := tc.ctrl.Transcript()
	if t.State == session.StateTranscribing {
		FollowUp(r, i, "Recording stopped. The transcript is being processed.")
		return
	}
	FollowUp(r, i, fmt.Sprintf("Recording stopped. %d lines transcribed.", len(t.Lines)))
}

func (tc *TranscribeCommands) handleStatus(r Responder, i *discordgo.InteractionCreate) {
	t := tc.ctrl.Transcript()

	embed := &discordgo.MessageEmbed{
		Title: "Transcription",
		Color: 0x5865F2,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "State", Value: t.State.String(), Inline: true},
			{Name: "Lines", Value: fmt.Sprintf("%d", len(t.Lines)), Inline: true},
		},
	}
	if t.SessionID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Session", Value: "`" + t.SessionID + "`"})
	}
	if live := tail(t.Snapshot.Live, maxEmbedText); live != "" {
		embed.Description = live
	}
	RespondEmbed(r, i, embed)
}

func (tc *TranscribeCommands) handleExport(r Responder, i *discordgo.InteractionCreate) {
	format := subtitle.FormatSRT
	for _, opt := range subcommandOptions(i.ApplicationCommandData()) {
		if opt.Name == "format" {
			f, err := subtitle.ParseFormat(opt.StringValue())
			if err != nil {
				RespondError(r, i, err)
				return
			}
			format = f
		}
	}

	t := tc.ctrl.Transcript()
	if len(t.Lines) == 0 {
		RespondEphemeral(r, i, "There is no transcript to export yet.")
		return
	}
	var buf bytes.Buffer
	if err := subtitle.Write(&buf, format, t.Lines); err != nil {
		RespondError(r, i, err)
		return
	}

	name := "transcript." + string(format)
	if t.SessionID != "" {
		name = t.SessionID + "." + string(format)
	}
	contentType := "text/plain"
	if format == subtitle.FormatSRT {
		contentType = "application/x-subrip"
	}
	RespondFile(r, i, fmt.Sprintf("Transcript with %d lines.", len(t.Lines)), name, contentType, &buf)
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrAlreadyRecording):
		return "A recording is already running."
	case errors.Is(err, session.ErrNotRecording):
		return "Nothing is being recorded."
	case errors.Is(err, session.ErrBusy):
		return "Busy with another session, try again shortly."
	case errors.Is(err, session.ErrNoSource):
		return "No audio source is configured."
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

// tail returns at most n bytes from the end of s, cut at a space.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if idx := strings.IndexByte(s, ' '); idx >= 0 {
		s = s[idx+1:]
	}
	return "..." + s
}
