// Package discord captures a Discord voice channel as a network audio
// source. Opus packets received through bwmarrin/discordgo are decoded with
// layeh.com/gopus into 48 kHz stereo PCM frames.
//
// Discord delivers one Opus stream per speaker (SSRC). A transcript needs a
// single temporally ordered stream, so the source follows exactly one
// speaker: the configured user, or, when none is configured, the first
// speaker heard after Start.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/capture"
)

var _ capture.Source = (*Source)(nil)

// Source joins a voice channel and delivers one speaker's decoded audio.
//
// Source is safe for concurrent use.
type Source struct {
	session   *discordgo.Session
	ownsOpen  bool
	guildID   string
	channelID string
	userID    string

	mu   sync.Mutex
	vc   *discordgo.VoiceConnection
	done chan struct{}
	wg   sync.WaitGroup
}

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithUser restricts capture to the given Discord user ID.
func WithUser(userID string) Option {
	return func(s *Source) { s.userID = userID }
}

// New creates a Source with its own bot session authenticated by token.
// The gateway connection is opened on Start.
func New(token, guildID, channelID string, opts ...Option) (*Source, error) {
	if token == "" {
		return nil, fmt.Errorf("discord: token must not be empty")
	}
	if guildID == "" || channelID == "" {
		return nil, fmt.Errorf("discord: guild and channel IDs must not be empty")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildVoiceStates
	s := NewWithSession(session, guildID, channelID, opts...)
	s.ownsOpen = true
	return s, nil
}

// NewWithSession creates a Source on an already-open session owned by the
// caller.
func NewWithSession(session *discordgo.Session, guildID, channelID string, opts ...Option) *Source {
	s := &Source{
		session:   session,
		guildID:   guildID,
		channelID: channelID,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Format implements capture.Source. Discord voice is always 48 kHz stereo.
func (s *Source) Format() audio.Format {
	return audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}
}

// IsRecording implements capture.Source.
func (s *Source) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vc != nil
}

// Start joins the voice channel (muted, not deafened) and starts the
// receive loop.
func (s *Source) Start(ctx context.Context, h capture.FrameHandler) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("discord: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vc != nil {
		return capture.ErrAlreadyStarted
	}

	if s.ownsOpen {
		if err := s.session.Open(); err != nil {
			return fmt.Errorf("discord: open gateway: %w", err)
		}
	}

	vc, err := s.session.ChannelVoiceJoin(s.guildID, s.channelID, true, false)
	if err != nil {
		s.closeSession()
		return fmt.Errorf("discord: join voice channel %q: %w", s.channelID, err)
	}

	rx := newReceiver(s.userID)
	vc.AddHandler(func(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
		rx.mapSpeaker(uint32(vs.SSRC), vs.UserID)
	})

	s.vc = vc
	s.done = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		rx.run(vc.OpusRecv, s.done, h)
	}()

	slog.Info("discord: capture started", "guild", s.guildID, "channel", s.channelID, "user", s.userID)
	return nil
}

// Stop leaves the voice channel and waits for the receive loop to exit.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vc == nil {
		return nil
	}
	close(s.done)
	s.wg.Wait()

	err := s.vc.Disconnect()
	s.vc = nil
	s.closeSession()
	if err != nil {
		return fmt.Errorf("discord: disconnect: %w", err)
	}
	slog.Info("discord: capture stopped", "channel", s.channelID)
	return nil
}

func (s *Source) closeSession() {
	if !s.ownsOpen {
		return
	}
	if err := s.session.Close(); err != nil {
		slog.Warn("discord: close gateway", "error", err)
	}
}
