package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/capture"
)

// receiver decodes Opus packets for a single followed speaker.
type receiver struct {
	mu       sync.Mutex
	userID   string
	speakers map[uint32]string // SSRC -> user ID
	followed uint32
	locked   bool

	dec     *opusDecoder
	baseRTP uint32
	haveRTP bool
}

func newReceiver(userID string) *receiver {
	return &receiver{
		userID:   userID,
		speakers: make(map[uint32]string),
	}
}

// mapSpeaker records which user owns ssrc. Discord announces this through
// speaking updates before (or shortly after) the first packet.
func (r *receiver) mapSpeaker(ssrc uint32, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speakers[ssrc] = userID
}

// accept reports whether a packet from ssrc belongs to the followed speaker.
func (r *receiver) accept(ssrc uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked {
		return ssrc == r.followed
	}
	if r.userID != "" && r.speakers[ssrc] != r.userID {
		return false
	}
	r.followed = ssrc
	r.locked = true
	return true
}

// run delivers decoded frames to h until packets closes or done is closed.
func (r *receiver) run(packets <-chan *discordgo.Packet, done <-chan struct{}, h capture.FrameHandler) {
	for {
		select {
		case <-done:
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			if pkt == nil || !r.accept(pkt.SSRC) {
				continue
			}
			frame, ok := r.decode(pkt)
			if !ok {
				continue
			}
			h(frame)
		}
	}
}

func (r *receiver) decode(pkt *discordgo.Packet) (audio.AudioFrame, bool) {
	if r.dec == nil {
		dec, err := newOpusDecoder()
		if err != nil {
			slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "error", err)
			return audio.AudioFrame{}, false
		}
		r.dec = dec
	}
	pcm, err := r.dec.decode(pkt.Opus)
	if err != nil {
		slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "error", err)
		return audio.AudioFrame{}, false
	}

	if !r.haveRTP {
		r.baseRTP = pkt.Timestamp
		r.haveRTP = true
	}
	// RTP timestamps tick at the Opus clock rate and wrap at 2^32.
	elapsed := pkt.Timestamp - r.baseRTP
	return audio.AudioFrame{
		Data:          pcm,
		SampleRate:    opusSampleRate,
		Channels:      opusChannels,
		BitsPerSample: audio.BitDepth,
		Timestamp:     time.Duration(elapsed) * time.Second / opusSampleRate,
	}, true
}
