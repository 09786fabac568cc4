package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/livescribe/internal/discord/mock"
)

func TestPermissionChecker_CanControl(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		roleID string
		inter  *discordgo.InteractionCreate
		want   bool
	}{
		{
			name:   "user with control role",
			roleID: "role-123",
			inter: &discordgo.InteractionCreate{
				Interaction: &discordgo.Interaction{
					Member: &discordgo.Member{
						Roles: []string{"role-456", "role-123", "role-789"},
					},
				},
			},
			want: true,
		},
		{
			name:   "user without control role",
			roleID: "role-123",
			inter: &discordgo.InteractionCreate{
				Interaction: &discordgo.Interaction{
					Member: &discordgo.Member{
						Roles: []string{"role-456", "role-789"},
					},
				},
			},
			want: false,
		},
		{
			name:   "empty role allows all",
			roleID: "",
			inter: &discordgo.InteractionCreate{
				Interaction: &discordgo.Interaction{
					Member: &discordgo.Member{
						Roles: []string{"role-456"},
					},
				},
			},
			want: true,
		},
		{
			name:   "nil Member returns false",
			roleID: "role-123",
			inter: &discordgo.InteractionCreate{
				Interaction: &discordgo.Interaction{},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pc := NewPermissionChecker(tt.roleID)
			if got := pc.CanControl(tt.inter); got != tt.want {
				t.Errorf("CanControl() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCommandRouter_ApplicationCommands_Dedup(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	noop := func(Responder, *discordgo.InteractionCreate) {}

	cmd := &discordgo.ApplicationCommand{Name: "transcribe"}
	r.RegisterCommand("transcribe/start", cmd, noop)
	r.RegisterCommand("transcribe/stop", cmd, noop)
	r.RegisterHandler("transcribe/status", noop)

	cmds := r.ApplicationCommands()
	if len(cmds) != 1 {
		t.Fatalf("expected 1 deduplicated command, got %d", len(cmds))
	}
	if cmds[0].Name != "transcribe" {
		t.Errorf("command name = %q, want transcribe", cmds[0].Name)
	}
}

func TestCommandRouter_HandleRoutesSubcommand(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	var got string
	r.RegisterHandler("transcribe/stop", func(Responder, *discordgo.InteractionCreate) { got = "stop" })
	r.RegisterHandler("transcribe", func(Responder, *discordgo.InteractionCreate) { got = "top" })

	r.Handle(&mock.InteractionResponder{}, command("transcribe", "stop"))
	if got != "stop" {
		t.Errorf("routed to %q, want stop", got)
	}
	r.Handle(&mock.InteractionResponder{}, command("transcribe", ""))
	if got != "top" {
		t.Errorf("routed to %q, want top", got)
	}
}

func TestCommandRouter_UnknownCommand(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	resp := &mock.InteractionResponder{}
	r.Handle(resp, command("nope", ""))

	last := resp.LastResponse()
	if last == nil {
		t.Fatal("expected a response")
	}
	if last.Data.Content != "Unknown command." {
		t.Errorf("content = %q", last.Data.Content)
	}
	if last.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Error("unknown command reply should be ephemeral")
	}
}

func TestCommandRouter_IgnoresOtherInteractions(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	resp := &mock.InteractionResponder{}
	r.Handle(resp, &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing},
	})
	if len(resp.Responses) != 0 {
		t.Errorf("expected no responses, got %d", len(resp.Responses))
	}
}

// command builds an application command interaction, optionally invoking
// a subcommand with opts.
func command(name, sub string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	data := discordgo.ApplicationCommandInteractionData{Name: name, Options: opts}
	if sub != "" {
		data.Options = []*discordgo.ApplicationCommandInteractionDataOption{{
			Name:    sub,
			Type:    discordgo.ApplicationCommandOptionSubCommand,
			Options: opts,
		}}
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:   discordgo.InteractionApplicationCommand,
			Data:   data,
			Member: &discordgo.Member{Roles: []string{"role-control"}},
		},
	}
}
