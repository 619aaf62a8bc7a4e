package main

import (
	"context"
	"fmt"
	ossignal "os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/avolkov/huddle/internal/client"
	"github.com/avolkov/huddle/internal/config"
	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/rtc"
	"github.com/avolkov/huddle/internal/signal"
)

var (
	flagJoinName   string
	flagJoinServer string
	flagAcceptAll  bool
)

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a room as a headless participant",
	Long: `Join connects to the relay, requests admission into the room and
drives the peer link mesh. Chat and presence events are printed to
stdout. Without capture hardware the links negotiate media-less.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(domain.RoomID(args[0]))
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagJoinName, "name", "guest", "display name")
	joinCmd.Flags().StringVar(&flagJoinServer, "server", "", "relay websocket URL (overrides config)")
	joinCmd.Flags().BoolVar(&flagAcceptAll, "accept-all", false, "grant every knocking guest")
	rootCmd.AddCommand(joinCmd)
}

func runJoin(roomID domain.RoomID) error {
	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setLogLevel(cfg.LogLevel)

	serverURL := cfg.ServerURL
	if flagJoinServer != "" {
		serverURL = flagJoinServer
	}

	session, err := client.Dial(ctx, serverURL, flagJoinName, cfg.PingPeriod)
	if err != nil {
		return err
	}
	defer session.Close()

	// Headless: no capture hardware, links negotiate without local media.
	factory := rtc.NewFactory(cfg.STUNURLs, client.MediaSet{})
	orch := client.NewOrchestrator(session, factory, nil, cfg.MeshLimit)
	defer orch.Close()
	presence := client.NewPresence(session, flagJoinName)

	if err := session.RequestJoin(roomID); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-session.Incoming():
			if !ok {
				return fmt.Errorf("connection to relay lost")
			}
			if err := dispatch(roomID, session, orch, presence, env); err != nil {
				return err
			}
		}
	}
}

// dispatch fans one relayed envelope out to the orchestrator, the
// presence channel or stdout.
func dispatch(roomID domain.RoomID, session *client.Session, orch *client.Orchestrator, presence *client.Presence, env signal.Envelope) error {
	payload, err := env.Decode()
	if err != nil {
		log.Warn().Err(err).Str("type", string(env.Type)).Msg("undecodable envelope")
		return nil
	}

	switch env.Type {
	case signal.TypeRoomJoined:
		p := payload.(signal.RoomJoined)
		fmt.Printf("joined room %s (host=%v)\n", p.RoomID, p.IsHost)
		return presence.Announce()
	case signal.TypeWaitingForHost:
		fmt.Println("waiting for a member to let you in...")
	case signal.TypeGuestDenied:
		return fmt.Errorf("the room denied your join request")
	case signal.TypeGuestKnocking:
		p := payload.(signal.GuestKnocking)
		if flagAcceptAll {
			fmt.Printf("%s is knocking, letting them in\n", p.GuestName)
			return session.AcceptGuest(roomID, p.GuestID)
		}
		fmt.Printf("%s is knocking (guest id %s); restart with --accept-all to admit guests\n", p.GuestName, p.GuestID)
	case signal.TypeUserConnected:
		p := payload.(signal.Membership)
		fmt.Println("a user joined the room")
		presence.HandleUserConnected(p.UserID)
		orch.HandleUserConnected(p.UserID)
	case signal.TypeUserDisconnected:
		p := payload.(signal.Membership)
		name, _ := presence.Name(p.UserID)
		if name == "" {
			name = "a user"
		}
		fmt.Printf("%s left the room\n", name)
		orch.HandleUserDisconnected(p.UserID)
		presence.HandleUserDisconnected(p.UserID)
	case signal.TypeOffer:
		p := payload.(signal.Description)
		orch.HandleOffer(env.SenderID, p.SDP)
	case signal.TypeAnswer:
		p := payload.(signal.Description)
		orch.HandleAnswer(env.SenderID, p.SDP)
	case signal.TypeICECandidate:
		p := payload.(signal.Candidate)
		orch.HandleCandidate(env.SenderID, p.Candidate)
	case signal.TypeChatMessage:
		p := payload.(signal.Chat)
		if presence.HandleChat(env.SenderID, p) {
			return nil
		}
		if p.IsFile {
			fmt.Printf("[%s shared a file: %s]\n", p.SenderName, p.FileName)
			return nil
		}
		fmt.Printf("%s: %s\n", p.SenderName, p.Message)
	case signal.TypeError:
		p := payload.(signal.ErrorPayload)
		log.Warn().Str("error", p.Error).Msg("relay error")
	}
	return nil
}
