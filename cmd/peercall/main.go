// peercall joins a relay room as a headless call client. It negotiates a
// WebRTC connection with the other peer, sends synthetic audio and video,
// and turns stdin into a chat prompt.
//
// Commands typed on stdin:
//
//	/mute          toggle the microphone
//	/camera        toggle the camera
//	/renegotiate   send a fresh offer (room creator only)
//	/quit          leave the call
//
// Anything else is sent as a chat message.
//
// Received descriptions are trimmed to an attribute whitelist that drops
// a=ssrc, a=msid and a=extmap. When both peers run peercall, pass
// --sdp-allow ssrc,msid,extmap or the room creator never receives the
// other side's media.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/mossy-p/peercall/config"
	"github.com/mossy-p/peercall/internal/call"
	"github.com/mossy-p/peercall/internal/chat"
	"github.com/mossy-p/peercall/internal/logging"
	"github.com/mossy-p/peercall/internal/media"
	"github.com/mossy-p/peercall/internal/negotiation"
	"github.com/mossy-p/peercall/internal/signaling"
)

const leaveTimeout = 3 * time.Second

type options struct {
	relayURL   string
	room       string
	create     bool
	user       string
	password   string
	logLevel   string
	iceServers []string
	sdpExtra   []string
	audio      bool
	video      bool
	loopback   bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	var opts options
	flagSet := newFlagSet(cfg, &opts)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(os.Stderr, flagSet)
			return nil
		}
		return err
	}
	if opts.user == "" {
		return errors.New("--user is required")
	}
	if opts.room == "" && !opts.create {
		return errors.New("either --room or --create is required")
	}

	// stdout carries the chat; logs go to stderr.
	logger := logging.NewWriter(os.Stderr, opts.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return join(ctx, opts, logger, os.Stdin, os.Stdout)
}

func newFlagSet(cfg *config.Config, opts *options) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("peercall", pflag.ContinueOnError)
	flagSet.Usage = func() {}
	flagSet.StringVar(&opts.relayURL, "relay", cfg.Call.RelayURL, "signaling relay base URL")
	flagSet.StringVarP(&opts.room, "room", "r", "", "room code or ID to join")
	flagSet.BoolVar(&opts.create, "create", false, "create a new room and join it as the initiator")
	flagSet.StringVarP(&opts.user, "user", "u", "", "user name to log in as")
	flagSet.StringVar(&opts.password, "password", "peercall", "password sent to the relay's login endpoint")
	flagSet.StringVar(&opts.logLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flagSet.StringSliceVar(&opts.iceServers, "ice-server", cfg.Call.ICEServers, "STUN/TURN server URL (repeatable)")
	flagSet.StringSliceVar(&opts.sdpExtra, "sdp-allow", cfg.Call.SDPExtraAttributes,
		"extra SDP attribute to keep in received descriptions (repeatable); peercall-to-peercall calls need "+
			strings.Join(negotiation.TrackAttributes, ",")+" for media in both directions")
	flagSet.BoolVar(&opts.audio, "audio", true, "send an audio track")
	flagSet.BoolVar(&opts.video, "video", true, "send a video track")
	flagSet.BoolVar(&opts.loopback, "loopback", false, "gather loopback ICE candidates (both peers on one host)")
	return flagSet
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	tracks := strings.Join(negotiation.TrackAttributes, ",")
	fmt.Fprintf(w, `peercall joins a relay room as a headless call client.

Received session descriptions are trimmed to an attribute whitelist. The
default whitelist drops a=ssrc, a=msid and a=extmap, which pion needs to
surface the remote peer's tracks. When both sides run peercall, pass
--sdp-allow %s on both or the room creator never receives media.

Usage:
  peercall --user NAME (--create | --room CODE) [flags]

Examples:
  # Create a room and wait for the other peer
  peercall --user alice --create --sdp-allow %s

  # Join it from another terminal
  peercall --user bob --room ABCD23 --sdp-allow %s

Commands on stdin:
  /mute          toggle the microphone
  /camera        toggle the camera
  /renegotiate   send a fresh offer (room creator only)
  /quit          leave the call

Flags:
`, tracks, tracks, tracks)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}

func join(ctx context.Context, opts options, logger *slog.Logger, in io.Reader, out io.Writer) error {
	api := newRelayAPI(opts.relayURL)
	login, err := api.login(ctx, opts.user, opts.password)
	if err != nil {
		return err
	}

	roomID := opts.room
	if opts.create {
		created, err := api.createRoom(ctx)
		if err != nil {
			return err
		}
		roomID = created.Code
		fmt.Fprintf(out, "created room %s\n", created.Code)
	}
	room, err := api.getRoom(ctx, roomID)
	if err != nil {
		return err
	}

	session := negotiation.Session{
		RoomCode:    room.Code,
		LocalUserID: login.UserID,
		Role:        negotiation.RoleFor(room.CreatorID, login.UserID),
	}
	logger = logger.With("room", room.Code, "user", session.LocalUserID, "role", string(session.Role))

	transport := signaling.NewClient(signaling.ClientConfig{
		BaseURL: opts.relayURL,
		RoomID:  room.ID,
		Token:   login.Token,
		UserID:  login.UserID,
		Logger:  logger,
	})
	defer transport.Close()
	if err := transport.Connect(ctx); err != nil {
		return err
	}

	c := call.New(call.Options{
		Session:   session,
		Transport: transport,
		NewPeer: negotiation.NewPionFactory(negotiation.PionConfig{
			ICEServers:      config.CallConfig{ICEServers: opts.iceServers}.WebRTCICEServers(),
			IncludeLoopback: opts.loopback,
		}),
		Source:      &media.SyntheticSource{Logger: logger},
		Constraints: media.Constraints{Audio: opts.audio, Video: opts.video},
		Sink:        &media.LogSink{Logger: logger},
		Sanitizer:   negotiation.NewSanitizer(opts.sdpExtra...),
		Logger:      logger,
		OnStatus: func(status negotiation.Status) {
			fmt.Fprintf(out, "* %s\n", status)
		},
		OnChatReady: func() {
			fmt.Fprintln(out, "* chat ready")
		},
		OnMessage: func(m chat.Message) {
			if m.Direction == chat.DirectionReceived {
				fmt.Fprintf(out, "<%s> %s\n", m.Author, m.Text)
			}
		},
	})

	if err := c.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "* joined %s as %s\n", room.Code, session.Role)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-c.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return leave(c, logger)

		case <-c.Done():
			if c.RemoteEnded() {
				fmt.Fprintln(out, "* peer left the call")
			}
			return nil

		case line, ok := <-lines:
			if !ok {
				return leave(c, logger)
			}
			if quit := command(c, out, strings.TrimSpace(line)); quit {
				return leave(c, logger)
			}
		}
	}
}

// command runs one line of input and reports whether the user asked to quit.
func command(c *call.Call, out io.Writer, line string) bool {
	switch line {
	case "":
	case "/quit":
		return true
	case "/mute":
		if c.ToggleAudio() {
			fmt.Fprintln(out, "* microphone on")
		} else {
			fmt.Fprintln(out, "* microphone off")
		}
	case "/camera":
		if c.ToggleVideo() {
			fmt.Fprintln(out, "* camera on")
		} else {
			fmt.Fprintln(out, "* camera off")
		}
	case "/renegotiate":
		if err := c.Renegotiate(); err != nil {
			fmt.Fprintf(out, "* cannot renegotiate: %v\n", err)
		}
	default:
		if !c.SendChat(line) {
			fmt.Fprintln(out, "* chat is not connected yet")
		}
	}
	return false
}

func leave(c *call.Call, logger *slog.Logger) error {
	c.Leave()
	select {
	case <-c.Done():
	case <-time.After(leaveTimeout):
		logger.Warn("timed out leaving call")
	}
	return nil
}
