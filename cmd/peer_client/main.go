package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/abiosoft/ishell/v2"
	"github.com/edup2p/punch/client"
	"github.com/edup2p/punch/types"
	"github.com/edup2p/punch/types/msgpunch"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Flags
var (
	framingFlag string
	peerID      string
	noRelay     bool
	localPort   uint16
	logLevel    string
)

var programLevel = new(slog.LevelVar) // Info by default

var rootCmd = &cobra.Command{
	Use:   "peer_client RENDEZVOUS_IP RENDEZVOUS_PORT",
	Short: "Meet another peer through a rendezvous server and chat with it",
	Long: `Registers with the rendezvous server, waits for a partner, and punches a hole to it.

If the direct path does not open, messages go through the server instead.
Type a line to send it, "exit" ends the conversation.`,
	Args: cobra.ExactArgs(2),
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&framingFlag, "framing", "plain", "wire framing, plain or identity; must match the server")
	rootCmd.Flags().StringVar(&peerID, "peer-id", "", "peer id under identity framing, random if empty")
	rootCmd.Flags().BoolVar(&noRelay, "no-relay", false, "only accept a direct link to the peer")
	rootCmd.Flags().Uint16Var(&localPort, "local-port", 0, "local UDP port, ephemeral if 0")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level, one of trace, debug, info, warn, error")
}

func main() {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel})
	slog.SetDefault(slog.New(h))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseServer(ip, port string) (netip.AddrPort, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid rendezvous ip: %w", err)
	}

	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return netip.AddrPort{}, fmt.Errorf("invalid rendezvous port %q", port)
	}

	return types.NormaliseAddrPort(netip.AddrPortFrom(addr, uint16(p))), nil
}

func run(cmd *cobra.Command, args []string) error {
	server, err := parseServer(args[0], args[1])
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	level, err := types.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	programLevel.Set(level)

	framing, err := msgpunch.ParseFraming(framingFlag)
	if err != nil {
		return err
	}

	network := "udp4"
	if server.Addr().Is6() {
		network = "udp6"
	}

	conn, err := net.ListenUDP(network, &net.UDPAddr{Port: int(localPort)})
	if err != nil {
		return fmt.Errorf("could not open socket: %w", err)
	}

	cl, err := client.NewClient(conn, client.Config{
		Server:  server,
		Framing: framing,
		PeerID:  peerID,
		NoRelay: noRelay,
	})
	if err != nil {
		conn.Close()
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shell := ishell.New()
	setupShell(ctx, shell, cl)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := cl.Run(gctx)
		shell.Close()

		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		for ev := range cl.Events() {
			printEvent(shell, ev)
		}
		return nil
	})

	shell.Println("local address:", cl.LocalAddr().String())
	if framing == msgpunch.FramingIdentity {
		shell.Println("peer id:", cl.PeerID())
	}

	shell.Run()

	// The shell also stops on EOF or interrupt, leave the conversation properly then.
	select {
	case <-cl.Done():
	default:
		if cl.State() == client.Linked {
			if err := cl.Exit(ctx); err != nil {
				slog.Warn("could not exit cleanly", "error", err)
			}
		}
		cancel()
	}

	return g.Wait()
}

func printEvent(shell *ishell.Shell, ev client.Event) {
	switch ev := ev.(type) {
	case client.MessageEvent:
		if ev.Relayed {
			shell.Printf("Received (relayed): %s\n", ev.Text)
		} else {
			shell.Printf("Received: %s\n", ev.Text)
		}
	case client.StateEvent:
		switch ev.To {
		case client.AwaitingPeer:
			shell.Println("Connected to the server, waiting for peer...")
		case client.Linked:
			shell.Println("Peer connected, type a message to send it.")
		}
	case client.ClosedEvent:
		if ev.ByPeer {
			shell.Println(msgpunch.ExitNotice)
		} else {
			shell.Println("Conversation closed.")
		}
	}
}

func sendLine(ctx context.Context, cl *client.Client, c *ishell.Context, line string) {
	if line == "" {
		return
	}

	if err := cl.Send(ctx, line); err != nil {
		if errors.Is(err, client.ErrPeerNotConnected) {
			c.Println("Peer is not connected yet.")
			return
		}
		c.Err(err)
	}
}

func setupShell(ctx context.Context, shell *ishell.Shell, cl *client.Client) {
	shell.NotFound(func(c *ishell.Context) {
		sendLine(ctx, cl, c, strings.Join(c.RawArgs, " "))
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "send",
		Help: "send a message to the peer",
		Func: func(c *ishell.Context) {
			sendLine(ctx, cl, c, strings.Join(c.Args, " "))
		},
	})

	shell.DeleteCmd("exit")
	shell.AddCmd(&ishell.Cmd{
		Name: msgpunch.ExitToken,
		Help: "leave the conversation",
		Func: func(c *ishell.Context) {
			if cl.State() != client.Linked {
				c.Stop()
				return
			}

			if err := cl.Exit(ctx); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "state",
		Help: "show the session state",
		Func: func(c *ishell.Context) {
			c.Println("state:", cl.State().String())
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "trace",
		Help: "set log level to trace",
		Func: func(c *ishell.Context) {
			programLevel.Set(types.LevelTrace)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "debug",
		Help: "set log level to debug",
		Func: func(c *ishell.Context) {
			programLevel.Set(slog.LevelDebug)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "info",
		Help: "set log level to info",
		Func: func(c *ishell.Context) {
			programLevel.Set(slog.LevelInfo)
		},
	})
}
