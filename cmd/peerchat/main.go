package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/peerchat/internal/admin"
	"github.com/danmuck/peerchat/internal/chat"
	"github.com/danmuck/peerchat/internal/config"
	"github.com/danmuck/peerchat/internal/logging"
	"github.com/danmuck/peerchat/internal/operator"
	"github.com/danmuck/peerchat/internal/peer"
	"github.com/danmuck/peerchat/internal/session"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	exitOK = iota
	exitInvalidPort
	exitSocket
	exitBind
	exitAccept
	exitConnect
	exitSession
	exitConfig
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	logging.ConfigureRuntime()
	log := logging.For("peerchat")

	fs := flag.NewFlagSet("peerchat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: peerchat [flags] [port]")
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "path to a peerchat TOML config")
	initConfig := fs.String("init-config", "", "write a default config template to this path and exit")
	connect := fs.String("connect", "", "dial host[:port] instead of listening")
	name := fs.String("name", "", "display name sent with exit notices")
	peerName := fs.String("peer-name", "", "heading shown above the peer's messages")
	adminAddr := fs.String("admin", "", "serve /health, /session and /metrics on this address")
	downloadDir := fs.String("download-dir", "", "directory for received files")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	if path := strings.TrimSpace(*initConfig); path != "" {
		if err := config.WriteTemplate(path, false); err != nil {
			fmt.Fprintf(stderr, "peerchat: %v\n", err)
			return exitConfig
		}
		if err := checkTemplate(path); err != nil {
			fmt.Fprintf(stderr, "peerchat: %v\n", err)
			return exitConfig
		}
		fmt.Fprintf(stdout, "wrote config template to %s\n", path)
		return exitOK
	}

	cfg := config.Default()
	if path := strings.TrimSpace(*configPath); path != "" {
		loaded, err := loadPeerConfig(path)
		if err != nil {
			fmt.Fprintf(stderr, "peerchat: %v\n", err)
			return exitConfig
		}
		cfg = loaded
	}

	// Flags set on the command line win over the config file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "connect":
			cfg.Connect = strings.TrimSpace(*connect)
		case "name":
			cfg.Name = strings.TrimSpace(*name)
		case "peer-name":
			cfg.PeerName = strings.TrimSpace(*peerName)
		case "admin":
			cfg.Admin.Addr = strings.TrimSpace(*adminAddr)
		case "download-dir":
			cfg.DownloadDir = strings.TrimSpace(*downloadDir)
		}
	})

	switch fs.NArg() {
	case 0:
	case 1:
		port, err := peer.ParsePort(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(stderr, "peerchat: %v\n", err)
			return exitInvalidPort
		}
		cfg.Port = port
	default:
		fs.Usage()
		return exitInvalidPort
	}

	sessCfg, err := cfg.ToSession()
	if err != nil {
		fmt.Fprintf(stderr, "peerchat: %v\n", err)
		return exitConfig
	}

	// The admin address is bound before any peer is accepted so a busy port
	// fails the run up front instead of tearing down a live chat.
	var (
		adminSrv *admin.Server
		adminLn  net.Listener
	)
	if cfg.Admin.Addr != "" {
		adminSrv = admin.New(cfg.Admin.Addr, cfg.Admin.CorsOrigins, nil, logging.For("admin"))
		adminLn, err = adminSrv.Listen()
		if err != nil {
			fmt.Fprintf(stderr, "peerchat: %v\n", err)
			return exitConfig
		}
		defer adminLn.Close()
	}

	op := operator.NewConsole(stdin, stdout)
	role := chat.RoleListener
	if cfg.Connect != "" {
		role = chat.RoleInitiator
	}
	conn, err := open(ctx, role, cfg, op, sessCfg.HandshakeTimeout, log)
	if err != nil {
		fmt.Fprintf(stderr, "peerchat: %v\n", err)
		return exitCode(err)
	}
	sess := session.New(conn, role, op, sessCfg, logging.For("session"))

	g, gctx := errgroup.WithContext(ctx)
	adminCtx, stopAdmin := context.WithCancel(gctx)
	defer stopAdmin()

	g.Go(func() error {
		defer stopAdmin()
		term, err := sess.Run(gctx)
		if err != nil {
			return err
		}
		log.Info().Str("termination", string(term)).Str("session", sess.ID().String()).Msg("chat finished")
		return nil
	})
	if adminSrv != nil {
		adminSrv.SetSource(sess)
		g.Go(func() error {
			// The admin view is optional; losing it must not end the chat.
			if err := adminSrv.Serve(adminCtx, adminLn); err != nil {
				log.Warn().Err(err).Msg("admin server stopped")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			log.Info().Msg("interrupted")
			return exitOK
		}
		fmt.Fprintf(stderr, "peerchat: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

// checkTemplate reloads a freshly written template through the strict decoder
// so a template that cannot be read back is reported immediately.
func checkTemplate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if _, err := config.Decode(data); err != nil {
		return fmt.Errorf("written template does not load: %w", err)
	}
	return nil
}

// open dials the peer for the initiator, or waits for exactly one peer.
func open(ctx context.Context, role chat.Role, cfg config.PeerConfig, op operator.Operator, timeout time.Duration, log zerolog.Logger) (net.Conn, error) {
	if role == chat.RoleInitiator {
		return peer.Dial(ctx, peer.DialAddr(cfg.Connect, cfg.Port), timeout, log)
	}
	op.Display("Waiting for client to connect... ")
	conn, err := peer.AcceptOne(ctx, ":"+strconv.Itoa(cfg.Port), log)
	if err != nil {
		return nil, err
	}
	op.Display("Client connected! ")
	return conn, nil
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, peer.ErrInvalidPort):
		return exitInvalidPort
	case errors.Is(err, peer.ErrSocket):
		return exitSocket
	case errors.Is(err, peer.ErrBind):
		return exitBind
	case errors.Is(err, peer.ErrAccept):
		return exitAccept
	case errors.Is(err, peer.ErrConnect):
		return exitConnect
	case errors.Is(err, context.Canceled):
		return exitOK
	default:
		return exitSession
	}
}
