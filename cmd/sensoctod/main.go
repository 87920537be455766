// Command sensoctod is the node process: `serve` runs it, `node status`/
// `node drain`/`node shutdown` are operational commands against a running
// instance's admin endpoint. Flag/subcommand wiring follows the
// conventional urfave/cli app/command/subcommand tree.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/adiibanez/sensocto/internal/catalog"
	"github.com/adiibanez/sensocto/internal/cmn/config"
	"github.com/adiibanez/sensocto/internal/cmn/nlog"
	"github.com/adiibanez/sensocto/internal/node"
)

// exit codes per §6.
const (
	exitClean        = 0
	exitFatalStartup = 1
	exitDrainTimeout = 2
	exitBadInvocation = 64
)

func main() {
	app := &cli.App{
		Name:  "sensoctod",
		Usage: "real-time sensor ingestion / attention-aware back-pressure node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "admin-addr", Value: "127.0.0.1:9090", Usage: "admin HTTP endpoint for node status/drain/shutdown"},
			&cli.StringFlag{Name: "config", Usage: "path to a YAML config file (optional; env vars + defaults otherwise)"},
		},
		Commands: []*cli.Command{
			serveCommand,
			nodeCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		nlog.Errorf("sensoctod: %v", err)
		os.Exit(exitBadInvocation)
	}
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "run the node",
	Action: func(c *cli.Context) error {
		cfg := config.Default()
		if path := c.String("config"); path != "" {
			if err := config.GCO.Load(path); err != nil {
				nlog.Errorf("serve: load config: %v", err)
				os.Exit(exitFatalStartup)
			}
			cfg = config.GCO.Get()
			if err := config.GCO.WatchForReload(path); err != nil {
				nlog.Warnf("serve: watch config: %v", err)
			}
		}

		var catalogClient catalog.Client
		if cfg.CatalogURL != "" {
			catalogClient = catalog.NewHTTPClient(cfg.CatalogURL)
		}

		n, err := node.New(cfg, catalogClient, nil)
		if err != nil {
			nlog.Errorf("serve: build node: %v", err)
			os.Exit(exitFatalStartup)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := n.Start(ctx); err != nil {
			nlog.Errorf("serve: start: %v", err)
			os.Exit(exitFatalStartup)
		}
		nlog.Infof("serve: node %s up", cfg.NodeName)

		adminSrv := newAdminServer(c.String("admin-addr"), n)
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				nlog.Errorf("serve: admin server: %v", err)
			}
		}()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		nlog.Infof("serve: signal received, draining")

		drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer drainCancel()
		if err := n.Drain(drainCtx, 30*time.Second); err != nil {
			nlog.Warnf("serve: drain: %v", err)
			n.Stop(context.Background())
			_ = adminSrv.Close()
			os.Exit(exitDrainTimeout)
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		n.Stop(stopCtx)
		_ = adminSrv.Close()
		os.Exit(exitClean)
		return nil
	},
}

var nodeCommand = &cli.Command{
	Name:  "node",
	Usage: "operate against a running node's admin endpoint",
	Subcommands: []*cli.Command{
		{
			Name:  "status",
			Usage: "emit a JSON snapshot: active sensors/rooms, load level",
			Action: func(c *cli.Context) error {
				return adminGet(c.String("admin-addr"), "/status", os.Stdout)
			},
		},
		{
			Name:  "drain",
			Usage: "refuse new joins, wait for active sessions to end",
			Action: func(c *cli.Context) error {
				return adminPost(c.String("admin-addr"), "/drain")
			},
		},
		{
			Name:  "shutdown",
			Usage: "terminate the node process",
			Action: func(c *cli.Context) error {
				return adminPost(c.String("admin-addr"), "/shutdown")
			},
		},
	},
}

func adminGet(addr, path string, w io.Writer) error {
	resp, err := http.Get("http://" + addr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func adminPost(addr, path string) error {
	resp, err := http.Post("http://"+addr+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("admin %s: status %d", path, resp.StatusCode)
	}
	return nil
}

func newAdminServer(addr string, n *node.Node) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(n.StatusSnapshot())
	})
	mux.HandleFunc("/drain", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		if err := n.Drain(ctx, 30*time.Second); err != nil {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/shutdown", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		go func() {
			time.Sleep(100 * time.Millisecond)
			syscallSelfTerm()
		}()
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func syscallSelfTerm() {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return
	}
	_ = p.Signal(syscall.SIGTERM)
}
