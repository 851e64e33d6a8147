// Command zkshell is an interactive client for a hierarchical,
// replicated coordination service: connect, then issue ls/get/set/
// create/delete/exists commands from a line-oriented prompt.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/pg9182/zkgo/internal/auditlog"
	"github.com/pg9182/zkgo/internal/netinfo"
	"github.com/pg9182/zkgo/internal/recorder"
	"github.com/pg9182/zkgo/pkg/zk"
)

var opt struct {
	Help bool
}

// logLevelFlag adapts zerolog.Level to pflag.Value.
type logLevelFlag struct {
	l *zerolog.Level
}

func (f *logLevelFlag) String() string {
	if f.l == nil {
		return ""
	}
	return f.l.String()
}

func (f *logLevelFlag) Set(s string) error {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return err
	}
	*f.l = lvl
	return nil
}

func (f *logLevelFlag) Type() string { return "level" }

func main() {
	var c Config
	pflag.StringVar(&c.Servers, "servers", os.Getenv("ZKSHELL_SERVERS"), "comma-separated host:port server list")
	pflag.IntVar(&c.SessionTO, "timeout", 10000, "requested session timeout in milliseconds")
	pflag.StringVar(&c.Chroot, "chroot", "", "virtualize the namespace root under this path")
	c.LogLevel = zerolog.InfoLevel
	pflag.BoolVar(&c.LogPretty, "log-pretty", true, "use a human-readable console log")
	pflag.Var(&logLevelFlag{&c.LogLevel}, "log-level", "minimum log level (trace, debug, info, warn, error)")
	pflag.StringVar(&c.Record, "record", "", "record every frame to this gzip'd JSON-lines file")
	pflag.StringVar(&c.AuditLog, "auditlog", "", "record session/watch events to this sqlite3 database")
	pflag.StringVar(&c.GeoDB, "geodb", "", "IP2Location database used to annotate endpoints in logs")
	pflag.StringVar(&c.MetricsAddr, "metrics-addr", "", "serve /metrics in Prometheus exposition format on this address")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}
	if pflag.NArg() == 1 {
		if e, err := readEnvFile(pflag.Arg(0)); err == nil {
			for _, kv := range e {
				if k, v, ok := strings.Cut(kv, "="); ok {
					os.Setenv(k, v)
				}
			}
		} else {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
	}
	if !pflag.CommandLine.Changed("servers") {
		c.Servers = os.Getenv("ZKSHELL_SERVERS")
	}
	if c.Servers == "" {
		fmt.Fprintln(os.Stderr, "error: --servers is required")
		os.Exit(1)
	}

	var logger zerolog.Logger
	if c.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(c.LogLevel).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).Level(c.LogLevel).With().Timestamp().Logger()
	}

	opts := []zk.Option{zk.WithLogger(logger)}
	if c.Chroot != "" {
		opts = append(opts, zk.WithChroot(c.Chroot))
	}

	var rec *recorder.Recorder
	if c.Record != "" {
		f, err := os.Create(c.Record)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: open record file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		rec = recorder.New(f)
		defer rec.Close()
		opts = append(opts, zk.WithFrameObserver(rec.Observe))
	}

	var audit *auditlog.DB
	if c.AuditLog != "" {
		db, err := auditlog.Open(c.AuditLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: open audit log: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()
		audit = db
		opts = append(opts, zk.WithDefaultWatcher(zk.WatcherFunc(audit.Record)))
	}

	if c.GeoDB != "" {
		geo, err := netinfo.Open(c.GeoDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: open geo database: %v\n", err)
			os.Exit(1)
		}
		defer geo.Close()
		opts = append(opts, zk.WithEndpointAnnotator(geo.Annotate))
	}

	sess, err := zk.Connect(c.Servers, time.Duration(c.SessionTO)*time.Millisecond, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: connect: %v\n", err)
		os.Exit(1)
	}

	if c.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			sess.WritePrometheus(w)
		})
		go func() {
			if err := http.ListenAndServe(c.MetricsAddr, mux); err != nil {
				logger.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		sess.CloseSession()
	}()

	runShell(ctx, sess)
}

func runShell(ctx context.Context, sess *zk.Session) {
	sc := bufio.NewScanner(os.Stdin)
	fmt.Fprintln(os.Stderr, "zkshell: type 'help' for a command list, ctrl-d to quit")
	for {
		fmt.Fprint(os.Stderr, "zk> ")
		if !sc.Scan() {
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if done := runCommand(ctx, sess, line); done {
			break
		}
	}
	sess.CloseSession()
}

func runCommand(ctx context.Context, sess *zk.Session, line string) (done bool) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cmd {
	case "help":
		fmt.Println("commands: ls <path> | get <path> | set <path> <data> | create <path> [data] | delete <path> [version] | exists <path> | state | quit")
	case "state":
		fmt.Println(sess.State())
	case "quit", "exit":
		return true
	case "ls":
		if len(args) != 1 {
			fmt.Println("usage: ls <path>")
			return false
		}
		children, err := sess.GetChildren(rctx, args[0], nil)
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		for _, c := range children {
			fmt.Println(c)
		}
	case "get":
		if len(args) != 1 {
			fmt.Println("usage: get <path>")
			return false
		}
		data, stat, err := sess.GetData(rctx, args[0], nil)
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		fmt.Printf("%s\n(version=%d)\n", data, stat.Version)
	case "set":
		if len(args) < 2 {
			fmt.Println("usage: set <path> <data>")
			return false
		}
		if _, err := sess.SetData(rctx, args[0], []byte(strings.Join(args[1:], " ")), -1); err != nil {
			fmt.Println("error:", err)
		}
	case "create":
		if len(args) < 1 {
			fmt.Println("usage: create <path> [data]")
			return false
		}
		var data []byte
		if len(args) > 1 {
			data = []byte(strings.Join(args[1:], " "))
		}
		path, err := sess.Create(rctx, args[0], data, zk.WorldACL, zk.Persistent)
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		fmt.Println(path)
	case "delete":
		if len(args) < 1 {
			fmt.Println("usage: delete <path> [version]")
			return false
		}
		version := int32(-1)
		if len(args) > 1 {
			if v, err := strconv.Atoi(args[1]); err == nil {
				version = int32(v)
			}
		}
		if err := sess.Delete(rctx, args[0], version); err != nil {
			fmt.Println("error:", err)
		}
	case "exists":
		if len(args) != 1 {
			fmt.Println("usage: exists <path>")
			return false
		}
		stat, err := sess.Exists(rctx, args[0], nil)
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		fmt.Println(stat != nil)
	default:
		fmt.Printf("unknown command %q\n", cmd)
	}
	return false
}
