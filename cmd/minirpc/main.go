// Command minirpc runs the Calculator demo service and calls it.
//
//	minirpc serve --addr 127.0.0.1:9000
//	minirpc call add 10 20
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-rpc/client"
	"mini-rpc/codec"
	"mini-rpc/example/calculator"
	"mini-rpc/middleware"
	"mini-rpc/protocol"
	"mini-rpc/server"
)

var commonFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "addr",
		Value:  "127.0.0.1:9000",
		Usage:  "server address",
		EnvVar: "MINIRPC_ADDR",
	},
	cli.StringFlag{
		Name:   "codec",
		Value:  "json",
		Usage:  "payload codec: json, binary or gob",
		EnvVar: "MINIRPC_CODEC",
	},
	cli.IntFlag{
		Name:   "max-payload",
		Value:  int(protocol.DefaultMaxPayload),
		Usage:  "largest accepted frame payload in bytes",
		EnvVar: "MINIRPC_MAX_PAYLOAD",
	},
}

func main() {
	app := cli.NewApp()
	app.Name = "minirpc"
	app.Usage = "serve and call the Calculator demo over mini-rpc"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:   "debug",
			Usage:  "development logging at debug level",
			EnvVar: "MINIRPC_DEBUG",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run the Calculator service until interrupted",
			Action: serveCommand,
			Flags: append([]cli.Flag{
				cli.Float64Flag{
					Name:   "rate",
					Usage:  "requests per second admitted by the server, 0 for unlimited",
					EnvVar: "MINIRPC_RATE",
				},
				cli.BoolFlag{
					Name:   "rate-per-service",
					Usage:  "apply --rate to each service separately",
					EnvVar: "MINIRPC_RATE_PER_SERVICE",
				},
				cli.IntFlag{
					Name:   "burst",
					Value:  100,
					Usage:  "rate limiter burst",
					EnvVar: "MINIRPC_BURST",
				},
				cli.DurationFlag{
					Name:   "handler-timeout",
					Usage:  "bound on a single handler, 0 for none",
					EnvVar: "MINIRPC_HANDLER_TIMEOUT",
				},
				cli.DurationFlag{
					Name:   "grace",
					Value:  5 * time.Second,
					Usage:  "how long shutdown waits for in-flight calls",
					EnvVar: "MINIRPC_GRACE",
				},
			}, commonFlags...),
		},
		{
			Name:      "call",
			Usage:     "call a Calculator operation",
			ArgsUsage: "add|sub|mul|div A B",
			Action:    callCommand,
			Flags: append([]cli.Flag{
				cli.DurationFlag{
					Name:   "timeout",
					Value:  client.DefaultTimeout,
					Usage:  "call timeout",
					EnvVar: "MINIRPC_TIMEOUT",
				},
				cli.DurationFlag{
					Name:   "heartbeat",
					Usage:  "heartbeat interval, 0 to disable",
					EnvVar: "MINIRPC_HEARTBEAT",
				},
			}, commonFlags...),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, Red("minirpc ▶ "+err.Error()))
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	if c.GlobalBool("debug") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// payloadLimit validates the --max-payload flag, which must fit the frame
// header's 32-bit length field.
func payloadLimit(n int) (uint32, error) {
	if n <= 0 || uint64(n) > math.MaxUint32 {
		return 0, fmt.Errorf("max-payload must be between 1 and %d, got %d", uint64(math.MaxUint32), n)
	}
	return uint32(n), nil
}

func selectCodec(c *cli.Context) (codec.Codec, error) {
	t, err := codec.ParseType(c.String("codec"))
	if err != nil {
		return nil, err
	}
	return codec.GetCodec(t)
}

func serveCommand(c *cli.Context) (err error) {
	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cdc, err := selectCodec(c)
	if err != nil {
		return err
	}
	maxPayload, err := payloadLimit(c.Int("max-payload"))
	if err != nil {
		return err
	}

	svr := server.NewServer(
		server.WithCodec(cdc),
		server.WithLogger(logger),
		server.WithMaxPayload(maxPayload),
	)
	svr.Use(middleware.RecoverMiddleware(logger))
	svr.Use(middleware.LoggingMiddleware(logger))
	if r := c.Float64("rate"); r > 0 {
		if c.Bool("rate-per-service") {
			svr.Use(middleware.ServiceRateLimitMiddleware(r, c.Int("burst")))
		} else {
			svr.Use(middleware.RateLimitMiddleware(r, c.Int("burst")))
		}
	}
	if d := c.Duration("handler-timeout"); d > 0 {
		svr.Use(middleware.TimeOutMiddleware(d))
	}
	if err := svr.RegisterService(calculator.NewService(calculator.Calculator{})); err != nil {
		return err
	}

	served := make(chan error, 1)
	go func() { served <- svr.Serve("tcp", c.String("addr")) }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-served:
		return err
	case sig := <-sigs:
		logger.Info("shutting down", zap.Stringer("signal", sig))
	}
	return multierr.Append(svr.Shutdown(c.Duration("grace")), <-served)
}

func callCommand(c *cli.Context) (err error) {
	if c.NArg() != 3 {
		return cli.NewExitError("usage: minirpc call "+c.Command.ArgsUsage, 2)
	}
	a, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return fmt.Errorf("operand A: %w", err)
	}
	b, err := strconv.Atoi(c.Args().Get(2))
	if err != nil {
		return fmt.Errorf("operand B: %w", err)
	}

	logger, err := newLogger(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cdc, err := selectCodec(c)
	if err != nil {
		return err
	}
	maxPayload, err := payloadLimit(c.Int("max-payload"))
	if err != nil {
		return err
	}

	ctx := context.Background()
	cl, err := client.Dial(ctx, c.String("addr"),
		client.WithCodec(cdc),
		client.WithLogger(logger),
		client.WithTimeout(c.Duration("timeout")),
		client.WithHeartbeat(c.Duration("heartbeat")),
		client.WithMaxPayload(maxPayload),
	)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, cl.Close()) }()

	op := c.Args().Get(0)
	fn := calculator.NewClient(cl).Binary(op)
	if fn == nil {
		return fmt.Errorf("unknown operation %q", op)
	}
	start := time.Now()
	result, err := fn(ctx, a, b)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s %s\n", Cyan(fmt.Sprintf("%s(%d, %d)", op, a, b)), Green("= "+strconv.Itoa(result)), Yellow(time.Since(start).String()))
	return nil
}
