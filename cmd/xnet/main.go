// Command xnet drives (or serves as) one node of an xnet remote-execution
// fabric: "xnet serve" is the peer half, meant to be invoked as a "popen" or
// "ssh" exec-spec's remote command; "xnet exec" is the local half, spawning
// a gateway from an exec-spec and running one named remote task against it.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sbasso/xnet/codec"
	"github.com/sbasso/xnet/gateway"
	"github.com/sbasso/xnet/group"
	"github.com/sbasso/xnet/transport"
)

func main() {
	// Stand-in for the interpreter shutdown hook spec.md §6 describes: any
	// Group that runExec created and didn't explicitly tear down still gets
	// a bounded Terminate before the process exits.
	defer group.RunExitHook()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		group.RunExitHook() // os.Exit skips the deferred call
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:          "xnet",
		Short:        "elastic remote-execution fabric",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(newServeCmd(), newExecCmd())
	return root
}

// newServeCmd implements the peer half: read CHANNEL_OPEN requests off
// stdin and answer them with the built-in task registry, writing replies to
// stdout. This is what a "popen"/"ssh" exec-spec's Python field names.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run as a peer, speaking the wire protocol over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			exec := gateway.NewExecutor()
			registerBuiltinTasks(exec)
			gw := gateway.New("peer", transport.Stdio(), 2, codec.Options{}, exec)
			return gw.Serve(cmd.Context())
		},
	}
}

// newExecCmd implements the local half: spawn (or connect to) a peer from
// an exec-spec and run one named remote task against it, printing whatever
// comes back on the channel, one item per line.
func newExecCmd() *cobra.Command {
	var timeoutSeconds int
	var envPairs []string

	cmd := &cobra.Command{
		Use:   "exec <spec> <task> [arg]",
		Short: "spawn a peer gateway and run one remote task against it",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, task := args[0], args[1]
			arg := ""
			if len(args) == 3 {
				arg = args[2]
			}
			return runExec(cmd.Context(), appendEnvKeys(spec, envPairs), task, arg, timeoutSeconds)
		},
	}
	var flags *pflag.FlagSet = cmd.Flags()
	flags.IntVar(&timeoutSeconds, "timeout", 10, "seconds to wait for group teardown")
	flags.StringArrayVarP(&envPairs, "env", "e", nil, "NAME=value to set in the peer's environment (repeatable)")
	return cmd
}

// appendEnvKeys folds --env NAME=value flags into the exec-spec's env:NAME=value
// entries, keeping spec text as the single source the Group parser reads.
func appendEnvKeys(specText string, envPairs []string) string {
	var b strings.Builder
	b.WriteString(specText)
	for _, kv := range envPairs {
		b.WriteString("//env:")
		b.WriteString(kv)
	}
	return b.String()
}

func runExec(ctx context.Context, specText, task, arg string, timeoutSeconds int) error {
	g := group.New(nil, codec.Options{})
	gw, err := g.MakeGateway(ctx, specText)
	if err != nil {
		return err
	}

	taskSpec := task
	if arg != "" {
		taskSpec = task + " " + arg
	}
	ch, err := gw.RemoteExec(taskSpec)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	var recvErr error
	for {
		item, err := ch.Receive()
		if err != nil {
			if err != gateway.ErrEndOfStream {
				recvErr = err
			}
			break
		}
		fmt.Fprintln(out, formatItem(item))
	}

	timeout := time.Duration(timeoutSeconds) * time.Second
	if termErr := g.Terminate(timeout); termErr != nil && recvErr == nil {
		recvErr = termErr
	}
	return recvErr
}

func formatItem(item any) string {
	if b, ok := item.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(item)
}

// registerBuiltinTasks adds the small set of remote tasks every "xnet serve"
// peer answers out of the box, beyond bootstrap.chdir (registered by
// gateway.NewExecutor itself): echo/echo1 for smoke-testing a new gateway
// (spec.md S1's "send 41, expect 42" is exactly echo1), pid for the "two
// peers, two distinct process ids" scenario (S2), and env for reading back
// a variable the spec's env: entries set in the peer's environment.
func registerBuiltinTasks(exec *gateway.Executor) {
	exec.Register("echo", func(_ context.Context, ch *gateway.Channel, _ string) error {
		for {
			item, err := ch.Receive()
			if err != nil {
				if err == gateway.ErrEndOfStream {
					return nil
				}
				return err
			}
			if err := ch.Send(item); err != nil {
				return err
			}
		}
	})
	exec.Register("echo1", func(_ context.Context, ch *gateway.Channel, _ string) error {
		item, err := ch.Receive()
		if err != nil {
			return err
		}
		n, ok := item.(int32)
		if !ok {
			return fmt.Errorf("xnet: echo1 expects an int item, got %T", item)
		}
		return ch.Send(n + 1)
	})
	exec.Register("pid", func(_ context.Context, ch *gateway.Channel, _ string) error {
		return ch.Send(int32(os.Getpid()))
	})
	exec.Register("env", func(_ context.Context, ch *gateway.Channel, arg string) error {
		return ch.Send(os.Getenv(strings.TrimSpace(arg)))
	})
}
