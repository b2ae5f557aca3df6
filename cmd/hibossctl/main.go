// Command hibossctl is the thin RPC client for the Hi-Boss daemon
// (SPEC_FULL §2.5): every subcommand dials the daemon's Unix socket, sends
// one JSON-RPC request, prints the result, and exits with the convention
// of spec §6 (0 success, 1 generic failure, 2 invalid arguments, 3
// unauthorized, 4 daemon unreachable).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"github.com/hiboss/hiboss/internal/config"
	"github.com/hiboss/hiboss/internal/rpcclient"
)

// keyringService/keyringUser locate the cached boss token in the OS
// keyring (SPEC_FULL §3 domain stack: zalando/go-keyring), consulted only
// when neither --token nor $HIBOSS_TOKEN is set.
const (
	keyringService = "hiboss"
	keyringUser    = "boss-token"
)

func main() {
	root, client := newRootCmd()
	root.AddCommand(
		newSetupCmd(client),
		newBossCmd(client),
		newDaemonCmd(client),
		newAgentCmd(client),
		newEnvelopeCmd(client),
		newCronCmd(client),
		newReactionCmd(client),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hibossctl:", err)
		os.Exit(int(exitCodeFor(err)))
	}
}

// boundClient lazily builds one rpcclient.Client from --dir/--token on its
// first use, shared by whichever subcommand's RunE calls client().
type boundClient struct {
	dir   string
	token string
	c     *rpcclient.Client
}

func (b *boundClient) client() (*rpcclient.Client, error) {
	if b.c != nil {
		return b.c, nil
	}
	dataDir, err := config.ResolveDataDir(b.dir)
	if err != nil {
		return nil, &rpcclient.CallError{Code: rpcclient.ExitInvalidArgs, Err: fmt.Errorf("resolve data dir: %w", err)}
	}
	token, err := resolveToken(b.token)
	if err != nil {
		return nil, err
	}
	socketPath := filepath.Join(dataDir, ".daemon", "daemon.sock")
	b.c = rpcclient.New(socketPath, token)
	return b.c, nil
}

// resolveToken applies spec §6's HIBOSS_TOKEN precedence, falling back to
// the OS keyring cache when neither an explicit flag nor the env var is
// set, and caching an explicitly-supplied token for next time.
func resolveToken(explicit string) (string, error) {
	if explicit != "" {
		_ = keyring.Set(keyringService, keyringUser, explicit)
		return explicit, nil
	}
	if tok := os.Getenv("HIBOSS_TOKEN"); tok != "" {
		return tok, nil
	}
	if tok, err := keyring.Get(keyringService, keyringUser); err == nil && tok != "" {
		return tok, nil
	}
	return "", &rpcclient.CallError{
		Code: rpcclient.ExitUnauthorized,
		Err:  fmt.Errorf("no boss token: pass --token, set $HIBOSS_TOKEN, or run 'hibossctl setup execute'"),
	}
}

func newRootCmd() (*cobra.Command, *boundClient) {
	b := &boundClient{}
	cmd := &cobra.Command{
		Use:           "hibossctl",
		Short:         "Control a running Hi-Boss daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&b.dir, "dir", "", "data directory (overrides $HIBOSS_DIR)")
	cmd.PersistentFlags().StringVar(&b.token, "token", "", "boss token (overrides $HIBOSS_TOKEN and the keyring cache)")
	return cmd, b
}

// call dials the daemon, invokes method with params, and prints the
// result as indented JSON.
func call(ctx context.Context, b *boundClient, method string, params map[string]any) error {
	c, err := b.client()
	if err != nil {
		return err
	}
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	return printResult(result)
}

func printResult(result any) error {
	if result == nil {
		return nil
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return &rpcclient.CallError{Code: rpcclient.ExitFailure, Err: err}
	}
	fmt.Println(string(out))
	return nil
}

func exitCodeFor(err error) rpcclient.ExitCode {
	var ce *rpcclient.CallError
	if ok := asCallError(err, &ce); ok {
		return ce.Code
	}
	// Any other error at this layer is a cobra flag/usage problem.
	return rpcclient.ExitInvalidArgs
}

func asCallError(err error, target **rpcclient.CallError) bool {
	for err != nil {
		if ce, ok := err.(*rpcclient.CallError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func nonEmptyParams(kv map[string]any) map[string]any {
	out := make(map[string]any, len(kv))
	for k, v := range kv {
		switch t := v.(type) {
		case string:
			if t != "" {
				out[k] = t
			}
		case int:
			if t != 0 {
				out[k] = t
			}
		case bool:
			out[k] = t
		default:
			if v != nil {
				out[k] = v
			}
		}
	}
	return out
}
