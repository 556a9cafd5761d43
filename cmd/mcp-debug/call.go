package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mcpclient "github.com/ggoodman/mcp-client-go"
)

// runCall issues one JSON-RPC call and prints the raw result, or renders the
// server's structured error. A degraded session still serves manual calls, so
// a failed handshake only warns.
func runCall(args []string) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	cfg := loadConfig(fs)
	method := fs.String("method", "", "JSON-RPC method name (required)")
	params := fs.String("params", "", "params as a JSON value (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *method == "" {
		return errors.New("call requires -method")
	}

	var paramsVal any
	if *params != "" {
		if !json.Valid([]byte(*params)) {
			return fmt.Errorf("-params is not valid JSON: %s", *params)
		}
		paramsVal = json.RawMessage(*params)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := cfg.logger()
	sess, err := cfg.connect(ctx, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.WaitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprintf(os.Stderr, "warning: handshake failed, calling anyway: %v\n", err)
	}

	res, err := sess.Call(ctx, *method, paramsVal)
	if err != nil {
		var rpcErr *mcpclient.RPCError
		if errors.As(err, &rpcErr) {
			kind := "application"
			if rpcErr.Code.Reserved() {
				kind = "protocol"
			}
			if rpcErr.Data != nil {
				if data, merr := json.Marshal(rpcErr.Data); merr == nil {
					return fmt.Errorf("server returned %s error %d: %s (data: %s)", kind, rpcErr.Code, rpcErr.Message, data)
				}
			}
			return fmt.Errorf("server returned %s error %d: %s", kind, rpcErr.Code, rpcErr.Message)
		}
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, res, "", "  "); err != nil {
		// Not an object or array; print the raw bytes as-is.
		fmt.Println(string(res))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
