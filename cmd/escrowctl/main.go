// Package main provides escrowctl, an offline helper for escrow clients:
// key generation, secrets, escrow ids and signed authorizations.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"htlc-escrow/internal/auth"
	"htlc-escrow/internal/config"
	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/escrow"
	"htlc-escrow/internal/idhash"
	"htlc-escrow/internal/logger"
	"htlc-escrow/internal/watcher"
)

const usage = `usage: escrowctl <command> [flags]

commands:
  keygen     generate an ed25519 key pair
  secret     generate a random secret and its hashlock
  hashlock   compute the hashlock of -secret
  id         compute the escrow id and account address of a terms file
  sign       sign an order, create, cancel or rescue payload
  amount     convert between decimal amounts and base units
  watch      wait for the secret of -hashlock on a counterpart event stream
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "escrowctl:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "keygen":
		return runKeygen(out)
	case "secret":
		return runSecret(out)
	case "hashlock":
		return runHashlock(rest, out)
	case "id":
		return runID(rest, out)
	case "sign":
		return runSign(rest, out)
	case "amount":
		return runAmount(rest, out)
	case "watch":
		return runWatch(rest, out)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runKeygen(out io.Writer) error {
	key, err := auth.GenerateKey()
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]string{
		"public":  string(key.Public),
		"private": key.PrivateString(),
	})
}

func runSecret(out io.Writer) error {
	var secret domain.Secret
	if _, err := rand.Read(secret[:]); err != nil {
		return fmt.Errorf("read random: %w", err)
	}
	return writeJSON(out, map[string]string{
		"secret":   secret.String(),
		"hashlock": secret.Hashlock().String(),
	})
}

func runHashlock(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("hashlock", flag.ContinueOnError)
	raw := fs.String("secret", "", "hex secret")
	if err := fs.Parse(args); err != nil {
		return err
	}

	secret, err := domain.ParseSecret(*raw)
	if err != nil {
		return fmt.Errorf("-secret: %w", err)
	}
	_, err = fmt.Fprintln(out, secret.Hashlock().String())
	return err
}

func runID(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("id", flag.ContinueOnError)
	termsFile := fs.String("terms", "", "terms JSON file")
	factory := fs.String("factory", string(config.DefaultFactoryAddress()), "factory address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	terms, err := readTerms(*termsFile)
	if err != nil {
		return err
	}

	id := idhash.ComputeEscrowID(terms)
	addr, bump, err := idhash.DeriveEscrowAddress(id, domain.Address(*factory))
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"escrow_id": id,
		"address":   addr,
		"bump":      bump,
	})
}

func runSign(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	kind := fs.String("kind", "", "payload kind: order, create, cancel or rescue")
	keyStr := fs.String("key", "", "base58 private key of the signer")
	termsFile := fs.String("terms", "", "terms JSON file (order, create)")
	taker := fs.String("taker", "", "taker address (create)")
	traitsFile := fs.String("taker-traits", "", "taker traits JSON file (create, optional)")
	srcCancel := fs.Uint64("src-cancellation", 0, "source escrow cancellation timestamp (create, optional)")
	escrowID := fs.String("escrow", "", "escrow id (cancel, rescue)")
	token := fs.String("token", "", "token address (rescue)")
	amount := fs.Int64("amount", 0, "amount in base units (rescue)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key, err := auth.ParsePrivateKey(*keyStr)
	if err != nil {
		return fmt.Errorf("-key: %w", err)
	}

	var payload []byte
	switch *kind {
	case "order":
		terms, err := readTerms(*termsFile)
		if err != nil {
			return err
		}
		payload = escrow.OrderPayload(terms)
	case "create":
		terms, err := readTerms(*termsFile)
		if err != nil {
			return err
		}
		req := escrow.CreateRequest{Terms: terms, Taker: domain.Address(*taker)}
		if req.Taker == "" {
			req.Taker = key.Public
		}
		if *traitsFile != "" {
			if err := readJSONFile(*traitsFile, &req.TakerTraits); err != nil {
				return err
			}
		}
		if *srcCancel != 0 {
			req.SrcCancellationTimestamp = srcCancel
		}
		payload = escrow.CreatePayload(req)
	case "cancel":
		if *escrowID == "" {
			return errors.New("-escrow is required")
		}
		payload = escrow.CancelPayload(*escrowID, key.Public)
	case "rescue":
		if *escrowID == "" || *token == "" {
			return errors.New("-escrow and -token are required")
		}
		payload = escrow.RescuePayload(*escrowID, domain.Address(*token), *amount, key.Public)
	default:
		return fmt.Errorf("-kind must be order, create, cancel or rescue, got %q", *kind)
	}

	return writeJSON(out, key.Sign(payload))
}

func runAmount(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("amount", flag.ContinueOnError)
	value := fs.String("value", "", "decimal amount, e.g. 12.5")
	decimals := fs.Int("decimals", 9, "token decimals")
	reverse := fs.Bool("to-decimal", false, "treat -value as base units and print the decimal amount")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *reverse {
		units, err := strconv.ParseInt(*value, 10, 64)
		if err != nil {
			return fmt.Errorf("-value: %w", err)
		}
		_, err = fmt.Fprintln(out, fromBaseUnits(units, int32(*decimals)))
		return err
	}

	units, err := toBaseUnits(*value, int32(*decimals))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, units)
	return err
}

func runWatch(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	endpoint := fs.String("endpoint", "ws://localhost:8080/v1/events/ws", "event stream of the counterpart escrow server")
	raw := fs.String("hashlock", "", "hex hashlock to wait for")
	timeout := fs.Duration("timeout", 0, "give up after this long; 0 waits until interrupted")
	verbose := fs.Bool("v", false, "log stream activity to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	hashlock, err := domain.ParseHash32(*raw)
	if err != nil {
		return fmt.Errorf("-hashlock: %w", err)
	}

	var lg logger.Logger = &logger.EmptyLogger{}
	if *verbose {
		lg = logger.NewStdLogger(false, logger.DebugLevel)
	}
	client, err := watcher.New(*endpoint, nil, lg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	secret, err := client.WaitForSecret(ctx, hashlock)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, secret.String())
	return err
}

func readTerms(path string) (domain.SwapTerms, error) {
	var terms domain.SwapTerms
	if path == "" {
		return terms, errors.New("-terms is required")
	}
	err := readJSONFile(path, &terms)
	return terms, err
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
