package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/paperclip/internal/capsule"
	"github.com/hpungsan/paperclip/internal/errors"
	"github.com/hpungsan/paperclip/internal/journal"
	"github.com/hpungsan/paperclip/internal/negotiation"
	"github.com/hpungsan/paperclip/internal/payment"
	"github.com/hpungsan/paperclip/internal/paywall"
	"github.com/hpungsan/paperclip/internal/registry"
	"github.com/hpungsan/paperclip/internal/sim"
	"github.com/hpungsan/paperclip/internal/valuation"
)

// maxStdinBytes bounds JSON read from stdin.
const maxStdinBytes = 1 << 20

// newCLIApp creates the CLI application with all commands.
// w may be nil when only help or version output is needed.
func newCLIApp(w *sim.World, logger *slog.Logger) *cli.App {
	app := &cli.App{
		Name:    "paperclip",
		Usage:   "Agents that value, trade and pool what they own",
		Version: Version,
		Commands: []*cli.Command{
			capsuleCmd(w),
			appraiseCmd(w),
			simCmd(w),
			payCmd(w, logger),
			paywallCmd(w, logger),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// capsuleCmd groups the capsule registry commands.
func capsuleCmd(w *sim.World) *cli.Command {
	return &cli.Command{
		Name:  "capsule",
		Usage: "Create, inspect and modify identity capsules",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a capsule (flags, or a JSON object on stdin)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "goal", Aliases: []string{"g"}, Usage: "What the agent wants"},
					&cli.StringFlag{Name: "values", Usage: "Comma-separated key=weight pairs"},
					&cli.StringFlag{Name: "tags", Usage: "Comma-separated tags"},
					&cli.StringFlag{Name: "wallet", Usage: "Wallet address"},
					&cli.StringFlag{Name: "snippet", Usage: "Short public description"},
				},
				Action: func(c *cli.Context) error {
					input := registry.CreateInput{Goal: c.String("goal")}

					if input.Goal == "" && stdinHasData() {
						text, err := readStdin(maxStdinBytes)
						if err != nil {
							return outputError(errors.NewInvalidRequest(err.Error()))
						}
						var body struct {
							Goal          string             `json:"goal"`
							Values        map[string]float64 `json:"values"`
							Tags          []string           `json:"tags"`
							WalletAddress *string            `json:"wallet_address"`
							PublicSnippet *string            `json:"public_snippet"`
						}
						if err := json.Unmarshal([]byte(text), &body); err != nil {
							return outputError(errors.NewInvalidRequest("stdin must be a JSON capsule: " + err.Error()))
						}
						input = registry.CreateInput(body)
					}

					if s := c.String("values"); s != "" {
						values, err := parseValues(s)
						if err != nil {
							return outputError(errors.NewInvalidRequest(err.Error()))
						}
						input.Values = values
					}
					if tags := c.String("tags"); tags != "" {
						input.Tags = parseTags(tags)
					}
					if wallet := c.String("wallet"); wallet != "" {
						input.WalletAddress = &wallet
					}
					if snippet := c.String("snippet"); snippet != "" {
						input.PublicSnippet = &snippet
					}

					out, err := w.Registry.Create(input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:      "fetch",
				Usage:     "Fetch a capsule by ID",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return outputError(errors.NewInvalidRequest("capsule id is required"))
					}
					out, err := w.Registry.Get(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:  "list",
				Usage: "List capsules, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tag", Usage: "Filter by tag"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum items to return"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
				},
				Action: func(c *cli.Context) error {
					out, err := w.Registry.List(registry.ListInput{
						Tag:    c.String("tag"),
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
			{
				Name:      "modify",
				Usage:     "Request a one-field change, optionally reviewing it at once",
				ArgsUsage: "<capsule-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "agent", Aliases: []string{"a"}, Required: true, Usage: "Requesting agent ID"},
					&cli.StringFlag{Name: "field", Aliases: []string{"f"}, Required: true, Usage: "goal|values|tags|wallet_address|public_snippet"},
					&cli.StringFlag{Name: "value", Required: true, Usage: "New value; JSON for values and tags"},
					&cli.StringFlag{Name: "reason", Usage: "Why the change is wanted"},
					&cli.StringFlag{Name: "reviewer", Usage: "Review immediately as this reviewer"},
					&cli.BoolFlag{Name: "approve", Usage: "Approve when reviewing"},
					&cli.StringFlag{Name: "comment", Usage: "Review comment"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return outputError(errors.NewInvalidRequest("capsule id is required"))
					}
					change := capsule.ModificationRequest{
						Field: c.String("field"),
						Value: parseValue(c.String("value")),
					}
					ctx := c.Context
					req, err := w.Reviewer.RequestModification(ctx, c.String("agent"), c.Args().First(), change, c.String("reason"))
					if err != nil {
						return outputError(err)
					}
					if c.String("reviewer") == "" {
						return outputJSON(registry.ReviewOutput{Request: req})
					}
					out, err := w.Reviewer.Review(ctx, req.ID, c.String("reviewer"), c.Bool("approve"), c.String("comment"))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(out)
				},
			},
		},
	}
}

// appraiseCmd creates the appraise command.
func appraiseCmd(w *sim.World) *cli.Command {
	return &cli.Command{
		Name:      "appraise",
		Usage:     "Appraise an item from an agent's point of view",
		ArgsUsage: "<item name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "agent", Aliases: []string{"a"}, Required: true, Usage: "Capsule ID to appraise as"},
			&cli.StringFlag{Name: "archetype", Value: "default", Usage: "visionary|investor|default"},
			&cli.StringFlag{Name: "context", Value: negotiation.ContextTrade, Usage: "trade|coalition"},
			&cli.StringFlag{Name: "target", Usage: "Counterparty capsule ID"},
			&cli.StringFlag{Name: "description", Usage: "Item description"},
			&cli.StringFlag{Name: "category", Usage: "Item category"},
			&cli.StringFlag{Name: "condition", Usage: "Item condition"},
			&cli.Float64Flag{Name: "market-value", Usage: "Item market value in USD"},
		},
		Action: func(c *cli.Context) error {
			item, err := itemFromArgs(c)
			if err != nil {
				return outputError(err)
			}
			a, err := w.AttachAgent(c.String("agent"), c.String("archetype"))
			if err != nil {
				return outputError(err)
			}
			var target *capsule.Capsule
			if id := c.String("target"); id != "" {
				if target, err = w.Registry.Get(id); err != nil {
					return outputError(err)
				}
			}
			return outputJSON(w.Engine.Appraise(c.Context, a, item, c.String("context"), target))
		},
	}
}

// itemFromArgs resolves a catalog item by name, overriding any field set by flag.
func itemFromArgs(c *cli.Context) (valuation.Item, error) {
	name := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if name == "" {
		return valuation.Item{}, errors.NewInvalidRequest("item name is required")
	}
	item, ok := sim.Catalog[strings.ToLower(name)]
	if !ok {
		item = valuation.Item{Name: name}
	}
	if v := c.String("description"); v != "" {
		item.Description = v
	}
	if v := c.String("category"); v != "" {
		item.Category = v
	}
	if v := c.String("condition"); v != "" {
		item.Condition = v
	}
	if c.IsSet("market-value") {
		item.MarketValue = c.Float64("market-value")
	}
	return item, nil
}

// simCmd groups simulation commands.
func simCmd(w *sim.World) *cli.Command {
	return &cli.Command{
		Name:  "sim",
		Usage: "Run agent simulations",
		Subcommands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Run a YAML scenario and print the report",
				ArgsUsage: "<scenario.yaml>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "ticks", Usage: "Override the scenario's tick count"},
					&cli.Int64Flag{Name: "seed", Usage: "Override the scenario's seed"},
					&cli.StringFlag{Name: "journal", Aliases: []string{"j"}, Usage: "Write agent memory to this JSONL file after the run"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return outputError(errors.NewInvalidRequest("scenario path is required"))
					}
					sc, err := sim.LoadScenario(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					if c.IsSet("ticks") {
						sc.Ticks = c.Int("ticks")
					}
					if c.IsSet("seed") {
						sc.Seed = c.Int64("seed")
					}

					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()

					if err := w.Load(ctx, sc); err != nil {
						return outputError(err)
					}
					rep, err := sim.NewRunner(w, sc).Run(ctx)
					if err != nil && !stderrors.Is(err, context.Canceled) {
						return outputError(err)
					}

					out := simOutput{Report: rep}
					if path := c.String("journal"); path != "" {
						ids := make([]string, 0, len(sc.Agents))
						for _, a := range sc.Agents {
							ids = append(ids, a.ID)
						}
						if out.Journal, err = journal.Export(c.Context, w.Memory, ids, path); err != nil {
							return outputError(err)
						}
					}
					return outputJSON(out)
				},
			},
		},
	}
}

// simOutput is a run report plus where its journal was written.
type simOutput struct {
	sim.Report
	Journal *journal.Output `json:"journal,omitempty"`
}

// payCmd creates the pay command.
func payCmd(w *sim.World, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "pay",
		Usage:     "Fetch a URL, paying its x402 challenge if one is returned",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "agent", Aliases: []string{"a"}, Usage: "Record the payment against this agent"},
			&cli.IntFlag{Name: "max-retries", Value: -1, Usage: "Override the configured retry limit"},
			&cli.BoolFlag{Name: "body", Usage: "Print the response body instead of the result"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("url is required"))
			}
			opts := []payment.Option{payment.WithLogger(logger)}
			if agentID := c.String("agent"); agentID != "" {
				opts = append(opts, payment.WithRecorder(agentID, w.Memory))
			}
			if n := c.Int("max-retries"); n >= 0 {
				opts = append(opts, payment.WithMaxRetries(n))
			}

			res := payment.NewClient(w.Config, opts...).Get(c.Context, c.Args().First())
			if !res.Succeeded() {
				paymentID := ""
				if res.Session != nil {
					paymentID = res.Session.PaymentID
				}
				return outputError(errors.NewPaymentFailed(res.Reason, paymentID))
			}
			if c.Bool("body") {
				_, err := os.Stdout.Write(res.Body)
				return err
			}
			return outputJSON(res)
		},
	}
}

// paywallCmd groups the demo paywall commands.
func paywallCmd(w *sim.World, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "paywall",
		Usage: "Serve resources behind an x402 paywall",
		Subcommands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the paywall HTTP server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "bind", Usage: "Bind address (defaults to config)"},
					&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port (defaults to config)"},
				},
				Action: func(c *cli.Context) error {
					cfg := w.Config
					bind, port := cfg.PaywallBind, cfg.PaywallPort
					if c.IsSet("bind") {
						bind = c.String("bind")
					}
					if c.IsSet("port") {
						port = c.Int("port")
					}

					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()

					p := paywall.New(cfg, paywall.WithLogger(logger))
					if err := paywall.Run(ctx, paywall.NewServer(p, bind, port), logger); err != nil {
						return outputError(errors.NewInternal(err))
					}
					return nil
				},
			},
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var pErr *errors.PaperclipError
	if stderrors.As(err, &pErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", pErr.Code, pErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseTags splits a comma-separated string into a slice of tags.
func parseTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// parseValues parses "growth=1,trust=0.5". A bare key weighs 1.
func parseValues(s string) (map[string]float64, error) {
	values := make(map[string]float64)
	for _, part := range parseTags(s) {
		key, raw, found := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid value pair: %q", part)
		}
		if !found {
			values[key] = 1
			continue
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight for %s: %q", key, raw)
		}
		values[key] = w
	}
	return values, nil
}

// parseValue decodes s as JSON when it is a JSON array, object or null,
// and keeps it as a plain string otherwise.
func parseValue(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "null" || strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return s
}
