// Command fleetplay is the CLI entry point: it loads an inventory and a
// playbook, resolves secrets/vault overrides, and drives pkg/runner across
// the selected hosts, per spec §6's external-interface contract.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"
	flags "github.com/jessevdk/go-flags"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/umputun/fleetplay/pkg/inventory"
	"github.com/umputun/fleetplay/pkg/modules"
	"github.com/umputun/fleetplay/pkg/playbook"
	"github.com/umputun/fleetplay/pkg/report"
	"github.com/umputun/fleetplay/pkg/runner"
	"github.com/umputun/fleetplay/pkg/secrets"
)

// exit codes per spec §6.
const (
	exitOK                = 0
	exitTaskFailure       = 2
	exitParseError        = 3
	exitUnsupportedConstr = 4
)

type options struct {
	PositionalArgs struct {
		Playbooks []string `positional-arg-name:"playbook" description:"playbook file(s)"`
	} `positional-args:"yes"`

	Inventory string   `short:"i" long:"inventory" env:"FLEETPLAY_INVENTORY" description:"inventory file or url"`
	Limit     string   `short:"l" long:"limit" description:"restrict selection to hosts matching this pattern"`
	ExtraVars []string `short:"e" long:"extra-vars" description:"extra variable, key=value (highest priority)"`

	Forks          int           `short:"f" long:"forks" description:"concurrent hosts per task" default:"5"`
	Check          bool          `long:"check" description:"check mode, don't make changes"`
	Diff           bool          `long:"diff" description:"show diffs for changed files/templates"`
	Output         string        `short:"o" long:"output" choice:"human" choice:"json" default:"human" description:"result format"`
	Tags           []string      `short:"t" long:"tags" description:"only run tasks with these tags"`
	SkipTags       []string      `long:"skip-tags" description:"skip tasks with these tags"`
	Verbose        []bool        `short:"v" long:"verbose" description:"verbosity level"`
	ForceHandlers  bool          `long:"force-handlers" description:"run notified handlers even if a task failed"`
	ConnectTimeout time.Duration `long:"timeout" description:"connection timeout" default:"30s"`
	MaxOpenConns   int           `long:"max-open-conns" description:"max concurrent open host connections"`

	User          string          `short:"u" long:"user" description:"remote user override"`
	Transport     string          `long:"transport" description:"transport override: local, ssh, winrm"`
	PrivateKey    string          `short:"k" long:"private-key" description:"ssh private key path"`
	Become        bool            `short:"b" long:"become" description:"run operations with privilege escalation"`
	BecomeUser    string          `long:"become-user" default:"root" description:"user to become"`
	BecomeMethod  string          `long:"become-method" default:"sudo" description:"become method: sudo, su, runas"`
	AskBecomePass bool            `short:"K" long:"ask-become-pass" description:"prompt for the become password"`
	VaultPassFile string          `long:"vault-password-file" description:"file holding the vault decryption password"`
	AskVaultPass  bool            `long:"ask-vault-pass" description:"prompt for the vault decryption password"`
	SecretsOpts   SecretsProvider `group:"secrets" namespace:"secrets" env-namespace:"FLEETPLAY_SECRETS"`

	ListHosts   bool `long:"list-hosts" description:"list matching hosts per play and exit"`
	ListTasks   bool `long:"list-tasks" description:"list tasks per play and exit"`
	ListTags    bool `long:"list-tags" description:"list tags used in the playbook and exit"`
	SyntaxCheck bool `long:"syntax-check" description:"parse the playbook and inventory, then exit"`

	Rolesdir string `long:"roles-dir" default:"roles" description:"roles directory, relative to the playbook"`

	NoColor bool `long:"no-color" env:"FLEETPLAY_NO_COLOR" description:"disable color output"`
	Dbg     bool `long:"dbg" description:"debug mode"`
}

// SecretsProvider selects and configures a secrets.Provider.
type SecretsProvider struct {
	Provider string `long:"provider" env:"PROVIDER" choice:"none" choice:"store" choice:"vault" choice:"aws" choice:"ansible-vault" default:"none" description:"secrets provider"`

	Store struct {
		Key  string `long:"key" env:"KEY" description:"encryption key for the store provider"`
		Conn string `long:"conn" env:"CONN" default:"fleetplay.db" description:"store connection string"`
	} `group:"store" namespace:"store" env-namespace:"STORE"`

	Vault struct {
		Token string `long:"token" env:"TOKEN" description:"hashicorp vault token"`
		Path  string `long:"path" env:"PATH" description:"hashicorp vault secret path"`
		URL   string `long:"url" env:"URL" description:"hashicorp vault address"`
	} `group:"vault" namespace:"vault" env-namespace:"VAULT"`

	Aws struct {
		Region    string `long:"region" env:"REGION" description:"aws region"`
		AccessKey string `long:"access-key" env:"ACCESS_KEY" description:"aws access key"`
		SecretKey string `long:"secret-key" env:"SECRET_KEY" description:"aws secret key"`
	} `group:"aws" namespace:"aws" env-namespace:"AWS"`

	AnsibleVault struct {
		Path   string `long:"path" env:"PATH" description:"ansible-vault file path"`
		Secret string `long:"secret" env:"SECRET" description:"ansible-vault decryption secret"`
	} `group:"ansible-vault" namespace:"ansible" env-namespace:"ANSIBLE"`
}

func main() {
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && errors.Is(ferr.Type, flags.ErrHelp) {
			os.Exit(exitOK)
		}
		os.Exit(exitParseError)
	}

	setupLog(opts.Dbg, opts.NoColor, len(opts.Verbose) > 0)

	code := run(opts)
	os.Exit(code)
}

// shutdownGrace is the window in-flight transports get to release after a
// SIGINT/SIGTERM before being hard-aborted, per §5 "Cancellation / timeouts".
const shutdownGrace = 5 * time.Second

func run(opts options) int {
	if len(opts.PositionalArgs.Playbooks) == 0 {
		lgr.Printf("[ERROR] at least one playbook file is required")
		return exitParseError
	}

	ctx, workCtx, stop := gracefulShutdownContexts()
	defer stop()

	inv, err := loadInventory(opts)
	if err != nil {
		return exitCodeFor(err)
	}

	doc, err := loadPlaybook(opts)
	if err != nil {
		return exitCodeFor(err)
	}

	if opts.ListHosts || opts.ListTasks || opts.ListTags || opts.SyntaxCheck {
		return runDiagnostics(opts, inv, doc)
	}

	extraVars, err := parseExtraVars(opts.ExtraVars)
	if err != nil {
		lgr.Printf("[ERROR] %v", err)
		return exitParseError
	}

	becomePassword, err := resolveBecomePassword(opts)
	if err != nil {
		lgr.Printf("[ERROR] %v", err)
		return exitParseError
	}

	reg := modules.NewRegistry()
	rep := report.New()

	runOpts := runner.Options{
		Forks:          opts.Forks,
		CheckMode:      opts.Check,
		DiffMode:       opts.Diff,
		ExtraVars:      extraVars,
		Tags:           opts.Tags,
		SkipTags:       opts.SkipTags,
		ForceHandlers:  opts.ForceHandlers,
		ConnectTimeout: opts.ConnectTimeout,
		BaseDir:        dirOf(opts.PositionalArgs.Playbooks[0]),
		RolesDir:       opts.Rolesdir,
		BecomePassword: becomePassword,
		MaxOpenConns:   opts.MaxOpenConns,
	}
	applyPlayDefaults(doc, opts)

	r := runner.New(inv, reg, rep, runOpts)
	r.WorkCtx = workCtx

	st := time.Now()
	runErr := r.RunDocument(ctx, doc)

	if opts.Output == "json" {
		if err := rep.WriteJSON(os.Stdout); err != nil {
			lgr.Printf("[ERROR] can't write json report: %v", err)
		}
	} else {
		rep.WriteHuman(os.Stdout)
	}

	if runErr != nil {
		lgr.Printf("[ERROR] run failed: %v", runErr)
		return exitTaskFailure
	}

	lgr.Printf("[INFO] completed in %v", time.Since(st).Truncate(100*time.Millisecond))
	if rep.AnyFailed() {
		return exitTaskFailure
	}
	return exitOK
}

// gracefulShutdownContexts builds the two contexts the runner needs to honor
// §5's staged cancellation: schedCtx is canceled the instant a SIGINT/SIGTERM
// arrives, so no further task is scheduled; workCtx stays alive for
// shutdownGrace afterward, giving in-flight transport calls a chance to
// finish cleanly before being aborted. A second signal during the grace
// window cancels workCtx immediately.
func gracefulShutdownContexts() (schedCtx, workCtx context.Context, stop func()) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	schedCtx, cancelSched := context.WithCancel(context.Background())
	workCtx, cancelWork := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
		case <-done:
			return
		}
		lgr.Printf("[WARN] shutdown requested, draining in-flight work (up to %v)", shutdownGrace)
		cancelSched()
		select {
		case <-time.After(shutdownGrace):
		case <-sigCh:
			lgr.Printf("[WARN] second interrupt received, aborting immediately")
		case <-done:
		}
		cancelWork()
	}()

	return schedCtx, workCtx, func() {
		close(done)
		signal.Stop(sigCh)
		cancelSched()
		cancelWork()
	}
}

// applyPlayDefaults layers CLI-level connection/privilege overrides onto
// every play (sshUser/sshKey-style falling back to playbook values), applied
// at the play level since each play (not one top-level config) carries its
// own become/user settings.
func applyPlayDefaults(doc *playbook.Document, opts options) {
	for i := range doc.Plays {
		if opts.Become {
			doc.Plays[i].Become = true
		}
		if opts.BecomeUser != "" && doc.Plays[i].BecomeUser == "" {
			doc.Plays[i].BecomeUser = opts.BecomeUser
		}
		if opts.BecomeMethod != "" && doc.Plays[i].BecomeMethod == "" {
			doc.Plays[i].BecomeMethod = opts.BecomeMethod
		}
		if opts.Check {
			doc.Plays[i].CheckMode = true
		}
		if opts.Diff {
			doc.Plays[i].Diff = true
		}
	}
}

func loadInventory(opts options) (*inventory.Inventory, error) {
	inv, err := inventory.Load(opts.Inventory)
	if err != nil {
		return nil, fmt.Errorf("can't load inventory %q: %w", opts.Inventory, err)
	}
	if opts.Limit != "" {
		inv = limitInventory(inv, opts.Limit)
	}
	applyHostOverrides(inv, opts)
	return inv, nil
}

// limitInventory narrows an inventory to only the hosts matched by the
// --limit pattern, reusing the inventory package's own selector algebra
// (comma/!/& patterns) rather than reimplementing pattern matching here.
func limitInventory(inv *inventory.Inventory, limit string) *inventory.Inventory {
	keep := map[string]bool{}
	for _, name := range inv.Select(limit) {
		keep[name] = true
	}
	out := inventory.New()
	for name, h := range inv.Hosts {
		if keep[name] {
			out.Hosts[name] = h
		}
	}
	out.Groups = inv.Groups
	out.HostOrder = filterOrder(inv.HostOrder, keep)
	return out
}

func filterOrder(order []string, keep map[string]bool) []string {
	var out []string
	for _, name := range order {
		if keep[name] {
			out = append(out, name)
		}
	}
	return out
}

func applyHostOverrides(inv *inventory.Inventory, opts options) {
	for _, h := range inv.Hosts {
		if opts.User != "" {
			h.User = opts.User
		}
		if opts.Transport != "" {
			h.Transport = opts.Transport
		}
		if opts.PrivateKey != "" {
			h.KeyPath = opts.PrivateKey
		}
	}
}

// loadPlaybook loads every positional playbook path and concatenates their
// plays into a single document, run in the order given on the command line.
// Load errors across files are collected with multierror rather than
// stopping at the first bad file, so a typo in the second of three
// playbooks doesn't hide a different, possibly more useful, error in the
// third.
func loadPlaybook(opts options) (*playbook.Document, error) {
	var merged playbook.Document
	var errs *multierror.Error

	for _, path := range opts.PositionalArgs.Playbooks {
		doc, err := loadOnePlaybook(opts, path)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		merged.Plays = append(merged.Plays, doc.Plays...)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%s", formatErrorString(err.Error()))
	}
	return &merged, nil
}

func loadOnePlaybook(opts options, path string) (*playbook.Document, error) {
	data, err := os.ReadFile(path) // nolint:gosec // playbook path is an intentional cli argument
	if err != nil {
		return nil, fmt.Errorf("can't read playbook %q: %w", path, err)
	}

	if isVaultEncrypted(data) {
		data, err = decryptVault(opts, path)
		if err != nil {
			return nil, err
		}
	}

	doc, err := playbook.Load(path, data)
	if err != nil {
		return nil, err
	}

	baseDir := dirOf(path)
	if err := playbook.ExpandStatic(doc, baseDir, opts.Rolesdir); err != nil {
		return nil, err
	}
	return doc, nil
}

// formatErrorString reformats a multierror.Error's default rendering into a
// compact numbered list.
func formatErrorString(input string) string {
	headerRe := regexp.MustCompile(`(\d+ errors? occurred:)`)
	headerMatch := headerRe.FindStringSubmatch(input)
	if len(headerMatch) == 0 {
		return input
	}

	errorsRe := regexp.MustCompile(`\* (.+)`)
	errorsMatches := errorsRe.FindAllStringSubmatch(input, -1)

	var out strings.Builder
	fmt.Fprintf(&out, "%s\n", strings.TrimSpace(headerMatch[1]))
	for i, match := range errorsMatches {
		fmt.Fprintf(&out, "   [%d] %s\n", i, strings.TrimSpace(match[1]))
	}
	return out.String()
}

// vaultHeader is the recognized ciphertext marker of §6's vault format
// paragraph: a value (here, a whole playbook document) beginning with this
// line is opaque ciphertext, not plain YAML/TOML.
const vaultHeader = "$ANSIBLE_VAULT;"

func isVaultEncrypted(data []byte) bool {
	return strings.HasPrefix(strings.TrimSpace(string(data)), vaultHeader)
}

func decryptVault(opts options, path string) ([]byte, error) {
	secret, err := resolveVaultPassword(opts)
	if err != nil {
		return nil, fmt.Errorf("vault-encrypted playbook, but no password available: %w", err)
	}
	prov, err := secrets.NewAnsibleVaultProvider(path, secret)
	if err != nil {
		return nil, fmt.Errorf("can't decrypt vault playbook: %w", err)
	}
	decoded, err := yaml.Marshal(prov)
	if err != nil {
		return nil, fmt.Errorf("can't re-encode decrypted vault document: %w", err)
	}
	return decoded, nil
}

func resolveVaultPassword(opts options) (string, error) {
	if opts.AskVaultPass {
		return promptPassword("vault password: ")
	}
	if opts.VaultPassFile != "" {
		data, err := os.ReadFile(opts.VaultPassFile) // nolint:gosec // explicit cli-provided path
		if err != nil {
			return "", fmt.Errorf("can't read vault password file %q: %w", opts.VaultPassFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", errors.New("no --vault-password-file or --ask-vault-pass given")
}

func resolveBecomePassword(opts options) (string, error) {
	if opts.AskBecomePass {
		return promptPassword("become password: ")
	}
	provider, err := makeSecretsProvider(opts.SecretsOpts)
	if err != nil {
		return "", err
	}
	if _, ok := provider.(*secrets.NoOpProvider); ok {
		return "", nil
	}
	pass, err := provider.Get("ansible_become_pass")
	if err != nil {
		return "", nil // no become password configured is not an error
	}
	return pass, nil
}

func makeSecretsProvider(sopts SecretsProvider) (secrets.Provider, error) {
	switch sopts.Provider {
	case "none", "":
		return &secrets.NoOpProvider{}, nil
	case "store":
		return secrets.NewStoreProvider(sopts.Store.Conn, []byte(sopts.Store.Key))
	case "vault":
		return secrets.NewHashiVaultProvider(sopts.Vault.URL, sopts.Vault.Path, sopts.Vault.Token)
	case "aws":
		return secrets.NewAWSSecretsProvider(sopts.Aws.AccessKey, sopts.Aws.SecretKey, sopts.Aws.Region)
	case "ansible-vault":
		return secrets.NewAnsibleVaultProvider(sopts.AnsibleVault.Path, sopts.AnsibleVault.Secret)
	}
	return &secrets.NoOpProvider{}, nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("can't read password: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// parseExtraVars implements the highest-priority variable tier from the
// `-e key=value` repeated flag; a bare `-e key` sets a boolean true, matching
// the common convention for flag-style extra-vars.
func parseExtraVars(raw []string) (map[string]any, error) {
	out := map[string]any{}
	for _, kv := range raw {
		k, v, found := strings.Cut(kv, "=")
		if !found {
			out[k] = true
			continue
		}
		out[k] = coerceScalar(v)
	}
	return out, nil
}

func coerceScalar(v string) any {
	if v == "true" || v == "false" {
		return v == "true"
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return v
}

// runDiagnostics implements the --list-hosts/--list-tasks/--list-tags/
// --syntax-check dry runs of §6, none of which contact a host or run again
// afterward, so there's nothing for this pass to protect by copying doc.
func runDiagnostics(opts options, inv *inventory.Inventory, doc *playbook.Document) int {
	if opts.SyntaxCheck {
		fmt.Println("syntax ok")
		return exitOK
	}

	if opts.ListHosts {
		for _, play := range doc.Plays {
			fmt.Printf("play %q:\n", play.Name)
			for _, h := range inv.Select(play.Hosts) {
				fmt.Printf("  %s\n", h)
			}
		}
	}

	if opts.ListTasks {
		for _, play := range doc.Plays {
			fmt.Printf("play %q:\n", play.Name)
			listTaskNames(play.Tasks, "  ")
		}
	}

	if opts.ListTags {
		seen := map[string]bool{}
		for _, play := range doc.Plays {
			collectTags(play.Tasks, seen)
		}
		for tag := range seen {
			fmt.Println(tag)
		}
	}

	return exitOK
}

func listTaskNames(tasks []playbook.Task, indent string) {
	for _, t := range tasks {
		if t.IsBlock() {
			fmt.Printf("%sblock:\n", indent)
			listTaskNames(t.Block, indent+"  ")
			continue
		}
		fmt.Printf("%s%s\n", indent, t.Name)
	}
}

func collectTags(tasks []playbook.Task, seen map[string]bool) {
	for _, t := range tasks {
		for _, tag := range t.Tags {
			seen[tag] = true
		}
		if t.IsBlock() {
			collectTags(t.Block, seen)
			collectTags(t.Rescue, seen)
			collectTags(t.Always, seen)
		}
	}
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

// exitCodeFor maps a load-time error to the exit-code contract of §6:
// parse errors exit 3, unsupported constructs exit 4, anything else (I/O,
// inventory problems) also exits 3 since it likewise prevents the run from
// ever starting.
func exitCodeFor(err error) int {
	var unsupported *playbook.UnsupportedFeatureError
	if errors.As(err, &unsupported) {
		return exitUnsupportedConstr
	}
	lgr.Printf("[ERROR] %v", err)
	return exitParseError
}

func setupLog(dbg, noColor, verbose bool) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = append(logOpts, lgr.Debug, lgr.CallerFile, lgr.CallerFunc)
	} else if !verbose {
		logOpts = append(logOpts, lgr.Out(io.Discard))
	}

	if !noColor {
		colorizer := lgr.Mapper{
			ErrorFunc: func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
			WarnFunc:  func(s string) string { return color.New(color.FgRed).Sprint(s) },
			InfoFunc:  func(s string) string { return color.New(color.FgYellow).Sprint(s) },
			DebugFunc: func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		}
		logOpts = append(logOpts, lgr.Map(colorizer))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
