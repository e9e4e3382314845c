// Package org supplies the authenticated org connection used by the API
// proxy: an instance URL and an access token.
package org

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/localdev/internal/logging"
	"github.com/conneroisu/localdev/internal/validation"
)

// ErrNoConnection is returned when no org is configured.
var ErrNoConnection = errors.New("no org connection configured")

// Connection is what the server needs to talk to an org.
type Connection struct {
	InstanceURL string `json:"instanceUrl"`
	AccessToken string `json:"accessToken"`
}

// Validate checks that both fields are usable.
func (c *Connection) Validate() error {
	if c.AccessToken == "" {
		return errors.New("org connection has no access token")
	}
	if err := validation.ValidateURL(c.InstanceURL); err != nil {
		return fmt.Errorf("org instance URL: %w", err)
	}
	return nil
}

// Provider returns the current org connection.
type Provider interface {
	Connection(ctx context.Context) (*Connection, error)
}

// Static is a fixed connection.
type Static Connection

// Connection implements Provider.
func (s Static) Connection(context.Context) (*Connection, error) {
	conn := Connection(s)
	if conn.InstanceURL == "" && conn.AccessToken == "" {
		return nil, ErrNoConnection
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	return &conn, nil
}

// runFunc runs a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// CLIProvider asks the Salesforce CLI for the connection of an org alias and
// remembers the answer.
type CLIProvider struct {
	command string
	alias   string
	timeout time.Duration
	logger  logging.Logger
	run     runFunc

	mu     sync.Mutex
	cached *Connection
}

// NewCLIProvider creates a provider for alias. An empty alias uses the CLI's
// default org.
func NewCLIProvider(alias string, logger logging.Logger) *CLIProvider {
	return &CLIProvider{
		command: "sf",
		alias:   alias,
		timeout: 30 * time.Second,
		logger:  logger.WithComponent("org"),
		run:     runCommand,
	}
}

type displayResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Result  *Connection `json:"result"`
}

// Connection implements Provider.
func (p *CLIProvider) Connection(ctx context.Context) (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return p.cached, nil
	}

	args := []string{"org", "display", "--json"}
	if p.alias != "" {
		if err := validation.ValidateArgument(p.alias); err != nil {
			return nil, fmt.Errorf("invalid org alias %q: %w", p.alias, err)
		}
		args = append(args, "--target-org", p.alias)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.run(ctx, p.command, args...)
	if err != nil && len(bytes.TrimSpace(out)) == 0 {
		return nil, fmt.Errorf("running %s %s: %w", p.command, strings.Join(args, " "), err)
	}

	var resp displayResponse
	if jsonErr := json.Unmarshal(out, &resp); jsonErr != nil {
		return nil, fmt.Errorf("decoding %s output: %w", p.command, jsonErr)
	}
	if resp.Status != 0 || resp.Result == nil {
		return nil, fmt.Errorf("%s org display failed: %s", p.command, resp.Message)
	}
	if err := resp.Result.Validate(); err != nil {
		return nil, err
	}

	p.cached = &Connection{InstanceURL: resp.Result.InstanceURL, AccessToken: resp.Result.AccessToken}
	p.logger.Info(ctx, "Connected to org", "instance_url", p.cached.InstanceURL, "alias", p.alias)
	return p.cached, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
