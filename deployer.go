package sitedeploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// State is a step of the deployment state machine:
// disconnected → connected → cleaning → uploading → listing → closed,
// with failed reachable from any state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateCleaning     State = "cleaning"
	StateUploading    State = "uploading"
	StateListing      State = "listing"
	StateClosed       State = "closed"
	StateFailed       State = "failed"
)

// ErrNotConnected is returned by phase methods called before Connect or
// after Close.
var ErrNotConnected = errors.New("not connected")

// Dialer opens a session. NewClient is the default.
type Dialer func(ctx context.Context, config Config, logger logrus.FieldLogger) (*Client, error)

// Deployer replaces the contents of a remote directory with a local tree
// over a single SSH/SFTP session.
type Deployer struct {
	config  Config
	client  *Client
	dial    Dialer
	logger  logrus.FieldLogger
	metrics *Metrics
	state   State
}

// DeployerOption configures a Deployer.
type DeployerOption func(*Deployer)

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(logger logrus.FieldLogger) DeployerOption {
	return func(d *Deployer) {
		d.logger = logger
	}
}

// WithMetrics records run metrics into m instead of a private Metrics.
func WithMetrics(m *Metrics) DeployerOption {
	return func(d *Deployer) {
		d.metrics = m
	}
}

// WithDialer replaces the function used to open the session.
func WithDialer(dial Dialer) DeployerOption {
	return func(d *Deployer) {
		d.dial = dial
	}
}

// NewDeployer validates config and returns a disconnected Deployer.
func NewDeployer(config Config, opts ...DeployerOption) (*Deployer, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Deployer{
		config:  config,
		dial:    NewClient,
		logger:  logrus.StandardLogger(),
		metrics: NewMetrics(),
		state:   StateDisconnected,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// State returns the current state.
func (d *Deployer) State() State {
	return d.state
}

// Metrics returns the metrics the deployer records into.
func (d *Deployer) Metrics() *Metrics {
	return d.metrics
}

// Config returns the effective configuration.
func (d *Deployer) Config() Config {
	return d.config
}

func (d *Deployer) setState(s State) {
	if d.state == s {
		return
	}
	d.logger.WithFields(logrus.Fields{"from": d.state, "to": s}).Debug("State transition")
	d.state = s
}

func (d *Deployer) observe(phase State, start time.Time) {
	d.metrics.observePhase(phase, time.Since(start))
}

// Connect opens the session. It is a no-op when already connected.
func (d *Deployer) Connect(ctx context.Context) error {
	if d.client != nil {
		return nil
	}
	if d.state != StateDisconnected {
		return fmt.Errorf("cannot connect from state %s", d.state)
	}
	defer d.observe(StateConnected, time.Now())

	log := d.logger.WithField("host", d.config.Host)
	log.Infof("Connecting to %s:%d...", d.config.Host, d.config.Port)

	client, err := d.dial(ctx, d.config, d.logger)
	if err != nil {
		return err
	}
	d.client = client
	d.setState(StateConnected)
	log.Info("Connected")
	return nil
}

// Close closes the session. A failed deployer stays failed.
func (d *Deployer) Close() error {
	if d.state != StateFailed {
		d.setState(StateClosed)
	}
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

// List returns the names in the remote directory, hidden ones included.
func (d *Deployer) List(ctx context.Context) ([]string, error) {
	if d.client == nil {
		return nil, ErrNotConnected
	}
	d.setState(StateListing)
	defer d.observe(StateListing, time.Now())

	entries, err := d.client.ListDir(ctx, d.config.RemoteDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", d.config.RemoteDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Run connects, cleans the remote directory, uploads the local tree, lists
// the result and closes the session. A missing local directory fails the run
// before anything remote is touched. On error the session is closed, the
// state becomes StateFailed and the partial report is returned with the
// error.
func (d *Deployer) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{}

	err := d.run(ctx, report)
	report.Duration = time.Since(start)

	if err != nil {
		d.setState(StateFailed)
		if closeErr := d.Close(); closeErr != nil {
			d.logger.WithError(closeErr).Debug("Close after failure")
		}
		report.State = d.state
		return report, err
	}

	if err := d.Close(); err != nil {
		d.logger.WithError(err).Warn("Failed to close session cleanly")
	}
	d.metrics.succeeded(time.Now())
	report.State = d.state
	return report, nil
}

func (d *Deployer) run(ctx context.Context, report *Report) error {
	var err error

	// Cleanup is destructive; make sure there is something to upload first.
	if _, err = statLocalDir(d.config.LocalDir); err != nil {
		return err
	}

	if err = d.Connect(ctx); err != nil {
		return err
	}

	if report.Clean, err = d.Clean(ctx); err != nil {
		return fmt.Errorf("clean: %w", err)
	}

	if report.Upload, err = d.Upload(ctx); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if report.Listing, err = d.List(ctx); err != nil {
		// A dry run never creates a missing remote directory.
		if !d.config.DryRun || !report.Clean.Skipped || !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("list: %w", err)
		}
		report.Listing = []string{}
	}

	d.logger.Info("Remote directory now contains:")
	for _, name := range report.Listing {
		d.logger.Infof("  %s", name)
	}
	return nil
}
