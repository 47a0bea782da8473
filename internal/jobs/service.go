// Package jobs exposes the bridge's typed operations: compile, publish, run
// and execute tests, fetch container configuration and fetch test results.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/musher-dev/bcbridge/internal/bridge"
	"github.com/musher-dev/bcbridge/internal/observability"
	"github.com/musher-dev/bcbridge/internal/targets"
)

// Runner executes one raw job. *bridge.Bridge implements it.
type Runner interface {
	Run(ctx context.Context, req *bridge.JobRequest) (*bridge.RawResult, error)
}

// TargetResolver finds a target by name. An empty name selects the default.
type TargetResolver func(name string) (*targets.Target, error)

// CredentialResolver returns the container credential for a target, or nil.
type CredentialResolver func(target string) (*bridge.Credential, error)

// Service runs typed operations through a Runner.
type Service struct {
	runner      Runner
	targets     TargetResolver
	credentials CredentialResolver
	nav         *Navigator
}

// Option configures a Service.
type Option func(*Service)

// WithCredentials sets the credential lookup used for every job.
func WithCredentials(fn CredentialResolver) Option {
	return func(s *Service) { s.credentials = fn }
}

// WithWorkspace sets the directory scanned for failure locations.
func WithWorkspace(root string) Option {
	return func(s *Service) { s.nav = NewNavigator(root) }
}

// NewService creates a Service.
func NewService(runner Runner, resolve TargetResolver, opts ...Option) *Service {
	s := &Service{runner: runner, targets: resolve, nav: NewNavigator("")}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Compile builds the app in params.AppFolder.
func (s *Service) Compile(ctx context.Context, target string, params CompileParams) (*bridge.JobResult[CompileResult], error) {
	payload, err := params.payload()
	if err != nil {
		return nil, err
	}

	raw, err := s.run(ctx, bridge.OpCompile, target, payload)
	if err != nil {
		return nil, err
	}

	return bridge.MapResult(raw, decodeCompile), nil
}

// Publish deploys an app to the target's container.
func (s *Service) Publish(ctx context.Context, target string, params PublishParams) (*bridge.JobResult[PublishResult], error) {
	payload, err := params.payload()
	if err != nil {
		return nil, err
	}

	raw, err := s.run(ctx, bridge.OpPublish, target, payload)
	if err != nil {
		return nil, err
	}

	return bridge.MapResult(raw, decodePublish), nil
}

// RunTests publishes the test app and executes its tests.
func (s *Service) RunTests(ctx context.Context, target string, params TestParams) (*bridge.JobResult[TestResult], error) {
	return s.tests(ctx, bridge.OpTestRun, target, params)
}

// ExecuteTests executes tests already published to the container.
func (s *Service) ExecuteTests(ctx context.Context, target string, params TestParams) (*bridge.JobResult[TestResult], error) {
	return s.tests(ctx, bridge.OpTestExecute, target, params)
}

// FetchConfig reads the target container's server configuration.
func (s *Service) FetchConfig(ctx context.Context, target string) (*bridge.JobResult[ContainerConfig], error) {
	raw, err := s.run(ctx, bridge.OpFetchConfig, target, nil)
	if err != nil {
		return nil, err
	}

	return bridge.MapResult(raw, decodeContainerConfig), nil
}

// FetchResults reads the results of the most recent test run.
func (s *Service) FetchResults(ctx context.Context, target string) (*bridge.JobResult[TestResult], error) {
	raw, err := s.run(ctx, bridge.OpFetchResults, target, nil)
	if err != nil {
		return nil, err
	}

	return bridge.MapResult(raw, s.decodeTests), nil
}

func (s *Service) tests(ctx context.Context, op bridge.Operation, target string, params TestParams) (*bridge.JobResult[TestResult], error) {
	payload, err := params.payload()
	if err != nil {
		return nil, err
	}

	raw, err := s.run(ctx, op, target, payload)
	if err != nil {
		return nil, err
	}

	return bridge.MapResult(raw, s.decodeTests), nil
}

func (s *Service) decodeTests(data json.RawMessage) (TestResult, error) {
	return decodeTests(data, s.nav)
}

func (s *Service) run(ctx context.Context, op bridge.Operation, targetName string, payload map[string]any) (*bridge.RawResult, error) {
	target, err := s.targets(targetName)
	if err != nil {
		return nil, err
	}

	req := &bridge.JobRequest{
		Operation: op,
		Target:    target.Selector(),
		Payload:   payload,
	}

	if s.credentials != nil {
		cred, credErr := s.credentials(target.Name)
		if credErr != nil {
			return nil, fmt.Errorf("resolve credential for %s: %w", target.Name, credErr)
		}

		req.Credential = cred
	}

	observability.Component(ctx, "jobs").Debug("job request built",
		slog.String("event.type", "job.request"),
		slog.String("job.operation", string(op)),
		slog.String("job.target", target.Name),
		slog.Bool("job.login_forwarded", req.Credential != nil),
	)

	return s.runner.Run(ctx, req)
}
