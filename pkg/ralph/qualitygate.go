package ralph

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"orchestrator/pkg/orchconfig"
)

// CheckResult is one quality-gate check's outcome.
type CheckResult struct {
	Name          string
	Passed        bool
	OutputExcerpt string
	HardError     bool
}

const outputExcerptLimit = 2000

// runCheck executes one subprocess check with a timeout, classifying a
// nonzero exit, a timeout and a missing tool binary as non-blocking failures
// and any other run error (or an empty command) as a hard error, per
// spec.md §7's hard-vs-soft quality-gate taxonomy.
func runCheck(ctx context.Context, name string, args []string, cwd string, timeout time.Duration) CheckResult {
	if len(args) == 0 {
		return CheckResult{Name: name, Passed: false, HardError: true, OutputExcerpt: "no command configured"}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, args[0], args[1:]...)
	cmd.Dir = cwd
	var out strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	excerpt := out.String()
	if len(excerpt) > outputExcerptLimit {
		excerpt = excerpt[:outputExcerptLimit]
	}

	if cctx.Err() == context.DeadlineExceeded {
		return CheckResult{Name: name, Passed: false, OutputExcerpt: "timed out", HardError: false}
	}
	if err == nil {
		return CheckResult{Name: name, Passed: true, OutputExcerpt: excerpt}
	}
	if _, ok := err.(*exec.ExitError); ok {
		// Test/lint/type-check failures are recorded but non-blocking.
		return CheckResult{Name: name, Passed: false, OutputExcerpt: excerpt}
	}
	if _, ok := err.(*exec.Error); ok {
		// Tool binary isn't installed in this environment. Soft-fail rather
		// than blocking progress, per the bias-toward-progress intent of
		// spec.md §4.6h/§9.
		return CheckResult{Name: name, Passed: false, OutputExcerpt: err.Error(), HardError: false}
	}
	// Process started but failed in some other unexpected way: a gate
	// configuration error, which is a hard error per spec.md §7.
	return CheckResult{Name: name, Passed: false, OutputExcerpt: err.Error(), HardError: true}
}

// Gate runs the quality-check sequence for one attempt, returning every
// check's result and whether any hard error occurred. Indirected behind an
// interface, mirroring CommitDriver, so tests can inject a fake that never
// shells out to pytest/ruff/mypy.
type Gate interface {
	Run(ctx context.Context, cwd string) ([]CheckResult, bool)
}

// QualityGate runs the test/lint/type-check sequence for one attempt.
type QualityGate struct {
	cfg orchconfig.RalphConfig
}

// NewQualityGate constructs a QualityGate from the Ralph config section.
func NewQualityGate(cfg orchconfig.RalphConfig) *QualityGate {
	return &QualityGate{cfg: cfg}
}

// Run executes test/lint/type-check in sequence, returning every check's
// result and whether any hard error occurred.
func (g *QualityGate) Run(ctx context.Context, cwd string) ([]CheckResult, bool) {
	checks := []CheckResult{
		runCheck(ctx, "test", []string{"pytest", "-x"}, cwd, g.cfg.TestTimeout),
		runCheck(ctx, "lint", []string{"ruff", "check", "."}, cwd, g.cfg.LintTimeout),
		runCheck(ctx, "typecheck", []string{"mypy", "."}, cwd, g.cfg.TypeCheckTimeout),
	}

	hardFail := false
	for _, c := range checks {
		if c.HardError {
			hardFail = true
		}
	}

	if g.cfg.QualityGateMode == orchconfig.QualityGateStrict {
		for _, c := range checks {
			if !c.Passed {
				hardFail = true
			}
		}
	}

	return checks, hardFail
}
