// internal/fixloop/loop.go
// Package fixloop drives the bounded generate/validate cycle for one ticket.
// Each iteration moves through GENERATING and VALIDATING and ends in PASS,
// RETRY, or EXHAUSTED; attempts are appended to the ticket and never revised.
package fixloop

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/coval-cli/api/schemas"
	"github.com/xkilldash9x/coval-cli/internal/config"
	"github.com/xkilldash9x/coval-cli/internal/llmutil"
)

// State labels a phase of the loop, used for logging and the audit trail.
type State string

const (
	StatePending    State = "PENDING"
	StateGenerating State = "GENERATING"
	StateValidating State = "VALIDATING"
	StatePass       State = "PASS"
	StateRetry      State = "RETRY"
	StateExhausted  State = "EXHAUSTED"
)

// generationTimeout bounds a single LLM call regardless of the parent context.
const generationTimeout = 5 * time.Minute

// Validator applies one proposed patch to a fresh copy of the workspace and
// runs the sandboxed build+test cycle.
type Validator interface {
	Validate(ctx context.Context, workspace string, spec schemas.SandboxSpec, patch schemas.ProposedPatch, attempt int) (schemas.ValidationResult, error)
}

// Loop owns the iteration budget for one ticket.
type Loop struct {
	cfg       config.FixLoopConfig
	llm       schemas.LLMClient
	validator Validator
	logger    *zap.Logger
}

func NewLoop(cfg config.FixLoopConfig, llm schemas.LLMClient, validator Validator, logger *zap.Logger) *Loop {
	return &Loop{
		cfg:       cfg,
		llm:       llm,
		validator: validator,
		logger:    logger.Named("FixLoop"),
	}
}

// Run executes the loop against the ticket's workspace. It appends every
// attempt to ticket.Attempts and returns the passing attempt, or nil when the
// iteration budget is exhausted. A non-nil error is returned only when the
// context is canceled; everything else is recorded as a failed attempt.
func (l *Loop) Run(ctx context.Context, ticket *schemas.RepairTicket, workspace string, spec schemas.SandboxSpec) (*schemas.FixAttempt, error) {
	maxIterations := ticket.MaxIterations
	if maxIterations <= 0 {
		maxIterations = l.cfg.MaxIterations
	}

	state := StatePending
	l.logger.Info("Starting fix loop",
		zap.String("ticket_id", ticket.TicketID),
		zap.Int("max_iterations", maxIterations),
	)

	for i := 0; i < maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fix loop canceled before attempt %d: %w", i, err)
		}

		state = StateGenerating
		l.logTransition(ticket.TicketID, i, state)

		attempt := schemas.FixAttempt{Index: i}
		if i == 0 {
			attempt.Prompt = initialPrompt(ticket.ErrorReport, workspace, spec)
		} else {
			attempt.Prompt = retryPrompt(ticket.ErrorReport, workspace, spec, ticket.Attempts[len(ticket.Attempts)-1])
		}

		patch, genErr := l.generate(ctx, ticket, attempt.Prompt)
		if genErr != nil {
			attempt.Outcome = schemas.OutcomeFail
			attempt.Reason = genErr.Error()
			ticket.Attempts = append(ticket.Attempts, attempt)
			state = StateRetry
			l.logTransition(ticket.TicketID, i, state)
			l.logger.Warn("Generation attempt failed", zap.Int("attempt", i), zap.Error(genErr))
			continue
		}
		attempt.Patch = *patch

		state = StateValidating
		l.logTransition(ticket.TicketID, i, state)

		result, valErr := l.validator.Validate(ctx, workspace, spec, attempt.Patch, i)
		if valErr != nil {
			attempt.Outcome = schemas.OutcomeError
			attempt.Reason = fmt.Sprintf("validation could not run: %v", valErr)
			ticket.Attempts = append(ticket.Attempts, attempt)
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fix loop canceled during validation: %w", ctx.Err())
			}
			state = StateRetry
			l.logTransition(ticket.TicketID, i, state)
			continue
		}
		attempt.Validation = &result

		if result.Passed() {
			attempt.Outcome = schemas.OutcomePass
			ticket.Attempts = append(ticket.Attempts, attempt)
			state = StatePass
			l.logTransition(ticket.TicketID, i, state)
			return &ticket.Attempts[len(ticket.Attempts)-1], nil
		}

		attempt.Outcome = schemas.OutcomeFail
		attempt.Reason = failureReason(result)
		ticket.Attempts = append(ticket.Attempts, attempt)
		state = StateRetry
		l.logTransition(ticket.TicketID, i, state)
	}

	state = StateExhausted
	l.logger.Info("Fix loop exhausted",
		zap.String("ticket_id", ticket.TicketID),
		zap.String("state", string(state)),
		zap.Int("attempts", len(ticket.Attempts)),
	)
	return nil, nil
}

// generate performs one timeout-bounded LLM call and parses the structured
// patch out of the response. Any failure here costs the caller an iteration.
func (l *Loop) generate(ctx context.Context, ticket *schemas.RepairTicket, prompt string) (*schemas.ProposedPatch, error) {
	genCtx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	response, err := l.llm.Generate(genCtx, schemas.GenerationRequest{
		System: systemPrompt,
		Prompt: prompt,
		Options: schemas.GenerationOptions{
			Model:       ticket.ModelProfile.ID,
			Temperature: ticket.ModelProfile.Temperature,
			MaxTokens:   ticket.ModelProfile.MaxTokens,
			ForceJSON:   true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	patch, err := llmutil.ParsePatchResponse(response)
	if err != nil {
		return nil, fmt.Errorf("unparsable generation response: %w", err)
	}
	return patch, nil
}

func failureReason(result schemas.ValidationResult) string {
	switch {
	case !result.Applied:
		return "patch did not apply"
	case !result.BuildSucceeded:
		return "build failed after patch"
	case result.TimedOut:
		return "test run timed out"
	default:
		return "tests failed after patch"
	}
}

func (l *Loop) logTransition(ticketID string, attempt int, state State) {
	l.logger.Debug("Fix loop state transition",
		zap.String("ticket_id", ticketID),
		zap.Int("attempt", attempt),
		zap.String("state", string(state)),
	)
}
