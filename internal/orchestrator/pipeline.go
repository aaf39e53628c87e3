package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Veil/internal/domain"
	"github.com/shaiso/Veil/internal/stages"
	"github.com/shaiso/Veil/internal/telemetry"
)

const historySaveTimeout = 5 * time.Second

// workflow — зафиксированные определения стадий.
type workflow struct {
	pseudonymize stages.Definition
	augment      stages.Definition
	analysis     stages.Definition
	validate     stages.Definition
	feedback     stages.Definition
	restore      stages.Definition

	// background — шаги background стадий.
	background map[domain.StepID]bool
}

// DefaultPrecedence — порядок предпочтения analysis backends по умолчанию.
func DefaultPrecedence() []domain.StepID {
	return []domain.StepID{domain.StepAnalysisA, domain.StepAnalysisB}
}

// buildWorkflow собирает и валидирует определения стадий.
func buildWorkflow(svc Services, precedence []domain.StepID) (*workflow, error) {
	if len(precedence) == 0 {
		precedence = DefaultPrecedence()
	}

	augment := svc.Augment
	if augment == nil {
		augment = noop
	}
	feedback := svc.Feedback
	if feedback == nil {
		feedback = noop
	}

	wf := &workflow{
		pseudonymize: stages.Sequential(domain.StepPseudonymization,
			guard(svc.Pseudonymize, decodePseudonymized)),
		augment: stages.Optional(domain.StepIntelligenceAugmentation, augment),
		analysis: stages.Parallel("analysis", precedence,
			stages.Member{ID: domain.StepAnalysisA, Invoke: guard(svc.AnalyzeA, decodeAnalysis)},
			stages.Member{ID: domain.StepAnalysisB, Invoke: guard(svc.AnalyzeB, decodeAnalysis)},
		),
		validate: stages.Sequential(domain.StepValidationSystem, svc.Validate),
		feedback: stages.Background(domain.StepLearningFeedback, feedback),
		restore: stages.Sequential(domain.StepRestoration,
			guard(svc.Restore, decodeRestored)),
		background: map[domain.StepID]bool{domain.StepLearningFeedback: true},
	}

	// input-data и output-data пишет сам оркестратор
	required := make([]domain.StepID, 0, len(domain.WorkflowOrder()))
	for _, id := range domain.WorkflowOrder() {
		if id == domain.StepInputData || id == domain.StepOutputData {
			continue
		}
		required = append(required, id)
	}

	if err := stages.Validate(wf.definitions(), required...); err != nil {
		return nil, err
	}
	return wf, nil
}

// definitions возвращает стадии в порядке выполнения.
func (w *workflow) definitions() []stages.Definition {
	return []stages.Definition{w.pseudonymize, w.augment, w.analysis, w.validate, w.feedback, w.restore}
}

// guard — checked для обязательной операции; nil оставляется для Validate.
func guard[T any](op stages.Operation, decode func(json.RawMessage) (T, error)) stages.Operation {
	if op == nil {
		return nil
	}
	return checked(op, decode)
}

// Input — вход run.
type Input struct {
	Text string `json:"text"`
}

// Execute выполняет один run pipeline.
//
// Ошибка возвращается, только если run не начался (ErrEmptyInput,
// ErrPipelineRunning, ErrOrchestratorStopped). Упавший run — это
// PipelineResult с Success=false и частичной историей шагов.
func (o *Orchestrator) Execute(ctx context.Context, in Input) (domain.PipelineResult, error) {
	if in.Text == "" {
		return domain.PipelineResult{}, ErrEmptyInput
	}

	runID := uuid.New()

	reply := make(chan error, 1)
	if err := o.send(message{kind: msgBegin, runID: runID, reply: reply}); err != nil {
		return domain.PipelineResult{}, err
	}
	if err := o.await(reply); err != nil {
		if errors.Is(err, ErrPipelineRunning) {
			telemetry.RunsRejected.Inc()
		}
		return domain.PipelineResult{}, err
	}

	logger := telemetry.WithRunID(o.logger, runID.String())
	logger.Info("run started")

	r := &run{
		id:       runID,
		recorder: o.recorder(runID),
		runner: stages.NewRunner(stages.RunnerConfig{
			Recorder: o.recorder(runID),
			Spawn:    o.spawn,
			Now:      o.now,
			Logger:   logger,
		}),
		workflow: o.workflow,
		now:      o.now,
		markParallel: func(ids []domain.StepID) {
			if err := o.send(message{kind: msgParallel, runID: runID, members: ids}); err != nil {
				logger.Warn("parallel marker lost", "error", err)
			}
		},
	}

	output, runErr := r.execute(ctx, in)

	var failedStep domain.StepID
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
		var fatal *stages.FatalStageError
		if errors.As(runErr, &fatal) && len(fatal.Steps) > 0 {
			failedStep = fatal.Steps[0]
		}
	}

	snapshot := make(chan domain.PipelineState, 1)
	if err := o.send(message{
		kind:       msgFinish,
		runID:      runID,
		failedStep: failedStep,
		errMsg:     errMsg,
		snapshot:   snapshot,
	}); err != nil {
		return domain.PipelineResult{}, err
	}

	var state domain.PipelineState
	select {
	case state = <-snapshot:
	case <-o.done:
		return domain.PipelineResult{}, ErrOrchestratorStopped
	}

	result := domain.PipelineResult{
		RunID:      runID,
		Success:    runErr == nil,
		Output:     output,
		Error:      errMsg,
		FailedStep: failedStep,
		Steps:      state.Steps,
	}
	if state.StartTime != nil {
		result.StartTime = *state.StartTime
	}
	if state.EndTime != nil {
		result.EndTime = *state.EndTime
	}

	if result.Success {
		telemetry.RunsTotal.WithLabelValues("succeeded").Inc()
		logger.Info("run completed", "duration", result.Duration())
	} else {
		telemetry.RunsTotal.WithLabelValues("failed").Inc()
		logger.Error("run failed",
			"failed_step", failedStep,
			"error", errMsg,
			"duration", result.Duration(),
		)
	}

	o.saveHistory(ctx, &result)

	return result, nil
}

// saveHistory сохраняет run, ошибка только логируется.
func (o *Orchestrator) saveHistory(ctx context.Context, result *domain.PipelineResult) {
	if o.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historySaveTimeout)
	defer cancel()

	if err := o.history.SaveRun(ctx, result); err != nil {
		telemetry.WithRunID(o.logger, result.RunID.String()).Error("failed to save run history", "error", err)
	}
}

// run — один проход workflow.
type run struct {
	id       uuid.UUID
	recorder stages.Recorder
	runner   *stages.Runner
	workflow *workflow
	now      func() time.Time

	// markParallel отмечает участников parallel стадии в состоянии.
	markParallel func(ids []domain.StepID)
}

// execute проходит стадии по порядку и собирает Output.
func (r *run) execute(ctx context.Context, in Input) (json.RawMessage, error) {
	// 1. input-data
	inputPayload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}
	r.record(domain.StepInputData, inputPayload)

	// 2. pseudonymization
	req, _ := json.Marshal(pseudonymizeRequest{Text: in.Text})
	outcome, err := r.runner.Run(ctx, r.workflow.pseudonymize, req)
	if err != nil {
		return nil, err
	}
	pseudo, err := decodePseudonymized(outcome.Payload)
	if err != nil {
		return nil, r.fatal(domain.StepPseudonymization, err)
	}

	// 3. intelligence-augmentation
	req, _ = json.Marshal(pseudonymizeRequest{Text: pseudo.PseudonymizedText})
	outcome, err = r.runner.Run(ctx, r.workflow.augment, req)
	if err != nil {
		return nil, err
	}
	var intelligence json.RawMessage
	if !outcome.Degraded && !isAbsent(outcome.Payload) {
		intelligence = outcome.Payload
	}

	// 4. analysis-a / analysis-b
	req, _ = json.Marshal(analysisRequest{Text: pseudo.PseudonymizedText, Intelligence: intelligence})
	r.markParallel(r.workflow.analysis.StepIDs())
	outcome, err = r.runner.Run(ctx, r.workflow.analysis, req)
	if err != nil {
		return nil, err
	}
	backend := outcome.Source
	analysis, err := decodeAnalysis(outcome.Payload)
	if err != nil {
		return nil, r.fatal(backend, err)
	}

	// 5. validation-system
	req, _ = json.Marshal(validationRequest{Text: pseudo.PseudonymizedText, Analysis: analysis.Analysis})
	outcome, err = r.runner.Run(ctx, r.workflow.validate, req)
	if err != nil {
		return nil, err
	}
	validation := outcome.Payload

	// 6. learning-feedback
	req, _ = json.Marshal(feedbackRequest{
		Analysis:   analysis.Analysis,
		Validation: validation,
		Backend:    string(backend),
	})
	if _, err := r.runner.Run(ctx, r.workflow.feedback, req); err != nil {
		return nil, err
	}

	// 7. restoration
	req, _ = json.Marshal(restorationRequest{Text: analysis.Analysis, Token: pseudo.Token})
	outcome, err = r.runner.Run(ctx, r.workflow.restore, req)
	if err != nil {
		return nil, err
	}
	restored, err := decodeRestored(outcome.Payload)
	if err != nil {
		return nil, r.fatal(domain.StepRestoration, err)
	}

	// 8. output-data
	output, err := json.Marshal(Output{
		RestoredText:    restored.RestoredText,
		Validation:      validation,
		AnalysisBackend: string(backend),
	})
	if err != nil {
		return nil, r.fatal(domain.StepOutputData, fmt.Errorf("marshal output: %w", err))
	}
	r.record(domain.StepOutputData, output)

	return output, nil
}

// record пишет шаг, который выполняется мгновенно.
func (r *run) record(id domain.StepID, payload json.RawMessage) {
	now := r.now()
	r.recorder.Transition(id, domain.StepResult{
		Status:     domain.StepStatusSuccess,
		Payload:    payload,
		StartedAt:  &now,
		FinishedAt: &now,
	})
}

// fatal оборачивает ошибку шага, который уже завершился, в FatalStageError.
func (r *run) fatal(id domain.StepID, err error) error {
	return &stages.FatalStageError{Steps: []domain.StepID{id}, Err: err}
}
