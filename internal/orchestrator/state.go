package orchestrator

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Veil/internal/domain"
)

// runState — состояние pipeline, которым владеет state loop.
//
// Методы не потокобезопасны: их вызывает только loop под o.mu.
type runState struct {
	state *domain.PipelineState

	// background — шаги background стадий; после завершения run
	// они могут оставаться в processing.
	background map[domain.StepID]bool
}

// newRunState создаёт пустое состояние.
func newRunState(background map[domain.StepID]bool) *runState {
	return &runState{
		state:      domain.NewPipelineState(),
		background: background,
	}
}

// begin начинает новый run. Возвращает false, если run уже идёт.
func (s *runState) begin(runID uuid.UUID, now time.Time) bool {
	if s.state.IsRunning {
		return false
	}

	fresh := domain.NewPipelineState()
	fresh.RunID = runID
	fresh.IsRunning = true
	fresh.StartTime = &now
	s.state = fresh

	return true
}

// apply применяет переход шага. Возвращает false для переходов чужого run.
func (s *runState) apply(runID uuid.UUID, id domain.StepID, result domain.StepResult) bool {
	if runID != s.state.RunID || runID == uuid.Nil {
		return false
	}

	// Терминальный статус не откатывается назад в processing.
	if prev, ok := s.state.Steps[id]; ok && prev.Status.IsTerminal() && !result.Status.IsTerminal() {
		return false
	}

	s.state.Steps[id] = result

	switch {
	case result.Status == domain.StepStatusProcessing:
		s.state.CurrentStep = id
	case result.Status.IsTerminal():
		delete(s.state.ParallelSteps, id)
	}

	return true
}

// markParallel отмечает участников parallel стадии как выполняющихся.
func (s *runState) markParallel(runID uuid.UUID, ids []domain.StepID) {
	if runID != s.state.RunID {
		return
	}
	for _, id := range ids {
		s.state.ParallelSteps[id] = true
	}
}

// finish завершает run. endTime выставляется ровно один раз.
//
// Возвращает шаги, принудительно переведённые в error: ни один не-background
// шаг не должен остаться в processing после фатального прерывания.
func (s *runState) finish(runID uuid.UUID, failedStep domain.StepID, errMsg string, now time.Time) []domain.StepID {
	if runID != s.state.RunID || !s.state.IsRunning {
		return nil
	}

	s.state.IsRunning = false
	if s.state.EndTime == nil {
		s.state.EndTime = &now
	}
	s.state.Error = errMsg

	var resolved []domain.StepID

	if errMsg != "" {
		for id, res := range s.state.Steps {
			if res.Status != domain.StepStatusProcessing || s.background[id] {
				continue
			}
			res.Status = domain.StepStatusError
			res.Error = errMsg
			res.FinishedAt = &now
			s.state.Steps[id] = res
			resolved = append(resolved, id)
		}

		if failedStep != "" {
			if res, ok := s.state.Steps[failedStep]; ok && res.Status != domain.StepStatusError {
				res.Status = domain.StepStatusError
				res.Error = errMsg
				res.FinishedAt = &now
				s.state.Steps[failedStep] = res
				resolved = append(resolved, failedStep)
			}
		}
	}

	s.state.ParallelSteps = make(map[domain.StepID]bool)

	return resolved
}

// reset возвращает состояние в пустой вид. Возвращает false, если run идёт.
func (s *runState) reset() bool {
	if s.state.IsRunning {
		return false
	}
	s.state = domain.NewPipelineState()
	return true
}
