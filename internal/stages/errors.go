package stages

import (
	"errors"
	"fmt"

	"github.com/shaiso/Veil/internal/domain"
)

// Ошибки валидации определений стадий.
var (
	// ErrEmptyStages — workflow не содержит стадий.
	ErrEmptyStages = errors.New("workflow has no stages")

	// ErrEmptyStageID — стадия или участник без ID.
	ErrEmptyStageID = errors.New("stage has empty ID")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrUnknownStageKind — неизвестный тип стадии.
	ErrUnknownStageKind = errors.New("unknown stage kind")

	// ErrMissingOperation — у стадии нет операции.
	ErrMissingOperation = errors.New("stage has no operation")

	// ErrTooFewMembers — parallel стадия с менее чем двумя участниками.
	ErrTooFewMembers = errors.New("parallel stage needs at least two members")

	// ErrInvalidPrecedence — precedence не совпадает с набором участников.
	ErrInvalidPrecedence = errors.New("precedence must list every member exactly once")

	// ErrMissingStage — в workflow нет стадии для обязательного шага.
	ErrMissingStage = errors.New("workflow step has no stage definition")
)

// ErrAllMembersFailed — все участники parallel стадии упали.
var ErrAllMembersFailed = errors.New("all parallel members failed")

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	StageID domain.StepID // стадия, где произошла ошибка
	Message string        // описание ошибки
	Err     error         // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.StageID != "" {
		return "stage " + string(e.StageID) + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// FatalStageError — ошибка стадии, прерывающая run.
type FatalStageError struct {
	// Steps — шаги, переведённые в error (для parallel — все участники).
	Steps []domain.StepID
	Err   error
}

// Error реализует интерфейс error.
func (e *FatalStageError) Error() string {
	return fmt.Sprintf("stage %v failed: %v", e.Steps, e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *FatalStageError) Unwrap() error {
	return e.Err
}

// DegradedStageError — ошибка optional стадии, поглощённая локально.
type DegradedStageError struct {
	Step domain.StepID
	Err  error
}

// Error реализует интерфейс error.
func (e *DegradedStageError) Error() string {
	return fmt.Sprintf("optional stage %s degraded: %v", e.Step, e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *DegradedStageError) Unwrap() error {
	return e.Err
}

// BackgroundError — ошибка background стадии, только для лога.
type BackgroundError struct {
	Step domain.StepID
	Err  error
}

// Error реализует интерфейс error.
func (e *BackgroundError) Error() string {
	return fmt.Sprintf("background stage %s failed: %v", e.Step, e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *BackgroundError) Unwrap() error {
	return e.Err
}

// IsFatal проверяет, прерывает ли ошибка run.
func IsFatal(err error) bool {
	var fatal *FatalStageError
	return errors.As(err, &fatal)
}
