package stages

import (
	"context"
	"encoding/json"

	"github.com/shaiso/Veil/internal/domain"
)

// Operation — удалённая операция стадии: вход → выход.
//
// Операция не знает о статусах шагов; ошибку классифицирует стадия.
type Operation func(ctx context.Context, in json.RawMessage) (json.RawMessage, error)

// Recorder принимает переходы шагов.
//
// Реализация должна быть безопасна для вызова из нескольких горутин:
// участники parallel и background стадии сообщают о завершении сами.
type Recorder interface {
	Transition(id domain.StepID, result domain.StepResult)
}

// RecorderFunc — адаптер функции к Recorder.
type RecorderFunc func(id domain.StepID, result domain.StepResult)

// Transition реализует Recorder.
func (f RecorderFunc) Transition(id domain.StepID, result domain.StepResult) {
	f(id, result)
}

// Member — участник parallel стадии.
type Member struct {
	ID     domain.StepID
	Invoke Operation
}

// Definition — описание стадии workflow. Фиксируется при построении workflow.
//
// Политика ошибок определяется только Kind: sequential и parallel (все
// участники упали) прерывают run, optional и background — нет.
type Definition struct {
	// ID — идентификатор стадии; для не-parallel совпадает с ID шага.
	ID domain.StepID

	// Kind — тип стадии.
	Kind domain.StageKind

	// Invoke — операция (для sequential/optional/background).
	Invoke Operation

	// Members — участники (только parallel).
	Members []Member

	// Precedence — порядок предпочтения успешных участников (только parallel).
	// Пустой — порядок Members.
	Precedence []domain.StepID
}

// StepIDs возвращает шаги, которые стадия пишет в состояние.
func (d Definition) StepIDs() []domain.StepID {
	if d.Kind != domain.StageKindParallel {
		return []domain.StepID{d.ID}
	}
	ids := make([]domain.StepID, len(d.Members))
	for i, m := range d.Members {
		ids[i] = m.ID
	}
	return ids
}

// precedence возвращает порядок выбора результата.
func (d Definition) precedence() []domain.StepID {
	if len(d.Precedence) > 0 {
		return d.Precedence
	}
	return d.StepIDs()
}

// Sequential создаёт sequential стадию.
func Sequential(id domain.StepID, op Operation) Definition {
	return Definition{ID: id, Kind: domain.StageKindSequential, Invoke: op}
}

// Optional создаёт optional стадию.
func Optional(id domain.StepID, op Operation) Definition {
	return Definition{ID: id, Kind: domain.StageKindOptional, Invoke: op}
}

// Background создаёт background стадию.
func Background(id domain.StepID, op Operation) Definition {
	return Definition{ID: id, Kind: domain.StageKindBackground, Invoke: op}
}

// Parallel создаёт parallel стадию.
func Parallel(id domain.StepID, precedence []domain.StepID, members ...Member) Definition {
	return Definition{
		ID:         id,
		Kind:       domain.StageKindParallel,
		Members:    members,
		Precedence: precedence,
	}
}

// Outcome — результат стадии для следующих стадий.
type Outcome struct {
	// Payload — выход стадии; nil для деградировавшей optional и для background.
	Payload json.RawMessage

	// Source — шаг, чей результат выбран (для parallel — участник по precedence).
	Source domain.StepID

	// Degraded — optional стадия упала, выход отсутствует.
	Degraded bool

	// Detached — стадия продолжает работу в фоне.
	Detached bool
}
