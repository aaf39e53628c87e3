package stages

import (
	"fmt"

	"github.com/shaiso/Veil/internal/domain"
)

// Validate проверяет набор стадий workflow.
//
// Проверяет:
// - Наличие стадий
// - Уникальность ID шагов (включая участников parallel)
// - Корректность типа стадии
// - Наличие операций
// - Parallel: ≥2 участника, precedence — перестановка участников
// - Каждый шаг из required покрыт стадией
func Validate(defs []Definition, required ...domain.StepID) error {
	if len(defs) == 0 {
		return ErrEmptyStages
	}

	stepIDs := make(map[domain.StepID]bool)

	for i := range defs {
		if err := validateDefinition(&defs[i], stepIDs); err != nil {
			return err
		}
	}

	for _, id := range required {
		if !stepIDs[id] {
			return &ValidationError{
				StageID: id,
				Message: "no stage definition for workflow step",
				Err:     ErrMissingStage,
			}
		}
	}

	return nil
}

// validateDefinition валидирует одну стадию.
func validateDefinition(def *Definition, stepIDs map[domain.StepID]bool) error {
	if def.ID == "" {
		return &ValidationError{Message: "stage has empty ID", Err: ErrEmptyStageID}
	}

	if !def.Kind.IsValid() {
		return &ValidationError{
			StageID: def.ID,
			Message: fmt.Sprintf("unknown stage kind: %q", def.Kind),
			Err:     ErrUnknownStageKind,
		}
	}

	if def.Kind != domain.StageKindParallel {
		if def.Invoke == nil {
			return &ValidationError{StageID: def.ID, Message: "stage has no operation", Err: ErrMissingOperation}
		}
		return claim(def.ID, def.ID, stepIDs)
	}

	if len(def.Members) < 2 {
		return &ValidationError{
			StageID: def.ID,
			Message: fmt.Sprintf("parallel stage has %d members", len(def.Members)),
			Err:     ErrTooFewMembers,
		}
	}

	members := make(map[domain.StepID]bool, len(def.Members))
	for _, m := range def.Members {
		if m.ID == "" {
			return &ValidationError{StageID: def.ID, Message: "member has empty ID", Err: ErrEmptyStageID}
		}
		if m.Invoke == nil {
			return &ValidationError{StageID: m.ID, Message: "member has no operation", Err: ErrMissingOperation}
		}
		if err := claim(def.ID, m.ID, stepIDs); err != nil {
			return err
		}
		members[m.ID] = true
	}

	if len(def.Precedence) > 0 {
		if len(def.Precedence) != len(members) {
			return &ValidationError{StageID: def.ID, Message: "precedence length mismatch", Err: ErrInvalidPrecedence}
		}
		seen := make(map[domain.StepID]bool, len(def.Precedence))
		for _, id := range def.Precedence {
			if !members[id] || seen[id] {
				return &ValidationError{
					StageID: def.ID,
					Message: fmt.Sprintf("precedence entry %q is not a unique member", id),
					Err:     ErrInvalidPrecedence,
				}
			}
			seen[id] = true
		}
	}

	return nil
}

// claim регистрирует ID шага, проверяя уникальность.
func claim(stageID, stepID domain.StepID, stepIDs map[domain.StepID]bool) error {
	if stepIDs[stepID] {
		return &ValidationError{
			StageID: stageID,
			Message: fmt.Sprintf("duplicate step ID: %s", stepID),
			Err:     ErrDuplicateStepID,
		}
	}
	stepIDs[stepID] = true
	return nil
}
