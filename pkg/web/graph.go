package web

import "fmt"

// validateStageGraph rejects pipelines the engine could never run: duplicate
// refIds, requisites pointing nowhere, cyclic dependencies, or no entry
// point.
func validateStageGraph(stages []StageDefinitionInput) error {
	byRef := make(map[string]StageDefinitionInput, len(stages))

	for _, stage := range stages {
		if _, exists := byRef[stage.RefID]; exists {
			return fmt.Errorf("duplicate stage refId %q", stage.RefID)
		}

		byRef[stage.RefID] = stage
	}

	roots := 0

	for _, stage := range stages {
		if len(stage.RequisiteStageRefIDs) == 0 {
			roots++
		}

		for _, requisite := range stage.RequisiteStageRefIDs {
			if _, exists := byRef[requisite]; !exists {
				return fmt.Errorf("stage %q depends on unknown stage %q", stage.RefID, requisite)
			}
		}
	}

	if roots == 0 {
		return fmt.Errorf("pipeline has no initial stage, every stage has requisites")
	}

	const (
		visiting = 1
		done     = 2
	)

	state := make(map[string]int, len(stages))

	var visit func(refID string) error

	visit = func(refID string) error {
		switch state[refID] {
		case visiting:
			return fmt.Errorf("stage dependency cycle involving %q", refID)
		case done:
			return nil
		}

		state[refID] = visiting

		for _, requisite := range byRef[refID].RequisiteStageRefIDs {
			if err := visit(requisite); err != nil {
				return err
			}
		}

		state[refID] = done

		return nil
	}

	for _, stage := range stages {
		if err := visit(stage.RefID); err != nil {
			return err
		}
	}

	return nil
}
