package inference

import "fmt"

// TaskKind classifies what a model does. It decides which runner methods make
// sense for a model and how prompts are fed to the engine.
type TaskKind uint8

const (
	// TaskUnknown is the zero value; models never store it.
	TaskUnknown TaskKind = iota
	// TaskTextGeneration marks causal (decoder-only) language models.
	TaskTextGeneration
	// TaskText2TextGeneration marks sequence-to-sequence models.
	TaskText2TextGeneration
)

// String implements Stringer.String for TaskKind.
func (t TaskKind) String() string {
	switch t {
	case TaskTextGeneration:
		return "text-generation"
	case TaskText2TextGeneration:
		return "text2text-generation"
	default:
		return "unknown"
	}
}

// ParseTaskKind parses the string form produced by String.
func ParseTaskKind(s string) (TaskKind, error) {
	switch s {
	case "text-generation":
		return TaskTextGeneration, nil
	case "text2text-generation":
		return TaskText2TextGeneration, nil
	default:
		return TaskUnknown, fmt.Errorf("unknown task kind %q", s)
	}
}
