package timeline

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/uprootiny/manicctl/internal/util"
)

// Script is a sequence of nudge prompts.
type Script struct {
	Name  string        `yaml:"name"`
	Pause util.Duration `yaml:"pause"`
	Steps []string      `yaml:"steps"`
}

// DefaultScriptPause is used when a script does not set one.
const DefaultScriptPause = 2 * time.Second

// ParseScript decodes a YAML nudge script. Blank steps are dropped.
func ParseScript(data []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("parse script: %w", err)
	}
	steps := s.Steps[:0]
	for _, st := range s.Steps {
		if st = strings.TrimSpace(st); st != "" {
			steps = append(steps, st)
		}
	}
	s.Steps = steps
	if len(s.Steps) == 0 {
		return Script{}, errors.New("parse script: no steps")
	}
	if s.Pause.Duration <= 0 {
		s.Pause = util.D(DefaultScriptPause)
	}
	return s, nil
}

// LoadScript reads and parses a YAML nudge script from path.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, err
	}
	return ParseScript(data)
}
