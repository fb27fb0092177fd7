package service

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cellbox-dev/cellbox/internal/domain/cell"
)

// blueprintFileName is looked up in the root of a cell's source tree.
// Distinct from the control-plane config file name so a cell sourced
// from a directory holding a server config never parses it as a
// blueprint.
const blueprintFileName = "cell.yaml"

type blueprintFile struct {
	Services []struct {
		Name    string            `yaml:"name"`
		Kind    string            `yaml:"kind"`
		Command []string          `yaml:"command"`
		Image   string            `yaml:"image"`
		Dir     string            `yaml:"dir"`
		Env     map[string]string `yaml:"env"`
		Port    struct {
			Name      string `yaml:"name"`
			Preferred uint16 `yaml:"preferred"`
			EnvVar    string `yaml:"env_var"`
		} `yaml:"port"`
	} `yaml:"services"`
	Setup [][]string `yaml:"setup"`
}

// LoadBlueprint reads the blueprint from a source directory. A missing
// blueprint file is not an error: the cell then gets a bare workspace
// with no services and no setup commands.
func LoadBlueprint(sourceDir string) (cell.Blueprint, error) {
	bp := cell.Blueprint{Source: sourceDir}
	if sourceDir == "" {
		return bp, nil
	}

	data, err := os.ReadFile(filepath.Join(sourceDir, blueprintFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return bp, nil
	}
	if err != nil {
		return bp, fmt.Errorf("read blueprint: %w", err)
	}

	var file blueprintFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return bp, fmt.Errorf("parse blueprint: %w", err)
	}

	for _, s := range file.Services {
		if s.Name == "" {
			return bp, fmt.Errorf("parse blueprint: service without a name")
		}
		kind := cell.ServiceKind(s.Kind)
		if kind == "" {
			kind = cell.KindProcess
		}
		switch kind {
		case cell.KindProcess, cell.KindContainer, cell.KindCompose:
		default:
			return bp, fmt.Errorf("parse blueprint: service %q: unknown kind %q", s.Name, s.Kind)
		}
		bp.Services = append(bp.Services, cell.ServiceSpec{
			Name:    s.Name,
			Kind:    kind,
			Command: s.Command,
			Image:   s.Image,
			Dir:     s.Dir,
			Env:     s.Env,
			Port: cell.PortRequest{
				Name:      s.Port.Name,
				Preferred: s.Port.Preferred,
				EnvVar:    s.Port.EnvVar,
			},
		})
	}
	bp.Setup = file.Setup
	return bp, nil
}
