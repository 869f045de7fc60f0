// Package backend turns configured agent CLI templates into runnable
// commands. Each backend is declared in configuration; nothing here knows a
// specific CLI's syntax beyond what the template states.
package backend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/CarpseDeam/Claude-Conductor/internal/config"
)

// Backend is one configured agent CLI.
type Backend struct {
	Kind string
	conf config.BackendConf
}

// Registry resolves agent kinds to their configured backends.
type Registry struct {
	backends map[string]*Backend
}

func NewRegistry(confs map[string]config.BackendConf) *Registry {
	r := &Registry{backends: make(map[string]*Backend, len(confs))}
	for kind, conf := range confs {
		r.backends[kind] = &Backend{Kind: kind, conf: conf}
	}
	return r
}

// Lookup returns the backend for kind. Unknown kinds list the configured
// alternatives in the error so a typo is immediately diagnosable.
func (r *Registry) Lookup(kind string) (*Backend, error) {
	b, ok := r.backends[kind]
	if !ok {
		return nil, fmt.Errorf("unknown agent kind %q (configured: %s)",
			kind, strings.Join(r.Kinds(), ", "))
	}
	return b, nil
}

// Kinds returns the configured agent kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.backends))
	for k := range r.backends {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func (b *Backend) Title() string        { return b.conf.Title }
func (b *Backend) UsesStdin() bool      { return b.conf.UsesStdin }
func (b *Backend) DefaultModel() string { return b.conf.DefaultModel }
func (b *Backend) Models() []string     { return b.conf.Models }

// ResolveModel validates an explicit model choice against the backend's
// model list, or picks the default when none was requested.
func (b *Backend) ResolveModel(model string) (string, error) {
	if model == "" {
		return b.conf.DefaultModel, nil
	}
	if len(b.conf.Models) == 0 {
		return model, nil
	}
	for _, m := range b.conf.Models {
		if m == model {
			return model, nil
		}
	}
	return "", fmt.Errorf("model %q not available for %s (choose from: %s)",
		model, b.Kind, strings.Join(b.conf.Models, ", "))
}

// BuildOptions parameterize one invocation of the backend.
type BuildOptions struct {
	Prompt          string
	Model           string
	ResumeSessionID string
	AdditionalDirs  []string
}

// Command is a ready-to-spawn invocation: argv plus the prompt routed either
// through stdin or as the final argument, per the backend's template.
type Command struct {
	Args  []string
	Stdin string
}

// BuildCommand assembles the argv for one run from the template.
func (b *Backend) BuildCommand(opts BuildOptions) (Command, error) {
	if len(b.conf.Command) == 0 {
		return Command{}, fmt.Errorf("backend %s has no command template", b.Kind)
	}

	args := make([]string, len(b.conf.Command))
	copy(args, b.conf.Command)

	if opts.ResumeSessionID != "" && b.conf.ResumeFlag != "" {
		args = append(args, b.conf.ResumeFlag, opts.ResumeSessionID)
	}
	if opts.Model != "" && b.conf.ModelFlag != "" {
		args = append(args, b.conf.ModelFlag, opts.Model)
	}
	if len(opts.AdditionalDirs) > 0 && b.conf.AddDirFlag != "" {
		for _, d := range opts.AdditionalDirs {
			args = append(args, b.conf.AddDirFlag, d)
		}
	}

	cmd := Command{Args: args}
	if b.conf.UsesStdin {
		cmd.Stdin = opts.Prompt
	} else {
		cmd.Args = append(cmd.Args, opts.Prompt)
	}
	return cmd, nil
}
