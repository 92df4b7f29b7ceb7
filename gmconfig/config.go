// Package gmconfig holds the TOML-backed preferences the assembler and
// controller consume from an external collaborator, split across two
// tiers: Global carries the app-wide settings persisted once per user
// (default serial port, I/O loop timing), and Project carries per-project
// settings (library search path, error threshold) plus optional overrides
// of the global tier.
package gmconfig

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Global is the application-wide preferences tier: the serial port to
// offer by default and the I/O loop's timing, shared by every project.
type Global struct {
	DefaultPort    string `toml:"default_port"`
	PollIntervalMS int    `toml:"poll_interval_ms"`
	ReadTimeoutMS  int    `toml:"read_timeout_ms"`
}

// DefaultGlobal returns a Global populated with the defaults the
// controller falls back to when no config file is present.
func DefaultGlobal() *Global {
	return &Global{
		DefaultPort:    "",
		PollIntervalMS: 200,
		ReadTimeoutMS:  50,
	}
}

// LoadGlobal reads and parses a TOML global-preferences file at path,
// filling in any fields TOML left zero with DefaultGlobal()'s values.
func LoadGlobal(path string) (*Global, error) {
	g := &Global{}
	if _, err := toml.DecodeFile(path, g); err != nil {
		return nil, err
	}
	d := DefaultGlobal()
	if g.PollIntervalMS == 0 {
		g.PollIntervalMS = d.PollIntervalMS
	}
	if g.ReadTimeoutMS == 0 {
		g.ReadTimeoutMS = d.ReadTimeoutMS
	}
	return g, nil
}

// Save writes g to path as TOML, creating or truncating the file.
func (g *Global) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(g)
}

// Project is one project's persisted preferences: the library search
// path (with {project}/{userlib}/{stdlib} tokens) and the assembler's
// error threshold. The port and timing fields are optional per-project
// overrides of the Global tier; zero means "use the global value" (see
// Effective).
type Project struct {
	LibraryPath    []string `toml:"library_path"`
	ErrorThreshold int      `toml:"error_threshold"`
	DefaultPort    string   `toml:"default_port"`
	PollIntervalMS int      `toml:"poll_interval_ms"`
	ReadTimeoutMS  int      `toml:"read_timeout_ms"`
}

// DefaultProject returns the per-project defaults with no global tier
// applied; resolve against a Global with Effective.
func DefaultProject() *Project {
	return &Project{
		LibraryPath:    []string{"{project}", "{stdlib}"},
		ErrorThreshold: 100,
	}
}

// Default returns a fully-populated Project: DefaultProject() with
// DefaultGlobal()'s values already applied. Callers that manage the two
// tiers separately should use Effective instead.
func Default() *Project {
	return DefaultProject().Effective(DefaultGlobal())
}

// Load reads and parses a TOML project file at path, filling in any
// per-project fields TOML left zero with DefaultProject()'s values. The
// override fields (port, timing) are left as-is; resolve them against a
// Global with Effective.
func Load(path string) (*Project, error) {
	p := &Project{}
	if _, err := toml.DecodeFile(path, p); err != nil {
		return nil, err
	}
	d := DefaultProject()
	if len(p.LibraryPath) == 0 {
		p.LibraryPath = d.LibraryPath
	}
	if p.ErrorThreshold == 0 {
		p.ErrorThreshold = d.ErrorThreshold
	}
	return p, nil
}

// Save writes p to path as TOML, creating or truncating the file.
func (p *Project) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(p)
}

// Effective returns the settings in force for one run: g's app-wide
// values with p's non-zero overrides applied on top. A nil g stands for
// DefaultGlobal().
func (p *Project) Effective(g *Global) *Project {
	if g == nil {
		g = DefaultGlobal()
	}
	out := *p
	if out.DefaultPort == "" {
		out.DefaultPort = g.DefaultPort
	}
	if out.PollIntervalMS == 0 {
		out.PollIntervalMS = g.PollIntervalMS
	}
	if out.ReadTimeoutMS == 0 {
		out.ReadTimeoutMS = g.ReadTimeoutMS
	}
	return &out
}
