package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/stevedore-io/stevedore/pkg/resource"
)

// Format identifies a manifest source syntax.
type Format string

const (
	// FormatYAML is a plain YAML document, schema-checked through CUE.
	FormatYAML Format = "yaml"

	// FormatCUE is a CUE document unified with the manifest schema.
	FormatCUE Format = "cue"

	// FormatStarlark is a Starlark script driving the manifest builders.
	FormatStarlark Format = "starlark"
)

// Validate checks if the format is supported.
func (f Format) Validate() error {
	switch f {
	case FormatYAML, FormatCUE, FormatStarlark:
		return nil
	default:
		return fmt.Errorf("invalid manifest format: %s", f)
	}
}

// DetectFormat infers the manifest format from a file extension.
func DetectFormat(path string) (Format, error) {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	case ".star":
		return FormatStarlark, nil
	default:
		return "", fmt.Errorf("cannot detect manifest format of %s", path)
	}
}

// document is the decoded form of one manifest. Containers reference
// images, volumes, networks, and each other by name; resolution to ids
// happens after all documents are merged.
type document struct {
	Set        string                           `json:"set" yaml:"set"`
	Images     map[string]*resource.ImageSpec   `json:"images,omitempty" yaml:"images,omitempty"`
	Volumes    map[string]*resource.VolumeSpec  `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	Networks   map[string]*resource.NetworkSpec `json:"networks,omitempty" yaml:"networks,omitempty"`
	Containers map[string]*containerDecl        `json:"containers,omitempty" yaml:"containers,omitempty"`
}

// empty reports whether the document declares nothing at all. Empty
// documents come from blank sections of multi-document YAML streams and
// are skipped.
func (d *document) empty() bool {
	return d.Set == "" && len(d.Images) == 0 && len(d.Volumes) == 0 &&
		len(d.Networks) == 0 && len(d.Containers) == 0
}

// containerDecl mirrors resource.ContainerSpec with dependencies declared
// by name instead of id.
type containerDecl struct {
	Image         string                 `json:"image" yaml:"image"`
	Command       []string               `json:"command,omitempty" yaml:"command,omitempty"`
	Env           []string               `json:"env,omitempty" yaml:"env,omitempty"`
	Hostname      string                 `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	RestartPolicy resource.RestartPolicy `json:"restart_policy,omitempty" yaml:"restart_policy,omitempty"`
	RunState      resource.RunState      `json:"run_state,omitempty" yaml:"run_state,omitempty"`
	Privileged    bool                   `json:"privileged,omitempty" yaml:"privileged,omitempty"`
	NetworkMode   string                 `json:"network_mode,omitempty" yaml:"network_mode,omitempty"`
	Networks      []string               `json:"networks,omitempty" yaml:"networks,omitempty"`
	Mounts        []mountDecl            `json:"mounts,omitempty" yaml:"mounts,omitempty"`
	Binds         []string               `json:"binds,omitempty" yaml:"binds,omitempty"`
	Ports         []resource.PortBinding `json:"ports,omitempty" yaml:"ports,omitempty"`
	ExtraHosts    []string               `json:"extra_hosts,omitempty" yaml:"extra_hosts,omitempty"`
	CapAdd        []string               `json:"cap_add,omitempty" yaml:"cap_add,omitempty"`
	CapDrop       []string               `json:"cap_drop,omitempty" yaml:"cap_drop,omitempty"`
	MemoryLimit   int64                  `json:"memory_limit,omitempty" yaml:"memory_limit,omitempty"`
	CPUQuota      int64                  `json:"cpu_quota,omitempty" yaml:"cpu_quota,omitempty"`
	Labels        map[string]string      `json:"labels,omitempty" yaml:"labels,omitempty"`
	DependsOn     []string               `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// mountDecl mirrors resource.Mount with the volume referenced by name.
type mountDecl struct {
	Volume   string `json:"volume" yaml:"volume"`
	Target   string `json:"target" yaml:"target"`
	ReadOnly bool   `json:"read_only,omitempty" yaml:"read_only,omitempty"`
}

// Parser parses manifests in any supported format and resolves them into
// resource nodes.
type Parser struct {
	ctx         *cue.Context
	schema      cue.Value
	evalTimeout time.Duration
}

// NewParser creates a parser with the embedded manifest schema compiled.
func NewParser() *Parser {
	ctx := cuecontext.New()
	schema := ctx.CompileString(manifestSchema, cue.Filename("manifest-schema.cue")).
		LookupPath(cue.ParsePath("#Manifest"))
	return &Parser{
		ctx:         ctx,
		schema:      schema,
		evalTimeout: defaultEvalTimeout,
	}
}

// Parse parses manifest bytes in the given format and resolves them into
// resource nodes.
func (p *Parser) Parse(data []byte, format Format) ([]resource.Node, error) {
	docs, err := p.parseDocuments(data, format, "manifest")
	if err != nil {
		return nil, err
	}
	return resolve(docs)
}

// Load loads manifests from a single file or directory path.
func (p *Parser) Load(path string) ([]resource.Node, error) {
	return p.LoadAll([]string{path}, "")
}

// LoadAll loads every manifest under the given paths and resolves them
// into one node set. A non-empty format restricts loading to that format;
// otherwise each file's format is inferred from its extension.
func (p *Parser) LoadAll(paths []string, format Format) ([]resource.Node, error) {
	if format != "" {
		if err := format.Validate(); err != nil {
			return nil, err
		}
	}

	files, err := collectFiles(paths, format)
	if err != nil {
		return nil, err
	}

	var docs []*document
	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		parsed, err := p.parseDocuments(data, f.format, f.path)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", f.path, err)
		}
		docs = append(docs, parsed...)
	}
	return resolve(docs)
}

// Parse parses manifest bytes in the given format.
func Parse(data []byte, format Format) ([]resource.Node, error) {
	return NewParser().Parse(data, format)
}

// Load loads manifests from a file or directory path.
func Load(path string) ([]resource.Node, error) {
	return NewParser().Load(path)
}

// parseDocuments decodes manifest bytes into documents. Every document is
// schema-checked before it is returned.
func (p *Parser) parseDocuments(data []byte, format Format, filename string) ([]*document, error) {
	switch format {
	case FormatYAML:
		return p.parseYAML(data)
	case FormatCUE:
		doc, err := p.parseCUE(data, filename)
		if err != nil {
			return nil, err
		}
		return []*document{doc}, nil
	case FormatStarlark:
		doc, err := p.evalScript(data, filename)
		if err != nil {
			return nil, err
		}
		if err := p.validateDocument(doc); err != nil {
			return nil, err
		}
		return []*document{doc}, nil
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", format)
	}
}

// parseYAML decodes a YAML stream of one or more documents. The decoder
// rejects unknown fields; value constraints come from unifying each
// document with the schema.
func (p *Parser) parseYAML(data []byte) ([]*document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var docs []*document
	for {
		var doc document
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
		if doc.empty() {
			continue
		}
		if err := p.validateDocument(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}

// manifestFile is one discovered manifest file with its resolved format.
type manifestFile struct {
	path   string
	format Format
}

// collectFiles expands the configured paths into concrete manifest files.
// Directories are walked recursively and files without a recognized
// manifest extension are skipped; explicit file paths must be
// recognizable.
func collectFiles(paths []string, forced Format) ([]manifestFile, error) {
	var files []manifestFile

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat manifest path: %w", err)
		}

		if !info.IsDir() {
			format := forced
			if format == "" {
				if format, err = DetectFormat(path); err != nil {
					return nil, err
				}
			}
			files = append(files, manifestFile{path: path, format: format})
			continue
		}

		err = filepath.WalkDir(path, func(entry string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			format, derr := DetectFormat(entry)
			if derr != nil {
				return nil
			}
			if forced != "" && format != forced {
				return nil
			}
			files = append(files, manifestFile{path: entry, format: format})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk manifest directory %s: %w", path, err)
		}
	}

	return files, nil
}
