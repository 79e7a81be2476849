package manifest

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
)

// manifestSchema is the embedded schema every manifest document must
// satisfy, whatever syntax it was written in. Definitions are closed, so
// unknown fields fail unification.
const manifestSchema = `
#Name: string & =~"^[a-zA-Z0-9][a-zA-Z0-9_.-]*$"

#Manifest: {
	// set names the workload set this document belongs to.
	set: #Name

	images?: {[#Name]: #Image}
	volumes?: {[#Name]: #Volume}
	networks?: {[#Name]: #Network}
	containers?: {[#Name]: #Container}
}

#Image: {
	reference: string & !=""
	auth?: {
		username: string
		password: string
	}
}

#Volume: {
	driver?: string
	options?: {[string]: string}
	labels?: {[string]: string}
}

#Network: {
	driver?: string
	internal?: bool
	enable_ipv6?: bool
	options?: {[string]: string}
	labels?: {[string]: string}
}

#Container: {
	image: #Name
	command?: [...string]
	env?: [...string]
	hostname?: string
	restart_policy?: "no" | "always" | "on-failure" | "unless-stopped"
	run_state?: "running" | "stopped"
	privileged?: bool
	network_mode?: string
	networks?: [...#Name]
	mounts?: [...#Mount]
	binds?: [...string]
	ports?: [...#Port]
	extra_hosts?: [...string]
	cap_add?: [...string]
	cap_drop?: [...string]
	memory_limit?: int & >=0
	cpu_quota?: int & >=0
	labels?: {[string]: string}
	depends_on?: [...#Name]
}

#Mount: {
	volume: #Name
	target: string & =~"^/"
	read_only?: bool
}

#Port: {
	host_ip?: string
	host_port?: int & >=0 & <=65535
	container_port: int & >=1 & <=65535
	protocol?: "tcp" | "udp"
}
`

// SchemaError reports one schema violation in a manifest.
type SchemaError struct {
	// File is the offending file, when position information exists.
	File string

	// Line and Column locate the violation inside File.
	Line   int
	Column int

	// Message describes the violation.
	Message string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	return e.Message
}

// validateDocument checks a decoded document against the manifest schema.
// Decoding alone accepts any well-formed shape; unification adds the
// value constraints: name patterns, enum fields, port ranges.
func (p *Parser) validateDocument(doc *document) error {
	if err := p.schema.Err(); err != nil {
		return fmt.Errorf("manifest schema: %w", err)
	}
	data := p.ctx.Encode(doc)
	if err := data.Err(); err != nil {
		return fmt.Errorf("encode manifest document: %w", err)
	}
	if err := p.schema.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return convertCUEError(err)
	}
	return nil
}

// parseCUE compiles a CUE manifest and unifies it with the schema. The
// unified value decodes straight into a document.
func (p *Parser) parseCUE(data []byte, filename string) (*document, error) {
	if err := p.schema.Err(); err != nil {
		return nil, fmt.Errorf("manifest schema: %w", err)
	}
	val := p.ctx.CompileString(string(data), cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEError(err)
	}

	unified := p.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEError(err)
	}

	var doc document
	if err := unified.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &doc, nil
}

// convertCUEError flattens a CUE error list into joined SchemaErrors.
func convertCUEError(err error) error {
	var errs []error
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		se := &SchemaError{Message: fmt.Sprintf(format, args...)}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			se.File = pos[0].Filename()
			se.Line = pos[0].Line()
			se.Column = pos[0].Column()
		}
		errs = append(errs, se)
	}
	if len(errs) == 0 {
		return err
	}
	return errors.Join(errs...)
}
