// Package shader holds the text-level tooling used to turn WGSL compute
// programs into something a backend can bind: build-flag preprocessing,
// entry point discovery, workgroup memory sizing and SPIR-V compilation.
package shader

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gogpu/naga"
)

// WordSize is the size in bytes of every scalar the kernels use (u32, i32, f32).
const WordSize = 4

// EntryPoint is a @compute function declared in a module.
type EntryPoint struct {
	Name string
	// WorkgroupSize is the resolved x dimension of @workgroup_size, 0 if absent.
	WorkgroupSize int
}

// WorkgroupVar is a var<workgroup> declaration with its size in 32-bit words.
type WorkgroupVar struct {
	Name  string
	Words int
}

// Module is the parsed view of a preprocessed program.
type Module struct {
	Consts        map[string]uint64
	EntryPoints   []EntryPoint
	WorkgroupVars []WorkgroupVar
}

var (
	constRe     = regexp.MustCompile(`const\s+([A-Za-z_]\w*)\s*(?::\s*\w+\s*)?=\s*(\d+)[ui]?\s*;`)
	entryRe     = regexp.MustCompile(`((?:@\w+(?:\s*\([^)]*\))?\s*)+)fn\s+([A-Za-z_]\w*)`)
	wgSizeRe    = regexp.MustCompile(`@workgroup_size\s*\(\s*([A-Za-z_0-9]+)`)
	workgroupRe = regexp.MustCompile(`var<workgroup>\s+([A-Za-z_]\w*)\s*:\s*([^;]+);`)
)

// Preprocess applies OpenCL-style build options to source. Each -DNAME=VALUE
// (or "-D NAME=VALUE") becomes a `const NAME: u32 = VALUEu;` declaration
// prepended to the program. Only unsigned integer values are accepted.
func Preprocess(source, options string) (string, error) {
	fields := strings.Fields(options)
	defines := make(map[string]uint64)
	var order []string

	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if !strings.HasPrefix(f, "-D") {
			return "", fmt.Errorf("unsupported build option %q", f)
		}
		def := strings.TrimPrefix(f, "-D")
		if def == "" {
			if i+1 >= len(fields) {
				return "", fmt.Errorf("build option -D is missing a definition")
			}
			i++
			def = fields[i]
		}
		name, value, ok := strings.Cut(def, "=")
		if !ok || name == "" {
			return "", fmt.Errorf("malformed definition %q, want NAME=VALUE", def)
		}
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return "", fmt.Errorf("definition %s: %w", name, err)
		}
		if _, dup := defines[name]; dup {
			return "", fmt.Errorf("duplicate definition of %s", name)
		}
		defines[name] = v
		order = append(order, name)
	}

	var sb strings.Builder
	for _, name := range order {
		fmt.Fprintf(&sb, "const %s: u32 = %du;\n", name, defines[name])
	}
	sb.WriteString(source)
	return sb.String(), nil
}

// Parse extracts constants, entry points and workgroup variables from a
// preprocessed program. It is not a WGSL validator; CompileSPIRV is.
func Parse(source string) (*Module, error) {
	m := &Module{Consts: make(map[string]uint64)}

	for _, match := range constRe.FindAllStringSubmatch(source, -1) {
		v, err := strconv.ParseUint(match[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("const %s: %w", match[1], err)
		}
		m.Consts[match[1]] = v
	}

	for _, match := range entryRe.FindAllStringSubmatch(source, -1) {
		attrs := match[1]
		if !strings.Contains(attrs, "@compute") {
			continue
		}
		ep := EntryPoint{Name: match[2]}
		if ws := wgSizeRe.FindStringSubmatch(attrs); ws != nil {
			n, err := m.resolve(ws[1])
			if err != nil {
				return nil, fmt.Errorf("entry point %s: workgroup size: %w", ep.Name, err)
			}
			ep.WorkgroupSize = n
		}
		m.EntryPoints = append(m.EntryPoints, ep)
	}

	for _, match := range workgroupRe.FindAllStringSubmatch(source, -1) {
		words, err := m.typeWords(strings.TrimSpace(match[2]))
		if err != nil {
			return nil, fmt.Errorf("var<workgroup> %s: %w", match[1], err)
		}
		m.WorkgroupVars = append(m.WorkgroupVars, WorkgroupVar{Name: match[1], Words: words})
	}

	return m, nil
}

// Var returns the workgroup variable called name.
func (m *Module) Var(name string) (WorkgroupVar, bool) {
	for _, v := range m.WorkgroupVars {
		if v.Name == name {
			return v, true
		}
	}
	return WorkgroupVar{}, false
}

// resolve turns an integer literal or a declared constant into a positive int.
func (m *Module) resolve(tok string) (int, error) {
	tok = strings.TrimSpace(tok)
	if tok != "" && tok[0] >= '0' && tok[0] <= '9' {
		v, err := strconv.ParseUint(strings.TrimRight(tok, "ui"), 10, 32)
		if err != nil {
			return 0, fmt.Errorf("bad size literal %q: %w", tok, err)
		}
		if v == 0 {
			return 0, fmt.Errorf("size must be positive")
		}
		return int(v), nil
	}
	v, ok := m.Consts[tok]
	if !ok {
		return 0, fmt.Errorf("undefined constant %q", tok)
	}
	if v == 0 {
		return 0, fmt.Errorf("constant %s must be positive", tok)
	}
	return int(v), nil
}

// typeWords sizes scalar and (nested) fixed array types in 32-bit words.
func (m *Module) typeWords(t string) (int, error) {
	switch t {
	case "u32", "i32", "f32":
		return 1, nil
	}
	if !strings.HasPrefix(t, "array<") || !strings.HasSuffix(t, ">") {
		return 0, fmt.Errorf("unsupported type %q", t)
	}
	inner := t[len("array<") : len(t)-1]

	depth, split := 0, -1
	for i, r := range inner {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				split = i
			}
		}
	}
	if split < 0 {
		return 0, fmt.Errorf("runtime-sized array %q in workgroup memory", t)
	}

	elem, err := m.typeWords(strings.TrimSpace(inner[:split]))
	if err != nil {
		return 0, err
	}
	n, err := m.resolve(inner[split+1:])
	if err != nil {
		return 0, err
	}
	return elem * n, nil
}

// CompileSPIRV compiles WGSL source to SPIR-V words.
func CompileSPIRV(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile shader: %w", err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V length %d is not a multiple of 4", len(spirvBytes))
	}

	// SPIR-V is little-endian 32-bit words
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}
